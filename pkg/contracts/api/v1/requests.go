// Package api contains the wire contract between trading agents and the license API.
// Version v1 is the only version; the unversioned routes serve the same contract.
package api

import (
	"strings"

	"licenseapi/pkg/contracts/domain"
)

// DefaultAgentVersion is recorded when an agent omits its version
const DefaultAgentVersion = "0.0.0"

// deviceIDUnknown is the placeholder older agents send when they cannot fingerprint the host
const deviceIDUnknown = "unknown"

// ValidateRequest asks whether a device may run under a license.
// Agents send camelCase; the desktop app sends snake_case. Call Normalize after decoding.
type ValidateRequest struct {
	LicenseKey   string `json:"licenseKey" validate:"omitempty,min=8,max=64"`
	DeviceID     string `json:"deviceId" validate:"omitempty,min=8,max=255"`
	Platform     string `json:"platform" validate:"omitempty,max=20"`
	AccountID    string `json:"accountId,omitempty" validate:"omitempty,max=100"`
	Broker       string `json:"broker,omitempty" validate:"omitempty,max=100"`
	Version      string `json:"version,omitempty" validate:"omitempty,max=20"`
	InstanceName string `json:"instance_name,omitempty" validate:"omitempty,max=255"`

	LicenseKeyAlt string `json:"license_key,omitempty" validate:"-"`
	DeviceIDAlt   string `json:"device_id,omitempty" validate:"-"`
	AccountIDAlt  string `json:"account_id,omitempty" validate:"-"`
}

// Normalize folds the snake_case aliases into the canonical fields, normalizes the
// key and platform, and applies defaults.
func (r *ValidateRequest) Normalize() {
	r.LicenseKey = domain.NormalizeLicenseKey(firstNonEmpty(r.LicenseKey, r.LicenseKeyAlt))
	r.DeviceID = normalizeDeviceID(firstNonEmpty(r.DeviceID, r.DeviceIDAlt))
	r.AccountID = strings.TrimSpace(firstNonEmpty(r.AccountID, r.AccountIDAlt))
	r.Broker = strings.TrimSpace(r.Broker)
	r.Platform = string(domain.ParsePlatform(r.Platform))
	r.Version = strings.TrimSpace(r.Version)
	if r.Version == "" {
		r.Version = DefaultAgentVersion
	}
	r.LicenseKeyAlt, r.DeviceIDAlt, r.AccountIDAlt = "", "", ""
}

// HeartbeatRequest keeps a session alive and may rotate its token
type HeartbeatRequest struct {
	Token    string         `json:"token" validate:"required,len=64"`
	DeviceID string         `json:"deviceId" validate:"required,min=8,max=255"`
	Status   map[string]any `json:"status,omitempty"`

	DeviceIDAlt string `json:"device_id,omitempty" validate:"-"`
}

// Normalize folds the snake_case device id alias into DeviceID.
func (r *HeartbeatRequest) Normalize() {
	r.Token = strings.TrimSpace(r.Token)
	r.DeviceID = strings.TrimSpace(firstNonEmpty(r.DeviceID, r.DeviceIDAlt))
	r.DeviceIDAlt = ""
}

// DeactivateRequest frees the device slot held by a device
type DeactivateRequest struct {
	LicenseKey string `json:"license_key" validate:"required,min=8,max=64"`
	DeviceID   string `json:"device_id" validate:"required,min=8,max=255"`

	LicenseKeyAlt string `json:"licenseKey,omitempty" validate:"-"`
	DeviceIDAlt   string `json:"deviceId,omitempty" validate:"-"`
}

// Normalize folds the camelCase aliases into the canonical fields.
func (r *DeactivateRequest) Normalize() {
	r.LicenseKey = domain.NormalizeLicenseKey(firstNonEmpty(r.LicenseKey, r.LicenseKeyAlt))
	r.DeviceID = strings.TrimSpace(firstNonEmpty(r.DeviceID, r.DeviceIDAlt))
	r.LicenseKeyAlt, r.DeviceIDAlt = "", ""
}

// RevokeDeviceRequest is the admin variant of DeactivateRequest
type RevokeDeviceRequest struct {
	LicenseKey string `json:"licenseKey" validate:"required,min=8,max=64"`
	DeviceID   string `json:"deviceId" validate:"required,min=8,max=255"`
}

// Normalize upper-cases the license key.
func (r *RevokeDeviceRequest) Normalize() {
	r.LicenseKey = domain.NormalizeLicenseKey(r.LicenseKey)
	r.DeviceID = strings.TrimSpace(r.DeviceID)
}

func normalizeDeviceID(id string) string {
	id = strings.TrimSpace(id)
	if id == deviceIDUnknown {
		return ""
	}
	return id
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
