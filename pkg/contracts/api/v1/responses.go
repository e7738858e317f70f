package api

import (
	"time"

	"licenseapi/pkg/contracts/domain"
)

// ValidateResponse is returned when a device is authorized to run
type ValidateResponse struct {
	Valid       bool       `json:"valid"`
	Token       string     `json:"token"`
	TTLSeconds  int        `json:"ttlSeconds"`
	Plan        string     `json:"plan"`
	Features    []string   `json:"features"`
	ExpiresAt   *time.Time `json:"expiresAt"`
	Email       string     `json:"email,omitempty"`
	DevicesUsed int        `json:"devicesUsed"`
	MaxDevices  int        `json:"maxDevices"`
	ServerTime  int64      `json:"serverTime"`
}

// HeartbeatResponse carries the remaining TTL and a rotated token when one was issued
type HeartbeatResponse struct {
	Valid      bool   `json:"valid"`
	NewToken   string `json:"newToken,omitempty"`
	TTLSeconds int    `json:"ttlSeconds"`
}

// DeactivateResponse reports the slots still in use after a deactivation
type DeactivateResponse struct {
	Success          bool `json:"success"`
	DevicesRemaining int  `json:"devicesRemaining"`
}

// WebhookResponse is always sent with HTTP 200 once the signature checks out
type WebhookResponse struct {
	Received  bool   `json:"received"`
	Processed bool   `json:"processed"`
	Action    string `json:"action,omitempty"`
	Affected  *int64 `json:"affected,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Error     string `json:"error,omitempty"`
}

// HealthResponse is the liveness probe payload
type HealthResponse struct {
	Status     string    `json:"status"`
	Timestamp  time.Time `json:"timestamp"`
	ServerTime int64     `json:"serverTime"`
	Version    string    `json:"version"`
}

// StatusResponse reports aggregate license counts. Counts are omitted when degraded.
type StatusResponse struct {
	Status         string    `json:"status"`
	Timestamp      time.Time `json:"timestamp"`
	Version        string    `json:"version"`
	ActiveLicenses *int      `json:"activeLicenses,omitempty"`
	TotalDevices   *int      `json:"totalDevices,omitempty"`
}

// DeviceListResponse lists the devices registered to a license
type DeviceListResponse struct {
	LicenseKey  string          `json:"licenseKey"`
	MaxDevices  int             `json:"maxDevices"`
	ActiveCount int             `json:"activeCount"`
	Devices     []domain.Device `json:"devices"`
}

// RevokeDeviceResponse reports an admin revocation
type RevokeDeviceResponse struct {
	Revoked          bool  `json:"revoked"`
	SessionsRemoved  int64 `json:"sessionsRemoved"`
	DevicesRemaining int   `json:"devicesRemaining"`
}
