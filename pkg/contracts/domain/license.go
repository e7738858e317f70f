// Package domain contains the core domain models for the license API.
// These types serve as the Single Source of Truth (SSOT) for the store, service and transport layers.
package domain

import (
	"strings"
	"time"
)

// DefaultPlan is reported when a license row carries no plan tier
const DefaultPlan = "demo"

// License is a purchased entitlement. Rows are created by the billing integration
// and only mutated here by webhook events.
type License struct {
	ID            string     `json:"id" db:"id"`
	Key           string     `json:"license_key" db:"license_key" validate:"required,min=8,max=64"`
	Email         string     `json:"email,omitempty" db:"email"`
	Plan          string     `json:"plan" db:"plan"`
	Features      []string   `json:"features" db:"features"`
	Active        bool       `json:"is_active" db:"is_active"`
	MaxDevices    int        `json:"max_devices" db:"max_devices" validate:"min=1"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	DeactivatedAt *time.Time `json:"deactivated_at,omitempty" db:"deactivated_at"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

// Expired reports whether the license has reached its expiry at now.
// A license without an expiry never expires.
func (l *License) Expired(now time.Time) bool {
	return l.ExpiresAt != nil && !now.Before(*l.ExpiresAt)
}

// PlanOrDefault returns the plan tier, falling back to DefaultPlan.
func (l *License) PlanOrDefault() string {
	if l.Plan == "" {
		return DefaultPlan
	}
	return l.Plan
}

// NormalizeLicenseKey upper-cases and trims a license key.
func NormalizeLicenseKey(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}

// LicenseStats holds aggregate counts reported by the status endpoint
type LicenseStats struct {
	ActiveLicenses int `json:"activeLicenses" db:"active_licenses"`
	TotalDevices   int `json:"totalDevices" db:"total_devices"`
}
