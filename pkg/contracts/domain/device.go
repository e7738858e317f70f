package domain

import (
	"strings"
	"time"
)

// Platform identifies the trading client a device runs
type Platform string

const (
	PlatformMT4     Platform = "mt4"
	PlatformMT5     Platform = "mt5"
	PlatformCTrader Platform = "ctrader"
	PlatformDesktop Platform = "desktop"
	PlatformUnknown Platform = "unknown"
)

// ParsePlatform lower-cases the input and maps anything outside the enum to PlatformUnknown.
func ParsePlatform(s string) Platform {
	switch p := Platform(strings.ToLower(strings.TrimSpace(s))); p {
	case PlatformMT4, PlatformMT5, PlatformCTrader, PlatformDesktop:
		return p
	default:
		return PlatformUnknown
	}
}

// Device is one physical installation bound to a license. At most License.MaxDevices
// rows per license are active at any instant.
type Device struct {
	ID            string     `json:"id" db:"id"`
	LicenseID     string     `json:"license_id" db:"license_id"`
	DeviceID      string     `json:"device_id" db:"device_id"`
	Platform      Platform   `json:"platform" db:"platform"`
	Version       string     `json:"version" db:"version"`
	AccountID     string     `json:"account_id,omitempty" db:"account_id"`
	Broker        string     `json:"broker,omitempty" db:"broker"`
	IPHash        string     `json:"-" db:"ip_hash"`
	Active        bool       `json:"is_active" db:"is_active"`
	FirstSeenAt   time.Time  `json:"first_seen_at" db:"first_seen_at"`
	LastSeenAt    time.Time  `json:"last_seen_at" db:"last_seen_at"`
	DeactivatedAt *time.Time `json:"deactivated_at,omitempty" db:"deactivated_at"`
}

// Session is a short-lived token bound to one (license, device) pair
type Session struct {
	ID              string         `json:"id" db:"id"`
	LicenseID       string         `json:"license_id" db:"license_id"`
	DeviceID        string         `json:"device_id" db:"device_id"`
	Token           string         `json:"token" db:"token"`
	IPHash          string         `json:"ip_hash,omitempty" db:"ip_hash"`
	Status          map[string]any `json:"status,omitempty" db:"-"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
	ExpiresAt       time.Time      `json:"expires_at" db:"expires_at"`
	LastHeartbeatAt time.Time      `json:"last_heartbeat_at" db:"last_heartbeat_at"`
}

// Expired reports whether the session is no longer valid at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Remaining returns the time left before expiry, never negative.
func (s *Session) Remaining(now time.Time) time.Duration {
	if d := s.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// ValidationLog is an append-only audit row written for every validation decision
// made after input checks.
type ValidationLog struct {
	ID           string    `json:"id" db:"id"`
	LicenseKey   string    `json:"license_key" db:"license_key"`
	DeviceID     string    `json:"device_id" db:"device_id"`
	Platform     Platform  `json:"platform" db:"platform"`
	IPHash       string    `json:"ip_hash,omitempty" db:"ip_hash"`
	Success      bool      `json:"success" db:"success"`
	ErrorCode    string    `json:"error_code,omitempty" db:"error_code"`
	ErrorMessage string    `json:"error_message,omitempty" db:"error_message"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}
