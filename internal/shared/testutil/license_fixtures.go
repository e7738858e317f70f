package testutil

import (
	"time"

	"licenseapi/pkg/contracts/domain"
)

// FixedNow is the reference instant used by fixtures and mock clocks
var FixedNow = time.Date(2025, time.March, 14, 12, 0, 0, 0, time.UTC)

// ActiveLicense returns an active license expiring 30 days after FixedNow
func ActiveLicense(key string, maxDevices int) *domain.License {
	expires := FixedNow.Add(30 * 24 * time.Hour)
	return &domain.License{
		Key:        domain.NormalizeLicenseKey(key),
		Email:      "trader@example.com",
		Plan:       "pro",
		Features:   []string{"copier", "risk-guard"},
		Active:     true,
		MaxDevices: maxDevices,
		ExpiresAt:  &expires,
		CreatedAt:  FixedNow.Add(-24 * time.Hour),
		UpdatedAt:  FixedNow.Add(-24 * time.Hour),
	}
}

// ExpiredLicense returns an active license whose expiry is before FixedNow
func ExpiredLicense(key string) *domain.License {
	lic := ActiveLicense(key, 1)
	expired := FixedNow.Add(-time.Hour)
	lic.ExpiresAt = &expired
	return lic
}

// InactiveLicense returns a license switched off by a billing event
func InactiveLicense(key string) *domain.License {
	lic := ActiveLicense(key, 1)
	lic.Active = false
	deactivated := FixedNow.Add(-2 * time.Hour)
	lic.DeactivatedAt = &deactivated
	return lic
}

// Device returns an active device row for the given license
func Device(licenseID, deviceID string) *domain.Device {
	return &domain.Device{
		LicenseID:   licenseID,
		DeviceID:    deviceID,
		Platform:    domain.PlatformMT5,
		Version:     "2.4.1",
		Active:      true,
		FirstSeenAt: FixedNow,
		LastSeenAt:  FixedNow,
	}
}
