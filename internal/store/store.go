// Package store defines the record store gateway: typed access to licenses, devices,
// sessions and the validation audit log. Implementations live in sub-packages.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"licenseapi/pkg/contracts/domain"
)

var (
	// ErrNotFound is returned when a requested row does not exist
	ErrNotFound = errors.New("record not found")

	// ErrDeviceLimit matches every *DeviceLimitError
	ErrDeviceLimit = errors.New("device limit reached")
)

// DeviceLimitError reports a refused device registration with the slot counts
// observed under the registration lock
type DeviceLimitError struct {
	Used int
	Max  int
}

func (e *DeviceLimitError) Error() string {
	return fmt.Sprintf("device limit reached (%d/%d)", e.Used, e.Max)
}

// Is lets errors.Is(err, ErrDeviceLimit) match
func (e *DeviceLimitError) Is(target error) bool {
	return target == ErrDeviceLimit
}

// RegisterResult describes the outcome of RegisterDevice
type RegisterResult struct {
	Device      *domain.Device
	ActiveCount int
	// Created is false when the device already held a slot and was only refreshed
	Created bool
}

// LicenseStore reads licenses and applies billing lifecycle changes
type LicenseStore interface {
	GetLicenseByKey(ctx context.Context, key string) (*domain.License, error)
	GetLicenseByID(ctx context.Context, id string) (*domain.License, error)
	// SetLicenseActive flips the active flag. Deactivation stamps deactivated_at with at;
	// reactivation clears it and replaces the expiry when expiresAt is non-nil.
	// It returns the number of rows changed, zero for an unknown key.
	SetLicenseActive(ctx context.Context, key string, active bool, at time.Time, expiresAt *time.Time) (int64, error)
	Stats(ctx context.Context) (domain.LicenseStats, error)
}

// DeviceStore manages device slots
type DeviceStore interface {
	GetActiveDevice(ctx context.Context, licenseID, deviceID string) (*domain.Device, error)
	// RegisterDevice refreshes the pair's active row or inserts a new one if fewer than
	// maxDevices are active. Check, count and insert happen atomically; a full license
	// yields a *DeviceLimitError.
	RegisterDevice(ctx context.Context, d *domain.Device, maxDevices int) (*RegisterResult, error)
	TouchDevice(ctx context.Context, licenseID, deviceID string, at time.Time) error
	CountActiveDevices(ctx context.Context, licenseID string) (int, error)
	// DeactivateDevice returns ErrNotFound when the pair holds no active slot
	DeactivateDevice(ctx context.Context, licenseID, deviceID string, at time.Time) error
	ListDevices(ctx context.Context, licenseID string) ([]domain.Device, error)
}

// SessionStore manages session tokens
type SessionStore interface {
	CreateSession(ctx context.Context, s *domain.Session) error
	// GetSession looks a session up by token and the device it was issued to
	GetSession(ctx context.Context, token, deviceID string) (*domain.Session, error)
	// UpdateSession rewrites the session stored under oldToken, which may differ from
	// s.Token when the token rotates
	UpdateSession(ctx context.Context, oldToken string, s *domain.Session) error
	DeleteSession(ctx context.Context, token string) error
	DeleteDeviceSessions(ctx context.Context, licenseID, deviceID string) (int64, error)
	// DeleteExpiredSessions removes sessions with expires_at <= now
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

// LogStore appends to the validation audit log
type LogStore interface {
	AppendValidationLog(ctx context.Context, entry *domain.ValidationLog) error
}

// SessionBackend is a standalone session store such as Redis
type SessionBackend interface {
	SessionStore
	Ping(ctx context.Context) error
	Close() error
}

// Gateway is the full record store used by the service
type Gateway interface {
	LicenseStore
	DeviceStore
	SessionStore
	LogStore
	Ping(ctx context.Context) error
	Close() error
}
