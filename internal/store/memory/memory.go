// Package memory is an in-process record store for development and tests.
// All state lives behind one mutex, which also makes RegisterDevice atomic.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"licenseapi/internal/store"
	"licenseapi/pkg/contracts/domain"
)

// Store implements store.Gateway in memory
type Store struct {
	mu       sync.RWMutex
	licenses map[string]*domain.License // by id
	byKey    map[string]string          // license key -> id
	devices  map[string]*domain.Device  // by row id
	sessions map[string]*domain.Session // by token
	logs     []domain.ValidationLog
	now      func() time.Time
}

var _ store.Gateway = (*Store)(nil)

// New creates an empty store
func New() *Store {
	return &Store{
		licenses: make(map[string]*domain.License),
		byKey:    make(map[string]string),
		devices:  make(map[string]*domain.Device),
		sessions: make(map[string]*domain.Session),
		now:      time.Now,
	}
}

// PutLicense inserts or replaces a license. Missing ids are generated.
func (s *Store) PutLicense(lic *domain.License) *domain.License {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := copyLicense(lic)
	cp.Key = domain.NormalizeLicenseKey(cp.Key)
	if existing, ok := s.byKey[cp.Key]; ok && cp.ID == "" {
		cp.ID = existing
	}
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.now().UTC()
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = cp.CreatedAt
	}
	s.licenses[cp.ID] = cp
	s.byKey[cp.Key] = cp.ID
	return copyLicense(cp)
}

// ValidationLogs returns a snapshot of the audit log
func (s *Store) ValidationLogs() []domain.ValidationLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.ValidationLog(nil), s.logs...)
}

// SessionCount returns the number of stored sessions
func (s *Store) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Store) GetLicenseByKey(_ context.Context, key string) (*domain.License, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byKey[domain.NormalizeLicenseKey(key)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyLicense(s.licenses[id]), nil
}

func (s *Store) GetLicenseByID(_ context.Context, id string) (*domain.License, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lic, ok := s.licenses[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyLicense(lic), nil
}

func (s *Store) SetLicenseActive(_ context.Context, key string, active bool, at time.Time, expiresAt *time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byKey[domain.NormalizeLicenseKey(key)]
	if !ok {
		return 0, nil
	}
	lic := s.licenses[id]
	lic.Active = active
	lic.UpdatedAt = at
	if active {
		lic.DeactivatedAt = nil
		if expiresAt != nil {
			exp := *expiresAt
			lic.ExpiresAt = &exp
		}
	} else {
		deactivated := at
		lic.DeactivatedAt = &deactivated
	}
	return 1, nil
}

func (s *Store) Stats(_ context.Context) (domain.LicenseStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats domain.LicenseStats
	for _, lic := range s.licenses {
		if lic.Active {
			stats.ActiveLicenses++
		}
	}
	for _, d := range s.devices {
		if d.Active {
			stats.TotalDevices++
		}
	}
	return stats, nil
}

func (s *Store) GetActiveDevice(_ context.Context, licenseID, deviceID string) (*domain.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d := s.activeDeviceLocked(licenseID, deviceID)
	if d == nil {
		return nil, store.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *Store) RegisterDevice(_ context.Context, d *domain.Device, maxDevices int) (*store.RegisterResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing := s.activeDeviceLocked(d.LicenseID, d.DeviceID); existing != nil {
		existing.Platform = d.Platform
		existing.Version = d.Version
		existing.AccountID = d.AccountID
		existing.Broker = d.Broker
		existing.IPHash = d.IPHash
		existing.LastSeenAt = d.LastSeenAt
		cp := *existing
		return &store.RegisterResult{Device: &cp, ActiveCount: s.countActiveLocked(d.LicenseID)}, nil
	}

	active := s.countActiveLocked(d.LicenseID)
	if active >= maxDevices {
		return nil, &store.DeviceLimitError{Used: active, Max: maxDevices}
	}

	row := *d
	row.ID = uuid.NewString()
	row.Active = true
	row.DeactivatedAt = nil
	if row.FirstSeenAt.IsZero() {
		row.FirstSeenAt = row.LastSeenAt
	}
	s.devices[row.ID] = &row

	cp := row
	return &store.RegisterResult{Device: &cp, ActiveCount: active + 1, Created: true}, nil
}

func (s *Store) TouchDevice(_ context.Context, licenseID, deviceID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range s.devices {
		if d.LicenseID == licenseID && d.DeviceID == deviceID {
			d.LastSeenAt = at
		}
	}
	return nil
}

func (s *Store) CountActiveDevices(_ context.Context, licenseID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countActiveLocked(licenseID), nil
}

func (s *Store) DeactivateDevice(_ context.Context, licenseID, deviceID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.activeDeviceLocked(licenseID, deviceID)
	if d == nil {
		return store.ErrNotFound
	}
	d.Active = false
	deactivated := at
	d.DeactivatedAt = &deactivated
	return nil
}

func (s *Store) ListDevices(_ context.Context, licenseID string) ([]domain.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	devices := make([]domain.Device, 0)
	for _, d := range s.devices {
		if d.LicenseID == licenseID {
			devices = append(devices, *d)
		}
	}
	sort.Slice(devices, func(i, j int) bool {
		return devices[i].LastSeenAt.After(devices[j].LastSeenAt)
	})
	return devices, nil
}

func (s *Store) CreateSession(_ context.Context, sess *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := copySession(sess)
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	s.sessions[cp.Token] = cp
	return nil
}

func (s *Store) GetSession(_ context.Context, token, deviceID string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[token]
	if !ok || sess.DeviceID != deviceID {
		return nil, store.ErrNotFound
	}
	return copySession(sess), nil
}

func (s *Store) UpdateSession(_ context.Context, oldToken string, sess *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[oldToken]; !ok {
		return store.ErrNotFound
	}
	delete(s.sessions, oldToken)
	s.sessions[sess.Token] = copySession(sess)
	return nil
}

func (s *Store) DeleteSession(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
	return nil
}

func (s *Store) DeleteDeviceSessions(_ context.Context, licenseID, deviceID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for token, sess := range s.sessions {
		if sess.LicenseID == licenseID && sess.DeviceID == deviceID {
			delete(s.sessions, token)
			removed++
		}
	}
	return removed, nil
}

func (s *Store) DeleteExpiredSessions(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for token, sess := range s.sessions {
		if !sess.ExpiresAt.After(now) {
			delete(s.sessions, token)
			removed++
		}
	}
	return removed, nil
}

func (s *Store) AppendValidationLog(_ context.Context, entry *domain.ValidationLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *entry
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	s.logs = append(s.logs, cp)
	return nil
}

// Ping always succeeds
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op
func (s *Store) Close() error { return nil }

func (s *Store) activeDeviceLocked(licenseID, deviceID string) *domain.Device {
	for _, d := range s.devices {
		if d.Active && d.LicenseID == licenseID && d.DeviceID == deviceID {
			return d
		}
	}
	return nil
}

func (s *Store) countActiveLocked(licenseID string) int {
	n := 0
	for _, d := range s.devices {
		if d.Active && d.LicenseID == licenseID {
			n++
		}
	}
	return n
}

func copyLicense(l *domain.License) *domain.License {
	cp := *l
	cp.Features = append([]string(nil), l.Features...)
	if l.ExpiresAt != nil {
		exp := *l.ExpiresAt
		cp.ExpiresAt = &exp
	}
	if l.DeactivatedAt != nil {
		d := *l.DeactivatedAt
		cp.DeactivatedAt = &d
	}
	return &cp
}

func copySession(s *domain.Session) *domain.Session {
	cp := *s
	if s.Status != nil {
		cp.Status = make(map[string]any, len(s.Status))
		for k, v := range s.Status {
			cp.Status[k] = v
		}
	}
	return &cp
}
