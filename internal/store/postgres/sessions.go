package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"licenseapi/internal/store"
	"licenseapi/pkg/contracts/domain"
)

const sessionColumns = `id, license_id, device_id, token, ip_hash, status, created_at, expires_at, last_heartbeat_at`

type sessionRow struct {
	ID              string    `db:"id"`
	LicenseID       string    `db:"license_id"`
	DeviceID        string    `db:"device_id"`
	Token           string    `db:"token"`
	IPHash          string    `db:"ip_hash"`
	Status          []byte    `db:"status"`
	CreatedAt       time.Time `db:"created_at"`
	ExpiresAt       time.Time `db:"expires_at"`
	LastHeartbeatAt time.Time `db:"last_heartbeat_at"`
}

func (r *sessionRow) toDomain() (*domain.Session, error) {
	s := &domain.Session{
		ID:              r.ID,
		LicenseID:       r.LicenseID,
		DeviceID:        r.DeviceID,
		Token:           r.Token,
		IPHash:          r.IPHash,
		CreatedAt:       r.CreatedAt,
		ExpiresAt:       r.ExpiresAt,
		LastHeartbeatAt: r.LastHeartbeatAt,
	}
	if len(r.Status) > 0 {
		if err := json.Unmarshal(r.Status, &s.Status); err != nil {
			return nil, fmt.Errorf("decode session status: %w", err)
		}
	}
	return s, nil
}

func encodeStatus(status map[string]any) ([]byte, error) {
	if status == nil {
		return nil, nil
	}
	b, err := json.Marshal(status)
	if err != nil {
		return nil, fmt.Errorf("encode session status: %w", err)
	}
	return b, nil
}

func (s *Store) CreateSession(ctx context.Context, sess *domain.Session) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	status, err := encodeStatus(sess.Status)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO license_sessions
		(license_id, device_id, token, ip_hash, status, created_at, expires_at, last_heartbeat_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sess.LicenseID, sess.DeviceID, sess.Token, sess.IPHash, status,
		sess.CreatedAt, sess.ExpiresAt, sess.LastHeartbeatAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, token, deviceID string) (*domain.Session, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var row sessionRow
	err := s.db.GetContext(ctx, &row, `SELECT `+sessionColumns+` FROM license_sessions
		WHERE token = $1 AND device_id = $2`, token, deviceID)
	if err != nil {
		return nil, notFound(err)
	}
	return row.toDomain()
}

// UpdateSession rewrites the row identified by oldToken, including a rotated token
func (s *Store) UpdateSession(ctx context.Context, oldToken string, sess *domain.Session) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	status, err := encodeStatus(sess.Status)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE license_sessions
		SET token = $2, ip_hash = $3, status = $4, expires_at = $5, last_heartbeat_at = $6
		WHERE token = $1`,
		oldToken, sess.Token, sess.IPHash, status, sess.ExpiresAt, sess.LastHeartbeatAt)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, token string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM license_sessions WHERE token = $1`, token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *Store) DeleteDeviceSessions(ctx context.Context, licenseID, deviceID string) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `DELETE FROM license_sessions
		WHERE license_id = $1 AND device_id = $2`, licenseID, deviceID)
	if err != nil {
		return 0, fmt.Errorf("delete device sessions: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `DELETE FROM license_sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return res.RowsAffected()
}
