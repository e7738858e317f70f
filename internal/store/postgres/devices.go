package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"licenseapi/internal/store"
	"licenseapi/pkg/contracts/domain"
)

const deviceColumns = `id, license_id, device_id, platform, version, account_id, broker, ip_hash,
	is_active, first_seen_at, last_seen_at, deactivated_at`

func (s *Store) GetActiveDevice(ctx context.Context, licenseID, deviceID string) (*domain.Device, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var d domain.Device
	err := s.db.GetContext(ctx, &d, `SELECT `+deviceColumns+` FROM license_devices
		WHERE license_id = $1 AND device_id = $2 AND is_active`, licenseID, deviceID)
	if err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

// RegisterDevice refreshes the active row for the pair or admits a new one when a
// slot is free. A transaction-scoped advisory lock on the license serializes
// concurrent registrations so the count and insert cannot interleave.
func (s *Store) RegisterDevice(ctx context.Context, d *domain.Device, maxDevices int) (*store.RegisterResult, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var result *store.RegisterResult
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, d.LicenseID); err != nil {
			return fmt.Errorf("acquire license lock: %w", err)
		}

		var existing domain.Device
		err := tx.GetContext(ctx, &existing, `UPDATE license_devices
			SET platform = $3, version = $4, account_id = $5, broker = $6, ip_hash = $7, last_seen_at = $8
			WHERE license_id = $1 AND device_id = $2 AND is_active
			RETURNING `+deviceColumns,
			d.LicenseID, d.DeviceID, d.Platform, d.Version, d.AccountID, d.Broker, d.IPHash, d.LastSeenAt)
		switch notFound(err) {
		case nil:
			count, err := countActive(ctx, tx, d.LicenseID)
			if err != nil {
				return err
			}
			result = &store.RegisterResult{Device: &existing, ActiveCount: count}
			return nil
		case store.ErrNotFound:
		default:
			return fmt.Errorf("refresh device: %w", err)
		}

		count, err := countActive(ctx, tx, d.LicenseID)
		if err != nil {
			return err
		}
		if count >= maxDevices {
			return &store.DeviceLimitError{Used: count, Max: maxDevices}
		}

		firstSeen := d.FirstSeenAt
		if firstSeen.IsZero() {
			firstSeen = d.LastSeenAt
		}
		var created domain.Device
		err = tx.GetContext(ctx, &created, `INSERT INTO license_devices
			(license_id, device_id, platform, version, account_id, broker, ip_hash, is_active, first_seen_at, last_seen_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, $8, $9)
			RETURNING `+deviceColumns,
			d.LicenseID, d.DeviceID, d.Platform, d.Version, d.AccountID, d.Broker, d.IPHash, firstSeen, d.LastSeenAt)
		if err != nil {
			return fmt.Errorf("insert device: %w", err)
		}
		result = &store.RegisterResult{Device: &created, ActiveCount: count + 1, Created: true}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func countActive(ctx context.Context, q sqlx.QueryerContext, licenseID string) (int, error) {
	var count int
	if err := sqlx.GetContext(ctx, q, &count,
		`SELECT count(*) FROM license_devices WHERE license_id = $1 AND is_active`, licenseID); err != nil {
		return 0, fmt.Errorf("count active devices: %w", err)
	}
	return count, nil
}

func (s *Store) TouchDevice(ctx context.Context, licenseID, deviceID string, at time.Time) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `UPDATE license_devices SET last_seen_at = $3
		WHERE license_id = $1 AND device_id = $2 AND is_active`, licenseID, deviceID, at)
	if err != nil {
		return fmt.Errorf("touch device: %w", err)
	}
	return nil
}

func (s *Store) CountActiveDevices(ctx context.Context, licenseID string) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return countActive(ctx, s.db, licenseID)
}

func (s *Store) DeactivateDevice(ctx context.Context, licenseID, deviceID string, at time.Time) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `UPDATE license_devices SET is_active = FALSE, deactivated_at = $3
		WHERE license_id = $1 AND device_id = $2 AND is_active`, licenseID, deviceID, at)
	if err != nil {
		return fmt.Errorf("deactivate device: %w", err)
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

func (s *Store) ListDevices(ctx context.Context, licenseID string) ([]domain.Device, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	devices := make([]domain.Device, 0)
	err := s.db.SelectContext(ctx, &devices, `SELECT `+deviceColumns+` FROM license_devices
		WHERE license_id = $1 ORDER BY last_seen_at DESC`, licenseID)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	return devices, nil
}
