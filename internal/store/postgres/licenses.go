package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"

	"licenseapi/pkg/contracts/domain"
)

const licenseColumns = `id, license_key, email, plan, features, is_active, max_devices,
	expires_at, deactivated_at, created_at, updated_at`

type licenseRow struct {
	ID            string         `db:"id"`
	Key           string         `db:"license_key"`
	Email         string         `db:"email"`
	Plan          string         `db:"plan"`
	Features      pq.StringArray `db:"features"`
	Active        bool           `db:"is_active"`
	MaxDevices    int            `db:"max_devices"`
	ExpiresAt     *time.Time     `db:"expires_at"`
	DeactivatedAt *time.Time     `db:"deactivated_at"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

func (r *licenseRow) toDomain() *domain.License {
	features := []string(r.Features)
	if features == nil {
		features = []string{}
	}
	return &domain.License{
		ID:            r.ID,
		Key:           r.Key,
		Email:         r.Email,
		Plan:          r.Plan,
		Features:      features,
		Active:        r.Active,
		MaxDevices:    r.MaxDevices,
		ExpiresAt:     r.ExpiresAt,
		DeactivatedAt: r.DeactivatedAt,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

func (s *Store) GetLicenseByKey(ctx context.Context, key string) (*domain.License, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var row licenseRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+licenseColumns+` FROM licenses WHERE license_key = $1`,
		domain.NormalizeLicenseKey(key))
	if err != nil {
		return nil, notFound(err)
	}
	return row.toDomain(), nil
}

func (s *Store) GetLicenseByID(ctx context.Context, id string) (*domain.License, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var row licenseRow
	err := s.db.GetContext(ctx, &row, `SELECT `+licenseColumns+` FROM licenses WHERE id = $1`, id)
	if err != nil {
		return nil, notFound(err)
	}
	return row.toDomain(), nil
}

// SetLicenseActive flips the active flag. Reactivation clears deactivated_at and only
// overwrites expires_at when a new expiry is given.
func (s *Store) SetLicenseActive(ctx context.Context, key string, active bool, at time.Time, expiresAt *time.Time) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	key = domain.NormalizeLicenseKey(key)
	var query string
	var args []any
	if active {
		query = `UPDATE licenses
			SET is_active = TRUE, deactivated_at = NULL, updated_at = $2,
			    expires_at = COALESCE($3, expires_at)
			WHERE license_key = $1`
		args = []any{key, at, expiresAt}
	} else {
		query = `UPDATE licenses
			SET is_active = FALSE, deactivated_at = $2, updated_at = $2
			WHERE license_key = $1`
		args = []any{key, at}
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("update license state: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) Stats(ctx context.Context) (domain.LicenseStats, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var stats domain.LicenseStats
	err := s.db.GetContext(ctx, &stats, `SELECT
		(SELECT count(*) FROM licenses WHERE is_active) AS active_licenses,
		(SELECT count(*) FROM license_devices WHERE is_active) AS total_devices`)
	if err != nil {
		return stats, fmt.Errorf("read license stats: %w", err)
	}
	return stats, nil
}

// InsertLicense adds a license row. Licenses normally arrive through the billing
// integration; this is used by seeding and tests.
func (s *Store) InsertLicense(ctx context.Context, lic *domain.License) (*domain.License, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var row licenseRow
	err := s.db.GetContext(ctx, &row, `INSERT INTO licenses
		(license_key, email, plan, features, is_active, max_devices, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+licenseColumns,
		domain.NormalizeLicenseKey(lic.Key), lic.Email, lic.Plan, pq.StringArray(lic.Features),
		lic.Active, lic.MaxDevices, lic.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("insert license: %w", err)
	}
	return row.toDomain(), nil
}
