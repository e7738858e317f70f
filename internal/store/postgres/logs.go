package postgres

import (
	"context"
	"fmt"

	"licenseapi/pkg/contracts/domain"
)

func (s *Store) AppendValidationLog(ctx context.Context, entry *domain.ValidationLog) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.db.NamedExecContext(ctx, `INSERT INTO license_validation_logs
		(license_key, device_id, platform, ip_hash, success, error_code, error_message, created_at)
		VALUES (:license_key, :device_id, :platform, :ip_hash, :success, :error_code, :error_message, :created_at)`,
		entry)
	if err != nil {
		return fmt.Errorf("append validation log: %w", err)
	}
	return nil
}
