package license

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	apierrors "licenseapi/internal/errors"
	"licenseapi/internal/store"
	api "licenseapi/pkg/contracts/api/v1"
	"licenseapi/pkg/contracts/domain"
)

// Deactivate frees the slot held by a device and ends its sessions
func (s *Service) Deactivate(ctx context.Context, req *api.DeactivateRequest) (*api.DeactivateResponse, error) {
	ctx, span := s.tracer.Start(ctx, "license.deactivate")
	defer span.End()

	removed, remaining, err := s.releaseDevice(ctx, req.LicenseKey, req.DeviceID, "agent")
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "device deactivated",
		slog.String("license_key", maskKey(req.LicenseKey)),
		slog.Int64("sessions_removed", removed),
		slog.Int("devices_remaining", remaining))
	return &api.DeactivateResponse{Success: true, DevicesRemaining: remaining}, nil
}

// RevokeDevice is the administrative form of Deactivate
func (s *Service) RevokeDevice(ctx context.Context, req *api.RevokeDeviceRequest) (*api.RevokeDeviceResponse, error) {
	ctx, span := s.tracer.Start(ctx, "license.revoke_device")
	defer span.End()

	removed, remaining, err := s.releaseDevice(ctx, req.LicenseKey, req.DeviceID, "admin")
	if err != nil {
		return nil, err
	}

	s.logger.WarnContext(ctx, "device revoked by administrator",
		slog.String("license_key", maskKey(req.LicenseKey)),
		slog.Int64("sessions_removed", removed))
	return &api.RevokeDeviceResponse{Revoked: true, SessionsRemoved: removed, DevicesRemaining: remaining}, nil
}

func (s *Service) releaseDevice(ctx context.Context, licenseKey, deviceID, initiator string) (int64, int, error) {
	lic, err := s.store.GetLicenseByKey(ctx, licenseKey)
	if errors.Is(err, store.ErrNotFound) {
		return 0, 0, apierrors.ErrInvalidKey
	}
	if err != nil {
		return 0, 0, apierrors.NewStorageError("load license", err)
	}

	now := s.clock.Now().UTC()
	err = s.store.DeactivateDevice(ctx, lic.ID, deviceID, now)
	if errors.Is(err, store.ErrNotFound) {
		return 0, 0, apierrors.ErrDeviceNotFound
	}
	if err != nil {
		return 0, 0, apierrors.NewStorageError("deactivate device", err)
	}

	removed, err := s.store.DeleteDeviceSessions(ctx, lic.ID, deviceID)
	if err != nil {
		return 0, 0, apierrors.NewStorageError("delete device sessions", err)
	}

	remaining, err := s.store.CountActiveDevices(ctx, lic.ID)
	if err != nil {
		return 0, 0, apierrors.NewStorageError("count active devices", err)
	}

	s.metrics.Deactivations.Add(ctx, 1, metric.WithAttributes(attribute.String("initiator", initiator)))
	return removed, remaining, nil
}

// ListDevices returns every device ever registered to the license, newest first
func (s *Service) ListDevices(ctx context.Context, licenseKey string) (*api.DeviceListResponse, error) {
	lic, err := s.store.GetLicenseByKey(ctx, licenseKey)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apierrors.ErrNotFound
	}
	if err != nil {
		return nil, apierrors.NewStorageError("load license", err)
	}

	devices, err := s.store.ListDevices(ctx, lic.ID)
	if err != nil {
		return nil, apierrors.NewStorageError("list devices", err)
	}

	active := 0
	for _, d := range devices {
		if d.Active {
			active++
		}
	}
	if devices == nil {
		devices = []domain.Device{}
	}
	return &api.DeviceListResponse{
		LicenseKey:  lic.Key,
		MaxDevices:  lic.MaxDevices,
		ActiveCount: active,
		Devices:     devices,
	}, nil
}
