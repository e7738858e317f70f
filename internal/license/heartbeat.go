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

// Heartbeat keeps a session alive. Sessions close to expiry get a new token with
// a full TTL; the old token stops working immediately.
func (s *Service) Heartbeat(ctx context.Context, req *api.HeartbeatRequest, clientIP string) (*api.HeartbeatResponse, error) {
	ctx, span := s.tracer.Start(ctx, "license.heartbeat")
	defer span.End()

	resp, err := s.heartbeat(ctx, req, clientIP)

	outcome := OutcomeSuccess
	if err != nil {
		outcome = s.codeOf(err)
	}
	s.metrics.Heartbeats.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	return resp, err
}

func (s *Service) heartbeat(ctx context.Context, req *api.HeartbeatRequest, clientIP string) (*api.HeartbeatResponse, error) {
	sess, err := s.store.GetSession(ctx, req.Token, req.DeviceID)
	if errors.Is(err, store.ErrNotFound) {
		s.logger.WarnContext(ctx, "heartbeat with unknown session", slog.String("token_prefix", req.Token[:min(len(req.Token), 16)]))
		return nil, apierrors.ErrInvalidSession
	}
	if err != nil {
		return nil, apierrors.NewStorageError("load session", err)
	}

	now := s.clock.Now().UTC()
	if sess.Expired(now) {
		if err := s.store.DeleteSession(ctx, sess.Token); err != nil {
			s.logger.ErrorContext(ctx, "failed to delete expired session", slog.String("error", err.Error()))
		}
		return nil, apierrors.ErrSessionExpired
	}

	oldToken := sess.Token
	sess.LastHeartbeatAt = now
	if ipHash := s.hasher.HashIP(clientIP); ipHash != "" {
		sess.IPHash = ipHash
	}
	if req.Status != nil {
		sess.Status = req.Status
	}

	remaining := sess.Remaining(now)
	resp := &api.HeartbeatResponse{Valid: true, TTLSeconds: int(remaining.Seconds())}

	if remaining < s.refreshThreshold {
		lic, err := s.store.GetLicenseByID(ctx, sess.LicenseID)
		switch {
		case err == nil && (!lic.Active || lic.Expired(now)):
			return nil, s.refuseRotation(ctx, sess, lic)
		case err == nil:
			token, err := GenerateToken(lic.Key, req.DeviceID, now)
			if err != nil {
				return nil, err
			}
			sess.Token = token
			sess.ExpiresAt = now.Add(s.tokenTTL)
			resp.NewToken = token
			resp.TTLSeconds = int(s.tokenTTL.Seconds())
		case errors.Is(err, store.ErrNotFound):
			s.logger.WarnContext(ctx, "session references a missing license", slog.String("license_id", sess.LicenseID))
		default:
			return nil, apierrors.NewStorageError("load license for rotation", err)
		}
	}

	if err := s.store.UpdateSession(ctx, oldToken, sess); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Reaped or deactivated between the read and the write
			return nil, apierrors.ErrInvalidSession
		}
		return nil, apierrors.NewStorageError("update session", err)
	}

	if err := s.store.TouchDevice(ctx, sess.LicenseID, req.DeviceID, now); err != nil {
		s.logger.WarnContext(ctx, "failed to refresh device last seen", slog.String("error", err.Error()))
	}

	if resp.NewToken != "" {
		s.metrics.TokenRotations.Add(ctx, 1)
		s.logger.InfoContext(ctx, "session token rotated", slog.String("license_id", sess.LicenseID))
	}
	return resp, nil
}

// refuseRotation ends a session whose license no longer authorizes it. The device
// has to validate again, which reports the license state.
func (s *Service) refuseRotation(ctx context.Context, sess *domain.Session, lic *domain.License) error {
	if err := s.store.DeleteSession(ctx, sess.Token); err != nil {
		s.logger.ErrorContext(ctx, "failed to delete session of revoked license", slog.String("error", err.Error()))
	}
	if !lic.Active {
		s.logger.InfoContext(ctx, "rotation refused for inactive license", slog.String("license_id", lic.ID))
		return apierrors.ErrInactive
	}
	s.logger.InfoContext(ctx, "rotation refused for expired license", slog.String("license_id", lic.ID))
	return apierrors.ErrExpired.WithExtension(apierrors.ExtExpiresAt, lic.ExpiresAt.UTC())
}
