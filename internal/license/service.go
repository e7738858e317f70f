package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/coder/quartz"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"licenseapi/internal/billing"
	"licenseapi/internal/config"
	apierrors "licenseapi/internal/errors"
	"licenseapi/internal/infrastructure"
	"licenseapi/internal/store"
	api "licenseapi/pkg/contracts/api/v1"
	"licenseapi/pkg/contracts/domain"
)

// Service runs license validation, heartbeats and device deactivation.
// Refusals are returned as *apierrors.APIError carrying the stable wire code.
type Service struct {
	store            store.Gateway
	billing          billing.Checker
	hasher           *Pseudonymizer
	clock            quartz.Clock
	tokenTTL         time.Duration
	refreshThreshold time.Duration
	logger           *slog.Logger
	tracer           trace.Tracer
	metrics          *Metrics
}

// NewService wires the validation pipeline
func NewService(
	gw store.Gateway,
	checker billing.Checker,
	hasher *Pseudonymizer,
	clock quartz.Clock,
	cfg config.LicenseConfig,
	metrics *Metrics,
	providers *infrastructure.OTelProviders,
) *Service {
	return &Service{
		store:            gw,
		billing:          checker,
		hasher:           hasher,
		clock:            clock,
		tokenTTL:         cfg.TokenTTL(),
		refreshThreshold: cfg.RefreshThreshold(),
		logger:           infrastructure.WithComponent(providers.Logger, "license_service"),
		tracer:           providers.Tracer,
		metrics:          metrics,
	}
}

// Validate decides whether the device may run under the license and issues a session
func (s *Service) Validate(ctx context.Context, req *api.ValidateRequest, clientIP string) (*api.ValidateResponse, error) {
	if req.LicenseKey == "" {
		return nil, apierrors.ErrMissingKey
	}
	if req.DeviceID == "" {
		return nil, apierrors.ErrMissingDevice
	}

	ctx, span := s.tracer.Start(ctx, "license.validate", trace.WithAttributes(
		attribute.String("license.key", maskKey(req.LicenseKey)),
		attribute.String("device.platform", req.Platform),
	))
	defer span.End()

	start := s.clock.Now()
	v := &validation{
		req:    req,
		ipHash: s.hasher.HashIP(clientIP),
	}

	resp, err := s.validate(ctx, v)

	outcome := OutcomeSuccess
	if err != nil {
		outcome = s.codeOf(err)
		infrastructure.RecordError(ctx, err)
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	s.metrics.Validations.Add(ctx, 1, attrs)
	s.metrics.ValidationDuration.Record(ctx, s.clock.Since(start).Seconds(), attrs)

	s.audit(ctx, v, err)
	return resp, err
}

// validation carries one request through the pipeline
type validation struct {
	req    *api.ValidateRequest
	ipHash string
}

func (s *Service) validate(ctx context.Context, v *validation) (*api.ValidateResponse, error) {
	req := v.req
	logger := s.logger.With(
		slog.String("license_key", maskKey(req.LicenseKey)),
		slog.String("platform", req.Platform),
		slog.String("ip_hash", v.ipHash),
	)

	// BILLING_CHECKED
	billingStart := s.clock.Now()
	res := s.billing.Check(ctx, req.LicenseKey, req.InstanceName)
	s.metrics.BillingDuration.Record(ctx, s.clock.Since(billingStart).Seconds(),
		metric.WithAttributes(attribute.String("status", res.Status)))

	if !res.Valid && !res.Unchecked() {
		logger.WarnContext(ctx, "billing authority refused license",
			slog.String("status", res.Status),
			slog.String("reason", res.Error))
		if res.Retryable() {
			return nil, apierrors.BillingUnavailableError(res.RetryAfter)
		}
		return nil, apierrors.BillingRejectedError(res.Error)
	}

	// LICENSE_LOOKED_UP
	lic, err := s.store.GetLicenseByKey(ctx, req.LicenseKey)
	if errors.Is(err, store.ErrNotFound) {
		logger.WarnContext(ctx, "unknown license key")
		return nil, apierrors.ErrInvalidKey
	}
	if err != nil {
		return nil, apierrors.NewStorageError("load license", err)
	}

	now := s.clock.Now().UTC()
	if !lic.Active {
		logger.InfoContext(ctx, "inactive license refused")
		return nil, apierrors.ErrInactive
	}
	if lic.Expired(now) {
		logger.InfoContext(ctx, "expired license refused", slog.Time("expires_at", *lic.ExpiresAt))
		return nil, apierrors.ErrExpired.WithExtension(apierrors.ExtExpiresAt, lic.ExpiresAt.UTC())
	}

	// DEVICE_RESOLVED
	reg, err := s.store.RegisterDevice(ctx, &domain.Device{
		LicenseID:  lic.ID,
		DeviceID:   req.DeviceID,
		Platform:   domain.Platform(req.Platform),
		Version:    req.Version,
		AccountID:  req.AccountID,
		Broker:     req.Broker,
		IPHash:     v.ipHash,
		LastSeenAt: now,
	}, lic.MaxDevices)
	var limitErr *store.DeviceLimitError
	if errors.As(err, &limitErr) {
		logger.InfoContext(ctx, "device limit reached",
			slog.Int("devices_used", limitErr.Used),
			slog.Int("max_devices", limitErr.Max))
		return nil, apierrors.DeviceLimitError(limitErr.Used, limitErr.Max)
	}
	if err != nil {
		return nil, apierrors.NewStorageError("register device", err)
	}
	if reg.Created {
		logger.InfoContext(ctx, "device registered",
			slog.Int("devices_used", reg.ActiveCount),
			slog.Int("max_devices", lic.MaxDevices))
	}

	// SESSION_ISSUED
	token, err := GenerateToken(lic.Key, req.DeviceID, now)
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateSession(ctx, &domain.Session{
		LicenseID:       lic.ID,
		DeviceID:        req.DeviceID,
		Token:           token,
		IPHash:          v.ipHash,
		CreatedAt:       now,
		ExpiresAt:       now.Add(s.tokenTTL),
		LastHeartbeatAt: now,
	}); err != nil {
		return nil, apierrors.NewStorageError("create session", err)
	}

	logger.InfoContext(ctx, "license validated", slog.Int("devices_used", reg.ActiveCount))

	features := lic.Features
	if features == nil {
		features = []string{}
	}
	return &api.ValidateResponse{
		Valid:       true,
		Token:       token,
		TTLSeconds:  int(s.tokenTTL.Seconds()),
		Plan:        lic.PlanOrDefault(),
		Features:    features,
		ExpiresAt:   lic.ExpiresAt,
		Email:       lic.Email,
		DevicesUsed: reg.ActiveCount,
		MaxDevices:  lic.MaxDevices,
		ServerTime:  now.Unix(),
	}, nil
}

// audit appends the validation log row. Failures are logged and swallowed.
func (s *Service) audit(ctx context.Context, v *validation, err error) {
	entry := &domain.ValidationLog{
		LicenseKey: auditKey(v.req.LicenseKey),
		DeviceID:   auditDevice(v.req.DeviceID),
		Platform:   domain.Platform(v.req.Platform),
		IPHash:     v.ipHash,
		Success:    err == nil,
		CreatedAt:  s.clock.Now().UTC(),
	}
	if err != nil {
		var apiErr *apierrors.APIError
		if errors.As(err, &apiErr) {
			entry.ErrorCode = apiErr.Code
			entry.ErrorMessage = apiErr.Message
		} else {
			entry.ErrorCode = apierrors.CodeInternal
			entry.ErrorMessage = apierrors.ErrInternal.Message
		}
	}

	if logErr := s.store.AppendValidationLog(ctx, entry); logErr != nil {
		s.logger.ErrorContext(ctx, "failed to write validation log",
			slog.String("error", logErr.Error()),
			slog.String("code", entry.ErrorCode))
	}
}

func (s *Service) codeOf(err error) string {
	var apiErr *apierrors.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return apierrors.CodeInternal
}

// Stats returns aggregate license and device counts
func (s *Service) Stats(ctx context.Context) (domain.LicenseStats, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return stats, fmt.Errorf("load license stats: %w", err)
	}
	return stats, nil
}

// Ping checks the record store
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
