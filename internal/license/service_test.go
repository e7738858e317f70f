package license

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licenseapi/internal/billing"
	"licenseapi/internal/config"
	apierrors "licenseapi/internal/errors"
	api "licenseapi/pkg/contracts/api/v1"
	"licenseapi/pkg/contracts/domain"
)

func validateReq(key, device string) *api.ValidateRequest {
	req := &api.ValidateRequest{LicenseKey: key, DeviceID: device, Platform: "MT5", Version: "2.1.0"}
	req.Normalize()
	return req
}

func requireAPIError(t *testing.T, err error, code string) *apierrors.APIError {
	t.Helper()
	require.Error(t, err)
	var apiErr *apierrors.APIError
	require.True(t, errors.As(err, &apiErr), "expected *APIError, got %T: %v", err, err)
	assert.Equal(t, code, apiErr.Code)
	return apiErr
}

func TestValidateSuccess(t *testing.T) {
	env := newTestEnv(t)
	expiry := testNow.AddDate(0, 6, 0)
	env.addLicense("HEDGE-PRO-0001", 2, func(l *domain.License) { l.ExpiresAt = &expiry })

	resp, err := env.svc.Validate(context.Background(), validateReq("hedge-pro-0001", "device-aaaa-1111"), "198.51.100.4")
	require.NoError(t, err)

	assert.True(t, resp.Valid)
	assert.Len(t, resp.Token, TokenLength)
	assert.Equal(t, 3600, resp.TTLSeconds)
	assert.Equal(t, "pro", resp.Plan)
	assert.Equal(t, []string{"hedging"}, resp.Features)
	require.NotNil(t, resp.ExpiresAt)
	assert.Equal(t, expiry, *resp.ExpiresAt)
	assert.Equal(t, "trader@example.com", resp.Email)
	assert.Equal(t, 1, resp.DevicesUsed)
	assert.Equal(t, 2, resp.MaxDevices)
	assert.Equal(t, testNow.Unix(), resp.ServerTime)

	assert.Equal(t, 1, env.store.SessionCount())

	logs := env.store.ValidationLogs()
	require.Len(t, logs, 1)
	assert.True(t, logs[0].Success)
	assert.Equal(t, "HEDGE-PRO-0001", logs[0].LicenseKey)
	assert.Equal(t, domain.PlatformMT5, logs[0].Platform)
	assert.NotEmpty(t, logs[0].IPHash)
	assert.NotContains(t, logs[0].IPHash, "198.51")
}

func TestValidateDefaultPlan(t *testing.T) {
	env := newTestEnv(t)
	env.addLicense("HEDGE-DEMO-0001", 1, func(l *domain.License) {
		l.Plan = ""
		l.Features = nil
	})

	resp, err := env.svc.Validate(context.Background(), validateReq("HEDGE-DEMO-0001", "device-aaaa-1111"), "")
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultPlan, resp.Plan)
	assert.NotNil(t, resp.Features)
	assert.Empty(t, resp.Features)
}

func TestValidateInputErrorsSkipEverything(t *testing.T) {
	tests := []struct {
		name string
		req  *api.ValidateRequest
		code string
	}{
		{name: "missing key", req: validateReq("", "device-aaaa-1111"), code: apierrors.CodeMissingKey},
		{name: "missing device", req: validateReq("HEDGE-PRO-0001", ""), code: apierrors.CodeMissingDevice},
		{name: "unknown device placeholder", req: validateReq("HEDGE-PRO-0001", "unknown"), code: apierrors.CodeMissingDevice},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.addLicense("HEDGE-PRO-0001", 1)

			_, err := env.svc.Validate(context.Background(), tt.req, "10.0.0.1")
			apiErr := requireAPIError(t, err, tt.code)
			assert.Equal(t, 400, apiErr.StatusCode)

			assert.Zero(t, env.billing.Calls(), "no billing call for input errors")
			assert.Empty(t, env.store.ValidationLogs(), "no audit row for input errors")
		})
	}
}

func TestValidateRefusals(t *testing.T) {
	expired := testNow.Add(-time.Hour)
	expiresNow := testNow

	tests := []struct {
		name       string
		billing    billing.Result
		license    func(*domain.License)
		noLicense  bool
		code       string
		status     int
		retryAfter int
	}{
		{
			name:    "billing rejects",
			billing: billing.Result{Valid: false, Status: "expired", Error: "License status: expired"},
			code:    apierrors.CodeBillingRejected,
			status:  403,
		},
		{
			name:       "billing timeout is retryable",
			billing:    billing.Result{Valid: false, Status: billing.StatusTimeout, Error: billing.UnavailableMessage, RetryAfter: 30},
			code:       apierrors.CodeBillingUnavailable,
			status:     403,
			retryAfter: 30,
		},
		{
			name:      "unknown key",
			billing:   billing.Result{Valid: true, Status: billing.StatusActive},
			noLicense: true,
			code:      apierrors.CodeInvalidKey,
			status:    401,
		},
		{
			name:    "inactive license",
			billing: billing.Result{Valid: true, Status: billing.StatusActive},
			license: func(l *domain.License) { l.Active = false },
			code:    apierrors.CodeInactive,
			status:  403,
		},
		{
			name:    "inactive license with billing unchecked",
			billing: billing.Result{Valid: true, Status: billing.StatusUnchecked},
			license: func(l *domain.License) { l.Active = false },
			code:    apierrors.CodeInactive,
			status:  403,
		},
		{
			name:    "expired license",
			billing: billing.Result{Valid: true, Status: billing.StatusActive},
			license: func(l *domain.License) { l.ExpiresAt = &expired },
			code:    apierrors.CodeExpired,
			status:  403,
		},
		{
			name:    "license expiring exactly now",
			billing: billing.Result{Valid: true, Status: billing.StatusActive},
			license: func(l *domain.License) { l.ExpiresAt = &expiresNow },
			code:    apierrors.CodeExpired,
			status:  403,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.billing.result = tt.billing
			if !tt.noLicense {
				mutate := []func(*domain.License){}
				if tt.license != nil {
					mutate = append(mutate, tt.license)
				}
				env.addLicense("HEDGE-PRO-0001", 1, mutate...)
			}

			_, err := env.svc.Validate(context.Background(), validateReq("HEDGE-PRO-0001", "device-aaaa-1111"), "10.0.0.1")
			apiErr := requireAPIError(t, err, tt.code)
			assert.Equal(t, tt.status, apiErr.StatusCode)

			if tt.retryAfter > 0 {
				secs, ok := apiErr.RetryAfter()
				require.True(t, ok)
				assert.Equal(t, tt.retryAfter, secs)
			}
			if tt.code == apierrors.CodeExpired {
				assert.Contains(t, apiErr.Extensions, apierrors.ExtExpiresAt)
			}

			// No device or session is created on refusal
			assert.Zero(t, env.store.SessionCount())
			stats, err := env.store.Stats(context.Background())
			require.NoError(t, err)
			assert.Zero(t, stats.TotalDevices)

			logs := env.store.ValidationLogs()
			require.Len(t, logs, 1, "every refusal writes one audit row")
			assert.False(t, logs[0].Success)
			assert.Equal(t, tt.code, logs[0].ErrorCode)
		})
	}
}

func TestValidateBillingRejectedKeepsReason(t *testing.T) {
	env := newTestEnv(t)
	env.billing.result = billing.Result{Valid: false, Status: billing.StatusInvalid, Error: "key not found"}
	env.addLicense("HEDGE-PRO-0001", 1)

	_, err := env.svc.Validate(context.Background(), validateReq("HEDGE-PRO-0001", "device-aaaa-1111"), "")
	apiErr := requireAPIError(t, err, apierrors.CodeBillingRejected)
	assert.Equal(t, "key not found", apiErr.Message)
}

func TestValidateDeviceLimit(t *testing.T) {
	const maxDevices = 3
	env := newTestEnv(t)
	env.addLicense("HEDGE-PRO-0001", maxDevices)
	ctx := context.Background()

	for i := 1; i <= maxDevices; i++ {
		resp, err := env.svc.Validate(ctx, validateReq("HEDGE-PRO-0001", fmt.Sprintf("device-%04d", i)), "")
		require.NoError(t, err)
		assert.Equal(t, i, resp.DevicesUsed)
	}

	_, err := env.svc.Validate(ctx, validateReq("HEDGE-PRO-0001", "device-9999"), "")
	apiErr := requireAPIError(t, err, apierrors.CodeDeviceLimit)
	assert.Equal(t, 403, apiErr.StatusCode)
	assert.Equal(t, maxDevices, apiErr.Extensions[apierrors.ExtDevicesUsed])
	assert.Equal(t, maxDevices, apiErr.Extensions[apierrors.ExtMaxDevices])
	assert.Equal(t, "Device limit reached (3/3). Deactivate another device first.", apiErr.Message)
}

func TestValidateSameDeviceConsumesOneSlot(t *testing.T) {
	env := newTestEnv(t)
	lic := env.addLicense("HEDGE-PRO-0001", 1)
	ctx := context.Background()

	first, err := env.svc.Validate(ctx, validateReq("HEDGE-PRO-0001", "device-aaaa-1111"), "")
	require.NoError(t, err)
	second, err := env.svc.Validate(ctx, validateReq("HEDGE-PRO-0001", "device-aaaa-1111"), "")
	require.NoError(t, err)

	assert.Equal(t, 1, first.DevicesUsed)
	assert.Equal(t, 1, second.DevicesUsed)
	assert.NotEqual(t, first.Token, second.Token)

	count, err := env.store.CountActiveDevices(ctx, lic.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestValidateConcurrentFirstValidations(t *testing.T) {
	env := newTestEnv(t)
	lic := env.addLicense("HEDGE-PRO-0001", 2)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = env.svc.Validate(ctx, validateReq("HEDGE-PRO-0001", fmt.Sprintf("device-%04d", i)), "")
		}(i)
	}
	wg.Wait()

	count, err := env.store.CountActiveDevices(ctx, lic.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Len(t, env.store.ValidationLogs(), 12)
}

func TestValidateAuditFailureDoesNotFailRequest(t *testing.T) {
	env := newTestEnv(t)
	env.addLicense("HEDGE-PRO-0001", 1)

	svc := NewService(failingLogStore{env.store}, env.billing, NewPseudonymizer("salt"), env.clock,
		config.Default().License, testMetrics(t), testProviders())

	resp, err := svc.Validate(context.Background(), validateReq("HEDGE-PRO-0001", "device-aaaa-1111"), "")
	require.NoError(t, err)
	assert.True(t, resp.Valid)
}

func TestValidateTruncatesAuditIdentifiers(t *testing.T) {
	env := newTestEnv(t)
	longDevice := "device-" + fmt.Sprintf("%0100d", 7)

	_, err := env.svc.Validate(context.Background(), validateReq("HEDGE-UNKNOWN-KEY-0000000", longDevice), "")
	requireAPIError(t, err, apierrors.CodeInvalidKey)

	logs := env.store.ValidationLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, "HEDGE-UNKNOWN-KEY-00...", logs[0].LicenseKey)
	assert.Len(t, logs[0].DeviceID, 53)
}

func TestStats(t *testing.T) {
	env := newTestEnv(t)
	env.addLicense("HEDGE-PRO-0001", 2)
	env.addLicense("HEDGE-OFF-0002", 2, func(l *domain.License) { l.Active = false })

	_, err := env.svc.Validate(context.Background(), validateReq("HEDGE-PRO-0001", "device-aaaa-1111"), "")
	require.NoError(t, err)

	stats, err := env.svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.LicenseStats{ActiveLicenses: 1, TotalDevices: 1}, stats)
	assert.NoError(t, env.svc.Ping(context.Background()))
}
