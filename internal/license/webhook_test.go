package license

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licenseapi/internal/shared/testutil"
	"licenseapi/internal/store/memory"
	api "licenseapi/pkg/contracts/api/v1"
	"licenseapi/pkg/contracts/domain"
)

const testWebhookSecret = "whsec_test"

type webhookEnv struct {
	proc  *WebhookProcessor
	store *memory.Store
	clock *quartz.Mock
}

func newWebhookEnv(t *testing.T) *webhookEnv {
	t.Helper()
	clock := quartz.NewMock(t)
	clock.Set(testNow).MustWait(context.Background())
	st := memory.New()
	return &webhookEnv{
		proc:  NewWebhookProcessor(st, testWebhookSecret, clock, testMetrics(t), testProviders()),
		store: st,
		clock: clock,
	}
}

// send delivers a correctly signed payload
func (e *webhookEnv) send(t *testing.T, payload string) *api.WebhookResponse {
	t.Helper()
	resp, err := e.proc.Process(context.Background(), []byte(payload), Sign([]byte(testWebhookSecret), []byte(payload)))
	require.NoError(t, err)
	require.True(t, resp.Received)
	return resp
}

func TestWebhookSignature(t *testing.T) {
	env := newWebhookEnv(t)
	env.store.PutLicense(&domain.License{Key: "HEDGE-PRO-0001", Active: true, MaxDevices: 1})
	payload := `{"type":"subscription.cancelled","data":{"license_key":"HEDGE-PRO-0001"}}`
	valid := Sign([]byte(testWebhookSecret), []byte(payload))

	tests := []struct {
		name      string
		payload   string
		signature string
	}{
		{name: "missing signature", payload: payload, signature: ""},
		{name: "wrong secret", payload: payload, signature: Sign([]byte("other"), []byte(payload))},
		{name: "tampered body", payload: strings.Replace(payload, "0001", "0002", 1), signature: valid},
		{name: "truncated signature", payload: payload, signature: valid[:32]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := env.proc.Process(context.Background(), []byte(tt.payload), tt.signature)
			assert.ErrorIs(t, err, ErrInvalidSignature)
			assert.Nil(t, resp)
		})
	}

	// Rejected deliveries leave the license untouched
	lic, err := env.store.GetLicenseByKey(context.Background(), "HEDGE-PRO-0001")
	require.NoError(t, err)
	assert.True(t, lic.Active)

	t.Run("upper-case signature with whitespace", func(t *testing.T) {
		_, err := env.proc.Process(context.Background(), []byte(payload), "  "+strings.ToUpper(valid)+"\n")
		assert.NoError(t, err)
	})
}

func TestWebhookWithoutSecretRejectsEverything(t *testing.T) {
	clock := quartz.NewMock(t)
	proc := NewWebhookProcessor(memory.New(), "", clock, testMetrics(t), testProviders())
	payload := []byte(`{"type":"charge.refunded","data":{"key":"HEDGE-PRO-0001"}}`)

	_, err := proc.Process(context.Background(), payload, Sign(nil, payload))
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestWebhookDeactivation(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{name: "cancelled", payload: `{"type":"subscription.cancelled","data":{"license_key":"hedge-pro-0001"}}`},
		{name: "expired", payload: `{"type":"subscription.expired","data":{"key":"HEDGE-PRO-0001"}}`},
		{name: "refunded", payload: `{"type":"charge.refunded","data":{"license":{"key":" HEDGE-PRO-0001 "}}}`},
		{name: "revoked", payload: `{"type":"license.revoked","data":{"license_key":"HEDGE-PRO-0001"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newWebhookEnv(t)
			env.store.PutLicense(&domain.License{Key: "HEDGE-PRO-0001", Active: true, MaxDevices: 1})

			res := env.send(t, tt.payload)
			assert.True(t, res.Processed)
			assert.Equal(t, ActionDeactivated, res.Action)
			require.NotNil(t, res.Affected)
			assert.EqualValues(t, 1, *res.Affected)

			lic, err := env.store.GetLicenseByKey(context.Background(), "HEDGE-PRO-0001")
			require.NoError(t, err)
			assert.False(t, lic.Active)
			require.NotNil(t, lic.DeactivatedAt)
			assert.Equal(t, testNow, *lic.DeactivatedAt)
		})
	}
}

func TestWebhookReplayConverges(t *testing.T) {
	env := newWebhookEnv(t)
	env.store.PutLicense(&domain.License{Key: "HEDGE-PRO-0001", Active: true, MaxDevices: 1})
	payload := `{"type":"subscription.cancelled","data":{"license_key":"HEDGE-PRO-0001"}}`

	first := env.send(t, payload)
	second := env.send(t, payload)
	assert.Equal(t, first.Action, second.Action)

	lic, err := env.store.GetLicenseByKey(context.Background(), "HEDGE-PRO-0001")
	require.NoError(t, err)
	assert.False(t, lic.Active)
}

func TestWebhookReactivation(t *testing.T) {
	periodEnd := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	oldExpiry := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		payload string
		expiry  time.Time
	}{
		{
			name:    "renewed with RFC 3339 expiry",
			payload: `{"type":"subscription.renewed","data":{"license_key":"HEDGE-PRO-0001","expires_at":"2026-04-01T00:00:00Z"}}`,
			expiry:  periodEnd,
		},
		{
			name:    "charge with unix period end",
			payload: `{"type":"charge.succeeded","data":{"license_key":"HEDGE-PRO-0001","current_period_end":1775001600}}`,
			expiry:  periodEnd,
		},
		{
			name:    "reactivated without expiry keeps the old one",
			payload: `{"type":"subscription.reactivated","data":{"license_key":"HEDGE-PRO-0001"}}`,
			expiry:  oldExpiry,
		},
		{
			name:    "unparseable expiry is ignored",
			payload: `{"type":"subscription.renewed","data":{"license_key":"HEDGE-PRO-0001","expires_at":"next month"}}`,
			expiry:  oldExpiry,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newWebhookEnv(t)
			deactivated := testNow.Add(-24 * time.Hour)
			expiry := oldExpiry
			env.store.PutLicense(&domain.License{
				Key:           "HEDGE-PRO-0001",
				Active:        false,
				MaxDevices:    1,
				ExpiresAt:     &expiry,
				DeactivatedAt: &deactivated,
			})

			res := env.send(t, tt.payload)
			assert.True(t, res.Processed)
			assert.Equal(t, ActionReactivated, res.Action)

			lic, err := env.store.GetLicenseByKey(context.Background(), "HEDGE-PRO-0001")
			require.NoError(t, err)
			assert.True(t, lic.Active)
			assert.Nil(t, lic.DeactivatedAt)
			require.NotNil(t, lic.ExpiresAt)
			assert.Equal(t, tt.expiry, *lic.ExpiresAt)
		})
	}
}

func TestWebhookAcknowledgedWithoutChange(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		reason  string
		errText string
	}{
		{
			name:    "missing license key",
			payload: `{"type":"subscription.cancelled","data":{"customer":"cus_123"}}`,
			reason:  "no license key in event",
		},
		{
			name:    "unhandled event type",
			payload: `{"type":"checkout.completed","data":{"license_key":"HEDGE-PRO-0001"}}`,
			reason:  "unhandled event type: checkout.completed",
		},
		{
			name:    "invalid json",
			payload: `{"type":`,
			errText: "Webhook processing failed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newWebhookEnv(t)
			env.store.PutLicense(&domain.License{Key: "HEDGE-PRO-0001", Active: true, MaxDevices: 1})

			res := env.send(t, tt.payload)
			assert.False(t, res.Processed)
			assert.Equal(t, tt.reason, res.Reason)
			assert.Equal(t, tt.errText, res.Error)
			assert.Nil(t, res.Affected)

			lic, err := env.store.GetLicenseByKey(context.Background(), "HEDGE-PRO-0001")
			require.NoError(t, err)
			assert.True(t, lic.Active)
		})
	}
}

func TestWebhookUnknownLicenseReportsZeroAffected(t *testing.T) {
	env := newWebhookEnv(t)

	res := env.send(t, `{"type":"license.revoked","data":{"license_key":"HEDGE-NONE-0000"}}`)
	assert.True(t, res.Processed)
	require.NotNil(t, res.Affected)
	assert.Zero(t, *res.Affected)
}

// brokenLicenseStore fails every license write
type brokenLicenseStore struct {
	*memory.Store
}

func (brokenLicenseStore) SetLicenseActive(context.Context, string, bool, time.Time, *time.Time) (int64, error) {
	return 0, errors.New("connection reset by peer")
}

func TestWebhookStoreFailureIsAcknowledged(t *testing.T) {
	clock := quartz.NewMock(t)
	providers := testProviders()
	logger, logs := testutil.NewTestLogger(t)
	providers.Logger = logger
	proc := NewWebhookProcessor(brokenLicenseStore{memory.New()}, testWebhookSecret, clock, testMetrics(t), providers)
	payload := []byte(`{"type":"subscription.cancelled","data":{"license_key":"HEDGE-PRO-0001"}}`)

	resp, err := proc.Process(context.Background(), payload, Sign([]byte(testWebhookSecret), payload))
	require.NoError(t, err)
	assert.True(t, resp.Received)
	assert.False(t, resp.Processed)
	assert.Equal(t, "Webhook processing failed", resp.Error)
	assert.NotContains(t, resp.Error, "connection reset")

	failures := logs.GetRecordsByLevel(slog.LevelError)
	require.Len(t, failures, 1)
	assert.Equal(t, "webhook processing failed", failures[0].Message)
	assert.Contains(t, failures[0].Attrs["error"], "[WEBHOOK] update license state")
}
