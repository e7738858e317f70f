package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	apierrors "licenseapi/internal/errors"
	"licenseapi/internal/infrastructure"
	"licenseapi/internal/license"
	"licenseapi/internal/store/memory"
	api "licenseapi/pkg/contracts/api/v1"
	"licenseapi/pkg/contracts/domain"
)

// MockWebhookService implements the WebhookService interface for testing
type MockWebhookService struct {
	mock.Mock
}

func (m *MockWebhookService) Process(ctx context.Context, payload []byte, signature string) (*api.WebhookResponse, error) {
	args := m.Called(ctx, payload, signature)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*api.WebhookResponse), args.Error(1)
}

func postWebhook(t *testing.T, h *WebhookHandler, body string, headers map[string]string) (*httptest.ResponseRecorder, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/billing", strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.Receive(rec, req)
	return rec, rec.Body.String()
}

func TestWebhookHandler_SignatureHeaders(t *testing.T) {
	payload := `{"type":"license.revoked","data":{"key":"HEDGE-PRO-0001"}}`

	tests := []struct {
		name      string
		headers   map[string]string
		signature string
	}{
		{name: "primary header", headers: map[string]string{"x-creem-signature": "abc123"}, signature: "abc123"},
		{name: "alias header", headers: map[string]string{"X-Webhook-Signature": "def456"}, signature: "def456"},
		{name: "primary wins", headers: map[string]string{SignatureHeader: "abc123", SignatureHeaderAlias: "def456"}, signature: "abc123"},
		{name: "no header", headers: nil, signature: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockWebhookService)
			svc.On("Process", mock.Anything, []byte(payload), tt.signature).
				Return(&api.WebhookResponse{Received: true, Reason: "unhandled event type: x"}, nil)
			h := NewWebhookHandler(svc, apierrors.NewErrorHandler(testLogger(), false), testLogger())

			rec, _ := postWebhook(t, h, payload, tt.headers)
			assert.Equal(t, http.StatusOK, rec.Code)
			svc.AssertExpectations(t)
		})
	}
}

func TestWebhookHandler_InvalidSignature(t *testing.T) {
	svc := new(MockWebhookService)
	svc.On("Process", mock.Anything, mock.Anything, mock.Anything).Return(nil, license.ErrInvalidSignature)
	h := NewWebhookHandler(svc, apierrors.NewErrorHandler(testLogger(), false), testLogger())

	rec, body := postWebhook(t, h, `{}`, map[string]string{SignatureHeader: "bogus"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"Invalid signature"}`, body)
}

// TestWebhookHandler_EndToEnd runs a signed delivery through the real processor
func TestWebhookHandler_EndToEnd(t *testing.T) {
	const secret = "whsec_handler"

	clock := quartz.NewMock(t)
	clock.Set(handlerNow).MustWait(context.Background())
	st := memory.New()
	st.PutLicense(&domain.License{Key: "HEDGE-PRO-0001", Active: true, MaxDevices: 1})

	metrics, err := license.NewMetrics(metricnoop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)
	providers := &infrastructure.OTelProviders{
		Tracer: tracenoop.NewTracerProvider().Tracer("test"),
		Meter:  metricnoop.NewMeterProvider().Meter("test"),
		Logger: testLogger(),
	}
	proc := license.NewWebhookProcessor(st, secret, clock, metrics, providers)
	h := NewWebhookHandler(proc, apierrors.NewErrorHandler(testLogger(), false), testLogger())

	payload := `{"type":"subscription.cancelled","data":{"license_key":"hedge-pro-0001"}}`
	sig := license.Sign([]byte(secret), []byte(payload))

	rec, body := postWebhook(t, h, payload, map[string]string{SignatureHeader: sig})
	require.Equal(t, http.StatusOK, rec.Code, body)
	assert.JSONEq(t, `{"received":true,"processed":true,"action":"deactivated","affected":1}`, body)

	lic, err := st.GetLicenseByKey(context.Background(), "HEDGE-PRO-0001")
	require.NoError(t, err)
	assert.False(t, lic.Active)

	rec, body = postWebhook(t, h, `{"type":`, map[string]string{SignatureHeader: license.Sign([]byte(secret), []byte(`{"type":`))})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"received":true,"processed":false,"error":"Webhook processing failed"}`, body)
}
