package license

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/coder/quartz"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	apierrors "licenseapi/internal/errors"
	"licenseapi/internal/infrastructure"
	"licenseapi/internal/store"
	api "licenseapi/pkg/contracts/api/v1"
	"licenseapi/pkg/contracts/domain"
)

// ErrInvalidSignature is returned when the webhook body does not match its signature
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Webhook actions reported back to the billing authority
const (
	ActionDeactivated = "deactivated"
	ActionReactivated = "reactivated"
)

// processingFailed is the only error text a webhook response ever carries
const processingFailed = "Webhook processing failed"

var (
	deactivatingEvents = map[string]bool{
		"subscription.cancelled": true,
		"subscription.expired":   true,
		"charge.refunded":        true,
		"license.revoked":        true,
	}
	reactivatingEvents = map[string]bool{
		"subscription.renewed":     true,
		"subscription.reactivated": true,
		"charge.succeeded":         true,
	}
)

// WebhookProcessor applies billing lifecycle events to license rows
type WebhookProcessor struct {
	licenses store.LicenseStore
	secret   []byte
	clock    quartz.Clock
	logger   *slog.Logger
	tracer   trace.Tracer
	events   metric.Int64Counter
}

// NewWebhookProcessor creates a processor verifying signatures with secret
func NewWebhookProcessor(licenses store.LicenseStore, secret string, clock quartz.Clock, metrics *Metrics, providers *infrastructure.OTelProviders) *WebhookProcessor {
	return &WebhookProcessor{
		licenses: licenses,
		secret:   []byte(secret),
		clock:    clock,
		logger:   infrastructure.WithComponent(providers.Logger, "billing_webhook"),
		tracer:   providers.Tracer,
		events:   metrics.WebhookEvents,
	}
}

// Sign returns the hex HMAC-SHA256 of payload
func Sign(secret, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify compares the signature header with the expected digest in constant time
func (p *WebhookProcessor) Verify(payload []byte, signature string) bool {
	if len(p.secret) == 0 || signature == "" {
		return false
	}
	expected := Sign(p.secret, payload)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature))))
}

type webhookEvent struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// Process verifies and applies one event. Only a bad signature is returned as an
// error; every other outcome is acknowledged so the authority does not retry.
func (p *WebhookProcessor) Process(ctx context.Context, payload []byte, signature string) (*api.WebhookResponse, error) {
	ctx, span := p.tracer.Start(ctx, "license.webhook")
	defer span.End()

	if !p.Verify(payload, signature) {
		p.logger.WarnContext(ctx, "webhook signature mismatch")
		p.count(ctx, "unknown", "rejected")
		return nil, ErrInvalidSignature
	}

	var event webhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		p.logger.ErrorContext(ctx, "webhook payload is not valid JSON", slog.String("error", err.Error()))
		p.count(ctx, "unknown", "failed")
		return &api.WebhookResponse{Received: true, Error: processingFailed}, nil
	}
	if event.Type == "" {
		event.Type = "unknown"
	}
	span.SetAttributes(attribute.String("webhook.type", event.Type))
	logger := p.logger.With(slog.String("event_type", event.Type))
	logger.InfoContext(ctx, "billing webhook received")

	key := domain.NormalizeLicenseKey(extractLicenseKey(event.Data))
	if key == "" {
		logger.WarnContext(ctx, "webhook event missing license key")
		p.count(ctx, event.Type, "ignored")
		return &api.WebhookResponse{Received: true, Reason: "no license key in event"}, nil
	}

	var (
		action   string
		affected int64
		err      error
	)
	now := p.clock.Now().UTC()
	switch {
	case deactivatingEvents[event.Type]:
		action = ActionDeactivated
		affected, err = p.licenses.SetLicenseActive(ctx, key, false, now, nil)
	case reactivatingEvents[event.Type]:
		action = ActionReactivated
		expiry := p.newExpiry(ctx, event.Data)
		affected, err = p.licenses.SetLicenseActive(ctx, key, true, now, expiry)
	default:
		logger.InfoContext(ctx, "webhook event type not handled")
		p.count(ctx, event.Type, "ignored")
		return &api.WebhookResponse{Received: true, Reason: fmt.Sprintf("unhandled event type: %s", event.Type)}, nil
	}

	if err != nil {
		werr := apierrors.NewWebhookError("update license state", err).
			WithContext("event_type", event.Type).
			WithContext("action", action)
		infrastructure.RecordError(ctx, werr)
		logger.ErrorContext(ctx, "webhook processing failed",
			slog.String("license_key", maskKey(key)),
			slog.String("error", werr.Error()))
		p.count(ctx, event.Type, "failed")
		return &api.WebhookResponse{Received: true, Error: processingFailed}, nil
	}

	logger.InfoContext(ctx, "license state updated from webhook",
		slog.String("license_key", maskKey(key)),
		slog.String("action", action),
		slog.Int64("affected", affected))
	p.count(ctx, event.Type, action)
	return &api.WebhookResponse{Received: true, Processed: true, Action: action, Affected: &affected}, nil
}

func (p *WebhookProcessor) count(ctx context.Context, eventType, action string) {
	p.events.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", eventType),
		attribute.String("action", action),
	))
}

// extractLicenseKey looks in data.license_key, data.key and data.license.key
func extractLicenseKey(data map[string]any) string {
	for _, field := range []string{"license_key", "key"} {
		if s, ok := data[field].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	if nested, ok := data["license"].(map[string]any); ok {
		if s, ok := nested["key"].(string); ok {
			return s
		}
	}
	return ""
}

// newExpiry reads data.expires_at or data.current_period_end as RFC 3339 or Unix seconds
func (p *WebhookProcessor) newExpiry(ctx context.Context, data map[string]any) *time.Time {
	for _, field := range []string{"expires_at", "current_period_end"} {
		switch v := data[field].(type) {
		case string:
			if v == "" {
				continue
			}
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				p.logger.WarnContext(ctx, "ignoring unparseable expiry", slog.String("field", field), slog.String("value", v))
				continue
			}
			t = t.UTC()
			return &t
		case float64:
			if v <= 0 {
				continue
			}
			t := time.Unix(int64(v), 0).UTC()
			return &t
		}
	}
	return nil
}
