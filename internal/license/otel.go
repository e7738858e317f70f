package license

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Outcome labels used on the validation counter besides the error codes
const (
	OutcomeSuccess = "success"
)

// Metrics holds the license lifecycle instruments
type Metrics struct {
	Validations        metric.Int64Counter
	ValidationDuration metric.Float64Histogram
	BillingDuration    metric.Float64Histogram
	Heartbeats         metric.Int64Counter
	TokenRotations     metric.Int64Counter
	Deactivations      metric.Int64Counter
	WebhookEvents      metric.Int64Counter
	ReapedSessions     metric.Int64Counter
}

// NewMetrics creates the license instruments on meter
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.Validations, err = meter.Int64Counter(
		"license_validations_total",
		metric.WithDescription("License validations by outcome code"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create validations counter: %w", err)
	}

	m.ValidationDuration, err = meter.Float64Histogram(
		"license_validation_duration_seconds",
		metric.WithDescription("License validation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create validation duration histogram: %w", err)
	}

	m.BillingDuration, err = meter.Float64Histogram(
		"license_billing_check_duration_seconds",
		metric.WithDescription("Billing authority check duration in seconds by status"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create billing duration histogram: %w", err)
	}

	m.Heartbeats, err = meter.Int64Counter(
		"license_heartbeats_total",
		metric.WithDescription("Session heartbeats by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create heartbeats counter: %w", err)
	}

	m.TokenRotations, err = meter.Int64Counter(
		"license_token_rotations_total",
		metric.WithDescription("Session tokens rotated by heartbeats"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token rotations counter: %w", err)
	}

	m.Deactivations, err = meter.Int64Counter(
		"license_device_deactivations_total",
		metric.WithDescription("Devices deactivated by agents or administrators"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create deactivations counter: %w", err)
	}

	m.WebhookEvents, err = meter.Int64Counter(
		"license_webhook_events_total",
		metric.WithDescription("Billing webhook events by type and action"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook events counter: %w", err)
	}

	m.ReapedSessions, err = meter.Int64Counter(
		"license_reaped_sessions_total",
		metric.WithDescription("Expired sessions deleted by the reaper"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create reaped sessions counter: %w", err)
	}

	return m, nil
}
