package infrastructure

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"licenseapi/internal/config"
	"licenseapi/pkg/contracts"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewOTelConfig(t *testing.T) {
	cfg := NewOTelConfig(config.TelemetryConfig{
		Environment:    "staging",
		TraceExporter:  "stdout",
		MetricExporter: "prometheus",
		SampleRatio:    0.5,
	})

	assert.Equal(t, contracts.ServiceName, cfg.ServiceName)
	assert.Equal(t, contracts.Version, cfg.ServiceVersion)
	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, 0.5, cfg.SampleRatio)
}

func TestInitializeOTel_Configurations(t *testing.T) {
	tests := []struct {
		name        string
		cfg         *OTelConfig
		wantTracer  bool
		wantMetrics bool
		wantErr     string
	}{
		{
			name:        "tracing and metrics",
			cfg:         &OTelConfig{ServiceName: "svc", ServiceVersion: "1.0.0", Environment: "test", TraceExporter: "stdout", MetricExporter: "prometheus", SampleRatio: 1},
			wantTracer:  true,
			wantMetrics: true,
		},
		{
			name:        "metrics only",
			cfg:         &OTelConfig{ServiceName: "svc", ServiceVersion: "1.0.0", Environment: "test", TraceExporter: "none", MetricExporter: "prometheus"},
			wantMetrics: true,
		},
		{
			name: "everything disabled",
			cfg:  &OTelConfig{ServiceName: "svc", ServiceVersion: "1.0.0", Environment: "test", TraceExporter: "none", MetricExporter: "none"},
		},
		{
			name:    "unknown trace exporter",
			cfg:     &OTelConfig{ServiceName: "svc", TraceExporter: "jaeger", MetricExporter: "none"},
			wantErr: "unsupported trace exporter",
		},
		{
			name:    "unknown metric exporter",
			cfg:     &OTelConfig{ServiceName: "svc", TraceExporter: "none", MetricExporter: "statsd"},
			wantErr: "unsupported metric exporter",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			providers, err := InitializeOTel(tt.cfg, discardLogger())
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			defer providers.Shutdown(context.Background())

			assert.NotNil(t, providers.Tracer)
			assert.NotNil(t, providers.Meter)
			assert.Equal(t, tt.wantTracer, providers.TracerProvider != nil)
			assert.Equal(t, tt.wantMetrics, providers.MeterProvider != nil)
			assert.Equal(t, tt.wantMetrics, providers.PrometheusHTTP != nil)
		})
	}
}

func TestPrometheusEndpoint_ExposesHTTPMetrics(t *testing.T) {
	providers, err := InitializeOTel(&OTelConfig{
		ServiceName:    "svc",
		ServiceVersion: "1.0.0",
		TraceExporter:  "none",
		MetricExporter: "prometheus",
	}, discardLogger())
	require.NoError(t, err)
	defer providers.Shutdown(context.Background())

	metrics, err := CreateHTTPMetrics(providers.Meter)
	require.NoError(t, err)
	metrics.RequestsTotal.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("http.route", "/validate")))

	server := httptest.NewServer(providers.PrometheusHTTP)
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "http_requests_total")
	assert.Contains(t, string(body), "go_goroutines")
}

func TestTraceIDFromContext(t *testing.T) {
	assert.Empty(t, TraceIDFromContext(context.Background()))

	providers, err := InitializeOTel(&OTelConfig{
		ServiceName:    "svc",
		TraceExporter:  "stdout",
		MetricExporter: "none",
		SampleRatio:    1,
	}, discardLogger())
	require.NoError(t, err)
	defer providers.Shutdown(context.Background())

	ctx, span := providers.Tracer.Start(context.Background(), "validate")
	defer span.End()

	assert.Equal(t, span.SpanContext().TraceID().String(), TraceIDFromContext(ctx))
	RecordError(ctx, assert.AnError)
	assert.True(t, span.IsRecording())
}

func TestShutdown_NoProviders(t *testing.T) {
	assert.NoError(t, (&OTelProviders{}).Shutdown(context.Background()))
}
