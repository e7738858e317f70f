package license

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"licenseapi/internal/billing"
	"licenseapi/internal/config"
	"licenseapi/internal/infrastructure"
	"licenseapi/internal/store/memory"
	"licenseapi/pkg/contracts/domain"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testProviders() *infrastructure.OTelProviders {
	return &infrastructure.OTelProviders{
		Tracer: tracenoop.NewTracerProvider().Tracer("test"),
		Meter:  metricnoop.NewMeterProvider().Meter("test"),
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func testMetrics(t *testing.T) *Metrics {
	t.Helper()
	m, err := NewMetrics(metricnoop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)
	return m
}

// stubChecker returns a fixed billing result and counts calls
type stubChecker struct {
	mu     sync.Mutex
	result billing.Result
	calls  int
}

func (c *stubChecker) Check(context.Context, string, string) *billing.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	res := c.result
	return &res
}

func (c *stubChecker) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func activeBilling() *stubChecker {
	return &stubChecker{result: billing.Result{Valid: true, Status: billing.StatusActive}}
}

type testEnv struct {
	svc     *Service
	store   *memory.Store
	clock   *quartz.Mock
	billing *stubChecker
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := quartz.NewMock(t)
	clock.Set(testNow).MustWait(context.Background())

	st := memory.New()
	checker := activeBilling()
	svc := NewService(st, checker, NewPseudonymizer("test-salt"), clock,
		config.Default().License, testMetrics(t), testProviders())

	return &testEnv{svc: svc, store: st, clock: clock, billing: checker}
}

func (e *testEnv) addLicense(key string, maxDevices int, mutate ...func(*domain.License)) *domain.License {
	lic := &domain.License{
		Key:        key,
		Email:      "trader@example.com",
		Plan:       "pro",
		Features:   []string{"hedging"},
		Active:     true,
		MaxDevices: maxDevices,
	}
	for _, m := range mutate {
		m(lic)
	}
	return e.store.PutLicense(lic)
}

// failingLogStore fails every audit write
type failingLogStore struct {
	*memory.Store
}

func (failingLogStore) AppendValidationLog(context.Context, *domain.ValidationLog) error {
	return errors.New("audit table unavailable")
}
