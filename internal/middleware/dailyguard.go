package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	apierrors "licenseapi/internal/errors"
)

// DailyGuard refuses requests with 503 ERROR_DAILY_LIMIT once the daily ceiling is spent.
// Liveness probes and metric scrapes never consume the budget.
type DailyGuard struct {
	limiter         DailyLimiter
	errorHandler    *apierrors.ErrorHandler
	logger          *slog.Logger
	excludePaths    []string
	excludePrefixes []string
	rejections      metric.Int64Counter
}

// NewDailyGuard creates the daily volume middleware
func NewDailyGuard(limiter DailyLimiter, errorHandler *apierrors.ErrorHandler, logger *slog.Logger, meter metric.Meter) (*DailyGuard, error) {
	rejections, err := meter.Int64Counter(
		"license_daily_limit_rejections_total",
		metric.WithDescription("Requests refused because the daily ceiling was reached"),
	)
	if err != nil {
		return nil, err
	}

	return &DailyGuard{
		limiter:      limiter,
		errorHandler: errorHandler,
		logger:       logger.With(slog.String("component", "daily_guard")),
		excludePaths: []string{
			"/health",
			"/v1/health",
			"/metrics",
		},
		excludePrefixes: []string{
			"/debug/",
		},
		rejections: rejections,
	}, nil
}

// Handler returns the middleware handler function
func (g *DailyGuard) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.shouldExcludePath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		if !g.limiter.Allow() {
			ctx := r.Context()
			trace.SpanFromContext(ctx).SetAttributes(attribute.Bool("license.daily_limit", true))
			g.rejections.Add(ctx, 1, metric.WithAttributes(attribute.String("path", r.URL.Path)))
			g.logger.WarnContext(ctx, "daily request ceiling reached",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path))
			g.errorHandler.HandleError(w, r, apierrors.ErrDailyLimit)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// shouldExcludePath checks if a path bypasses the daily ceiling
func (g *DailyGuard) shouldExcludePath(path string) bool {
	for _, excluded := range g.excludePaths {
		if path == excluded {
			return true
		}
	}
	for _, prefix := range g.excludePrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
