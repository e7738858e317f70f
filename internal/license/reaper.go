package license

import (
	"context"
	"log/slog"
	"time"

	"github.com/coder/quartz"

	"licenseapi/internal/infrastructure"
	"licenseapi/internal/store"
)

// Reaper periodically deletes expired sessions
type Reaper struct {
	sessions store.SessionStore
	clock    quartz.Clock
	interval time.Duration
	logger   *slog.Logger
	metrics  *Metrics
}

// NewReaper creates a reaper sweeping every interval
func NewReaper(sessions store.SessionStore, clock quartz.Clock, interval time.Duration, metrics *Metrics, logger *slog.Logger) *Reaper {
	return &Reaper{
		sessions: sessions,
		clock:    clock,
		interval: interval,
		logger:   infrastructure.WithComponent(logger, "session_reaper"),
		metrics:  metrics,
	}
}

// Run sweeps on every tick until ctx is cancelled. A failed sweep is logged and
// retried on the next tick.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := r.clock.NewTicker(r.interval, "reaper")
	defer ticker.Stop()

	r.logger.InfoContext(ctx, "session reaper started", slog.Duration("interval", r.interval))
	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(context.WithoutCancel(ctx), "session reaper stopped")
			return nil
		case <-ticker.C:
			_, _ = r.RunOnce(infrastructure.EnsureTraceID(ctx))
		}
	}
}

// RunOnce deletes every session expired at the current time
func (r *Reaper) RunOnce(ctx context.Context) (int64, error) {
	removed, err := r.sessions.DeleteExpiredSessions(ctx, r.clock.Now().UTC())
	if err != nil {
		infrastructure.WithError(r.logger, err).ErrorContext(ctx, "session sweep failed")
		return 0, err
	}

	r.metrics.ReapedSessions.Add(ctx, removed)
	if removed > 0 {
		r.logger.InfoContext(ctx, "expired sessions removed", slog.Int64("count", removed))
	} else {
		r.logger.DebugContext(ctx, "no expired sessions")
	}
	return removed, nil
}
