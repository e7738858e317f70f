// Package postgres implements the record store gateway on PostgreSQL using sqlx
// and lib/pq. Schema changes ship as embedded golang-migrate migrations.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"licenseapi/internal/store"
)

// Options configures the connection pool and per-call deadlines
type Options struct {
	DSN            string
	QueryTimeout   time.Duration
	ConnectTimeout time.Duration
	MaxOpenConns   int
	MaxIdleConns   int
}

// Store implements store.Gateway on PostgreSQL
type Store struct {
	db           *sqlx.DB
	queryTimeout time.Duration
	logger       *slog.Logger
}

var _ store.Gateway = (*Store)(nil)

// Open connects to the database and waits for it to answer a ping, retrying with
// exponential backoff for at most ConnectTimeout.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (*Store, error) {
	db, err := sqlx.Open("postgres", opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)

	s := New(db, opts.QueryTimeout, logger)
	if err := s.waitReady(ctx, opts.ConnectTimeout); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing connection
func New(db *sqlx.DB, queryTimeout time.Duration, logger *slog.Logger) *Store {
	if queryTimeout <= 0 {
		queryTimeout = 5 * time.Second
	}
	return &Store{
		db:           db,
		queryTimeout: queryTimeout,
		logger:       logger.With(slog.String("component", "postgres_store")),
	}
}

func (s *Store) waitReady(ctx context.Context, maxWait time.Duration) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	if maxWait > 0 {
		b.MaxElapsedTime = maxWait
	}

	attempt := 0
	probe := func() error {
		attempt++
		err := s.Ping(ctx)
		if err != nil {
			s.logger.WarnContext(ctx, "database not ready",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
		}
		return err
	}

	if err := backoff.Retry(probe, backoff.WithContext(b, ctx)); err != nil {
		return fmt.Errorf("database unreachable after %d attempts: %w", attempt, err)
	}
	s.logger.InfoContext(ctx, "database connection established", slog.Int("attempts", attempt))
	return nil
}

// Ping checks connectivity within the query timeout
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.db.PingContext(ctx)
}

// Close releases the pool
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying pool for migrations and tests
func (s *Store) DB() *sqlx.DB {
	return s.db
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.queryTimeout)
}

// inTx runs fn in a transaction, rolling back on error or panic
func (s *Store) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// notFound maps sql.ErrNoRows to store.ErrNotFound
func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}
