package app

import (
	"context"
	"fmt"
	"log/slog"

	"licenseapi/internal/config"
	"licenseapi/internal/store"
	"licenseapi/internal/store/memory"
	"licenseapi/internal/store/postgres"
	"licenseapi/internal/store/redisstore"
)

// openStore opens the configured record store and, when requested, routes sessions
// to Redis
func openStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (store.Gateway, error) {
	var gw store.Gateway

	switch cfg.Driver {
	case config.StoreDriverMemory:
		st := memory.New()
		if cfg.SeedFile != "" {
			n, err := st.LoadSeed(cfg.SeedFile)
			if err != nil {
				return nil, err
			}
			logger.InfoContext(ctx, "Memory store seeded", slog.String("file", cfg.SeedFile), slog.Int("licenses", n))
		}
		logger.WarnContext(ctx, "Using the in-memory store; all state is lost on restart")
		gw = st

	case config.StoreDriverPostgres:
		st, err := postgres.Open(ctx, postgres.Options{
			DSN:            cfg.DatabaseURL,
			QueryTimeout:   cfg.QueryTimeout,
			ConnectTimeout: cfg.ConnectTimeout,
			MaxOpenConns:   cfg.MaxOpenConns,
			MaxIdleConns:   cfg.MaxIdleConns,
		}, logger)
		if err != nil {
			return nil, err
		}
		if cfg.AutoMigrate {
			if err := st.Migrate(ctx); err != nil {
				st.Close()
				return nil, err
			}
			logger.InfoContext(ctx, "Database migrations applied")
		}
		gw = st

	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}

	if cfg.SessionBackend != config.SessionBackendRedis {
		return gw, nil
	}

	sessions, err := redisstore.Open(ctx, redisstore.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		gw.Close()
		return nil, err
	}
	logger.InfoContext(ctx, "Sessions stored in Redis", slog.String("addr", cfg.Redis.Addr))
	return store.WithSessions(gw, sessions), nil
}
