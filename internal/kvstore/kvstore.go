// Package kvstore opens the persistence adapter selected by configuration.
package kvstore

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"

	"nvoice/backend/internal/config"
	"nvoice/backend/internal/kv"
	"nvoice/backend/internal/kv/memory"
	pgkv "nvoice/backend/internal/kv/postgres"
	rediskv "nvoice/backend/internal/kv/redis"
)

// Open returns the configured store. A configured remote backend that cannot be
// reached is an error; there is no silent fallback to memory.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (kv.Store, error) {
	switch driver := cfg.Driver(); driver {
	case config.DriverMemory:
		logger.Info("storage ready", "driver", driver)
		return memory.New(), nil
	case config.DriverRedis:
		if cfg.RedisAddr == "" {
			return nil, errors.New("REDIS_ADDR is required for the redis driver")
		}
		store := rediskv.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.KeyPrefix)
		if err := store.Ping(ctx); err != nil {
			_ = store.Close()
			return nil, errors.Wrap(err, "redis unavailable")
		}
		logger.Info("storage ready", "driver", driver, "addr", cfg.RedisAddr)
		return store, nil
	case config.DriverPostgres:
		if cfg.DatabaseURL == "" {
			return nil, errors.New("DATABASE_URL is required for the postgres driver")
		}
		store, err := pgkv.New(ctx, cfg.DatabaseURL, cfg.KeyPrefix)
		if err != nil {
			return nil, errors.Wrap(err, "postgres unavailable")
		}
		logger.Info("storage ready", "driver", driver)
		return store, nil
	default:
		return nil, errors.Errorf("unknown storage driver: %s", driver)
	}
}
