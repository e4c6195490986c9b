package bootstrap

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/patientpal/internal/config"
	"github.com/wolfman30/patientpal/internal/history"
	"github.com/wolfman30/patientpal/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildHistoryStore opens the transcript store selected by HISTORY_BACKEND.
// Resources it opens are registered on rt for health checks and shutdown.
func BuildHistoryStore(ctx context.Context, cfg *appconfig.Config, rt *Runtime) (history.Store, error) {
	logger := rt.Logger
	switch cfg.HistoryBackend {
	case "", "memory":
		logger.Warn("using in-memory transcript store; history is lost on restart")
		return history.NewMemoryStore(), nil

	case "redis":
		client := BuildRedisClient(ctx, cfg, logger, true)
		if client == nil {
			return nil, fmt.Errorf("bootstrap: redis unavailable at %s", cfg.RedisAddr)
		}
		rt.addCheck("redis", func(ctx context.Context) error { return client.Ping(ctx).Err() })
		rt.addCloser(func() { _ = client.Close() })
		logger.Info("transcript store: redis", "addr", cfg.RedisAddr)
		return history.NewRedisStore(client), nil

	case "postgres":
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return nil, fmt.Errorf("bootstrap: DATABASE_URL is required for the postgres transcript store")
		}
		db, err := history.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		rt.addCheck("postgres", db.PingContext)
		rt.addCloser(func() { _ = db.Close() })
		logger.Info("transcript store: postgres")
		return history.NewPostgresStore(db), nil

	case "sqlite":
		store, err := history.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		rt.addCloser(func() { _ = store.Close() })
		logger.Info("transcript store: sqlite", "path", cfg.SQLitePath)
		return store, nil

	default:
		return nil, fmt.Errorf("bootstrap: unknown history backend %q", cfg.HistoryBackend)
	}
}
