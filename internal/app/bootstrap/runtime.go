// Package bootstrap wires the API process's infrastructure from configuration.
package bootstrap

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/onmp21/glamour-chat-center-34-sub000/internal/config"
	"github.com/onmp21/glamour-chat-center-34-sub000/internal/events"
	"github.com/onmp21/glamour-chat-center-34-sub000/internal/inbox"
	"github.com/onmp21/glamour-chat-center-34-sub000/pkg/logging"
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

// BuildPgxPool opens the channel-table pool. It returns nil, nil when no
// database is configured.
func BuildPgxPool(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*pgxpool.Pool, error) {
	if cfg == nil || strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: open postgres pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("bootstrap: ping postgres: %w", err)
	}
	logger.Info("postgres pool ready")
	return pool, nil
}

// BuildAuditDB opens a database/sql handle for the audit log. It returns
// nil, nil when no database is configured.
func BuildAuditDB(cfg *appconfig.Config) (*sql.DB, error) {
	if cfg == nil || strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, nil
	}
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: open audit db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

// BuildStatusStore prefers Redis so statuses survive restarts and are shared
// between API replicas.
func BuildStatusStore(redisClient *redis.Client) inbox.StatusStore {
	if redisClient == nil {
		return inbox.NewMemoryStatusStore()
	}
	return inbox.NewRedisStatusStore(redisClient)
}

// BuildDeduper picks the webhook dedupe store: Redis when available, then the
// processed_events table, else none.
func BuildDeduper(redisClient *redis.Client, pool *pgxpool.Pool) events.Deduper {
	switch {
	case redisClient != nil:
		return events.NewRedisProcessedStore(redisClient, 0)
	case pool != nil:
		return events.NewProcessedStore(pool)
	default:
		return nil
	}
}
