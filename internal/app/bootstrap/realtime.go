package bootstrap

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/onmp21/glamour-chat-center-34-sub000/internal/inbox"
	"github.com/onmp21/glamour-chat-center-34-sub000/pkg/logging"
)

// Realtime backends selectable with REALTIME_BACKEND.
const (
	RealtimePostgres = "postgres"
	RealtimeRedis    = "redis"
	RealtimeNone     = "none"
)

// BuildRealtime returns the change-feed listener and notifier for the
// configured backend. Both are nil for "none".
func BuildRealtime(backend string, pool *pgxpool.Pool, redisClient *redis.Client, logger *logging.Logger) (inbox.ChangeListener, inbox.ChangeNotifier, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", RealtimePostgres:
		if pool == nil {
			return nil, nil, fmt.Errorf("bootstrap: realtime backend %q requires DATABASE_URL", RealtimePostgres)
		}
		return inbox.NewPGListener(pool, logger), inbox.NewPGNotifier(pool), nil
	case RealtimeRedis:
		if redisClient == nil {
			return nil, nil, fmt.Errorf("bootstrap: realtime backend %q requires REDIS_ADDR", RealtimeRedis)
		}
		return inbox.NewRedisListener(redisClient, logger), inbox.NewRedisNotifier(redisClient), nil
	case RealtimeNone:
		return nil, nil, nil
	default:
		return nil, nil, fmt.Errorf("bootstrap: unknown realtime backend %q", backend)
	}
}
