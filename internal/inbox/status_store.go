package inbox

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const statusKeyPrefix = "inbox:status:"

var errStatusPhone = errors.New("inbox: status phone required")

// StatusStore keeps operator-tracked conversation statuses per channel.
type StatusStore interface {
	Statuses(ctx context.Context, channelID string) (map[string]Status, error)
	SetStatus(ctx context.Context, channelID, phone string, status Status) error
}

// MemoryStatusStore is used when Redis is not configured.
type MemoryStatusStore struct {
	mu       sync.RWMutex
	statuses map[string]map[string]Status
}

func NewMemoryStatusStore() *MemoryStatusStore {
	return &MemoryStatusStore{statuses: make(map[string]map[string]Status)}
}

func (s *MemoryStatusStore) Statuses(_ context.Context, channelID string) (map[string]Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Status, len(s.statuses[channelID]))
	for phone, status := range s.statuses[channelID] {
		out[phone] = status
	}
	return out, nil
}

func (s *MemoryStatusStore) SetStatus(_ context.Context, channelID, phone string, status Status) error {
	if phone == "" {
		return errStatusPhone
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statuses[channelID] == nil {
		s.statuses[channelID] = make(map[string]Status)
	}
	s.statuses[channelID][phone] = status
	return nil
}

// RedisStatusStore keeps one hash per channel keyed by contact phone.
type RedisStatusStore struct {
	redis  *redis.Client
	tracer trace.Tracer
}

func NewRedisStatusStore(client *redis.Client) *RedisStatusStore {
	return &RedisStatusStore{
		redis:  client,
		tracer: otel.Tracer("chatcenter.internal.inbox.status"),
	}
}

func (s *RedisStatusStore) Statuses(ctx context.Context, channelID string) (map[string]Status, error) {
	ctx, span := s.tracer.Start(ctx, "inbox.status.get_all", trace.WithAttributes(attribute.String("channel", channelID)))
	defer span.End()

	raw, err := s.redis.HGetAll(ctx, statusKey(channelID)).Result()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("inbox: load statuses: %w", err)
	}
	out := make(map[string]Status, len(raw))
	for phone, value := range raw {
		status, err := ParseStatus(value)
		if err != nil {
			continue
		}
		out[phone] = status
	}
	return out, nil
}

func (s *RedisStatusStore) SetStatus(ctx context.Context, channelID, phone string, status Status) error {
	if phone == "" {
		return errStatusPhone
	}
	ctx, span := s.tracer.Start(ctx, "inbox.status.set", trace.WithAttributes(attribute.String("channel", channelID)))
	defer span.End()

	if err := s.redis.HSet(ctx, statusKey(channelID), phone, string(status)).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("inbox: set status: %w", err)
	}
	return nil
}

func statusKey(channelID string) string {
	return statusKeyPrefix + channelID
}

// ApplyStatuses overlays tracked statuses on freshly grouped summaries.
func ApplyStatuses(summaries []ConversationSummary, statuses map[string]Status) {
	if len(statuses) == 0 {
		return
	}
	for i := range summaries {
		if status, ok := statuses[summaries[i].ContactPhone]; ok {
			summaries[i].Status = status
		}
	}
}
