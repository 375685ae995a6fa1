package inbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/onmp21/glamour-chat-center-34-sub000/internal/channels"
	"github.com/onmp21/glamour-chat-center-34-sub000/internal/observability/metrics"
	"github.com/onmp21/glamour-chat-center-34-sub000/pkg/logging"
)

// RefreshFunc receives the outcome of a realtime-triggered reload.
type RefreshFunc func(ctx context.Context, conversations []ConversationSummary, err error)

// Service runs the inbox pipeline for every channel in the registry: fetch,
// process, group, enrich and overlay tracked statuses.
type Service struct {
	registry *channels.Registry
	store    RecordStore
	statuses StatusStore
	identity *IdentityExtractor
	enricher *UnreadEnricher
	listener ChangeListener
	notifier ChangeNotifier
	debounce time.Duration
	now      func() time.Time
	logger   *logging.Logger
	metrics  *metrics.InboxMetrics
	tracer   trace.Tracer
}

func NewService(registry *channels.Registry, store RecordStore, statuses StatusStore, logger *logging.Logger) *Service {
	if registry == nil {
		panic("inbox: channel registry required")
	}
	if store == nil {
		panic("inbox: record store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if statuses == nil {
		statuses = NewMemoryStatusStore()
	}
	return &Service{
		registry: registry,
		store:    store,
		statuses: statuses,
		identity: NewIdentityExtractor(registry.IdentityRules()),
		enricher: NewUnreadEnricher(store, logger),
		debounce: DefaultRefreshDebounce,
		now:      time.Now,
		logger:   logger,
		tracer:   otel.Tracer("chatcenter.internal.inbox"),
	}
}

func (s *Service) WithMetrics(m *metrics.InboxMetrics) *Service {
	s.metrics = m
	s.enricher.WithMetrics(m)
	return s
}

// WithUnreadLookup tunes the unread-count fan-out.
func (s *Service) WithUnreadLookup(timeout time.Duration, concurrency int) *Service {
	s.enricher.WithTimeout(timeout).WithConcurrency(concurrency)
	return s
}

// WithRealtime wires the change feed. notifier may be nil when another
// process publishes inserts.
func (s *Service) WithRealtime(listener ChangeListener, notifier ChangeNotifier, debounce time.Duration) *Service {
	s.listener = listener
	s.notifier = notifier
	if debounce > 0 {
		s.debounce = debounce
	}
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// Channels lists the configured channels.
func (s *Service) Channels() []channels.Channel {
	return s.registry.All()
}

// Channel resolves a channel id or alias. Unmapped keys resolve to the
// fallback table's channel.
func (s *Service) Channel(key string) channels.Channel {
	if ch, ok := s.registry.Lookup(key); ok {
		return ch
	}
	table := s.registry.FallbackTable()
	if ch, ok := s.registry.ByTable(table); ok {
		return ch
	}
	return channels.Channel{ID: key, TableName: table, AgentPrefix: channels.DefaultAgentPrefix}
}

func (s *Service) processor(ch channels.Channel) *Processor {
	return NewProcessor(ch, s.identity,
		WithProcessorClock(s.now),
		WithProcessorLogger(s.logger),
		WithProcessorMetrics(s.metrics),
	)
}

// Conversations runs the full pipeline for a channel. The only error it
// returns wraps ErrBulkFetch; per-record problems are absorbed.
func (s *Service) Conversations(ctx context.Context, channelKey string) ([]ConversationSummary, error) {
	ch := s.Channel(channelKey)
	ctx, span := s.tracer.Start(ctx, "inbox.conversations", trace.WithAttributes(
		attribute.String("channel", ch.ID),
		attribute.String("table", ch.TableName),
	))
	defer span.End()
	start := time.Now()

	records, err := s.store.FetchRecords(ctx, ch.TableName)
	if err != nil {
		span.RecordError(err)
		s.logger.Error("inbox: bulk fetch failed", "channel", ch.ID, "table", ch.TableName, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrBulkFetch, err)
	}

	messages := s.processor(ch).Process(records)
	summaries := GroupConversations(messages)
	summaries = s.enricher.Enrich(ctx, ch.ID, ch.TableName, summaries)

	statuses, err := s.statuses.Statuses(ctx, ch.ID)
	if err != nil {
		s.logger.Warn("inbox: status overlay unavailable", "channel", ch.ID, "error", err)
	} else {
		ApplyStatuses(summaries, statuses)
	}

	s.metrics.ObservePipelineLatency(ch.ID, time.Since(start).Seconds())
	span.SetAttributes(attribute.Int("conversations", len(summaries)))
	return summaries, nil
}

// Messages returns the processed messages of one contact in record-id order.
func (s *Service) Messages(ctx context.Context, channelKey, phone string) ([]ProcessedMessage, error) {
	ch := s.Channel(channelKey)
	records, err := s.store.FetchRecords(ctx, ch.TableName)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBulkFetch, err)
	}
	phone = strings.TrimSpace(phone)
	all := s.processor(ch).Process(records)
	out := make([]ProcessedMessage, 0)
	for _, msg := range all {
		if msg.ContactPhone == phone {
			out = append(out, msg)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RecordID < out[j].RecordID })
	return out, nil
}

// SetStatus records the operator status of a conversation.
func (s *Service) SetStatus(ctx context.Context, channelKey, phone, status string) (Status, error) {
	parsed, err := ParseStatus(status)
	if err != nil {
		return "", err
	}
	ch := s.Channel(channelKey)
	if err := s.statuses.SetStatus(ctx, ch.ID, strings.TrimSpace(phone), parsed); err != nil {
		return "", err
	}
	return parsed, nil
}

// MarkRead flags the contact's records as read.
func (s *Service) MarkRead(ctx context.Context, channelKey, phone string) error {
	ch := s.Channel(channelKey)
	return s.store.MarkRead(ctx, ch.TableName, strings.TrimSpace(phone))
}

// RecordAgentMessage stores a message the agent sent through the gateway so it
// shows up in the conversation like any other record.
func (s *Service) RecordAgentMessage(ctx context.Context, channelKey, phone, text string) (ProcessedMessage, error) {
	ch := s.Channel(channelKey)
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return ProcessedMessage{}, errors.New("inbox: agent message phone required")
	}
	content, ok := CleanContent(text)
	if !ok {
		return ProcessedMessage{}, errors.New("inbox: agent message text required")
	}
	now := s.now()
	payload, err := json.Marshal(map[string]string{
		"content":   content,
		"type":      "ia",
		"timestamp": formatTime(now),
	})
	if err != nil {
		return ProcessedMessage{}, fmt.Errorf("inbox: encode agent message: %w", err)
	}
	rec := RawMessageRecord{
		SessionID: ch.AgentPrefix + phone + "_" + strconv.FormatInt(now.Unix(), 10),
		Message:   string(payload),
	}
	id, err := s.store.InsertRecord(ctx, ch.TableName, rec, true)
	if err != nil {
		return ProcessedMessage{}, err
	}
	rec.ID = id
	s.notify(ctx, ch, rec)

	msg, ok := s.processor(ch).ProcessOne(rec)
	if !ok {
		return ProcessedMessage{}, errors.New("inbox: agent message not processable")
	}
	return msg, nil
}

// IngestInbound stores a customer message received from the gateway. Text that
// is empty after cleaning is not written; stored is false in that case.
func (s *Service) IngestInbound(ctx context.Context, channelKey, phone, text, contactName string) (id int64, stored bool, err error) {
	ch := s.Channel(channelKey)
	phone = strings.TrimSpace(phone)
	if phone == "" || !HasContent(text) {
		return 0, false, nil
	}
	message, err := s.inboundPayload(text)
	if err != nil {
		return 0, false, err
	}
	rec := RawMessageRecord{
		SessionID:       phone,
		Message:         message,
		ContactNameHint: strings.TrimSpace(contactName),
	}
	id, err = s.store.InsertRecord(ctx, ch.TableName, rec, false)
	if err != nil {
		return 0, false, err
	}
	rec.ID = id
	s.notify(ctx, ch, rec)
	return id, true, nil
}

// inboundPayload returns the stored form of customer text. Plain prose that
// reads back as itself is stored verbatim; anything the format detector would
// misread (braces, brackets, JSON literals) is wrapped in a simple JSON object.
func (s *Service) inboundPayload(text string) (string, error) {
	now := s.now()
	content, _ := CleanContent(text)
	if msg, format, ok := ParseRaw(text, now); ok && format == FormatLegacy && msg.Content == content {
		return text, nil
	}
	payload, err := json.Marshal(map[string]string{
		"content":   text,
		"type":      "human",
		"timestamp": formatTime(now),
	})
	if err != nil {
		return "", fmt.Errorf("inbox: encode inbound message: %w", err)
	}
	if _, _, ok := ParseRaw(string(payload), now); !ok {
		return "", errors.New("inbox: inbound message not processable")
	}
	return string(payload), nil
}

func (s *Service) notify(ctx context.Context, ch channels.Channel, rec RawMessageRecord) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, ch.TableName, rec); err != nil {
		s.logger.Warn("inbox: change notify failed", "channel", ch.ID, "record_id", rec.ID, "error", err)
	}
}

// Watch follows the channel's change feed and reloads the conversation list
// after each debounced burst of valid records. It returns when ctx ends.
func (s *Service) Watch(ctx context.Context, channelKey string, onRefresh RefreshFunc) error {
	if s.listener == nil {
		return errors.New("inbox: realtime not configured")
	}
	ch := s.Channel(channelKey)
	watcher := NewWatcher(s.listener, s.processor(ch), s.logger).
		WithDebounce(s.debounce).
		WithMetrics(s.metrics)
	return watcher.Watch(ctx, ch.TableName, func(ctx context.Context) {
		conversations, err := s.Conversations(ctx, ch.ID)
		s.metrics.ObserveRefresh(ch.ID, "realtime", err)
		onRefresh(ctx, conversations, err)
	})
}
