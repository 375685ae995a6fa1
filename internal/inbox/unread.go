package inbox

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/onmp21/glamour-chat-center-34-sub000/internal/observability/metrics"
	"github.com/onmp21/glamour-chat-center-34-sub000/pkg/logging"
)

// UnreadCounter counts unread records of one contact in one channel table.
type UnreadCounter interface {
	CountUnread(ctx context.Context, table, phone string) (int, error)
}

const (
	defaultUnreadTimeout     = 3 * time.Second
	defaultUnreadConcurrency = 8
)

// UnreadEnricher fills UnreadCount on conversation summaries. Lookups run
// concurrently and a failed lookup leaves its conversation at zero.
type UnreadEnricher struct {
	counter     UnreadCounter
	timeout     time.Duration
	concurrency int
	logger      *logging.Logger
	metrics     *metrics.InboxMetrics
}

func NewUnreadEnricher(counter UnreadCounter, logger *logging.Logger) *UnreadEnricher {
	if logger == nil {
		logger = logging.Default()
	}
	return &UnreadEnricher{
		counter:     counter,
		timeout:     defaultUnreadTimeout,
		concurrency: defaultUnreadConcurrency,
		logger:      logger,
	}
}

// WithTimeout bounds each lookup.
func (e *UnreadEnricher) WithTimeout(d time.Duration) *UnreadEnricher {
	if d > 0 {
		e.timeout = d
	}
	return e
}

// WithConcurrency caps in-flight lookups.
func (e *UnreadEnricher) WithConcurrency(n int) *UnreadEnricher {
	if n > 0 {
		e.concurrency = n
	}
	return e
}

func (e *UnreadEnricher) WithMetrics(m *metrics.InboxMetrics) *UnreadEnricher {
	e.metrics = m
	return e
}

// Enrich looks up unread counts for every summary and returns a copy with
// each count merged back into the summary it was issued for. It never returns an error.
func (e *UnreadEnricher) Enrich(ctx context.Context, channelID, table string, summaries []ConversationSummary) []ConversationSummary {
	out := make([]ConversationSummary, len(summaries))
	copy(out, summaries)
	if len(out) == 0 || e == nil || e.counter == nil {
		return out
	}

	counts := make([]int, len(out))
	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i := range out {
		i := i
		phone := out[i].ContactPhone
		g.Go(func() error {
			count, err := e.lookup(ctx, table, phone)
			if err != nil {
				e.logger.Warn("inbox: unread lookup failed",
					"channel", channelID,
					"table", table,
					"contact_phone", phone,
					"error", err,
				)
				e.metrics.ObserveUnreadFailure(channelID)
				return nil
			}
			counts[i] = count
			return nil
		})
	}
	_ = g.Wait()

	for i := range out {
		out[i].UnreadCount = counts[i]
	}
	return out
}

func (e *UnreadEnricher) lookup(ctx context.Context, table, phone string) (count int, err error) {
	defer func() {
		if r := recover(); r != nil {
			count, err = 0, fmt.Errorf("inbox: unread lookup panicked: %v", r)
		}
	}()
	lookupCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	count, err = e.counter.CountUnread(lookupCtx, table, phone)
	if err != nil {
		return 0, err
	}
	if count < 0 {
		return 0, nil
	}
	return count, nil
}
