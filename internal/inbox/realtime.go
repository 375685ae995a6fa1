package inbox

import (
	"context"
	"fmt"
	"time"

	"github.com/onmp21/glamour-chat-center-34-sub000/internal/observability/metrics"
	"github.com/onmp21/glamour-chat-center-34-sub000/pkg/logging"
)

// DefaultRefreshDebounce lets a burst of inserts settle before reloading.
const DefaultRefreshDebounce = 500 * time.Millisecond

// Watcher applies the realtime merge policy for one channel: a pushed record
// that survives detect, parse and identity extraction schedules a debounced
// full reload; anything else is discarded.
type Watcher struct {
	listener  ChangeListener
	processor *Processor
	debounce  time.Duration
	logger    *logging.Logger
	metrics   *metrics.InboxMetrics
}

func NewWatcher(listener ChangeListener, processor *Processor, logger *logging.Logger) *Watcher {
	if logger == nil {
		logger = logging.Default()
	}
	return &Watcher{
		listener:  listener,
		processor: processor,
		debounce:  DefaultRefreshDebounce,
		logger:    logger,
	}
}

func (w *Watcher) WithDebounce(d time.Duration) *Watcher {
	if d > 0 {
		w.debounce = d
	}
	return w
}

func (w *Watcher) WithMetrics(m *metrics.InboxMetrics) *Watcher {
	w.metrics = m
	return w
}

// Watch subscribes to table and calls onRefresh after each debounced burst of
// valid records. It blocks until ctx is cancelled or the feed closes; a
// pending refresh is dropped on cancellation.
func (w *Watcher) Watch(ctx context.Context, table string, onRefresh func(context.Context)) error {
	if w.listener == nil || w.processor == nil {
		return fmt.Errorf("inbox: watcher not configured")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	feed, err := w.listener.Listen(ctx, table)
	if err != nil {
		return err
	}
	channelID := w.processor.Channel().ID

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()
	pending := false

	for {
		select {
		case <-ctx.Done():
			return nil
		case rec, ok := <-feed:
			if !ok {
				return nil
			}
			if _, valid := w.processor.ProcessOne(rec); !valid {
				w.logger.Debug("inbox: realtime record discarded", "channel", channelID, "record_id", rec.ID)
				w.metrics.ObserveRealtimeDiscard(channelID)
				continue
			}
			if !pending {
				pending = true
				timer.Reset(w.debounce)
			}
		case <-timer.C:
			pending = false
			if ctx.Err() != nil {
				return nil
			}
			onRefresh(ctx)
		}
	}
}
