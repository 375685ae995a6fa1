package handlers

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/onmp21/glamour-chat-center-34-sub000/internal/audit"
	"github.com/onmp21/glamour-chat-center-34-sub000/internal/channels"
	"github.com/onmp21/glamour-chat-center-34-sub000/internal/gateway"
	"github.com/onmp21/glamour-chat-center-34-sub000/internal/inbox"
	"github.com/onmp21/glamour-chat-center-34-sub000/pkg/logging"
)

type fakeInbox struct {
	registry *channels.Registry

	mu        sync.Mutex
	convs     []inbox.ConversationSummary
	convErr   error
	msgs      []inbox.ProcessedMessage
	statusErr error
	markErr   error
	recordErr error
	watchErr  error
	statuses  map[string]inbox.Status
	marked    []string
	recorded  []string

	refresh   chan []inbox.ConversationSummary
	watching  chan struct{}
	stopped   chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

func newFakeInbox(t *testing.T) *fakeInbox {
	t.Helper()
	reg, err := channels.Load("", "", "")
	if err != nil {
		t.Fatalf("load registry: %v", err)
	}
	return &fakeInbox{
		registry: reg,
		statuses: map[string]inbox.Status{},
		refresh:  make(chan []inbox.ConversationSummary, 4),
		watching: make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

func (f *fakeInbox) Channels() []channels.Channel { return f.registry.All() }

func (f *fakeInbox) Channel(key string) channels.Channel {
	if ch, ok := f.registry.Lookup(key); ok {
		return ch
	}
	ch, _ := f.registry.ByTable(f.registry.FallbackTable())
	return ch
}

func (f *fakeInbox) Conversations(_ context.Context, _ string) ([]inbox.ConversationSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.convErr != nil {
		return nil, f.convErr
	}
	return f.convs, nil
}

func (f *fakeInbox) Messages(_ context.Context, _, _ string) ([]inbox.ProcessedMessage, error) {
	if f.convErr != nil {
		return nil, f.convErr
	}
	return f.msgs, nil
}

func (f *fakeInbox) SetStatus(_ context.Context, _, phone, status string) (inbox.Status, error) {
	parsed, err := inbox.ParseStatus(status)
	if err != nil {
		return "", err
	}
	if f.statusErr != nil {
		return "", f.statusErr
	}
	f.mu.Lock()
	f.statuses[phone] = parsed
	f.mu.Unlock()
	return parsed, nil
}

func (f *fakeInbox) MarkRead(_ context.Context, _, phone string) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.mu.Lock()
	f.marked = append(f.marked, phone)
	f.mu.Unlock()
	return nil
}

func (f *fakeInbox) RecordAgentMessage(_ context.Context, channelKey, phone, text string) (inbox.ProcessedMessage, error) {
	if f.recordErr != nil {
		return inbox.ProcessedMessage{}, f.recordErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorded = append(f.recorded, text)
	return inbox.ProcessedMessage{
		ID:           "rec-" + phone,
		RecordID:     int64(40 + len(f.recorded)),
		Content:      text,
		Sender:       inbox.SenderAgent,
		ContactPhone: phone,
		MessageType:  inbox.MessageTypeAI,
	}, nil
}

func (f *fakeInbox) Watch(ctx context.Context, _ string, onRefresh inbox.RefreshFunc) error {
	f.startOnce.Do(func() { close(f.watching) })
	defer f.stopOnce.Do(func() { close(f.stopped) })
	if f.watchErr != nil {
		return f.watchErr
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case list := <-f.refresh:
			onRefresh(ctx, list, nil)
		}
	}
}

type sendCall struct {
	instance, phone, text string
	media               *gateway.MediaPayload
}

type fakeSender struct {
	mu    sync.Mutex
	calls []sendCall
	err   error
}

func (s *fakeSender) SendText(_ context.Context, instance, phone, text string) (*gateway.SendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sendCall{instance: instance, phone: phone, text: text})
	if s.err != nil {
		return nil, s.err
	}
	return &gateway.SendResult{MessageID: "BAE5F0", Status: "PENDING"}, nil
}

func (s *fakeSender) SendMedia(_ context.Context, instance, phone string, media gateway.MediaPayload) (*gateway.SendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sendCall{instance: instance, phone: phone, media: &media})
	if s.err != nil {
		return nil, s.err
	}
	return &gateway.SendResult{MessageID: "BAE5F1", Status: "PENDING"}, nil
}

type auditEntry struct {
	kind, channel, phone, actor, detail string
	recordID                            int64
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []auditEntry
	events  []audit.Event
	filter  audit.Filter
	err     error
}

func (a *fakeAudit) add(e auditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
	return a.err
}

func (a *fakeAudit) LogStatusChanged(_ context.Context, channelID, phone, actor, status string) error {
	return a.add(auditEntry{kind: "status", channel: channelID, phone: phone, actor: actor, detail: status})
}

func (a *fakeAudit) LogMarkedRead(_ context.Context, channelID, phone, actor string) error {
	return a.add(auditEntry{kind: "read", channel: channelID, phone: phone, actor: actor})
}

func (a *fakeAudit) LogMessageSent(_ context.Context, channelID, phone, actor, gatewayID string, recordID int64, _ string) error {
	return a.add(auditEntry{kind: "sent", channel: channelID, phone: phone, actor: actor, detail: gatewayID, recordID: recordID})
}

func (a *fakeAudit) LogMessageFailed(_ context.Context, channelID, phone, actor string, sendErr error) error {
	return a.add(auditEntry{kind: "failed", channel: channelID, phone: phone, actor: actor, detail: sendErr.Error()})
}

func (a *fakeAudit) QueryEvents(_ context.Context, filter audit.Filter) ([]audit.Event, error) {
	a.filter = filter
	if a.err != nil {
		return nil, a.err
	}
	return a.events, nil
}

var errStoreDown = errors.New("connection refused")

func newTestRouter(h *InboxHandler) http.Handler {
	r := chi.NewRouter()
	r.Route("/api/channels", func(r chi.Router) {
		r.Get("/", h.ListChannels)
		r.Route("/{channel}", func(r chi.Router) {
			r.Get("/conversations", h.ListConversations)
			r.Get("/conversations/{phone}/messages", h.ListMessages)
			r.Post("/conversations/{phone}/messages", h.SendMessage)
			r.Put("/conversations/{phone}/status", h.UpdateStatus)
			r.Post("/conversations/{phone}/read", h.MarkRead)
			r.Get("/audit", h.ListAudit)
			r.Get("/stream", h.Stream)
		})
	})
	return r
}

func quietLogger() *logging.Logger {
	return logging.New("error")
}
