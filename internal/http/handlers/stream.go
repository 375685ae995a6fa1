package handlers

import (
	"context"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"golang.org/x/net/websocket"

	"github.com/onmp21/glamour-chat-center-34-sub000/internal/inbox"
)

// StreamEvent is what the dashboard receives over the websocket.
type StreamEvent struct {
	Type string `json:"type"` // "snapshot", "refresh", "pong", "error"
	*ConversationsResponse
}

func listEvent(kind, channelID string, convs []inbox.ConversationSummary, err error) StreamEvent {
	resp := conversationsResponse(channelID, convs, err)
	return StreamEvent{Type: kind, ConversationsResponse: &resp}
}

type streamCommand struct {
	Type string `json:"type"` // "ping", "refresh"
}

// Stream upgrades to a websocket, sends the current conversation list and then
// a new list after every debounced change on the channel. The subscription ends
// when the client disconnects.
func (h *InboxHandler) Stream(w http.ResponseWriter, r *http.Request) {
	channelKey := chi.URLParam(r, "channel")
	websocket.Handler(func(conn *websocket.Conn) {
		h.serveStream(conn, channelKey)
	}).ServeHTTP(w, r)
}

func (h *InboxHandler) serveStream(conn *websocket.Conn, channelKey string) {
	ctx, cancel := context.WithCancel(conn.Request().Context())
	defer cancel()

	ch := h.inbox.Channel(channelKey)
	var mu sync.Mutex
	send := func(ev StreamEvent) error {
		mu.Lock()
		defer mu.Unlock()
		return websocket.JSON.Send(conn, ev)
	}
	pushList := func(ctx context.Context, kind string) error {
		convs, err := h.inbox.Conversations(ctx, ch.ID)
		return send(listEvent(kind, ch.ID, convs, err))
	}

	if err := pushList(ctx, "snapshot"); err != nil {
		return
	}
	h.logger.Info("inbox: stream opened", "channel", ch.ID)
	defer h.logger.Info("inbox: stream closed", "channel", ch.ID)

	go func() {
		defer cancel()
		for {
			var cmd streamCommand
			if err := websocket.JSON.Receive(conn, &cmd); err != nil {
				return
			}
			switch cmd.Type {
			case "ping":
				_ = send(StreamEvent{Type: "pong"})
			case "refresh":
				if err := pushList(ctx, "refresh"); err != nil {
					return
				}
			}
		}
	}()

	err := h.inbox.Watch(ctx, ch.ID, func(ctx context.Context, convs []inbox.ConversationSummary, err error) {
		if sendErr := send(listEvent("refresh", ch.ID, convs, err)); sendErr != nil {
			cancel()
		}
	})
	if err != nil && ctx.Err() == nil {
		h.logger.Warn("inbox: realtime unavailable", "channel", ch.ID, "error", err)
		_ = send(StreamEvent{Type: "error", ConversationsResponse: &ConversationsResponse{
			Channel:   ch.ID,
			State:     StateError,
			Error:     "realtime updates unavailable",
			Retryable: true,
		}})
		// Keep serving manual refresh commands until the client leaves.
		<-ctx.Done()
	}
}
