// Package handlers serves the operator dashboard API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/onmp21/glamour-chat-center-34-sub000/internal/audit"
	"github.com/onmp21/glamour-chat-center-34-sub000/internal/channels"
	"github.com/onmp21/glamour-chat-center-34-sub000/internal/gateway"
	httpmiddleware "github.com/onmp21/glamour-chat-center-34-sub000/internal/http/middleware"
	"github.com/onmp21/glamour-chat-center-34-sub000/internal/inbox"
	"github.com/onmp21/glamour-chat-center-34-sub000/internal/messaging/templates"
	"github.com/onmp21/glamour-chat-center-34-sub000/pkg/logging"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 200
)

// InboxService is the part of inbox.Service the dashboard needs.
type InboxService interface {
	Channels() []channels.Channel
	Channel(key string) channels.Channel
	Conversations(ctx context.Context, channelKey string) ([]inbox.ConversationSummary, error)
	Messages(ctx context.Context, channelKey, phone string) ([]inbox.ProcessedMessage, error)
	SetStatus(ctx context.Context, channelKey, phone, status string) (inbox.Status, error)
	MarkRead(ctx context.Context, channelKey, phone string) error
	RecordAgentMessage(ctx context.Context, channelKey, phone, text string) (inbox.ProcessedMessage, error)
	Watch(ctx context.Context, channelKey string, onRefresh inbox.RefreshFunc) error
}

// MessageSender delivers operator messages through the WhatsApp gateway.
type MessageSender interface {
	SendText(ctx context.Context, instance, phone, text string) (*gateway.SendResult, error)
	SendMedia(ctx context.Context, instance, phone string, media gateway.MediaPayload) (*gateway.SendResult, error)
}

// AuditLog records operator actions.
type AuditLog interface {
	LogStatusChanged(ctx context.Context, channelID, phone, actor, status string) error
	LogMarkedRead(ctx context.Context, channelID, phone, actor string) error
	LogMessageSent(ctx context.Context, channelID, phone, actor, gatewayID string, recordID int64, mediaType string) error
	LogMessageFailed(ctx context.Context, channelID, phone, actor string, sendErr error) error
	QueryEvents(ctx context.Context, filter audit.Filter) ([]audit.Event, error)
}

// InboxHandler serves conversations, messages and operator actions.
type InboxHandler struct {
	inbox  InboxService
	sender MessageSender
	audit  AuditLog
	logger *logging.Logger
}

// NewInboxHandler creates the dashboard handler. sender and auditLog may be nil.
func NewInboxHandler(svc InboxService, sender MessageSender, auditLog AuditLog, logger *logging.Logger) *InboxHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &InboxHandler{
		inbox:  svc,
		sender: sender,
		audit:  auditLog,
		logger: logger,
	}
}

// Pipeline states reported to the dashboard.
const (
	StateOK    = "ok"
	StateEmpty = "empty"
	StateError = "error"
)

// ConversationsResponse is the list payload for both REST and stream clients.
type ConversationsResponse struct {
	Channel       string                      `json:"channel"`
	State         string                      `json:"state"`
	Conversations []inbox.ConversationSummary `json:"conversations"`
	Error         string                      `json:"error,omitempty"`
	Retryable     bool                        `json:"retryable,omitempty"`
}

func conversationsResponse(channelID string, convs []inbox.ConversationSummary, err error) ConversationsResponse {
	resp := ConversationsResponse{Channel: channelID, Conversations: convs}
	if resp.Conversations == nil {
		resp.Conversations = []inbox.ConversationSummary{}
	}
	switch {
	case err != nil:
		resp.State = StateError
		resp.Error = "failed to load conversations"
		resp.Retryable = true
	case len(resp.Conversations) == 0:
		resp.State = StateEmpty
	default:
		resp.State = StateOK
	}
	return resp
}

type channelResponse struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Aliases   []string `json:"aliases,omitempty"`
	AgentName string   `json:"agent_name,omitempty"`
	CanSend   bool     `json:"can_send"`
}

// ListChannels returns the configured channels.
func (h *InboxHandler) ListChannels(w http.ResponseWriter, r *http.Request) {
	all := h.inbox.Channels()
	out := make([]channelResponse, 0, len(all))
	for _, ch := range all {
		out = append(out, channelResponse{
			ID:        ch.ID,
			Name:      ch.Name,
			Aliases:   ch.Aliases,
			AgentName: ch.AgentName,
			CanSend:   h.sender != nil && ch.GatewayInstance != "",
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"channels": out})
}

// ListConversations runs the pipeline for one channel.
func (h *InboxHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	ch := h.inbox.Channel(chi.URLParam(r, "channel"))
	convs, err := h.inbox.Conversations(r.Context(), ch.ID)
	resp := conversationsResponse(ch.ID, convs, err)
	if err != nil {
		h.logger.Error("inbox: list conversations failed", "channel", ch.ID, "error", err)
		writeJSON(w, http.StatusBadGateway, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListMessages returns the messages of one conversation in record order.
func (h *InboxHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	ch := h.inbox.Channel(chi.URLParam(r, "channel"))
	phone := strings.TrimSpace(chi.URLParam(r, "phone"))
	if phone == "" {
		writeError(w, http.StatusBadRequest, "phone required")
		return
	}
	msgs, err := h.inbox.Messages(r.Context(), ch.ID, phone)
	if err != nil {
		h.logger.Error("inbox: list messages failed", "channel", ch.ID, "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"state":     StateError,
			"error":     "failed to load messages",
			"retryable": true,
		})
		return
	}
	state := StateOK
	if len(msgs) == 0 {
		state = StateEmpty
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"channel":  ch.ID,
		"phone":    phone,
		"state":    state,
		"messages": msgs,
	})
}

type statusRequest struct {
	Status string `json:"status"`
}

// UpdateStatus sets the operator status of a conversation.
func (h *InboxHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	ch := h.inbox.Channel(chi.URLParam(r, "channel"))
	phone := strings.TrimSpace(chi.URLParam(r, "phone"))
	if phone == "" {
		writeError(w, http.StatusBadRequest, "phone required")
		return
	}
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	status, err := h.inbox.SetStatus(r.Context(), ch.ID, phone, req.Status)
	if errors.Is(err, inbox.ErrInvalidStatus) {
		writeError(w, http.StatusBadRequest, "status must be one of unread, in_progress, resolved")
		return
	}
	if err != nil {
		h.logger.Error("inbox: set status failed", "channel", ch.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update status")
		return
	}
	h.logAudit(r.Context(), "status_changed", func(ctx context.Context, a AuditLog) error {
		return a.LogStatusChanged(ctx, ch.ID, phone, actor(ctx), string(status))
	})
	writeJSON(w, http.StatusOK, map[string]string{
		"channel": ch.ID,
		"phone":   phone,
		"status":  string(status),
	})
}

// MarkRead flags the conversation as read. Failures are logged only; the
// dashboard does not wait on or retry this call.
func (h *InboxHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	ch := h.inbox.Channel(chi.URLParam(r, "channel"))
	phone := strings.TrimSpace(chi.URLParam(r, "phone"))
	if phone == "" {
		writeError(w, http.StatusBadRequest, "phone required")
		return
	}
	if err := h.inbox.MarkRead(r.Context(), ch.ID, phone); err != nil {
		h.logger.Warn("inbox: mark read failed", "channel", ch.ID, "error", err)
	} else {
		h.logAudit(r.Context(), "marked_read", func(ctx context.Context, a AuditLog) error {
			return a.LogMarkedRead(ctx, ch.ID, phone, actor(ctx))
		})
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

type sendRequest struct {
	Text  string                `json:"text"`
	Media *gateway.MediaPayload `json:"media,omitempty"`

	// Quick replies: Template is rendered into Text.
	Template     string         `json:"template,omitempty"`
	TemplateData map[string]any `json:"template_data,omitempty"`
	ContactName  string         `json:"contact_name,omitempty"`
}

// SendMessage delivers an operator message through the gateway and records it
// as an agent record so it flows through the same pipeline.
func (h *InboxHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	if h.sender == nil {
		writeError(w, http.StatusServiceUnavailable, "gateway not configured")
		return
	}
	ch := h.inbox.Channel(chi.URLParam(r, "channel"))
	phone := strings.TrimSpace(chi.URLParam(r, "phone"))
	if phone == "" {
		writeError(w, http.StatusBadRequest, "phone required")
		return
	}
	if ch.GatewayInstance == "" {
		writeError(w, http.StatusUnprocessableEntity, "channel has no gateway instance")
		return
	}
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	text := strings.TrimSpace(req.Text)
	if req.Template != "" {
		data := templates.ReplyData(strings.TrimSpace(req.ContactName), ch.AgentName, ch.Name, req.TemplateData)
		rendered, err := templates.Renderer{}.Render("reply", req.Template, data)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		text = rendered
	}
	if req.Media == nil && text == "" {
		writeError(w, http.StatusBadRequest, "text or media required")
		return
	}

	var (
		result    *gateway.SendResult
		err       error
		mediaType string
	)
	if req.Media != nil {
		media := *req.Media
		if media.Caption == "" {
			media.Caption = text
		}
		mediaType = media.MediaType
		result, err = h.sender.SendMedia(r.Context(), ch.GatewayInstance, phone, media)
		text = mediaRecordText(media)
	} else {
		result, err = h.sender.SendText(r.Context(), ch.GatewayInstance, phone, text)
	}
	if err != nil {
		h.logger.Error("inbox: gateway send failed", "channel", ch.ID, "error", err)
		h.logAudit(r.Context(), "message_failed", func(ctx context.Context, a AuditLog) error {
			return a.LogMessageFailed(ctx, ch.ID, phone, actor(ctx), err)
		})
		var apiErr *gateway.APIError
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":     "gateway rejected the message",
			"retryable": !errors.As(err, &apiErr) || apiErr.Retryable(),
		})
		return
	}

	resp := map[string]any{
		"gateway_message_id": result.MessageID,
		"gateway_status":     result.Status,
		"recorded":           false,
	}
	var recordID int64
	msg, err := h.inbox.RecordAgentMessage(r.Context(), ch.ID, phone, text)
	if err != nil {
		// Already delivered; the record is only missing from the dashboard.
		h.logger.Error("inbox: record agent message failed", "channel", ch.ID, "error", err)
	} else {
		recordID = msg.RecordID
		resp["recorded"] = true
		resp["message"] = msg
	}
	h.logAudit(r.Context(), "message_sent", func(ctx context.Context, a AuditLog) error {
		return a.LogMessageSent(ctx, ch.ID, phone, actor(ctx), result.MessageID, recordID, mediaType)
	})
	writeJSON(w, http.StatusCreated, resp)
}

func mediaRecordText(media gateway.MediaPayload) string {
	if caption := strings.TrimSpace(media.Caption); caption != "" {
		return caption
	}
	if name := strings.TrimSpace(media.FileName); name != "" {
		return "[" + media.MediaType + "] " + name
	}
	return "[" + media.MediaType + "]"
}

// ListAudit returns recent operator actions for a channel.
func (h *InboxHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeJSON(w, http.StatusOK, map[string]any{"events": []audit.Event{}})
		return
	}
	ch := h.inbox.Channel(chi.URLParam(r, "channel"))
	q := r.URL.Query()
	limit := defaultAuditLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxAuditLimit)
	}
	events, err := h.audit.QueryEvents(r.Context(), audit.Filter{
		ChannelID:    ch.ID,
		ContactPhone: strings.TrimSpace(q.Get("phone")),
		EventType:    audit.EventType(strings.TrimSpace(q.Get("type"))),
		Limit:        limit,
	})
	if err != nil {
		h.logger.Error("inbox: audit query failed", "channel", ch.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load audit events")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (h *InboxHandler) logAudit(ctx context.Context, action string, fn func(context.Context, AuditLog) error) {
	if h.audit == nil {
		return
	}
	if err := fn(ctx, h.audit); err != nil {
		h.logger.Warn("inbox: audit write failed", "action", action, "error", err)
	}
}

func actor(ctx context.Context) string {
	if claims, ok := httpmiddleware.OperatorFromContext(ctx); ok {
		return claims.Actor()
	}
	return ""
}
