// Package messaging receives inbound WhatsApp gateway webhooks and writes
// them as channel records.
package messaging

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/onmp21/glamour-chat-center-34-sub000/internal/channels"
	"github.com/onmp21/glamour-chat-center-34-sub000/internal/events"
	"github.com/onmp21/glamour-chat-center-34-sub000/internal/observability/metrics"
	"github.com/onmp21/glamour-chat-center-34-sub000/pkg/logging"
)

var webhookTracer = otel.Tracer("chatcenter.internal.messaging.whatsapp")

const maxWebhookBody = 1 << 20

// Ingest outcomes reported to the gateway.
const (
	StatusAccepted  = "accepted"
	StatusIgnored   = "ignored"
	StatusDuplicate = "duplicate"
)

type inboundIngester interface {
	IngestInbound(ctx context.Context, channelKey, phone, text, contactName string) (int64, bool, error)
}

type channelLookup interface {
	Lookup(key string) (channels.Channel, bool)
}

// Handler handles WhatsApp gateway webhook requests.
type Handler struct {
	webhookSecret string
	channels      channelLookup
	ingester      inboundIngester
	deduper       events.Deduper
	logger        *logging.Logger
	metrics       *metrics.InboxMetrics
}

// NewHandler creates a webhook handler. deduper may be nil, in which case
// provider retries are stored again.
func NewHandler(webhookSecret string, lookup channelLookup, ingester inboundIngester, deduper events.Deduper, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	if lookup == nil {
		panic("messaging: channel lookup cannot be nil")
	}
	if ingester == nil {
		panic("messaging: ingester cannot be nil")
	}
	return &Handler{
		webhookSecret: webhookSecret,
		channels:      lookup,
		ingester:      ingester,
		deduper:       deduper,
		logger:        logger,
	}
}

func (h *Handler) WithMetrics(m *metrics.InboxMetrics) *Handler {
	h.metrics = m
	return h
}

type webhookResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
	ID     int64  `json:"id,omitempty"`

	Messages []webhookResponse `json:"messages,omitempty"`
}

// WhatsAppWebhook handles POST /webhooks/whatsapp/{channel}.
func (h *Handler) WhatsAppWebhook(w http.ResponseWriter, r *http.Request) {
	ctx, span := webhookTracer.Start(r.Context(), "messaging.whatsapp.webhook")
	defer span.End()

	channelKey := chi.URLParam(r, "channel")
	ch, ok := h.channels.Lookup(channelKey)
	if !ok {
		h.logger.Warn("whatsapp webhook for unknown channel", "channel", channelKey)
		http.Error(w, "Unknown channel", http.StatusNotFound)
		return
	}
	span.SetAttributes(attribute.String("chatcenter.channel", ch.ID))

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.logger.Error("failed to read whatsapp webhook", "error", err)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		span.RecordError(err)
		return
	}
	if h.webhookSecret != "" {
		if err := ValidateSignature(body, h.webhookSecret, r.Header.Get(SignatureHeader)); err != nil {
			h.logger.Warn("invalid whatsapp webhook signature", "channel", ch.ID, "error", err)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			span.RecordError(err)
			return
		}
	}

	msgs, err := ParseWebhook(body)
	if err != nil {
		h.logger.Error("failed to parse whatsapp webhook", "channel", ch.ID, "error", err)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		span.RecordError(err)
		return
	}
	span.SetAttributes(attribute.Int("chatcenter.webhook.messages", len(msgs)))

	results := make([]webhookResponse, 0, len(msgs))
	for _, msg := range msgs {
		result, err := h.ingest(ctx, ch.ID, msg)
		if err != nil {
			// Messages already stored keep their dedupe keys, so the gateway's
			// retry only writes the rest of the batch.
			span.RecordError(err)
			http.Error(w, "Failed to store message", http.StatusInternalServerError)
			return
		}
		results = append(results, result)
	}
	h.respond(w, summarize(results))
}

// ingest dedupes and stores one delivered message.
func (h *Handler) ingest(ctx context.Context, channelID string, msg InboundMessage) (webhookResponse, error) {
	if reason, skip := msg.Ignorable(); skip {
		h.logger.Debug("whatsapp webhook ignored", "channel", channelID, "reason", reason, "message_id", msg.MessageID)
		h.metrics.ObserveIngest(channelID, StatusIgnored)
		return webhookResponse{Status: StatusIgnored, Reason: reason}, nil
	}

	provider := "whatsapp:" + channelID
	dedupe := h.deduper != nil && msg.MessageID != ""
	if dedupe {
		fresh, err := h.deduper.MarkProcessed(ctx, provider, msg.MessageID)
		if err != nil {
			// Store anyway; a retry may then be written twice.
			h.logger.Warn("whatsapp dedupe unavailable", "channel", channelID, "error", err)
			dedupe = false
		} else if !fresh {
			h.metrics.ObserveIngest(channelID, StatusDuplicate)
			return webhookResponse{Status: StatusDuplicate}, nil
		}
	}

	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	id, stored, err := h.ingester.IngestInbound(writeCtx, channelID, msg.Phone, msg.Text, msg.PushName)
	if err != nil {
		h.logger.Error("failed to store whatsapp message", "channel", channelID, "message_id", msg.MessageID, "error", err)
		if dedupe {
			if relErr := h.deduper.Release(context.WithoutCancel(ctx), provider, msg.MessageID); relErr != nil {
				h.logger.Warn("failed to release whatsapp dedupe key", "channel", channelID, "error", relErr)
			}
		}
		h.metrics.ObserveIngest(channelID, "error")
		return webhookResponse{}, err
	}
	if !stored {
		h.metrics.ObserveIngest(channelID, StatusIgnored)
		return webhookResponse{Status: StatusIgnored, Reason: "no_text"}, nil
	}

	h.logger.Info("whatsapp webhook accepted", "channel", channelID, "record_id", id, "message_id", msg.MessageID)
	h.metrics.ObserveIngest(channelID, StatusAccepted)
	return webhookResponse{Status: StatusAccepted, ID: id}, nil
}

// summarize folds per-message outcomes into one response. A single message
// answers with its own outcome; a batch is accepted when any message was.
func summarize(results []webhookResponse) webhookResponse {
	if len(results) == 1 {
		return results[0]
	}
	resp := webhookResponse{Status: results[0].Status, Messages: results}
	for _, r := range results {
		if r.Status == StatusAccepted {
			resp.Status = StatusAccepted
			break
		}
	}
	return resp
}

func (h *Handler) respond(w http.ResponseWriter, resp webhookResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Debug("failed to write webhook response", "error", err)
	}
}
