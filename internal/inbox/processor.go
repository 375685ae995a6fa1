package inbox

import (
	"strconv"
	"strings"
	"time"

	"github.com/onmp21/glamour-chat-center-34-sub000/internal/channels"
	"github.com/onmp21/glamour-chat-center-34-sub000/internal/observability/metrics"
	"github.com/onmp21/glamour-chat-center-34-sub000/pkg/logging"
)

// Processor turns raw records of one channel into ProcessedMessages. It does
// no I/O; everything channel specific comes from the registry entry.
type Processor struct {
	channel  channels.Channel
	identity *IdentityExtractor
	now      func() time.Time
	logger   *logging.Logger
	metrics  *metrics.InboxMetrics
}

// ProcessorOption customises a Processor.
type ProcessorOption func(*Processor)

// WithProcessorClock overrides the clock used for payloads without a timestamp.
func WithProcessorClock(now func() time.Time) ProcessorOption {
	return func(p *Processor) {
		if now != nil {
			p.now = now
		}
	}
}

func WithProcessorLogger(logger *logging.Logger) ProcessorOption {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func WithProcessorMetrics(m *metrics.InboxMetrics) ProcessorOption {
	return func(p *Processor) {
		p.metrics = m
	}
}

// NewProcessor builds a processor for one channel.
func NewProcessor(ch channels.Channel, identity *IdentityExtractor, opts ...ProcessorOption) *Processor {
	if identity == nil {
		identity = NewIdentityExtractor(nil)
	}
	p := &Processor{
		channel:  ch,
		identity: identity,
		now:      time.Now,
		logger:   logging.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Channel returns the channel this processor was built for.
func (p *Processor) Channel() channels.Channel {
	return p.channel
}

// ProcessOne runs detect, parse and identity extraction on one record. ok is
// false when the record was dropped.
func (p *Processor) ProcessOne(rec RawMessageRecord) (ProcessedMessage, bool) {
	payload := Classify(rec.Message)
	parsed, ok := Parse(payload, p.now())
	if !ok {
		p.logger.Debug("inbox: dropping record",
			"channel", p.channel.ID,
			"record_id", rec.ID,
			"format", string(payload.Format),
		)
		p.metrics.ObserveRecord(p.channel.ID, string(payload.Format), "dropped")
		return ProcessedMessage{}, false
	}
	p.metrics.ObserveRecord(p.channel.ID, string(payload.Format), "accepted")

	msg := ProcessedMessage{
		ID:           strconv.FormatInt(rec.ID, 10),
		RecordID:     rec.ID,
		Content:      parsed.Content,
		Timestamp:    parsed.Timestamp,
		ContactPhone: p.identity.Phone(rec.SessionID),
		MessageType:  MessageTypeHuman,
	}
	if parsed.Role == RoleAssistant {
		msg.MessageType = MessageTypeAI
	}

	if p.isAgent(rec.SessionID) {
		msg.Sender = SenderAgent
		msg.ContactName = p.agentName()
		return msg, true
	}
	msg.Sender = SenderCustomer
	msg.ContactName = p.contactName(rec)
	return msg, true
}

// Process runs ProcessOne over a batch, keeping input order. It never fails;
// an empty batch gives an empty, non-nil slice.
func (p *Processor) Process(records []RawMessageRecord) []ProcessedMessage {
	out := make([]ProcessedMessage, 0, len(records))
	for _, rec := range records {
		if msg, ok := p.ProcessOne(rec); ok {
			out = append(out, msg)
		}
	}
	return out
}

func (p *Processor) isAgent(sessionID string) bool {
	prefix := p.channel.AgentPrefix
	return prefix != "" && strings.HasPrefix(strings.TrimSpace(sessionID), prefix)
}

func (p *Processor) agentName() string {
	if p.channel.AgentName != "" {
		return p.channel.AgentName
	}
	if p.channel.Name != "" {
		return p.channel.Name
	}
	return p.channel.ID
}

func (p *Processor) contactName(rec RawMessageRecord) string {
	if name, found := p.identity.name(rec.SessionID); found {
		return name
	}
	if hint := strings.TrimSpace(rec.ContactNameHint); hint != "" {
		return hint
	}
	if p.channel.DefaultContactName != "" {
		return p.channel.DefaultContactName
	}
	return p.identity.Name(rec.SessionID)
}
