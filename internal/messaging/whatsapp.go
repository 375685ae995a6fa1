package messaging

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const eventMessagesUpsert = "messages.upsert"

// InboundMessage is a gateway delivery reduced to what the inbox stores.
type InboundMessage struct {
	Event     string
	MessageID string
	Phone     string
	Text      string
	PushName  string
	FromMe    bool
	IsGroup   bool
}

// Ignorable reports deliveries that must not be written: echoes of our own
// sends, group traffic, other event types and messages without text.
func (m InboundMessage) Ignorable() (string, bool) {
	switch {
	case m.Event != "" && normalizeEvent(m.Event) != eventMessagesUpsert:
		return "event", true
	case m.FromMe:
		return "from_me", true
	case m.IsGroup:
		return "group", true
	case m.Phone == "":
		return "no_phone", true
	case strings.TrimSpace(m.Text) == "":
		return "no_text", true
	}
	return "", false
}

// normalizeEvent maps "MESSAGES_UPSERT" and "messages.upsert" to one form.
func normalizeEvent(event string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(event)), "_", ".")
}

type evolutionPayload struct {
	Event    string          `json:"event"`
	Instance string          `json:"instance"`
	Data     json.RawMessage `json:"data"`
}

type evolutionMessage struct {
	Key struct {
		RemoteJID string `json:"remoteJid"`
		FromMe    bool   `json:"fromMe"`
		ID        string `json:"id"`
	} `json:"key"`
	PushName string `json:"pushName"`
	Message  struct {
		Conversation        string `json:"conversation"`
		ExtendedTextMessage struct {
			Text string `json:"text"`
		} `json:"extendedTextMessage"`
		ImageMessage struct {
			Caption string `json:"caption"`
		} `json:"imageMessage"`
		VideoMessage struct {
			Caption string `json:"caption"`
		} `json:"videoMessage"`
		DocumentMessage struct {
			Caption string `json:"caption"`
		} `json:"documentMessage"`
	} `json:"message"`
}

func (m evolutionMessage) text() string {
	for _, candidate := range []string{
		m.Message.Conversation,
		m.Message.ExtendedTextMessage.Text,
		m.Message.ImageMessage.Caption,
		m.Message.VideoMessage.Caption,
		m.Message.DocumentMessage.Caption,
	} {
		if strings.TrimSpace(candidate) != "" {
			return candidate
		}
	}
	return ""
}

type flatPayload struct {
	Phone      string          `json:"phone"`
	Text       json.RawMessage `json:"text"`
	Message    string          `json:"message"`
	MessageID  string          `json:"messageId"`
	SenderName string          `json:"senderName"`
	ChatName   string          `json:"chatName"`
	FromMe     bool            `json:"fromMe"`
	IsGroup    bool            `json:"isGroup"`
}

func (p flatPayload) text() string {
	raw := strings.TrimSpace(string(p.Text))
	if raw == "" || raw == "null" {
		return p.Message
	}
	var s string
	if err := json.Unmarshal(p.Text, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(p.Text, &obj); err == nil {
		return obj.Message
	}
	return ""
}

// ParseWebhook decodes either an Evolution API event envelope or the flat
// payload used by simpler gateways. messages.upsert may batch several messages
// in one delivery; every one of them is returned, in delivery order.
func ParseWebhook(body []byte) ([]InboundMessage, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, errors.New("messaging: empty webhook body")
	}
	var envelope evolutionPayload
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("messaging: decode webhook: %w", err)
	}
	if len(envelope.Data) > 0 && string(envelope.Data) != "null" {
		return parseEvolution(envelope)
	}

	var flat flatPayload
	if err := json.Unmarshal(body, &flat); err != nil {
		return nil, fmt.Errorf("messaging: decode webhook: %w", err)
	}
	name := strings.TrimSpace(flat.SenderName)
	if name == "" {
		name = strings.TrimSpace(flat.ChatName)
	}
	return []InboundMessage{{
		MessageID: strings.TrimSpace(flat.MessageID),
		Phone:     NormalizePhone(flat.Phone),
		Text:      flat.text(),
		PushName:  name,
		FromMe:    flat.FromMe,
		IsGroup:   flat.IsGroup,
	}}, nil
}

func parseEvolution(envelope evolutionPayload) ([]InboundMessage, error) {
	var batch []evolutionMessage
	var single evolutionMessage
	if err := json.Unmarshal(envelope.Data, &single); err == nil {
		batch = []evolutionMessage{single}
	} else if errBatch := json.Unmarshal(envelope.Data, &batch); errBatch != nil {
		return nil, fmt.Errorf("messaging: decode webhook data: %w", err)
	}
	if len(batch) == 0 {
		return nil, errors.New("messaging: webhook batch is empty")
	}
	event := strings.TrimSpace(envelope.Event)
	out := make([]InboundMessage, 0, len(batch))
	for _, data := range batch {
		jid := strings.TrimSpace(data.Key.RemoteJID)
		out = append(out, InboundMessage{
			Event:     event,
			MessageID: strings.TrimSpace(data.Key.ID),
			Phone:     PhoneFromJID(jid),
			Text:      data.text(),
			PushName:  strings.TrimSpace(data.PushName),
			FromMe:    data.Key.FromMe,
			IsGroup:   strings.HasSuffix(jid, "@g.us"),
		})
	}
	return out, nil
}
