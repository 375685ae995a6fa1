// Package inbox turns loosely structured message records from several upstream
// integrations into per-contact conversation summaries for the dashboard.
package inbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrBulkFetch marks a failed store read for a whole channel. It is the only
	// pipeline failure that reaches callers.
	ErrBulkFetch = errors.New("inbox: bulk fetch failed")
	// ErrNonMonotonicIDs is returned when the store hands back records whose ids
	// are not strictly increasing.
	ErrNonMonotonicIDs = errors.New("inbox: record ids are not strictly increasing")
	// ErrInvalidStatus is returned for unknown conversation statuses.
	ErrInvalidStatus = errors.New("inbox: invalid conversation status")
)

// RawMessageRecord is one row of a channel table as read from the store.
type RawMessageRecord struct {
	ID              int64  `json:"id"`
	SessionID       string `json:"session_id"`
	Message         string `json:"message"`
	ContactNameHint string `json:"contact_name,omitempty"`
}

// UnmarshalJSON accepts "message" either as a string or as an already decoded
// JSON structure (change-feed payloads built with row_to_json on jsonb columns).
func (r *RawMessageRecord) UnmarshalJSON(data []byte) error {
	var wire struct {
		ID          int64           `json:"id"`
		SessionID   string          `json:"session_id"`
		Message     json.RawMessage `json:"message"`
		ContactName *string         `json:"contact_name"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("inbox: decode record: %w", err)
	}
	r.ID = wire.ID
	r.SessionID = wire.SessionID
	r.Message = ""
	r.ContactNameHint = ""
	if wire.ContactName != nil {
		r.ContactNameHint = *wire.ContactName
	}
	raw := strings.TrimSpace(string(wire.Message))
	switch {
	case raw == "" || raw == "null":
	case raw[0] == '"':
		if err := json.Unmarshal(wire.Message, &r.Message); err != nil {
			return fmt.Errorf("inbox: decode record message: %w", err)
		}
	default:
		r.Message = raw
	}
	return nil
}

// Role is the author role found inside a payload.
type Role string

const (
	RoleHuman     Role = "human"
	RoleAssistant Role = "assistant"
	RoleUnknown   Role = "unknown"
)

// ParsedMessage is the output of a format parser.
type ParsedMessage struct {
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
	Role      Role   `json:"role"`
}

// Sender says which side of the conversation wrote a message.
type Sender string

const (
	SenderCustomer Sender = "customer"
	SenderAgent    Sender = "agent"
)

// MessageType separates AI-authored text from human text.
type MessageType string

const (
	MessageTypeHuman MessageType = "human"
	MessageTypeAI    MessageType = "ai"
)

// ProcessedMessage is a parsed record with contact identity and sender role.
type ProcessedMessage struct {
	ID           string      `json:"id"`
	RecordID     int64       `json:"-"`
	Content      string      `json:"content"`
	Timestamp    string      `json:"timestamp"`
	Sender       Sender      `json:"sender"`
	ContactName  string      `json:"contact_name"`
	ContactPhone string      `json:"contact_phone"`
	MessageType  MessageType `json:"message_type"`
}

// Status is the operator-tracked state of a conversation.
type Status string

const (
	StatusUnread     Status = "unread"
	StatusInProgress Status = "in_progress"
	StatusResolved   Status = "resolved"
)

// ParseStatus validates a status string.
func ParseStatus(value string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(value))) {
	case StatusUnread:
		return StatusUnread, nil
	case StatusInProgress:
		return StatusInProgress, nil
	case StatusResolved:
		return StatusResolved, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, value)
	}
}

// ConversationSummary aggregates every message of one contact in one channel.
type ConversationSummary struct {
	ID              string `json:"id"`
	ContactName     string `json:"contact_name"`
	ContactPhone    string `json:"contact_phone"`
	LastMessage     string `json:"last_message"`
	LastMessageTime string `json:"last_message_time"`
	Status          Status `json:"status"`
	UnreadCount     int    `json:"unread_count"`
	MessageCount    int    `json:"message_count"`
	LastRecordID    int64  `json:"-"`
}
