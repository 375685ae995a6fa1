// Package audit records operator actions taken from the dashboard.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of operator action.
type EventType string

const (
	// EventStatusChanged is logged when an operator changes a conversation status.
	EventStatusChanged EventType = "inbox.status_changed"
	// EventMarkedRead is logged when a conversation is marked as read.
	EventMarkedRead EventType = "inbox.marked_read"
	// EventMessageSent is logged when an operator message is accepted by the gateway.
	EventMessageSent EventType = "inbox.message_sent"
	// EventMessageFailed is logged when the gateway rejects an operator message.
	EventMessageFailed EventType = "inbox.message_failed"
)

// Event is an immutable audit record.
type Event struct {
	ID           string          `json:"id"`
	EventType    EventType       `json:"event_type"`
	ChannelID    string          `json:"channel_id"`
	ContactPhone string          `json:"contact_phone,omitempty"`
	Actor        string          `json:"actor,omitempty"`
	Details      json.RawMessage `json:"details,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Details contains event-specific fields.
type Details struct {
	// For status changes
	Status string `json:"status,omitempty"`

	// For sends
	GatewayMessageID string `json:"gateway_message_id,omitempty"`
	RecordID         int64  `json:"record_id,omitempty"`
	MediaType        string `json:"media_type,omitempty"`
	Error            string `json:"error,omitempty"`
}

// Service writes and reads audit events. A Service without a database is a
// no-op.
type Service struct {
	db  *sql.DB
	now func() time.Time
}

// NewService creates a new audit service.
func NewService(db *sql.DB) *Service {
	return &Service{db: db, now: time.Now}
}

// LogEvent records an audit event.
func (s *Service) LogEvent(ctx context.Context, event Event) error {
	if s == nil || s.db == nil {
		return nil
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now().UTC()
	}

	query := `
		INSERT INTO inbox_audit_events (
			id, event_type, channel_id, contact_phone, actor, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	var details any
	if len(event.Details) > 0 {
		details = []byte(event.Details)
	}
	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		string(event.EventType),
		event.ChannelID,
		nullString(event.ContactPhone),
		nullString(event.Actor),
		details,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: failed to log event: %w", err)
	}
	return nil
}

// LogStatusChanged logs a conversation status change.
func (s *Service) LogStatusChanged(ctx context.Context, channelID, phone, actor, status string) error {
	return s.logWithDetails(ctx, EventStatusChanged, channelID, phone, actor, Details{Status: status})
}

// LogMarkedRead logs a mark-as-read action.
func (s *Service) LogMarkedRead(ctx context.Context, channelID, phone, actor string) error {
	return s.LogEvent(ctx, Event{
		EventType:    EventMarkedRead,
		ChannelID:    channelID,
		ContactPhone: phone,
		Actor:        actor,
	})
}

// LogMessageSent logs an outbound message accepted by the gateway.
func (s *Service) LogMessageSent(ctx context.Context, channelID, phone, actor, gatewayID string, recordID int64, mediaType string) error {
	return s.logWithDetails(ctx, EventMessageSent, channelID, phone, actor, Details{
		GatewayMessageID: gatewayID,
		RecordID:         recordID,
		MediaType:        mediaType,
	})
}

// LogMessageFailed logs an outbound message the gateway did not accept.
// Message text is never stored.
func (s *Service) LogMessageFailed(ctx context.Context, channelID, phone, actor string, sendErr error) error {
	details := Details{}
	if sendErr != nil {
		details.Error = sendErr.Error()
	}
	return s.logWithDetails(ctx, EventMessageFailed, channelID, phone, actor, details)
}

func (s *Service) logWithDetails(ctx context.Context, eventType EventType, channelID, phone, actor string, details Details) error {
	detailsJSON, _ := json.Marshal(details)
	return s.LogEvent(ctx, Event{
		EventType:    eventType,
		ChannelID:    channelID,
		ContactPhone: phone,
		Actor:        actor,
		Details:      detailsJSON,
	})
}

// Filter specifies criteria for querying audit events.
type Filter struct {
	ChannelID    string
	ContactPhone string
	EventType    EventType
	StartTime    time.Time
	EndTime      time.Time
	Limit        int
	Offset       int
}

// QueryEvents retrieves audit events of a channel, newest first.
func (s *Service) QueryEvents(ctx context.Context, filter Filter) ([]Event, error) {
	if s == nil || s.db == nil {
		return []Event{}, nil
	}
	query := `
		SELECT id, event_type, channel_id, contact_phone, actor, details, created_at
		FROM inbox_audit_events
		WHERE channel_id = $1
	`
	args := []any{filter.ChannelID}
	argIdx := 2

	if filter.ContactPhone != "" {
		query += fmt.Sprintf(" AND contact_phone = $%d", argIdx)
		args = append(args, filter.ContactPhone)
		argIdx++
	}
	if filter.EventType != "" {
		query += fmt.Sprintf(" AND event_type = $%d", argIdx)
		args = append(args, string(filter.EventType))
		argIdx++
	}
	if !filter.StartTime.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, filter.StartTime)
		argIdx++
	}
	if !filter.EndTime.IsZero() {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, filter.EndTime)
	}

	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to query events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var e Event
		var eventType string
		var phone, actor sql.NullString
		var details []byte
		if err := rows.Scan(&e.ID, &eventType, &e.ChannelID, &phone, &actor, &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: failed to scan event: %w", err)
		}
		e.EventType = EventType(eventType)
		e.ContactPhone = phone.String
		e.Actor = actor.String
		if len(details) > 0 {
			e.Details = json.RawMessage(details)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: failed to iterate events: %w", err)
	}
	return events, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
