package inbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Querier is the subset of pgx used by the record store.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// RecordStore is the channel-table store the pipeline reads from.
type RecordStore interface {
	UnreadCounter
	FetchRecords(ctx context.Context, table string) ([]RawMessageRecord, error)
	MarkRead(ctx context.Context, table, phone string) error
	InsertRecord(ctx context.Context, table string, rec RawMessageRecord, read bool) (int64, error)
}

// PGRecordStore reads and writes channel tables in Postgres. Table names must
// come from the channel registry; they are quoted but never user supplied.
type PGRecordStore struct {
	db     Querier
	tracer trace.Tracer
}

func NewPGRecordStore(db Querier) *PGRecordStore {
	if db == nil {
		panic("inbox: querier required")
	}
	return &PGRecordStore{
		db:     db,
		tracer: otel.Tracer("chatcenter.internal.inbox.records"),
	}
}

// FetchRecords returns every record of a table in ascending id order. Ids
// must be strictly increasing; the grouper relies on it.
func (s *PGRecordStore) FetchRecords(ctx context.Context, table string) ([]RawMessageRecord, error) {
	ctx, span := s.tracer.Start(ctx, "inbox.records.fetch", trace.WithAttributes(attribute.String("table", table)))
	defer span.End()

	query := fmt.Sprintf(`
		SELECT id, COALESCE(session_id, ''), COALESCE(message, ''), COALESCE(contact_name, '')
		FROM %s
		ORDER BY id ASC
	`, quoteTable(table))
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("inbox: fetch records from %s: %w", table, err)
	}
	defer rows.Close()

	records := make([]RawMessageRecord, 0, 64)
	var lastID int64
	for rows.Next() {
		var rec RawMessageRecord
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Message, &rec.ContactNameHint); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("inbox: scan record: %w", err)
		}
		if len(records) > 0 && rec.ID <= lastID {
			span.RecordError(ErrNonMonotonicIDs)
			return nil, fmt.Errorf("%w: %d after %d in %s", ErrNonMonotonicIDs, rec.ID, lastID, table)
		}
		lastID = rec.ID
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("inbox: iterate records: %w", err)
	}
	span.SetAttributes(attribute.Int("records", len(records)))
	return records, nil
}

// CountUnread counts unread records whose session id contains the phone.
func (s *PGRecordStore) CountUnread(ctx context.Context, table, phone string) (int, error) {
	if phone == "" {
		return 0, nil
	}
	ctx, span := s.tracer.Start(ctx, "inbox.records.count_unread", trace.WithAttributes(attribute.String("table", table)))
	defer span.End()

	query := fmt.Sprintf(`
		SELECT COUNT(*) FROM %s
		WHERE is_read = false AND strpos(session_id, $1) > 0
	`, quoteTable(table))
	var count int
	if err := s.db.QueryRow(ctx, query, phone).Scan(&count); err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("inbox: count unread: %w", err)
	}
	return count, nil
}

// MarkRead flags every unread record of a contact as read.
func (s *PGRecordStore) MarkRead(ctx context.Context, table, phone string) error {
	if phone == "" {
		return errors.New("inbox: mark read phone required")
	}
	ctx, span := s.tracer.Start(ctx, "inbox.records.mark_read", trace.WithAttributes(attribute.String("table", table)))
	defer span.End()

	query := fmt.Sprintf(`
		UPDATE %s SET is_read = true
		WHERE is_read = false AND strpos(session_id, $1) > 0
	`, quoteTable(table))
	if _, err := s.db.Exec(ctx, query, phone); err != nil {
		span.RecordError(err)
		return fmt.Errorf("inbox: mark read: %w", err)
	}
	return nil
}

// InsertRecord appends a record and returns the id the store assigned.
func (s *PGRecordStore) InsertRecord(ctx context.Context, table string, rec RawMessageRecord, read bool) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "inbox.records.insert", trace.WithAttributes(attribute.String("table", table)))
	defer span.End()

	query := fmt.Sprintf(`
		INSERT INTO %s (session_id, message, contact_name, is_read, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, now())
		RETURNING id
	`, quoteTable(table))
	var id int64
	if err := s.db.QueryRow(ctx, query, rec.SessionID, rec.Message, rec.ContactNameHint, read).Scan(&id); err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("inbox: insert record: %w", err)
	}
	return id, nil
}

func quoteTable(table string) string {
	return pgx.Identifier{table}.Sanitize()
}
