package inbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/onmp21/glamour-chat-center-34-sub000/pkg/logging"
)

const (
	pgChannelPrefix    = "inbox_"
	redisChannelPrefix = "inbox:records:"

	// Postgres rejects NOTIFY payloads of 8000 bytes or more.
	maxNotifyPayload = 7999

	listenerBuffer = 32
)

var errPayloadTooLarge = errors.New("inbox: change payload too large for pg_notify")

// ChangeListener delivers records inserted into a channel table. The returned
// channel is closed once ctx is cancelled.
type ChangeListener interface {
	Listen(ctx context.Context, table string) (<-chan RawMessageRecord, error)
}

// ChangeNotifier announces a freshly inserted record to listeners.
type ChangeNotifier interface {
	Notify(ctx context.Context, table string, rec RawMessageRecord) error
}

// PGChannelName is the LISTEN/NOTIFY channel for a table. The payload is the
// JSON record {"id","session_id","message","contact_name"}. PGNotifier only
// announces rows this process inserts; rows written by other integrations need
// an AFTER INSERT trigger on the table running
//
//	pg_notify('inbox_' || TG_TABLE_NAME, row_to_json(NEW)::text)
//
// and must stay under the 8000-byte NOTIFY limit.
func PGChannelName(table string) string {
	return pgChannelPrefix + table
}

// RedisChannelName is the pub/sub channel for a table.
func RedisChannelName(table string) string {
	return redisChannelPrefix + table
}

func encodeChange(rec RawMessageRecord) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("inbox: encode change: %w", err)
	}
	return data, nil
}

func decodeChange(payload []byte) (RawMessageRecord, error) {
	var rec RawMessageRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return RawMessageRecord{}, err
	}
	return rec, nil
}

// PGNotifier publishes changes with pg_notify.
type PGNotifier struct {
	db Querier
}

func NewPGNotifier(db Querier) *PGNotifier {
	return &PGNotifier{db: db}
}

func (n *PGNotifier) Notify(ctx context.Context, table string, rec RawMessageRecord) error {
	payload, err := encodeChange(rec)
	if err != nil {
		return err
	}
	if len(payload) > maxNotifyPayload {
		return fmt.Errorf("%w: %d bytes", errPayloadTooLarge, len(payload))
	}
	if _, err := n.db.Exec(ctx, "SELECT pg_notify($1, $2)", PGChannelName(table), string(payload)); err != nil {
		return fmt.Errorf("inbox: pg_notify: %w", err)
	}
	return nil
}

// listenConn is a connection dedicated to one LISTEN subscription.
type listenConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Release()
}

type listenConnSource interface {
	acquireListenConn(ctx context.Context) (listenConn, error)
}

type poolConnSource struct {
	pool *pgxpool.Pool
}

func (s poolConnSource) acquireListenConn(ctx context.Context) (listenConn, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return pooledListenConn{conn: conn}, nil
}

type pooledListenConn struct {
	conn *pgxpool.Conn
}

func (c pooledListenConn) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return c.conn.Exec(ctx, sql, args...)
}

func (c pooledListenConn) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	return c.conn.Conn().WaitForNotification(ctx)
}

func (c pooledListenConn) Release() {
	c.conn.Release()
}

// PGListener holds one pooled connection per subscription and LISTENs on it.
// A dropped connection is re-acquired with backoff until ctx ends.
type PGListener struct {
	conns      listenConnSource
	logger     *logging.Logger
	minBackoff time.Duration
	maxBackoff time.Duration
}

func NewPGListener(pool *pgxpool.Pool, logger *logging.Logger) *PGListener {
	return newPGListenerWithSource(poolConnSource{pool: pool}, logger)
}

func newPGListenerWithSource(conns listenConnSource, logger *logging.Logger) *PGListener {
	if logger == nil {
		logger = logging.Default()
	}
	return &PGListener{
		conns:      conns,
		logger:     logger,
		minBackoff: 250 * time.Millisecond,
		maxBackoff: 10 * time.Second,
	}
}

func (l *PGListener) Listen(ctx context.Context, table string) (<-chan RawMessageRecord, error) {
	conn, err := l.subscribe(ctx, table)
	if err != nil {
		return nil, err
	}
	out := make(chan RawMessageRecord, listenerBuffer)
	go l.run(ctx, table, conn, out)
	return out, nil
}

func (l *PGListener) subscribe(ctx context.Context, table string) (listenConn, error) {
	conn, err := l.conns.acquireListenConn(ctx)
	if err != nil {
		return nil, fmt.Errorf("inbox: acquire listen conn: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{PGChannelName(table)}.Sanitize()); err != nil {
		conn.Release()
		return nil, fmt.Errorf("inbox: listen %s: %w", table, err)
	}
	return conn, nil
}

func (l *PGListener) run(ctx context.Context, table string, conn listenConn, out chan<- RawMessageRecord) {
	defer close(out)
	backoff := l.minBackoff
	for {
		if conn == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			var err error
			conn, err = l.subscribe(ctx, table)
			if err != nil {
				l.logger.Warn("inbox: pg listener reconnect failed", "table", table, "error", err)
				backoff = min(backoff*2, l.maxBackoff)
				continue
			}
			backoff = l.minBackoff
		}

		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				l.release(conn)
				return
			}
			l.logger.Warn("inbox: pg listener dropped", "table", table, "error", err)
			conn.Release()
			conn = nil
			continue
		}
		rec, err := decodeChange([]byte(n.Payload))
		if err != nil {
			l.logger.Debug("inbox: undecodable change payload", "table", table, "error", err)
			continue
		}
		select {
		case out <- rec:
		case <-ctx.Done():
			l.release(conn)
			return
		}
	}
}

func (l *PGListener) release(conn listenConn) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := conn.Exec(ctx, "UNLISTEN *"); err != nil {
		l.logger.Debug("inbox: unlisten failed", "error", err)
	}
	conn.Release()
}

// RedisNotifier publishes changes on a Redis channel.
type RedisNotifier struct {
	redis *redis.Client
}

func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{redis: client}
}

func (n *RedisNotifier) Notify(ctx context.Context, table string, rec RawMessageRecord) error {
	payload, err := encodeChange(rec)
	if err != nil {
		return err
	}
	if err := n.redis.Publish(ctx, RedisChannelName(table), payload).Err(); err != nil {
		return fmt.Errorf("inbox: publish change: %w", err)
	}
	return nil
}

// RedisListener subscribes to a table's Redis channel.
type RedisListener struct {
	redis  *redis.Client
	logger *logging.Logger
}

func NewRedisListener(client *redis.Client, logger *logging.Logger) *RedisListener {
	if logger == nil {
		logger = logging.Default()
	}
	return &RedisListener{redis: client, logger: logger}
}

func (l *RedisListener) Listen(ctx context.Context, table string) (<-chan RawMessageRecord, error) {
	sub := l.redis.Subscribe(ctx, RedisChannelName(table))
	// Wait for the subscription confirmation so no publish is missed.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("inbox: subscribe %s: %w", table, err)
	}
	messages := sub.Channel()
	out := make(chan RawMessageRecord, listenerBuffer)
	go func() {
		defer close(out)
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				rec, err := decodeChange([]byte(msg.Payload))
				if err != nil {
					l.logger.Debug("inbox: undecodable change payload", "table", table, "error", err)
					continue
				}
				select {
				case out <- rec:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
