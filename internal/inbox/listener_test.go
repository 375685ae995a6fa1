package inbox

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelNames(t *testing.T) {
	assert.Equal(t, "inbox_canarana_conversas", PGChannelName("canarana_conversas"))
	assert.Equal(t, "inbox:records:canarana_conversas", RedisChannelName("canarana_conversas"))
}

func TestChangeCodec(t *testing.T) {
	rec := RawMessageRecord{ID: 10, SessionID: "5577999887766", Message: `{"content":"oi"}`, ContactNameHint: "Ana"}
	data, err := encodeChange(rec)
	require.NoError(t, err)
	got, err := decodeChange(data)
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	// row_to_json on a jsonb column delivers the message already decoded.
	got, err = decodeChange([]byte(`{"id":11,"session_id":"5577","message":{"content":"oi","type":"human"},"contact_name":null}`))
	require.NoError(t, err)
	assert.Equal(t, int64(11), got.ID)
	assert.Equal(t, `{"content":"oi","type":"human"}`, got.Message)
	assert.Equal(t, FormatSimpleJSON, Detect(got.Message))

	// A trigger using row_to_json(NEW) also sends the remaining columns.
	got, err = decodeChange([]byte(`{"id":12,"session_id":"5577-Ana","message":"Bom dia","contact_name":"Ana","is_read":false,"created_at":"2024-03-10T10:00:00+00:00"}`))
	require.NoError(t, err)
	assert.Equal(t, RawMessageRecord{ID: 12, SessionID: "5577-Ana", Message: "Bom dia", ContactNameHint: "Ana"}, got)

	_, err = decodeChange([]byte("nope"))
	assert.Error(t, err)
}

func TestPGNotifier(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`SELECT pg_notify\(\$1, \$2\)`).
		WithArgs("inbox_pedro_conversas", `{"id":3,"session_id":"5577999887766","message":"oi"}`).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))

	n := NewPGNotifier(mock)
	require.NoError(t, n.Notify(context.Background(), "pedro_conversas", RawMessageRecord{ID: 3, SessionID: "5577999887766", Message: "oi"}))

	err = n.Notify(context.Background(), "pedro_conversas", RawMessageRecord{ID: 4, Message: strings.Repeat("a", 9000)})
	assert.ErrorIs(t, err, errPayloadTooLarge)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisListenerAndNotifier(t *testing.T) {
	_, client := newTestRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed, err := NewRedisListener(client, nil).Listen(ctx, "pedro_conversas")
	require.NoError(t, err)

	n := NewRedisNotifier(client)
	require.NoError(t, n.Notify(ctx, "pedro_conversas", RawMessageRecord{ID: 1, SessionID: "5577999887766", Message: "oi"}))
	// Other tables and garbage never reach the feed.
	require.NoError(t, n.Notify(ctx, "canarana_conversas", RawMessageRecord{ID: 2, Message: "x"}))
	require.NoError(t, client.Publish(ctx, RedisChannelName("pedro_conversas"), "garbage").Err())
	require.NoError(t, n.Notify(ctx, "pedro_conversas", RawMessageRecord{ID: 3, SessionID: "5577999887766", Message: "tchau"}))

	first := receive(t, feed)
	assert.Equal(t, int64(1), first.ID)
	second := receive(t, feed)
	assert.Equal(t, int64(3), second.ID)
	assert.Equal(t, "tchau", second.Message)

	cancel()
	select {
	case _, ok := <-feed:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("feed not closed after cancel")
	}
}

func receive(t *testing.T, feed <-chan RawMessageRecord) RawMessageRecord {
	t.Helper()
	select {
	case rec, ok := <-feed:
		require.True(t, ok, "feed closed")
		return rec
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change")
	}
	return RawMessageRecord{}
}

type fakeListenConn struct {
	mu       sync.Mutex
	execs    []string
	execErr  error
	notes    chan *pgconn.Notification
	drop     chan error
	released chan struct{}
	once     sync.Once
}

func newFakeListenConn() *fakeListenConn {
	return &fakeListenConn{
		notes:    make(chan *pgconn.Notification, 4),
		drop:     make(chan error, 1),
		released: make(chan struct{}),
	}
}

func (c *fakeListenConn) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.execs = append(c.execs, sql)
	return pgconn.NewCommandTag("LISTEN"), c.execErr
}

func (c *fakeListenConn) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-c.drop:
		return nil, err
	case n := <-c.notes:
		return n, nil
	}
}

func (c *fakeListenConn) Release() {
	c.once.Do(func() { close(c.released) })
}

func (c *fakeListenConn) statements() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.execs...)
}

func (c *fakeListenConn) waitReleased(t *testing.T) {
	t.Helper()
	select {
	case <-c.released:
	case <-time.After(2 * time.Second):
		t.Fatal("listen conn not released")
	}
}

// fakeConnSource hands out conns in order; a nil entry is a failed acquire.
type fakeConnSource struct {
	mu    sync.Mutex
	conns []*fakeListenConn
	calls int
}

func (s *fakeConnSource) acquireListenConn(context.Context) (listenConn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.conns) == 0 {
		return nil, errors.New("pool closed")
	}
	c := s.conns[0]
	s.conns = s.conns[1:]
	if c == nil {
		return nil, errors.New("pool exhausted")
	}
	return c, nil
}

func (s *fakeConnSource) acquired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestPGListenerDeliversAndUnlistensOnCancel(t *testing.T) {
	conn := newFakeListenConn()
	l := newPGListenerWithSource(&fakeConnSource{conns: []*fakeListenConn{conn}}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed, err := l.Listen(ctx, "pedro_conversas")
	require.NoError(t, err)

	conn.notes <- &pgconn.Notification{Channel: "inbox_pedro_conversas", Payload: "garbage"}
	conn.notes <- &pgconn.Notification{Channel: "inbox_pedro_conversas", Payload: `{"id":7,"session_id":"5577999887766","message":"oi"}`}
	rec := receive(t, feed)
	assert.Equal(t, int64(7), rec.ID)
	assert.Equal(t, "oi", rec.Message)

	cancel()
	select {
	case _, ok := <-feed:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("feed not closed after cancel")
	}
	conn.waitReleased(t)
	assert.Equal(t, []string{`LISTEN "inbox_pedro_conversas"`, "UNLISTEN *"}, conn.statements())
}

func TestPGListenerReconnectsAfterDrop(t *testing.T) {
	first := newFakeListenConn()
	second := newFakeListenConn()
	first.drop <- errors.New("conn reset by peer")
	second.notes <- &pgconn.Notification{Payload: `{"id":9,"session_id":"5577999887766","message":"voltei"}`}

	// One failed acquire between the two conns exercises the backoff path.
	src := &fakeConnSource{conns: []*fakeListenConn{first, nil, second}}
	l := newPGListenerWithSource(src, nil)
	l.minBackoff = time.Millisecond
	l.maxBackoff = 5 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed, err := l.Listen(ctx, "pedro_conversas")
	require.NoError(t, err)

	rec := receive(t, feed)
	assert.Equal(t, int64(9), rec.ID)
	assert.Equal(t, 3, src.acquired())

	first.waitReleased(t)
	assert.Equal(t, []string{`LISTEN "inbox_pedro_conversas"`}, first.statements())
	assert.Equal(t, []string{`LISTEN "inbox_pedro_conversas"`}, second.statements())

	cancel()
	second.waitReleased(t)
}

func TestPGListenerSubscribeErrors(t *testing.T) {
	_, err := newPGListenerWithSource(&fakeConnSource{}, nil).Listen(context.Background(), "pedro_conversas")
	assert.ErrorContains(t, err, "acquire listen conn")

	conn := newFakeListenConn()
	conn.execErr = errors.New("permission denied")
	_, err = newPGListenerWithSource(&fakeConnSource{conns: []*fakeListenConn{conn}}, nil).Listen(context.Background(), "pedro_conversas")
	assert.ErrorContains(t, err, "listen pedro_conversas")
	conn.waitReleased(t)
}
