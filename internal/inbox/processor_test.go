package inbox

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onmp21/glamour-chat-center-34-sub000/internal/channels"
	"github.com/onmp21/glamour-chat-center-34-sub000/internal/observability/metrics"
)

func testChannel() channels.Channel {
	return channels.Channel{
		ID:                 "canarana",
		Name:               "Canarana",
		TableName:          "canarana_conversas",
		AgentPrefix:        "agent_",
		AgentName:          "Óticas Villa Glamour Canarana",
		DefaultContactName: "Cliente Canarana",
	}
}

func newTestProcessor() *Processor {
	return NewProcessor(testChannel(), NewIdentityExtractor(legacyRules()),
		WithProcessorClock(func() time.Time { return fixedNow }),
		WithProcessorMetrics(metrics.NewInboxMetrics(prometheus.NewRegistry())),
	)
}

func TestProcessAgentPrefixOverridesIdentity(t *testing.T) {
	p := newTestProcessor()
	msg, ok := p.ProcessOne(RawMessageRecord{
		ID:        42,
		SessionID: "agent_556299990000_1699999999",
		Message:   `{"content":"Seu óculos está pronto","type":"ia"}`,
	})
	require.True(t, ok)
	assert.Equal(t, SenderAgent, msg.Sender)
	assert.Equal(t, "Óticas Villa Glamour Canarana", msg.ContactName)
	assert.Equal(t, "556299990000", msg.ContactPhone)
	assert.Equal(t, MessageTypeAI, msg.MessageType)
	assert.Equal(t, "42", msg.ID)
	assert.Equal(t, int64(42), msg.RecordID)
}

func TestProcessAgentPrefixIgnoresEmbeddedName(t *testing.T) {
	p := newTestProcessor()
	msg, ok := p.ProcessOne(RawMessageRecord{
		ID:        7,
		SessionID: "agent_556299990000-Joana",
		Message:   "Oi Joana",
	})
	require.True(t, ok)
	assert.Equal(t, SenderAgent, msg.Sender)
	assert.Equal(t, "Óticas Villa Glamour Canarana", msg.ContactName)
}

func TestProcessCustomerNames(t *testing.T) {
	p := newTestProcessor()
	cases := []struct {
		name string
		rec  RawMessageRecord
		want string
	}{
		{
			name: "name from session id",
			rec:  RawMessageRecord{ID: 1, SessionID: "5577999887766-Maria", Message: "oi"},
			want: "Maria",
		},
		{
			name: "session name beats hint",
			rec:  RawMessageRecord{ID: 2, SessionID: "5577999887766-Maria", Message: "oi", ContactNameHint: "Mari"},
			want: "Maria",
		},
		{
			name: "hint when id is a phone",
			rec:  RawMessageRecord{ID: 3, SessionID: "5577999887766", Message: "oi", ContactNameHint: " Carlos "},
			want: "Carlos",
		},
		{
			name: "channel default when nothing else",
			rec:  RawMessageRecord{ID: 4, SessionID: "5577999887766", Message: "oi"},
			want: "Cliente Canarana",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg, ok := p.ProcessOne(tc.rec)
			require.True(t, ok)
			assert.Equal(t, SenderCustomer, msg.Sender)
			assert.Equal(t, tc.want, msg.ContactName)
			assert.Equal(t, MessageTypeHuman, msg.MessageType)
		})
	}
}

func TestProcessWithoutChannelDefaultFallsBackToPlaceholder(t *testing.T) {
	p := NewProcessor(channels.Channel{ID: "x", AgentPrefix: "agent_"}, nil)
	msg, ok := p.ProcessOne(RawMessageRecord{ID: 1, SessionID: "", Message: "oi"})
	require.True(t, ok)
	assert.Equal(t, UnknownContactName, msg.ContactName)

	msg, ok = p.ProcessOne(RawMessageRecord{ID: 2, SessionID: "agent_5511999999999", Message: "oi"})
	require.True(t, ok)
	assert.Equal(t, "x", msg.ContactName)
}

func TestProcessDropsUnknownAndEmpty(t *testing.T) {
	p := newTestProcessor()
	out := p.Process([]RawMessageRecord{
		{ID: 1, SessionID: "5577999887766", Message: "not json {"},
		{ID: 2, SessionID: "5577999887766", Message: `{"content":"   "}`},
		{ID: 3, SessionID: "5577999887766", Message: ""},
		{ID: 4, SessionID: "5577999887766", Message: `{"content":"válido","type":"human"}`},
	})
	require.Len(t, out, 1)
	assert.Equal(t, "válido", out[0].Content)
	assert.Equal(t, int64(4), out[0].RecordID)
}

func TestProcessEmptyBatch(t *testing.T) {
	out := newTestProcessor().Process(nil)
	assert.NotNil(t, out)
	assert.Empty(t, out)
}

func TestProcessTimestamps(t *testing.T) {
	p := newTestProcessor()
	msg, ok := p.ProcessOne(RawMessageRecord{ID: 1, SessionID: "5577999887766", Message: "bom dia"})
	require.True(t, ok)
	assert.Equal(t, "2024-03-10T14:30:00Z", msg.Timestamp)
}
