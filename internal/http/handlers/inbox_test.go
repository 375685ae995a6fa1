package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onmp21/glamour-chat-center-34-sub000/internal/audit"
	"github.com/onmp21/glamour-chat-center-34-sub000/internal/gateway"
	httpmiddleware "github.com/onmp21/glamour-chat-center-34-sub000/internal/http/middleware"
	"github.com/onmp21/glamour-chat-center-34-sub000/internal/inbox"
)

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	ctx := httpmiddleware.WithOperator(req.Context(), httpmiddleware.OperatorClaims{Name: "Ana"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req.WithContext(ctx))
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func sampleSummaries() []inbox.ConversationSummary {
	return []inbox.ConversationSummary{
		{ID: "5577999887766", ContactName: "Maria", ContactPhone: "5577999887766", LastMessage: "Oi", Status: inbox.StatusUnread, UnreadCount: 2, MessageCount: 3},
	}
}

func TestListChannels(t *testing.T) {
	svc := newFakeInbox(t)

	rec := doRequest(t, newTestRouter(NewInboxHandler(svc, nil, nil, quietLogger())), http.MethodGet, "/api/channels/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	list := body["channels"].([]any)
	assert.Len(t, list, len(svc.Channels()))
	assert.Equal(t, false, list[0].(map[string]any)["can_send"])

	rec = doRequest(t, newTestRouter(NewInboxHandler(svc, &fakeSender{}, nil, quietLogger())), http.MethodGet, "/api/channels/", "")
	list = decodeBody(t, rec)["channels"].([]any)
	assert.Equal(t, true, list[0].(map[string]any)["can_send"])
}

func TestListConversations(t *testing.T) {
	tests := []struct {
		name      string
		convs     []inbox.ConversationSummary
		err       error
		wantCode  int
		wantState string
	}{
		{name: "ok", convs: sampleSummaries(), wantCode: http.StatusOK, wantState: StateOK},
		{name: "empty", convs: nil, wantCode: http.StatusOK, wantState: StateEmpty},
		{name: "bulk fetch failure", err: fmt.Errorf("%w: %w", inbox.ErrBulkFetch, errStoreDown), wantCode: http.StatusBadGateway, wantState: StateError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newFakeInbox(t)
			svc.convs = tt.convs
			svc.convErr = tt.err
			router := newTestRouter(NewInboxHandler(svc, nil, nil, quietLogger()))

			rec := doRequest(t, router, http.MethodGet, "/api/channels/canarana/conversations", "")
			require.Equal(t, tt.wantCode, rec.Code)

			var resp ConversationsResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantState, resp.State)
			assert.Equal(t, "canarana", resp.Channel)
			assert.NotNil(t, resp.Conversations)
			assert.Equal(t, tt.err != nil, resp.Retryable)
			if tt.err != nil {
				assert.NotContains(t, rec.Body.String(), "connection refused")
			}
		})
	}
}

func TestListConversationsAlias(t *testing.T) {
	svc := newFakeInbox(t)
	svc.convs = sampleSummaries()
	router := newTestRouter(NewInboxHandler(svc, nil, nil, quietLogger()))

	rec := doRequest(t, router, http.MethodGet, "/api/channels/011b69ba-cf25-4f63-af2e-4ad0260d9516/conversations", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "canarana", decodeBody(t, rec)["channel"])
}

func TestListMessages(t *testing.T) {
	svc := newFakeInbox(t)
	svc.msgs = []inbox.ProcessedMessage{{ID: "canarana-1", Content: "Oi", Sender: inbox.SenderCustomer, ContactPhone: "5577999887766"}}
	router := newTestRouter(NewInboxHandler(svc, nil, nil, quietLogger()))

	rec := doRequest(t, router, http.MethodGet, "/api/channels/canarana/conversations/5577999887766/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, StateOK, body["state"])
	assert.Len(t, body["messages"], 1)

	svc.convErr = fmt.Errorf("%w: %w", inbox.ErrBulkFetch, errStoreDown)
	rec = doRequest(t, router, http.MethodGet, "/api/channels/canarana/conversations/5577999887766/messages", "")
	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["retryable"])
}

func TestUpdateStatus(t *testing.T) {
	svc := newFakeInbox(t)
	log := &fakeAudit{}
	router := newTestRouter(NewInboxHandler(svc, nil, log, quietLogger()))

	rec := doRequest(t, router, http.MethodPut, "/api/channels/canarana/conversations/5577999887766/status", `{"status":"in_progress"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "in_progress", decodeBody(t, rec)["status"])
	assert.Equal(t, inbox.StatusInProgress, svc.statuses["5577999887766"])
	require.Len(t, log.entries, 1)
	assert.Equal(t, auditEntry{kind: "status", channel: "canarana", phone: "5577999887766", actor: "Ana", detail: "in_progress"}, log.entries[0])

	rec = doRequest(t, router, http.MethodPut, "/api/channels/canarana/conversations/5577999887766/status", `{"status":"archived"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, router, http.MethodPut, "/api/channels/canarana/conversations/5577999887766/status", `{"status":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	svc.statusErr = errStoreDown
	rec = doRequest(t, router, http.MethodPut, "/api/channels/canarana/conversations/5577999887766/status", `{"status":"resolved"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Len(t, log.entries, 1)
}

func TestMarkReadIsFireAndForget(t *testing.T) {
	svc := newFakeInbox(t)
	log := &fakeAudit{}
	router := newTestRouter(NewInboxHandler(svc, nil, log, quietLogger()))

	rec := doRequest(t, router, http.MethodPost, "/api/channels/pedro/conversations/5511988887777/read", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"5511988887777"}, svc.marked)
	require.Len(t, log.entries, 1)
	assert.Equal(t, "read", log.entries[0].kind)

	svc.markErr = errStoreDown
	rec = doRequest(t, router, http.MethodPost, "/api/channels/pedro/conversations/5511988887777/read", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Len(t, log.entries, 1)
}

func TestSendMessageText(t *testing.T) {
	svc := newFakeInbox(t)
	sender := &fakeSender{}
	log := &fakeAudit{}
	router := newTestRouter(NewInboxHandler(svc, sender, log, quietLogger()))

	rec := doRequest(t, router, http.MethodPost, "/api/channels/canarana/conversations/5577999887766/messages", `{"text":"  Seus óculos estão prontos  "}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	require.Len(t, sender.calls, 1)
	assert.Equal(t, "canarana", sender.calls[0].instance)
	assert.Equal(t, "5577999887766", sender.calls[0].phone)
	assert.Equal(t, "Seus óculos estão prontos", sender.calls[0].text)
	assert.Equal(t, []string{"Seus óculos estão prontos"}, svc.recorded)

	body := decodeBody(t, rec)
	assert.Equal(t, "BAE5F0", body["gateway_message_id"])
	assert.Equal(t, true, body["recorded"])

	require.Len(t, log.entries, 1)
	assert.Equal(t, "sent", log.entries[0].kind)
	assert.Equal(t, int64(41), log.entries[0].recordID)
	assert.Equal(t, "Ana", log.entries[0].actor)
}

func TestSendMessageMedia(t *testing.T) {
	svc := newFakeInbox(t)
	sender := &fakeSender{}
	router := newTestRouter(NewInboxHandler(svc, sender, nil, quietLogger()))

	rec := doRequest(t, router, http.MethodPost, "/api/channels/canarana/conversations/5577999887766/messages",
		`{"media":{"mediatype":"document","media":"https://cdn.example/receita.pdf","fileName":"receita.pdf"}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Len(t, sender.calls, 1)
	require.NotNil(t, sender.calls[0].media)
	assert.Equal(t, "document", sender.calls[0].media.MediaType)
	assert.Equal(t, []string{"[document] receita.pdf"}, svc.recorded)
}

func TestSendMessageGatewayFailure(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantRetryable bool
	}{
		{name: "rejected", err: &gateway.APIError{StatusCode: http.StatusBadRequest, Message: "number not on whatsapp"}, wantRetryable: false},
		{name: "unavailable", err: &gateway.APIError{StatusCode: http.StatusServiceUnavailable}, wantRetryable: true},
		{name: "transport", err: context.DeadlineExceeded, wantRetryable: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newFakeInbox(t)
			log := &fakeAudit{}
			router := newTestRouter(NewInboxHandler(svc, &fakeSender{err: tt.err}, log, quietLogger()))

			rec := doRequest(t, router, http.MethodPost, "/api/channels/canarana/conversations/5577999887766/messages", `{"text":"Olá"}`)
			require.Equal(t, http.StatusBadGateway, rec.Code)
			assert.Equal(t, tt.wantRetryable, decodeBody(t, rec)["retryable"])
			assert.Empty(t, svc.recorded)
			require.Len(t, log.entries, 1)
			assert.Equal(t, "failed", log.entries[0].kind)
		})
	}
}

func TestSendMessageRecordFailureStillCreated(t *testing.T) {
	svc := newFakeInbox(t)
	svc.recordErr = errStoreDown
	router := newTestRouter(NewInboxHandler(svc, &fakeSender{}, &fakeAudit{}, quietLogger()))

	rec := doRequest(t, router, http.MethodPost, "/api/channels/canarana/conversations/5577999887766/messages", `{"text":"Olá"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, false, decodeBody(t, rec)["recorded"])
}

func TestSendMessageValidation(t *testing.T) {
	svc := newFakeInbox(t)

	rec := doRequest(t, newTestRouter(NewInboxHandler(svc, nil, nil, quietLogger())), http.MethodPost, "/api/channels/canarana/conversations/5577999887766/messages", `{"text":"Olá"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	router := newTestRouter(NewInboxHandler(svc, &fakeSender{}, nil, quietLogger()))
	rec = doRequest(t, router, http.MethodPost, "/api/channels/canarana/conversations/5577999887766/messages", `{"text":"   "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, router, http.MethodPost, "/api/channels/canarana/conversations/5577999887766/messages", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListAudit(t *testing.T) {
	svc := newFakeInbox(t)
	log := &fakeAudit{events: []audit.Event{{ID: "evt-1", EventType: audit.EventMarkedRead, ChannelID: "canarana"}}}
	router := newTestRouter(NewInboxHandler(svc, nil, log, quietLogger()))

	rec := doRequest(t, router, http.MethodGet, "/api/channels/canarana/audit?phone=5577999887766&limit=1000", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["events"], 1)
	assert.Equal(t, maxAuditLimit, log.filter.Limit)
	assert.Equal(t, "canarana", log.filter.ChannelID)
	assert.Equal(t, "5577999887766", log.filter.ContactPhone)

	rec = doRequest(t, router, http.MethodGet, "/api/channels/canarana/audit?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, router, http.MethodGet, "/api/channels/canarana/audit", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defaultAuditLimit, log.filter.Limit)
}

func TestSendMessageTemplate(t *testing.T) {
	svc := newFakeInbox(t)
	sender := &fakeSender{}
	router := newTestRouter(NewInboxHandler(svc, sender, nil, quietLogger()))

	body := `{"template":"Olá {{first .Contact}}, pedido {{.Order}} pronto!","template_data":{"Order":"OS-981"},"contact_name":"Maria Souza"}`
	rec := doRequest(t, router, http.MethodPost, "/api/channels/canarana/conversations/5577999887766/messages", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Len(t, sender.calls, 1)
	assert.Equal(t, "Olá Maria, pedido OS-981 pronto!", sender.calls[0].text)

	rec = doRequest(t, router, http.MethodPost, "/api/channels/canarana/conversations/5577999887766/messages", `{"template":"Olá {{.Missing}}"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, sender.calls, 1)
}
