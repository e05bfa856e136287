package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/soyeahso/switchboard/internal/conversation"
	"github.com/soyeahso/switchboard/internal/domain"
	"github.com/soyeahso/switchboard/internal/events"
	"github.com/soyeahso/switchboard/internal/lease"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func restDo(t *testing.T, method, url, token string, body any, headers ...string) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, r)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestPublicHealth(t *testing.T) {
	_, ts := testServer(t)

	resp := restDo(t, http.MethodGet, ts.URL+"/health", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(headerRequestID))

	var h HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&h))
	assert.Equal(t, HealthResponse{Status: "ok"}, h)
}

func TestAuthenticatedHealth(t *testing.T) {
	_, ts := testServer(t)

	resp := restDo(t, http.MethodGet, ts.URL+"/v1/health", testToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var h HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&h))
	assert.Equal(t, "ok", h.Status)
	assert.NotEmpty(t, h.Version)
}

func TestNotFound(t *testing.T) {
	_, ts := testServer(t)

	resp := restDo(t, http.MethodGet, ts.URL+"/nonexistent", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	var shape ErrorShape
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&shape))
	assert.Equal(t, CodeNotFound, shape.Code)
}

func TestRESTRequiresBearer(t *testing.T) {
	_, ts := testServer(t)

	resp := restDo(t, http.MethodGet, ts.URL+"/v1/conversations/c1/timeline", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = restDo(t, http.MethodGet, ts.URL+"/v1/conversations/c1/timeline", "wrong", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRESTTurnAndTimeline(t *testing.T) {
	fake := newFakeConversations()
	_, ts := testServerWith(t, fake)

	resp := restDo(t, http.MethodGet, ts.URL+"/v1/conversations/c1/timeline", testToken, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	conf := 0.92
	resp = restDo(t, http.MethodPost, ts.URL+"/v1/conversations/c1/turns", testToken, TurnRequest{
		ConversationID: "ignored",
		Content:        "book me in",
		ChannelID:      "sms",
		From:           "+15550100",
		Confidence:     &conf,
		Slots:          map[string]string{"date": "2025-03-03"},
	}, headerRequestID, "req-42")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out TurnResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "c1", out.ConversationID)
	require.Len(t, out.Replies, 1)
	assert.Equal(t, "+15550100", out.Replies[0].To)

	fake.mu.Lock()
	require.Len(t, fake.turns, 1)
	assert.Equal(t, "c1", fake.turns[0].ConversationID, "path wins over body")
	assert.Equal(t, "sms", fake.turns[0].ChannelID)
	assert.Equal(t, "2025-03-03", fake.turns[0].Slots["date"])
	assert.Equal(t, "req-42", fake.turns[0].MessageID)
	fake.mu.Unlock()

	resp = restDo(t, http.MethodGet, ts.URL+"/v1/conversations/c1/timeline", testToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var tl TimelineResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tl))
	assert.Len(t, tl.Events, 2)

	resp = restDo(t, http.MethodGet, ts.URL+"/v1/conversations/c1", testToken, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRESTTurnBadBody(t *testing.T) {
	_, ts := testServer(t)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/v1/conversations/c1/turns", strings.NewReader("{not json"))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRESTTurnStorageUnavailable(t *testing.T) {
	fake := newFakeConversations()
	fake.err = fmt.Errorf("x: %w", events.ErrStorageUnavailable)
	_, ts := testServerWith(t, fake)

	resp := restDo(t, http.MethodPost, ts.URL+"/v1/conversations/c1/turns", testToken, TurnRequest{Content: "hi"})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	var shape ErrorShape
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&shape))
	assert.True(t, shape.Retryable)
}

func TestRESTResumeAndEnd(t *testing.T) {
	fake := newFakeConversations()
	conv := domain.NewConversation("c1", "human_handoff", domain.ChannelMetadata{}, time.Now())
	conv.Status = domain.StatusEscalated
	fake.convs["c1"] = conv
	_, ts := testServerWith(t, fake)

	resp := restDo(t, http.MethodPost, ts.URL+"/v1/conversations/c1/resume", testToken, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = restDo(t, http.MethodPost, ts.URL+"/v1/conversations/c1/resume", testToken, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = restDo(t, http.MethodPost, ts.URL+"/v1/conversations/c1/end", testToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out TurnResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "c1", out.ConversationID)

	resp = restDo(t, http.MethodPost, ts.URL+"/v1/conversations/nope/end", testToken, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRESTMethodMismatch(t *testing.T) {
	_, ts := testServer(t)
	resp := restDo(t, http.MethodGet, ts.URL+"/v1/conversations/c1/end", testToken, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestWireError(t *testing.T) {
	tests := []struct {
		err    error
		code   string
		status int
		retry  bool
	}{
		{fmt.Errorf("load: %w", conversation.ErrNotFound), CodeNotFound, http.StatusNotFound, false},
		{conversation.ErrInvalidTransition, CodeInvalidState, http.StatusConflict, false},
		{fmt.Errorf("x: %w", events.ErrStorageUnavailable), CodeUnavailable, http.StatusServiceUnavailable, true},
		{fmt.Errorf("x: %w", lease.ErrAcquireTimeout), CodeBusy, http.StatusConflict, true},
		{fmt.Errorf("turn: %w", context.DeadlineExceeded), CodeUnavailable, http.StatusGatewayTimeout, true},
		{errors.New("boom"), CodeInternal, http.StatusInternalServerError, false},
	}
	for _, tt := range tests {
		shape, status := wireError(tt.err)
		assert.Equal(t, tt.code, shape.Code, tt.err.Error())
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.Equal(t, tt.retry, shape.Retryable, tt.err.Error())
		assert.Equal(t, tt.err.Error(), shape.Message)
	}
}

func TestTurnRequestMetadata(t *testing.T) {
	conf := 0.8
	meta := TurnRequest{Content: "hi"}.Metadata()
	assert.Equal(t, "gateway", meta.ChannelID)

	meta = TurnRequest{ChannelID: "sms", From: "+1", Intent: "faq", Confidence: &conf}.Metadata()
	assert.Equal(t, "sms", meta.ChannelID)
	assert.Equal(t, "+1", meta.From)
	assert.Equal(t, "faq", meta.Intent)
	require.NotNil(t, meta.Confidence)
	assert.Equal(t, 0.8, *meta.Confidence)
}
