package gateway

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/soyeahso/switchboard/internal/channel"
	"github.com/soyeahso/switchboard/internal/domain"
	"github.com/soyeahso/switchboard/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type convParams struct {
	ConversationID string `json:"conversationId"`
}

func TestConfigReadable(t *testing.T) {
	for key, want := range map[string]bool{
		"gateway.port":             true,
		"gateway.bind":             true,
		"logging":                  true,
		"logging.level":            true,
		"orchestrator.maxTurns":    true,
		"agents.list":              true,
		"lease.ttlSeconds":         true,
		"store.historyWindow":      true,
		"gateway":                  false,
		"gateway.auth":             false,
		"gateway.auth.token":       false,
		"gateway.portal":           false,
		"store.dsn":                false,
		"lease.redis.password":     false,
		"llm.providers.openai":     false,
		"channels.irc.password":    false,
		"calendar.credentialsFile": false,
	} {
		assert.Equal(t, want, configReadable(key), key)
	}
}

func TestConfigGet(t *testing.T) {
	_, ts := testServer(t)
	conn := connect(t, ts)

	res := call(t, conn, "c1", MethodConfigGet, map[string]string{"key": "gateway.port"})
	require.True(t, res.Succeeded())
	assert.JSONEq(t, `{"key":"gateway.port","value":18789}`, string(res.Payload))

	res = call(t, conn, "c2", MethodConfigGet, map[string]string{"key": "logging"})
	require.True(t, res.Succeeded())
	assert.JSONEq(t, `{"key":"logging","value":{"level":"info"}}`, string(res.Payload))
}

func TestConfigGetRejections(t *testing.T) {
	_, ts := testServer(t)
	conn := connect(t, ts)

	tests := []struct {
		params any
		code   string
	}{
		{map[string]string{"key": "store.dsn"}, CodeForbidden},
		{map[string]string{"key": ""}, CodeInvalidParams},
		{nil, CodeInvalidParams},
		{map[string]string{"key": "orchestrator.missing"}, CodeNotFound},
		{map[string]string{"key": "logging..level"}, CodeInvalidParams},
		{map[string]int{"key": 3}, CodeInvalidParams},
	}
	for i, tt := range tests {
		res := call(t, conn, fmt.Sprint("r", i), MethodConfigGet, tt.params)
		assert.False(t, res.Succeeded(), "%v", tt.params)
		require.NotNil(t, res.Error)
		assert.Equal(t, tt.code, res.Error.Code, "%v", tt.params)
	}
}

func TestChannelsStatus(t *testing.T) {
	_, ts := testServer(t)
	conn := connect(t, ts)
	res := call(t, conn, "r1", MethodChannelsStatus, nil)
	require.True(t, res.Succeeded())
	assert.JSONEq(t, `{"channels":[]}`, string(res.Payload))
}

func TestHealthWithChannelRegistry(t *testing.T) {
	reg := channel.NewRegistry(testLog())
	_, ts := testServerWith(t, newFakeConversations(), WithChannels(reg))
	conn := connect(t, ts)

	res := call(t, conn, "r1", MethodHealth, nil)
	require.True(t, res.Succeeded())
	var h HealthResponse
	require.NoError(t, json.Unmarshal(res.Payload, &h))
	assert.Equal(t, 0, h.Channels)
}

func TestTurnHandle(t *testing.T) {
	fake := newFakeConversations()
	_, ts := testServerWith(t, fake)
	conn := connect(t, ts)

	res := call(t, conn, "turn-1", MethodTurnHandle, TurnRequest{
		ConversationID: "+15550100",
		Content:        "I'd like to book",
		Intent:         "book_appointment",
	})
	require.True(t, res.Succeeded(), "error: %+v", res.Error)

	var out TurnResponse
	require.NoError(t, json.Unmarshal(res.Payload, &out))
	assert.Equal(t, "+15550100", out.ConversationID)
	require.Len(t, out.Replies, 1)
	assert.Equal(t, "echo: I'd like to book", out.Replies[0].Body)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Len(t, fake.turns, 1)
	got := fake.turns[0]
	assert.Equal(t, "gateway", got.ChannelID)
	assert.Equal(t, "book_appointment", got.Intent)
	assert.NotEmpty(t, got.From, "session id used as sender")
	assert.Equal(t, "Front desk", got.FromName)
	assert.Equal(t, "turn-1", got.MessageID)
}

func TestTurnHandleKeepsCallerMetadata(t *testing.T) {
	fake := newFakeConversations()
	_, ts := testServerWith(t, fake)
	conn := connect(t, ts)

	res := call(t, conn, "turn-1", MethodTurnHandle, TurnRequest{
		ConversationID: "c1",
		Content:        "hi",
		ChannelID:      "sms",
		From:           "+15550100",
		FromName:       "Ada",
		MessageID:      "SM123",
	})
	require.True(t, res.Succeeded())

	fake.mu.Lock()
	defer fake.mu.Unlock()
	got := fake.turns[0]
	assert.Equal(t, "sms", got.ChannelID)
	assert.Equal(t, "+15550100", got.From)
	assert.Equal(t, "Ada", got.FromName)
	assert.Equal(t, "SM123", got.MessageID)
}

func TestTurnHandleRequiresConversation(t *testing.T) {
	_, ts := testServer(t)
	conn := connect(t, ts)

	res := call(t, conn, "turn-2", MethodTurnHandle, TurnRequest{Content: "hi"})
	assert.False(t, res.Succeeded())
	assert.Equal(t, CodeInvalidParams, res.Error.Code)
}

func TestTurnHandleStorageUnavailable(t *testing.T) {
	fake := newFakeConversations()
	fake.err = fmt.Errorf("appending: %w", events.ErrStorageUnavailable)
	_, ts := testServerWith(t, fake)
	conn := connect(t, ts)

	res := call(t, conn, "turn-3", MethodTurnHandle, TurnRequest{ConversationID: "c1", Content: "hi"})
	assert.False(t, res.Succeeded())
	require.NotNil(t, res.Error)
	assert.Equal(t, CodeUnavailable, res.Error.Code)
	assert.True(t, res.Error.Retryable)
	assert.Equal(t, 1000, res.Error.RetryAfterMs)
}

func TestTimelineAndConversation(t *testing.T) {
	_, ts := testServer(t)
	conn := connect(t, ts)

	res := call(t, conn, "tl-0", MethodTimelineGet, convParams{ConversationID: "missing"})
	assert.False(t, res.Succeeded())
	assert.Equal(t, CodeNotFound, res.Error.Code)

	res = call(t, conn, "tl-x", MethodTimelineGet, nil)
	assert.Equal(t, CodeInvalidParams, res.Error.Code)

	call(t, conn, "turn-1", MethodTurnHandle, TurnRequest{ConversationID: "c1", Content: "hi"})

	res = call(t, conn, "tl-1", MethodTimelineGet, convParams{ConversationID: "c1"})
	require.True(t, res.Succeeded())
	var tl TimelineResponse
	require.NoError(t, json.Unmarshal(res.Payload, &tl))
	require.Len(t, tl.Events, 2)
	assert.True(t, tl.Events[1].Final)

	res = call(t, conn, "cv-1", MethodConversationGet, convParams{ConversationID: "c1"})
	require.True(t, res.Succeeded())
	var conv domain.Conversation
	require.NoError(t, json.Unmarshal(res.Payload, &conv))
	assert.Equal(t, domain.StatusActive, conv.Status)
}

func TestConversationResumeAndEnd(t *testing.T) {
	fake := newFakeConversations()
	fake.convs["c1"] = domain.NewConversation("c1", "human_handoff", domain.ChannelMetadata{}, time.Now())
	_, ts := testServerWith(t, fake)
	conn := connect(t, ts)

	res := call(t, conn, "r-1", MethodConversationResume, convParams{ConversationID: "c1"})
	assert.False(t, res.Succeeded(), "active conversation cannot resume")
	assert.Equal(t, CodeInvalidState, res.Error.Code)

	fake.mu.Lock()
	fake.convs["c1"].Status = domain.StatusEscalated
	fake.mu.Unlock()
	res = call(t, conn, "r-2", MethodConversationResume, convParams{ConversationID: "c1"})
	require.True(t, res.Succeeded())

	res = call(t, conn, "e-1", MethodConversationEnd, convParams{ConversationID: "c1"})
	require.True(t, res.Succeeded())
	var out TurnResponse
	require.NoError(t, json.Unmarshal(res.Payload, &out))
	require.Len(t, out.Replies, 1)
	assert.Equal(t, "closed", out.Replies[0].Body)

	res = call(t, conn, "e-2", MethodConversationEnd, convParams{ConversationID: "nope"})
	assert.Equal(t, CodeNotFound, res.Error.Code)
}

func TestTimelineWatchAll(t *testing.T) {
	_, ts := testServer(t)
	conn := connect(t, ts, "c1")

	res := call(t, conn, "w1", MethodTimelineWatch, nil)
	require.True(t, res.Succeeded())
	assert.JSONEq(t, `{"watching":[]}`, string(res.Payload))
}
