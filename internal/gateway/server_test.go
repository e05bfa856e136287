package gateway

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/soyeahso/switchboard/internal/config"
	"github.com/soyeahso/switchboard/internal/conversation"
	"github.com/soyeahso/switchboard/internal/domain"
	"github.com/soyeahso/switchboard/internal/hooks"
	"github.com/soyeahso/switchboard/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLog() *logging.Logger {
	return logging.New(nil, "silent")
}

// fakeConversations echoes turns and records what it received.
type fakeConversations struct {
	mu    sync.Mutex
	turns []TurnRequest
	err   error
	convs map[string]*domain.Conversation
}

func newFakeConversations() *fakeConversations {
	return &fakeConversations{convs: map[string]*domain.Conversation{}}
}

func (f *fakeConversations) HandleInboundTurn(ctx context.Context, id string, meta domain.ChannelMetadata, content string) ([]domain.OutboundMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.turns = append(f.turns, TurnRequest{
		ConversationID: id,
		Content:        content,
		ChannelID:      meta.ChannelID,
		From:           meta.From,
		FromName:       meta.FromName,
		MessageID:      meta.MessageID,
		Intent:         meta.Intent,
		Slots:          meta.Slots,
	})
	if _, ok := f.convs[id]; !ok {
		f.convs[id] = domain.NewConversation(id, "general", meta, time.Now())
	}
	return []domain.OutboundMessage{{
		ConversationID: id,
		ChannelID:      meta.ChannelID,
		To:             meta.From,
		Body:           "echo: " + content,
		AgentID:        "general",
	}}, nil
}

func (f *fakeConversations) Timeline(ctx context.Context, id string) ([]domain.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.convs[id]; !ok {
		return nil, conversation.ErrNotFound
	}
	return []domain.Event{
		{ConversationID: id, Seq: 1, Kind: domain.EventMessageIn, TurnID: "t1"},
		{ConversationID: id, Seq: 2, Kind: domain.EventMessageOut, TurnID: "t1", Final: true},
	}, nil
}

func (f *fakeConversations) Conversation(ctx context.Context, id string) (*domain.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.convs[id]
	if !ok {
		return nil, conversation.ErrNotFound
	}
	return conv, nil
}

func (f *fakeConversations) Resume(ctx context.Context, id string) (*domain.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.convs[id]
	if !ok {
		return nil, conversation.ErrNotFound
	}
	if err := conversation.Resume(conv); err != nil {
		return nil, err
	}
	return conv, nil
}

func (f *fakeConversations) End(ctx context.Context, id string) ([]domain.OutboundMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.convs[id]
	if !ok {
		return nil, conversation.ErrNotFound
	}
	conversation.End(conv)
	return []domain.OutboundMessage{{ConversationID: id, Body: "closed"}}, nil
}

const testToken = "test-token-123"

func testConfig() config.Config {
	cfg := config.Defaults()
	cfg.Gateway.Auth.Mode = AuthToken
	cfg.Gateway.Auth.Token = testToken
	return cfg
}

func testServerWith(t *testing.T, convs Conversations, opts ...Option) (*Server, *httptest.Server) {
	t.Helper()
	raw := map[string]any{
		"gateway": map[string]any{"port": 18789, "bind": "loopback"},
		"logging": map[string]any{"level": "info"},
		"store":   map[string]any{"dsn": "postgres://secret"},
	}
	opts = append([]Option{WithConfigRaw(raw)}, opts...)
	srv := New(testConfig(), convs, testLog(), opts...)

	ts := httptest.NewServer(srv.handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func testServer(t *testing.T) (*Server, *httptest.Server) {
	return testServerWith(t, newFakeConversations())
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// connectWith completes the handshake and returns the hello response.
func connectWith(t *testing.T, conn *websocket.Conn, params ConnectParams) Frame {
	t.Helper()
	var challenge Frame
	require.NoError(t, conn.ReadJSON(&challenge))
	require.Equal(t, EventChallenge, challenge.Event)

	req, err := Request("hello", MethodConnect, params)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(req))

	var res Frame
	require.NoError(t, conn.ReadJSON(&res))
	require.Equal(t, KindResponse, res.Kind)
	return res
}

func connect(t *testing.T, ts *httptest.Server, watch ...string) *websocket.Conn {
	t.Helper()
	conn := dial(t, ts)
	res := connectWith(t, conn, ConnectParams{
		Protocol: ProtocolVersion,
		Client:   ClientInfo{ID: "console", DisplayName: "Front desk", Version: "1.0.0"},
		Auth:     &Credentials{Token: testToken},
		Watch:    watch,
	})
	require.True(t, res.Succeeded(), "connect failed: %+v", res.Error)
	return conn
}

// call sends a request and returns its response, skipping pushed events.
func call(t *testing.T, conn *websocket.Conn, id, method string, params any) Frame {
	t.Helper()
	req, err := Request(id, method, params)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(req))
	for {
		var f Frame
		require.NoError(t, conn.ReadJSON(&f))
		if f.Kind == KindResponse {
			require.Equal(t, id, f.ID)
			return f
		}
	}
}

func TestHandshake(t *testing.T) {
	_, ts := testServer(t)
	conn := dial(t, ts)

	res := connectWith(t, conn, ConnectParams{
		Client: ClientInfo{ID: "console"},
		Auth:   &Credentials{Token: testToken},
		Watch:  []string{"c2", "c1"},
	})
	require.True(t, res.Succeeded())
	assert.Equal(t, "hello", res.ID)

	var hello Hello
	require.NoError(t, json.Unmarshal(res.Payload, &hello))
	assert.Equal(t, ProtocolVersion, hello.Protocol)
	assert.NotEmpty(t, hello.SessionID)
	assert.Contains(t, hello.Methods, MethodTurnHandle)
	assert.NotContains(t, hello.Methods, MethodConnect)
	assert.Equal(t, []string{EventChallenge, EventTimeline}, hello.Events)
	assert.Equal(t, []string{"c1", "c2"}, hello.Watching)
	assert.Equal(t, int64(maxPayload), hello.MaxPayload)
}

func TestHandshakeRejections(t *testing.T) {
	tests := []struct {
		name   string
		method string
		params ConnectParams
		code   string
	}{
		{"wrong token", MethodConnect, ConnectParams{Auth: &Credentials{Token: "wrong"}}, CodeUnauthorized},
		{"no credentials", MethodConnect, ConnectParams{}, CodeUnauthorized},
		{"not a connect", MethodHealth, ConnectParams{Auth: &Credentials{Token: testToken}}, CodeProtocol},
		{"future protocol", MethodConnect, ConnectParams{Protocol: 9, Auth: &Credentials{Token: testToken}}, CodeProtocol},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ts := testServer(t)
			conn := dial(t, ts)

			var challenge Frame
			require.NoError(t, conn.ReadJSON(&challenge))
			req, err := Request("r1", tt.method, tt.params)
			require.NoError(t, err)
			require.NoError(t, conn.WriteJSON(req))

			var res Frame
			require.NoError(t, conn.ReadJSON(&res))
			assert.False(t, res.Succeeded())
			require.NotNil(t, res.Error)
			assert.Equal(t, tt.code, res.Error.Code)

			_, _, err = conn.ReadMessage()
			assert.Error(t, err, "connection closed after a failed handshake")
		})
	}
}

func TestHandshakeFailuresRateLimited(t *testing.T) {
	srv, ts := testServer(t)
	for i := 0; i < maxFailures; i++ {
		srv.limiter.Fail("127.0.0.1:1")
	}

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestWebSocketOriginCheck(t *testing.T) {
	_, ts := testServer(t)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestUnknownMethod(t *testing.T) {
	_, ts := testServer(t)
	conn := connect(t, ts)

	res := call(t, conn, "r1", "chat.send", nil)
	assert.False(t, res.Succeeded())
	assert.Equal(t, CodeMethodNotFound, res.Error.Code)
}

func TestHealthRPCCountsSessions(t *testing.T) {
	srv, ts := testServer(t)
	connect(t, ts)
	conn := connect(t, ts)

	res := call(t, conn, "r1", MethodHealth, nil)
	require.True(t, res.Succeeded())
	var h HealthResponse
	require.NoError(t, json.Unmarshal(res.Payload, &h))
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, 2, h.Sessions)
	assert.Equal(t, 2, srv.Sessions())
}

func TestSessionLeavesHubOnDisconnect(t *testing.T) {
	srv, ts := testServer(t)
	conn := connect(t, ts)
	require.Equal(t, 1, srv.Sessions())

	conn.Close()
	assert.Eventually(t, func() bool { return srv.Sessions() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestTimelinePush(t *testing.T) {
	hm := hooks.NewManager(testLog())
	_, ts := testServerWith(t, newFakeConversations(), WithHooks(hm))
	conn := connect(t, ts)

	res := call(t, conn, "w1", MethodTimelineWatch, map[string]any{"conversationIds": []string{"c1"}})
	require.True(t, res.Succeeded())
	assert.JSONEq(t, `{"watching":["c1"]}`, string(res.Payload))

	hm.Emit(context.Background(), hooks.EventTurnCommitted, map[string]any{
		"conversation": "other",
		"events":       []domain.Event{{ConversationID: "other", Seq: 1, Kind: domain.EventMessageIn}},
	})
	hm.Emit(context.Background(), hooks.EventTurnAborted, map[string]any{
		"conversation": "c1",
		"events": []domain.Event{
			{ConversationID: "c1", Seq: 7, Kind: domain.EventMessageIn, TurnID: "t"},
			{ConversationID: "c1", Seq: 8, Kind: domain.EventError, TurnID: "t"},
		},
	})

	var got []TimelineEvent
	var seqs []int64
	for len(got) < 2 {
		var f Frame
		require.NoError(t, conn.ReadJSON(&f))
		require.Equal(t, KindEvent, f.Kind)
		require.Equal(t, EventTimeline, f.Event)
		var te TimelineEvent
		require.NoError(t, json.Unmarshal(f.Payload, &te))
		got = append(got, te)
		seqs = append(seqs, f.Seq)
	}
	assert.Equal(t, "c1", got[0].ConversationID)
	assert.Equal(t, int64(7), got[0].Event.Seq)
	assert.Equal(t, hooks.EventTurnAborted, got[1].Outcome)
	assert.Equal(t, domain.EventError, got[1].Event.Kind)
	assert.Less(t, seqs[0], seqs[1])
}

func TestTimelinePushFollowsWatchFromConnect(t *testing.T) {
	hm := hooks.NewManager(testLog())
	_, ts := testServerWith(t, newFakeConversations(), WithHooks(hm))
	conn := connect(t, ts, "c2")

	for _, id := range []string{"c1", "c2"} {
		hm.Emit(context.Background(), hooks.EventTurnCommitted, map[string]any{
			"conversation": id,
			"events":       []domain.Event{{ConversationID: id, Seq: 1, Kind: domain.EventMessageOut, Final: true}},
		})
	}

	var f Frame
	require.NoError(t, conn.ReadJSON(&f))
	var te TimelineEvent
	require.NoError(t, json.Unmarshal(f.Payload, &te))
	assert.Equal(t, "c2", te.ConversationID)
}

func TestPushTimelineRejectsPayloadWithoutEvents(t *testing.T) {
	srv, _ := testServer(t)
	err := srv.pushTimeline(context.Background(), hooks.Payload{Event: hooks.EventTurnAborted, Data: map[string]any{"conversation": "c"}})
	assert.Error(t, err)
}

func TestResolveBindAddr(t *testing.T) {
	tests := []struct {
		cfg  config.GatewayConfig
		want string
	}{
		{config.GatewayConfig{Bind: "loopback", Port: 18789}, "127.0.0.1:18789"},
		{config.GatewayConfig{Bind: "lan", Port: 18789}, "0.0.0.0:18789"},
		{config.GatewayConfig{Bind: "custom", Port: 9000}, "0.0.0.0:9000"},
		{config.GatewayConfig{Bind: "custom", CustomBindHost: "10.1.2.3", Port: 9000}, "10.1.2.3:9000"},
		{config.GatewayConfig{Bind: "custom", CustomBindHost: "::1", Port: 9000}, "[::1]:9000"},
		{config.GatewayConfig{Bind: "", Port: 1}, "127.0.0.1:1"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, resolveBindAddr(tt.cfg))
	}
}

func TestServeEmitsLifecycleHooks(t *testing.T) {
	hm := hooks.NewManager(testLog())
	var mu sync.Mutex
	var seen []string
	record := func(ctx context.Context, p hooks.Payload) error {
		mu.Lock()
		seen = append(seen, p.Event)
		mu.Unlock()
		return nil
	}
	hm.On(hooks.EventGatewayStart, "test", record)
	hm.On(hooks.EventGatewayStop, "test", record)

	srv := New(testConfig(), newFakeConversations(), testLog(), WithHooks(hm))
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)
	assert.True(t, srv.uptime() > 0)

	cancel()
	require.NoError(t, <-errCh)
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, time.Second, 10*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{hooks.EventGatewayStart, hooks.EventGatewayStop}, seen)
	mu.Unlock()
}
