package gateway

import (
	"context"
	"strings"
	"time"

	"github.com/soyeahso/switchboard/internal/config"
	"github.com/soyeahso/switchboard/internal/domain"
	"github.com/soyeahso/switchboard/internal/version"
)

// requestTimeout bounds a gateway-initiated turn. The orchestrator applies
// its own, shorter, turn timeout inside it.
const requestTimeout = time.Minute

// Method handles one RPC request.
type Method func(c *Call)

// Call is a request in flight on a session.
type Call struct {
	Session *Session
	Frame   Frame
	server  *Server
}

// Context returns the server's context bounded by requestTimeout.
func (c *Call) Context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.server.baseContext(), requestTimeout)
}

func (c *Call) Reply(payload any) {
	if err := c.Session.Reply(c.Frame.ID, payload); err != nil {
		c.server.log.Warn().Err(err).Str("method", c.Frame.Method).Str("session", c.Session.ID).Msg("reply dropped")
	}
}

// Reject answers with an explicit error code.
func (c *Call) Reject(code, message string) {
	c.Session.Fail(c.Frame.ID, ErrorShape{Code: code, Message: message})
}

// Fail answers with the wire form of an orchestrator error.
func (c *Call) Fail(err error) {
	shape, status := wireError(err)
	if status >= 500 {
		c.server.log.Error().Err(err).Str("method", c.Frame.Method).Msg("rpc failed")
	}
	c.Session.Fail(c.Frame.ID, shape)
}

// Bind decodes the params into v, rejecting the call when they are
// malformed.
func (c *Call) Bind(v any) bool {
	if err := c.Frame.Bind(v); err != nil {
		c.Reject(CodeInvalidParams, err.Error())
		return false
	}
	return true
}

// conversationID binds {"conversationId": ...}, which is required.
func (c *Call) conversationID() (string, bool) {
	var p struct {
		ConversationID string `json:"conversationId"`
	}
	if !c.Bind(&p) {
		return "", false
	}
	if p.ConversationID == "" {
		c.Reject(CodeInvalidParams, "conversationId is required")
		return "", false
	}
	return p.ConversationID, true
}

func (s *Server) registerMethods() {
	s.methods[MethodHealth] = s.rpcHealth
	s.methods[MethodConfigGet] = s.rpcConfigGet
	s.methods[MethodChannelsStatus] = s.rpcChannelsStatus
	s.methods[MethodTurnHandle] = s.rpcTurnHandle
	s.methods[MethodTimelineGet] = s.rpcTimelineGet
	s.methods[MethodTimelineWatch] = s.rpcTimelineWatch
	s.methods[MethodConversationGet] = s.rpcConversationGet
	s.methods[MethodConversationResume] = s.rpcConversationResume
	s.methods[MethodConversationEnd] = s.rpcConversationEnd
}

func (s *Server) serverInfo() ServerInfo {
	return ServerInfo{Version: version.Version, Commit: version.Commit}
}

// readableConfig lists the config subtrees config.get may return.
// Credentials live outside them.
var readableConfig = []string{
	"gateway.port",
	"gateway.bind",
	"gateway.customBindHost",
	"logging",
	"orchestrator",
	"agents",
	"workflows",
	"lease.ttlSeconds",
	"store.historyWindow",
}

func configReadable(key string) bool {
	for _, prefix := range readableConfig {
		if key == prefix || strings.HasPrefix(key, prefix+".") {
			return true
		}
	}
	return false
}

func (s *Server) health() HealthResponse {
	h := HealthResponse{
		Status:   "ok",
		Version:  version.Version,
		Sessions: s.hub.Len(),
		Uptime:   int64(s.uptime().Seconds()),
	}
	if s.channels != nil {
		h.Channels = s.channels.Count()
	}
	return h
}

func (s *Server) rpcHealth(c *Call) {
	c.Reply(s.health())
}

func (s *Server) rpcConfigGet(c *Call) {
	var p struct {
		Key string `json:"key"`
	}
	if !c.Bind(&p) {
		return
	}
	if p.Key == "" {
		c.Reject(CodeInvalidParams, "key is required")
		return
	}
	if !configReadable(p.Key) {
		c.Reject(CodeForbidden, "access denied for config path: "+p.Key)
		return
	}
	path, err := config.ParseConfigPath(p.Key)
	if err != nil {
		c.Reject(CodeInvalidParams, err.Error())
		return
	}

	s.mu.RLock()
	val, ok := config.GetValueAtPath(s.configRaw, path)
	s.mu.RUnlock()
	if !ok {
		c.Reject(CodeNotFound, "key not found: "+p.Key)
		return
	}
	c.Reply(map[string]any{"key": p.Key, "value": val})
}

func (s *Server) rpcChannelsStatus(c *Call) {
	status := []domain.ChannelStatus{}
	if s.channels != nil {
		status = s.channels.Status()
	}
	c.Reply(map[string]any{"channels": status})
}

// rpcTurnHandle runs a turn on behalf of the session. Sender and message
// id default to the session and request ids.
func (s *Server) rpcTurnHandle(c *Call) {
	var req TurnRequest
	if !c.Bind(&req) {
		return
	}
	if req.ConversationID == "" {
		c.Reject(CodeInvalidParams, "conversationId is required")
		return
	}
	if req.From == "" {
		req.From = c.Session.ID
	}
	if req.FromName == "" {
		req.FromName = c.Session.Client.DisplayName
	}
	if req.MessageID == "" {
		req.MessageID = c.Frame.ID
	}

	ctx, cancel := c.Context()
	defer cancel()
	resp, err := s.runTurn(ctx, req)
	if err != nil {
		c.Fail(err)
		return
	}
	c.Reply(resp)
}

func (s *Server) rpcTimelineGet(c *Call) {
	id, ok := c.conversationID()
	if !ok {
		return
	}
	ctx, cancel := c.Context()
	defer cancel()
	evs, err := s.convs.Timeline(ctx, id)
	if err != nil {
		c.Fail(err)
		return
	}
	c.Reply(TimelineResponse{ConversationID: id, Events: evs})
}

// rpcTimelineWatch replaces the conversations the session follows. An
// empty list follows all of them.
func (s *Server) rpcTimelineWatch(c *Call) {
	var p struct {
		ConversationIDs []string `json:"conversationIds"`
	}
	if !c.Bind(&p) {
		return
	}
	c.Reply(map[string]any{"watching": c.Session.Watch(p.ConversationIDs...)})
}

func (s *Server) rpcConversationGet(c *Call) {
	id, ok := c.conversationID()
	if !ok {
		return
	}
	ctx, cancel := c.Context()
	defer cancel()
	conv, err := s.convs.Conversation(ctx, id)
	if err != nil {
		c.Fail(err)
		return
	}
	c.Reply(conv)
}

func (s *Server) rpcConversationResume(c *Call) {
	id, ok := c.conversationID()
	if !ok {
		return
	}
	ctx, cancel := c.Context()
	defer cancel()
	conv, err := s.convs.Resume(ctx, id)
	if err != nil {
		c.Fail(err)
		return
	}
	s.log.Info().Str("conversation", id).Str("session", c.Session.ID).Msg("conversation resumed by operator")
	c.Reply(conv)
}

func (s *Server) rpcConversationEnd(c *Call) {
	id, ok := c.conversationID()
	if !ok {
		return
	}
	ctx, cancel := c.Context()
	defer cancel()
	resp, err := s.endConversation(ctx, id)
	if err != nil {
		c.Fail(err)
		return
	}
	c.Reply(resp)
}
