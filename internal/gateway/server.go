package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/soyeahso/switchboard/internal/channel"
	"github.com/soyeahso/switchboard/internal/config"
	"github.com/soyeahso/switchboard/internal/domain"
	"github.com/soyeahso/switchboard/internal/hooks"
	"github.com/soyeahso/switchboard/internal/logging"
)

// Conversations is the orchestrator surface exposed by the gateway.
type Conversations interface {
	HandleInboundTurn(ctx context.Context, conversationID string, meta domain.ChannelMetadata, content string) ([]domain.OutboundMessage, error)
	Timeline(ctx context.Context, conversationID string) ([]domain.Event, error)
	Conversation(ctx context.Context, conversationID string) (*domain.Conversation, error)
	Resume(ctx context.Context, conversationID string) (*domain.Conversation, error)
	End(ctx context.Context, conversationID string) ([]domain.OutboundMessage, error)
}

const maxPayload = 4 << 20

// Server exposes the orchestrator to operator consoles and channel
// bridges over WebSocket RPC and a small REST API.
type Server struct {
	cfg     config.Config
	auth    *Authenticator
	log     *logging.Logger
	hub     *Hub
	methods map[string]Method
	seq     atomic.Int64

	convs    Conversations
	channels *channel.Registry
	hooks    *hooks.Manager

	mu        sync.RWMutex
	configRaw map[string]any
	base      context.Context

	startedAt time.Time
	httpSrv   *http.Server
	upgrader  websocket.Upgrader
	limiter   *failureLimiter
}

// Option configures a Server.
type Option func(*Server)

// WithConfigRaw exposes the raw config map to config.get.
func WithConfigRaw(raw map[string]any) Option {
	return func(s *Server) { s.configRaw = raw }
}

// WithChannels reports the given channels in health and channels.status.
func WithChannels(ch *channel.Registry) Option {
	return func(s *Server) { s.channels = ch }
}

// WithHooks emits gateway_start and gateway_stop and pushes committed and
// aborted turns to watching sessions.
func WithHooks(hm *hooks.Manager) Option {
	return func(s *Server) { s.hooks = hm }
}

func New(cfg config.Config, convs Conversations, log *logging.Logger, opts ...Option) *Server {
	s := &Server{
		cfg:       cfg,
		auth:      NewAuthenticator(cfg.Gateway.Auth),
		log:       log.Sub("gateway"),
		methods:   make(map[string]Method),
		convs:     convs,
		configRaw: map[string]any{},
		base:      context.Background(),
		limiter:   newFailureLimiter(failureWindow, maxFailures, maxHosts),
	}
	s.hub = NewHub(s.log.Sub("hub"))
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || originAllowed(origin, cfg.Gateway.AllowedOrigins)
		},
	}

	for _, opt := range opts {
		opt(s)
	}

	s.registerMethods()
	if s.hooks != nil {
		s.hooks.On(hooks.EventTurnCommitted, "gateway-timeline", s.pushTimeline)
		s.hooks.On(hooks.EventTurnAborted, "gateway-timeline", s.pushTimeline)
	}
	return s
}

// pushTimeline forwards the events of a finished turn to watching sessions.
func (s *Server) pushTimeline(_ context.Context, p hooks.Payload) error {
	evs, ok := p.Data["events"].([]domain.Event)
	if !ok {
		return fmt.Errorf("%s payload without events", p.Event)
	}
	convID := p.String("conversation")
	for _, ev := range evs {
		s.hub.Publish(convID, EventTimeline, TimelineEvent{
			ConversationID: convID,
			Outcome:        p.Event,
			Event:          ev,
		}, s.seq.Add(1))
	}
	return nil
}

// Methods returns the registered RPC methods, sorted.
func (s *Server) Methods() []string {
	out := make([]string, 0, len(s.methods))
	for m := range s.methods {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Sessions returns the number of connected sessions.
func (s *Server) Sessions() int { return s.hub.Len() }

func (s *Server) baseContext() context.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.base
}

func (s *Server) uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.startedAt.IsZero() {
		return 0
	}
	return time.Since(s.startedAt)
}

// resolveBindAddr maps the bind mode to a listen address.
func resolveBindAddr(cfg config.GatewayConfig) string {
	host := "127.0.0.1"
	switch cfg.Bind {
	case "lan":
		host = "0.0.0.0"
	case "custom":
		host = cfg.CustomBindHost
		if host == "" {
			host = "0.0.0.0"
		}
	}
	return net.JoinHostPort(host, fmt.Sprint(cfg.Port))
}

func (s *Server) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.restHealth)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.Handle("/v1/", chain(s.api(), requireAuth(s.auth, s.log)))
	mux.HandleFunc("/", restNotFound)

	return chain(mux,
		accessLog(s.log),
		cors(s.cfg.Gateway.AllowedOrigins),
		requestID,
	)
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := resolveBindAddr(s.cfg.Gateway)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.base = ctx
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.httpSrv = &http.Server{
		Handler:      s.handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	addr := ln.Addr().String()
	if s.cfg.Gateway.Bind != "loopback" && s.auth.Mode == AuthNone {
		s.log.Warn().Str("bind", s.cfg.Gateway.Bind).Msg("gateway reachable beyond loopback without authentication")
	}
	s.log.Info().
		Str("addr", addr).
		Str("auth", s.auth.Mode).
		Int("methods", len(s.methods)).
		Msg("gateway listening")
	if s.hooks != nil {
		s.hooks.Emit(ctx, hooks.EventGatewayStart, map[string]any{"addr": addr})
	}

	go s.pruneLimiter(ctx)
	go func() {
		<-ctx.Done()
		s.log.Info().Msg("gateway shutting down")
		if s.hooks != nil {
			s.hooks.Emit(context.Background(), hooks.EventGatewayStop, nil)
		}
		s.hub.CloseAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpSrv.Shutdown(shutdownCtx)
	}()

	if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) pruneLimiter(ctx context.Context) {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.limiter.Prune()
		}
	}
}
