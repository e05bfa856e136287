package gateway

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/soyeahso/switchboard/internal/logging"
)

var (
	ErrSessionClosed = errors.New("session closed")
	ErrSlowConsumer  = errors.New("session send queue full")
)

const (
	sendQueueSize = 64
	writeTimeout  = 10 * time.Second
)

// Session is an authenticated WebSocket connection. Outbound frames go
// through a bounded queue drained by a single writer goroutine, so a push
// never blocks the turn that produced it.
type Session struct {
	ID     string
	Client ClientInfo
	Auth   AuthResult
	Since  time.Time

	conn *websocket.Conn
	out  chan Frame
	done chan struct{}
	once sync.Once
	log  *logging.Logger

	mu    sync.RWMutex
	watch map[string]bool
}

func newSession(conn *websocket.Conn, client ClientInfo, auth AuthResult, log *logging.Logger) *Session {
	id := uuid.New().String()
	return &Session{
		ID:     id,
		Client: client,
		Auth:   auth,
		Since:  time.Now(),
		conn:   conn,
		out:    make(chan Frame, sendQueueSize),
		done:   make(chan struct{}),
		log:    log.With("session", id),
	}
}

// writeLoop drains the send queue until the session closes. A failed write
// closes the session.
func (s *Session) writeLoop() {
	for {
		select {
		case f := <-s.out:
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteJSON(f); err != nil {
				s.log.Debug().Err(err).Msg("write failed")
				s.Close()
				return
			}
		case <-s.done:
			return
		}
	}
}

// Send queues a frame. It fails rather than blocks when the client does
// not keep up.
func (s *Session) Send(f Frame) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	select {
	case s.out <- f:
		return nil
	case <-s.done:
		return ErrSessionClosed
	default:
		return ErrSlowConsumer
	}
}

// Reply answers request id with payload.
func (s *Session) Reply(id string, payload any) error {
	f, err := Result(id, payload)
	if err != nil {
		return err
	}
	return s.Send(f)
}

// Fail answers request id with an error.
func (s *Session) Fail(id string, e ErrorShape) error {
	return s.Send(Failure(id, e))
}

// Watch replaces the set of conversations whose timeline events the
// session receives and returns it sorted. No ids means all conversations.
func (s *Session) Watch(ids ...string) []string {
	var set map[string]bool
	if len(ids) > 0 {
		set = make(map[string]bool, len(ids))
		for _, id := range ids {
			if id != "" {
				set[id] = true
			}
		}
	}

	s.mu.Lock()
	s.watch = set
	s.mu.Unlock()

	watching := make([]string, 0, len(set))
	for id := range set {
		watching = append(watching, id)
	}
	sort.Strings(watching)
	return watching
}

// Watching reports whether the session follows the conversation.
func (s *Session) Watching(conversationID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.watch) == 0 || s.watch[conversationID]
}

func (s *Session) read() (Frame, error) {
	var f Frame
	err := s.conn.ReadJSON(&f)
	return f, err
}

// Close stops the writer and closes the connection. It is safe to call
// more than once.
func (s *Session) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}

// Hub tracks the live sessions of a gateway.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	log      *logging.Logger
}

func NewHub(log *logging.Logger) *Hub {
	return &Hub{sessions: make(map[string]*Session), log: log}
}

func (h *Hub) Join(s *Session) {
	h.mu.Lock()
	h.sessions[s.ID] = s
	n := len(h.sessions)
	h.mu.Unlock()
	h.log.Debug().Str("session", s.ID).Str("client", s.Client.ID).Int("sessions", n).Msg("session joined")
}

func (h *Hub) Leave(id string) {
	h.mu.Lock()
	delete(h.sessions, id)
	n := len(h.sessions)
	h.mu.Unlock()
	h.log.Debug().Str("session", id).Int("sessions", n).Msg("session left")
}

func (h *Hub) Get(id string) (*Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[id]
	return s, ok
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

func (h *Hub) snapshot() []*Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		out = append(out, s)
	}
	return out
}

// Publish pushes an event to every session watching the conversation and
// returns how many accepted it. Sessions with a full queue miss the event.
func (h *Hub) Publish(conversationID, event string, payload any, seq int64) int {
	f, err := Push(event, payload, seq)
	if err != nil {
		h.log.Error().Err(err).Str("event", event).Msg("encoding push")
		return 0
	}
	sent := 0
	for _, s := range h.snapshot() {
		if !s.Watching(conversationID) {
			continue
		}
		if err := s.Send(f); err != nil {
			h.log.Warn().Err(err).Str("session", s.ID).Str("event", event).Msg("push dropped")
			continue
		}
		sent++
	}
	return sent
}

// CloseAll closes every session.
func (h *Hub) CloseAll() {
	for _, s := range h.snapshot() {
		s.Close()
	}
}
