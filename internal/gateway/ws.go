package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const handshakeTimeout = 10 * time.Second

// handshakeError is a failed handshake that is reported to the client
// before the connection closes.
type handshakeError struct {
	id    string
	shape ErrorShape
}

func (e *handshakeError) Error() string { return e.shape.Error() }

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow(r.RemoteAddr) {
		s.log.Warn().Str("remote", r.RemoteAddr).Msg("rate limited after too many failed auth attempts")
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxPayload)

	sess, err := s.handshake(conn)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("handshake failed")
		s.limiter.Fail(r.RemoteAddr)
		var he *handshakeError
		if errors.As(err, &he) {
			conn.WriteJSON(Failure(he.id, he.shape))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, he.shape.Message))
		}
		conn.Close()
		return
	}

	defer func() {
		s.hub.Leave(sess.ID)
		sess.Close()
	}()
	go sess.writeLoop()

	s.serveSession(sess)
}

// handshake sends a challenge, reads the connect request, authenticates
// it and answers with Hello. The session joins the hub before Hello is
// sent. Frames are written directly since the session writer is not
// running yet.
func (s *Server) handshake(conn *websocket.Conn) (*Session, error) {
	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))

	challenge, err := Push(EventChallenge, map[string]any{
		"nonce": uuid.New().String(),
		"ts":    time.Now().UnixMilli(),
	}, 0)
	if err != nil {
		return nil, err
	}
	if err := conn.WriteJSON(challenge); err != nil {
		return nil, fmt.Errorf("sending challenge: %w", err)
	}

	var req Frame
	if err := conn.ReadJSON(&req); err != nil {
		return nil, fmt.Errorf("reading connect: %w", err)
	}
	if req.Kind != KindRequest || req.Method != MethodConnect {
		return nil, &handshakeError{req.ID, ErrorShape{Code: CodeProtocol, Message: "expected connect request"}}
	}

	var params ConnectParams
	if err := req.Bind(&params); err != nil {
		return nil, &handshakeError{req.ID, ErrorShape{Code: CodeInvalidParams, Message: "invalid connect params"}}
	}
	if params.Protocol != 0 && params.Protocol != ProtocolVersion {
		return nil, &handshakeError{req.ID, ErrorShape{
			Code:    CodeProtocol,
			Message: fmt.Sprintf("unsupported protocol %d, server speaks %d", params.Protocol, ProtocolVersion),
		}}
	}
	res := s.auth.Check(params.Auth)
	if !res.OK {
		return nil, &handshakeError{req.ID, ErrorShape{Code: CodeUnauthorized, Message: res.Reason}}
	}

	conn.SetReadDeadline(time.Time{})
	sess := newSession(conn, params.Client, res, s.log.Sub("ws"))
	watching := sess.Watch(params.Watch...)

	hello, err := Result(req.ID, Hello{
		Protocol:   ProtocolVersion,
		SessionID:  sess.ID,
		Server:     s.serverInfo(),
		Methods:    s.Methods(),
		Events:     []string{EventChallenge, EventTimeline},
		Watching:   watching,
		MaxPayload: maxPayload,
	})
	if err != nil {
		return nil, err
	}
	s.hub.Join(sess)
	if err := conn.WriteJSON(hello); err != nil {
		s.hub.Leave(sess.ID)
		return nil, fmt.Errorf("sending hello: %w", err)
	}

	s.log.Info().
		Str("session", sess.ID).
		Str("client", params.Client.ID).
		Str("clientVersion", params.Client.Version).
		Str("auth", res.Method).
		Msg("session opened")
	return sess, nil
}

// serveSession reads requests until the connection drops. Requests run
// one at a time in arrival order.
func (s *Server) serveSession(sess *Session) {
	for {
		f, err := sess.read()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug().Str("session", sess.ID).Msg("session closed by client")
			} else {
				s.log.Debug().Err(err).Str("session", sess.ID).Msg("session read ended")
			}
			return
		}
		if f.Kind != KindRequest {
			continue
		}
		s.dispatch(sess, f)
	}
}

func (s *Server) dispatch(sess *Session, f Frame) {
	m, ok := s.methods[f.Method]
	if !ok {
		sess.Fail(f.ID, ErrorShape{Code: CodeMethodNotFound, Message: "unknown method: " + f.Method})
		return
	}
	m(&Call{Session: sess, Frame: f, server: s})
}
