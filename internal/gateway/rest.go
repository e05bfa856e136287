package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/soyeahso/switchboard/internal/conversation"
	"github.com/soyeahso/switchboard/internal/domain"
	"github.com/soyeahso/switchboard/internal/events"
	"github.com/soyeahso/switchboard/internal/lease"
)

const maxTurnBody = 1 << 20

// HealthResponse is the health of the gateway. GET /health fills Status
// only; the authenticated health method fills the rest.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version,omitempty"`
	Sessions int    `json:"sessions,omitempty"`
	Channels int    `json:"channels,omitempty"`
	Uptime   int64  `json:"uptimeSeconds,omitempty"`
}

// TurnRequest is the body of turn.handle and POST /v1/conversations/{id}/turns.
// Intent, Confidence and Slots carry a channel's own classification.
type TurnRequest struct {
	ConversationID string            `json:"conversationId,omitempty"`
	Content        string            `json:"content"`
	ChannelID      string            `json:"channelId,omitempty"`
	From           string            `json:"from,omitempty"`
	FromName       string            `json:"fromName,omitempty"`
	MessageID      string            `json:"messageId,omitempty"`
	Intent         string            `json:"intent,omitempty"`
	Confidence     *float64          `json:"confidence,omitempty"`
	Slots          map[string]string `json:"slots,omitempty"`
}

// Metadata returns the channel metadata of the turn. A turn without a
// channel is attributed to the gateway.
func (r TurnRequest) Metadata() domain.ChannelMetadata {
	ch := r.ChannelID
	if ch == "" {
		ch = "gateway"
	}
	return domain.ChannelMetadata{
		ChannelID:  ch,
		From:       r.From,
		FromName:   r.FromName,
		MessageID:  r.MessageID,
		Intent:     r.Intent,
		Confidence: r.Confidence,
		Slots:      r.Slots,
	}
}

// TurnResponse carries the replies of a turn or of an ended conversation.
type TurnResponse struct {
	ConversationID string                   `json:"conversationId"`
	Replies        []domain.OutboundMessage `json:"replies"`
}

// TimelineResponse carries the event log of a conversation.
type TimelineResponse struct {
	ConversationID string         `json:"conversationId"`
	Events         []domain.Event `json:"events"`
}

func replies(id string, out []domain.OutboundMessage) TurnResponse {
	if out == nil {
		out = []domain.OutboundMessage{}
	}
	return TurnResponse{ConversationID: id, Replies: out}
}

func (s *Server) runTurn(ctx context.Context, req TurnRequest) (TurnResponse, error) {
	out, err := s.convs.HandleInboundTurn(ctx, req.ConversationID, req.Metadata(), req.Content)
	if err != nil {
		return TurnResponse{}, err
	}
	return replies(req.ConversationID, out), nil
}

func (s *Server) endConversation(ctx context.Context, id string) (TurnResponse, error) {
	out, err := s.convs.End(ctx, id)
	if err != nil {
		return TurnResponse{}, err
	}
	s.log.Info().Str("conversation", id).Msg("conversation ended by operator")
	return replies(id, out), nil
}

// wireError maps an orchestrator error to its wire form and HTTP status.
func wireError(err error) (ErrorShape, int) {
	msg := err.Error()
	switch {
	case errors.Is(err, conversation.ErrNotFound):
		return ErrorShape{Code: CodeNotFound, Message: msg}, http.StatusNotFound
	case errors.Is(err, conversation.ErrInvalidTransition):
		return ErrorShape{Code: CodeInvalidState, Message: msg}, http.StatusConflict
	case errors.Is(err, events.ErrStorageUnavailable):
		return ErrorShape{Code: CodeUnavailable, Message: msg, Retryable: true, RetryAfterMs: 1000}, http.StatusServiceUnavailable
	case errors.Is(err, lease.ErrAcquireTimeout):
		return ErrorShape{Code: CodeBusy, Message: msg, Retryable: true, RetryAfterMs: 500}, http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorShape{Code: CodeUnavailable, Message: msg, Retryable: true}, http.StatusGatewayTimeout
	default:
		return ErrorShape{Code: CodeInternal, Message: msg}, http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) api() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.health())
	})
	mux.HandleFunc("GET /v1/conversations/{id}", s.restConversation)
	mux.HandleFunc("GET /v1/conversations/{id}/timeline", s.restTimeline)
	mux.HandleFunc("POST /v1/conversations/{id}/turns", s.restTurn)
	mux.HandleFunc("POST /v1/conversations/{id}/resume", s.restResume)
	mux.HandleFunc("POST /v1/conversations/{id}/end", s.restEnd)
	return mux
}

// restHealth is public and reveals nothing beyond liveness.
func (s *Server) restHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func restNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, ErrorShape{Code: CodeNotFound, Message: "no route for " + r.URL.Path})
}

func (s *Server) restFail(w http.ResponseWriter, r *http.Request, err error) {
	shape, status := wireError(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		s.log.Error().Err(err).Str("path", r.URL.Path).Str("requestId", RequestID(r.Context())).Msg("rest request failed")
	}
	writeJSON(w, status, shape)
}

func (s *Server) restTurn(w http.ResponseWriter, r *http.Request) {
	var req TurnRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTurnBody)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorShape{Code: CodeInvalidParams, Message: err.Error()})
		return
	}
	req.ConversationID = r.PathValue("id")
	if req.MessageID == "" {
		req.MessageID = RequestID(r.Context())
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	resp, err := s.runTurn(ctx, req)
	if err != nil {
		s.restFail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) restTimeline(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	evs, err := s.convs.Timeline(r.Context(), id)
	if err != nil {
		s.restFail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TimelineResponse{ConversationID: id, Events: evs})
}

func (s *Server) restConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := s.convs.Conversation(r.Context(), r.PathValue("id"))
	if err != nil {
		s.restFail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) restResume(w http.ResponseWriter, r *http.Request) {
	conv, err := s.convs.Resume(r.Context(), r.PathValue("id"))
	if err != nil {
		s.restFail(w, r, err)
		return
	}
	s.log.Info().Str("conversation", conv.ID).Str("requestId", RequestID(r.Context())).Msg("conversation resumed by operator")
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) restEnd(w http.ResponseWriter, r *http.Request) {
	resp, err := s.endConversation(r.Context(), r.PathValue("id"))
	if err != nil {
		s.restFail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
