package gateway

import (
	"encoding/json"

	"github.com/soyeahso/switchboard/internal/domain"
)

// ProtocolVersion is the operator protocol spoken on /ws. A client that
// announces no version is assumed to speak this one.
const ProtocolVersion = 1

// Frame kinds.
const (
	KindRequest  = "req"
	KindResponse = "res"
	KindEvent    = "event"
)

// Methods served over the WebSocket.
const (
	MethodConnect            = "connect"
	MethodHealth             = "health"
	MethodConfigGet          = "config.get"
	MethodChannelsStatus     = "channels.status"
	MethodTurnHandle         = "turn.handle"
	MethodTimelineGet        = "timeline.get"
	MethodTimelineWatch      = "timeline.watch"
	MethodConversationGet    = "conversation.get"
	MethodConversationResume = "conversation.resume"
	MethodConversationEnd    = "conversation.end"
)

// Events pushed by the server.
const (
	EventChallenge = "connect.challenge"
	EventTimeline  = "timeline.event"
)

// Error codes carried in ErrorShape.Code.
const (
	CodeProtocol       = "protocol_error"
	CodeInvalidParams  = "invalid_params"
	CodeUnauthorized   = "unauthorized"
	CodeForbidden      = "forbidden"
	CodeMethodNotFound = "method_not_found"
	CodeNotFound       = "not_found"
	CodeInvalidState   = "invalid_state"
	CodeUnavailable    = "unavailable"
	CodeBusy           = "busy"
	CodeInternal       = "internal"
)

// Frame is the envelope of every WebSocket message. Kind tells which of
// the field groups is set.
type Frame struct {
	Kind string `json:"type"`

	// req
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`

	// res
	OK      *bool           `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ErrorShape     `json:"error,omitempty"`

	// event
	Event string `json:"event,omitempty"`
	Seq   int64  `json:"seq,omitempty"`
}

// Bind decodes the request params into v. Absent or null params leave v
// untouched.
func (f Frame) Bind(v any) error {
	if len(f.Params) == 0 || string(f.Params) == "null" {
		return nil
	}
	return json.Unmarshal(f.Params, v)
}

// Succeeded reports whether f is a successful response.
func (f Frame) Succeeded() bool {
	return f.Kind == KindResponse && f.OK != nil && *f.OK
}

// ErrorShape is the error of a failed response, also used as the body of
// failed REST calls.
type ErrorShape struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	Retryable    bool   `json:"retryable,omitempty"`
	RetryAfterMs int    `json:"retryAfterMs,omitempty"`
}

func (e *ErrorShape) Error() string { return e.Code + ": " + e.Message }

// ConnectParams are the params of the connect request.
type ConnectParams struct {
	Protocol int          `json:"protocol,omitempty"`
	Client   ClientInfo   `json:"client"`
	Auth     *Credentials `json:"auth,omitempty"`

	// Conversations to receive timeline events for. Empty follows all.
	Watch []string `json:"watch,omitempty"`
}

// ClientInfo identifies an operator console or channel bridge.
type ClientInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
	Version     string `json:"version,omitempty"`
}

// Credentials authenticate a client. Which field is read depends on the
// gateway auth mode.
type Credentials struct {
	Token    string `json:"token,omitempty"`
	Password string `json:"password,omitempty"`
}

// Hello is the payload of a successful connect response.
type Hello struct {
	Protocol   int        `json:"protocol"`
	SessionID  string     `json:"sessionId"`
	Server     ServerInfo `json:"server"`
	Methods    []string   `json:"methods"`
	Events     []string   `json:"events"`
	Watching   []string   `json:"watching,omitempty"`
	MaxPayload int64      `json:"maxPayload"`
}

// ServerInfo identifies the gateway build.
type ServerInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit,omitempty"`
}

// TimelineEvent is the payload of a timeline.event push. Outcome is the
// hook that produced it: turn_committed or turn_aborted.
type TimelineEvent struct {
	ConversationID string       `json:"conversationId"`
	Outcome        string       `json:"outcome"`
	Event          domain.Event `json:"event"`
}

// encode marshals v, leaving nil as an absent field.
func encode(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// Request builds a request frame.
func Request(id, method string, params any) (Frame, error) {
	raw, err := encode(params)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Kind: KindRequest, ID: id, Method: method, Params: raw}, nil
}

// Result builds a successful response to request id.
func Result(id string, payload any) (Frame, error) {
	raw, err := encode(payload)
	if err != nil {
		return Frame{}, err
	}
	ok := true
	return Frame{Kind: KindResponse, ID: id, OK: &ok, Payload: raw}, nil
}

// Failure builds a failed response to request id.
func Failure(id string, e ErrorShape) Frame {
	ok := false
	return Frame{Kind: KindResponse, ID: id, OK: &ok, Error: &e}
}

// Push builds an event frame.
func Push(event string, payload any, seq int64) (Frame, error) {
	raw, err := encode(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Kind: KindEvent, Event: event, Payload: raw, Seq: seq}, nil
}
