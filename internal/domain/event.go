package domain

import (
	"encoding/json"
	"time"
)

// EventKind classifies ledger entries.
type EventKind string

const (
	EventMessageIn   EventKind = "message_in"
	EventMessageOut  EventKind = "message_out"
	EventAgentSwitch EventKind = "agent_switch"
	EventToolCall    EventKind = "tool_call"
	EventToolResult  EventKind = "tool_result"
	EventError       EventKind = "error"
)

// Valid reports whether k is a known event kind.
func (k EventKind) Valid() bool {
	switch k {
	case EventMessageIn, EventMessageOut, EventAgentSwitch, EventToolCall, EventToolResult, EventError:
		return true
	}
	return false
}

// Event is an immutable ledger record. Seq is assigned by the event store
// at append time and is strictly increasing per conversation.
type Event struct {
	ID             int64           `json:"id"`
	ConversationID string          `json:"conversationId"`
	Seq            int64           `json:"seq"`
	TurnID         string          `json:"turnId"`
	Timestamp      time.Time       `json:"timestamp"`
	Kind           EventKind       `json:"kind"`
	Payload        json.RawMessage `json:"payload,omitempty"`

	// Final marks the event committed together with the conversation
	// state. Events of a turn without a final event were never committed.
	Final bool `json:"final,omitempty"`
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}
