package events

import (
	"encoding/json"

	"github.com/soyeahso/switchboard/internal/domain"
)

// MessageIn is the payload of a message_in event.
type MessageIn struct {
	Content    string                 `json:"content"`
	Channel    domain.ChannelMetadata `json:"channel"`
	Agent      string                 `json:"agent"`
	Intent     string                 `json:"intent,omitempty"`
	Confidence float64                `json:"confidence"`
}

// MessageOut is the payload of a message_out event. State is the snapshot of
// the conversation fields that are not otherwise derivable from the ledger.
type MessageOut struct {
	Content   string                  `json:"content"`
	Agent     string                  `json:"agent"`
	ToolCalls []domain.ToolInvocation `json:"toolCalls,omitempty"`
	State     StateSnapshot           `json:"state"`
}

// StateSnapshot captures the derived conversation fields at commit time.
type StateSnapshot struct {
	Status              domain.Status            `json:"status"`
	Escalated           bool                     `json:"escalated"`
	Slots               map[string]string        `json:"slots"`
	Workflow            *domain.WorkflowProgress `json:"workflow,omitempty"`
	LowConfidenceStreak int                      `json:"lowConfidenceStreak,omitempty"`
	PendingFallback     bool                     `json:"pendingFallback,omitempty"`
}

// Snapshot captures c for a message_out payload.
func Snapshot(c *domain.Conversation) StateSnapshot {
	s := StateSnapshot{
		Status:              c.Status,
		Escalated:           c.Escalated,
		Slots:               make(map[string]string, len(c.Slots)),
		LowConfidenceStreak: c.LowConfidenceStreak,
		PendingFallback:     c.PendingFallback,
	}
	for k, v := range c.Slots {
		s.Slots[k] = v
	}
	if c.Workflow != nil {
		wf := *c.Workflow
		s.Workflow = &wf
	}
	return s
}

// AgentSwitch is the payload of an agent_switch event.
type AgentSwitch struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason"`

	// Escalate is set when the switch hands the conversation to a human.
	Escalate bool `json:"escalate,omitempty"`
	// Resume is set when an operator returns the conversation to automation.
	Resume bool `json:"resume,omitempty"`
}

// ToolCall is the payload of a tool_call event.
type ToolCall struct {
	CallID string          `json:"callId"`
	Tool   string          `json:"tool"`
	Agent  string          `json:"agent"`
	Args   json.RawMessage `json:"args"`
}

// ToolResult is the payload of a tool_result event. Result is redacted.
type ToolResult struct {
	CallID     string          `json:"callId"`
	Tool       string          `json:"tool"`
	OK         bool            `json:"ok"`
	Result     json.RawMessage `json:"result,omitempty"`
	Code       string          `json:"code,omitempty"`
	Error      string          `json:"error,omitempty"`
	Field      string          `json:"field,omitempty"`
	Attempts   int             `json:"attempts"`
	DurationMs int64           `json:"durationMs"`
}

// Error is the payload of an error event. Aborted marks the turn as not
// committed.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Aborted bool   `json:"aborted,omitempty"`
}
