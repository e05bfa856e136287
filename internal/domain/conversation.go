package domain

import (
	"maps"
	"slices"
	"time"
)

// Status is the lifecycle state of a conversation.
type Status string

const (
	StatusActive    Status = "active"
	StatusEscalated Status = "escalated"
	StatusEnded     Status = "ended"
)

// Role identifies the author side of a turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// ToolInvocation is a structured tool call attached to an outbound turn.
type ToolInvocation struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Input  string `json:"input"`            // JSON string
	Output string `json:"output,omitempty"` // redacted JSON string
	Error  string `json:"error,omitempty"`
}

// Turn is one inbound or outbound message. Turns are immutable once appended.
type Turn struct {
	Role      Role             `json:"role"`
	Content   string           `json:"content"`
	Timestamp time.Time        `json:"timestamp"`
	AgentID   string           `json:"agentId,omitempty"`
	ToolCalls []ToolInvocation `json:"toolCalls,omitempty"`
}

// WorkflowState is a node of the workflow state machine.
type WorkflowState string

const (
	WorkflowCollecting WorkflowState = "collecting"
	WorkflowValidating WorkflowState = "validating"
	WorkflowExecuting  WorkflowState = "executing"
	WorkflowConfirming WorkflowState = "confirming"
	WorkflowDone       WorkflowState = "done"
	WorkflowAborted    WorkflowState = "aborted"
)

// Terminal reports whether no further transitions are possible.
func (s WorkflowState) Terminal() bool {
	return s == WorkflowDone || s == WorkflowAborted
}

// WorkflowProgress is the per-conversation progress of a workflow instance.
type WorkflowProgress struct {
	Name        string        `json:"name"`
	State       WorkflowState `json:"state"`
	StepIndex   int           `json:"stepIndex"`
	Retries     int           `json:"retries"`
	AbortReason string        `json:"abortReason,omitempty"`
}

// ChannelMetadata describes where a turn came from.
type ChannelMetadata struct {
	ChannelID string            `json:"channelId,omitempty"`
	From      string            `json:"from,omitempty"`
	FromName  string            `json:"fromName,omitempty"`
	ReplyTo   string            `json:"replyTo,omitempty"`
	MessageID string            `json:"messageId,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`

	// Set by upstream classifiers such as ASR. Nil means not provided.
	Intent     string            `json:"intent,omitempty"`
	Confidence *float64          `json:"confidence,omitempty"`
	Slots      map[string]string `json:"slots,omitempty"`
}

// Conversation is the mutable per-conversation record. It is a compacted
// projection of the conversation's event log.
type Conversation struct {
	ID          string            `json:"id"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
	Status      Status            `json:"status"`
	ActiveAgent string            `json:"activeAgent"`
	History     []Turn            `json:"history"`
	Slots       map[string]string `json:"slots"`
	Escalated   bool              `json:"escalated"`

	Workflow            *WorkflowProgress `json:"workflow,omitempty"`
	LowConfidenceStreak int               `json:"lowConfidenceStreak,omitempty"`
	PendingFallback     bool              `json:"pendingFallback,omitempty"`
	Channel             ChannelMetadata   `json:"channel"`

	// Version counts committed turns and guards optimistic saves.
	Version int64 `json:"version"`
}

// NewConversation creates the record for a first inbound message.
func NewConversation(id, agentID string, meta ChannelMetadata, now time.Time) *Conversation {
	return &Conversation{
		ID:          id,
		CreatedAt:   now,
		UpdatedAt:   now,
		Status:      StatusActive,
		ActiveAgent: agentID,
		Slots:       map[string]string{},
		Channel:     meta,
	}
}

// Clone returns a deep copy so a turn can mutate state without touching
// the loaded record until it commits.
func (c *Conversation) Clone() *Conversation {
	out := *c
	out.History = slices.Clone(c.History)
	out.Slots = maps.Clone(c.Slots)
	if out.Slots == nil {
		out.Slots = map[string]string{}
	}
	if c.Workflow != nil {
		wf := *c.Workflow
		out.Workflow = &wf
	}
	out.Channel.Extra = maps.Clone(c.Channel.Extra)
	out.Channel.Slots = maps.Clone(c.Channel.Slots)
	return &out
}
