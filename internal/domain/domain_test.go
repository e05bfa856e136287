package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConversation(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	c := NewConversation("+15550100", "general", ChannelMetadata{ChannelID: "irc"}, now)

	assert.Equal(t, "+15550100", c.ID)
	assert.Equal(t, StatusActive, c.Status)
	assert.Equal(t, "general", c.ActiveAgent)
	assert.Equal(t, now, c.CreatedAt)
	assert.Equal(t, now, c.UpdatedAt)
	assert.NotNil(t, c.Slots)
	assert.Empty(t, c.History)
	assert.Zero(t, c.Version)
}

func TestConversationCloneIsDeep(t *testing.T) {
	c := NewConversation("c1", "general", ChannelMetadata{Extra: map[string]string{"k": "v"}}, time.Now())
	c.History = append(c.History, Turn{Role: RoleUser, Content: "hi"})
	c.Slots["date"] = "2025-03-01"
	c.Workflow = &WorkflowProgress{Name: "book_appointment", State: WorkflowCollecting}

	cp := c.Clone()
	cp.History[0].Content = "changed"
	cp.History = append(cp.History, Turn{Role: RoleAgent, Content: "hello"})
	cp.Slots["time"] = "14:00"
	cp.Workflow.StepIndex = 1
	cp.Channel.Extra["k"] = "other"

	assert.Equal(t, "hi", c.History[0].Content)
	assert.Len(t, c.History, 1)
	assert.NotContains(t, c.Slots, "time")
	assert.Equal(t, 0, c.Workflow.StepIndex)
	assert.Equal(t, "v", c.Channel.Extra["k"])
}

func TestCloneNilSlots(t *testing.T) {
	c := &Conversation{ID: "c1"}
	cp := c.Clone()
	require.NotNil(t, cp.Slots)
	cp.Slots["a"] = "b"
	assert.Nil(t, c.Slots)
}

func TestWorkflowStateTerminal(t *testing.T) {
	tests := []struct {
		state WorkflowState
		want  bool
	}{
		{WorkflowCollecting, false},
		{WorkflowValidating, false},
		{WorkflowExecuting, false},
		{WorkflowConfirming, false},
		{WorkflowDone, true},
		{WorkflowAborted, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.state.Terminal())
		})
	}
}

func TestEventKindValid(t *testing.T) {
	for _, k := range []EventKind{EventMessageIn, EventMessageOut, EventAgentSwitch, EventToolCall, EventToolResult, EventError} {
		assert.True(t, k.Valid(), k)
	}
	assert.False(t, EventKind("call_started").Valid())
}

func TestEventDecode(t *testing.T) {
	ev := Event{Kind: EventAgentSwitch, Payload: json.RawMessage(`{"from":"general","to":"scheduler"}`)}

	var p struct {
		From string `json:"from"`
		To   string `json:"to"`
	}
	require.NoError(t, ev.Decode(&p))
	assert.Equal(t, "general", p.From)
	assert.Equal(t, "scheduler", p.To)

	empty := Event{Kind: EventError}
	assert.NoError(t, empty.Decode(&p))
}

func TestInboundMessageMetadata(t *testing.T) {
	conf := 0.42
	msg := InboundMessage{
		ID:         "m1",
		ChannelID:  "irc",
		From:       "alice",
		FromName:   "Alice",
		ChatID:     "#support",
		Body:       "hello",
		Confidence: &conf,
	}
	meta := msg.Metadata()
	assert.Equal(t, "irc", meta.ChannelID)
	assert.Equal(t, "alice", meta.From)
	assert.Equal(t, "#support", meta.ReplyTo)
	assert.Equal(t, "m1", meta.MessageID)
	require.NotNil(t, meta.Confidence)
	assert.InDelta(t, 0.42, *meta.Confidence, 1e-9)
}
