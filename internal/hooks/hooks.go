// Package hooks dispatches conversation lifecycle events to in-process
// listeners such as the gateway's timeline broadcast.
package hooks

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/soyeahso/switchboard/internal/logging"
)

const (
	EventMessageReceived       = "message_received"
	EventMessageSending        = "message_sending"
	EventTurnCommitted         = "turn_committed"
	EventTurnAborted           = "turn_aborted"
	EventAgentSwitched         = "agent_switched"
	EventConversationEscalated = "conversation_escalated"
	EventConversationResumed   = "conversation_resumed"
	EventConversationEnded     = "conversation_ended"
	EventConversationExpired   = "conversation_expired"
	EventWorkflowFinished      = "workflow_finished"
	EventGatewayStart          = "gateway_start"
	EventGatewayStop           = "gateway_stop"
)

var AllEvents = []string{
	EventMessageReceived,
	EventMessageSending,
	EventTurnCommitted,
	EventTurnAborted,
	EventAgentSwitched,
	EventConversationEscalated,
	EventConversationResumed,
	EventConversationEnded,
	EventConversationExpired,
	EventWorkflowFinished,
	EventGatewayStart,
	EventGatewayStop,
}

type Payload struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data,omitempty"`
}

// String returns Data[key] when it holds a string.
func (p Payload) String(key string) string {
	s, _ := p.Data[key].(string)
	return s
}

// Handler errors and panics are logged; they never reach the emitter.
type Handler func(ctx context.Context, p Payload) error

type subscriber struct {
	name string
	fn   Handler
}

// table is replaced wholesale on every change, so Emit reads it without
// locking.
type table map[string][]subscriber

// Manager holds hook subscriptions. A nil *Manager drops every event.
type Manager struct {
	log *logging.Logger

	mu   sync.Mutex
	subs atomic.Pointer[table]
}

func NewManager(log *logging.Logger) *Manager {
	m := &Manager{log: log.Sub("hooks")}
	m.subs.Store(&table{})
	return m
}

// update applies fn to a copy of the subscription table.
func (m *Manager) update(fn func(t table)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	old := *m.subs.Load()
	next := make(table, len(old))
	for ev, subs := range old {
		next[ev] = slices.Clone(subs)
	}
	fn(next)
	m.subs.Store(&next)
}

// On subscribes fn to event under name. Handlers run in subscription
// order.
func (m *Manager) On(event, name string, fn Handler) {
	if !slices.Contains(AllEvents, event) {
		m.log.Warn().Str("event", event).Str("handler", name).Msg("subscribing to unknown event")
	}
	m.update(func(t table) {
		t[event] = append(t[event], subscriber{name: name, fn: fn})
	})
}

// Off drops every handler called name from event.
func (m *Manager) Off(event, name string) {
	m.update(func(t table) {
		t[event] = slices.DeleteFunc(t[event], func(s subscriber) bool { return s.name == name })
		if len(t[event]) == 0 {
			delete(t, event)
		}
	})
}

// Emit runs the event's handlers in order on the calling goroutine.
func (m *Manager) Emit(ctx context.Context, event string, data map[string]any) {
	if m == nil {
		return
	}
	p := Payload{Event: event, Data: data}
	for _, s := range (*m.subs.Load())[event] {
		m.call(ctx, s, p)
	}
}

// EmitAsync runs each handler on its own goroutine. Handlers outlive
// ctx's cancellation.
func (m *Manager) EmitAsync(ctx context.Context, event string, data map[string]any) {
	if m == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	p := Payload{Event: event, Data: data}
	for _, s := range (*m.subs.Load())[event] {
		go m.call(ctx, s, p)
	}
}

func (m *Manager) call(ctx context.Context, s subscriber, p Payload) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().Str("event", p.Event).Str("handler", s.name).
				Str("panic", fmt.Sprint(r)).Msg("hook panicked")
		}
	}()
	if err := s.fn(ctx, p); err != nil {
		m.log.Warn().Err(err).Str("event", p.Event).Str("handler", s.name).Msg("hook failed")
	}
}

// Count reports how many handlers event has.
func (m *Manager) Count(event string) int {
	return len((*m.subs.Load())[event])
}

// Events lists events with at least one handler, sorted.
func (m *Manager) Events() []string {
	t := *m.subs.Load()
	out := make([]string, 0, len(t))
	for ev := range t {
		out = append(out, ev)
	}
	slices.Sort(out)
	return out
}
