package agent

import (
	"context"
	"fmt"

	"github.com/soyeahso/switchboard/internal/conversation"
	"github.com/soyeahso/switchboard/internal/domain"
	"github.com/soyeahso/switchboard/internal/events"
	"github.com/soyeahso/switchboard/internal/logging"
)

// Routing defaults.
const (
	DefaultFallbackThreshold = 0.3
	DefaultFallbackTurns     = 3
)

// Signal is the classified inbound turn the router evaluates.
type Signal struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Fallback   bool    `json:"fallback,omitempty"`
}

// RouterOptions tunes the fallback signal.
type RouterOptions struct {
	// Confidence below the threshold counts toward the low-confidence streak.
	FallbackThreshold float64
	// A streak of this many turns raises the fallback signal.
	FallbackTurns int
}

// Decision is the outcome of routing one turn.
type Decision struct {
	From      string
	To        string
	Reason    string
	Switched  bool
	Escalated bool
	Signal    Signal
	// Warning is set to an ErrUnknownAgent error when a predicate named an
	// unregistered agent and the default agent was used instead.
	Warning error
}

// Router selects the active agent of a conversation. It is the only writer
// of Conversation.ActiveAgent.
type Router struct {
	reg  *Registry
	opts RouterOptions
	log  *logging.Logger
}

// NewRouter creates a router over reg.
func NewRouter(reg *Registry, opts RouterOptions, log *logging.Logger) *Router {
	if opts.FallbackThreshold <= 0 {
		opts.FallbackThreshold = DefaultFallbackThreshold
	}
	if opts.FallbackTurns <= 0 {
		opts.FallbackTurns = DefaultFallbackTurns
	}
	return &Router{reg: reg, opts: opts, log: log.Sub("router")}
}

// Registry returns the agent definitions the router selects from.
func (r *Router) Registry() *Registry { return r.reg }

// Route updates the fallback bookkeeping of conv from s, then evaluates the
// active agent's transfer predicates in declaration order and applies the
// first match. Escalated conversations always route to the handoff agent.
func (r *Router) Route(ctx context.Context, conv *domain.Conversation, s Signal, sink events.Sink) (Decision, error) {
	handoff := r.reg.Handoff().ID
	if conv.Escalated {
		if conv.ActiveAgent == handoff {
			return Decision{From: handoff, To: handoff, Signal: s}, nil
		}
		return r.transfer(ctx, conv, handoff, "conversation escalated", s, sink)
	}

	if s.Confidence < r.opts.FallbackThreshold {
		conv.LowConfidenceStreak++
	} else {
		conv.LowConfidenceStreak = 0
	}
	s.Fallback = s.Fallback || conv.PendingFallback || conv.LowConfidenceStreak >= r.opts.FallbackTurns
	conv.PendingFallback = false

	current, ok := r.reg.Get(conv.ActiveAgent)
	if !ok {
		return r.transfer(ctx, conv, conv.ActiveAgent, "active agent not registered", s, sink)
	}

	for _, p := range current.Transfers {
		if !p.Matches(s) {
			continue
		}
		d, err := r.transfer(ctx, conv, p.Target, reason(p, s), s, sink)
		if err == nil && d.Switched && p.Fallback {
			conv.LowConfidenceStreak = 0
		}
		return d, err
	}
	return Decision{From: conv.ActiveAgent, To: conv.ActiveAgent, Signal: s}, nil
}

// Transfer moves conv to target outside of predicate evaluation, for
// example when the active agent's escalate_to_human tool succeeded.
func (r *Router) Transfer(ctx context.Context, conv *domain.Conversation, target, why string, sink events.Sink) (Decision, error) {
	return r.transfer(ctx, conv, target, why, Signal{}, sink)
}

func (r *Router) transfer(ctx context.Context, conv *domain.Conversation, target, why string, s Signal, sink events.Sink) (Decision, error) {
	d := Decision{From: conv.ActiveAgent, Signal: s, Reason: why}

	if _, ok := r.reg.Get(target); !ok {
		d.Warning = fmt.Errorf("%w: %q", ErrUnknownAgent, target)
		r.log.Warn().
			Str("conversation", conv.ID).
			Str("target", target).
			Err(d.Warning).
			Msg("transfer target not registered, using default agent")
		target = r.reg.Default().ID
		d.Reason = fmt.Sprintf("%s (unknown target, default agent)", why)
	}
	d.To = target
	if target == conv.ActiveAgent {
		return d, nil
	}

	escalate := target == r.reg.Handoff().ID && !conv.Escalated
	if escalate && conv.Status == domain.StatusEnded {
		return d, fmt.Errorf("escalating conversation %s: %w", conv.ID, conversation.ErrInvalidTransition)
	}

	if _, err := sink.Record(ctx, domain.EventAgentSwitch, events.AgentSwitch{
		From:     d.From,
		To:       d.To,
		Reason:   d.Reason,
		Escalate: escalate,
	}); err != nil {
		return d, err
	}

	conv.ActiveAgent = target
	if escalate {
		if err := conversation.Escalate(conv); err != nil {
			return d, err
		}
		d.Escalated = true
	}
	d.Switched = true

	r.log.Info().
		Str("conversation", conv.ID).
		Str("from", d.From).
		Str("to", d.To).
		Str("reason", d.Reason).
		Msg("agent switched")
	return d, nil
}

// Resume returns an escalated conversation to the default agent. It
// mutates conv and returns the agent_switch payload that records the
// operator action.
func (r *Router) Resume(conv *domain.Conversation) (events.AgentSwitch, error) {
	if err := conversation.Resume(conv); err != nil {
		return events.AgentSwitch{}, err
	}
	sw := events.AgentSwitch{
		From:   conv.ActiveAgent,
		To:     r.reg.Default().ID,
		Reason: "operator resume",
		Resume: true,
	}
	conv.ActiveAgent = sw.To
	conv.LowConfidenceStreak = 0
	conv.PendingFallback = false
	return sw, nil
}

func reason(p Predicate, s Signal) string {
	switch {
	case p.Fallback:
		return "fallback"
	case p.Intent != "":
		return fmt.Sprintf("intent %s (%.2f)", s.Intent, s.Confidence)
	default:
		return fmt.Sprintf("confidence %.2f", s.Confidence)
	}
}
