// Package orchestrator drives inbound turns through classification,
// routing, workflows and agent replies, and commits each turn's state
// together with its final event. Turns of one conversation are serialized
// by a lease; different conversations run in parallel.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/soyeahso/switchboard/internal/agent"
	"github.com/soyeahso/switchboard/internal/config"
	"github.com/soyeahso/switchboard/internal/conversation"
	"github.com/soyeahso/switchboard/internal/domain"
	"github.com/soyeahso/switchboard/internal/events"
	"github.com/soyeahso/switchboard/internal/hooks"
	"github.com/soyeahso/switchboard/internal/lease"
	"github.com/soyeahso/switchboard/internal/logging"
	"github.com/soyeahso/switchboard/internal/workflow"
)

// Defaults for Options.
const (
	DefaultTurnTimeout     = 15 * time.Second
	DefaultConversationTTL = 24 * time.Hour
	DefaultFallbackMessage = "Sorry, I'm having trouble right now. Could you say that again?"
	DefaultClosedMessage   = "This conversation has been closed. Thank you for contacting us."
)

// Error codes recorded in error events.
const (
	CodeTimeout          = "Timeout"
	CodeCompletionFailed = "CompletionFailed"
	CodeTurnFailed       = "TurnFailed"
)

// Options tunes turn handling.
type Options struct {
	TurnTimeout     time.Duration
	LeaseTTL        time.Duration
	HistoryWindow   int
	ConversationTTL time.Duration
	FallbackMessage string
	ClosedMessage   string
}

// OptionsFromConfig maps the orchestrator, lease and store config sections.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		TurnTimeout:     cfg.Orchestrator.TurnTimeout(),
		LeaseTTL:        cfg.Lease.TTL(),
		HistoryWindow:   cfg.Store.HistoryWindow,
		ConversationTTL: cfg.Orchestrator.ConversationTTL(),
		FallbackMessage: cfg.Orchestrator.FallbackMessage,
		ClosedMessage:   cfg.Orchestrator.ClosedMessage,
	}
}

// Deps are the collaborators of the orchestrator. Hooks is optional.
type Deps struct {
	Events     events.Log
	Store      conversation.Store
	Leaser     lease.Leaser
	Classifier agent.Classifier
	Router     *agent.Router
	Workflows  *workflow.Engine
	Responder  *agent.Responder
	Hooks      *hooks.Manager
}

// Orchestrator handles inbound turns. It is the only component that saves
// conversation state.
type Orchestrator struct {
	events     events.Log
	committer  events.Committer
	store      conversation.Store
	leaser     lease.Leaser
	classifier agent.Classifier
	router     *agent.Router
	workflows  *workflow.Engine
	responder  *agent.Responder
	hooks      *hooks.Manager
	opts       Options
	log        *logging.Logger
	clock      func() time.Time
}

// New creates an orchestrator. When the event log also implements
// events.Committer, the final event and the state of a turn are written in
// one transaction.
func New(deps Deps, opts Options, log *logging.Logger) *Orchestrator {
	if opts.TurnTimeout <= 0 {
		opts.TurnTimeout = DefaultTurnTimeout
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = lease.DefaultTTL
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = conversation.DefaultWindow
	}
	if opts.ConversationTTL <= 0 {
		opts.ConversationTTL = DefaultConversationTTL
	}
	if opts.FallbackMessage == "" {
		opts.FallbackMessage = DefaultFallbackMessage
	}
	if opts.ClosedMessage == "" {
		opts.ClosedMessage = DefaultClosedMessage
	}
	committer, _ := deps.Events.(events.Committer)
	return &Orchestrator{
		events:     deps.Events,
		committer:  committer,
		store:      deps.Store,
		leaser:     deps.Leaser,
		classifier: deps.Classifier,
		router:     deps.Router,
		workflows:  deps.Workflows,
		responder:  deps.Responder,
		hooks:      deps.Hooks,
		opts:       opts,
		log:        log.Sub("orchestrator"),
		clock:      events.Now,
	}
}

// Options returns the effective options.
func (o *Orchestrator) Options() Options { return o.opts }

// HandleInboundTurn processes one inbound message of conversationID and
// returns the replies to send. Event store failures are returned wrapping
// events.ErrStorageUnavailable and the turn may be retried. When the turn
// timeout elapses, an error event is recorded, nothing is committed and
// the fallback message is returned without an error.
func (o *Orchestrator) HandleInboundTurn(ctx context.Context, conversationID string, meta domain.ChannelMetadata, content string) ([]domain.OutboundMessage, error) {
	ctx, span := otel.Tracer("switchboard/orchestrator").Start(ctx, "turn.handle")
	defer span.End()
	span.SetAttributes(attribute.String("conversation.id", conversationID))

	if conversationID == "" {
		return nil, errors.New("conversation id is required")
	}

	var out []domain.OutboundMessage
	err := o.withLease(ctx, conversationID, func() error {
		turnCtx, cancel := context.WithTimeout(ctx, o.opts.TurnTimeout)
		defer cancel()

		rec := events.NewRecorder(o.events, conversationID, uuid.NewString(), o.clock)
		t := &turn{o: o, rec: rec, meta: meta, content: content}
		log := o.log.With("conversation", conversationID).With("turn", rec.TurnID())

		msgs, err := t.run(turnCtx)
		switch {
		case err == nil:
			out = msgs
			o.emitCommitted(ctx, t)
			return nil
		case turnCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil:
			log.Warn().Dur("timeout", o.opts.TurnTimeout).Err(err).Msg("turn timed out")
			o.abort(ctx, rec, CodeTimeout, "turn timed out")
			out = []domain.OutboundMessage{o.outbound(conversationID, meta, o.opts.FallbackMessage, "")}
			return nil
		case errors.Is(err, events.ErrStorageUnavailable):
			log.Error().Err(err).Msg("event store unavailable")
			return err
		default:
			log.Error().Err(err).Msg("turn failed")
			o.abort(ctx, rec, CodeTurnFailed, err.Error())
			return err
		}
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "turn failed")
		return nil, err
	}
	return out, nil
}

// Timeline returns the full event log of a conversation in sequence order.
func (o *Orchestrator) Timeline(ctx context.Context, conversationID string) ([]domain.Event, error) {
	evs, err := o.events.ListSince(ctx, conversationID, 0)
	if err != nil {
		return nil, fmt.Errorf("listing events of %s: %w", conversationID, err)
	}
	if len(evs) == 0 {
		return nil, conversation.ErrNotFound
	}
	return evs, nil
}

// Conversation returns the stored conversation record.
func (o *Orchestrator) Conversation(ctx context.Context, conversationID string) (*domain.Conversation, error) {
	return o.store.Load(ctx, conversationID)
}

// withLease runs fn holding the conversation's lease. Waiting for the lease
// is bounded by the lease TTL, after which a stuck holder's lease expires.
func (o *Orchestrator) withLease(ctx context.Context, conversationID string, fn func() error) error {
	acquireCtx, cancel := context.WithTimeout(ctx, o.opts.LeaseTTL)
	l, err := o.leaser.Acquire(acquireCtx, conversationID, o.opts.LeaseTTL)
	cancel()
	if err != nil {
		return fmt.Errorf("acquiring lease on %s: %w", conversationID, err)
	}
	defer func() {
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := o.leaser.Release(relCtx, l); err != nil {
			o.log.Warn().Str("conversation", conversationID).Err(err).Msg("releasing lease")
		}
	}()
	return fn()
}

// abort records an aborted error event for a turn that will not commit.
// It uses a fresh context since the turn's own may be done.
func (o *Orchestrator) abort(ctx context.Context, rec *events.Recorder, code, msg string) {
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if _, err := rec.Record(recCtx, domain.EventError, events.Error{Code: code, Message: msg, Aborted: true}); err != nil {
		o.log.Warn().Str("conversation", rec.ConversationID()).Err(err).Msg("recording aborted turn")
	}
	o.hooks.Emit(ctx, hooks.EventTurnAborted, map[string]any{
		"conversation": rec.ConversationID(),
		"turn":         rec.TurnID(),
		"code":         code,
		"events":       rec.Events(),
	})
}

// commit writes the final event and the conversation together.
func (o *Orchestrator) commit(ctx context.Context, rec *events.Recorder, conv *domain.Conversation, final domain.Event) error {
	var (
		seq int64
		err error
	)
	if o.committer != nil {
		seq, err = o.committer.CommitTurn(ctx, conv, final)
	} else {
		seq, err = o.events.Append(ctx, conv.ID, final)
		if err == nil {
			err = o.store.Save(ctx, conv)
		}
	}
	if err != nil {
		return fmt.Errorf("committing turn of %s: %w", conv.ID, err)
	}
	final.Seq = seq
	rec.Track(final)
	return nil
}

func (o *Orchestrator) outbound(conversationID string, meta domain.ChannelMetadata, body, agentID string) domain.OutboundMessage {
	to := meta.ReplyTo
	if to == "" {
		to = meta.From
	}
	return domain.OutboundMessage{
		ConversationID: conversationID,
		ChannelID:      meta.ChannelID,
		To:             to,
		Body:           body,
		AgentID:        agentID,
		ReplyToID:      meta.MessageID,
	}
}

// emitCommitted fires the hooks of a committed turn.
func (o *Orchestrator) emitCommitted(ctx context.Context, t *turn) {
	if o.hooks == nil {
		return
	}
	evs := t.rec.Events()
	convID := t.rec.ConversationID()
	for _, ev := range evs {
		if ev.Kind != domain.EventAgentSwitch {
			continue
		}
		var sw events.AgentSwitch
		if err := ev.Decode(&sw); err != nil {
			continue
		}
		data := map[string]any{"conversation": convID, "from": sw.From, "to": sw.To, "reason": sw.Reason}
		o.hooks.Emit(ctx, hooks.EventAgentSwitched, data)
		if sw.Escalate {
			o.hooks.Emit(ctx, hooks.EventConversationEscalated, data)
		}
		if sw.Resume {
			o.hooks.Emit(ctx, hooks.EventConversationResumed, data)
		}
	}
	if t.finished != nil {
		o.hooks.Emit(ctx, hooks.EventWorkflowFinished, map[string]any{
			"conversation": convID,
			"workflow":     t.conv.Workflow.Name,
			"state":        string(t.finished.State),
			"reason":       t.finished.Reason,
		})
	}
	o.hooks.Emit(ctx, hooks.EventTurnCommitted, map[string]any{
		"conversation": convID,
		"turn":         t.rec.TurnID(),
		"agent":        t.conv.ActiveAgent,
		"status":       string(t.conv.Status),
		"version":      t.conv.Version,
		"events":       evs,
	})
}
