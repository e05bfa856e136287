package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/soyeahso/switchboard/internal/agent"
	"github.com/soyeahso/switchboard/internal/conversation"
	"github.com/soyeahso/switchboard/internal/domain"
	"github.com/soyeahso/switchboard/internal/events"
	"github.com/soyeahso/switchboard/internal/workflow"
)

// turn is the state of one inbound turn in progress. conv is a clone of the
// stored record and is only written back on commit.
type turn struct {
	o       *Orchestrator
	rec     *events.Recorder
	meta    domain.ChannelMetadata
	content string

	conv      *domain.Conversation
	reply     string
	toolCalls []domain.ToolInvocation
	finished  *workflow.Outcome
}

func (t *turn) run(ctx context.Context) ([]domain.OutboundMessage, error) {
	o := t.o
	id := t.rec.ConversationID()

	stored, err := o.store.Load(ctx, id)
	switch {
	case errors.Is(err, conversation.ErrNotFound):
		stored = nil
	case err != nil:
		return nil, fmt.Errorf("loading conversation %s: %w", id, err)
	}

	sig, err := o.classifier.Classify(ctx, t.content, t.meta)
	if err != nil {
		o.log.Warn().Str("conversation", id).Err(err).Msg("classifier failed, treating turn as unknown")
		sig = agent.Signal{Intent: agent.IntentUnknown, Confidence: 0.5}
	}

	activeAgent := o.router.Registry().Default().ID
	if stored != nil {
		activeAgent = stored.ActiveAgent
	}
	in, err := t.rec.Record(ctx, domain.EventMessageIn, events.MessageIn{
		Content:    t.content,
		Channel:    t.meta,
		Agent:      activeAgent,
		Intent:     sig.Intent,
		Confidence: sig.Confidence,
	})
	if err != nil {
		return nil, err
	}

	if stored == nil {
		t.conv = domain.NewConversation(id, activeAgent, t.meta, in.Timestamp)
		o.log.Info().Str("conversation", id).Str("channel", t.meta.ChannelID).Msg("conversation created")
	} else {
		t.conv = stored.Clone()
	}
	conversation.AppendTurn(t.conv, domain.Turn{
		Role:      domain.RoleUser,
		Content:   t.content,
		Timestamp: in.Timestamp,
	}, o.opts.HistoryWindow)

	if t.conv.Status == domain.StatusEnded {
		t.reply = o.opts.ClosedMessage
		return t.finish(ctx)
	}

	d, err := o.router.Route(ctx, t.conv, sig, t.rec)
	if err != nil {
		return nil, fmt.Errorf("routing: %w", err)
	}

	def, ok := o.router.Registry().Get(t.conv.ActiveAgent)
	if !ok {
		return nil, fmt.Errorf("%w: active agent %q", agent.ErrUnknownAgent, t.conv.ActiveAgent)
	}

	handled, toolFailed, err := t.runWorkflow(ctx, def, d.Signal)
	if err != nil {
		return nil, err
	}
	if !handled {
		toolFailed, err = t.respond(ctx, def)
		if err != nil {
			return nil, err
		}
	}
	if toolFailed {
		t.conv.PendingFallback = true
	}
	return t.finish(ctx)
}

// runWorkflow steps the active agent's workflow, if it declares one.
func (t *turn) runWorkflow(ctx context.Context, def agent.Definition, sig agent.Signal) (handled, toolFailed bool, err error) {
	if def.Workflow == "" || t.o.workflows == nil {
		return false, false, nil
	}
	out, err := t.o.workflows.Step(ctx, t.conv, workflow.Request{
		Workflow: def.Workflow,
		Intent:   sig.Intent,
		Content:  t.content,
		Slots:    t.meta.Slots,
		Caller:   def.Caller(),
	}, t.rec)
	if errors.Is(err, workflow.ErrUnknownWorkflow) {
		t.o.log.Warn().Str("agent", def.ID).Err(err).Msg("agent workflow not defined, answering free-form")
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	if !out.Handled {
		return false, false, nil
	}
	t.reply = out.Reply
	t.toolCalls = out.ToolCalls
	if out.Finished {
		t.finished = out
	}
	return true, out.ToolFailed, nil
}

// respond asks the agent for a free-form reply. Completion failures are
// recorded and answered with the fallback message.
func (t *turn) respond(ctx context.Context, def agent.Definition) (toolFailed bool, err error) {
	o := t.o
	reply, err := o.responder.Reply(ctx, t.conv, def, t.rec)
	if err != nil {
		if errors.Is(err, events.ErrStorageUnavailable) || ctx.Err() != nil {
			return false, err
		}
		o.log.Warn().Str("conversation", t.conv.ID).Str("agent", def.ID).Err(err).Msg("completion failed, using fallback")
		if _, rerr := t.rec.Record(ctx, domain.EventError, events.Error{Code: CodeCompletionFailed, Message: err.Error()}); rerr != nil {
			return false, rerr
		}
		t.reply = o.opts.FallbackMessage
		return false, nil
	}

	t.reply = reply.Content
	t.toolCalls = reply.ToolCalls
	if reply.Escalate {
		why := "agent requested handoff"
		if reply.EscalateReason != "" {
			why += ": " + reply.EscalateReason
		}
		if _, err := o.router.Transfer(ctx, t.conv, o.router.Registry().Handoff().ID, why, t.rec); err != nil {
			return false, err
		}
	}
	return reply.ToolFailed, nil
}

// finish builds the final message_out, appends the agent turn and commits.
func (t *turn) finish(ctx context.Context) ([]domain.OutboundMessage, error) {
	o := t.o
	if t.reply == "" {
		t.reply = o.opts.FallbackMessage
	}
	final, err := t.rec.Build(domain.EventMessageOut, events.MessageOut{
		Content:   t.reply,
		Agent:     t.conv.ActiveAgent,
		ToolCalls: t.toolCalls,
		State:     events.Snapshot(t.conv),
	}, true)
	if err != nil {
		return nil, err
	}
	conversation.AppendTurn(t.conv, domain.Turn{
		Role:      domain.RoleAgent,
		Content:   t.reply,
		Timestamp: final.Timestamp,
		AgentID:   t.conv.ActiveAgent,
		ToolCalls: t.toolCalls,
	}, o.opts.HistoryWindow)
	t.conv.UpdatedAt = final.Timestamp

	if err := o.commit(ctx, t.rec, t.conv, final); err != nil {
		return nil, err
	}
	o.log.Info().
		Str("conversation", t.conv.ID).
		Str("agent", t.conv.ActiveAgent).
		Str("status", string(t.conv.Status)).
		Int64("version", t.conv.Version).
		Msg("turn committed")
	return []domain.OutboundMessage{o.outbound(t.conv.ID, t.meta, t.reply, t.conv.ActiveAgent)}, nil
}
