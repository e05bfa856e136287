package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/switchboard/internal/conversation"
	"github.com/soyeahso/switchboard/internal/domain"
	"github.com/soyeahso/switchboard/internal/events"
	"github.com/soyeahso/switchboard/internal/hooks"
)

// Resume returns an escalated conversation to automation. It is the only
// escalated → active transition and is recorded as an agent_switch back
// to the default agent.
func (o *Orchestrator) Resume(ctx context.Context, conversationID string) (*domain.Conversation, error) {
	var conv *domain.Conversation
	err := o.withLease(ctx, conversationID, func() error {
		stored, err := o.store.Load(ctx, conversationID)
		if err != nil {
			return fmt.Errorf("loading conversation %s: %w", conversationID, err)
		}
		next := stored.Clone()
		sw, err := o.router.Resume(next)
		if err != nil {
			return err
		}

		rec := events.NewRecorder(o.events, conversationID, uuid.NewString(), o.clock)
		final, err := rec.Build(domain.EventAgentSwitch, sw, true)
		if err != nil {
			return err
		}
		next.UpdatedAt = final.Timestamp
		if err := o.commit(ctx, rec, next, final); err != nil {
			return err
		}
		conv = next

		o.log.Info().Str("conversation", conversationID).Str("agent", sw.To).Msg("conversation resumed by operator")
		o.emitCommitted(ctx, &turn{o: o, rec: rec, conv: next})
		return nil
	})
	return conv, err
}

// End closes a conversation with a closing notice. Ending an ended
// conversation is a no-op.
func (o *Orchestrator) End(ctx context.Context, conversationID string) ([]domain.OutboundMessage, error) {
	var out []domain.OutboundMessage
	err := o.withLease(ctx, conversationID, func() error {
		stored, err := o.store.Load(ctx, conversationID)
		if err != nil {
			return fmt.Errorf("loading conversation %s: %w", conversationID, err)
		}
		if stored.Status == domain.StatusEnded {
			return nil
		}

		rec := events.NewRecorder(o.events, conversationID, uuid.NewString(), o.clock)
		t := &turn{o: o, rec: rec, meta: stored.Channel, conv: stored.Clone(), reply: o.opts.ClosedMessage}
		conversation.End(t.conv)
		msgs, err := t.finish(ctx)
		if err != nil {
			return err
		}
		out = msgs

		o.emitCommitted(ctx, t)
		o.hooks.Emit(ctx, hooks.EventConversationEnded, map[string]any{"conversation": conversationID})
		return nil
	})
	return out, err
}

// Sweep deletes conversations, and their events, idle for longer than the
// conversation TTL. Conversations whose lease is held are skipped until
// the next sweep.
func (o *Orchestrator) Sweep(ctx context.Context) (int, error) {
	cutoff := o.clock().Add(-o.opts.ConversationTTL)
	ids, err := o.store.ListIdle(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("listing idle conversations: %w", err)
	}

	deleted := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		lctx, cancel := context.WithTimeout(ctx, time.Second)
		l, err := o.leaser.Acquire(lctx, id, o.opts.LeaseTTL)
		cancel()
		if err != nil {
			o.log.Debug().Str("conversation", id).Err(err).Msg("conversation busy, skipping expiry")
			continue
		}
		err = o.expire(ctx, id, cutoff)
		if rerr := o.leaser.Release(context.WithoutCancel(ctx), l); rerr != nil {
			o.log.Warn().Str("conversation", id).Err(rerr).Msg("releasing lease")
		}
		switch {
		case errors.Is(err, errStillActive):
			continue
		case err != nil:
			return deleted, err
		}
		deleted++
		o.hooks.Emit(ctx, hooks.EventConversationExpired, map[string]any{"conversation": id})
	}
	if deleted > 0 {
		o.log.Info().Int("deleted", deleted).Msg("expired idle conversations")
	}
	return deleted, nil
}

var errStillActive = errors.New("conversation active since listing")

// expire deletes id unless a turn touched it after the idle listing. An
// id without a record is an event log left by turns that never committed.
func (o *Orchestrator) expire(ctx context.Context, id string, cutoff time.Time) error {
	conv, err := o.store.Load(ctx, id)
	switch {
	case errors.Is(err, conversation.ErrNotFound):
		evs, err := o.events.ListSince(ctx, id, 0)
		if err != nil {
			return fmt.Errorf("reading events of %s: %w", id, err)
		}
		if len(evs) == 0 {
			return errStillActive
		}
		for _, ev := range evs {
			if !ev.Timestamp.Before(cutoff) {
				return errStillActive
			}
		}
	case err != nil:
		return fmt.Errorf("loading conversation %s: %w", id, err)
	case !conv.UpdatedAt.Before(cutoff):
		return errStillActive
	}
	if err := o.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting conversation %s: %w", id, err)
	}
	return nil
}

// RunSweeper calls Sweep every interval until ctx is done.
func (o *Orchestrator) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	o.log.Info().Dur("interval", interval).Dur("ttl", o.opts.ConversationTTL).Msg("conversation sweeper started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := o.Sweep(ctx); err != nil && ctx.Err() == nil {
				o.log.Warn().Err(err).Msg("sweep failed")
			}
		}
	}
}
