// Package routing connects messaging channels to the orchestrator.
package routing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/soyeahso/switchboard/internal/channel"
	"github.com/soyeahso/switchboard/internal/domain"
	"github.com/soyeahso/switchboard/internal/events"
	"github.com/soyeahso/switchboard/internal/hooks"
	"github.com/soyeahso/switchboard/internal/logging"
)

// Scopes for ConversationKey.
const (
	ScopePerSender = "per-sender"
	ScopePerChat   = "per-chat"
)

// TurnHandler runs one inbound turn of a conversation.
type TurnHandler interface {
	HandleInboundTurn(ctx context.Context, conversationID string, meta domain.ChannelMetadata, content string) ([]domain.OutboundMessage, error)
}

// Router feeds inbound channel messages to the orchestrator and delivers
// its replies through the originating channel.
type Router struct {
	channels *channel.Registry
	turns    TurnHandler
	hooks    *hooks.Manager
	scope    string
	retries  int
	backoff  time.Duration
	log      *logging.Logger
}

// NewRouter creates a message router. hm may be nil.
func NewRouter(channels *channel.Registry, turns TurnHandler, hm *hooks.Manager, scope string, log *logging.Logger) *Router {
	if scope == "" {
		scope = ScopePerSender
	}
	return &Router{
		channels: channels,
		turns:    turns,
		hooks:    hm,
		scope:    scope,
		retries:  2,
		backoff:  250 * time.Millisecond,
		log:      log.Sub("routing"),
	}
}

// ConversationKey maps a channel message to its conversation id. A direct
// message is keyed by sender; group chats are keyed by chat, and also by
// sender under the per-sender scope.
func ConversationKey(msg domain.InboundMessage, scope string) string {
	if msg.ChatType == domain.ChatTypeDM || msg.ChatID == "" {
		return msg.ChannelID + ":" + msg.From
	}
	if scope == ScopePerChat {
		return msg.ChannelID + ":" + msg.ChatID
	}
	return msg.ChannelID + ":" + msg.ChatID + ":" + msg.From
}

// HandleInbound runs a channel message as a turn and sends the replies.
// Turns rejected because the event store is unavailable are retried.
func (r *Router) HandleInbound(ctx context.Context, msg domain.InboundMessage) error {
	convID := ConversationKey(msg, r.scope)
	log := r.log.With("conversation", convID).With("channel", msg.ChannelID)
	log.Info().
		Str("from", msg.From).
		Str("chatType", string(msg.ChatType)).
		Msg("routing inbound message")

	r.hooks.Emit(ctx, hooks.EventMessageReceived, map[string]any{
		"conversation": convID,
		"channel":      msg.ChannelID,
		"from":         msg.From,
	})

	meta := msg.Metadata()
	if meta.ReplyTo == "" || msg.ChatType == domain.ChatTypeDM {
		meta.ReplyTo = msg.From
	}

	var (
		out []domain.OutboundMessage
		err error
	)
	for attempt := 0; ; attempt++ {
		out, err = r.turns.HandleInboundTurn(ctx, convID, meta, msg.Body)
		if err == nil || !errors.Is(err, events.ErrStorageUnavailable) || attempt >= r.retries {
			break
		}
		log.Warn().Err(err).Int("attempt", attempt+1).Msg("event store unavailable, retrying turn")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.backoff << attempt):
		}
	}
	if err != nil {
		log.Error().Err(err).Msg("turn failed")
		return fmt.Errorf("handling turn of %s: %w", convID, err)
	}

	for _, reply := range out {
		if reply.ChannelID == "" {
			reply.ChannelID = msg.ChannelID
		}
		if err := r.Send(ctx, reply); err != nil {
			return err
		}
	}
	return nil
}

// Send delivers an orchestrator reply through its channel.
func (r *Router) Send(ctx context.Context, reply domain.OutboundMessage) error {
	r.hooks.Emit(ctx, hooks.EventMessageSending, map[string]any{
		"conversation": reply.ConversationID,
		"channel":      reply.ChannelID,
		"to":           reply.To,
		"agent":        reply.AgentID,
	})
	if err := r.channels.Send(ctx, reply); err != nil {
		r.log.Error().Err(err).
			Str("channel", reply.ChannelID).
			Str("to", reply.To).
			Msg("failed to send reply")
		return fmt.Errorf("sending reply to %s: %w", reply.To, err)
	}
	r.log.Info().
		Str("channel", reply.ChannelID).
		Str("to", reply.To).
		Str("agent", reply.AgentID).
		Msg("reply sent")
	return nil
}

// Wire registers the router as the message handler of every channel. Each
// message is handled on its own goroutine; the orchestrator serializes
// turns of the same conversation.
func (r *Router) Wire(ctx context.Context) {
	r.channels.OnMessage(func(msg domain.InboundMessage) {
		go func() {
			if err := r.HandleInbound(ctx, msg); err != nil {
				r.log.Debug().Err(err).Msg("inbound message dropped")
			}
		}()
	})
}
