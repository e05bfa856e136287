package conversation

import (
	"fmt"

	"github.com/soyeahso/switchboard/internal/domain"
	"github.com/soyeahso/switchboard/internal/events"
)

// Replay rebuilds a conversation record from its timeline. Events are
// buffered per turn and applied only when the turn's final event is seen,
// so turns that timed out or failed before commit leave no trace. It
// returns ErrNotFound if no turn was committed.
func Replay(evs []domain.Event, window int) (*domain.Conversation, error) {
	var (
		conv    *domain.Conversation
		pending = make(map[string][]domain.Event)
	)
	for _, ev := range evs {
		pending[ev.TurnID] = append(pending[ev.TurnID], ev)
		if !ev.Final {
			continue
		}
		turn := pending[ev.TurnID]
		delete(pending, ev.TurnID)
		if aborted(turn) {
			continue
		}
		next, err := applyTurn(conv, turn, window)
		if err != nil {
			return nil, fmt.Errorf("replaying turn %s: %w", ev.TurnID, err)
		}
		conv = next
	}
	if conv == nil {
		return nil, ErrNotFound
	}
	return conv, nil
}

func aborted(turn []domain.Event) bool {
	for _, ev := range turn {
		if ev.Kind != domain.EventError {
			continue
		}
		var p events.Error
		if err := ev.Decode(&p); err == nil && p.Aborted {
			return true
		}
	}
	return false
}

func applyTurn(conv *domain.Conversation, turn []domain.Event, window int) (*domain.Conversation, error) {
	var final domain.Event
	for _, ev := range turn {
		switch ev.Kind {
		case domain.EventMessageIn:
			var p events.MessageIn
			if err := ev.Decode(&p); err != nil {
				return nil, err
			}
			if conv == nil {
				conv = domain.NewConversation(ev.ConversationID, p.Agent, p.Channel, ev.Timestamp)
			}
			AppendTurn(conv, domain.Turn{
				Role:      domain.RoleUser,
				Content:   p.Content,
				Timestamp: ev.Timestamp,
			}, window)

		case domain.EventAgentSwitch:
			if conv == nil {
				return nil, ErrNotFound
			}
			var p events.AgentSwitch
			if err := ev.Decode(&p); err != nil {
				return nil, err
			}
			conv.ActiveAgent = p.To
			if p.Escalate {
				conv.Status = domain.StatusEscalated
				conv.Escalated = true
			}
			if p.Resume {
				conv.Status = domain.StatusActive
				conv.Escalated = false
				conv.LowConfidenceStreak = 0
				conv.PendingFallback = false
			}

		case domain.EventMessageOut:
			if conv == nil {
				return nil, ErrNotFound
			}
			var p events.MessageOut
			if err := ev.Decode(&p); err != nil {
				return nil, err
			}
			AppendTurn(conv, domain.Turn{
				Role:      domain.RoleAgent,
				Content:   p.Content,
				Timestamp: ev.Timestamp,
				AgentID:   p.Agent,
				ToolCalls: p.ToolCalls,
			}, window)
			applySnapshot(conv, p.State)
		}
		if ev.Final {
			final = ev
		}
	}
	if conv == nil {
		return nil, ErrNotFound
	}
	conv.Version++
	conv.UpdatedAt = final.Timestamp
	return conv, nil
}

func applySnapshot(c *domain.Conversation, s events.StateSnapshot) {
	c.Status = s.Status
	c.Escalated = s.Escalated
	c.Slots = make(map[string]string, len(s.Slots))
	for k, v := range s.Slots {
		c.Slots[k] = v
	}
	c.Workflow = s.Workflow
	c.LowConfidenceStreak = s.LowConfidenceStreak
	c.PendingFallback = s.PendingFallback
}
