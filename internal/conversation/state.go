// Package conversation holds the operations on the per-conversation record
// and its reconstruction from the event log.
package conversation

import (
	"errors"
	"fmt"
	"slices"

	"github.com/soyeahso/switchboard/internal/domain"
)

var (
	ErrNotFound          = errors.New("conversation not found")
	ErrConflict          = errors.New("conversation version conflict")
	ErrInvalidSlot       = errors.New("invalid slot")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// DefaultWindow is the number of turns kept in history.
const DefaultWindow = 10

// AppendTurn appends t to the history, evicting the oldest turns beyond window.
func AppendTurn(c *domain.Conversation, t domain.Turn, window int) {
	if window <= 0 {
		window = DefaultWindow
	}
	c.History = append(c.History, t)
	if n := len(c.History); n > window {
		c.History = slices.Clone(c.History[n-window:])
	}
}

// MergeSlots merges values into the slots of c. Every name must be in known;
// otherwise nothing is merged and ErrInvalidSlot is returned.
func MergeSlots(c *domain.Conversation, values map[string]string, known []string) error {
	for name := range values {
		if !slices.Contains(known, name) {
			return fmt.Errorf("%w: %q", ErrInvalidSlot, name)
		}
	}
	if c.Slots == nil {
		c.Slots = make(map[string]string, len(values))
	}
	for name, v := range values {
		c.Slots[name] = v
	}
	return nil
}

// ClearSlots removes the named slots.
func ClearSlots(c *domain.Conversation, names ...string) {
	for _, n := range names {
		delete(c.Slots, n)
	}
}

// Escalate latches the conversation into human handoff.
func Escalate(c *domain.Conversation) error {
	switch c.Status {
	case domain.StatusEnded:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, domain.StatusEscalated)
	}
	c.Status = domain.StatusEscalated
	c.Escalated = true
	return nil
}

// Resume clears the escalation latch. It is the only transition back to
// active and is only valid from escalated.
func Resume(c *domain.Conversation) error {
	if c.Status != domain.StatusEscalated {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, domain.StatusActive)
	}
	c.Status = domain.StatusActive
	c.Escalated = false
	return nil
}

// End closes the conversation. Ending twice is a no-op.
func End(c *domain.Conversation) {
	c.Status = domain.StatusEnded
}
