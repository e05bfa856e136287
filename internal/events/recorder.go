package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/soyeahso/switchboard/internal/domain"
)

// Recorder appends the events of a single turn to a Log. It is safe for
// concurrent use by the collaborators of a turn.
type Recorder struct {
	log    Log
	convID string
	turnID string
	now    func() time.Time

	mu     sync.Mutex
	events []domain.Event
}

// NewRecorder creates a recorder for one turn of conversationID.
// A nil clock defaults to Now.
func NewRecorder(log Log, conversationID, turnID string, clock func() time.Time) *Recorder {
	if clock == nil {
		clock = Now
	}
	return &Recorder{log: log, convID: conversationID, turnID: turnID, now: clock}
}

// Now is the default event clock. Timestamps are truncated to microseconds
// so they survive every storage backend unchanged.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// TurnID returns the ID shared by every event of the turn.
func (r *Recorder) TurnID() string { return r.turnID }

// ConversationID returns the conversation the recorder appends to.
func (r *Recorder) ConversationID() string { return r.convID }

// Build creates an event of the turn without appending it.
func (r *Recorder) Build(kind domain.EventKind, payload any, final bool) (domain.Event, error) {
	if !kind.Valid() {
		return domain.Event{}, fmt.Errorf("unknown event kind %q", kind)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return domain.Event{}, fmt.Errorf("encoding %s payload: %w", kind, err)
	}
	return domain.Event{
		ID:             NewID(),
		ConversationID: r.convID,
		TurnID:         r.turnID,
		Timestamp:      r.now(),
		Kind:           kind,
		Payload:        raw,
		Final:          final,
	}, nil
}

// Record builds and appends a non-final event.
func (r *Recorder) Record(ctx context.Context, kind domain.EventKind, payload any) (domain.Event, error) {
	ev, err := r.Build(kind, payload, false)
	if err != nil {
		return domain.Event{}, err
	}
	seq, err := r.log.Append(ctx, r.convID, ev)
	if err != nil {
		return domain.Event{}, err
	}
	ev.Seq = seq
	r.Track(ev)
	return ev, nil
}

// Track adds an event appended outside the recorder, such as the final
// event written by a Committer.
func (r *Recorder) Track(ev domain.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// Events returns the events recorded so far in append order.
func (r *Recorder) Events() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Event, len(r.events))
	copy(out, r.events)
	return out
}
