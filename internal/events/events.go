// Package events defines the append-only conversation ledger: the event log
// contract, the payloads recorded for each event kind, and the turn-scoped
// recorder the orchestrator and its collaborators append through.
package events

import (
	"context"
	"errors"

	"github.com/soyeahso/switchboard/internal/domain"
)

// ErrStorageUnavailable is returned when the backing store cannot be reached.
// The triggering turn must be retried by the caller.
var ErrStorageUnavailable = errors.New("event store unavailable")

// Log is the per-conversation append-only event ledger.
type Log interface {
	// Append assigns the next sequence number of the conversation to ev,
	// persists it, and returns the sequence number.
	Append(ctx context.Context, conversationID string, ev domain.Event) (int64, error)

	// ListSince returns the events with Seq > seq in ascending order.
	ListSince(ctx context.Context, conversationID string, seq int64) ([]domain.Event, error)
}

// Committer is implemented by backends that hold both the event log and the
// conversation records. CommitTurn appends the final event of a turn and
// saves the conversation in a single transaction, with the same optimistic
// version check as a plain save.
type Committer interface {
	CommitTurn(ctx context.Context, conv *domain.Conversation, final domain.Event) (int64, error)
}

// Sink records events for the turn in progress.
type Sink interface {
	Record(ctx context.Context, kind domain.EventKind, payload any) (domain.Event, error)
}
