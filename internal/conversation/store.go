package conversation

import (
	"context"
	"time"

	"github.com/soyeahso/switchboard/internal/domain"
)

// Store persists conversation records.
type Store interface {
	// Load returns the stored record or ErrNotFound.
	Load(ctx context.Context, id string) (*domain.Conversation, error)

	// Save writes the whole record if the stored version equals conv.Version
	// (zero for a record that does not exist yet) and increments conv.Version.
	// A mismatch returns ErrConflict.
	Save(ctx context.Context, conv *domain.Conversation) error

	// Delete removes the record and its events.
	Delete(ctx context.Context, id string) error

	// ListIdle returns the IDs of conversations last updated before cutoff,
	// oldest first, followed by event logs with no conversation record whose
	// newest event is before cutoff.
	ListIdle(ctx context.Context, cutoff time.Time) ([]string, error)
}
