// Package lease provides keyed exclusive leases with expiry. A lease that
// is not released before its TTL elapses can be reclaimed by another holder.
package lease

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotHeld is returned when releasing a lease that expired and was
	// reclaimed by another holder.
	ErrNotHeld = errors.New("lease not held")

	// ErrAcquireTimeout is returned when the context ends before the lease
	// could be acquired.
	ErrAcquireTimeout = errors.New("timed out acquiring lease")
)

// DefaultTTL is the lease timeout used when none is configured.
const DefaultTTL = 30 * time.Second

// Lease is a held lock on Key. Token identifies the holder.
type Lease struct {
	Key       string
	Token     string
	ExpiresAt time.Time
}

// Leaser hands out exclusive leases.
type Leaser interface {
	// Acquire blocks until the lease on key is held or ctx ends.
	Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error)

	// Release gives the lease back.
	Release(ctx context.Context, l *Lease) error
}
