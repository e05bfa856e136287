package lease

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryLeaser is a process-local Leaser.
type MemoryLeaser struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

type entry struct {
	token    string
	expires  time.Time
	released chan struct{}
}

func NewMemoryLeaser() *MemoryLeaser {
	return &MemoryLeaser{entries: make(map[string]*entry), now: time.Now}
}

// Acquire implements Leaser.
func (m *MemoryLeaser) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	for {
		m.mu.Lock()
		now := m.now()
		e, held := m.entries[key]
		if !held || !now.Before(e.expires) {
			if held {
				// Expired; wake anyone still waiting on the old holder.
				close(e.released)
			}
			ne := &entry{
				token:    uuid.NewString(),
				expires:  now.Add(ttl),
				released: make(chan struct{}),
			}
			m.entries[key] = ne
			m.mu.Unlock()
			return &Lease{Key: key, Token: ne.token, ExpiresAt: ne.expires}, nil
		}
		wait := e.expires.Sub(now)
		released := e.released
		m.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-released:
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w %q: %v", ErrAcquireTimeout, key, ctx.Err())
		}
		timer.Stop()
	}
}

// Release implements Leaser.
func (m *MemoryLeaser) Release(_ context.Context, l *Lease) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[l.Key]
	if !ok || e.token != l.Token {
		return ErrNotHeld
	}
	delete(m.entries, l.Key)
	close(e.released)
	return nil
}
