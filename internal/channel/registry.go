// Package channel manages the messaging adapters that carry conversations.
package channel

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/soyeahso/switchboard/internal/domain"
	"github.com/soyeahso/switchboard/internal/logging"
)

var (
	ErrUnknownChannel   = errors.New("unknown channel")
	ErrDuplicateChannel = errors.New("channel already registered")
	ErrAlreadyStarted   = errors.New("channels already started")
)

type statuser interface {
	Status() domain.ChannelStatus
}

// Registry owns the configured adapters. Channels must be registered
// before Start; adapters run until Stop or until the Start context ends.
type Registry struct {
	log *logging.Logger

	mu       sync.RWMutex
	byID     map[string]domain.Channel
	exits    map[string]error
	started  bool
	inflight sync.WaitGroup
}

func NewRegistry(log *logging.Logger) *Registry {
	return &Registry{
		log:   log.Sub("channels"),
		byID:  make(map[string]domain.Channel),
		exits: make(map[string]error),
	}
}

func (r *Registry) Register(ch domain.Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := ch.ID()
	if r.started {
		return fmt.Errorf("registering %s: %w", id, ErrAlreadyStarted)
	}
	if _, dup := r.byID[id]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateChannel, id)
	}
	r.byID[id] = ch
	r.log.Debug().Str("channel", id).Msg("registered")
	return nil
}

func (r *Registry) Get(id string) (domain.Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.byID[id]
	return ch, ok
}

// IDs lists registered channel IDs in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedIDs()
}

func (r *Registry) sortedIDs() []string {
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Status reports every adapter. Adapters without their own status are
// reported running while started; one whose Start returned carries the
// exit error.
func (r *Registry) Status() []domain.ChannelStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ChannelStatus, 0, len(r.byID))
	for id, ch := range r.byID {
		st := domain.ChannelStatus{ChannelID: id, Running: r.started}
		if s, ok := ch.(statuser); ok {
			st = s.Status()
		}
		if err, exited := r.exits[id]; exited {
			st.Running = false
			if err != nil && st.LastError == "" {
				st.LastError = err.Error()
			}
		}
		out = append(out, st)
	}
	slices.SortFunc(out, func(a, b domain.ChannelStatus) int { return cmp.Compare(a.ChannelID, b.ChannelID) })
	return out
}

// OnMessage routes inbound messages from every adapter to handler.
func (r *Registry) OnMessage(handler func(domain.InboundMessage)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ch := range r.byID {
		ch.OnMessage(handler)
	}
}

// Send delivers msg through the adapter named by msg.ChannelID.
func (r *Registry) Send(ctx context.Context, msg domain.OutboundMessage) error {
	ch, ok := r.Get(msg.ChannelID)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownChannel, msg.ChannelID)
	}
	if err := ch.Send(ctx, msg); err != nil {
		return fmt.Errorf("sending via %s: %w", msg.ChannelID, err)
	}
	return nil
}

// Start launches each adapter in its own goroutine and returns at once.
// Adapter Start methods block for the life of the connection.
func (r *Registry) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return ErrAlreadyStarted
	}
	r.started = true
	clear(r.exits)

	for _, id := range r.sortedIDs() {
		ch := r.byID[id]
		r.inflight.Add(1)
		go r.run(ctx, id, ch)
	}
	r.log.Info().Strs("channels", r.sortedIDs()).Msg("channels started")
	return nil
}

func (r *Registry) run(ctx context.Context, id string, ch domain.Channel) {
	defer r.inflight.Done()
	err := ch.Start(ctx)
	if err != nil {
		r.log.Error().Err(err).Str("channel", id).Msg("channel exited")
	} else {
		r.log.Debug().Str("channel", id).Msg("channel exited")
	}
	r.mu.Lock()
	r.exits[id] = err
	r.mu.Unlock()
}

// Stop asks every adapter to stop and waits for their Start calls to
// return, or for ctx to end.
func (r *Registry) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = false
	chans := make([]domain.Channel, 0, len(r.byID))
	for _, id := range r.sortedIDs() {
		chans = append(chans, r.byID[id])
	}
	r.mu.Unlock()

	var errs []error
	for _, ch := range chans {
		if err := ch.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stopping %s: %w", ch.ID(), err))
		}
	}

	done := make(chan struct{})
	go func() {
		r.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("waiting for channels: %w", ctx.Err()))
	}
	return errors.Join(errs...)
}
