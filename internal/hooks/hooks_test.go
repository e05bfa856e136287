package hooks

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/switchboard/internal/logging"
)

func newManager(t *testing.T) (*Manager, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	return NewManager(logging.New(&buf, "debug")), &buf
}

func TestEmitRunsHandlersInOrder(t *testing.T) {
	m, _ := newManager(t)
	var got []string
	m.On(EventTurnCommitted, "first", func(_ context.Context, p Payload) error {
		got = append(got, "first:"+p.String("conversation"))
		return nil
	})
	m.On(EventTurnCommitted, "second", func(_ context.Context, p Payload) error {
		got = append(got, "second:"+p.Event)
		return nil
	})

	m.Emit(context.Background(), EventTurnCommitted, map[string]any{"conversation": "c1"})
	assert.Equal(t, []string{"first:c1", "second:" + EventTurnCommitted}, got)

	m.Emit(context.Background(), EventTurnAborted, nil)
	assert.Len(t, got, 2, "other events do not reach these handlers")
}

func TestPayloadString(t *testing.T) {
	p := Payload{Data: map[string]any{"conversation": "c1", "seq": int64(4)}}
	assert.Equal(t, "c1", p.String("conversation"))
	assert.Empty(t, p.String("seq"))
	assert.Empty(t, p.String("missing"))
}

func TestNilManager(t *testing.T) {
	var m *Manager
	assert.NotPanics(t, func() {
		m.Emit(context.Background(), EventTurnCommitted, nil)
		m.EmitAsync(context.Background(), EventTurnCommitted, nil)
	})
}

func TestFailingHandlersAreContained(t *testing.T) {
	m, buf := newManager(t)
	reached := false
	m.On(EventConversationEnded, "errs", func(context.Context, Payload) error {
		return errors.New("webhook 502")
	})
	m.On(EventConversationEnded, "panics", func(context.Context, Payload) error {
		panic("nil map")
	})
	m.On(EventConversationEnded, "last", func(context.Context, Payload) error {
		reached = true
		return nil
	})

	require.NotPanics(t, func() {
		m.Emit(context.Background(), EventConversationEnded, nil)
	})
	assert.True(t, reached)
	assert.Contains(t, buf.String(), "webhook 502")
	assert.Contains(t, buf.String(), `"panic":"nil map"`)
}

func TestOff(t *testing.T) {
	m, _ := newManager(t)
	noop := func(context.Context, Payload) error { return nil }
	m.On(EventTurnCommitted, "gateway", noop)
	m.On(EventTurnCommitted, "audit", noop)
	m.On(EventTurnAborted, "gateway", noop)

	m.Off(EventTurnCommitted, "gateway")
	assert.Equal(t, 1, m.Count(EventTurnCommitted))
	assert.Equal(t, 1, m.Count(EventTurnAborted))

	m.Off(EventTurnCommitted, "audit")
	assert.Equal(t, []string{EventTurnAborted}, m.Events())
}

func TestHandlersAddedDuringEmit(t *testing.T) {
	m, _ := newManager(t)
	calls := 0
	m.On(EventTurnCommitted, "adder", func(context.Context, Payload) error {
		calls++
		m.On(EventTurnCommitted, "late", func(context.Context, Payload) error {
			calls++
			return nil
		})
		return nil
	})

	m.Emit(context.Background(), EventTurnCommitted, nil)
	assert.Equal(t, 1, calls, "the running emit sees its own snapshot")
	assert.Equal(t, 2, m.Count(EventTurnCommitted))
}

func TestEmitAsyncOutlivesCaller(t *testing.T) {
	m, _ := newManager(t)
	var wg sync.WaitGroup
	wg.Add(2)
	errs := make(chan error, 2)
	for _, name := range []string{"a", "b"} {
		m.On(EventConversationExpired, name, func(ctx context.Context, _ Payload) error {
			defer wg.Done()
			errs <- ctx.Err()
			return nil
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.EmitAsync(ctx, EventConversationExpired, nil)
	cancel()

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("async handlers did not run")
	}
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestUnknownEventWarns(t *testing.T) {
	m, buf := newManager(t)
	m.On("turn_comitted", "typo", func(context.Context, Payload) error { return nil })
	assert.Contains(t, buf.String(), "subscribing to unknown event")
	assert.Equal(t, 1, m.Count("turn_comitted"))
}

func TestAllEventsUnique(t *testing.T) {
	seen := map[string]bool{}
	for _, ev := range AllEvents {
		assert.False(t, seen[ev], ev)
		seen[ev] = true
	}
}
