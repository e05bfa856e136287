package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/switchboard/internal/domain"
)

type sliceLog struct {
	mu   sync.Mutex
	evs  []domain.Event
	fail error
}

func (l *sliceLog) Append(_ context.Context, conversationID string, ev domain.Event) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail != nil {
		return 0, l.fail
	}
	ev.ConversationID = conversationID
	ev.Seq = int64(len(l.evs) + 1)
	l.evs = append(l.evs, ev)
	return ev.Seq, nil
}

func (l *sliceLog) ListSince(_ context.Context, _ string, seq int64) ([]domain.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.Event
	for _, ev := range l.evs {
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out, nil
}

func fixedClock() time.Time { return time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC) }

func TestRecorderRecord(t *testing.T) {
	log := &sliceLog{}
	rec := NewRecorder(log, "c1", "turn-1", fixedClock)

	ev, err := rec.Record(context.Background(), domain.EventToolCall, ToolCall{CallID: "x", Tool: "create_booking", Agent: "scheduler"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), ev.Seq)
	assert.Equal(t, "c1", ev.ConversationID)
	assert.Equal(t, "turn-1", ev.TurnID)
	assert.Equal(t, fixedClock(), ev.Timestamp)
	assert.False(t, ev.Final)
	assert.NotZero(t, ev.ID)

	var p ToolCall
	require.NoError(t, ev.Decode(&p))
	assert.Equal(t, "create_booking", p.Tool)

	_, err = rec.Record(context.Background(), domain.EventToolResult, ToolResult{CallID: "x", OK: true})
	require.NoError(t, err)

	got := rec.Events()
	require.Len(t, got, 2)
	assert.Equal(t, int64(2), got[1].Seq)
}

func TestRecorderRejectsUnknownKind(t *testing.T) {
	rec := NewRecorder(&sliceLog{}, "c1", "t", nil)
	_, err := rec.Record(context.Background(), domain.EventKind("bogus"), nil)
	assert.Error(t, err)
	assert.Empty(t, rec.Events())
}

func TestRecorderPropagatesStorageErrors(t *testing.T) {
	log := &sliceLog{fail: ErrStorageUnavailable}
	rec := NewRecorder(log, "c1", "t", nil)
	_, err := rec.Record(context.Background(), domain.EventMessageIn, MessageIn{Content: "hi"})
	assert.True(t, errors.Is(err, ErrStorageUnavailable))
	assert.Empty(t, rec.Events())
}

func TestRecorderBuildAndTrack(t *testing.T) {
	log := &sliceLog{}
	rec := NewRecorder(log, "c1", "t", fixedClock)

	ev, err := rec.Build(domain.EventMessageOut, MessageOut{Content: "done"}, true)
	require.NoError(t, err)
	assert.True(t, ev.Final)
	assert.Zero(t, ev.Seq)
	assert.Empty(t, log.evs)

	ev.Seq = 7
	rec.Track(ev)
	require.Len(t, rec.Events(), 1)
	assert.Equal(t, int64(7), rec.Events()[0].Seq)
}

func TestNewIDUnique(t *testing.T) {
	seen := make(map[int64]bool)
	for i := 0; i < 1000; i++ {
		id := NewID()
		require.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	c := domain.NewConversation("c1", "scheduler", domain.ChannelMetadata{}, fixedClock())
	c.Slots["date"] = "2025-03-04"
	c.Workflow = &domain.WorkflowProgress{Name: "book_appointment", State: domain.WorkflowCollecting, StepIndex: 1}
	c.LowConfidenceStreak = 2

	s := Snapshot(c)
	c.Slots["date"] = "changed"
	c.Workflow.StepIndex = 0

	assert.Equal(t, "2025-03-04", s.Slots["date"])
	assert.Equal(t, 1, s.Workflow.StepIndex)
	assert.Equal(t, 2, s.LowConfidenceStreak)
	assert.Equal(t, domain.StatusActive, s.Status)
}
