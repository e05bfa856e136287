// Package storetest is a conformance suite run against every storage backend.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/switchboard/internal/conversation"
	"github.com/soyeahso/switchboard/internal/domain"
	"github.com/soyeahso/switchboard/internal/events"
)

// Backend is the full set of interfaces a storage backend provides.
type Backend interface {
	events.Log
	events.Committer
	conversation.Store
}

// Run exercises a fresh backend returned by newBackend in each subtest.
func Run(t *testing.T, newBackend func(t *testing.T) Backend) {
	t.Run("AppendAssignsSequence", func(t *testing.T) { testAppendSequence(t, newBackend(t)) })
	t.Run("ListSince", func(t *testing.T) { testListSince(t, newBackend(t)) })
	t.Run("ConcurrentAppendIsGapFree", func(t *testing.T) { testConcurrentAppend(t, newBackend(t)) })
	t.Run("SaveAndLoad", func(t *testing.T) { testSaveLoad(t, newBackend(t)) })
	t.Run("SaveConflict", func(t *testing.T) { testSaveConflict(t, newBackend(t)) })
	t.Run("CommitTurn", func(t *testing.T) { testCommitTurn(t, newBackend(t)) })
	t.Run("CommitTurnConflictAppendsNothing", func(t *testing.T) { testCommitConflict(t, newBackend(t)) })
	t.Run("DeleteRemovesEvents", func(t *testing.T) { testDelete(t, newBackend(t)) })
	t.Run("ListIdle", func(t *testing.T) { testListIdle(t, newBackend(t)) })
	t.Run("ListIdleIncludesUncommittedLogs", func(t *testing.T) { testListIdleUncommitted(t, newBackend(t)) })
}

var base = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func event(turn string, kind domain.EventKind, payload string, final bool) domain.Event {
	var raw []byte
	if payload != "" {
		raw = []byte(payload)
	}
	return domain.Event{
		ID:        events.NewID(),
		TurnID:    turn,
		Timestamp: base.Add(123456 * time.Microsecond),
		Kind:      kind,
		Payload:   raw,
		Final:     final,
	}
}

func testAppendSequence(t *testing.T, b Backend) {
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		seq, err := b.Append(ctx, "c1", event("t1", domain.EventToolCall, `{"tool":"x"}`, false))
		require.NoError(t, err)
		assert.Equal(t, int64(i), seq)
	}
	seq, err := b.Append(ctx, "c2", event("t1", domain.EventMessageIn, `{}`, false))
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq, "sequences are per conversation")
}

func testListSince(t *testing.T, b Backend) {
	ctx := context.Background()
	in := event("t1", domain.EventMessageIn, `{"content":"hello"}`, false)
	_, err := b.Append(ctx, "c1", in)
	require.NoError(t, err)
	_, err = b.Append(ctx, "c1", event("t1", domain.EventMessageOut, `{"content":"hi"}`, true))
	require.NoError(t, err)

	all, err := b.ListSince(ctx, "c1", 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, in.ID, all[0].ID)
	assert.Equal(t, "c1", all[0].ConversationID)
	assert.Equal(t, "t1", all[0].TurnID)
	assert.Equal(t, in.Timestamp, all[0].Timestamp)
	assert.Equal(t, domain.EventMessageIn, all[0].Kind)
	assert.JSONEq(t, `{"content":"hello"}`, string(all[0].Payload))
	assert.False(t, all[0].Final)
	assert.True(t, all[1].Final)

	tail, err := b.ListSince(ctx, "c1", 1)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, int64(2), tail[0].Seq)

	none, err := b.ListSince(ctx, "missing", 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testConcurrentAppend(t *testing.T, b Backend) {
	ctx := context.Background()
	const n = 40
	var wg sync.WaitGroup
	seqs := make(chan int64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			seq, err := b.Append(ctx, "c1", event(fmt.Sprintf("t%d", i), domain.EventToolCall, `{}`, false))
			if assert.NoError(t, err) {
				seqs <- seq
			}
		}(i)
	}
	wg.Wait()
	close(seqs)

	seen := make(map[int64]bool)
	for s := range seqs {
		assert.False(t, seen[s], "duplicate seq %d", s)
		seen[s] = true
	}
	for i := int64(1); i <= n; i++ {
		assert.True(t, seen[i], "missing seq %d", i)
	}

	all, err := b.ListSince(ctx, "c1", 0)
	require.NoError(t, err)
	require.Len(t, all, n)
	for i, ev := range all {
		assert.Equal(t, int64(i+1), ev.Seq)
	}
}

func sampleConversation(id string) *domain.Conversation {
	conf := 0.92
	c := domain.NewConversation(id, "general", domain.ChannelMetadata{ChannelID: "irc", From: "alice", Confidence: &conf}, base)
	c.History = append(c.History, domain.Turn{Role: domain.RoleUser, Content: "hi", Timestamp: base})
	c.Slots["date"] = "2025-03-04"
	c.Workflow = &domain.WorkflowProgress{Name: "book_appointment", State: domain.WorkflowCollecting, StepIndex: 1}
	return c
}

func testSaveLoad(t *testing.T, b Backend) {
	ctx := context.Background()

	_, err := b.Load(ctx, "c1")
	assert.True(t, errors.Is(err, conversation.ErrNotFound))

	c := sampleConversation("c1")
	require.NoError(t, b.Save(ctx, c))
	assert.Equal(t, int64(1), c.Version)

	got, err := b.Load(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, c, got)

	got.Slots["time"] = "14:00"
	require.NoError(t, b.Save(ctx, got))
	again, err := b.Load(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), again.Version)
	assert.Equal(t, "14:00", again.Slots["time"])
}

func testSaveConflict(t *testing.T, b Backend) {
	ctx := context.Background()
	c := sampleConversation("c1")
	require.NoError(t, b.Save(ctx, c))

	stale, err := b.Load(ctx, "c1")
	require.NoError(t, err)
	fresh, err := b.Load(ctx, "c1")
	require.NoError(t, err)

	require.NoError(t, b.Save(ctx, fresh))
	stale.Slots["time"] = "09:00"
	err = b.Save(ctx, stale)
	assert.True(t, errors.Is(err, conversation.ErrConflict))

	got, err := b.Load(ctx, "c1")
	require.NoError(t, err)
	assert.NotContains(t, got.Slots, "time")

	dup := sampleConversation("c1")
	assert.True(t, errors.Is(b.Save(ctx, dup), conversation.ErrConflict), "creating over an existing record")
}

func testCommitTurn(t *testing.T, b Backend) {
	ctx := context.Background()
	_, err := b.Append(ctx, "c1", event("t1", domain.EventMessageIn, `{}`, false))
	require.NoError(t, err)

	c := sampleConversation("c1")
	seq, err := b.CommitTurn(ctx, c, event("t1", domain.EventMessageOut, `{"content":"ok"}`, true))
	require.NoError(t, err)
	assert.Equal(t, int64(2), seq)
	assert.Equal(t, int64(1), c.Version)

	got, err := b.Load(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)

	all, err := b.ListSince(ctx, "c1", 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.True(t, all[1].Final)
}

func testCommitConflict(t *testing.T, b Backend) {
	ctx := context.Background()
	c := sampleConversation("c1")
	require.NoError(t, b.Save(ctx, c))

	stale := sampleConversation("c1")
	_, err := b.CommitTurn(ctx, stale, event("t2", domain.EventMessageOut, `{}`, true))
	assert.True(t, errors.Is(err, conversation.ErrConflict))
	assert.Zero(t, stale.Version)

	all, err := b.ListSince(ctx, "c1", 0)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func testDelete(t *testing.T, b Backend) {
	ctx := context.Background()
	c := sampleConversation("c1")
	_, err := b.CommitTurn(ctx, c, event("t1", domain.EventMessageOut, `{}`, true))
	require.NoError(t, err)

	require.NoError(t, b.Delete(ctx, "c1"))
	_, err = b.Load(ctx, "c1")
	assert.True(t, errors.Is(err, conversation.ErrNotFound))
	all, err := b.ListSince(ctx, "c1", 0)
	require.NoError(t, err)
	assert.Empty(t, all)

	assert.NoError(t, b.Delete(ctx, "never-existed"))
}

func testListIdle(t *testing.T, b Backend) {
	ctx := context.Background()
	old := sampleConversation("old")
	old.UpdatedAt = base.Add(-48 * time.Hour)
	require.NoError(t, b.Save(ctx, old))

	recent := sampleConversation("recent")
	recent.UpdatedAt = base
	require.NoError(t, b.Save(ctx, recent))

	ids, err := b.ListIdle(ctx, base.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, ids)
}

func testListIdleUncommitted(t *testing.T, b Backend) {
	ctx := context.Background()
	old := sampleConversation("old")
	old.UpdatedAt = base.Add(-48 * time.Hour)
	require.NoError(t, b.Save(ctx, old))

	// A first turn that failed before commit leaves events and no record.
	stale := event("t1", domain.EventMessageIn, `{}`, false)
	stale.Timestamp = base.Add(-30 * time.Hour)
	_, err := b.Append(ctx, "uncommitted", stale)
	require.NoError(t, err)
	stale.ID = events.NewID()
	stale.Kind = domain.EventError
	_, err = b.Append(ctx, "uncommitted", stale)
	require.NoError(t, err)

	_, err = b.Append(ctx, "in-flight", event("t2", domain.EventMessageIn, `{}`, false))
	require.NoError(t, err)

	ids, err := b.ListIdle(ctx, base.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"old", "uncommitted"}, ids)

	require.NoError(t, b.Delete(ctx, "uncommitted"))
	all, err := b.ListSince(ctx, "uncommitted", 0)
	require.NoError(t, err)
	assert.Empty(t, all)
}
