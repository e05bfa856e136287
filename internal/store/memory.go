package store

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/soyeahso/switchboard/internal/conversation"
	"github.com/soyeahso/switchboard/internal/domain"
	"github.com/soyeahso/switchboard/internal/events"
)

// MemoryStore is an in-process backend for tests and single-node use.
// Conversation records are kept encoded so a loaded record never aliases
// the caller's copy.
type MemoryStore struct {
	mu     sync.Mutex
	convs  map[string]memoryRecord
	events map[string][]domain.Event
}

type memoryRecord struct {
	version   int64
	updatedAt time.Time
	data      []byte
}

// NewMemoryStore creates an empty memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		convs:  make(map[string]memoryRecord),
		events: make(map[string][]domain.Event),
	}
}

// Append implements events.Log.
func (m *MemoryStore) Append(ctx context.Context, conversationID string, ev domain.Event) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(conversationID, ev), nil
}

func (m *MemoryStore) appendLocked(conversationID string, ev domain.Event) int64 {
	evs := m.events[conversationID]
	ev.ConversationID = conversationID
	ev.Seq = int64(len(evs)) + 1
	ev.Payload = slices.Clone(ev.Payload)
	m.events[conversationID] = append(evs, ev)
	return ev.Seq
}

// ListSince implements events.Log.
func (m *MemoryStore) ListSince(ctx context.Context, conversationID string, seq int64) ([]domain.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	evs := m.events[conversationID]
	if seq < 0 {
		seq = 0
	}
	if seq >= int64(len(evs)) {
		return nil, nil
	}
	out := make([]domain.Event, 0, int64(len(evs))-seq)
	for _, ev := range evs[seq:] {
		ev.Payload = slices.Clone(ev.Payload)
		out = append(out, ev)
	}
	return out, nil
}

// Load implements conversation.Store.
func (m *MemoryStore) Load(ctx context.Context, id string) (*domain.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	rec, ok := m.convs[id]
	m.mu.Unlock()
	if !ok {
		return nil, conversation.ErrNotFound
	}
	var conv domain.Conversation
	if err := json.Unmarshal(rec.data, &conv); err != nil {
		return nil, fmt.Errorf("decoding conversation %s: %w", id, err)
	}
	return &conv, nil
}

// Save implements conversation.Store.
func (m *MemoryStore) Save(ctx context.Context, conv *domain.Conversation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.saveLocked(conv); err != nil {
		return err
	}
	conv.Version++
	return nil
}

func (m *MemoryStore) saveLocked(conv *domain.Conversation) error {
	stored := m.convs[conv.ID].version
	if stored != conv.Version {
		return fmt.Errorf("%w: %s stored %d, have %d", conversation.ErrConflict, conv.ID, stored, conv.Version)
	}
	next := *conv
	next.Version++
	data, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("encoding conversation %s: %w", conv.ID, err)
	}
	m.convs[conv.ID] = memoryRecord{version: next.Version, updatedAt: next.UpdatedAt, data: data}
	return nil
}

// CommitTurn implements events.Committer.
func (m *MemoryStore) CommitTurn(ctx context.Context, conv *domain.Conversation, final domain.Event) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.saveLocked(conv); err != nil {
		return 0, err
	}
	seq := m.appendLocked(conv.ID, final)
	conv.Version++
	return seq, nil
}

// Delete implements conversation.Store.
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.convs, id)
	delete(m.events, id)
	return nil
}

// ListIdle implements conversation.Store.
func (m *MemoryStore) ListIdle(_ context.Context, cutoff time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, rec := range m.convs {
		if rec.updatedAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		return m.convs[ids[i]].updatedAt.Before(m.convs[ids[j]].updatedAt)
	})

	// Event logs of turns that never committed a record.
	orphans := make(map[string]time.Time)
	for id, evs := range m.events {
		if _, ok := m.convs[id]; ok || len(evs) == 0 {
			continue
		}
		var last time.Time
		for _, ev := range evs {
			if ev.Timestamp.After(last) {
				last = ev.Timestamp
			}
		}
		if last.Before(cutoff) {
			orphans[id] = last
		}
	}
	start := len(ids)
	for id := range orphans {
		ids = append(ids, id)
	}
	tail := ids[start:]
	sort.Slice(tail, func(i, j int) bool { return orphans[tail[i]].Before(orphans[tail[j]]) })
	return ids, nil
}

var (
	_ events.Log         = (*MemoryStore)(nil)
	_ events.Committer   = (*MemoryStore)(nil)
	_ conversation.Store = (*MemoryStore)(nil)
	_ events.Log         = (*SQLiteStore)(nil)
	_ events.Committer   = (*SQLiteStore)(nil)
	_ conversation.Store = (*SQLiteStore)(nil)
)
