package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/soyeahso/switchboard/internal/conversation"
	"github.com/soyeahso/switchboard/internal/domain"
	"github.com/soyeahso/switchboard/internal/events"
)

// SQLiteStore implements events.Log, events.Committer and
// conversation.Store on a single SQLite database.
type SQLiteStore struct {
	db *DB
}

// NewSQLiteStore creates a store using the given database.
func NewSQLiteStore(db *DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", events.ErrStorageUnavailable, op, err)
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return unavailable("commit", err)
	}
	return nil
}

// Append implements events.Log.
func (s *SQLiteStore) Append(ctx context.Context, conversationID string, ev domain.Event) (int64, error) {
	var seq int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		seq, err = appendEvent(ctx, tx, conversationID, ev)
		return err
	})
	return seq, err
}

func appendEvent(ctx context.Context, q querier, conversationID string, ev domain.Event) (int64, error) {
	var seq int64
	if err := q.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM events WHERE conversation_id = ?`, conversationID,
	).Scan(&seq); err != nil {
		return 0, unavailable("next seq", err)
	}

	final := 0
	if ev.Final {
		final = 1
	}
	if _, err := q.ExecContext(ctx,
		`INSERT INTO events (id, conversation_id, seq, turn_id, kind, ts, final, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, conversationID, seq, ev.TurnID, string(ev.Kind),
		ev.Timestamp.UnixMicro(), final, string(ev.Payload),
	); err != nil {
		return 0, unavailable("insert event", err)
	}
	return seq, nil
}

// ListSince implements events.Log.
func (s *SQLiteStore) ListSince(ctx context.Context, conversationID string, seq int64) ([]domain.Event, error) {
	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT id, seq, turn_id, kind, ts, final, payload
		 FROM events WHERE conversation_id = ? AND seq > ?
		 ORDER BY seq`, conversationID, seq,
	)
	if err != nil {
		return nil, unavailable("list events", err)
	}
	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		var (
			ev      domain.Event
			kind    string
			ts      int64
			final   int
			payload sql.NullString
		)
		if err := rows.Scan(&ev.ID, &ev.Seq, &ev.TurnID, &kind, &ts, &final, &payload); err != nil {
			return nil, unavailable("scan event", err)
		}
		ev.ConversationID = conversationID
		ev.Kind = domain.EventKind(kind)
		ev.Timestamp = time.UnixMicro(ts).UTC()
		ev.Final = final == 1
		if payload.Valid && payload.String != "" {
			ev.Payload = json.RawMessage(payload.String)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list events", err)
	}
	return out, nil
}

// Load implements conversation.Store.
func (s *SQLiteStore) Load(ctx context.Context, id string) (*domain.Conversation, error) {
	var record string
	err := s.db.sql.QueryRowContext(ctx, `SELECT record FROM conversations WHERE id = ?`, id).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, conversation.ErrNotFound
	}
	if err != nil {
		return nil, unavailable("load conversation", err)
	}
	var conv domain.Conversation
	if err := json.Unmarshal([]byte(record), &conv); err != nil {
		return nil, fmt.Errorf("decoding conversation %s: %w", id, err)
	}
	return &conv, nil
}

// Save implements conversation.Store.
func (s *SQLiteStore) Save(ctx context.Context, conv *domain.Conversation) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		return saveConversation(ctx, tx, conv)
	})
	if err != nil {
		return err
	}
	conv.Version++
	return nil
}

// CommitTurn implements events.Committer.
func (s *SQLiteStore) CommitTurn(ctx context.Context, conv *domain.Conversation, final domain.Event) (int64, error) {
	var seq int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := saveConversation(ctx, tx, conv); err != nil {
			return err
		}
		var err error
		seq, err = appendEvent(ctx, tx, conv.ID, final)
		return err
	})
	if err != nil {
		return 0, err
	}
	conv.Version++
	return seq, nil
}

func saveConversation(ctx context.Context, q querier, conv *domain.Conversation) error {
	var stored int64
	err := q.QueryRowContext(ctx, `SELECT version FROM conversations WHERE id = ?`, conv.ID).Scan(&stored)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return unavailable("read version", err)
	}
	if stored != conv.Version {
		return fmt.Errorf("%w: %s stored %d, have %d", conversation.ErrConflict, conv.ID, stored, conv.Version)
	}

	next := *conv
	next.Version++
	record, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("encoding conversation %s: %w", conv.ID, err)
	}

	if _, err := q.ExecContext(ctx,
		`INSERT INTO conversations (id, version, status, active_agent, updated_at, record)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   version = excluded.version,
		   status = excluded.status,
		   active_agent = excluded.active_agent,
		   updated_at = excluded.updated_at,
		   record = excluded.record`,
		next.ID, next.Version, string(next.Status), next.ActiveAgent,
		next.UpdatedAt.UnixMicro(), string(record),
	); err != nil {
		return unavailable("save conversation", err)
	}
	return nil
}

// Delete implements conversation.Store. Events of the conversation are
// removed in the same transaction.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE conversation_id = ?`, id); err != nil {
			return unavailable("delete events", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id); err != nil {
			return unavailable("delete conversation", err)
		}
		return nil
	})
}

const listIdleSQLite = `
	SELECT id FROM (
		SELECT id, 0 AS orphan, updated_at AS last FROM conversations WHERE updated_at < ?1
		UNION ALL
		SELECT e.conversation_id, 1, MAX(e.ts) FROM events e
		WHERE NOT EXISTS (SELECT 1 FROM conversations c WHERE c.id = e.conversation_id)
		GROUP BY e.conversation_id
		HAVING MAX(e.ts) < ?1
	) ORDER BY orphan, last`

// ListIdle implements conversation.Store.
func (s *SQLiteStore) ListIdle(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.db.sql.QueryContext(ctx, listIdleSQLite, cutoff.UnixMicro())
	if err != nil {
		return nil, unavailable("list idle", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, unavailable("scan id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list idle", err)
	}
	return ids, nil
}
