// Package postgres implements the conversation and event stores on
// PostgreSQL through a pgx connection pool.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/soyeahso/switchboard/internal/conversation"
	"github.com/soyeahso/switchboard/internal/domain"
	"github.com/soyeahso/switchboard/internal/events"
	"github.com/soyeahso/switchboard/internal/logging"
)

type Config struct {
	DSN      string
	MaxConns int32
	MinConns int32
}

// Store implements events.Log, events.Committer and conversation.Store.
type Store struct {
	pool *pgxpool.Pool
	log  *logging.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id           TEXT PRIMARY KEY,
	version      BIGINT NOT NULL,
	status       TEXT NOT NULL,
	active_agent TEXT NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL,
	record       JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations (updated_at);

CREATE TABLE IF NOT EXISTS events (
	id              BIGINT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	seq             BIGINT NOT NULL,
	turn_id         TEXT NOT NULL,
	kind            TEXT NOT NULL,
	ts              TIMESTAMPTZ NOT NULL,
	final           BOOLEAN NOT NULL DEFAULT FALSE,
	payload         JSONB,
	UNIQUE (conversation_id, seq)
);
`

// New connects, pings and ensures the schema exists.
func New(ctx context.Context, cfg Config, log *logging.Logger) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	} else {
		poolCfg.MaxConns = 10
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	s := &Store{pool: pool, log: log.Sub("postgres")}
	s.log.Info().Msg("postgres store ready")
	return s, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", events.ErrStorageUnavailable, op, err)
}

// withTx runs fn in a transaction. The rollback on defer is a no-op once
// committed.
func (s *Store) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return unavailable("begin", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return unavailable("commit", err)
	}
	return nil
}

// Append implements events.Log.
func (s *Store) Append(ctx context.Context, conversationID string, ev domain.Event) (int64, error) {
	var seq int64
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		seq, err = appendEvent(ctx, tx, conversationID, ev)
		return err
	})
	return seq, err
}

func appendEvent(ctx context.Context, tx pgx.Tx, conversationID string, ev domain.Event) (int64, error) {
	// Serializes sequence assignment per conversation until the transaction ends.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, conversationID); err != nil {
		return 0, unavailable("lock sequence", err)
	}
	var seq int64
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM events WHERE conversation_id = $1`, conversationID,
	).Scan(&seq); err != nil {
		return 0, unavailable("next seq", err)
	}

	var payload any
	if len(ev.Payload) > 0 {
		payload = string(ev.Payload)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO events (id, conversation_id, seq, turn_id, kind, ts, final, payload)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ev.ID, conversationID, seq, ev.TurnID, string(ev.Kind), ev.Timestamp, ev.Final, payload,
	); err != nil {
		return 0, unavailable("insert event", err)
	}
	return seq, nil
}

// ListSince implements events.Log.
func (s *Store) ListSince(ctx context.Context, conversationID string, seq int64) ([]domain.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, seq, turn_id, kind, ts, final, payload
		 FROM events WHERE conversation_id = $1 AND seq > $2
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
			payload []byte
		)
		if err := rows.Scan(&ev.ID, &ev.Seq, &ev.TurnID, &kind, &ev.Timestamp, &ev.Final, &payload); err != nil {
			return nil, unavailable("scan event", err)
		}
		ev.ConversationID = conversationID
		ev.Kind = domain.EventKind(kind)
		ev.Timestamp = ev.Timestamp.UTC()
		if len(payload) > 0 {
			ev.Payload = json.RawMessage(payload)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list events", err)
	}
	return out, nil
}

// Load implements conversation.Store.
func (s *Store) Load(ctx context.Context, id string) (*domain.Conversation, error) {
	var record []byte
	err := s.pool.QueryRow(ctx, `SELECT record FROM conversations WHERE id = $1`, id).Scan(&record)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, conversation.ErrNotFound
	}
	if err != nil {
		return nil, unavailable("load conversation", err)
	}
	var conv domain.Conversation
	if err := json.Unmarshal(record, &conv); err != nil {
		return nil, fmt.Errorf("decoding conversation %s: %w", id, err)
	}
	return &conv, nil
}

// Save implements conversation.Store.
func (s *Store) Save(ctx context.Context, conv *domain.Conversation) error {
	if err := s.withTx(ctx, func(tx pgx.Tx) error { return saveConversation(ctx, tx, conv) }); err != nil {
		return err
	}
	conv.Version++
	return nil
}

// CommitTurn implements events.Committer.
func (s *Store) CommitTurn(ctx context.Context, conv *domain.Conversation, final domain.Event) (int64, error) {
	var seq int64
	err := s.withTx(ctx, func(tx pgx.Tx) error {
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

func saveConversation(ctx context.Context, tx pgx.Tx, conv *domain.Conversation) error {
	var stored int64
	err := tx.QueryRow(ctx, `SELECT version FROM conversations WHERE id = $1 FOR UPDATE`, conv.ID).Scan(&stored)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
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

	tag, err := tx.Exec(ctx,
		`INSERT INTO conversations (id, version, status, active_agent, updated_at, record)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET
		   version = EXCLUDED.version,
		   status = EXCLUDED.status,
		   active_agent = EXCLUDED.active_agent,
		   updated_at = EXCLUDED.updated_at,
		   record = EXCLUDED.record
		 WHERE conversations.version = $7`,
		next.ID, next.Version, string(next.Status), next.ActiveAgent, next.UpdatedAt, string(record), conv.Version,
	)
	if err != nil {
		return unavailable("save conversation", err)
	}
	if tag.RowsAffected() == 0 {
		// A concurrent first save won the insert race.
		return fmt.Errorf("%w: %s", conversation.ErrConflict, conv.ID)
	}
	return nil
}

// Delete implements conversation.Store.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM events WHERE conversation_id = $1`, id); err != nil {
			return unavailable("delete events", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id); err != nil {
			return unavailable("delete conversation", err)
		}
		return nil
	})
}

// ListIdle implements conversation.Store.
func (s *Store) ListIdle(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM (
			SELECT id, 0 AS orphan, updated_at AS last FROM conversations WHERE updated_at < $1
			UNION ALL
			SELECT e.conversation_id, 1, MAX(e.ts) FROM events e
			WHERE NOT EXISTS (SELECT 1 FROM conversations c WHERE c.id = e.conversation_id)
			GROUP BY e.conversation_id
			HAVING MAX(e.ts) < $1
		) AS idle ORDER BY orphan, last`, cutoff,
	)
	if err != nil {
		return nil, unavailable("list idle", err)
	}
	defer rows.Close()

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, unavailable("list idle", err)
	}
	return ids, nil
}

var (
	_ events.Log         = (*Store)(nil)
	_ events.Committer   = (*Store)(nil)
	_ conversation.Store = (*Store)(nil)
)
