package store

type migration struct {
	version int
	name    string
	sql     string
}

// migrations must stay in ascending version order. Never edit a released
// entry; append a new one.
var migrations = []migration{
	{1, "conversations and events", `
		CREATE TABLE conversations (
			id           TEXT PRIMARY KEY,
			version      INTEGER NOT NULL,
			status       TEXT NOT NULL,
			active_agent TEXT NOT NULL,
			updated_at   INTEGER NOT NULL,
			record       TEXT NOT NULL
		);
		CREATE INDEX idx_conversations_updated ON conversations (updated_at);

		CREATE TABLE events (
			id              INTEGER PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			seq             INTEGER NOT NULL,
			turn_id         TEXT NOT NULL,
			kind            TEXT NOT NULL,
			ts              INTEGER NOT NULL,
			final           INTEGER NOT NULL DEFAULT 0,
			payload         TEXT
		);
		CREATE UNIQUE INDEX idx_events_conversation_seq ON events (conversation_id, seq);
	`},
	{2, "events by turn", `
		CREATE INDEX idx_events_turn ON events (conversation_id, turn_id);
	`},
}
