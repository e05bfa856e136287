package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/switchboard/internal/logging"
	"github.com/soyeahso/switchboard/internal/store/storetest"
)

func quietLog() *logging.Logger { return logging.New(nil, "silent") }

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(memoryPath, quietLog())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSQLiteDSN(t *testing.T) {
	mem := sqliteDSN(memoryPath)
	assert.Contains(t, mem, "busy_timeout")
	assert.NotContains(t, mem, "journal_mode")

	file := sqliteDSN("/var/lib/switchboard/db.sqlite")
	assert.Contains(t, file, "file:/var/lib/switchboard/db.sqlite?")
	assert.Contains(t, file, "journal_mode%28WAL%29")
}

func TestOpenCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "switchboard.db")
	db, err := Open(path, quietLog())
	require.NoError(t, err)
	require.NoError(t, db.Close())
	assert.FileExists(t, path)

	db, err = Open(path, quietLog())
	require.NoError(t, err, "reopening an up to date schema")
	defer db.Close()
	v, err := db.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(migrations), v)
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	require.NoError(t, db.migrate(ctx))
	v, err := db.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, migrations[len(migrations)-1].version, v)
}

func TestMigrateRefusesNewerSchema(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	_, err := db.sql.ExecContext(ctx, "PRAGMA user_version = 99")
	require.NoError(t, err)
	assert.ErrorContains(t, db.migrate(ctx), "newer than this build")
}

func TestSchemaObjects(t *testing.T) {
	db := testDB(t)
	for _, name := range []string{"conversations", "events", "idx_events_turn", "idx_events_conversation_seq"} {
		var n int
		err := db.sql.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE name = ?", name).Scan(&n)
		require.NoError(t, err)
		assert.Equal(t, 1, n, name)
	}
}

func TestMigrationsAscend(t *testing.T) {
	for i, m := range migrations {
		assert.Equal(t, i+1, m.version, m.name)
	}
}

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Backend {
		return NewMemoryStore()
	})
}

func TestSQLiteStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Backend {
		return NewSQLiteStore(testDB(t))
	})
}
