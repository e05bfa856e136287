package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/soyeahso/switchboard/internal/logging"
	"github.com/soyeahso/switchboard/internal/store/storetest"
)

func TestStore(t *testing.T) {
	dsn := os.Getenv("SWITCHBOARD_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SWITCHBOARD_TEST_POSTGRES_DSN not set")
	}

	storetest.Run(t, func(t *testing.T) storetest.Backend {
		ctx := context.Background()
		s, err := New(ctx, Config{DSN: dsn, MaxConns: 4}, logging.New(nil, "silent"))
		require.NoError(t, err)
		_, err = s.pool.Exec(ctx, `TRUNCATE events, conversations`)
		require.NoError(t, err)
		t.Cleanup(s.Close)
		return s
	})
}
