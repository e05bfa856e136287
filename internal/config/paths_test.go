package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePathsDefault(t *testing.T) {
	t.Setenv(EnvHome, "")
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	p, err := ResolvePaths()
	require.NoError(t, err)
	assert.Equal(t, PathsAt(filepath.Join(home, ".switchboard")), p)
}

func TestResolvePathsHomeOverride(t *testing.T) {
	t.Setenv(EnvHome, "/srv/switchboard/")

	p, err := ResolvePaths()
	require.NoError(t, err)
	assert.Equal(t, "/srv/switchboard", p.Base)
	assert.Equal(t, "/srv/switchboard/config.yaml", p.Config)
	assert.Equal(t, "/srv/switchboard/logs", p.Logs)
	assert.Equal(t, "/srv/switchboard/data/switchboard.db", p.Database)
	assert.Equal(t, "/srv/switchboard/credentials/calendar-token.json", p.CalendarToken())
}

func TestParseConfigPath(t *testing.T) {
	got, err := ParseConfigPath("gateway.auth.mode")
	require.NoError(t, err)
	assert.Equal(t, []string{"gateway", "auth", "mode"}, got)

	for _, bad := range []string{"", "gateway..port", ".gateway", "gateway."} {
		_, err := ParseConfigPath(bad)
		var ce *ConfigError
		assert.ErrorAs(t, err, &ce, "%q", bad)
	}
}

func TestGetValueAtPath(t *testing.T) {
	doc := map[string]any{
		"gateway": map[string]any{"port": 18789, "auth": map[string]any{"mode": "token"}},
		"agents":  map[string]any{"list": []any{map[string]any{"id": "receptionist"}, map[string]any{"id": "scheduler"}}},
		"name":    "clinic",
	}

	tests := []struct {
		path  string
		want  any
		found bool
	}{
		{"name", "clinic", true},
		{"gateway.port", 18789, true},
		{"gateway.auth.mode", "token", true},
		{"agents.list.1.id", "scheduler", true},
		{"agents.list.2.id", nil, false},
		{"agents.list.x", nil, false},
		{"agents.list.-1", nil, false},
		{"name.first", nil, false},
		{"missing", nil, false},
	}
	for _, tt := range tests {
		segs, err := ParseConfigPath(tt.path)
		require.NoError(t, err)
		got, ok := GetValueAtPath(doc, segs)
		assert.Equal(t, tt.found, ok, tt.path)
		assert.Equal(t, tt.want, got, tt.path)
	}
}
