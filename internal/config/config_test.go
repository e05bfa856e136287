package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, 18789, cfg.Gateway.Port)
	assert.Equal(t, "loopback", cfg.Gateway.Bind)
	assert.Equal(t, "token", cfg.Gateway.Auth.Mode)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 10, cfg.Store.HistoryWindow)
	assert.Equal(t, 30, cfg.Lease.TTLSeconds)
	assert.Equal(t, 15, cfg.Orchestrator.TurnTimeoutSeconds)
	assert.Equal(t, 3, cfg.Tools.MaxAttempts)
	assert.Equal(t, "general", cfg.Agents.Default)
	assert.Equal(t, "human_handoff", cfg.Agents.Handoff)
	assert.InDelta(t, 0.3, cfg.Agents.FallbackThreshold, 1e-9)
	assert.Equal(t, 3, cfg.Agents.FallbackTurns)
	require.Len(t, cfg.Workflows, 1)
	assert.Equal(t, "book_appointment", cfg.Workflows[0].Name)
	assert.Equal(t, 3, cfg.Workflows[0].MaxRetries)
}

func TestDurations(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, "30s", cfg.Lease.TTL().String())
	assert.Equal(t, "15s", cfg.Orchestrator.TurnTimeout().String())
	assert.Equal(t, "24h0m0s", cfg.Orchestrator.ConversationTTL().String())
	assert.Equal(t, "10m0s", cfg.Orchestrator.SweepInterval().String())
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	require.NoError(t, err)
	// Should return defaults
	assert.Equal(t, 18789, cfg.Gateway.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Len(t, cfg.Agents.List, 5)
}

func TestLoadValidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	t.Setenv("TEST_SWITCHBOARD_KEY", "sk-test")

	yaml := `
gateway:
  port: 9999
  bind: lan
  auth:
    mode: password
    password: secret123
logging:
  level: debug
  consoleStyle: json
store:
  driver: postgres
  dsn: postgres://localhost/switchboard
lease:
  driver: redis
  redisAddr: localhost:6379
llm:
  default: openai
  providers:
    openai:
      apiKey: ${TEST_SWITCHBOARD_KEY}
      model: gpt-4o-mini
agents:
  fallbackTurns: 5
channels:
  irc:
    server: irc.libera.chat
    port: 6697
    nick: testbot
    channels:
      - "#general"
      - "#dev"
    useTLS: true
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Gateway.Port)
	assert.Equal(t, "lan", cfg.Gateway.Bind)
	assert.Equal(t, "password", cfg.Gateway.Auth.Mode)
	assert.Equal(t, "secret123", cfg.Gateway.Auth.Password)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.ConsoleStyle)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "redis", cfg.Lease.Driver)
	assert.Equal(t, "sk-test", cfg.LLM.Providers["openai"].APIKey)

	// Partial sections keep their defaults.
	assert.Equal(t, 5, cfg.Agents.FallbackTurns)
	assert.Equal(t, "general", cfg.Agents.Default)
	assert.Len(t, cfg.Agents.List, 5)
	assert.Equal(t, 10, cfg.Store.HistoryWindow)

	require.NotNil(t, cfg.Channels.IRC)
	assert.Equal(t, "irc.libera.chat", cfg.Channels.IRC.Server)
	assert.Equal(t, 6697, cfg.Channels.IRC.Port)
	assert.Equal(t, []string{"#general", "#dev"}, cfg.Channels.IRC.Channels)
	assert.True(t, cfg.Channels.IRC.UseTLS)

	assert.Empty(t, Validate(&cfg))
}

func TestLoadCustomAgentsReplaceDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
agents:
  default: front
  handoff: people
  list:
    - id: front
      transfers:
        - intent: human_request
          target: people
    - id: people
      reply: hold on
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Agents.List, 2)
	assert.Equal(t, "front", cfg.Agents.List[0].ID)
	assert.Equal(t, "people", cfg.Agents.List[0].Transfers[0].Target)
	assert.Equal(t, "hold on", cfg.Agents.List[1].Reply)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{{invalid yaml"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SWITCHBOARD_GATEWAY_PORT", "12345")
	t.Setenv("SWITCHBOARD_LOG_LEVEL", "TRACE")
	t.Setenv("SWITCHBOARD_REDIS_ADDR", "redis:6379")
	t.Setenv("SWITCHBOARD_OPENAI_API_KEY", "sk-env")

	cfg, err := Load("/nonexistent/config.yaml")
	require.NoError(t, err)

	assert.Equal(t, 12345, cfg.Gateway.Port)
	assert.Equal(t, "trace", cfg.Logging.Level)
	assert.Equal(t, "redis", cfg.Lease.Driver)
	assert.Equal(t, "redis:6379", cfg.Lease.RedisAddr)
	assert.Equal(t, "openai", cfg.LLM.Default)
	assert.Equal(t, "sk-env", cfg.LLM.Providers["openai"].APIKey)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("SWITCHBOARD_DOTENV_PROBE=from-file\n"), 0o600))
	t.Setenv("SWITCHBOARD_DOTENV_PROBE", "")
	os.Unsetenv("SWITCHBOARD_DOTENV_PROBE")

	LoadDotEnv(Paths{Base: dir})
	assert.Equal(t, "from-file", os.Getenv("SWITCHBOARD_DOTENV_PROBE"))
}

func TestLoadRaw(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("gateway:\n  port: 8080\n"), 0o600))

	raw, err := LoadRaw(path)
	require.NoError(t, err)
	v, ok := GetValueAtPath(raw, []string{"gateway", "port"})
	require.True(t, ok)
	assert.Equal(t, 8080, v)

	raw, err = LoadRaw(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	assert.Empty(t, raw)
}
