package config

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// expandSensitiveFields processes environment variable references in
// credential fields so passwords and tokens can be stored as ${ENV_VAR}.
func expandSensitiveFields(cfg *Config) {
	cfg.Gateway.Auth.Token = expandEnvVars(cfg.Gateway.Auth.Token)
	cfg.Gateway.Auth.Password = expandEnvVars(cfg.Gateway.Auth.Password)
	cfg.Store.DSN = expandEnvVars(cfg.Store.DSN)
	cfg.Lease.RedisPassword = expandEnvVars(cfg.Lease.RedisPassword)
	if cfg.Channels.IRC != nil {
		cfg.Channels.IRC.Password = expandEnvVars(cfg.Channels.IRC.Password)
	}
	for name, provider := range cfg.LLM.Providers {
		provider.APIKey = expandEnvVars(provider.APIKey)
		cfg.LLM.Providers[name] = provider
	}
}

// LoadDotEnv loads .env files from the working directory and the base
// directory. Variables already set in the environment win.
func LoadDotEnv(paths Paths) {
	for _, f := range []string{".env", filepath.Join(paths.Base, ".env")} {
		if _, err := os.Stat(f); err == nil {
			_ = godotenv.Load(f)
		}
	}
}

// Load reads the config file, applies environment overrides, and returns
// a merged Config. Missing files produce defaults only.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			expandSensitiveFields(&cfg)
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	expandSensitiveFields(&cfg)
	return cfg, nil
}

// LoadRaw reads the config file into a generic map for path-based access.
func LoadRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}
	return raw, nil
}

// applyDefaults fills zero-value fields with sensible defaults. Lists set
// in the file replace the default agents and workflows as a whole.
func applyDefaults(cfg *Config) {
	d := Defaults()
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = d.Gateway.Port
	}
	if cfg.Gateway.Bind == "" {
		cfg.Gateway.Bind = d.Gateway.Bind
	}
	if cfg.Gateway.Auth.Mode == "" {
		cfg.Gateway.Auth.Mode = d.Gateway.Auth.Mode
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = d.Logging.Level
	}
	if cfg.Logging.ConsoleStyle == "" {
		cfg.Logging.ConsoleStyle = d.Logging.ConsoleStyle
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = d.Store.Driver
	}
	if cfg.Store.MaxConns == 0 {
		cfg.Store.MaxConns = d.Store.MaxConns
	}
	if cfg.Store.HistoryWindow == 0 {
		cfg.Store.HistoryWindow = d.Store.HistoryWindow
	}
	if cfg.Lease.Driver == "" {
		cfg.Lease.Driver = d.Lease.Driver
	}
	if cfg.Lease.TTLSeconds == 0 {
		cfg.Lease.TTLSeconds = d.Lease.TTLSeconds
	}
	if cfg.Lease.Prefix == "" {
		cfg.Lease.Prefix = d.Lease.Prefix
	}

	o := &cfg.Orchestrator
	if o.TurnTimeoutSeconds == 0 {
		o.TurnTimeoutSeconds = d.Orchestrator.TurnTimeoutSeconds
	}
	if o.ConversationTTLHours == 0 {
		o.ConversationTTLHours = d.Orchestrator.ConversationTTLHours
	}
	if o.SweepIntervalMinutes == 0 {
		o.SweepIntervalMinutes = d.Orchestrator.SweepIntervalMinutes
	}
	if o.FallbackMessage == "" {
		o.FallbackMessage = d.Orchestrator.FallbackMessage
	}
	if o.ClosedMessage == "" {
		o.ClosedMessage = d.Orchestrator.ClosedMessage
	}
	if o.NodeID == 0 {
		o.NodeID = d.Orchestrator.NodeID
	}

	if cfg.Tools.TimeoutSeconds == 0 {
		cfg.Tools.TimeoutSeconds = d.Tools.TimeoutSeconds
	}
	if cfg.Tools.MaxAttempts == 0 {
		cfg.Tools.MaxAttempts = d.Tools.MaxAttempts
	}
	if cfg.Tools.BackoffMs == 0 {
		cfg.Tools.BackoffMs = d.Tools.BackoffMs
	}
	if cfg.LLM.Default == "" {
		cfg.LLM.Default = d.LLM.Default
	}

	a := &cfg.Agents
	if len(a.List) == 0 {
		a.List = d.Agents.List
	}
	if a.Default == "" {
		a.Default = d.Agents.Default
	}
	if a.Handoff == "" {
		a.Handoff = d.Agents.Handoff
	}
	if a.FallbackThreshold == 0 {
		a.FallbackThreshold = d.Agents.FallbackThreshold
	}
	if a.FallbackTurns == 0 {
		a.FallbackTurns = d.Agents.FallbackTurns
	}
	if len(cfg.Workflows) == 0 {
		cfg.Workflows = d.Workflows
	}
	for i := range cfg.Workflows {
		if cfg.Workflows[i].MaxRetries == 0 {
			cfg.Workflows[i].MaxRetries = 3
		}
	}
	if cfg.Calendar != nil {
		if cfg.Calendar.CalendarID == "" {
			cfg.Calendar.CalendarID = "primary"
		}
		if cfg.Calendar.SlotMinutes == 0 {
			cfg.Calendar.SlotMinutes = 60
		}
	}
}

// applyEnvOverrides reads SWITCHBOARD_* environment variables and overrides config values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SWITCHBOARD_GATEWAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.Port = port
		}
	}
	if v := os.Getenv("SWITCHBOARD_GATEWAY_BIND"); v != "" {
		cfg.Gateway.Bind = v
	}
	if v := os.Getenv("SWITCHBOARD_GATEWAY_TOKEN"); v != "" {
		cfg.Gateway.Auth.Token = v
	}
	if v := os.Getenv("SWITCHBOARD_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("SWITCHBOARD_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("SWITCHBOARD_STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv("SWITCHBOARD_REDIS_ADDR"); v != "" {
		cfg.Lease.Driver = "redis"
		cfg.Lease.RedisAddr = v
	}
	if v := os.Getenv("SWITCHBOARD_OPENAI_API_KEY"); v != "" {
		p := cfg.LLM.Providers["openai"]
		p.APIKey = v
		if cfg.LLM.Providers == nil {
			cfg.LLM.Providers = map[string]LLMProvider{}
		}
		cfg.LLM.Providers["openai"] = p
		if cfg.LLM.Default == "" || cfg.LLM.Default == "scripted" {
			cfg.LLM.Default = "openai"
		}
	}
}
