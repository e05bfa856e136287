package config

import (
	"fmt"
	"regexp"
	"slices"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue
	add := func(path, format string, args ...any) {
		issues = append(issues, ValidationIssue{Path: path, Message: fmt.Sprintf(format, args...)})
	}
	oneOf := func(path, value string, valid []string) {
		if value != "" && !slices.Contains(valid, value) {
			add(path, "must be one of %v, got %q", valid, value)
		}
	}

	// Gateway validation
	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		add("gateway.port", "port must be 0-65535, got %d", cfg.Gateway.Port)
	}
	oneOf("gateway.bind", cfg.Gateway.Bind, []string{"loopback", "lan", "custom"})
	if cfg.Gateway.Bind == "custom" && cfg.Gateway.CustomBindHost == "" {
		add("gateway.customBindHost", "required when bind is custom")
	}
	oneOf("gateway.auth.mode", cfg.Gateway.Auth.Mode, []string{"token", "password", "none"})

	// Logging validation
	oneOf("logging.level", cfg.Logging.Level, []string{"silent", "error", "warn", "info", "debug", "trace"})
	oneOf("logging.consoleStyle", cfg.Logging.ConsoleStyle, []string{"pretty", "json"})

	// Store and lease
	oneOf("store.driver", cfg.Store.Driver, []string{"sqlite", "postgres", "memory"})
	if cfg.Store.Driver == "postgres" && cfg.Store.DSN == "" {
		add("store.dsn", "required when driver is postgres")
	}
	if cfg.Store.HistoryWindow < 0 {
		add("store.historyWindow", "must not be negative")
	}
	oneOf("lease.driver", cfg.Lease.Driver, []string{"memory", "redis"})
	if cfg.Lease.Driver == "redis" && cfg.Lease.RedisAddr == "" {
		add("lease.redisAddr", "required when driver is redis")
	}
	if cfg.Lease.TTLSeconds < 0 {
		add("lease.ttlSeconds", "must not be negative")
	}
	if cfg.Orchestrator.TurnTimeoutSeconds < 0 {
		add("orchestrator.turnTimeoutSeconds", "must not be negative")
	}
	if cfg.Tools.MaxAttempts < 0 {
		add("tools.maxAttempts", "must not be negative")
	}

	// LLM validation
	if cfg.LLM.Default != "" && cfg.LLM.Default != "scripted" {
		if _, ok := cfg.LLM.Providers[cfg.LLM.Default]; !ok {
			add("llm.default", "provider %q is not configured", cfg.LLM.Default)
		}
	}

	issues = append(issues, validateAgents(cfg)...)
	issues = append(issues, validateWorkflows(cfg)...)

	if cfg.Calendar != nil && cfg.Calendar.CredentialsFile == "" {
		add("calendar.credentialsFile", "credentialsFile is required")
	}

	// IRC validation (only if configured)
	if cfg.Channels.Scope != "" {
		oneOf("channels.scope", cfg.Channels.Scope, []string{"per-sender", "per-chat"})
	}
	if cfg.Channels.IRC != nil {
		irc := cfg.Channels.IRC
		if irc.Server == "" {
			add("channels.irc.server", "server is required")
		}
		if irc.Nick == "" {
			add("channels.irc.nick", "nick is required")
		}
		if irc.Port < 0 || irc.Port > 65535 {
			add("channels.irc.port", "port must be 0-65535, got %d", irc.Port)
		}
		if irc.SASL && irc.Password == "" {
			add("channels.irc.sasl", "SASL requires a password to be set")
		}
	}

	return issues
}

func validateAgents(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue
	a := cfg.Agents
	ids := make(map[string]bool, len(a.List))
	for i, e := range a.List {
		path := fmt.Sprintf("agents.list[%d]", i)
		if e.ID == "" {
			issues = append(issues, ValidationIssue{Path: path + ".id", Message: "id is required"})
			continue
		}
		if ids[e.ID] {
			issues = append(issues, ValidationIssue{Path: path + ".id", Message: fmt.Sprintf("duplicate agent %q", e.ID)})
		}
		ids[e.ID] = true
	}
	for _, name := range []struct{ path, id string }{
		{"agents.default", a.Default},
		{"agents.handoff", a.Handoff},
	} {
		if !ids[name.id] {
			issues = append(issues, ValidationIssue{Path: name.path, Message: fmt.Sprintf("agent %q is not defined", name.id)})
		}
	}
	if a.FallbackThreshold < 0 || a.FallbackThreshold > 1 {
		issues = append(issues, ValidationIssue{Path: "agents.fallbackThreshold", Message: "must be between 0 and 1"})
	}

	workflows := make(map[string]bool, len(cfg.Workflows))
	for _, w := range cfg.Workflows {
		workflows[w.Name] = true
	}
	for i, e := range a.List {
		path := fmt.Sprintf("agents.list[%d]", i)
		if e.Workflow != "" && !workflows[e.Workflow] {
			issues = append(issues, ValidationIssue{Path: path + ".workflow", Message: fmt.Sprintf("workflow %q is not defined", e.Workflow)})
		}
		for j, t := range e.Transfers {
			tp := fmt.Sprintf("%s.transfers[%d]", path, j)
			// Unknown targets are tolerated at runtime; flag them here.
			if t.Target == "" {
				issues = append(issues, ValidationIssue{Path: tp + ".target", Message: "target is required"})
			} else if !ids[t.Target] {
				issues = append(issues, ValidationIssue{Path: tp + ".target", Message: fmt.Sprintf("agent %q is not defined", t.Target)})
			}
			if t.MinConfidence != nil && t.MaxConfidence != nil && *t.MinConfidence > *t.MaxConfidence {
				issues = append(issues, ValidationIssue{Path: tp, Message: "minConfidence is greater than maxConfidence"})
			}
		}
	}
	return issues
}

func validateWorkflows(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue
	validators := []string{"", "nonempty", "date", "time", "regex", "enum"}
	seen := make(map[string]bool, len(cfg.Workflows))
	for i, w := range cfg.Workflows {
		path := fmt.Sprintf("workflows[%d]", i)
		if w.Name == "" {
			issues = append(issues, ValidationIssue{Path: path + ".name", Message: "name is required"})
		} else if seen[w.Name] {
			issues = append(issues, ValidationIssue{Path: path + ".name", Message: fmt.Sprintf("duplicate workflow %q", w.Name)})
		}
		seen[w.Name] = true
		if len(w.Steps) == 0 {
			issues = append(issues, ValidationIssue{Path: path + ".steps", Message: "at least one step is required"})
		}
		if w.Action.Tool == "" {
			issues = append(issues, ValidationIssue{Path: path + ".action.tool", Message: "tool is required"})
		}
		slots := make(map[string]bool, len(w.Steps))
		for j, s := range w.Steps {
			sp := fmt.Sprintf("%s.steps[%d]", path, j)
			if s.Slot == "" {
				issues = append(issues, ValidationIssue{Path: sp + ".slot", Message: "slot is required"})
			}
			slots[s.Slot] = true
			if !slices.Contains(validators, s.Validator) {
				issues = append(issues, ValidationIssue{Path: sp + ".validator", Message: fmt.Sprintf("must be one of %v, got %q", validators[1:], s.Validator)})
			}
			if s.Validator == "regex" {
				if _, err := regexp.Compile(s.Pattern); err != nil || s.Pattern == "" {
					issues = append(issues, ValidationIssue{Path: sp + ".pattern", Message: "a valid pattern is required for the regex validator"})
				}
			}
			if s.Validator == "enum" && len(s.Values) == 0 {
				issues = append(issues, ValidationIssue{Path: sp + ".values", Message: "values are required for the enum validator"})
			}
		}
		for arg, slot := range w.Action.Args {
			if !slots[slot] {
				issues = append(issues, ValidationIssue{Path: path + ".action.args." + arg, Message: fmt.Sprintf("slot %q is not collected by any step", slot)})
			}
		}
	}
	return issues
}
