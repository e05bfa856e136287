package agent

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/soyeahso/switchboard/internal/domain"
)

// PromptConfig controls system prompt generation.
type PromptConfig struct {
	Agent   Definition
	Channel domain.ChannelMetadata
	Slots   map[string]string
	Now     time.Time
}

// BuildSystemPrompt constructs the system prompt for the LLM.
func BuildSystemPrompt(cfg PromptConfig) string {
	var b strings.Builder

	if cfg.Agent.Role != "" {
		b.WriteString(cfg.Agent.Role)
		b.WriteString("\n\n")
	}

	// Date context
	if !cfg.Now.IsZero() {
		fmt.Fprintf(&b, "Current date: %s (%s)\n", cfg.Now.Format("2006-01-02"), cfg.Now.Weekday())
	}

	// Channel context
	if cfg.Channel.ChannelID != "" {
		fmt.Fprintf(&b, "Channel: %s\n", cfg.Channel.ChannelID)
	}
	if cfg.Channel.FromName != "" {
		fmt.Fprintf(&b, "Caller: %s\n", cfg.Channel.FromName)
	}

	if len(cfg.Slots) > 0 {
		names := make([]string, 0, len(cfg.Slots))
		for n := range cfg.Slots {
			names = append(names, n)
		}
		sort.Strings(names)
		b.WriteString("\nKnown details:\n")
		for _, n := range names {
			fmt.Fprintf(&b, "- %s: %s\n", n, cfg.Slots[n])
		}
	}

	b.WriteString("\nGuidelines:\n")
	b.WriteString("- Keep replies short; they may be read aloud.\n")
	if len(cfg.Agent.Tools) > 0 {
		b.WriteString("- Use the provided tools instead of guessing.\n")
	}

	if cfg.Agent.Prompt != "" {
		b.WriteString("\n")
		b.WriteString(cfg.Agent.Prompt)
		b.WriteString("\n")
	}

	return b.String()
}
