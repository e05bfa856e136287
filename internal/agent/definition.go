// Package agent holds the agent personas: their read-only definitions, the
// router that picks the active agent for each turn, the default intent
// classifier, and the responder that produces free-form replies.
package agent

import (
	"errors"
	"fmt"
	"sort"

	"github.com/soyeahso/switchboard/internal/config"
	"github.com/soyeahso/switchboard/internal/tools"
)

// ErrUnknownAgent is reported when a transfer names an agent that is not
// registered. The router falls back to the default agent.
var ErrUnknownAgent = errors.New("unknown agent")

// Predicate is one transfer rule. Every condition that is set must hold;
// a predicate with no conditions always matches.
type Predicate struct {
	Intent        string
	MinConfidence *float64
	MaxConfidence *float64
	Fallback      bool
	Target        string
}

// Matches reports whether s satisfies the predicate.
func (p Predicate) Matches(s Signal) bool {
	if p.Intent != "" && p.Intent != s.Intent {
		return false
	}
	if p.MinConfidence != nil && s.Confidence < *p.MinConfidence {
		return false
	}
	if p.MaxConfidence != nil && s.Confidence > *p.MaxConfidence {
		return false
	}
	if p.Fallback && !s.Fallback {
		return false
	}
	return true
}

// Definition is an agent persona. Definitions are loaded once and never
// mutated.
type Definition struct {
	ID          string
	Role        string
	Prompt      string
	Reply       string // fixed reply; the responder skips the completion call
	Model       string
	Fallbacks   []string
	MaxTokens   int
	Temperature *float64
	Tools       []string
	Scopes      []string
	Workflow    string
	Transfers   []Predicate
}

// Caller returns the identity the tool executor authorizes against.
func (d Definition) Caller() tools.Caller {
	return tools.Caller{AgentID: d.ID, Tools: d.Tools, Scopes: d.Scopes}
}

// Registry holds the agent definitions along with the default agent, used
// for new conversations and unknown transfer targets, and the handoff agent.
type Registry struct {
	defs      map[string]Definition
	defaultID string
	handoffID string
}

// NewRegistry validates and indexes defs.
func NewRegistry(defs []Definition, defaultID, handoffID string) (*Registry, error) {
	r := &Registry{
		defs:      make(map[string]Definition, len(defs)),
		defaultID: defaultID,
		handoffID: handoffID,
	}
	for _, d := range defs {
		if d.ID == "" {
			return nil, fmt.Errorf("agent definition without id")
		}
		if _, dup := r.defs[d.ID]; dup {
			return nil, fmt.Errorf("duplicate agent %q", d.ID)
		}
		r.defs[d.ID] = d
	}
	if _, ok := r.defs[defaultID]; !ok {
		return nil, fmt.Errorf("default agent %q: %w", defaultID, ErrUnknownAgent)
	}
	if _, ok := r.defs[handoffID]; !ok {
		return nil, fmt.Errorf("handoff agent %q: %w", handoffID, ErrUnknownAgent)
	}
	return r, nil
}

// NewRegistryFromConfig builds the registry from the agents config section.
func NewRegistryFromConfig(cfg config.AgentsConfig) (*Registry, error) {
	defs := make([]Definition, 0, len(cfg.List))
	for _, e := range cfg.List {
		d := Definition{
			ID:          e.ID,
			Role:        e.Role,
			Prompt:      e.Prompt,
			Reply:       e.Reply,
			Model:       e.Model,
			Fallbacks:   e.Fallbacks,
			MaxTokens:   e.MaxTokens,
			Temperature: e.Temperature,
			Tools:       e.Tools,
			Scopes:      e.Scopes,
			Workflow:    e.Workflow,
		}
		for _, t := range e.Transfers {
			d.Transfers = append(d.Transfers, Predicate{
				Intent:        t.Intent,
				MinConfidence: t.MinConfidence,
				MaxConfidence: t.MaxConfidence,
				Fallback:      t.Fallback,
				Target:        t.Target,
			})
		}
		defs = append(defs, d)
	}
	return NewRegistry(defs, cfg.Default, cfg.Handoff)
}

// Get returns the definition of id.
func (r *Registry) Get(id string) (Definition, bool) {
	d, ok := r.defs[id]
	return d, ok
}

// Default returns the default agent.
func (r *Registry) Default() Definition { return r.defs[r.defaultID] }

// Handoff returns the human handoff agent.
func (r *Registry) Handoff() Definition { return r.defs[r.handoffID] }

// IDs returns the registered agent IDs in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.defs))
	for id := range r.defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
