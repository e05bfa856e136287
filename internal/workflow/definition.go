// Package workflow runs multi-step, slot-filling workflows that end in a
// tool-backed action: collect each slot, validate it, execute the action,
// confirm the result.
package workflow

import (
	"errors"
	"fmt"
	"sort"

	"github.com/soyeahso/switchboard/internal/config"
)

// DefaultMaxRetries is the number of invalid answers tolerated per step.
const DefaultMaxRetries = 3

// ErrUnknownWorkflow is returned for a workflow name with no definition.
var ErrUnknownWorkflow = errors.New("unknown workflow")

// Step collects one slot.
type Step struct {
	Slot        string
	Validator   Validator
	Prompt      string
	RetryPrompt string
}

// Action is the terminal tool call. Args maps tool argument names to slots.
type Action struct {
	Tool string
	Args map[string]string
}

// Definition is a shared, read-only workflow. Only progress is stored per
// conversation.
type Definition struct {
	Name       string
	Intent     string
	MaxRetries int
	Steps      []Step
	Action     Action
	Confirm    string
}

// Slots returns the slot names collected by the workflow, in step order.
func (d *Definition) Slots() []string {
	out := make([]string, 0, len(d.Steps))
	for _, s := range d.Steps {
		out = append(out, s.Slot)
	}
	return out
}

// FromConfig builds a definition from its config entry.
func FromConfig(e config.WorkflowEntry) (*Definition, error) {
	if e.Name == "" {
		return nil, errors.New("workflow name is required")
	}
	if len(e.Steps) == 0 {
		return nil, fmt.Errorf("workflow %q has no steps", e.Name)
	}
	d := &Definition{
		Name:       e.Name,
		Intent:     e.Intent,
		MaxRetries: e.MaxRetries,
		Action:     Action{Tool: e.Action.Tool, Args: e.Action.Args},
		Confirm:    e.Confirm,
	}
	if d.MaxRetries <= 0 {
		d.MaxRetries = DefaultMaxRetries
	}
	for i, s := range e.Steps {
		if s.Slot == "" {
			return nil, fmt.Errorf("workflow %q step %d: slot is required", e.Name, i)
		}
		v, err := NewValidator(s.Validator, s.Pattern, s.Values)
		if err != nil {
			return nil, fmt.Errorf("workflow %q step %q: %w", e.Name, s.Slot, err)
		}
		prompt := s.Prompt
		if prompt == "" {
			prompt = fmt.Sprintf("What %s would you like?", s.Slot)
		}
		d.Steps = append(d.Steps, Step{Slot: s.Slot, Validator: v, Prompt: prompt, RetryPrompt: s.RetryPrompt})
	}
	return d, nil
}

// Registry holds the workflow definitions by name.
type Registry struct {
	defs map[string]*Definition
}

// NewRegistry indexes defs, rejecting duplicate names.
func NewRegistry(defs ...*Definition) (*Registry, error) {
	r := &Registry{defs: make(map[string]*Definition, len(defs))}
	for _, d := range defs {
		if _, dup := r.defs[d.Name]; dup {
			return nil, fmt.Errorf("duplicate workflow %q", d.Name)
		}
		r.defs[d.Name] = d
	}
	return r, nil
}

// NewRegistryFromConfig builds the registry from the workflows config section.
func NewRegistryFromConfig(entries []config.WorkflowEntry) (*Registry, error) {
	defs := make([]*Definition, 0, len(entries))
	for _, e := range entries {
		d, err := FromConfig(e)
		if err != nil {
			return nil, err
		}
		defs = append(defs, d)
	}
	return NewRegistry(defs...)
}

func (r *Registry) Get(name string) (*Definition, bool) {
	d, ok := r.defs[name]
	return d, ok
}

// Names returns the workflow names, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.defs))
	for n := range r.defs {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
