// Package tools declares the tools agents may call and executes them:
// authorization, argument validation, bounded execution with retries, and
// a tool_call/tool_result pair in the event log for every invocation.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	jsv "github.com/santhosh-tekuri/jsonschema/v5"
)

// Handler runs a tool with validated JSON arguments.
type Handler func(ctx context.Context, args json.RawMessage) (any, error)

// Definition describes a tool. Definitions are stateless and shared.
type Definition struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON Schema
	Scope       string         // permission scope required to call it
	Redact      []string       // result fields hidden from the event log
	Handler     Handler
}

// Typed adapts a handler taking a decoded argument struct.
func Typed[T any](fn func(ctx context.Context, args T) (any, error)) Handler {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var args T
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, fmt.Errorf("decoding arguments: %w", err)
			}
		}
		return fn(ctx, args)
	}
}

// Caller identifies the agent invoking a tool and what it may use.
type Caller struct {
	AgentID string
	Tools   []string
	Scopes  []string
}

type registered struct {
	def    Definition
	schema *jsv.Schema
}

// Registry holds tool definitions with their compiled schemas.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*registered
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*registered)}
}

// Register adds def, compiling its parameter schema.
func (r *Registry) Register(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("tool definition without a name")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool %q has no handler", def.Name)
	}
	schema, err := compileSchema(def.Name, def.Parameters)
	if err != nil {
		return fmt.Errorf("compiling schema of tool %q: %w", def.Name, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.tools[def.Name]; dup {
		return fmt.Errorf("tool %q already registered", def.Name)
	}
	r.tools[def.Name] = &registered{def: def, schema: schema}
	return nil
}

// MustRegister is Register for static tool sets.
func (r *Registry) MustRegister(defs ...Definition) {
	for _, d := range defs {
		if err := r.Register(d); err != nil {
			panic(err)
		}
	}
}

// Get returns the definition named name.
func (r *Registry) Get(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return Definition{}, false
	}
	return t.def, true
}

func (r *Registry) lookup(name string) (*registered, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tools))
	for n := range r.tools {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Definitions returns the definitions of the named tools that exist, in
// the order given.
func (r *Registry) Definitions(names []string) []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(names))
	for _, n := range names {
		if t, ok := r.tools[n]; ok {
			out = append(out, t.def)
		}
	}
	return out
}
