// Package policy authorizes tool calls with an OPA Rego policy.
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"

	"github.com/soyeahso/switchboard/internal/tools"
)

// DefaultPolicy allows a tool when it needs no scope or the calling agent
// holds the required scope.
const DefaultPolicy = `
package switchboard.tools

import rego.v1

default allow := false

allow if input.tool.scope == ""

allow if input.tool.scope in input.agent.scopes

reason := "allowed" if {
	allow
} else := sprintf("agent %s lacks scope %s", [input.agent.id, input.tool.scope])

decision := {"allow": allow, "reason": reason}
`

// Engine evaluates a prepared Rego query.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine prepares policy, or DefaultPolicy when empty. The policy must
// define data.switchboard.tools.decision as {"allow": bool, "reason": string}.
func NewEngine(ctx context.Context, policy string) (*Engine, error) {
	if policy == "" {
		policy = DefaultPolicy
	}
	r := rego.New(
		rego.Query("data.switchboard.tools.decision"),
		rego.Module("switchboard_tools.rego", policy),
	)
	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("preparing tool policy: %w", err)
	}
	return &Engine{query: query}, nil
}

// Authorize implements tools.Authorizer.
func (e *Engine) Authorize(ctx context.Context, req tools.AuthRequest) (tools.Decision, error) {
	scopes := req.Caller.Scopes
	if scopes == nil {
		scopes = []string{}
	}
	declared := req.Caller.Tools
	if declared == nil {
		declared = []string{}
	}
	input := map[string]any{
		"agent": map[string]any{
			"id":     req.Caller.AgentID,
			"tools":  declared,
			"scopes": scopes,
		},
		"tool": map[string]any{
			"name":  req.Tool,
			"scope": req.Scope,
		},
		"args": req.Args,
	}

	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return tools.Decision{}, fmt.Errorf("evaluating tool policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return tools.Decision{Allow: false, Reason: "policy returned no decision"}, nil
	}

	obj, ok := results[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return tools.Decision{}, fmt.Errorf("tool policy returned %T, want object", results[0].Expressions[0].Value)
	}
	allow, _ := obj["allow"].(bool)
	reason, _ := obj["reason"].(string)
	return tools.Decision{Allow: allow, Reason: reason}, nil
}

var _ tools.Authorizer = (*Engine)(nil)
