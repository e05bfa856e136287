package llm

import (
	"context"
	"strings"
)

// ScriptedClient answers from fixed keyword rules. It stands in for a real
// provider when none is configured, so the service stays usable offline.
type ScriptedClient struct {
	Rules   []ScriptRule
	Default string
}

// ScriptRule replies with Reply when the last user message contains any of
// the keywords, compared case-insensitively.
type ScriptRule struct {
	Keywords []string
	Reply    string
}

// NewScriptedClient returns a client with a generic default reply.
func NewScriptedClient(rules ...ScriptRule) *ScriptedClient {
	return &ScriptedClient{
		Rules:   rules,
		Default: "Thanks for your message. How else can I help?",
	}
}

func (s *ScriptedClient) Name() string { return "scripted" }

// Complete implements Client.
func (s *ScriptedClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	last := ""
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == RoleUser {
			last = strings.ToLower(req.Messages[i].Content)
			break
		}
	}
	for _, r := range s.Rules {
		for _, kw := range r.Keywords {
			if kw != "" && strings.Contains(last, strings.ToLower(kw)) {
				return &CompletionResponse{Content: r.Reply, StopReason: "stop", Model: "scripted"}, nil
			}
		}
	}
	return &CompletionResponse{Content: s.Default, StopReason: "stop", Model: "scripted"}, nil
}
