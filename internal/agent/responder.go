package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/soyeahso/switchboard/internal/domain"
	"github.com/soyeahso/switchboard/internal/events"
	"github.com/soyeahso/switchboard/internal/llm"
	"github.com/soyeahso/switchboard/internal/logging"
	"github.com/soyeahso/switchboard/internal/tools"
)

// maxToolIterations limits how many tool call rounds the agent can perform.
const maxToolIterations = 5

// Reply is the outcome of a free-form agent turn.
type Reply struct {
	Content   string
	ToolCalls []domain.ToolInvocation
	Model     string
	Usage     llm.Usage
	Duration  time.Duration

	// ToolFailed is set when any tool call of the turn failed. It raises
	// the fallback signal on the next turn.
	ToolFailed bool
	// Escalate is set when the agent's escalate_to_human call succeeded.
	Escalate       bool
	EscalateReason string
}

// Responder produces an agent's reply through the completion provider,
// running the tool calls the model asks for through the tool executor.
type Responder struct {
	registry *llm.Registry
	exec     *tools.Executor
	log      *logging.Logger
}

// NewResponder creates a responder.
func NewResponder(registry *llm.Registry, exec *tools.Executor, log *logging.Logger) *Responder {
	return &Responder{registry: registry, exec: exec, log: log.Sub("responder")}
}

// Reply answers the latest user turn of conv as def. Tool failures are
// reported back to the model and flagged on the reply; only event store
// and completion errors are returned.
func (r *Responder) Reply(ctx context.Context, conv *domain.Conversation, def Definition, sink events.Sink) (*Reply, error) {
	start := time.Now()
	if def.Reply != "" {
		return &Reply{Content: def.Reply, Duration: time.Since(start)}, nil
	}

	system := BuildSystemPrompt(PromptConfig{
		Agent:   def,
		Channel: conv.Channel,
		Slots:   conv.Slots,
		Now:     time.Now(),
	})
	client := r.registry.Chain(def.Model, def.Fallbacks...)
	req := llm.CompletionRequest{
		System:      system,
		Messages:    historyMessages(conv.History),
		Tools:       toolDefinitions(r.exec.Registry().Definitions(def.Tools)),
		MaxTokens:   def.MaxTokens,
		Temperature: def.Temperature,
	}

	reply := &Reply{}
	var final *llm.CompletionResponse
	for i := 0; i < maxToolIterations; i++ {
		resp, err := client.Complete(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("completion: %w", err)
		}
		final = resp
		reply.Usage.InputTokens += resp.Usage.InputTokens
		reply.Usage.OutputTokens += resp.Usage.OutputTokens
		if len(resp.ToolCalls) == 0 {
			break
		}

		r.log.Debug().
			Str("conversation", conv.ID).
			Str("agent", def.ID).
			Int("toolCalls", len(resp.ToolCalls)).
			Msg("executing tool calls")

		req.Messages = append(req.Messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			msg, err := r.invoke(ctx, call, def, sink, reply)
			if err != nil {
				return nil, err
			}
			req.Messages = append(req.Messages, msg)
		}
	}

	reply.Content = cleanReply(final.Content, r.log)
	reply.Model = final.Model
	reply.Duration = time.Since(start)

	r.log.Info().
		Str("conversation", conv.ID).
		Str("agent", def.ID).
		Str("model", final.Model).
		Int("inputTokens", reply.Usage.InputTokens).
		Int("outputTokens", reply.Usage.OutputTokens).
		Dur("duration", reply.Duration).
		Msg("response generated")
	return reply, nil
}

// invoke runs one model tool call and returns the tool message for the
// model. The error is non-nil only when the event store failed.
func (r *Responder) invoke(ctx context.Context, call llm.ToolCall, def Definition, sink events.Sink, reply *Reply) (llm.Message, error) {
	args := json.RawMessage(call.Input)
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	res, err := r.exec.Invoke(ctx, call.Name, args, def.Caller(), sink)

	var terr *tools.Error
	if err != nil && !errors.As(err, &terr) {
		return llm.Message{}, err
	}
	reply.ToolCalls = append(reply.ToolCalls, res.Invocation(args, err))

	msg := llm.Message{Role: llm.RoleTool, ToolCallID: call.ID}
	if terr != nil {
		reply.ToolFailed = true
		msg.Content = fmt.Sprintf(`{"error":%q,"code":%q}`, terr.Message, terr.Code)
		return msg, nil
	}
	msg.Content = string(res.Output)

	if call.Name == tools.EscalateTool {
		var in struct {
			Reason string `json:"reason"`
		}
		_ = json.Unmarshal(args, &in)
		reply.Escalate = true
		reply.EscalateReason = in.Reason
	}
	return msg, nil
}

func historyMessages(history []domain.Turn) []llm.Message {
	msgs := make([]llm.Message, 0, len(history))
	for _, t := range history {
		role := llm.RoleUser
		if t.Role == domain.RoleAgent {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, llm.Message{Role: role, Content: t.Content})
	}
	return msgs
}

func toolDefinitions(defs []tools.Definition) []llm.ToolDefinition {
	out := make([]llm.ToolDefinition, 0, len(defs))
	for _, d := range defs {
		out = append(out, llm.ToolDefinition{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.Parameters,
		})
	}
	return out
}

// xmlFuncCallRe matches <function_calls>...</function_calls> blocks some
// models emit as text instead of native tool calls.
var xmlFuncCallRe = regexp.MustCompile(`(?s)<function_calls>.*?</function_calls>`)

// xmlBlockLevelRe matches other self-contained tool-use XML blocks.
var xmlBlockLevelRe = regexp.MustCompile(`(?s)(?:` +
	`<invoke\b[^>]*>.*?</invoke>` +
	`|<tool_call\b[^>]*>.*?</tool_call>` +
	`|<tool_use\b[^>]*>.*?</tool_use>` +
	`)`)

// codeFenceRe matches fenced code block markers on their own line. Content
// between fences is kept; channels like IRC and voice don't render markdown.
var codeFenceRe = regexp.MustCompile(`(?m)^\s*` + "```" + `\w*\s*$`)

var whitespaceLineRe = regexp.MustCompile(`(?m)^[ \t]+$`)

var blankLineCollapseRe = regexp.MustCompile(`\n{3,}`)

// cleanReply strips tool-use markup from model text so only the answer
// reaches the channel.
func cleanReply(text string, log *logging.Logger) string {
	if log != nil {
		for _, m := range xmlFuncCallRe.FindAllString(text, -1) {
			log.Debug().Str("xml", m).Msg("stripped XML function_calls from reply")
		}
	}
	cleaned := xmlFuncCallRe.ReplaceAllString(text, "\n\n")
	cleaned = xmlBlockLevelRe.ReplaceAllString(cleaned, "\n\n")
	cleaned = codeFenceRe.ReplaceAllString(cleaned, "")
	cleaned = whitespaceLineRe.ReplaceAllString(cleaned, "")
	cleaned = blankLineCollapseRe.ReplaceAllString(cleaned, "\n\n")
	return strings.TrimSpace(cleaned)
}
