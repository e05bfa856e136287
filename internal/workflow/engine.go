package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/soyeahso/switchboard/internal/conversation"
	"github.com/soyeahso/switchboard/internal/domain"
	"github.com/soyeahso/switchboard/internal/events"
	"github.com/soyeahso/switchboard/internal/logging"
	"github.com/soyeahso/switchboard/internal/tools"
)

// MaxRetriesExceeded is the abort reason when a step gets too many invalid
// answers.
const MaxRetriesExceeded = "MaxRetriesExceeded"

// Request is one turn's input to a workflow.
type Request struct {
	Workflow string
	Intent   string            // classified intent of the turn
	Content  string            // user text
	Slots    map[string]string // slot values supplied by channel metadata
	Caller   tools.Caller
}

// Outcome is the result of one workflow step.
type Outcome struct {
	// Handled is false when the workflow is finished or suspended and the
	// agent should answer free-form instead.
	Handled    bool
	Reply      string
	State      domain.WorkflowState
	Finished   bool // reached done or aborted during this turn
	Reason     string
	ToolCalls  []domain.ToolInvocation
	ToolFailed bool
}

// Engine advances workflow progress stored on conversations.
type Engine struct {
	defs *Registry
	exec *tools.Executor
	log  *logging.Logger
	now  func() time.Time
}

// NewEngine creates an engine running actions through exec.
func NewEngine(defs *Registry, exec *tools.Executor, log *logging.Logger) *Engine {
	return &Engine{defs: defs, exec: exec, log: log.Sub("workflow"), now: time.Now}
}

// Registry returns the engine's workflow definitions.
func (e *Engine) Registry() *Registry { return e.defs }

// Step advances the named workflow on conv by one user turn. conv is
// mutated in place; the caller decides whether to commit it. Only event
// store failures are returned as errors besides ErrUnknownWorkflow.
func (e *Engine) Step(ctx context.Context, conv *domain.Conversation, req Request, sink events.Sink) (*Outcome, error) {
	def, ok := e.defs.Get(req.Workflow)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownWorkflow, req.Workflow)
	}
	log := e.log.With("conversation", conv.ID).With("workflow", def.Name)

	if conv.Escalated {
		log.Debug().Msg("conversation escalated, workflow suspended")
		return e.outcome(conv, false), nil
	}

	wf := conv.Workflow
	awaiting := false
	switch {
	case wf == nil || wf.Name != def.Name:
		e.start(conv, def)
		log.Info().Msg("workflow started")
	case wf.State.Terminal():
		if req.Intent == "" || req.Intent != def.Intent {
			return e.outcome(conv, false), nil
		}
		e.start(conv, def)
		log.Info().Msg("workflow restarted")
	default:
		awaiting = wf.State == domain.WorkflowCollecting
	}
	wf = conv.Workflow

	if len(req.Slots) > 0 {
		if err := conversation.MergeSlots(conv, req.Slots, def.Slots()); err != nil {
			log.Warn().Err(err).Msg("rejected channel slots")
			out := e.outcome(conv, true)
			out.Reply = "Sorry, I can't use some of those details here. " + def.Steps[wf.StepIndex].Prompt
			return out, nil
		}
	}

	if awaiting && wf.StepIndex < len(def.Steps) {
		step := def.Steps[wf.StepIndex]
		if _, given := req.Slots[step.Slot]; !given {
			if text := strings.TrimSpace(req.Content); text != "" {
				conv.Slots[step.Slot] = text
			}
		}
	}

	for wf.StepIndex < len(def.Steps) {
		step := def.Steps[wf.StepIndex]
		raw, ok := conv.Slots[step.Slot]
		if !ok || raw == "" {
			e.transition(log, wf, domain.WorkflowCollecting)
			out := e.outcome(conv, true)
			out.Reply = step.Prompt
			return out, nil
		}

		e.transition(log, wf, domain.WorkflowValidating)
		value, err := step.Validator.Validate(raw, e.now())
		if err != nil {
			conversation.ClearSlots(conv, step.Slot)
			wf.Retries++
			log.Debug().Str("slot", step.Slot).Int("retries", wf.Retries).Err(err).Msg("invalid slot value")
			if wf.Retries > def.MaxRetries {
				out := e.abort(log, conv, def, MaxRetriesExceeded)
				out.Reply = fmt.Sprintf("Sorry, I wasn't able to get a valid %s. Is there anything else I can help you with?", step.Slot)
				return out, nil
			}
			e.transition(log, wf, domain.WorkflowCollecting)
			out := e.outcome(conv, true)
			out.Reply = retryPrompt(step)
			return out, nil
		}
		conv.Slots[step.Slot] = value
		wf.StepIndex++
		wf.Retries = 0
	}

	return e.execute(ctx, log, conv, def, req.Caller, sink)
}

func (e *Engine) execute(ctx context.Context, log *logging.Logger, conv *domain.Conversation, def *Definition, caller tools.Caller, sink events.Sink) (*Outcome, error) {
	wf := conv.Workflow
	e.transition(log, wf, domain.WorkflowExecuting)

	argv := make(map[string]string, len(def.Action.Args))
	for arg, slot := range def.Action.Args {
		argv[arg] = conv.Slots[slot]
	}
	args, err := json.Marshal(argv)
	if err != nil {
		return nil, fmt.Errorf("encoding action arguments: %w", err)
	}

	res, err := e.exec.Invoke(ctx, def.Action.Tool, args, caller, sink)
	var terr *tools.Error
	if err != nil && !errors.As(err, &terr) {
		return nil, err
	}
	inv := res.Invocation(args, err)

	if terr != nil {
		out := e.abort(log, conv, def, fmt.Sprintf("%s: %s", terr.Code, terr.Message))
		out.Reply = "I'm sorry, I wasn't able to complete that request. Is there anything else I can help you with?"
		out.ToolCalls = []domain.ToolInvocation{inv}
		out.ToolFailed = true
		return out, nil
	}

	e.transition(log, wf, domain.WorkflowConfirming)
	reply := renderConfirm(def.Confirm, conv.Slots, res.Redacted)
	conversation.ClearSlots(conv, def.Slots()...)
	e.transition(log, wf, domain.WorkflowDone)
	log.Info().Str("tool", def.Action.Tool).Msg("workflow done")

	out := e.outcome(conv, true)
	out.Reply = reply
	out.Finished = true
	out.ToolCalls = []domain.ToolInvocation{inv}
	return out, nil
}

func (e *Engine) start(conv *domain.Conversation, def *Definition) {
	conversation.ClearSlots(conv, def.Slots()...)
	conv.Workflow = &domain.WorkflowProgress{Name: def.Name, State: domain.WorkflowCollecting}
}

func (e *Engine) abort(log *logging.Logger, conv *domain.Conversation, def *Definition, reason string) *Outcome {
	wf := conv.Workflow
	e.transition(log, wf, domain.WorkflowAborted)
	wf.AbortReason = reason
	conversation.ClearSlots(conv, def.Slots()...)
	log.Warn().Str("reason", reason).Msg("workflow aborted")

	out := e.outcome(conv, true)
	out.Finished = true
	out.Reason = reason
	return out
}

func (e *Engine) transition(log *logging.Logger, wf *domain.WorkflowProgress, to domain.WorkflowState) {
	if wf.State == to {
		return
	}
	log.Debug().Str("from", string(wf.State)).Str("to", string(to)).Int("step", wf.StepIndex).Msg("workflow transition")
	wf.State = to
}

func (e *Engine) outcome(conv *domain.Conversation, handled bool) *Outcome {
	out := &Outcome{Handled: handled}
	if conv.Workflow != nil {
		out.State = conv.Workflow.State
	}
	return out
}

func retryPrompt(s Step) string {
	if s.RetryPrompt != "" {
		return s.RetryPrompt
	}
	return fmt.Sprintf("Sorry, that doesn't look like a valid %s. %s", s.Slot, s.Prompt)
}

var placeholderRe = regexp.MustCompile(`\{([A-Za-z0-9_]+(?:\.[A-Za-z0-9_]+)?)\}`)

// renderConfirm fills {slot} and {result.field} placeholders. Unknown
// placeholders render empty.
func renderConfirm(tmpl string, slots map[string]string, result json.RawMessage) string {
	if tmpl == "" {
		return "All done."
	}
	var fields map[string]any
	_ = json.Unmarshal(result, &fields)

	return placeholderRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		key := m[1 : len(m)-1]
		if name, ok := strings.CutPrefix(key, "result."); ok {
			if v, ok := fields[name]; ok && v != nil {
				return fmt.Sprint(v)
			}
			return ""
		}
		return slots[key]
	})
}
