package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/soyeahso/switchboard/internal/domain"
	"github.com/soyeahso/switchboard/internal/events"
	"github.com/soyeahso/switchboard/internal/logging"
)

// Defaults for Options.
const (
	DefaultTimeout     = 10 * time.Second
	DefaultMaxAttempts = 3
	DefaultBackoff     = 200 * time.Millisecond
)

// AuthRequest is the input to an authorization decision.
type AuthRequest struct {
	Caller Caller
	Tool   string
	Scope  string
	Args   any // nil when the arguments are not valid JSON
}

// Decision is the outcome of an authorization check.
type Decision struct {
	Allow  bool
	Reason string
}

// Authorizer decides whether a caller may run a tool.
type Authorizer interface {
	Authorize(ctx context.Context, req AuthRequest) (Decision, error)
}

type Options struct {
	Timeout     time.Duration // per attempt
	MaxAttempts int           // including the first
	Backoff     time.Duration // doubled after each failed attempt
	Authorizer  Authorizer
}

// Result describes one invocation. It is returned whenever the tool_call
// event was recorded, including on failure.
type Result struct {
	CallID   string
	Tool     string
	Output   json.RawMessage
	Redacted json.RawMessage
	Attempts int
	Duration time.Duration
}

// Invocation converts the outcome into the record attached to an agent turn.
func (r *Result) Invocation(args json.RawMessage, err error) domain.ToolInvocation {
	inv := domain.ToolInvocation{ID: r.CallID, Name: r.Tool, Input: string(args), Output: string(r.Redacted)}
	if err != nil {
		inv.Error = err.Error()
	}
	return inv
}

// Executor runs registered tools on behalf of agents.
type Executor struct {
	reg   *Registry
	opts  Options
	log   *logging.Logger
	sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates an executor over reg.
func NewExecutor(reg *Registry, opts Options, log *logging.Logger) *Executor {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	return &Executor{reg: reg, opts: opts, log: log.Sub("tools"), sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Registry returns the tools the executor can run.
func (e *Executor) Registry() *Registry { return e.reg }

// Invoke runs the named tool for caller, recording a tool_call event before
// anything else and a tool_result event when done. Tool failures are
// returned as *Error; event store failures are returned unwrapped.
func (e *Executor) Invoke(ctx context.Context, name string, args json.RawMessage, caller Caller, sink events.Sink) (*Result, error) {
	ctx, span := otel.Tracer("switchboard/tools").Start(ctx, "tool.invoke")
	defer span.End()
	span.SetAttributes(attribute.String("tool.name", name), attribute.String("agent.id", caller.AgentID))

	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	res := &Result{CallID: uuid.NewString(), Tool: name}
	if _, err := sink.Record(ctx, domain.EventToolCall, events.ToolCall{
		CallID: res.CallID,
		Tool:   name,
		Agent:  caller.AgentID,
		Args:   args,
	}); err != nil {
		return nil, err
	}

	start := time.Now()
	out, redact, terr := e.run(ctx, name, args, caller, res)
	res.Duration = time.Since(start)

	payload := events.ToolResult{
		CallID:     res.CallID,
		Tool:       name,
		OK:         terr == nil,
		Attempts:   res.Attempts,
		DurationMs: res.Duration.Milliseconds(),
	}
	if terr == nil {
		res.Output = out
		res.Redacted = Redact(out, redact)
		payload.Result = res.Redacted
	} else {
		payload.Code = string(terr.Code)
		payload.Error = terr.Message
		payload.Field = terr.Field
		span.RecordError(terr)
		span.SetStatus(codes.Error, string(terr.Code))
	}

	// The turn may already be cancelled; the result still belongs in the log.
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if _, err := sink.Record(recCtx, domain.EventToolResult, payload); err != nil {
		return nil, err
	}

	log := e.log.With("tool", name).With("agent", caller.AgentID).With("call", res.CallID)
	if terr != nil {
		log.Warn().Str("code", string(terr.Code)).Int("attempts", res.Attempts).Msg(terr.Error())
		return res, terr
	}
	log.Debug().Int("attempts", res.Attempts).Dur("duration", res.Duration).Msg("tool succeeded")
	return res, nil
}

func (e *Executor) run(ctx context.Context, name string, args json.RawMessage, caller Caller, res *Result) (json.RawMessage, []string, *Error) {
	t, ok := e.reg.lookup(name)
	if !ok {
		return nil, nil, &Error{Code: CodeUnknownTool, Tool: name, Message: "no such tool"}
	}

	// Authorization comes first even for malformed arguments; the policy
	// then sees nil args.
	decoded, derr := decodeArgs(args)
	if terr := e.authorize(ctx, t.def, caller, decoded); terr != nil {
		return nil, nil, terr
	}
	if derr != nil {
		return nil, nil, &Error{Code: CodeInvalidArguments, Tool: name, Message: "arguments are not valid JSON", Err: derr}
	}

	if err := t.schema.Validate(decoded); err != nil {
		field, msg := violation(err)
		return nil, nil, &Error{Code: CodeInvalidArguments, Tool: name, Field: field, Message: msg, Err: err}
	}

	backoff := e.opts.Backoff
	for attempt := 1; ; attempt++ {
		res.Attempts = attempt
		out, err := e.runOnce(ctx, t.def, args)
		if err == nil {
			raw, merr := marshalOutput(out)
			if merr != nil {
				return nil, nil, &Error{Code: CodePermanent, Tool: name, Message: "encoding result", Err: merr}
			}
			return raw, t.def.Redact, nil
		}
		if ctx.Err() != nil {
			return nil, nil, &Error{Code: CodeTimeout, Tool: name, Message: "turn cancelled", Err: ctx.Err()}
		}
		if !IsTransient(err) {
			return nil, nil, &Error{Code: CodePermanent, Tool: name, Message: err.Error(), Err: err}
		}
		if attempt >= e.opts.MaxAttempts {
			code := CodeTransient
			if errors.Is(err, context.DeadlineExceeded) {
				code = CodeTimeout
			}
			return nil, nil, &Error{Code: code, Tool: name, Message: err.Error(), Err: err}
		}
		e.log.Debug().Str("tool", name).Int("attempt", attempt).Dur("backoff", backoff).Err(err).Msg("retrying tool")
		if err := e.sleep(ctx, backoff); err != nil {
			return nil, nil, &Error{Code: CodeTimeout, Tool: name, Message: "turn cancelled", Err: err}
		}
		backoff *= 2
	}
}

func (e *Executor) authorize(ctx context.Context, def Definition, caller Caller, args any) *Error {
	if !slices.Contains(caller.Tools, def.Name) {
		return &Error{Code: CodeUnauthorized, Tool: def.Name, Message: fmt.Sprintf("agent %q does not declare this tool", caller.AgentID)}
	}
	if e.opts.Authorizer == nil {
		if def.Scope != "" && !slices.Contains(caller.Scopes, def.Scope) {
			return &Error{Code: CodeUnauthorized, Tool: def.Name, Message: fmt.Sprintf("missing scope %q", def.Scope)}
		}
		return nil
	}
	d, err := e.opts.Authorizer.Authorize(ctx, AuthRequest{Caller: caller, Tool: def.Name, Scope: def.Scope, Args: args})
	if err != nil {
		return &Error{Code: CodeUnauthorized, Tool: def.Name, Message: "authorization failed", Err: err}
	}
	if !d.Allow {
		return &Error{Code: CodeUnauthorized, Tool: def.Name, Message: d.Reason}
	}
	return nil
}

type handlerResult struct {
	out any
	err error
}

// runOnce runs the handler with the per-attempt timeout. A handler that
// ignores its context is abandoned when the timeout fires.
func (e *Executor) runOnce(ctx context.Context, def Definition, args json.RawMessage) (any, error) {
	actx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	done := make(chan handlerResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- handlerResult{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		out, err := def.Handler(actx, args)
		done <- handlerResult{out: out, err: err}
	}()

	select {
	case r := <-done:
		return r.out, r.err
	case <-actx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("timed out after %s: %w", e.opts.Timeout, context.DeadlineExceeded)
	}
}

func marshalOutput(out any) (json.RawMessage, error) {
	switch v := out.(type) {
	case nil:
		return json.RawMessage(`null`), nil
	case json.RawMessage:
		return v, nil
	}
	return json.Marshal(out)
}
