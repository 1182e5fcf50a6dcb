// Copyright 2026 © The Webrana Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/webrana/webrana/pkg/audit"
	"github.com/webrana/webrana/pkg/errors"
	"github.com/webrana/webrana/pkg/llm"
	"github.com/webrana/webrana/pkg/resilience"
	"github.com/webrana/webrana/pkg/safety"
	"github.com/webrana/webrana/pkg/skills"
	"github.com/webrana/webrana/pkg/telemetry"
)

// State is a node of the orchestrator state machine.
type State int

const (
	StateAwaitingModel State = iota
	StateModelResponded
	StateExecutingTools
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateAwaitingModel:
		return "awaiting_model"
	case StateModelResponded:
		return "model_responded"
	case StateExecutingTools:
		return "executing_tools"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Status is how a run terminated.
type Status string

const (
	StatusCompleted     Status = "completed"
	StatusMaxIterations Status = "max_iterations"
	StatusProviderError Status = "provider_error"
	StatusCancelled     Status = "cancelled"
)

// Outcome summarizes a terminated run.
type Outcome struct {
	RunID      string
	Status     Status
	Output     string
	Iterations int
	Results    []safety.Result
	Usage      llm.Usage
	// Err is set for every status but completed.
	Err *errors.WebranaError
}

// run is the per-run state. Only the goroutine calling Run touches it.
type run struct {
	id        string
	conv      *Conversation
	state     State
	iteration int
	response  *llm.ChatResponse
	outcome   Outcome
	tools     []llm.Tool
	log       *slog.Logger
}

// Run executes instruction on a fresh conversation.
func (a *Agent) Run(ctx context.Context, instruction string) (*Outcome, error) {
	return a.Continue(ctx, a.NewConversation(), instruction)
}

// Continue appends input to conv as a user message and runs the state
// machine until it terminates. Tool failures never end a run; they are fed
// back to the model. A non-completed outcome is also returned as error.
func (a *Agent) Continue(ctx context.Context, conv *Conversation, input string) (*Outcome, error) {
	if strings.TrimSpace(input) == "" {
		return nil, NewInvalidInputError("instruction is empty")
	}
	if conv == nil {
		conv = a.NewConversation()
	}
	r := &run{
		id:    uuid.NewString(),
		conv:  conv,
		state: StateAwaitingModel,
		tools: a.gate.Registry().Tools(),
	}
	r.outcome.RunID = r.id
	r.log = a.logger.With(slog.String("run_id", r.id))

	ctx, span := a.tracer.Start(ctx, telemetry.SpanRun,
		trace.WithAttributes(telemetry.RunAttributes(r.id, a.maxIterations, a.gate.Interactive())...))
	defer span.End()

	start := time.Now()
	r.log.Info("agent.run.start",
		slog.String("model", a.model),
		slog.Int("max_iterations", a.maxIterations),
		slog.Bool("interactive", a.gate.Interactive()),
	)
	a.record(ctx, r, audit.Event{
		Actor:  "user",
		Action: audit.ActionSessionStart,
		Detail: map[string]any{
			"instruction":    input,
			"model":          a.model,
			"max_iterations": a.maxIterations,
		},
	})
	a.checkInput(ctx, r, input)
	conv.Append(llm.Message{Role: llm.RoleUser, Content: input})

	a.loop(ctx, r)

	out := &r.outcome
	span.SetAttributes(
		attribute.String(telemetry.AttrRunStatus, string(out.Status)),
		attribute.Int(telemetry.AttrRunIteration, out.Iterations),
	)
	if out.Err != nil {
		span.RecordError(out.Err)
		span.SetStatus(codes.Error, out.Err.Message)
		a.metrics.RecordError(ctx, out.Err, "agent")
	}
	a.metrics.RecordRun(ctx, out.Iterations, string(out.Status))
	a.record(ctx, r, audit.Event{
		Actor:  "system",
		Action: audit.ActionSessionEnd,
		Detail: map[string]any{
			"status":     string(out.Status),
			"iterations": out.Iterations,
			"tool_calls": len(out.Results),
		},
	})
	r.log.Info("agent.run.end",
		slog.String("status", string(out.Status)),
		slog.Int("iterations", out.Iterations),
		slog.Int("tool_calls", len(out.Results)),
		slog.Duration("elapsed", time.Since(start)),
	)
	if out.Err != nil {
		return out, out.Err
	}
	return out, nil
}

// loop drives the state machine. Each pass handles exactly one state.
func (a *Agent) loop(ctx context.Context, r *run) {
	for r.state != StateTerminated {
		switch r.state {
		case StateAwaitingModel:
			if err := ctx.Err(); err != nil {
				a.terminate(r, StatusCancelled, WrapCancelled(err, r.iteration))
				continue
			}
			if r.iteration >= a.maxIterations {
				a.terminate(r, StatusMaxIterations, NewMaxIterationsError(a.maxIterations))
				continue
			}
			resp, err := a.modelTurn(ctx, r)
			if err != nil {
				if ctx.Err() != nil {
					a.terminate(r, StatusCancelled, WrapCancelled(err, r.iteration))
				} else {
					a.terminate(r, StatusProviderError, errors.AsWebranaError(err))
				}
				continue
			}
			r.response = resp
			r.conv.Append(llm.Message{Role: llm.RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls})
			a.moveTo(r, StateModelResponded)

		case StateModelResponded:
			if len(r.response.ToolCalls) == 0 {
				r.outcome.Output = a.finalText(r.response.Content)
				a.terminate(r, StatusCompleted, nil)
				continue
			}
			r.iteration++
			a.moveTo(r, StateExecutingTools)

		case StateExecutingTools:
			if a.executeTools(ctx, r) {
				a.moveTo(r, StateAwaitingModel)
			}
		}
	}
}

func (a *Agent) moveTo(r *run, next State) {
	r.log.Debug("agent.state",
		slog.String("from", r.state.String()),
		slog.String("to", next.String()),
		slog.Int("iteration", r.iteration),
	)
	r.state = next
}

func (a *Agent) terminate(r *run, status Status, err *errors.WebranaError) {
	r.outcome.Status = status
	r.outcome.Iterations = r.iteration
	r.outcome.Err = err
	if err != nil {
		r.log.Warn("agent.run.stopped",
			slog.String("status", string(status)),
			slog.String("code", string(err.Code)),
			slog.String("error", err.Error()),
		)
	}
	r.state = StateTerminated
}

// finalText strips the completion marker from an autonomous run's answer.
func (a *Agent) finalText(text string) string {
	if a.marker == "" || !strings.Contains(text, a.marker) {
		return text
	}
	return strings.TrimSpace(strings.ReplaceAll(text, a.marker, ""))
}

// modelTurn sends the conversation and tools to the provider, retrying
// recoverable transport failures with backoff.
func (a *Agent) modelTurn(ctx context.Context, r *run) (*llm.ChatResponse, error) {
	ctx, span := a.tracer.Start(ctx, telemetry.SpanModelTurn)
	defer span.End()

	req := llm.ChatRequest{
		Model:       a.model,
		Messages:    r.conv.Messages(),
		Tools:       r.tools,
		Temperature: a.temperature,
		MaxTokens:   a.maxTokens,
	}
	attempt := 0
	retry := a.retry.WithOnRetry(func(n int, err error, delay time.Duration) {
		a.metrics.RecordProviderRetry(ctx, a.providerName)
		r.log.Warn("agent.llm.retry",
			slog.Int("attempt", n+1),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
	})

	resp, err := resilience.Retry(ctx, retry, func() (*llm.ChatResponse, error) {
		attempt++
		span.SetAttributes(telemetry.LLMAttributes(a.model, a.providerName, len(req.Messages), attempt)...)
		a.record(ctx, r, audit.Event{
			Actor:  "agent",
			Action: audit.ActionLLMRequest,
			Detail: map[string]any{
				"model":     a.model,
				"messages":  len(req.Messages),
				"tools":     len(req.Tools),
				"iteration": r.iteration,
				"attempt":   attempt,
			},
		})
		resp, err := resilience.WithTimeoutResult(ctx, resilience.TimeoutConfig{Duration: a.turnTimeout},
			func(ctx context.Context) (*llm.ChatResponse, error) {
				stream, err := a.provider.ChatStream(ctx, req)
				if err != nil {
					return nil, llm.ClassifyError(err)
				}
				return llm.Collect(ctx, stream, a.onText)
			})
		// A turn deadline is a transport failure unless the run itself ended.
		if err != nil && ctx.Err() == nil &&
			(errors.IsCode(err, errors.CodeTimeout) || errors.IsCode(err, errors.CodeCancelled)) {
			return nil, errors.New(errors.CodeProviderTransport, "provider turn timed out", err)
		}
		return resp, err
	})
	if err != nil {
		we := WrapProviderError(err, a.model, r.iteration)
		span.RecordError(we)
		span.SetStatus(codes.Error, we.Message)
		a.record(ctx, r, audit.Event{
			Actor:       "agent",
			Action:      audit.ActionLLMError,
			ReasonClass: we.ReasonClass(),
			Detail: map[string]any{
				"code":     string(we.Code),
				"error":    we.Message,
				"attempts": attempt,
			},
		})
		r.log.Error("agent.llm.error",
			slog.String("code", string(we.Code)),
			slog.Int("attempts", attempt),
			slog.String("error", we.Error()),
		)
		return nil, we
	}

	u := resp.Usage
	r.outcome.Usage.PromptTokens += u.PromptTokens
	r.outcome.Usage.CompletionTokens += u.CompletionTokens
	r.outcome.Usage.TotalTokens += u.TotalTokens
	span.SetAttributes(telemetry.LLMUsageAttributes(u.PromptTokens, u.CompletionTokens, len(resp.ToolCalls))...)
	r.log.Debug("agent.llm.response",
		slog.Int("iteration", r.iteration),
		slog.Int("tool_calls", len(resp.ToolCalls)),
		slog.Int("text_bytes", len(resp.Content)),
	)
	return resp, nil
}

// skippedToolContent answers calls the run never reached, so a continued
// conversation has a result for every tool call id.
const skippedToolContent = "cancelled: the run ended before this call executed"

// executeTools runs the pending calls in emission order, appending one
// tool message per call. It returns false when the run was cancelled
// between calls.
func (a *Agent) executeTools(ctx context.Context, r *run) bool {
	for i, tc := range r.response.ToolCalls {
		if err := ctx.Err(); err != nil {
			for _, skipped := range r.response.ToolCalls[i:] {
				r.conv.Append(llm.Message{Role: llm.RoleTool, Content: skippedToolContent, ToolCallID: skipped.ID})
			}
			a.terminate(r, StatusCancelled, WrapCancelled(err, r.iteration))
			return false
		}
		args := skills.Args{}
		// Collect guarantees a JSON object.
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)

		res := a.gate.Execute(ctx, safety.Call{
			RunID:  r.id,
			CallID: tc.ID,
			Skill:  tc.Function.Name,
			Args:   args,
		})
		r.outcome.Results = append(r.outcome.Results, res)
		r.conv.Append(llm.Message{Role: llm.RoleTool, Content: res.Content(), ToolCallID: tc.ID})
		if a.onResult != nil {
			a.onResult(res)
		}
		r.log.Info("agent.tool.result",
			slog.String("tool", res.Skill),
			slog.String("tool_call_id", res.CallID),
			slog.String("status", string(res.Status)),
			slog.String("decision", res.Decision),
			slog.String("risk", res.Risk.String()),
			slog.Duration("elapsed", res.Duration),
		)
	}
	return true
}

func (a *Agent) record(ctx context.Context, r *run, ev audit.Event) {
	if a.audit == nil {
		return
	}
	ev.RunID = r.id
	if _, err := a.audit.Log(ctx, ev); err != nil {
		r.log.Error("agent.audit.error", slog.String("action", string(ev.Action)), slog.String("error", err.Error()))
	}
}
