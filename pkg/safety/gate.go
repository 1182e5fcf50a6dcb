// Copyright 2026 © The Webrana Authors
// SPDX-License-Identifier: Apache-2.0

package safety

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/webrana/webrana/pkg/audit"
	"github.com/webrana/webrana/pkg/errors"
	"github.com/webrana/webrana/pkg/governance"
	"github.com/webrana/webrana/pkg/guardrails"
	"github.com/webrana/webrana/pkg/ratelimit"
	"github.com/webrana/webrana/pkg/skills"
	"github.com/webrana/webrana/pkg/telemetry"
)

// Status is the outcome of a gated call.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusRefused Status = "refused"
)

const maxSummaryLen = 240

// Call is one tool invocation requested by the model or an MCP client.
type Call struct {
	RunID  string
	CallID string
	Skill  string
	Args   skills.Args
	// Actor is recorded in the audit log; defaults to "agent".
	Actor string
}

// Result is the gate's answer for one call. Exactly one Result is
// produced per Call.
type Result struct {
	CallID      string
	Skill       string
	Status      Status
	Output      string
	Err         *errors.WebranaError
	Risk        skills.Risk
	Decision    string
	ReasonClass string
	Duration    time.Duration
}

// OK reports whether the skill ran and succeeded.
func (r Result) OK() bool {
	return r.Status == StatusSuccess
}

// Content renders the result for the model. Refusals and failures carry
// their reason class and risk level so the model can tell a crash from a
// safety block.
func (r Result) Content() string {
	switch r.Status {
	case StatusSuccess:
		return r.Output
	case StatusRefused:
		return fmt.Sprintf("refused (%s, risk %s): %s", r.ReasonClass, r.Risk, r.errMessage())
	default:
		msg := fmt.Sprintf("error (%s, risk %s): %s", r.ReasonClass, r.Risk, r.errMessage())
		if r.Output != "" {
			msg += "\n" + r.Output
		}
		return msg
	}
}

func (r Result) errMessage() string {
	if r.Err == nil {
		return "unknown error"
	}
	return r.Err.Message
}

// Gate runs every tool call through the safety pipeline.
type Gate struct {
	registry  *skills.Registry
	sanitizer *Sanitizer
	limiter   *ratelimit.Limiter
	policy    governance.PolicyEngine
	hook      governance.ApprovalHook
	audit     *audit.Logger
	metrics   *telemetry.Metrics
	logger    *slog.Logger
	tracer    trace.Tracer
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithLimiter sets the rate limiter. Without one every class uses the
// default limit.
func WithLimiter(l *ratelimit.Limiter) GateOption {
	return func(g *Gate) {
		if l != nil {
			g.limiter = l
		}
	}
}

// WithPolicy sets the confirmation policy.
func WithPolicy(p governance.PolicyEngine) GateOption {
	return func(g *Gate) {
		if p != nil {
			g.policy = p
		}
	}
}

// WithApprovalHook sets the interactive channel. A nil hook means calls
// that need confirmation are denied.
func WithApprovalHook(h governance.ApprovalHook) GateOption {
	return func(g *Gate) { g.hook = h }
}

// WithAuditLogger sets the audit sink.
func WithAuditLogger(l *audit.Logger) GateOption {
	return func(g *Gate) { g.audit = l }
}

// WithMetrics records tool-call and rate-limit metrics.
func WithMetrics(m *telemetry.Metrics) GateOption {
	return func(g *Gate) { g.metrics = m }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) GateOption {
	return func(g *Gate) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewGate builds a gate over a registry. The audit logger is required:
// no skill runs without a recorded decision.
func NewGate(registry *skills.Registry, sanitizer *Sanitizer, opts ...GateOption) (*Gate, error) {
	if registry == nil || sanitizer == nil {
		return nil, errors.New(errors.CodeConfig, "gate requires a registry and a sanitizer", nil)
	}
	g := &Gate{
		registry:  registry,
		sanitizer: sanitizer,
		limiter:   ratelimit.New(nil),
		policy:    &governance.ConfirmationPolicy{},
		logger:    slog.Default(),
		tracer:    telemetry.Tracer(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.audit == nil {
		return nil, errors.New(errors.CodeConfig, "gate requires an audit logger", nil)
	}
	return g, nil
}

// Registry returns the skill registry behind the gate.
func (g *Gate) Registry() *skills.Registry {
	return g.registry
}

// Interactive reports whether the gate can ask the operator.
func (g *Gate) Interactive() bool {
	return g.hook != nil
}

// Execute runs call through the pipeline and, when allowed, the skill.
func (g *Gate) Execute(ctx context.Context, call Call) Result {
	start := time.Now()
	ctx, span := g.tracer.Start(ctx, telemetry.SpanToolCall)
	defer span.End()

	res := g.execute(ctx, span, call)
	res.Duration = time.Since(start)

	span.SetAttributes(
		attribute.Float64(telemetry.AttrToolDurationMs, float64(res.Duration.Microseconds())/1000),
		attribute.Bool(telemetry.AttrToolSuccess, res.OK()),
	)
	span.SetAttributes(telemetry.DecisionAttributes(res.Risk.String(), res.Decision, res.ReasonClass)...)
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Message)
		g.metrics.RecordError(ctx, res.Err, "safety-gate")
	}
	g.metrics.RecordToolCall(ctx, call.Skill, res.Decision, res.Risk.String())
	return res
}

func (g *Gate) execute(ctx context.Context, span trace.Span, call Call) Result {
	log := g.logger.With(
		slog.String("run_id", call.RunID),
		slog.String("tool", call.Skill),
		slog.String("tool_call_id", call.CallID),
	)

	desc, ok := g.registry.Get(call.Skill)
	if !ok {
		span.SetAttributes(telemetry.ToolCallAttributes(call.Skill, call.CallID, "unknown")...)
		err := errors.New(errors.CodeNotFound, "unknown skill "+call.Skill, nil)
		return g.refuse(ctx, log, call, skills.RiskLow, audit.DecisionRejected, err, nil)
	}
	span.SetAttributes(telemetry.ToolCallAttributes(desc.Name, call.CallID, string(desc.Source))...)

	// 1. Sanitize.
	sanitized, err := g.sanitizer.Sanitize(desc, call.Args)
	if err != nil {
		return g.refuse(ctx, log, call, desc.Risk, audit.DecisionRejected, errors.AsWebranaError(err), nil)
	}

	// 2. Permissions.
	if missing := desc.Available.Missing(desc.Requires); len(missing) > 0 {
		err := errors.New(errors.CodePermissionDenied,
			fmt.Sprintf("skill %s lacks capability %s", desc.Name, missing[0]), nil).
			WithContext("missing", fmt.Sprint(missing))
		return g.refuse(ctx, log, call, desc.BaseRisk(sanitized.Args), audit.DecisionRejected, err, sanitized.Args)
	}

	// 3. Classify.
	assessment := Classify(desc, sanitized)

	// 4. Rate limit.
	if err := g.limiter.Acquire(string(desc.Class)); err != nil {
		g.metrics.RecordRateLimited(ctx, string(desc.Class))
		return g.refuse(ctx, log, call, assessment.Risk, audit.DecisionRateLimited, errors.AsWebranaError(err), sanitized.Args)
	}

	// 5. Confirm.
	action := governance.Action{
		Skill:   desc.Name,
		Class:   desc.Class,
		Source:  desc.Source,
		Risk:    assessment.Risk,
		Blocked: assessment.Blocked,
		Reason:  assessment.Reason,
		Summary: summarize(desc, sanitized),
	}
	decision := governance.Resolve(ctx, g.policy, g.hook, action)
	if decision.IsDenied() {
		label, code := audit.DecisionDenied, errors.CodePermissionDenied
		if decision.Status == governance.DecisionDeclined {
			label, code = audit.DecisionDeclined, errors.CodeConfirmationDeclined
		}
		reason := decision.Reason
		if reason == "" {
			reason = "call denied by policy"
		}
		err := errors.New(code, reason, nil).WithContext("rule", decision.RuleID).WithRisk(assessment.Risk.String())
		return g.refuse(ctx, log, call, assessment.Risk, label, err, sanitized.Args)
	}
	label := audit.DecisionAutoAllow
	if decision.Status == governance.DecisionApproved {
		label = audit.DecisionApproved
	}

	// 6. Audit before running.
	if _, err := g.audit.Log(ctx, audit.Event{
		RunID:    call.RunID,
		Actor:    call.Actor,
		Action:   audit.ActionToolDecision,
		Skill:    desc.Name,
		CallID:   call.CallID,
		Risk:     assessment.Risk.String(),
		Decision: label,
		Detail: map[string]any{
			"args":   map[string]any(sanitized.Args),
			"rule":   decision.RuleID,
			"reason": assessment.Reason,
		},
	}); err != nil {
		log.Error("safety.audit.error", slog.String("error", err.Error()))
		we := errors.New(errors.CodeInternal, "audit log unavailable, call not executed", err)
		return Result{CallID: call.CallID, Skill: desc.Name, Status: StatusRefused, Err: we,
			Risk: assessment.Risk, Decision: label, ReasonClass: we.ReasonClass()}
	}

	output, runErr := desc.Handler(ctx, sanitized.Args)
	output = guardrails.Redact(output)
	res := Result{CallID: call.CallID, Skill: desc.Name, Output: output, Risk: assessment.Risk, Decision: label}
	outcome := audit.ActionToolExecuted
	detail := map[string]any{"output_bytes": len(output)}
	if runErr != nil {
		we := typed(ctx, runErr)
		res.Status, res.Err, res.ReasonClass = StatusFailure, we, we.ReasonClass()
		outcome = audit.ActionToolFailed
		detail["error"] = we.Message
		detail["code"] = string(we.Code)
		log.Warn("safety.tool.failed", slog.String("error_code", string(we.Code)), slog.String("error", we.Message))
	} else {
		res.Status = StatusSuccess
		log.Info("safety.tool.complete", slog.String("risk", assessment.Risk.String()), slog.String("decision", label))
	}
	if _, err := g.audit.Log(ctx, audit.Event{
		RunID:       call.RunID,
		Actor:       call.Actor,
		Action:      outcome,
		Skill:       desc.Name,
		CallID:      call.CallID,
		Risk:        assessment.Risk.String(),
		Decision:    label,
		ReasonClass: res.ReasonClass,
		Detail:      detail,
	}); err != nil {
		log.Error("safety.audit.error", slog.String("error", err.Error()))
	}
	return res
}

// refuse records a single tool_refused event and returns the refusal.
func (g *Gate) refuse(ctx context.Context, log *slog.Logger, call Call, risk skills.Risk, label string, err *errors.WebranaError, args skills.Args) Result {
	detail := map[string]any{
		"error": err.Message,
		"code":  string(err.Code),
	}
	if args != nil {
		detail["args"] = map[string]any(args)
	}
	if _, aerr := g.audit.Log(ctx, audit.Event{
		RunID:       call.RunID,
		Actor:       call.Actor,
		Action:      audit.ActionToolRefused,
		Skill:       call.Skill,
		CallID:      call.CallID,
		Risk:        risk.String(),
		Decision:    label,
		ReasonClass: err.ReasonClass(),
		Detail:      detail,
	}); aerr != nil {
		log.Error("safety.audit.error", slog.String("error", aerr.Error()))
	}
	log.Warn("safety.tool.refused",
		slog.String("decision", label),
		slog.String("error_code", string(err.Code)),
		slog.String("reason", err.Message),
	)
	return Result{
		CallID:      call.CallID,
		Skill:       call.Skill,
		Status:      StatusRefused,
		Err:         err,
		Risk:        risk,
		Decision:    label,
		ReasonClass: err.ReasonClass(),
	}
}

// typed converts a handler error into a WebranaError. Untyped errors are
// skill execution failures unless the context ended.
func typed(ctx context.Context, err error) *errors.WebranaError {
	var we *errors.WebranaError
	if stderrors.As(err, &we) {
		return we
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		if stderrors.Is(ctxErr, context.DeadlineExceeded) {
			return errors.New(errors.CodeTimeout, "skill timed out", err)
		}
		return errors.New(errors.CodeCancelled, "skill cancelled", err)
	}
	return errors.New(errors.CodeSkillExecution, err.Error(), err)
}

// summarize renders the call for a confirmation prompt.
func summarize(desc *skills.Descriptor, s Sanitized) string {
	if s.RawCommand != "" {
		return truncate(guardrails.Redact(s.RawCommand))
	}
	raw, err := json.Marshal(guardrails.RedactMap(s.Args))
	if err != nil {
		return desc.Name
	}
	return truncate(string(raw))
}

func truncate(s string) string {
	if len(s) <= maxSummaryLen {
		return s
	}
	return s[:maxSummaryLen] + "..."
}
