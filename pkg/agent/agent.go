// Copyright 2026 © The Webrana Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent implements the orchestrator: an explicit state machine that
// alternates model turns and gated tool execution until the model answers
// without tool calls, the iteration budget runs out, the provider fails or
// the caller cancels.
package agent

import (
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/webrana/webrana/pkg/audit"
	"github.com/webrana/webrana/pkg/config"
	"github.com/webrana/webrana/pkg/errors"
	"github.com/webrana/webrana/pkg/governance"
	"github.com/webrana/webrana/pkg/guardrails"
	"github.com/webrana/webrana/pkg/llm"
	"github.com/webrana/webrana/pkg/resilience"
	"github.com/webrana/webrana/pkg/safety"
	"github.com/webrana/webrana/pkg/telemetry"
)

// DefaultMaxIterations bounds tool cycles when no limit is configured.
const DefaultMaxIterations = 10

// CompletionMarker is the token autonomous runs are told to emit when the
// task is finished.
const CompletionMarker = "TASK_COMPLETE"

// Agent drives one provider and one gate. It holds no per-run state; runs
// on different conversations may proceed concurrently.
type Agent struct {
	provider     llm.StreamingProvider
	gate         *safety.Gate
	model        string
	providerName string
	temperature  float64
	maxTokens    int

	maxIterations int
	systemPrompt  string
	instructions  *governance.ProjectInstructions
	marker        string
	retry         resilience.RetryConfig
	turnTimeout   time.Duration

	guardrails *guardrails.Guardrails
	audit      *audit.Logger
	metrics    *telemetry.Metrics
	logger     *slog.Logger
	tracer     trace.Tracer

	onText   func(string)
	onResult func(safety.Result)
}

// Option configures an Agent instance.
type Option func(*Agent) error

// New creates an agent over a streaming provider and a safety gate.
func New(provider llm.StreamingProvider, gate *safety.Gate, opts ...Option) (*Agent, error) {
	if provider == nil {
		return nil, errors.New(errors.CodeConfig, "agent requires a provider", nil)
	}
	if gate == nil {
		return nil, errors.New(errors.CodeConfig, "agent requires a safety gate", nil)
	}
	a := &Agent{
		provider:      provider,
		gate:          gate,
		maxIterations: DefaultMaxIterations,
		retry:         resilience.DefaultRetryConfig(),
		logger:        slog.Default(),
		tracer:        telemetry.Tracer(),
	}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}
	a.retry.IsRecoverable = resilience.IsProviderTransport
	return a, nil
}

// FromConfig returns the options matching an agent and llm configuration.
func FromConfig(agentCfg config.AgentConfig, llmCfg config.LLMConfig) []Option {
	opts := []Option{
		WithModel(llmCfg.Provider, llmCfg.Model),
		WithSampling(llmCfg.Temperature, llmCfg.MaxTokens),
		WithTurnTimeout(agentCfg.TurnTimeout),
	}
	if agentCfg.MaxIterations > 0 {
		opts = append(opts, WithMaxIterations(agentCfg.MaxIterations))
	}
	if agentCfg.SystemPrompt != "" {
		opts = append(opts, WithSystemPrompt(agentCfg.SystemPrompt))
	}
	r := agentCfg.ProviderRetry
	if r.MaxAttempts > 0 {
		retry := resilience.DefaultRetryConfig().WithMaxAttempts(r.MaxAttempts)
		if r.InitialDelay > 0 {
			retry = retry.WithInitialDelay(r.InitialDelay)
		}
		if r.MaxDelay > 0 {
			retry = retry.WithMaxDelay(r.MaxDelay)
		}
		opts = append(opts, WithRetry(retry))
	}
	return opts
}

// WithModel sets the provider label and model name sent with every request.
func WithModel(provider, model string) Option {
	return func(a *Agent) error {
		a.providerName = provider
		a.model = model
		return nil
	}
}

// WithSampling sets temperature and the completion token cap.
func WithSampling(temperature float64, maxTokens int) Option {
	return func(a *Agent) error {
		a.temperature = temperature
		a.maxTokens = maxTokens
		return nil
	}
}

// WithMaxIterations sets the tool cycle budget.
func WithMaxIterations(n int) Option {
	return func(a *Agent) error {
		if n < 1 {
			return errors.New(errors.CodeConfig, "max iterations must be at least 1", nil).
				WithContext("max_iterations", n)
		}
		a.maxIterations = n
		return nil
	}
}

// WithSystemPrompt sets the system message that opens every conversation.
func WithSystemPrompt(prompt string) Option {
	return func(a *Agent) error {
		a.systemPrompt = strings.TrimSpace(prompt)
		return nil
	}
}

// WithInstructions appends project instructions to the system message.
func WithInstructions(in *governance.ProjectInstructions) Option {
	return func(a *Agent) error {
		a.instructions = in
		return nil
	}
}

// WithCompletionMarker makes runs autonomous: the model is told to answer
// with marker when done, and the marker is stripped from the final text.
func WithCompletionMarker(marker string) Option {
	return func(a *Agent) error {
		a.marker = marker
		return nil
	}
}

// WithRetry sets the provider retry policy. Only recoverable transport
// failures are retried regardless of the predicate in rc.
func WithRetry(rc resilience.RetryConfig) Option {
	return func(a *Agent) error {
		if rc.MaxAttempts < 1 {
			return errors.New(errors.CodeConfig, "provider retry needs at least one attempt", nil)
		}
		a.retry = rc
		return nil
	}
}

// WithTurnTimeout bounds each provider attempt. Zero means no bound.
func WithTurnTimeout(d time.Duration) Option {
	return func(a *Agent) error {
		a.turnTimeout = d
		return nil
	}
}

// WithGuardrails checks user input before it reaches the model.
func WithGuardrails(g *guardrails.Guardrails) Option {
	return func(a *Agent) error {
		a.guardrails = g
		return nil
	}
}

// WithAuditLogger records session and model events. Tool decisions are
// recorded by the gate.
func WithAuditLogger(l *audit.Logger) Option {
	return func(a *Agent) error {
		a.audit = l
		return nil
	}
}

// WithMetrics records run and retry metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(a *Agent) error {
		a.metrics = m
		return nil
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) error {
		if l != nil {
			a.logger = l
		}
		return nil
	}
}

// WithTextHandler receives streamed text deltas as they arrive.
func WithTextHandler(fn func(string)) Option {
	return func(a *Agent) error {
		a.onText = fn
		return nil
	}
}

// WithToolResultHandler is called after every gated tool call.
func WithToolResultHandler(fn func(safety.Result)) Option {
	return func(a *Agent) error {
		a.onResult = fn
		return nil
	}
}

// MaxIterations returns the tool cycle budget.
func (a *Agent) MaxIterations() int { return a.maxIterations }

// NewConversation returns a conversation seeded with the system message.
func (a *Agent) NewConversation() *Conversation {
	c := &Conversation{}
	if sys := a.systemMessage(); sys != "" {
		c.Append(llm.Message{Role: llm.RoleSystem, Content: sys})
	}
	return c
}

func (a *Agent) systemMessage() string {
	var parts []string
	if a.systemPrompt != "" {
		parts = append(parts, a.systemPrompt)
	}
	if a.instructions != nil && strings.TrimSpace(a.instructions.Raw) != "" {
		parts = append(parts, "Project instructions ("+a.instructions.Path+"):\n"+strings.TrimSpace(a.instructions.Raw))
	}
	if a.marker != "" {
		parts = append(parts, "Work autonomously using the available tools. When the task is finished, reply with a short summary followed by "+a.marker+" on its own line.")
	}
	return strings.Join(parts, "\n\n")
}
