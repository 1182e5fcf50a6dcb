// Copyright 2026 © The Webrana Authors
// SPDX-License-Identifier: Apache-2.0

// Package guardrails inspects and rewrites the text that flows between the
// user, the model and the tools.
//
// Input checkers run on the user instruction before it reaches the model;
// output filters run on tool output before it is fed back. The default set
// is a single SecretFilter that masks credentials with [REDACTED]:
//
//	guard := guardrails.Default()
//	if r := guard.CheckInput(ctx, instruction); r.Blocked {
//	    return r.Reason
//	}
//	out := guard.FilterOutput(ctx, toolOutput).Content
//
// Unlike the safety gate (which decides whether an action may run),
// guardrails only look at content.
package guardrails

import "context"

// CheckResult is the outcome of an input check.
type CheckResult struct {
	Blocked     bool
	Reason      string
	GuardrailID string
	// Metadata carries checker-specific detail such as match counts.
	Metadata map[string]any
}

// FilterResult is the outcome of output filtering.
type FilterResult struct {
	Content    string
	Modified   bool
	Redactions []Redaction
}

// Redaction describes one masked span. Original is never populated for
// secrets.
type Redaction struct {
	Type        string
	Original    string
	Replacement string
	Position    int
}

// InputChecker inspects text before it reaches the model.
type InputChecker interface {
	CheckInput(ctx context.Context, input string) CheckResult
	ID() string
}

// OutputFilter rewrites text before it is fed back to the model.
type OutputFilter interface {
	FilterOutput(ctx context.Context, output string) FilterResult
	ID() string
}

// Guardrails is an immutable chain of checkers and filters, safe for
// concurrent use.
type Guardrails struct {
	inputCheckers []InputChecker
	outputFilters []OutputFilter
	failOpen      bool
}

// Option configures Guardrails.
type Option func(*Guardrails)

// New builds a chain from opts.
func New(opts ...Option) *Guardrails {
	g := &Guardrails{}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// WithInputChecker appends an input checker.
func WithInputChecker(checker InputChecker) Option {
	return func(g *Guardrails) {
		g.inputCheckers = append(g.inputCheckers, checker)
	}
}

// WithOutputFilter appends an output filter.
func WithOutputFilter(filter OutputFilter) Option {
	return func(g *Guardrails) {
		g.outputFilters = append(g.outputFilters, filter)
	}
}

// WithFailOpen lets input through when the context is cancelled mid-check.
// The default is to block.
func WithFailOpen(failOpen bool) Option {
	return func(g *Guardrails) {
		g.failOpen = failOpen
	}
}

// Default returns guardrails with the secret filter installed on both
// sides.
func Default(opts ...Option) *Guardrails {
	f := NewSecretFilter()
	return New(append([]Option{WithInputChecker(f), WithOutputFilter(f)}, opts...)...)
}

// CheckInput returns the first blocking result. Without one, the first
// non-blocking finding (non-empty Reason) is returned so callers can audit
// it.
func (g *Guardrails) CheckInput(ctx context.Context, input string) CheckResult {
	var flagged CheckResult
	for _, checker := range g.inputCheckers {
		if ctx.Err() != nil {
			if g.failOpen {
				return CheckResult{}
			}
			return CheckResult{Blocked: true, Reason: "guardrail check cancelled", GuardrailID: "system"}
		}
		result := checker.CheckInput(ctx, input)
		if result.Blocked {
			result.GuardrailID = checker.ID()
			return result
		}
		if result.Reason != "" && flagged.Reason == "" {
			result.GuardrailID = checker.ID()
			flagged = result
		}
	}
	return flagged
}

// FilterOutput runs the filters in order, each on the previous output.
func (g *Guardrails) FilterOutput(ctx context.Context, output string) FilterResult {
	result := FilterResult{Content: output}
	for _, filter := range g.outputFilters {
		if ctx.Err() != nil {
			return result
		}
		fr := filter.FilterOutput(ctx, result.Content)
		if fr.Modified {
			result.Content = fr.Content
			result.Modified = true
			result.Redactions = append(result.Redactions, fr.Redactions...)
		}
	}
	return result
}
