// Copyright 2026 © The Webrana Authors
// SPDX-License-Identifier: Apache-2.0

// Package testing provides utilities for testing the orchestrator end to
// end: a scripted streaming provider, declarative scenarios and assertion
// helpers.
//
// Example usage:
//
//	scenario := testing.NewScenario("list sources").
//	    WithInput("list ./src").
//	    ExpectStatus(agent.StatusCompleted).
//	    ExpectToolCall("list_files")
//
//	result := scenario.Run(t, a)
//	result.Assert(t, scenario)
package testing

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/webrana/webrana/pkg/agent"
	"github.com/webrana/webrana/pkg/errors"
	"github.com/webrana/webrana/pkg/llm"
	"github.com/webrana/webrana/pkg/safety"
)

// Scenario defines a test scenario for an agent interaction.
type Scenario struct {
	name          string
	input         string
	context       context.Context
	timeout       time.Duration
	expectations  []Expectation
	setupFuncs    []func() error
	teardownFuncs []func() error
}

// Expectation defines a condition to verify after running a scenario.
type Expectation interface {
	// Check verifies the expectation against the result.
	Check(result *ScenarioResult) error
	// Description returns a human-readable description of the expectation.
	Description() string
}

// ScenarioResult contains the outcome of running a scenario.
type ScenarioResult struct {
	Output     string
	Error      error
	Status     agent.Status
	Iterations int
	ToolCalls  []safety.Result
	Duration   time.Duration
	TokenUsage llm.Usage
}

// NewScenario creates a new test scenario with the given name.
func NewScenario(name string) *Scenario {
	return &Scenario{
		name:    name,
		timeout: 30 * time.Second,
		context: context.Background(),
	}
}

// WithInput sets the instruction for the scenario.
func (s *Scenario) WithInput(input string) *Scenario {
	s.input = input
	return s
}

// WithContext sets the context for the scenario.
func (s *Scenario) WithContext(ctx context.Context) *Scenario {
	s.context = ctx
	return s
}

// WithTimeout sets the timeout for the scenario.
func (s *Scenario) WithTimeout(d time.Duration) *Scenario {
	s.timeout = d
	return s
}

// WithSetup adds a setup function to run before the scenario.
func (s *Scenario) WithSetup(fn func() error) *Scenario {
	s.setupFuncs = append(s.setupFuncs, fn)
	return s
}

// WithTeardown adds a teardown function to run after the scenario.
func (s *Scenario) WithTeardown(fn func() error) *Scenario {
	s.teardownFuncs = append(s.teardownFuncs, fn)
	return s
}

// Expect adds an expectation to the scenario.
func (s *Scenario) Expect(exp Expectation) *Scenario {
	s.expectations = append(s.expectations, exp)
	return s
}

// ExpectOutput adds an output expectation.
func (s *Scenario) ExpectOutput(matcher StringMatcher) *Scenario {
	return s.Expect(&outputExpectation{matcher: matcher})
}

// ExpectNoError expects the run to complete.
func (s *Scenario) ExpectNoError() *Scenario {
	return s.Expect(&noErrorExpectation{})
}

// ExpectErrorCode expects the run to fail with code.
func (s *Scenario) ExpectErrorCode(code errors.ErrorCode) *Scenario {
	return s.Expect(&errorCodeExpectation{code: code})
}

// ExpectStatus expects the run to terminate with status.
func (s *Scenario) ExpectStatus(status agent.Status) *Scenario {
	return s.Expect(&statusExpectation{status: status})
}

// ExpectIterations expects exactly n tool cycles.
func (s *Scenario) ExpectIterations(n int) *Scenario {
	return s.Expect(&iterationsExpectation{n: n})
}

// ExpectToolCall expects a specific tool to be called.
func (s *Scenario) ExpectToolCall(toolName string) *Scenario {
	return s.Expect(&toolCallExpectation{toolName: toolName})
}

// ExpectToolStatus expects every call of toolName to end with status.
func (s *Scenario) ExpectToolStatus(toolName string, status safety.Status) *Scenario {
	return s.Expect(&toolStatusExpectation{toolName: toolName, status: status})
}

// ExpectNoToolCalls expects no tool calls.
func (s *Scenario) ExpectNoToolCalls() *Scenario {
	return s.Expect(&noToolCallsExpectation{})
}

// ExpectMaxDuration expects the scenario to complete within the given duration.
func (s *Scenario) ExpectMaxDuration(d time.Duration) *Scenario {
	return s.Expect(&maxDurationExpectation{max: d})
}

// AgentRunner is the interface for running agent scenarios.
type AgentRunner interface {
	Run(ctx context.Context, instruction string) (*agent.Outcome, error)
}

// Run executes the scenario against the given agent.
func (s *Scenario) Run(t *testing.T, runner AgentRunner) *ScenarioResult {
	t.Helper()

	for _, setup := range s.setupFuncs {
		if err := setup(); err != nil {
			t.Fatalf("scenario %q setup failed: %v", s.name, err)
		}
	}
	defer func() {
		for _, teardown := range s.teardownFuncs {
			if err := teardown(); err != nil {
				t.Errorf("scenario %q teardown failed: %v", s.name, err)
			}
		}
	}()

	ctx, cancel := context.WithTimeout(s.context, s.timeout)
	defer cancel()

	start := time.Now()
	out, err := runner.Run(ctx, s.input)
	result := &ScenarioResult{Error: err, Duration: time.Since(start)}
	if out != nil {
		result.Output = out.Output
		result.Status = out.Status
		result.Iterations = out.Iterations
		result.ToolCalls = out.Results
		result.TokenUsage = out.Usage
	}
	return result
}

// Assert checks all expectations and reports failures to the test.
func (r *ScenarioResult) Assert(t *testing.T, scenario *Scenario) {
	t.Helper()
	for _, exp := range scenario.expectations {
		if err := exp.Check(r); err != nil {
			t.Errorf("scenario %q: expectation %q failed: %v", scenario.name, exp.Description(), err)
		}
	}
}

// StringMatcher matches output strings.
type StringMatcher interface {
	Match(s string) bool
	Description() string
}

// Contains matches strings containing substr.
func Contains(substr string) StringMatcher {
	return &containsMatcher{substr: substr}
}

// Equals matches strings exactly.
func Equals(expected string) StringMatcher {
	return &equalsMatcher{expected: expected}
}

// Regex matches strings against a regular expression.
func Regex(pattern string) StringMatcher {
	return &regexMatcher{pattern: pattern}
}

// HasPrefix matches strings starting with prefix.
func HasPrefix(prefix string) StringMatcher {
	return &prefixMatcher{prefix: prefix}
}

type containsMatcher struct{ substr string }

func (m *containsMatcher) Match(s string) bool  { return strings.Contains(s, m.substr) }
func (m *containsMatcher) Description() string { return fmt.Sprintf("contains %q", m.substr) }

type equalsMatcher struct{ expected string }

func (m *equalsMatcher) Match(s string) bool  { return s == m.expected }
func (m *equalsMatcher) Description() string { return fmt.Sprintf("equals %q", m.expected) }

type regexMatcher struct{ pattern string }

func (m *regexMatcher) Match(s string) bool {
	re, err := regexp.Compile(m.pattern)
	if err != nil {
		return false
	}
	return re.MatchString(s)
}

func (m *regexMatcher) Description() string { return fmt.Sprintf("matches /%s/", m.pattern) }

type prefixMatcher struct{ prefix string }

func (m *prefixMatcher) Match(s string) bool  { return strings.HasPrefix(s, m.prefix) }
func (m *prefixMatcher) Description() string { return fmt.Sprintf("has prefix %q", m.prefix) }

type outputExpectation struct{ matcher StringMatcher }

func (e *outputExpectation) Check(r *ScenarioResult) error {
	if !e.matcher.Match(r.Output) {
		return fmt.Errorf("output %q does not match: %s", r.Output, e.matcher.Description())
	}
	return nil
}

func (e *outputExpectation) Description() string { return "output " + e.matcher.Description() }

type noErrorExpectation struct{}

func (e *noErrorExpectation) Check(r *ScenarioResult) error {
	if r.Error != nil {
		return fmt.Errorf("unexpected error: %v", r.Error)
	}
	return nil
}

func (e *noErrorExpectation) Description() string { return "no error" }

type errorCodeExpectation struct{ code errors.ErrorCode }

func (e *errorCodeExpectation) Check(r *ScenarioResult) error {
	if !errors.IsCode(r.Error, e.code) {
		return fmt.Errorf("error %v does not carry code %s", r.Error, e.code)
	}
	return nil
}

func (e *errorCodeExpectation) Description() string { return "error code " + string(e.code) }

type statusExpectation struct{ status agent.Status }

func (e *statusExpectation) Check(r *ScenarioResult) error {
	if r.Status != e.status {
		return fmt.Errorf("status %q, want %q", r.Status, e.status)
	}
	return nil
}

func (e *statusExpectation) Description() string { return "status " + string(e.status) }

type iterationsExpectation struct{ n int }

func (e *iterationsExpectation) Check(r *ScenarioResult) error {
	if r.Iterations != e.n {
		return fmt.Errorf("%d iterations, want %d", r.Iterations, e.n)
	}
	return nil
}

func (e *iterationsExpectation) Description() string { return fmt.Sprintf("%d iterations", e.n) }

type toolCallExpectation struct{ toolName string }

func (e *toolCallExpectation) Check(r *ScenarioResult) error {
	for _, tc := range r.ToolCalls {
		if tc.Skill == e.toolName {
			return nil
		}
	}
	return fmt.Errorf("tool %q was not called; calls: %s", e.toolName, formatResults(r.ToolCalls))
}

func (e *toolCallExpectation) Description() string { return "tool call " + e.toolName }

type toolStatusExpectation struct {
	toolName string
	status   safety.Status
}

func (e *toolStatusExpectation) Check(r *ScenarioResult) error {
	seen := false
	for _, tc := range r.ToolCalls {
		if tc.Skill != e.toolName {
			continue
		}
		seen = true
		if tc.Status != e.status {
			return fmt.Errorf("tool %q call %s ended %s, want %s", e.toolName, tc.CallID, tc.Status, e.status)
		}
	}
	if !seen {
		return fmt.Errorf("tool %q was not called", e.toolName)
	}
	return nil
}

func (e *toolStatusExpectation) Description() string {
	return fmt.Sprintf("tool %s %s", e.toolName, e.status)
}

type noToolCallsExpectation struct{}

func (e *noToolCallsExpectation) Check(r *ScenarioResult) error {
	if len(r.ToolCalls) > 0 {
		return fmt.Errorf("expected no tool calls, got %s", formatResults(r.ToolCalls))
	}
	return nil
}

func (e *noToolCallsExpectation) Description() string { return "no tool calls" }

type maxDurationExpectation struct{ max time.Duration }

func (e *maxDurationExpectation) Check(r *ScenarioResult) error {
	if r.Duration > e.max {
		return fmt.Errorf("took %v, limit %v", r.Duration, e.max)
	}
	return nil
}

func (e *maxDurationExpectation) Description() string { return fmt.Sprintf("within %v", e.max) }

func formatResults(results []safety.Result) string {
	if len(results) == 0 {
		return "(none)"
	}
	names := make([]string, len(results))
	for i, r := range results {
		names[i] = r.Skill
	}
	return "[" + strings.Join(names, ", ") + "]"
}
