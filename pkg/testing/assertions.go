// Copyright 2026 © The Webrana Authors
// SPDX-License-Identifier: Apache-2.0

package testing

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/webrana/webrana/pkg/audit"
	"github.com/webrana/webrana/pkg/errors"
	"github.com/webrana/webrana/pkg/llm"
)

// Assertions provides assertion helpers for testing.
type Assertions struct {
	t      *testing.T
	failed bool
}

// NewAssertions creates a new assertions helper.
func NewAssertions(t *testing.T) *Assertions {
	return &Assertions{t: t}
}

// Failed returns true if any assertion has failed.
func (a *Assertions) Failed() bool {
	return a.failed
}

func (a *Assertions) errorf(format string, args ...any) {
	a.t.Helper()
	a.t.Errorf(format, args...)
	a.failed = true
}

// AssertNoError asserts that the error is nil.
func (a *Assertions) AssertNoError(err error, msg string) {
	a.t.Helper()
	if err != nil {
		a.errorf("%s: unexpected error: %v", msg, err)
	}
}

// AssertErrorCode asserts that err carries code.
func (a *Assertions) AssertErrorCode(err error, code errors.ErrorCode, msg string) {
	a.t.Helper()
	if !errors.IsCode(err, code) {
		a.errorf("%s: expected %s, got %v", msg, code, err)
	}
}

// AssertContains asserts that the string contains the substring.
func (a *Assertions) AssertContains(s, substr, msg string) {
	a.t.Helper()
	if !strings.Contains(s, substr) {
		a.errorf("%s: %q does not contain %q", msg, s, substr)
	}
}

// AssertNotContains asserts that the string does not contain the substring.
func (a *Assertions) AssertNotContains(s, substr, msg string) {
	a.t.Helper()
	if strings.Contains(s, substr) {
		a.errorf("%s: %q should not contain %q", msg, s, substr)
	}
}

// RequestAssertions provides assertion helpers for LLM requests.
type RequestAssertions struct {
	*Assertions
	req *llm.ChatRequest
}

// AssertRequest creates request assertions for the given request.
func (a *Assertions) AssertRequest(req *llm.ChatRequest) *RequestAssertions {
	a.t.Helper()
	if req == nil {
		a.errorf("request is nil")
		return &RequestAssertions{Assertions: a, req: &llm.ChatRequest{}}
	}
	return &RequestAssertions{Assertions: a, req: req}
}

// HasModel asserts the request uses the given model.
func (r *RequestAssertions) HasModel(model string) *RequestAssertions {
	r.t.Helper()
	if r.req.Model != model {
		r.errorf("expected model %q, got %q", model, r.req.Model)
	}
	return r
}

// HasMessageCount asserts the number of messages in the request.
func (r *RequestAssertions) HasMessageCount(count int) *RequestAssertions {
	r.t.Helper()
	if len(r.req.Messages) != count {
		r.errorf("expected %d messages, got %d", count, len(r.req.Messages))
	}
	return r
}

// HasSystemMessage asserts a system message exists with the given content.
func (r *RequestAssertions) HasSystemMessage(contains string) *RequestAssertions {
	r.t.Helper()
	return r.hasMessage(llm.RoleSystem, contains)
}

// HasUserMessage asserts a user message exists with the given content.
func (r *RequestAssertions) HasUserMessage(contains string) *RequestAssertions {
	r.t.Helper()
	return r.hasMessage(llm.RoleUser, contains)
}

// HasToolMessage asserts the tool result for callID contains the text.
func (r *RequestAssertions) HasToolMessage(callID, contains string) *RequestAssertions {
	r.t.Helper()
	for _, msg := range r.req.Messages {
		if msg.Role == llm.RoleTool && msg.ToolCallID == callID {
			if !strings.Contains(msg.Content, contains) {
				r.errorf("tool message %s = %q, want it to contain %q", callID, msg.Content, contains)
			}
			return r
		}
	}
	r.errorf("no tool message for call %s", callID)
	return r
}

// ToolMessageOrder asserts that tool messages appear in exactly the given
// call id order.
func (r *RequestAssertions) ToolMessageOrder(callIDs ...string) *RequestAssertions {
	r.t.Helper()
	var got []string
	for _, msg := range r.req.Messages {
		if msg.Role == llm.RoleTool {
			got = append(got, msg.ToolCallID)
		}
	}
	if strings.Join(got, ",") != strings.Join(callIDs, ",") {
		r.errorf("tool message order %v, want %v", got, callIDs)
	}
	return r
}

// HasTool asserts a tool with the given name is offered.
func (r *RequestAssertions) HasTool(name string) *RequestAssertions {
	r.t.Helper()
	for _, tool := range r.req.Tools {
		if tool.Function.Name == name {
			return r
		}
	}
	r.errorf("tool %q not offered in request", name)
	return r
}

func (r *RequestAssertions) hasMessage(role llm.Role, contains string) *RequestAssertions {
	r.t.Helper()
	for _, msg := range r.req.Messages {
		if msg.Role == role && strings.Contains(msg.Content, contains) {
			return r
		}
	}
	r.errorf("no %s message containing %q found", role, contains)
	return r
}

// AuditAssertions checks what a run left in the audit log.
type AuditAssertions struct {
	*Assertions
	events []audit.Event
}

// AssertAudit loads every event from store.
func (a *Assertions) AssertAudit(store audit.Store) *AuditAssertions {
	a.t.Helper()
	events, err := store.List(context.Background(), audit.Filter{})
	if err != nil {
		a.errorf("list audit events: %v", err)
	}
	return &AuditAssertions{Assertions: a, events: events}
}

// ChainIntact asserts that the hash chain verifies.
func (au *AuditAssertions) ChainIntact() *AuditAssertions {
	au.t.Helper()
	if err := audit.Verify(au.events, ""); err != nil {
		au.errorf("audit chain broken: %v", err)
	}
	return au
}

// HasAction asserts at least one event with action exists.
func (au *AuditAssertions) HasAction(action audit.Action) *AuditAssertions {
	au.t.Helper()
	if au.count(action) == 0 {
		au.errorf("no %s event in audit log", action)
	}
	return au
}

// ActionCount asserts exactly n events carry action.
func (au *AuditAssertions) ActionCount(action audit.Action, n int) *AuditAssertions {
	au.t.Helper()
	if got := au.count(action); got != n {
		au.errorf("%d %s events, want %d", got, action, n)
	}
	return au
}

// Decisions asserts the replayed decision labels, in order.
func (au *AuditAssertions) Decisions(labels ...string) *AuditAssertions {
	au.t.Helper()
	var got []string
	for _, rec := range audit.Replay(au.events) {
		got = append(got, rec.Decision)
	}
	if strings.Join(got, ",") != strings.Join(labels, ",") {
		au.errorf("decisions %v, want %v", got, labels)
	}
	return au
}

// NotContains asserts no event detail contains substr.
func (au *AuditAssertions) NotContains(substr string) *AuditAssertions {
	au.t.Helper()
	for _, ev := range au.events {
		raw, _ := json.Marshal(ev.Detail)
		if strings.Contains(string(raw), substr) {
			au.errorf("event %d (%s) leaks %q", ev.Sequence, ev.Action, substr)
		}
	}
	return au
}

func (au *AuditAssertions) count(action audit.Action) int {
	n := 0
	for _, ev := range au.events {
		if ev.Action == action {
			n++
		}
	}
	return n
}

// RequireNoError fails the test immediately if err is not nil.
func RequireNoError(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %v", msg, err)
	}
}

// AssertToolCallArgs extracts and validates tool call arguments.
func AssertToolCallArgs(t *testing.T, tc llm.ToolCall, expectedName string) map[string]any {
	t.Helper()
	if tc.Function.Name != expectedName {
		t.Errorf("expected tool %q, got %q", expectedName, tc.Function.Name)
	}
	var args map[string]any
	if tc.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			t.Errorf("failed to parse tool arguments: %v", err)
			return nil
		}
	}
	return args
}
