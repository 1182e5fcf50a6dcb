// Copyright 2026 © The Webrana Authors
// SPDX-License-Identifier: Apache-2.0

package governance

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"

	"github.com/webrana/webrana/pkg/skills"
)

// StaticApprovalHook returns a fixed decision for every request and
// records what it was asked.
type StaticApprovalHook struct {
	Decision Decision

	mu    sync.Mutex
	asked []Action
}

// Request returns the configured decision.
func (h *StaticApprovalHook) Request(_ context.Context, action Action) Decision {
	h.mu.Lock()
	h.asked = append(h.asked, action)
	h.mu.Unlock()
	return normalizeApprovalDecision(h.Decision, "approval decision not set")
}

// Asked returns the actions the hook was consulted for.
func (h *StaticApprovalHook) Asked() []Action {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Action(nil), h.asked...)
}

// approvalPrompt is shown for non-critical actions.
const approvalPrompt = "Allow? [y/N]: "

// ConsoleApprovalHook prompts for approval on a terminal.
type ConsoleApprovalHook struct {
	mu      sync.Mutex
	in      *bufio.Reader
	out     io.Writer
	timeout time.Duration

	start sync.Once
	lines chan string
}

// ConsoleApprovalOption configures the console approval hook.
type ConsoleApprovalOption func(*ConsoleApprovalHook)

// NewConsoleApprovalHook creates a console-based approval hook.
func NewConsoleApprovalHook(opts ...ConsoleApprovalOption) *ConsoleApprovalHook {
	h := &ConsoleApprovalHook{
		in:    bufio.NewReader(os.Stdin),
		out:   os.Stderr,
		lines: make(chan string, 1),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// WithApprovalInput sets the input reader for the console hook.
func WithApprovalInput(r io.Reader) ConsoleApprovalOption {
	return func(h *ConsoleApprovalHook) {
		if r != nil {
			h.in = bufio.NewReader(r)
		}
	}
}

// WithApprovalOutput sets the output writer for the console hook.
func WithApprovalOutput(w io.Writer) ConsoleApprovalOption {
	return func(h *ConsoleApprovalHook) {
		if w != nil {
			h.out = w
		}
	}
}

// WithApprovalTimeout sets a timeout for waiting on user input.
func WithApprovalTimeout(timeout time.Duration) ConsoleApprovalOption {
	return func(h *ConsoleApprovalHook) {
		if timeout > 0 {
			h.timeout = timeout
		}
	}
}

// IsInteractive reports whether f is attached to a terminal.
func IsInteractive(f *os.File) bool {
	return f != nil && term.IsTerminal(int(f.Fd()))
}

// TerminalApprovalHook returns a console hook bound to in/out when in is a
// terminal, and nil (no interactive channel) otherwise.
func TerminalApprovalHook(in *os.File, out io.Writer, opts ...ConsoleApprovalOption) ApprovalHook {
	if !IsInteractive(in) {
		return nil
	}
	base := []ConsoleApprovalOption{WithApprovalInput(in), WithApprovalOutput(out)}
	return NewConsoleApprovalHook(append(base, opts...)...)
}

// Request prompts for approval and returns the operator decision. Critical
// actions must be confirmed by typing "yes" in full.
func (h *ConsoleApprovalHook) Request(ctx context.Context, action Action) Decision {
	if h == nil || h.in == nil {
		return normalizeApprovalDecision(Decision{}, "approval input not available")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.discardStale()

	reason := strings.TrimSpace(action.Reason)
	if reason == "" {
		reason = "confirmation required"
	}
	_, _ = fmt.Fprintf(h.out, "\nConfirmation required: %s [%s]\n", action.Skill, action.Risk)
	if action.Summary != "" {
		_, _ = fmt.Fprintf(h.out, "  %s\n", action.Summary)
	}
	_, _ = fmt.Fprintf(h.out, "Reason: %s\n", reason)
	critical := action.Risk >= skills.RiskCritical
	if critical {
		_, _ = fmt.Fprint(h.out, "Type 'yes' to allow: ")
	} else {
		_, _ = fmt.Fprint(h.out, approvalPrompt)
	}

	h.start.Do(func() { go h.readLines() })

	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	select {
	case <-ctx.Done():
		return normalizeApprovalDecision(Decision{}, "approval cancelled")
	case line, ok := <-h.lines:
		if !ok {
			return normalizeApprovalDecision(Decision{}, "approval input closed")
		}
		answer := strings.ToLower(strings.TrimSpace(line))
		if critical && answer == "yes" || !critical && strings.HasPrefix(answer, "y") {
			return Decision{Status: DecisionApproved, Reason: "approved by operator"}
		}
		return Decision{Status: DecisionDeclined, Reason: "declined by operator"}
	}
}

// readLines is the only reader of h.in. It closes h.lines at end of input.
func (h *ConsoleApprovalHook) readLines() {
	defer close(h.lines)
	for {
		line, err := h.in.ReadString('\n')
		if line != "" {
			h.lines <- line
		}
		if err != nil {
			return
		}
	}
}

// discardStale drops answers typed while no prompt was waiting, such as a
// reply to a prompt that already timed out.
func (h *ConsoleApprovalHook) discardStale() {
	for {
		select {
		case _, ok := <-h.lines:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

func normalizeApprovalDecision(decision Decision, fallbackReason string) Decision {
	switch decision.Status {
	case DecisionApproved, DecisionDeclined:
		return decision
	case DecisionAutoAllow:
		decision.Status = DecisionApproved
		return decision
	case DecisionDeny:
		decision.Status = DecisionDeclined
		return decision
	}
	if decision.Reason == "" {
		decision.Reason = fallbackReason
	}
	decision.Status = DecisionDeclined
	return decision
}
