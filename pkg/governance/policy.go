// Copyright 2026 © The Webrana Authors
// SPDX-License-Identifier: Apache-2.0

// Package governance decides whether an already sanitized, permitted and
// rate-limited tool call may run without asking, must be confirmed by the
// operator, or is refused outright.
package governance

import (
	"context"

	"github.com/webrana/webrana/pkg/config"
	"github.com/webrana/webrana/pkg/skills"
)

// Action describes a tool call awaiting a confirmation decision.
type Action struct {
	Skill  string
	Class  skills.OperationClass
	Source skills.Source
	Risk   skills.Risk
	// Blocked is set when the call matched a hard-blocked command pattern.
	Blocked bool
	// Reason explains the risk rating.
	Reason string
	// Summary is a redacted, human-readable rendering of the arguments.
	Summary string
}

// DecisionStatus captures the policy outcome.
type DecisionStatus string

const (
	DecisionAutoAllow DecisionStatus = "auto_allow"
	DecisionPrompt    DecisionStatus = "prompt"
	DecisionDeny      DecisionStatus = "deny"

	// Outcomes of a prompt.
	DecisionApproved DecisionStatus = "approved"
	DecisionDeclined DecisionStatus = "declined"
)

// Decision captures the outcome of a policy evaluation or a prompt.
type Decision struct {
	Status DecisionStatus
	Reason string
	RuleID string
}

// IsAllowed returns true when the call may execute.
func (d Decision) IsAllowed() bool {
	return d.Status == DecisionAutoAllow || d.Status == DecisionApproved
}

// IsPending returns true when the operator must be asked.
func (d Decision) IsPending() bool {
	return d.Status == DecisionPrompt
}

// IsDenied returns true when the call must not execute.
func (d Decision) IsDenied() bool {
	return d.Status == DecisionDeny || d.Status == DecisionDeclined
}

// PolicyEngine evaluates actions.
type PolicyEngine interface {
	Evaluate(ctx context.Context, action Action) Decision
}

// ApprovalHook asks a human. A nil hook means no interactive channel.
type ApprovalHook interface {
	Request(ctx context.Context, action Action) Decision
}

// ConfirmationPolicy maps risk to a decision:
//
//	Low      auto-allow
//	Medium   auto-allow, or prompt when ConfirmMedium is set outside auto mode
//	High     prompt, or auto-allow in auto mode
//	Critical prompt, even in auto mode
//
// Blocked commands are denied without a prompt at any risk.
type ConfirmationPolicy struct {
	AutoMode      bool
	ConfirmMedium bool
}

// NewConfirmationPolicy builds the policy from the safety section.
func NewConfirmationPolicy(cfg config.SafetyConfig) *ConfirmationPolicy {
	return &ConfirmationPolicy{AutoMode: cfg.AutoMode, ConfirmMedium: cfg.ConfirmMedium}
}

// Evaluate implements PolicyEngine.
func (p *ConfirmationPolicy) Evaluate(_ context.Context, action Action) Decision {
	if action.Blocked {
		return Decision{Status: DecisionDeny, Reason: action.Reason, RuleID: "blocked-command"}
	}
	switch action.Risk {
	case skills.RiskLow:
		return Decision{Status: DecisionAutoAllow, RuleID: "risk-low"}
	case skills.RiskMedium:
		if p.ConfirmMedium && !p.AutoMode {
			return Decision{Status: DecisionPrompt, Reason: "medium risk requires confirmation", RuleID: "confirm-medium"}
		}
		return Decision{Status: DecisionAutoAllow, RuleID: "risk-medium"}
	case skills.RiskHigh:
		if p.AutoMode {
			return Decision{Status: DecisionAutoAllow, RuleID: "auto-mode"}
		}
		return Decision{Status: DecisionPrompt, Reason: "high risk requires confirmation", RuleID: "risk-high"}
	default:
		return Decision{Status: DecisionPrompt, Reason: "critical risk always requires confirmation", RuleID: "risk-critical"}
	}
}

// Resolve evaluates the policy and, when a prompt is required, asks the
// hook. Without a hook a pending decision becomes a deny.
func Resolve(ctx context.Context, engine PolicyEngine, hook ApprovalHook, action Action) Decision {
	decision := engine.Evaluate(ctx, action)
	if !decision.IsPending() {
		return decision
	}
	if hook == nil {
		reason := "confirmation required but no interactive channel"
		return Decision{Status: DecisionDeny, Reason: reason, RuleID: decision.RuleID}
	}
	answer := normalizeApprovalDecision(hook.Request(ctx, action), "approval decision not set")
	answer.RuleID = decision.RuleID
	return answer
}
