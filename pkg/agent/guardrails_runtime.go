// Copyright 2026 © The Webrana Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/webrana/webrana/pkg/audit"
)

// checkInput audits secret-shaped values in user input. Input is never
// blocked; the session_start detail is already redacted by the logger.
func (a *Agent) checkInput(ctx context.Context, r *run, input string) {
	if a.guardrails == nil {
		return
	}
	result := a.guardrails.CheckInput(ctx, input)
	if result.Reason == "" {
		return
	}
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("webrana.guardrail.id", result.GuardrailID),
		attribute.Bool("webrana.guardrail.blocked", result.Blocked),
	)
	r.log.Warn("agent.guardrails.input_flagged",
		slog.String("guardrail", result.GuardrailID),
		slog.String("reason", result.Reason),
	)
	detail := map[string]any{
		"guardrail": result.GuardrailID,
		"reason":    result.Reason,
		"source":    "user_input",
	}
	for k, v := range result.Metadata {
		detail[k] = v
	}
	a.record(ctx, r, audit.Event{
		Actor:  "system",
		Action: audit.ActionSecretDetected,
		Detail: detail,
	})
}
