// Copyright 2026 © The Webrana Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry wires structured logging, tracing and metrics for the
// agent runtime.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Span names.
const (
	SpanRun       = "agent.run"
	SpanModelTurn = "agent.model_turn"
	SpanToolCall  = "agent.tool_call"
	SpanPlugin    = "plugin.invoke"
)

// Attribute keys. Model attributes follow the gen_ai conventions.
const (
	AttrRunID          = "webrana.run.id"
	AttrRunIteration   = "webrana.run.iteration"
	AttrRunMaxIter     = "webrana.run.max_iterations"
	AttrRunStatus      = "webrana.run.status"
	AttrRunInteractive = "webrana.run.interactive"

	AttrToolName       = "webrana.tool.name"
	AttrToolCallID     = "webrana.tool.call_id"
	AttrToolSource     = "webrana.tool.source" // "builtin" or "plugin"
	AttrToolSuccess    = "webrana.tool.success"
	AttrToolDurationMs = "webrana.tool.duration_ms"

	AttrRisk           = "webrana.safety.risk"
	AttrDecision       = "webrana.safety.decision"
	AttrReasonClass    = "webrana.safety.reason_class"
	AttrOperationClass = "webrana.ratelimit.class"

	AttrPluginID      = "webrana.plugin.id"
	AttrPluginVersion = "webrana.plugin.version"
	AttrPluginExport  = "webrana.plugin.export"

	AttrLLMModel        = "gen_ai.request.model"
	AttrLLMProvider     = "gen_ai.system"
	AttrLLMMessages     = "gen_ai.request.messages"
	AttrLLMTokensInput  = "gen_ai.usage.input_tokens"
	AttrLLMTokensOutput = "gen_ai.usage.output_tokens"
	AttrLLMToolCalls    = "gen_ai.tool_calls"
	AttrLLMAttempt      = "gen_ai.request.attempt"

	AttrErrorCode = "error.code"
)

// RunAttributes returns attributes for the agent.run span.
func RunAttributes(runID string, maxIter int, interactive bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrRunID, runID),
		attribute.Int(AttrRunMaxIter, maxIter),
		attribute.Bool(AttrRunInteractive, interactive),
	}
}

// ToolCallAttributes returns attributes for a tool call span.
func ToolCallAttributes(name, callID, source string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrToolName, name),
		attribute.String(AttrToolCallID, callID),
	}
	if source != "" {
		attrs = append(attrs, attribute.String(AttrToolSource, source))
	}
	return attrs
}

// DecisionAttributes describes the safety gate outcome for a tool call.
func DecisionAttributes(risk, decision, reasonClass string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrRisk, risk),
		attribute.String(AttrDecision, decision),
	}
	if reasonClass != "" {
		attrs = append(attrs, attribute.String(AttrReasonClass, reasonClass))
	}
	return attrs
}

// LLMAttributes returns attributes for a model turn span.
func LLMAttributes(model, provider string, msgCount, attempt int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrLLMModel, model),
		attribute.Int(AttrLLMMessages, msgCount),
	}
	if provider != "" {
		attrs = append(attrs, attribute.String(AttrLLMProvider, provider))
	}
	if attempt > 1 {
		attrs = append(attrs, attribute.Int(AttrLLMAttempt, attempt))
	}
	return attrs
}

// LLMUsageAttributes returns token usage attributes.
func LLMUsageAttributes(inputTokens, outputTokens, toolCalls int) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if inputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensInput, inputTokens))
	}
	if outputTokens > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMTokensOutput, outputTokens))
	}
	if toolCalls > 0 {
		attrs = append(attrs, attribute.Int(AttrLLMToolCalls, toolCalls))
	}
	return attrs
}

// PluginAttributes returns attributes for a plugin.invoke span.
func PluginAttributes(id, version, export string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String(AttrPluginID, id)}
	if version != "" {
		attrs = append(attrs, attribute.String(AttrPluginVersion, version))
	}
	if export != "" {
		attrs = append(attrs, attribute.String(AttrPluginExport, export))
	}
	return attrs
}
