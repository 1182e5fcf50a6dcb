// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/webrana/webrana/pkg/errors"
)

// Metrics holds the runtime instruments. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	toolCalls         metric.Int64Counter
	rateLimitRejected metric.Int64Counter
	providerRetries   metric.Int64Counter
	runIterations     metric.Int64Histogram
	errorCounter      metric.Int64Counter
	pluginInvocations metric.Int64Counter
}

// NewMetrics creates the instruments from the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(InstrumentationName)
	m := &Metrics{}
	var err error

	if m.toolCalls, err = meter.Int64Counter(
		"webrana.tool_calls",
		metric.WithDescription("Tool calls by safety decision and risk level"),
	); err != nil {
		return nil, err
	}
	if m.rateLimitRejected, err = meter.Int64Counter(
		"webrana.ratelimit.rejected",
		metric.WithDescription("Rate limit rejections by operation class"),
	); err != nil {
		return nil, err
	}
	if m.providerRetries, err = meter.Int64Counter(
		"webrana.provider.retries",
		metric.WithDescription("Model provider calls retried after a transport failure"),
	); err != nil {
		return nil, err
	}
	if m.runIterations, err = meter.Int64Histogram(
		"webrana.run.iterations",
		metric.WithDescription("Model turns used per run"),
	); err != nil {
		return nil, err
	}
	if m.errorCounter, err = meter.Int64Counter(
		"webrana.errors.total",
		metric.WithDescription("Errors by code and component"),
	); err != nil {
		return nil, err
	}
	if m.pluginInvocations, err = meter.Int64Counter(
		"webrana.plugin.invocations",
		metric.WithDescription("Plugin skill invocations by outcome"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordToolCall counts one tool call by decision and risk.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, decision, risk string) {
	if m == nil {
		return
	}
	m.toolCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrToolName, tool),
		attribute.String(AttrDecision, decision),
		attribute.String(AttrRisk, risk),
	))
}

// RecordRateLimited counts a rejected acquire.
func (m *Metrics) RecordRateLimited(ctx context.Context, class string) {
	if m == nil {
		return
	}
	m.rateLimitRejected.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrOperationClass, class)))
}

// RecordProviderRetry counts a provider retry.
func (m *Metrics) RecordProviderRetry(ctx context.Context, provider string) {
	if m == nil {
		return
	}
	m.providerRetries.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrLLMProvider, provider)))
}

// RecordRun records the iterations a run consumed and how it ended.
func (m *Metrics) RecordRun(ctx context.Context, iterations int, status string) {
	if m == nil {
		return
	}
	m.runIterations.Record(ctx, int64(iterations), metric.WithAttributes(attribute.String(AttrRunStatus, status)))
}

// RecordPluginInvocation counts a plugin call.
func (m *Metrics) RecordPluginInvocation(ctx context.Context, pluginID string, ok bool) {
	if m == nil {
		return
	}
	m.pluginInvocations.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrPluginID, pluginID),
		attribute.Bool(AttrToolSuccess, ok),
	))
}

// RecordError increments the error counter for the error's code.
func (m *Metrics) RecordError(ctx context.Context, err error, component string) {
	if m == nil || err == nil {
		return
	}
	we := errors.AsWebranaError(err)
	m.errorCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrErrorCode, string(we.Code)),
		attribute.String("component", component),
		attribute.String("recoverable", we.RecoverableString()),
	))
}
