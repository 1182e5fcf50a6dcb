// Copyright 2026 © The Webrana Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net"
	"strings"

	"github.com/google/uuid"

	"github.com/webrana/webrana/pkg/errors"
)

// Collect drains a stream into a ChatResponse. onText, if non-nil, sees
// every text delta as it arrives. A stream that closes without an end
// marker, or that proposes a tool call without a name or with arguments
// that are not a JSON object, is a protocol error.
func Collect(ctx context.Context, stream <-chan StreamChunk, onText func(string)) (*ChatResponse, error) {
	var (
		text strings.Builder
		resp ChatResponse
		done bool
	)
	for !done {
		select {
		case <-ctx.Done():
			return nil, errors.New(errors.CodeCancelled, "stream cancelled", ctx.Err())
		case chunk, ok := <-stream:
			if !ok {
				return nil, errors.New(errors.CodeProviderProtocol, "stream closed without end marker", nil)
			}
			if chunk.Error != nil {
				return nil, ClassifyError(chunk.Error)
			}
			if chunk.Content != "" {
				text.WriteString(chunk.Content)
				if onText != nil {
					onText(chunk.Content)
				}
			}
			resp.ToolCalls = append(resp.ToolCalls, chunk.ToolCalls...)
			if chunk.Usage != nil {
				resp.Usage = *chunk.Usage
			}
			done = chunk.Done
		}
	}
	resp.Content = text.String()

	for i := range resp.ToolCalls {
		tc := &resp.ToolCalls[i]
		if strings.TrimSpace(tc.Function.Name) == "" {
			return nil, errors.New(errors.CodeProviderProtocol, "tool call without a name", nil).
				WithContext("index", i)
		}
		args := strings.TrimSpace(tc.Function.Arguments)
		if args == "" {
			args = "{}"
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(args), &obj); err != nil {
			return nil, errors.New(errors.CodeProviderProtocol, "tool call arguments are not a JSON object", err).
				WithContext("tool", tc.Function.Name)
		}
		tc.Function.Arguments = args
		if tc.Type == "" {
			tc.Type = ToolTypeFunction
		}
		if strings.TrimSpace(tc.ID) == "" {
			tc.ID = "call_" + uuid.NewString()
		}
	}
	return &resp, nil
}

// ChatViaStream adapts a streaming provider to the Chat contract.
func ChatViaStream(ctx context.Context, p StreamingProvider, req ChatRequest) (*ChatResponse, error) {
	stream, err := p.ChatStream(ctx, req)
	if err != nil {
		return nil, ClassifyError(err)
	}
	return Collect(ctx, stream, nil)
}

var retryableMarkers = []string{
	"timeout",
	"rate limit",
	"429",
	"500",
	"502",
	"503",
	"504",
	"529",
	"connection refused",
	"connection reset",
	"temporarily unavailable",
	"overloaded",
	"try again",
	"eof",
}

var permanentMarkers = []string{
	"invalid api key",
	"authentication",
	"unauthorized",
	"401",
	"403",
	"invalid request",
	"400",
}

// ClassifyError maps a raw provider failure onto the taxonomy. Typed errors
// pass through unchanged. Network and overload failures are retryable
// transport errors; authentication and request errors are transport errors
// that must not be retried.
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}
	var we *errors.WebranaError
	if stderrors.As(err, &we) {
		return we
	}
	if stderrors.Is(err, context.Canceled) {
		return errors.New(errors.CodeCancelled, "provider call cancelled", err)
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.New(errors.CodeProviderTransport, "provider call timed out", err)
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return errors.New(errors.CodeProviderTransport, "provider network failure", err)
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range permanentMarkers {
		if strings.Contains(msg, marker) {
			return errors.New(errors.CodeProviderTransport, "provider rejected the request", err).
				WithRecoverable(false)
		}
	}
	for _, marker := range retryableMarkers {
		if strings.Contains(msg, marker) {
			return errors.New(errors.CodeProviderTransport, "provider transport failure", err)
		}
	}
	return errors.New(errors.CodeProviderTransport, "provider call failed", err).
		WithRecoverable(false)
}
