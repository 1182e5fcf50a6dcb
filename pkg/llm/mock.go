package llm

import (
	"context"
	"fmt"
)

// MockProvider is a testing implementation of StreamingProvider that
// streams a fixed reply word by word.
type MockProvider struct {
	Response   string
	Err        error
	StreamFunc func(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error)
}

// ChatStream implements StreamingProvider.
func (m *MockProvider) ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	if m.StreamFunc != nil {
		return m.StreamFunc(ctx, req)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return StreamResponse(ChatResponse{
		Content: m.Response,
		Usage:   Usage{PromptTokens: 10, CompletionTokens: 10, TotalTokens: 20},
	}), nil
}

// Chat implements Provider.
func (m *MockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return ChatViaStream(ctx, m, req)
}

// FailingMockProvider always fails before a stream is opened.
type FailingMockProvider struct {
	Err error
}

// ChatStream implements StreamingProvider.
func (f *FailingMockProvider) ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	if f.Err == nil {
		return nil, fmt.Errorf("mock error")
	}
	return nil, f.Err
}

// StreamResponse replays a complete response as a closed stream: one chunk
// per text fragment, then a Done chunk carrying the tool calls.
func StreamResponse(resp ChatResponse) <-chan StreamChunk {
	parts := splitForStream(resp.Content)
	ch := make(chan StreamChunk, len(parts)+1)
	for _, p := range parts {
		ch <- StreamChunk{Content: p}
	}
	usage := resp.Usage
	ch <- StreamChunk{Done: true, ToolCalls: resp.ToolCalls, Usage: &usage}
	close(ch)
	return ch
}

func splitForStream(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i, r := range s {
		if r == ' ' && i > start {
			out = append(out, s[start:i])
			start = i
		}
	}
	return append(out, s[start:])
}

var (
	_ StreamingProvider = (*MockProvider)(nil)
	_ Provider          = (*MockProvider)(nil)
)
