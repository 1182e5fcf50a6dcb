package llm

import (
	"context"
	"errors"
	"sync"
)

// ScriptedMockProvider streams a pre-defined sequence of responses.
// Useful for testing multi-turn tool loops.
type ScriptedMockProvider struct {
	mu        sync.Mutex
	Responses []ChatResponse
	Err       error
	// CallCount tracks how many times ChatStream has been called
	CallCount int
	// Requests captures every request in order.
	Requests []ChatRequest
}

// NewScriptedMockProvider creates a provider that replies with the given
// plain-text responses in order.
func NewScriptedMockProvider(responses ...string) *ScriptedMockProvider {
	s := &ScriptedMockProvider{}
	for _, r := range responses {
		s.Responses = append(s.Responses, ChatResponse{Content: r})
	}
	return s
}

// ChatStream pops the next scripted response or returns the configured error.
func (s *ScriptedMockProvider) ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.CallCount++
	s.Requests = append(s.Requests, cloneRequest(req))

	if s.Err != nil {
		return nil, s.Err
	}
	if len(s.Responses) == 0 {
		return nil, errors.New("scripted mock: no more responses available")
	}

	next := s.Responses[0]
	s.Responses = s.Responses[1:]
	return StreamResponse(next), nil
}

// AddResponse appends a response to the queue.
func (s *ScriptedMockProvider) AddResponse(resp ChatResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Responses = append(s.Responses, resp)
}

// Remaining returns how many scripted responses are left.
func (s *ScriptedMockProvider) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Responses)
}

func cloneRequest(req ChatRequest) ChatRequest {
	req.Messages = append([]Message(nil), req.Messages...)
	req.Tools = append([]Tool(nil), req.Tools...)
	return req
}
