// Copyright 2026 © The Webrana Authors
// SPDX-License-Identifier: Apache-2.0

package testing

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/webrana/webrana/pkg/llm"
)

// ScenarioProvider is a scripted streaming provider. It replays queued
// responses in order and captures every request.
type ScenarioProvider struct {
	mu           sync.Mutex
	responses    []ScriptedResponse
	currentIndex int
	requests     []llm.ChatRequest
	defaultError error
	onChat       func(req llm.ChatRequest) (*llm.ChatResponse, error)
}

// ScriptedResponse defines a response for the scenario provider.
type ScriptedResponse struct {
	Content   string
	ToolCalls []llm.ToolCall
	// Error fails the call before a stream is opened.
	Error error
	// StreamError is delivered as the final chunk instead of an end marker.
	StreamError error
	Usage       llm.Usage
	// Condition allows conditional responses based on request
	Condition func(req llm.ChatRequest) bool
}

// NewScenarioProvider creates a new scenario provider.
func NewScenarioProvider() *ScenarioProvider {
	return &ScenarioProvider{}
}

// AddResponse queues a text response.
func (p *ScenarioProvider) AddResponse(content string) *ScenarioProvider {
	return p.AddScriptedResponse(ScriptedResponse{Content: content})
}

// AddToolCallResponse queues a response with tool calls.
func (p *ScenarioProvider) AddToolCallResponse(toolCalls ...llm.ToolCall) *ScenarioProvider {
	return p.AddScriptedResponse(ScriptedResponse{ToolCalls: toolCalls})
}

// AddErrorResponse queues an error response.
func (p *ScenarioProvider) AddErrorResponse(err error) *ScenarioProvider {
	return p.AddScriptedResponse(ScriptedResponse{Error: err})
}

// AddScriptedResponse adds a fully configured response.
func (p *ScenarioProvider) AddScriptedResponse(resp ScriptedResponse) *ScenarioProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responses = append(p.responses, resp)
	return p
}

// WithDefaultError sets the error to return when no responses are queued.
func (p *ScenarioProvider) WithDefaultError(err error) *ScenarioProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.defaultError = err
	return p
}

// WithChatFunc replaces the script with fn.
func (p *ScenarioProvider) WithChatFunc(fn func(req llm.ChatRequest) (*llm.ChatResponse, error)) *ScenarioProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onChat = fn
	return p
}

// ChatStream implements llm.StreamingProvider.
func (p *ScenarioProvider) ChatStream(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	req.Messages = append([]llm.Message(nil), req.Messages...)
	p.requests = append(p.requests, req)

	if p.onChat != nil {
		resp, err := p.onChat(req)
		if err != nil {
			return nil, err
		}
		return llm.StreamResponse(*resp), nil
	}

	if p.currentIndex >= len(p.responses) {
		if p.defaultError != nil {
			return nil, p.defaultError
		}
		return nil, fmt.Errorf("no more scripted responses (call %d)", p.currentIndex+1)
	}

	resp := p.responses[p.currentIndex]
	p.currentIndex++

	// Skip to the next response whose condition matches.
	for resp.Condition != nil && !resp.Condition(req) && p.currentIndex < len(p.responses) {
		resp = p.responses[p.currentIndex]
		p.currentIndex++
	}

	if resp.Error != nil {
		return nil, resp.Error
	}
	if resp.StreamError != nil {
		ch := make(chan llm.StreamChunk, 2)
		if resp.Content != "" {
			ch <- llm.StreamChunk{Content: resp.Content}
		}
		ch <- llm.StreamChunk{Error: resp.StreamError}
		close(ch)
		return ch, nil
	}
	return llm.StreamResponse(llm.ChatResponse{
		Content:   resp.Content,
		ToolCalls: resp.ToolCalls,
		Usage:     resp.Usage,
	}), nil
}

// Chat implements llm.Provider.
func (p *ScenarioProvider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	return llm.ChatViaStream(ctx, p, req)
}

// Requests returns all captured requests.
func (p *ScenarioProvider) Requests() []llm.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]llm.ChatRequest(nil), p.requests...)
}

// LastRequest returns the most recent request.
func (p *ScenarioProvider) LastRequest() *llm.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.requests) == 0 {
		return nil
	}
	req := p.requests[len(p.requests)-1]
	return &req
}

// CallCount returns the number of ChatStream calls made.
func (p *ScenarioProvider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// Remaining returns how many scripted responses are left.
func (p *ScenarioProvider) Remaining() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.responses) - p.currentIndex
}

// Reset rewinds the script and clears captured requests.
func (p *ScenarioProvider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.currentIndex = 0
	p.requests = p.requests[:0]
}

// ToolCallBuilder helps construct tool calls for testing.
type ToolCallBuilder struct {
	id   string
	name string
	args map[string]any
}

// NewToolCall creates a new tool call builder.
func NewToolCall(name string) *ToolCallBuilder {
	return &ToolCallBuilder{
		name: name,
		args: make(map[string]any),
	}
}

// WithID sets the tool call ID.
func (b *ToolCallBuilder) WithID(id string) *ToolCallBuilder {
	b.id = id
	return b
}

// WithArg adds an argument to the tool call.
func (b *ToolCallBuilder) WithArg(key string, value any) *ToolCallBuilder {
	b.args[key] = value
	return b
}

// WithArgs sets all arguments at once.
func (b *ToolCallBuilder) WithArgs(args map[string]any) *ToolCallBuilder {
	b.args = args
	return b
}

// Build creates the tool call.
func (b *ToolCallBuilder) Build() llm.ToolCall {
	argsJSON, _ := json.Marshal(b.args)
	return llm.ToolCall{
		ID:   b.id,
		Type: llm.ToolTypeFunction,
		Function: llm.FunctionCall{
			Name:      b.name,
			Arguments: string(argsJSON),
		},
	}
}

var (
	_ llm.StreamingProvider = (*ScenarioProvider)(nil)
	_ llm.Provider          = (*ScenarioProvider)(nil)
)
