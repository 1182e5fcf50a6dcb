// Copyright 2026 © The Webrana Authors
// SPDX-License-Identifier: Apache-2.0

// Package anthropic adapts the Anthropic Messages streaming API to the
// llm.StreamingProvider contract.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/webrana/webrana/pkg/llm"
)

// Provider implements llm.StreamingProvider for Anthropic Claude.
type Provider struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	reqOpts   []option.RequestOption
}

// Option configures the Provider.
type Option func(*Provider)

// WithModel sets the default model.
func WithModel(model string) Option {
	return func(p *Provider) {
		if strings.TrimSpace(model) != "" {
			p.model = strings.TrimSpace(model)
		}
	}
}

// WithMaxTokens sets the maximum tokens for responses.
func WithMaxTokens(tokens int64) Option {
	return func(p *Provider) {
		if tokens > 0 {
			p.maxTokens = tokens
		}
	}
}

// WithBaseURL sets a custom base URL.
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		if strings.TrimSpace(url) != "" {
			p.reqOpts = append(p.reqOpts, option.WithBaseURL(strings.TrimSpace(url)))
		}
	}
}

// WithAPIKey sets the API key.
func WithAPIKey(apiKey string) Option {
	return func(p *Provider) {
		if strings.TrimSpace(apiKey) != "" {
			p.reqOpts = append(p.reqOpts, option.WithAPIKey(strings.TrimSpace(apiKey)))
		}
	}
}

// New creates a new Anthropic provider. Without WithAPIKey the SDK reads
// ANTHROPIC_API_KEY. SDK-level retries are disabled; the orchestrator owns
// retry policy.
func New(opts ...Option) *Provider {
	p := &Provider{
		model:     "claude-sonnet-4-20250514",
		maxTokens: 4096,
	}
	for _, opt := range opts {
		opt(p)
	}
	reqOpts := append([]option.RequestOption{option.WithMaxRetries(0)}, p.reqOpts...)
	p.client = anthropic.NewClient(reqOpts...)
	return p
}

// Chat implements llm.Provider.
func (p *Provider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	return llm.ChatViaStream(ctx, p, req)
}

// ChatStream implements llm.StreamingProvider.
func (p *Provider) ChatStream(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	params := p.buildParams(req)
	stream := p.client.Messages.NewStreaming(ctx, params)

	chunks := make(chan llm.StreamChunk, 64)
	go func() {
		defer close(chunks)
		defer stream.Close()

		send := func(c llm.StreamChunk) bool {
			select {
			case chunks <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		type partialCall struct {
			id   string
			name string
			args strings.Builder
		}
		msg := anthropic.Message{}
		partials := map[int64]*partialCall{}

		for stream.Next() {
			event := stream.Current()
			if err := msg.Accumulate(event); err != nil {
				send(llm.StreamChunk{Error: fmt.Errorf("anthropic: accumulate: %w", err)})
				return
			}
			switch variant := event.AsAny().(type) {
			case anthropic.ContentBlockStartEvent:
				if variant.ContentBlock.Type != "tool_use" {
					continue
				}
				partials[variant.Index] = &partialCall{id: variant.ContentBlock.ID, name: variant.ContentBlock.Name}
			case anthropic.ContentBlockDeltaEvent:
				switch delta := variant.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					if delta.Text != "" && !send(llm.StreamChunk{Content: delta.Text}) {
						return
					}
				case anthropic.InputJSONDelta:
					if pc := partials[variant.Index]; pc != nil {
						pc.args.WriteString(delta.PartialJSON)
					}
				}
			}
		}
		if err := stream.Err(); err != nil {
			send(llm.StreamChunk{Error: err})
			return
		}

		indices := make([]int64, 0, len(partials))
		for idx := range partials {
			indices = append(indices, idx)
		}
		sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

		calls := make([]llm.ToolCall, 0, len(indices))
		for _, idx := range indices {
			pc := partials[idx]
			raw := strings.TrimSpace(pc.args.String())
			if raw == "" && int(idx) < len(msg.Content) {
				if tu, ok := msg.Content[idx].AsAny().(anthropic.ToolUseBlock); ok && len(tu.Input) > 0 {
					raw = string(tu.Input)
				}
			}
			calls = append(calls, llm.ToolCall{
				ID:       pc.id,
				Type:     llm.ToolTypeFunction,
				Function: llm.FunctionCall{Name: pc.name, Arguments: raw},
			})
		}
		send(llm.StreamChunk{
			Done:      true,
			ToolCalls: calls,
			Usage: &llm.Usage{
				PromptTokens:     int(msg.Usage.InputTokens),
				CompletionTokens: int(msg.Usage.OutputTokens),
				TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
			},
		})
	}()
	return chunks, nil
}

func (p *Provider) buildParams(req llm.ChatRequest) anthropic.MessageNewParams {
	model := req.Model
	if model == "" {
		model = p.model
	}
	maxTokens := p.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages:  convertMessages(req.Messages),
	}
	var system []string
	for _, msg := range req.Messages {
		if msg.Role == llm.RoleSystem && strings.TrimSpace(msg.Content) != "" {
			system = append(system, msg.Content)
		}
	}
	if len(system) > 0 {
		params.System = []anthropic.TextBlockParam{{Text: strings.Join(system, "\n\n")}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if len(req.Tools) > 0 {
		tools := make([]anthropic.ToolUnionParam, 0, len(req.Tools))
		for _, tool := range req.Tools {
			tools = append(tools, convertTool(tool))
		}
		params.Tools = tools
	}
	return params
}

// convertMessages maps the conversation onto Anthropic turns. Consecutive
// tool results are folded into one user turn so every tool_use block of
// the preceding assistant turn is answered together.
func convertMessages(msgs []llm.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	var pendingResults []anthropic.ContentBlockParamUnion
	flush := func() {
		if len(pendingResults) > 0 {
			out = append(out, anthropic.NewUserMessage(pendingResults...))
			pendingResults = nil
		}
	}
	for _, msg := range msgs {
		switch msg.Role {
		case llm.RoleSystem:
			continue
		case llm.RoleTool:
			pendingResults = append(pendingResults, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false))
			continue
		}
		flush()
		out = append(out, convertMessage(msg))
	}
	flush()
	if len(out) == 0 {
		out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock("Continue.")))
	}
	return out
}

func convertMessage(msg llm.Message) anthropic.MessageParam {
	switch msg.Role {
	case llm.RoleAssistant:
		if len(msg.ToolCalls) == 0 {
			return anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content))
		}
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.ToolCalls)+1)
		if msg.Content != "" {
			blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
		}
		for _, tc := range msg.ToolCalls {
			input := map[string]any{}
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &input)
			blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Function.Name))
		}
		return anthropic.NewAssistantMessage(blocks...)
	case llm.RoleTool:
		return anthropic.NewUserMessage(anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false))
	default:
		return anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content))
	}
}

func convertTool(tool llm.Tool) anthropic.ToolUnionParam {
	schema := map[string]any{}
	if raw, err := json.Marshal(tool.Function.Parameters); err == nil {
		_ = json.Unmarshal(raw, &schema)
	}
	var required []string
	if list, ok := schema["required"].([]any); ok {
		for _, item := range list {
			if s, ok := item.(string); ok {
				required = append(required, s)
			}
		}
	}
	param := anthropic.ToolParam{
		Name:        tool.Function.Name,
		Description: anthropic.String(tool.Function.Description),
		InputSchema: anthropic.ToolInputSchemaParam{Properties: schema["properties"], Required: required},
	}
	return anthropic.ToolUnionParam{OfTool: &param}
}

var (
	_ llm.StreamingProvider = (*Provider)(nil)
	_ llm.Provider          = (*Provider)(nil)
)
