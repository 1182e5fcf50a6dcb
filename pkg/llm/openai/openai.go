// Copyright 2026 © The Webrana Authors
// SPDX-License-Identifier: Apache-2.0

// Package openai provides an OpenAI-compatible chat completions provider.
package openai

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/webrana/webrana/pkg/llm"
)

// Provider implements llm.StreamingProvider for the OpenAI API and
// compatible gateways.
type Provider struct {
	client  openai.Client
	model   string
	reqOpts []option.RequestOption
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

// WithBaseURL sets a custom base URL (for Azure OpenAI or proxies).
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

// New creates a new OpenAI provider.
// API key is read from OPENAI_API_KEY environment variable by default.
func New(opts ...Option) *Provider {
	p := &Provider{model: "gpt-5-mini"}
	for _, opt := range opts {
		opt(p)
	}
	reqOpts := append([]option.RequestOption{option.WithMaxRetries(0)}, p.reqOpts...)
	p.client = openai.NewClient(reqOpts...)
	return p
}

// Chat implements llm.Provider.
func (p *Provider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	return llm.ChatViaStream(ctx, p, req)
}

// ChatStream implements llm.StreamingProvider. The Done chunk is emitted
// once the stream is drained so the trailing usage event is included.
func (p *Provider) ChatStream(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	stream := p.client.Chat.Completions.NewStreaming(ctx, p.buildParams(req))

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

		toolCalls := make(map[int64]*llm.ToolCall)
		finished := false
		var usage *llm.Usage

		for stream.Next() {
			event := stream.Current()
			if event.Usage.TotalTokens > 0 {
				usage = &llm.Usage{
					PromptTokens:     int(event.Usage.PromptTokens),
					CompletionTokens: int(event.Usage.CompletionTokens),
					TotalTokens:      int(event.Usage.TotalTokens),
				}
			}
			if len(event.Choices) == 0 {
				continue
			}
			choice := event.Choices[0]
			for _, tc := range choice.Delta.ToolCalls {
				call, ok := toolCalls[tc.Index]
				if !ok {
					call = &llm.ToolCall{Type: llm.ToolTypeFunction}
					toolCalls[tc.Index] = call
				}
				if tc.ID != "" {
					call.ID = tc.ID
				}
				if tc.Function.Name != "" {
					call.Function.Name = tc.Function.Name
				}
				call.Function.Arguments += tc.Function.Arguments
			}
			if choice.Delta.Content != "" && !send(llm.StreamChunk{Content: choice.Delta.Content}) {
				return
			}
			if choice.FinishReason != "" {
				finished = true
			}
		}
		if err := stream.Err(); err != nil {
			send(llm.StreamChunk{Error: err})
			return
		}
		if !finished {
			// Collect reports the missing end marker as a protocol error.
			return
		}

		indices := make([]int64, 0, len(toolCalls))
		for idx := range toolCalls {
			indices = append(indices, idx)
		}
		sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
		calls := make([]llm.ToolCall, 0, len(indices))
		for _, idx := range indices {
			calls = append(calls, *toolCalls[idx])
		}
		send(llm.StreamChunk{Done: true, ToolCalls: calls, Usage: usage})
	}()

	return chunks, nil
}

func (p *Provider) buildParams(req llm.ChatRequest) openai.ChatCompletionNewParams {
	model := req.Model
	if model == "" {
		model = p.model
	}
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, msg := range req.Messages {
		messages = append(messages, convertMessage(msg))
	}
	params := openai.ChatCompletionNewParams{
		Model:    model,
		Messages: messages,
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if len(req.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolParam, 0, len(req.Tools))
		for _, tool := range req.Tools {
			tools = append(tools, convertTool(tool))
		}
		params.Tools = tools
	}
	return params
}

func convertMessage(msg llm.Message) openai.ChatCompletionMessageParamUnion {
	switch msg.Role {
	case llm.RoleSystem:
		return openai.SystemMessage(msg.Content)
	case llm.RoleAssistant:
		if len(msg.ToolCalls) == 0 {
			return openai.AssistantMessage(msg.Content)
		}
		toolCalls := make([]openai.ChatCompletionMessageToolCallParam, 0, len(msg.ToolCalls))
		for _, tc := range msg.ToolCalls {
			toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
				ID:   tc.ID,
				Type: "function",
				Function: openai.ChatCompletionMessageToolCallFunctionParam{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		assistantMsg := openai.ChatCompletionAssistantMessageParam{ToolCalls: toolCalls}
		if msg.Content != "" {
			assistantMsg.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
				OfString: param.NewOpt(msg.Content),
			}
		}
		return openai.ChatCompletionMessageParamUnion{OfAssistant: &assistantMsg}
	case llm.RoleTool:
		return openai.ToolMessage(msg.Content, msg.ToolCallID)
	default:
		return openai.UserMessage(msg.Content)
	}
}

func convertTool(tool llm.Tool) openai.ChatCompletionToolParam {
	var params openai.FunctionParameters
	if raw, err := json.Marshal(tool.Function.Parameters); err == nil {
		_ = json.Unmarshal(raw, &params)
	}
	return openai.ChatCompletionToolParam{
		Type: "function",
		Function: openai.FunctionDefinitionParam{
			Name:        tool.Function.Name,
			Description: openai.String(tool.Function.Description),
			Parameters:  params,
		},
	}
}

var (
	_ llm.Provider          = (*Provider)(nil)
	_ llm.StreamingProvider = (*Provider)(nil)
)
