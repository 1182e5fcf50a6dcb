package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OllamaProvider streams chat completions from a local Ollama server.
type OllamaProvider struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllama creates a new OllamaProvider.
func NewOllama(baseURL, model string) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3"
	}
	return &OllamaProvider{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: 300 * time.Second},
	}
}

// Ollama returns tool-call arguments as objects, not JSON strings.
type ollamaToolCall struct {
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

type ollamaRequest struct {
	Model    string                 `json:"model"`
	Messages []ollamaMessage        `json:"messages"`
	Stream   bool                   `json:"stream"`
	Tools    []Tool                 `json:"tools,omitempty"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

type ollamaStreamEvent struct {
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	Error           string        `json:"error,omitempty"`
	PromptEvalCount int           `json:"prompt_eval_count,omitempty"`
	EvalCount       int           `json:"eval_count,omitempty"`
}

func toOllamaMessages(msgs []Message) []ollamaMessage {
	out := make([]ollamaMessage, 0, len(msgs))
	for _, m := range msgs {
		om := ollamaMessage{Role: string(m.Role), Content: m.Content}
		for _, tc := range m.ToolCalls {
			var call ollamaToolCall
			call.Function.Name = tc.Function.Name
			call.Function.Arguments = json.RawMessage(tc.Function.Arguments)
			if len(call.Function.Arguments) == 0 {
				call.Function.Arguments = json.RawMessage("{}")
			}
			om.ToolCalls = append(om.ToolCalls, call)
		}
		out = append(out, om)
	}
	return out
}

// Chat implements Provider.
func (p *OllamaProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return ChatViaStream(ctx, p, req)
}

// ChatStream implements StreamingProvider over Ollama's NDJSON stream.
func (p *OllamaProvider) ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}
	oReq := ollamaRequest{
		Model:    model,
		Messages: toOllamaMessages(req.Messages),
		Stream:   true,
		Tools:    req.Tools,
	}
	if req.Temperature != 0 {
		oReq.Options = map[string]interface{}{"temperature": req.Temperature}
	}

	body, err := json.Marshal(oReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ollama request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, ClassifyError(fmt.Errorf("ollama api call failed: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, ClassifyError(fmt.Errorf("ollama api returned status %d: %s", resp.StatusCode, string(respBody)))
	}

	chunks := make(chan StreamChunk, 64)
	go func() {
		defer close(chunks)
		defer resp.Body.Close()

		reader := bufio.NewReader(resp.Body)
		var calls []ToolCall
		for {
			line, err := reader.ReadBytes('\n')
			if len(bytes.TrimSpace(line)) > 0 {
				var event ollamaStreamEvent
				if jerr := json.Unmarshal(line, &event); jerr != nil {
					sendChunk(ctx, chunks, StreamChunk{Error: fmt.Errorf("ollama: malformed stream line: %w", jerr)})
					return
				}
				if event.Error != "" {
					sendChunk(ctx, chunks, StreamChunk{Error: fmt.Errorf("ollama: %s", event.Error)})
					return
				}
				for _, tc := range event.Message.ToolCalls {
					calls = append(calls, ToolCall{
						Type:     ToolTypeFunction,
						Function: FunctionCall{Name: tc.Function.Name, Arguments: string(tc.Function.Arguments)},
					})
				}
				if event.Message.Content != "" {
					if !sendChunk(ctx, chunks, StreamChunk{Content: event.Message.Content}) {
						return
					}
				}
				if event.Done {
					sendChunk(ctx, chunks, StreamChunk{
						Done:      true,
						ToolCalls: calls,
						Usage: &Usage{
							PromptTokens:     event.PromptEvalCount,
							CompletionTokens: event.EvalCount,
							TotalTokens:      event.PromptEvalCount + event.EvalCount,
						},
					})
					return
				}
			}
			if err != nil {
				if err != io.EOF {
					sendChunk(ctx, chunks, StreamChunk{Error: err})
				}
				return
			}
		}
	}()

	return chunks, nil
}

// sendChunk delivers a chunk unless the consumer has gone away.
func sendChunk(ctx context.Context, ch chan<- StreamChunk, chunk StreamChunk) bool {
	select {
	case ch <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

var (
	_ StreamingProvider = (*OllamaProvider)(nil)
	_ Provider          = (*OllamaProvider)(nil)
)
