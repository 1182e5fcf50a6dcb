package openai

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	werrors "github.com/webrana/webrana/pkg/errors"
	"github.com/webrana/webrana/pkg/llm"
)

func TestNewProvider(t *testing.T) {
	p := New(WithAPIKey("test-key"))
	if p.model != "gpt-5-mini" {
		t.Errorf("expected model gpt-5-mini, got %s", p.model)
	}
}

func TestWithModel(t *testing.T) {
	p := New(WithAPIKey("test-key"), WithModel("gpt-4-turbo"))
	if p.model != "gpt-4-turbo" {
		t.Errorf("expected model gpt-4-turbo, got %s", p.model)
	}
	p = New(WithAPIKey("test-key"), WithModel("  "))
	if p.model != "gpt-5-mini" {
		t.Errorf("expected blank model to be ignored, got %s", p.model)
	}
}

func TestConvertMessages(t *testing.T) {
	tests := []struct {
		name string
		msg  llm.Message
		want string
	}{
		{"system message", llm.Message{Role: llm.RoleSystem, Content: "You are helpful"}, "system"},
		{"user message", llm.Message{Role: llm.RoleUser, Content: "Hello"}, "user"},
		{"assistant message", llm.Message{Role: llm.RoleAssistant, Content: "Hi there"}, "assistant"},
		{"assistant tool calls", llm.Message{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{
			{ID: "call_1", Function: llm.FunctionCall{Name: "list_files", Arguments: "{}"}},
		}}, "assistant"},
		{"tool message", llm.Message{Role: llm.RoleTool, Content: "result", ToolCallID: "call_123"}, "tool"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := convertMessage(tt.msg)
			role := out.GetRole()
			if role == nil || *role != tt.want {
				t.Errorf("expected role %s, got %v", tt.want, role)
			}
		})
	}
}

func TestConvertTool(t *testing.T) {
	tool := llm.Tool{
		Type: llm.ToolTypeFunction,
		Function: llm.FunctionDef{
			Name:        "search_files",
			Description: "Search file contents",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"pattern": map[string]interface{}{"type": "string"},
				},
			},
		},
	}
	out := convertTool(tool)
	if out.Function.Name != "search_files" {
		t.Errorf("expected search_files, got %s", out.Function.Name)
	}
	if out.Function.Parameters["type"] != "object" {
		t.Errorf("expected object schema, got %v", out.Function.Parameters)
	}
}

func TestChatStreamAccumulatesToolCalls(t *testing.T) {
	events := []string{
		`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt","choices":[{"index":0,"delta":{"role":"assistant","content":"Reading"},"finish_reason":null}]}`,
		`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_a","type":"function","function":{"name":"read_file","arguments":"{\"path\""}}]},"finish_reason":null}]}`,
		`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":":\"go.mod\"}"}}]},"finish_reason":null}]}`,
		`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
		`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt","choices":[],"usage":{"prompt_tokens":4,"completion_tokens":6,"total_tokens":10}}`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, e := range events {
			fmt.Fprintf(w, "data: %s\n\n", e)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p := New(WithAPIKey("test-key"), WithBaseURL(srv.URL))
	resp, err := p.Chat(context.Background(), llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "read go.mod"}},
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Content != "Reading" {
		t.Errorf("unexpected content %q", resp.Content)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("expected one tool call, got %+v", resp.ToolCalls)
	}
	if got := resp.ToolCalls[0]; got.ID != "call_a" || got.Function.Arguments != `{"path":"go.mod"}` {
		t.Errorf("unexpected tool call %+v", got)
	}
	if resp.Usage.TotalTokens != 10 {
		t.Errorf("expected trailing usage, got %+v", resp.Usage)
	}
}

func TestChatStreamServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := New(WithAPIKey("test-key"), WithBaseURL(srv.URL))
	_, err := p.Chat(context.Background(), llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	we := werrors.AsWebranaError(err)
	if we.Code != werrors.CodeProviderTransport || !we.Recoverable {
		t.Fatalf("expected retryable transport error, got %v", err)
	}
}
