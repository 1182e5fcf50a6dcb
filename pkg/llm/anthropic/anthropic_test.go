package anthropic

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/webrana/webrana/pkg/llm"
)

func TestNewProvider(t *testing.T) {
	p := New(WithAPIKey("test-key"))
	if p.model != "claude-sonnet-4-20250514" {
		t.Errorf("expected default model, got %s", p.model)
	}
	if p.maxTokens != 4096 {
		t.Errorf("expected default max tokens 4096, got %d", p.maxTokens)
	}
}

func TestWithModel(t *testing.T) {
	p := New(WithAPIKey("test-key"), WithModel("claude-3-haiku-20240307"))
	if p.model != "claude-3-haiku-20240307" {
		t.Errorf("expected claude-3-haiku-20240307, got %s", p.model)
	}
}

func TestWithMaxTokens(t *testing.T) {
	p := New(WithAPIKey("test-key"), WithMaxTokens(8192))
	if p.maxTokens != 8192 {
		t.Errorf("expected 8192, got %d", p.maxTokens)
	}
	p = New(WithAPIKey("test-key"), WithMaxTokens(-1))
	if p.maxTokens != 4096 {
		t.Errorf("expected negative value to be ignored, got %d", p.maxTokens)
	}
}

func TestConvertMessagesMergesToolResults(t *testing.T) {
	msgs := []llm.Message{
		{Role: llm.RoleSystem, Content: "You are helpful"},
		{Role: llm.RoleUser, Content: "look around"},
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{
			{ID: "t1", Function: llm.FunctionCall{Name: "list_files", Arguments: `{"path":"."}`}},
			{ID: "t2", Function: llm.FunctionCall{Name: "git_status", Arguments: `{}`}},
		}},
		{Role: llm.RoleTool, ToolCallID: "t1", Content: "a.go"},
		{Role: llm.RoleTool, ToolCallID: "t2", Content: "clean"},
		{Role: llm.RoleUser, Content: "thanks"},
	}
	out := convertMessages(msgs)
	// system is lifted out; two tool results collapse into one user turn
	if len(out) != 4 {
		t.Fatalf("expected 4 turns, got %d", len(out))
	}
	if out[1].Role != "assistant" {
		t.Errorf("expected assistant turn, got %s", out[1].Role)
	}
	if len(out[1].Content) != 2 {
		t.Errorf("expected 2 tool_use blocks, got %d", len(out[1].Content))
	}
	if out[2].Role != "user" || len(out[2].Content) != 2 {
		t.Errorf("expected merged tool results, got role=%s blocks=%d", out[2].Role, len(out[2].Content))
	}
}

func TestConvertTool(t *testing.T) {
	tool := llm.Tool{
		Type: llm.ToolTypeFunction,
		Function: llm.FunctionDef{
			Name:        "read_file",
			Description: "Read a file",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"path": map[string]any{"type": "string"}},
				"required":   []string{"path"},
			},
		},
	}
	out := convertTool(tool)
	if out.OfTool == nil {
		t.Fatal("expected tool param")
	}
	if out.OfTool.Name != "read_file" {
		t.Errorf("expected read_file, got %s", out.OfTool.Name)
	}
	if len(out.OfTool.InputSchema.Required) != 1 || out.OfTool.InputSchema.Required[0] != "path" {
		t.Errorf("expected required [path], got %v", out.OfTool.InputSchema.Required)
	}
}

const sseBody = `event: message_start
data: {"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"claude","content":[],"stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":5,"output_tokens":1}}}

event: content_block_start
data: {"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}

event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Checking"}}

event: content_block_stop
data: {"type":"content_block_stop","index":0}

event: content_block_start
data: {"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_1","name":"list_files","input":{}}}

event: content_block_delta
data: {"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"path\":"}}

event: content_block_delta
data: {"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"\"./src\"}"}}

event: content_block_stop
data: {"type":"content_block_stop","index":1}

event: message_delta
data: {"type":"message_delta","delta":{"stop_reason":"tool_use","stop_sequence":null},"usage":{"output_tokens":9}}

event: message_stop
data: {"type":"message_stop"}

`

func TestChatStreamToolUse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseBody)
	}))
	defer srv.Close()

	p := New(WithAPIKey("test-key"), WithBaseURL(srv.URL))
	var deltas []string
	stream, err := p.ChatStream(context.Background(), llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "list src"}},
	})
	if err != nil {
		t.Fatalf("ChatStream failed: %v", err)
	}
	resp, err := llm.Collect(context.Background(), stream, func(s string) { deltas = append(deltas, s) })
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if resp.Content != "Checking" || len(deltas) != 1 {
		t.Errorf("unexpected text %q (deltas %v)", resp.Content, deltas)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("expected one tool call, got %+v", resp.ToolCalls)
	}
	tc := resp.ToolCalls[0]
	if tc.ID != "toolu_1" || tc.Function.Name != "list_files" {
		t.Errorf("unexpected call %+v", tc)
	}
	if tc.Function.Arguments != `{"path":"./src"}` {
		t.Errorf("unexpected arguments %s", tc.Function.Arguments)
	}
}
