package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"clawd/internal/chat"

	openai "github.com/sashabaranov/go-openai"
)

func TestNew_UnknownKind(t *testing.T) {
	if _, err := New(Config{Kind: "carrier-pigeon"}); err == nil {
		t.Fatal("unknown provider kind should be a construction error")
	}
	for _, kind := range []string{"", "openai", "openai-compatible", "ollama", "anthropic"} {
		if _, err := New(Config{Kind: kind, Model: "m"}); err != nil {
			t.Fatalf("kind %q: %v", kind, err)
		}
	}
}

func TestSetModel(t *testing.T) {
	p := NewOpenAIProvider(Config{Model: "gpt-4o"})
	if err := p.SetModel("  "); err == nil {
		t.Fatal("blank model should be rejected")
	}
	if err := p.SetModel("gpt-4o-mini"); err != nil {
		t.Fatalf("SetModel: %v", err)
	}
	if p.CurrentModel() != "gpt-4o-mini" {
		t.Fatalf("model=%q", p.CurrentModel())
	}
}

func TestSplitSystemMessages(t *testing.T) {
	msgs := []chat.Message{
		{Role: chat.RoleSystem, Content: "be helpful"},
		{Role: chat.RoleUser, Content: "hi"},
		{Role: chat.RoleAssistant, Content: "checking", ToolCalls: []chat.ToolCall{{
			ID:   "call_1",
			Type: "function",
			Function: chat.ToolCallFunction{
				Name:      "bash",
				Arguments: `{"command":"ls"}`,
			},
		}}},
		{Role: chat.RoleTool, ToolCallID: "call_1", Name: "bash", Content: "file.txt"},
	}

	system, wire := splitSystemMessages(msgs)
	if system != "be helpful" {
		t.Fatalf("system=%q", system)
	}
	if len(wire) != 3 {
		t.Fatalf("len=%d, want 3 (system lifted out)", len(wire))
	}
	if wire[1].Role != "assistant" || len(wire[1].Content) != 2 {
		t.Fatalf("assistant should carry text + tool_use blocks: %+v", wire[1])
	}
	if wire[1].Content[1].Type != "tool_use" || wire[1].Content[1].Name != "bash" {
		t.Fatalf("tool_use block wrong: %+v", wire[1].Content[1])
	}
	if wire[2].Role != "user" || wire[2].Content[0].Type != "tool_result" ||
		wire[2].Content[0].ToolUseID != "call_1" {
		t.Fatalf("tool result should fold into a user tool_result block: %+v", wire[2])
	}
}

func TestSplitSystemMessages_InvalidToolArgs(t *testing.T) {
	msgs := []chat.Message{
		{Role: chat.RoleAssistant, ToolCalls: []chat.ToolCall{{
			ID:       "call_1",
			Function: chat.ToolCallFunction{Name: "bash", Arguments: "not json"},
		}}},
	}
	_, wire := splitSystemMessages(msgs)
	if string(wire[0].Content[0].Input) != "{}" {
		t.Fatalf("invalid arguments should default to {}: %s", wire[0].Content[0].Input)
	}
}

func TestAnthropicChat_EndToEnd(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path=%q", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "key123" {
			t.Errorf("missing api key header")
		}
		var req anthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.System != "sys" {
			t.Errorf("system=%q", req.System)
		}
		if len(req.Tools) != 1 || req.Tools[0].Name != "bash" {
			t.Errorf("tools=%+v", req.Tools)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]any{
				{"type": "text", "text": "running it"},
				{"type": "tool_use", "id": "toolu_1", "name": "bash", "input": map[string]any{"command": "ls"}},
			},
			"stop_reason": "tool_use",
			"usage":       map[string]int{"input_tokens": 12, "output_tokens": 7},
		})
	}))
	defer server.Close()

	p := NewAnthropicProvider(Config{BaseURL: server.URL, APIKey: "key123", Model: "claude-x"})
	resp, err := p.Chat(context.Background(), ChatRequest{
		Messages: []chat.Message{
			{Role: chat.RoleSystem, Content: "sys"},
			{Role: chat.RoleUser, Content: "list files"},
		},
		Tools: []chat.ToolDef{{
			Type:     "function",
			Function: chat.ToolFunction{Name: "bash", Parameters: map[string]any{"type": "object"}},
		}},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "running it" {
		t.Fatalf("content=%q", resp.Content)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Function.Name != "bash" {
		t.Fatalf("tool calls=%+v", resp.ToolCalls)
	}
	if resp.Usage.TotalTokens != 19 {
		t.Fatalf("usage=%+v", resp.Usage)
	}
	if resp.FinishReason != "tool_use" {
		t.Fatalf("finish=%q", resp.FinishReason)
	}
}

func TestConvertSDKResponse_EmptyChoices(t *testing.T) {
	resp := convertSDKResponse(openai.ChatCompletionResponse{})
	if resp.Content != "" || resp.ToolCalls != nil {
		t.Fatalf("empty choices should yield an empty response: %+v", resp)
	}
}
