package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"clawd/internal/chat"
)

const (
	anthropicDefaultBaseURL = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"
	anthropicMaxTokens      = 4096
)

// AnthropicProvider 直接对接 Anthropic Messages API 的 Provider 实现。
// 请求前把 OpenAI 形状的消息历史转换成 Anthropic 的 content-block 形式：
// system 消息提升为顶层 system 字段，tool 消息折叠成 user/tool_result 块。
// AnthropicProvider speaks the Anthropic Messages API directly. History in
// the OpenAI shape is converted on the way out: system messages lift into
// the top-level system field, tool results fold into user tool_result blocks.
type AnthropicProvider struct {
	httpClient *http.Client
	baseURL    string
	model      string
	cfg        Config
	mu         sync.RWMutex
}

// NewAnthropicProvider 创建 Anthropic provider
// NewAnthropicProvider creates the Anthropic provider
func NewAnthropicProvider(cfg Config) *AnthropicProvider {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = anthropicDefaultBaseURL
	}
	httpClient := &http.Client{}
	if cfg.TimeoutMS > 0 {
		httpClient.Timeout = time.Duration(cfg.TimeoutMS) * time.Millisecond
	}
	return &AnthropicProvider{
		httpClient: httpClient,
		baseURL:    baseURL,
		model:      cfg.Model,
		cfg:        cfg,
	}
}

func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

func (p *AnthropicProvider) CurrentModel() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.model
}

func (p *AnthropicProvider) SetModel(model string) error {
	model = strings.TrimSpace(model)
	if model == "" {
		return fmt.Errorf("model is empty")
	}
	p.mu.Lock()
	p.model = model
	p.mu.Unlock()
	return nil
}

func (p *AnthropicProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.CurrentModel()
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicMaxTokens
	}

	system, messages := splitSystemMessages(req.Messages)
	wireReq := anthropicRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		System:      system,
		Messages:    messages,
		Tools:       convertAnthropicTools(req.Tools),
		Temperature: req.Temperature,
	}

	body, err := json.Marshal(wireReq)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return ChatResponse{}, fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", strings.TrimSpace(p.cfg.APIKey))
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("http do: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return ChatResponse{}, fmt.Errorf("http status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var wireResp anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&wireResp); err != nil {
		return ChatResponse{}, fmt.Errorf("decode response: %w", err)
	}
	return convertAnthropicResponse(wireResp), nil
}

// --- Anthropic wire types ---

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
	Temperature *float64           `json:"temperature,omitempty"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

type anthropicBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
}

type anthropicTool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"input_schema,omitempty"`
}

type anthropicResponse struct {
	Content    []anthropicBlock `json:"content"`
	StopReason string           `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// --- conversions ---

// splitSystemMessages 提取 system 消息并把其余历史转换成 wire 形式。
// Anthropic 要求 system 在顶层字段，tool 结果作为 user 消息的 tool_result 块。
// splitSystemMessages lifts system messages into the top-level field and
// converts the rest of the history into wire messages.
func splitSystemMessages(messages []chat.Message) (string, []anthropicMessage) {
	var systems []string
	var out []anthropicMessage

	for _, m := range messages {
		switch m.Role {
		case chat.RoleSystem:
			if strings.TrimSpace(m.Content) != "" {
				systems = append(systems, m.Content)
			}
		case chat.RoleTool:
			content, _ := json.Marshal(m.Content)
			out = append(out, anthropicMessage{
				Role: "user",
				Content: []anthropicBlock{{
					Type:      "tool_result",
					ToolUseID: m.ToolCallID,
					Content:   content,
				}},
			})
		case chat.RoleAssistant:
			var blocks []anthropicBlock
			if m.Content != "" {
				blocks = append(blocks, anthropicBlock{Type: "text", Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				input := json.RawMessage(tc.Function.Arguments)
				if !json.Valid(input) {
					input = json.RawMessage("{}")
				}
				blocks = append(blocks, anthropicBlock{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Function.Name,
					Input: input,
				})
			}
			if len(blocks) > 0 {
				out = append(out, anthropicMessage{Role: "assistant", Content: blocks})
			}
		default:
			out = append(out, anthropicMessage{
				Role:    "user",
				Content: []anthropicBlock{{Type: "text", Text: m.Content}},
			})
		}
	}
	return strings.Join(systems, "\n\n"), out
}

func convertAnthropicTools(tools []chat.ToolDef) []anthropicTool {
	out := make([]anthropicTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, anthropicTool{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			InputSchema: t.Function.Parameters,
		})
	}
	return out
}

func convertAnthropicResponse(wire anthropicResponse) ChatResponse {
	resp := ChatResponse{
		FinishReason: wire.StopReason,
		Usage: Usage{
			PromptTokens:     wire.Usage.InputTokens,
			CompletionTokens: wire.Usage.OutputTokens,
			TotalTokens:      wire.Usage.InputTokens + wire.Usage.OutputTokens,
		},
	}
	var texts []string
	for _, block := range wire.Content {
		switch block.Type {
		case "text":
			texts = append(texts, block.Text)
		case "tool_use":
			resp.ToolCalls = append(resp.ToolCalls, chat.ToolCall{
				ID:   block.ID,
				Type: "function",
				Function: chat.ToolCallFunction{
					Name:      block.Name,
					Arguments: string(block.Input),
				},
			})
		}
	}
	resp.Content = strings.Join(texts, "")
	return resp
}
