package provider

import (
	"context"
	"fmt"
	"strings"

	"clawd/internal/chat"
)

// ChatRequest 封装一次模型请求
// ChatRequest wraps a single model call
type ChatRequest struct {
	Model       string
	Messages    []chat.Message
	Tools       []chat.ToolDef
	Temperature *float64
	MaxTokens   int
}

// Usage token 用量统计
// Usage reports token consumption
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ChatResponse 完整响应
// ChatResponse is the complete response
type ChatResponse struct {
	Content      string
	ToolCalls    []chat.ToolCall
	FinishReason string
	Usage        Usage
}

// Provider 模型提供方接口，面向多 provider 扩展
// Provider is the model backend interface, designed for multi-provider extensibility
type Provider interface {
	// Chat 发送聊天请求并返回完整响应
	// Chat sends a request and returns the complete response
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)

	// Name 返回 provider 名称
	// Name returns the provider name
	Name() string

	// CurrentModel 返回当前活跃模型
	// CurrentModel returns the current active model
	CurrentModel() string

	// SetModel 切换活跃模型
	// SetModel switches the active model
	SetModel(model string) error
}

// Config provider 构造配置
// Config is the provider construction configuration
type Config struct {
	Kind       string // openai | openai-compatible | ollama | anthropic
	BaseURL    string
	APIKey     string
	Model      string
	TimeoutMS  int
	MaxRetries int
}

// New 按 kind 构造 provider；未知 kind 是致命的构造错误。
// New builds a provider by kind; an unknown kind is a fatal construction error.
func New(cfg Config) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case "", "openai", "openai-compatible":
		return NewOpenAIProvider(cfg), nil
	case "ollama":
		// Ollama 暴露 OpenAI 兼容端点 / Ollama speaks the OpenAI-compatible API
		if strings.TrimSpace(cfg.BaseURL) == "" {
			cfg.BaseURL = "http://localhost:11434/v1"
		}
		return NewOpenAIProvider(cfg), nil
	case "anthropic":
		return NewAnthropicProvider(cfg), nil
	default:
		return nil, fmt.Errorf("unknown provider kind %q", cfg.Kind)
	}
}
