package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"clawd/internal/chat"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider 使用 go-openai SDK 的 Provider 实现，同时覆盖
// OpenAI、OpenAI 兼容服务和 Ollama。
// OpenAIProvider implements Provider via the go-openai SDK, covering
// OpenAI proper, compatible servers, and Ollama.
type OpenAIProvider struct {
	client *openai.Client
	model  string
	cfg    Config
	mu     sync.RWMutex
}

// NewOpenAIProvider 创建基于 SDK 的 provider
// NewOpenAIProvider creates an SDK-based provider
func NewOpenAIProvider(cfg Config) *OpenAIProvider {
	config := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		config.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	httpClient := &http.Client{}
	if cfg.TimeoutMS > 0 {
		httpClient.Timeout = time.Duration(cfg.TimeoutMS) * time.Millisecond
	}
	config.HTTPClient = httpClient

	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(config),
		model:  cfg.Model,
		cfg:    cfg,
	}
}

func (p *OpenAIProvider) Name() string {
	return "openai"
}

func (p *OpenAIProvider) CurrentModel() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.model
}

func (p *OpenAIProvider) SetModel(model string) error {
	model = strings.TrimSpace(model)
	if model == "" {
		return fmt.Errorf("model is empty")
	}
	p.mu.Lock()
	p.model = model
	p.mu.Unlock()
	return nil
}

func (p *OpenAIProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.CurrentModel()
	}
	sdkReq := buildSDKRequest(model, req)

	var lastErr error
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(150*(1<<(attempt-1))) * time.Millisecond
			select {
			case <-ctx.Done():
				return ChatResponse{}, ctx.Err()
			case <-time.After(backoff):
			}
		}

		resp, err := p.client.CreateChatCompletion(ctx, sdkReq)
		if err == nil {
			return convertSDKResponse(resp), nil
		}
		lastErr = err

		// 不可重试的错误 / Non-retryable errors
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return ChatResponse{}, err
		}
	}
	return ChatResponse{}, fmt.Errorf("provider chat failed after %d retries: %w", p.cfg.MaxRetries, lastErr)
}

func buildSDKRequest(model string, req ChatRequest) openai.ChatCompletionRequest {
	sdkReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: convertMessages(req.Messages),
	}
	if len(req.Tools) > 0 {
		sdkReq.Tools = convertTools(req.Tools)
		sdkReq.ToolChoice = "auto"
	}
	if req.Temperature != nil {
		sdkReq.Temperature = float32(*req.Temperature)
	}
	if req.MaxTokens > 0 {
		sdkReq.MaxTokens = req.MaxTokens
	}
	return sdkReq
}

func convertSDKResponse(resp openai.ChatCompletionResponse) ChatResponse {
	out := ChatResponse{
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	if len(resp.Choices) == 0 {
		return out
	}
	choice := resp.Choices[0]
	out.Content = choice.Message.Content
	out.FinishReason = string(choice.FinishReason)
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, chat.ToolCall{
			ID:   tc.ID,
			Type: string(tc.Type),
			Function: chat.ToolCallFunction{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	return out
}

func convertMessages(messages []chat.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msg := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		if len(m.ToolCalls) > 0 {
			msg.ToolCalls = make([]openai.ToolCall, 0, len(m.ToolCalls))
			for _, tc := range m.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolType(tc.Type),
					Function: openai.FunctionCall{
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					},
				})
			}
		}
		out = append(out, msg)
	}
	return out
}

func convertTools(tools []chat.ToolDef) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  t.Function.Parameters,
			},
		})
	}
	return out
}
