package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"clawd/internal/contextmgr"
	"clawd/internal/provider"
	"clawd/internal/session"
	"clawd/internal/tools"
)

// actionLimitMessage 达到 max_turns 时的固定收尾消息
// actionLimitMessage is the fixed terminal message at the turn bound
const actionLimitMessage = "I've reached the action limit for this request."

// EventKind 工具可观测性事件类型 / tool observability event kinds
type EventKind string

const (
	EventToolStart EventKind = "tool_start"
	EventToolEnd   EventKind = "tool_end"
)

// Event 循环在工具执行前后发出的可观测性事件
// Event is emitted around each tool execution
type Event struct {
	Kind   EventKind
	Tool   string
	Args   string
	Result string
}

// Config 循环参数 / loop parameters
type Config struct {
	SystemPrompt  string
	Model         string
	MaxTurns      int
	MaxTokens     int
	Temperature   *float64
	ContextWindow int
	KeepRecent    int
}

// Loop 思考/行动/观察驱动器：构建模型消息、调用 LLM、按模型给出的顺序
// 执行工具、追加结果，循环直到终止。每个入站消息对应一次 Run。
// Loop is the think/act/observe driver. One Run per inbound message; the
// loop calls the transport, executes requested tools sequentially, and
// repeats until a terminal state.
type Loop struct {
	provider  provider.Provider
	registry  *tools.Registry
	compactor *contextmgr.Compactor
	tokenizer *contextmgr.Tokenizer
	cfg       Config
	onEvent   func(Event)
	logger    *slog.Logger
}

// New 创建 agent 循环。compactor 和 tokenizer 可为 nil（不做压缩）。
// New builds the loop. A nil compactor/tokenizer disables compaction.
func New(p provider.Provider, registry *tools.Registry, compactor *contextmgr.Compactor, tokenizer *contextmgr.Tokenizer, cfg Config, logger *slog.Logger) *Loop {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 10
	}
	if cfg.KeepRecent <= 0 {
		cfg.KeepRecent = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		provider:  p,
		registry:  registry,
		compactor: compactor,
		tokenizer: tokenizer,
		cfg:       cfg,
		logger:    logger,
	}
}

// OnEvent 注册工具事件回调 / register the tool event callback
func (l *Loop) OnEvent(fn func(Event)) {
	l.onEvent = fn
}

func (l *Loop) emit(e Event) {
	if l.onEvent != nil {
		l.onEvent(e)
	}
}

// Run 为一条用户消息驱动完整回合。contextText 是外部提供的工作区上下文，
// 拼接在 system prompt 之后。传输层失败对本回合是致命的：会话回滚到
// 调用前的状态，错误原样上抛，重试安全。
// Run drives the full turn for one user message. contextText is the
// externally-supplied workspace context appended to the system prompt.
// A transport failure is fatal for the turn: the session rewinds to its
// pre-call state and the error surfaces to the caller, retry-safe.
func (l *Loop) Run(ctx context.Context, sess *session.Session, userText, contextText string) (string, error) {
	snapshot := sess.TakeSnapshot()
	sess.AddUser(userText)

	systemPrompt := l.cfg.SystemPrompt
	if contextText != "" {
		systemPrompt = systemPrompt + "\n\n" + contextText
	}
	toolDefs := l.registry.Definitions()

	for turn := 1; turn <= l.cfg.MaxTurns; turn++ {
		l.maybeCompact(ctx, sess, systemPrompt)

		resp, err := l.provider.Chat(ctx, provider.ChatRequest{
			Model:       l.cfg.Model,
			Messages:    sess.ModelMessages(systemPrompt),
			Tools:       toolDefs,
			Temperature: l.cfg.Temperature,
			MaxTokens:   l.cfg.MaxTokens,
		})
		if err != nil {
			sess.Rewind(snapshot)
			return "", fmt.Errorf("model call failed: %w", err)
		}
		sess.AddTokens(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)

		// 无工具调用即终态 / no tool calls means we are done
		if len(resp.ToolCalls) == 0 {
			sess.AddAssistant(resp.Content, nil)
			return resp.Content, nil
		}

		sess.AddAssistant(resp.Content, resp.ToolCalls)
		for _, call := range resp.ToolCalls {
			name := call.Function.Name
			args := call.Function.Arguments

			l.emit(Event{Kind: EventToolStart, Tool: name, Args: args})
			result, execErr := l.registry.Execute(ctx, name, json.RawMessage(args))
			if execErr != nil {
				// 失败的工具是数据，不是循环的致命错误
				// a failing tool is data, not a fatal loop error
				result = fmt.Sprintf("Error: %s", execErr)
				l.logger.Warn("tool failed", "tool", name, "error", execErr)
			}
			l.emit(Event{Kind: EventToolEnd, Tool: name, Result: result})

			sess.AddToolResult(call.ID, name, result)
		}
	}

	// 强制终态 / forced terminal state
	sess.AddAssistant(actionLimitMessage, nil)
	return actionLimitMessage, nil
}

// maybeCompact 在传输调用前检查 token 预算，超限则压缩。系统提示随每次
// 调用发送，同样计入预算，否则窗口占用被低估。
// maybeCompact enforces the token budget before a transport call. The system
// prompt counts against the budget too: it ships with every call.
func (l *Loop) maybeCompact(ctx context.Context, sess *session.Session, systemText string) {
	if l.compactor == nil || l.tokenizer == nil || l.cfg.ContextWindow <= 0 {
		return
	}
	current := l.tokenizer.CountText(systemText) + l.tokenizer.Count(sess.Messages)
	if !l.compactor.ShouldCompact(l.cfg.ContextWindow, current) {
		return
	}
	if _, err := l.compactor.Compact(ctx, sess, l.cfg.KeepRecent, ""); err != nil {
		l.logger.Warn("compaction failed", "error", err)
	}
}
