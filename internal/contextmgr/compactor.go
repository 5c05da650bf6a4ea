package contextmgr

import (
	"context"
	"fmt"
	"strings"

	"clawd/internal/chat"
	"clawd/internal/session"
)

// Summarizer 历史摘要能力，由调用方注入（通常由 LLM 传输层实现）。
// Summarizer is the injected summarization capability, usually backed by
// the LLM transport.
type Summarizer interface {
	// Summarize 为旧消息生成摘要，instructions 可选地偏置摘要重点
	// Summarize condenses older messages; instructions optionally bias focus
	Summarize(ctx context.Context, messages []chat.Message, instructions string) (string, error)
}

// SummarizeFunc 函数适配器 / function adapter for Summarizer
type SummarizeFunc func(ctx context.Context, messages []chat.Message, instructions string) (string, error)

func (f SummarizeFunc) Summarize(ctx context.Context, messages []chat.Message, instructions string) (string, error) {
	return f(ctx, messages, instructions)
}

// Compactor token 预算的执法者：判断何时压缩，以及把历史前缀替换成摘要。
// Compactor enforces the token budget: it decides when to compact and
// replaces a prefix of history with a generated summary.
type Compactor struct {
	summarizer    Summarizer
	reserveTokens int // 为下一次响应保留的空间 / room reserved for the next response
	softThreshold int // 提前于硬限制触发的安全边际 / safety margin before the hard limit
}

// NewCompactor 创建 compactor，非法参数取默认值
// NewCompactor creates a compactor, defaulting invalid parameters
func NewCompactor(summarizer Summarizer, reserveTokens, softThreshold int) *Compactor {
	if reserveTokens <= 0 {
		reserveTokens = 4096
	}
	if softThreshold <= 0 {
		softThreshold = 1024
	}
	return &Compactor{
		summarizer:    summarizer,
		reserveTokens: reserveTokens,
		softThreshold: softThreshold,
	}
}

// ShouldCompact 当且仅当 current > window - reserve - soft 时为真。
// ShouldCompact is true iff the current usage crosses the window minus the
// response reserve and the soft margin.
func (c *Compactor) ShouldCompact(contextWindow, currentTokens int) bool {
	if contextWindow <= 0 {
		return false
	}
	return currentTokens > contextWindow-c.reserveTokens-c.softThreshold
}

// Compact 把早于最近 keepRecent 条的历史压缩成一条摘要消息。
// 会话消息数 ≤ keepRecent 时是无操作（返回空摘要）。压缩是破坏性的：
// Session 里被替换的细节不可恢复，但磁盘上的追加式转写保留原始消息。
// Compact replaces everything older than the last keepRecent messages with
// a single summary message. It is a no-op when the session holds at most
// keepRecent messages. Destructive for the Session; the on-disk transcript
// keeps the originals.
func (c *Compactor) Compact(ctx context.Context, sess *session.Session, keepRecent int, instructions string) (string, error) {
	if keepRecent < 0 {
		keepRecent = 0
	}
	if len(sess.Messages) <= keepRecent {
		return "", nil
	}

	split := len(sess.Messages) - keepRecent
	toSummarize := sess.Messages[:split]
	toKeep := append([]chat.Message(nil), sess.Messages[split:]...)

	summary, err := c.summarize(ctx, toSummarize, instructions)
	if err != nil {
		return "", err
	}

	sess.ApplyCompaction(chat.NewMessage(chat.RoleCompaction, summary), toKeep)
	return summary, nil
}

func (c *Compactor) summarize(ctx context.Context, messages []chat.Message, instructions string) (string, error) {
	if c.summarizer != nil {
		summary, err := c.summarizer.Summarize(ctx, messages, instructions)
		if err == nil && strings.TrimSpace(summary) != "" {
			return strings.TrimSpace(summary), nil
		}
	}
	// LLM 失败或未配置时回退到抽取式摘要，压缩永远不能因此卡死
	// Extractive fallback when the LLM fails; compaction must stay available
	summary := extractiveSummary(messages)
	if strings.TrimSpace(summary) == "" {
		return "", fmt.Errorf("compaction produced empty summary")
	}
	return summary, nil
}

const summarySystemPrompt = `You are a precise summarizer for an assistant conversation.
Summarize the conversation preserving:
1. Current objective and open requests
2. Facts the user stated about themselves or the task
3. Key decisions and actions taken (tools used, files touched)
4. Pending issues or unanswered questions

Be concise but complete. Output plain text, no markdown formatting.
Respond in the same language as the conversation content.`

// NewLLMSummarizer 用一次普通的 chat 调用实现 Summarizer。
// NewLLMSummarizer adapts a plain chat call into a Summarizer.
func NewLLMSummarizer(call func(ctx context.Context, systemPrompt, userPrompt string) (string, error)) Summarizer {
	return SummarizeFunc(func(ctx context.Context, messages []chat.Message, instructions string) (string, error) {
		if call == nil {
			return "", fmt.Errorf("LLM summarizer not configured")
		}
		userPrompt := buildSummaryInput(messages)
		if strings.TrimSpace(userPrompt) == "" {
			return "", fmt.Errorf("no content to summarize")
		}
		system := summarySystemPrompt
		if strings.TrimSpace(instructions) != "" {
			system += "\n\nAdditional focus: " + strings.TrimSpace(instructions)
		}
		summary, err := call(ctx, system, userPrompt)
		if err != nil {
			return "", fmt.Errorf("LLM summarize: %w", err)
		}
		return strings.TrimSpace(summary), nil
	})
}

// buildSummaryInput 从消息列表构建摘要输入文本
// buildSummaryInput builds summarization input from messages
func buildSummaryInput(messages []chat.Message) string {
	var b strings.Builder
	b.WriteString("Conversation to summarize:\n\n")

	for _, m := range messages {
		switch m.Role {
		case chat.RoleUser:
			b.WriteString("User: ")
			b.WriteString(truncateRunes(m.Content, 500))
			b.WriteString("\n\n")
		case chat.RoleAssistant:
			if content := strings.TrimSpace(m.Content); content != "" {
				b.WriteString("Assistant: ")
				b.WriteString(truncateRunes(content, 300))
				b.WriteString("\n\n")
			}
			for _, tc := range m.ToolCalls {
				fmt.Fprintf(&b, "Tool call: %s(%s)\n", tc.Function.Name,
					truncateRunes(tc.Function.Arguments, 100))
			}
		case chat.RoleTool:
			if m.Name != "" {
				fmt.Fprintf(&b, "Tool result [%s]: %s\n\n", m.Name,
					truncateRunes(m.Content, 200))
			}
		case chat.RoleCompaction:
			// 二次压缩时把前一轮摘要也纳入 / fold a prior summary back in
			b.WriteString("Earlier summary: ")
			b.WriteString(truncateRunes(m.Content, 500))
			b.WriteString("\n\n")
		}
	}
	return b.String()
}

// extractiveSummary 无 LLM 时的兜底：抽取用户请求与工具活动的骨架。
// extractiveSummary is the LLM-free fallback: a skeleton of user requests
// and tool activity.
func extractiveSummary(messages []chat.Message) string {
	var requests, actions []string
	for _, m := range messages {
		switch m.Role {
		case chat.RoleUser:
			if s := strings.TrimSpace(m.Content); s != "" {
				requests = append(requests, truncateRunes(s, 120))
			}
		case chat.RoleAssistant:
			for _, tc := range m.ToolCalls {
				actions = append(actions, tc.Function.Name)
			}
		case chat.RoleCompaction:
			if s := strings.TrimSpace(m.Content); s != "" {
				requests = append(requests, "(earlier) "+truncateRunes(s, 120))
			}
		}
	}

	var b strings.Builder
	if len(requests) > 0 {
		b.WriteString("User requests so far:\n")
		for _, r := range requests {
			b.WriteString("- ")
			b.WriteString(r)
			b.WriteString("\n")
		}
	}
	if len(actions) > 0 {
		b.WriteString("Tools used: ")
		b.WriteString(strings.Join(actions, ", "))
		b.WriteString("\n")
	}
	return b.String()
}

func truncateRunes(s string, maxRunes int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= maxRunes {
		return string(r)
	}
	return string(r[:maxRunes]) + "..."
}
