package chat

import "time"

// 消息角色常量 / Message role constants
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
	// RoleCompaction 标记压缩摘要消息：它替代了一段更早的历史
	// RoleCompaction marks a compaction summary that replaces an older prefix of history
	RoleCompaction = "compaction"
)

// compactionPrefix 注入模型上下文时区分摘要与实时内容
// compactionPrefix distinguishes the summary from live content in the model context
const compactionPrefix = "[Previous conversation summary]\n"

// ToolFunction describes an OpenAI-compatible function tool definition.
type ToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolDef describes one function tool exposed to the model.
type ToolDef struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolCallFunction is the function payload of a model tool call.
type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCall is an OpenAI-compatible tool call.
type ToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function ToolCallFunction `json:"function"`
}

// Message 会话中的一条消息，追加后不可变。JSON 字段形状即 JSONL 转写记录。
// Message is one unit of conversation history, immutable once appended.
// The JSON field shape doubles as the on-disk JSONL transcript record.
type Message struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	Timestamp  time.Time      `json:"timestamp"`
	Name       string         `json:"name,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall     `json:"tool_calls,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// NewMessage 创建带当前时间戳的消息 / NewMessage stamps the message with the current time
func NewMessage(role, content string) Message {
	return Message{Role: role, Content: content, Timestamp: time.Now()}
}

// ForModel 投影为模型可见的消息。压缩摘要以 system 角色加前缀注入。
// ForModel projects the message into the model-facing shape. Compaction
// summaries become a prefixed system note.
func (m Message) ForModel() Message {
	if m.Role == RoleCompaction {
		return Message{
			Role:      RoleSystem,
			Content:   compactionPrefix + m.Content,
			Timestamp: m.Timestamp,
		}
	}
	return m
}

// IsCompaction reports whether this message is a compaction summary.
func (m Message) IsCompaction() bool {
	return m.Role == RoleCompaction
}
