package session

import (
	"time"

	"clawd/internal/chat"
)

// Session 单个逻辑身份的会话聚合：有序消息、token 统计、压缩计数、任意状态。
// 消息列表只通过本类型的方法修改；跨 goroutine 访问由调用方按键串行化。
// Session is the mutable conversation aggregate for one logical identity.
// The message list is mutated only through methods here; callers serialize
// access per key.
type Session struct {
	Key Key
	// ID 标识物理转写存储，与逻辑键分离：重置换新 ID 而不破坏键的历史
	// ID names the physical transcript store. A reset allocates a new ID
	// without disturbing the key's listing history.
	ID string

	Messages []chat.Message

	CreatedAt time.Time
	UpdatedAt time.Time

	InputTokens  int
	OutputTokens int
	TotalTokens  int

	CompactionCount  int
	LastCompactionAt time.Time

	// Origin 最近一次路由事实，仅供展示 / last-known routing facts, informational
	Origin map[string]any
	// State 任意会话级数据，未知键原样持久化 / arbitrary scoped state, round-trips unchanged
	State map[string]any

	// pending 尚未落盘转写的消息 / messages not yet flushed to the transcript
	pending []chat.Message
}

// New 创建空会话 / New creates an empty session
func New(key Key, id string) *Session {
	now := time.Now()
	return &Session{
		Key:       key,
		ID:        id,
		CreatedAt: now,
		UpdatedAt: now,
		Origin:    map[string]any{},
		State:     map[string]any{},
	}
}

// AddMessage 追加一条消息并推进 updated_at（单调不减）。
// AddMessage appends a message and bumps updated_at (monotonically non-decreasing).
func (s *Session) AddMessage(msg chat.Message) chat.Message {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	s.Messages = append(s.Messages, msg)
	s.pending = append(s.pending, msg)
	s.touch()
	return msg
}

// AddUser appends a user message.
func (s *Session) AddUser(content string) chat.Message {
	return s.AddMessage(chat.NewMessage(chat.RoleUser, content))
}

// AddAssistant appends an assistant message, optionally carrying tool calls.
func (s *Session) AddAssistant(content string, toolCalls []chat.ToolCall) chat.Message {
	msg := chat.NewMessage(chat.RoleAssistant, content)
	msg.ToolCalls = toolCalls
	return s.AddMessage(msg)
}

// AddToolResult appends a tool-role result message.
func (s *Session) AddToolResult(toolCallID, name, content string) chat.Message {
	msg := chat.NewMessage(chat.RoleTool, content)
	msg.ToolCallID = toolCallID
	msg.Name = name
	return s.AddMessage(msg)
}

// AddTokens 累加 token 用量并维持 total == input + output 不变式。
// AddTokens accumulates usage, maintaining total == input + output.
func (s *Session) AddTokens(input, output int) {
	s.InputTokens += input
	s.OutputTokens += output
	s.TotalTokens = s.InputTokens + s.OutputTokens
}

// ModelMessages 构建模型可见的消息列表：可选系统提示 + 历史投影。
// ModelMessages builds the model-facing list: optional system prompt plus
// each message's model-format projection.
func (s *Session) ModelMessages(systemPrompt string) []chat.Message {
	out := make([]chat.Message, 0, len(s.Messages)+1)
	if systemPrompt != "" {
		out = append(out, chat.Message{Role: chat.RoleSystem, Content: systemPrompt})
	}
	for _, m := range s.Messages {
		out = append(out, m.ForModel())
	}
	return out
}

// ApplyCompaction 用摘要替换历史前缀：messages = [summary] + tail。摘要本身
// 进入待落盘队列，被替换的原始消息保留在已落盘的转写中。
// ApplyCompaction replaces history with [summary] + tail. The summary is
// queued for the transcript; the replaced originals stay in the on-disk log.
func (s *Session) ApplyCompaction(summary chat.Message, tail []chat.Message) {
	s.Messages = append([]chat.Message{summary}, tail...)
	s.pending = append(s.pending, summary)
	s.CompactionCount++
	s.LastCompactionAt = time.Now()
	s.touch()
}

// Snapshot 记录当前回合开始时的完整状态，供传输层失败时回滚。消息与待落盘
// 队列按值复制：回合中途的压缩会整体替换消息列表，仅凭长度无法还原。
// Snapshot captures the full turn-boundary state for fatal-turn rollback.
// Messages and the pending queue are copied by value: a mid-turn compaction
// replaces the message list wholesale, so lengths alone cannot restore it.
type Snapshot struct {
	messages         []chat.Message
	pending          []chat.Message
	inputTokens      int
	outputTokens     int
	compactionCount  int
	lastCompactionAt time.Time
	updatedAt        time.Time
}

// TakeSnapshot returns a snapshot of the current turn boundary.
func (s *Session) TakeSnapshot() Snapshot {
	return Snapshot{
		messages:         append([]chat.Message(nil), s.Messages...),
		pending:          append([]chat.Message(nil), s.pending...),
		inputTokens:      s.InputTokens,
		outputTokens:     s.OutputTokens,
		compactionCount:  s.CompactionCount,
		lastCompactionAt: s.LastCompactionAt,
		updatedAt:        s.UpdatedAt,
	}
}

// Rewind 回滚到快照：丢弃本回合新增的消息、token 计数与压缩效果，使重试安全。
// Rewind restores the snapshot, discarding this turn's appends, token counts,
// and any compaction applied mid-turn, so a retry can safely repeat the turn.
func (s *Session) Rewind(snap Snapshot) {
	s.Messages = append([]chat.Message(nil), snap.messages...)
	s.pending = append([]chat.Message(nil), snap.pending...)
	s.InputTokens = snap.inputTokens
	s.OutputTokens = snap.outputTokens
	s.TotalTokens = s.InputTokens + s.OutputTokens
	s.CompactionCount = snap.compactionCount
	s.LastCompactionAt = snap.lastCompactionAt
	s.UpdatedAt = snap.updatedAt
}

// DrainPending 取出并清空待落盘消息 / returns and clears unflushed messages
func (s *Session) DrainPending() []chat.Message {
	out := s.pending
	s.pending = nil
	return out
}

// RequeuePending 把落盘失败的批次放回队列头部，保持转写顺序，供重试保存。
// RequeuePending puts a failed flush batch back at the head of the queue,
// preserving transcript order so a retried save persists it.
func (s *Session) RequeuePending(batch []chat.Message) {
	if len(batch) == 0 {
		return
	}
	s.pending = append(append([]chat.Message(nil), batch...), s.pending...)
}

// PendingCount reports how many messages await a transcript flush.
func (s *Session) PendingCount() int { return len(s.pending) }

func (s *Session) touch() {
	now := time.Now()
	if now.After(s.UpdatedAt) {
		s.UpdatedAt = now
	}
}
