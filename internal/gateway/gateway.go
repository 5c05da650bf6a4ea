package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"clawd/internal/agent"
	"clawd/internal/memory"
	"clawd/internal/session"
	"clawd/internal/storage"
)

// IncomingMessage 来自任一渠道的入站消息及其路由事实。
// IncomingMessage carries one inbound message and its routing facts.
type IncomingMessage struct {
	Channel string
	Sender  string
	GroupID string
	Content string
}

// IsGroup 是否群聊消息 / whether this is a group message
func (m IncomingMessage) IsGroup() bool {
	return strings.TrimSpace(m.GroupID) != ""
}

// ToolEvent 工具事件的总线载荷 / bus payload for tool events
type ToolEvent struct {
	Kind string
	Tool string
}

// Gateway 面向渠道的消息入口：派生会话键、拦截保留命令、委托 agent 循环。
// 对每条入站消息保证恰好一次 agent 运行和一次存储保存。
// Gateway is the channel-facing entry point: it derives the session key,
// intercepts reserved commands, and otherwise delegates to the agent loop.
// Per inbound message it guarantees exactly one loop run and one save.
type Gateway struct {
	store     *storage.Store
	loop      *agent.Loop
	workspace *memory.Workspace
	bus       *Bus
	logger    *slog.Logger

	agentID   string
	dmScope   string
	modelName string
}

// Options Gateway 构造参数 / construction options
type Options struct {
	AgentID   string
	DMScope   string // session.ScopeMain / ScopePerPeer / ScopePerChannelPeer
	ModelName string
}

func New(store *storage.Store, loop *agent.Loop, workspace *memory.Workspace, opts Options, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.AgentID == "" {
		opts.AgentID = "main"
	}
	if opts.DMScope == "" {
		opts.DMScope = session.ScopeMain
	}
	g := &Gateway{
		store:     store,
		loop:      loop,
		workspace: workspace,
		bus:       NewBus(logger),
		logger:    logger,
		agentID:   opts.AgentID,
		dmScope:   opts.DMScope,
		modelName: opts.ModelName,
	}
	loop.OnEvent(func(e agent.Event) {
		g.bus.Emit(EventToolCall, ToolEvent{Kind: string(e.Kind), Tool: e.Tool})
	})
	return g
}

// On 注册事件处理器 / register an event handler
func (g *Gateway) On(event string, h Handler) {
	g.bus.On(event, h)
}

// HandleMessage 处理一条入站消息并返回要回给发送方的文本。
// 同一会话键上的处理互相串行，不同键完全并发。
// HandleMessage processes one inbound message and returns the reply text.
// Work on the same session key is serialized; distinct keys run freely.
func (g *Gateway) HandleMessage(ctx context.Context, msg IncomingMessage) (string, error) {
	g.bus.Emit(EventMessageReceived, msg)

	key := session.Derive(g.agentID, msg.Channel, msg.Sender, msg.GroupID, g.dmScope)
	unlock := g.store.LockKey(key)
	defer unlock()

	sess, err := g.store.Get(key)
	if err != nil {
		return "", fmt.Errorf("load session: %w", err)
	}
	sess.Origin = map[string]any{
		"channel":  msg.Channel,
		"sender":   msg.Sender,
		"group_id": msg.GroupID,
	}

	// 保留命令先于 agent 拦截 / reserved commands bypass the agent
	if strings.HasPrefix(strings.TrimSpace(msg.Content), "/") {
		if reply, handled := g.handleCommand(msg.Content, sess); handled {
			g.bus.Emit(EventResponseReady, reply)
			return reply, nil
		}
	}

	reply, runErr := g.loop.Run(ctx, sess, msg.Content, g.workspace.BuildContext(key.IsMain()))
	if runErr != nil {
		g.bus.Emit(EventError, runErr)
	}

	// 无论回合成败都执行唯一一次保存；失败回合已回滚，保存是幂等的。
	// One save per message regardless; a failed turn already rolled back.
	if err := g.store.Save(sess); err != nil {
		g.logger.Error("save session", "key", key.String(), "error", err)
		if runErr == nil {
			return "", fmt.Errorf("save session: %w", err)
		}
	}
	if runErr != nil {
		return "", runErr
	}

	g.bus.Emit(EventResponseReady, reply)
	return reply, nil
}

// handleCommand 处理保留的斜杠命令；未知命令透传给 agent。
// handleCommand serves reserved slash commands; unknown ones fall through.
func (g *Gateway) handleCommand(content string, sess *session.Session) (string, bool) {
	fields := strings.Fields(strings.TrimSpace(content))
	if len(fields) == 0 {
		return "", false
	}

	switch strings.ToLower(fields[0]) {
	case "/status":
		return g.formatStatus(sess), true

	case "/new", "/reset":
		fresh, err := g.store.Reset(sess.Key)
		if err != nil {
			return fmt.Sprintf("Reset failed: %s", err), true
		}
		return fmt.Sprintf("Session reset. New ID: %s", fresh.ID), true

	case "/help":
		return helpText, true

	case "/context":
		contextText := g.workspace.BuildContext(sess.Key.IsMain())
		preview := contextText
		if len(preview) > 2000 {
			preview = preview[:2000] + "..."
		}
		return fmt.Sprintf("Context length: %d chars\n\n%s", len(contextText), preview), true
	}
	return "", false
}

func (g *Gateway) formatStatus(sess *session.Session) string {
	return strings.Join([]string{
		"**Status**",
		"",
		fmt.Sprintf("**Session:** %s", sess.Key.String()),
		fmt.Sprintf("**ID:** %s", sess.ID),
		fmt.Sprintf("**Messages:** %d", len(sess.Messages)),
		fmt.Sprintf("**Tokens:** %d", sess.TotalTokens),
		fmt.Sprintf("**Compactions:** %d", sess.CompactionCount),
		fmt.Sprintf("**Model:** %s", g.modelName),
		fmt.Sprintf("**Updated:** %s", sess.UpdatedAt.Format("2006-01-02 15:04")),
	}, "\n")
}

const helpText = `**Commands**

/status - Show session status
/new or /reset - Reset the session
/context - Show current context
/help - Show this help

Type normally to chat with the assistant.`
