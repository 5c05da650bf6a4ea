package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"clawd/internal/chat"
	"clawd/internal/contextmgr"
	"clawd/internal/provider"
	"clawd/internal/session"
	"clawd/internal/tools"
)

// fakeProvider 按脚本回放响应 / fakeProvider replays scripted responses
type fakeProvider struct {
	responses []provider.ChatResponse
	errs      []error
	calls     int
	requests  []provider.ChatRequest
}

func (f *fakeProvider) Chat(_ context.Context, req provider.ChatRequest) (provider.ChatResponse, error) {
	f.requests = append(f.requests, req)
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return provider.ChatResponse{}, f.errs[i]
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return f.responses[len(f.responses)-1], nil
}

func (f *fakeProvider) Name() string            { return "fake" }
func (f *fakeProvider) CurrentModel() string    { return "fake-model" }
func (f *fakeProvider) SetModel(s string) error { return nil }

type echoTool struct{ fail bool }

func (t *echoTool) Name() string { return "echo" }

func (t *echoTool) Definition() chat.ToolDef {
	return chat.ToolDef{
		Type:     "function",
		Function: chat.ToolFunction{Name: "echo", Parameters: map[string]any{"type": "object"}},
	}
}

func (t *echoTool) Execute(_ context.Context, args json.RawMessage) (string, error) {
	if t.fail {
		return "", fmt.Errorf("echo exploded")
	}
	return "echoed:" + string(args), nil
}

func toolCallResponse(name string) provider.ChatResponse {
	return provider.ChatResponse{
		ToolCalls: []chat.ToolCall{{
			ID:       "call_1",
			Type:     "function",
			Function: chat.ToolCallFunction{Name: name, Arguments: `{"x":1}`},
		}},
		Usage: provider.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}
}

func textResponse(text string) provider.ChatResponse {
	return provider.ChatResponse{
		Content: text,
		Usage:   provider.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}
}

func newTestSession() *session.Session {
	return session.New(session.ForDM("main", "", ""), "sess1")
}

func TestRun_TerminatesWithoutTools(t *testing.T) {
	fp := &fakeProvider{responses: []provider.ChatResponse{textResponse("hello back")}}
	loop := New(fp, tools.NewRegistry(), nil, nil, Config{MaxTurns: 5}, nil)
	sess := newTestSession()

	out, err := loop.Run(context.Background(), sess, "hello", "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != "hello back" {
		t.Fatalf("out=%q", out)
	}
	if fp.calls != 1 {
		t.Fatalf("calls=%d, want 1", fp.calls)
	}
	if len(sess.Messages) != 2 {
		t.Fatalf("len=%d, want user + assistant", len(sess.Messages))
	}
	if sess.TotalTokens != 15 {
		t.Fatalf("tokens=%d, want 15", sess.TotalTokens)
	}
}

func TestRun_MaxTurnsForcedTerminal(t *testing.T) {
	// 模型每轮都要求调工具，永不收敛 / the model never stops asking for tools
	fp := &fakeProvider{responses: []provider.ChatResponse{toolCallResponse("echo")}}
	loop := New(fp, tools.NewRegistry(&echoTool{}), nil, nil, Config{MaxTurns: 3}, nil)
	sess := newTestSession()

	out, err := loop.Run(context.Background(), sess, "go", "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != actionLimitMessage {
		t.Fatalf("out=%q, want the fixed action-limit message", out)
	}
	if fp.calls != 3 {
		t.Fatalf("transport calls=%d, want exactly max_turns", fp.calls)
	}
	last := sess.Messages[len(sess.Messages)-1]
	if last.Role != chat.RoleAssistant || last.Content != actionLimitMessage {
		t.Fatalf("last message=%+v", last)
	}
}

func TestRun_FailingToolContinuesLoop(t *testing.T) {
	fp := &fakeProvider{responses: []provider.ChatResponse{
		toolCallResponse("echo"),
		textResponse("recovered"),
	}}
	loop := New(fp, tools.NewRegistry(&echoTool{fail: true}), nil, nil, Config{MaxTurns: 5}, nil)
	sess := newTestSession()

	out, err := loop.Run(context.Background(), sess, "go", "")
	if err != nil {
		t.Fatalf("a failing tool must not abort the turn: %v", err)
	}
	if out != "recovered" {
		t.Fatalf("out=%q", out)
	}

	var toolMsg *chat.Message
	for i := range sess.Messages {
		if sess.Messages[i].Role == chat.RoleTool {
			toolMsg = &sess.Messages[i]
		}
	}
	if toolMsg == nil {
		t.Fatal("tool result message missing")
	}
	if !strings.Contains(toolMsg.Content, "echo exploded") {
		t.Fatalf("failure should be captured as result text: %q", toolMsg.Content)
	}
}

func TestRun_UnknownToolIsResultText(t *testing.T) {
	fp := &fakeProvider{responses: []provider.ChatResponse{
		toolCallResponse("no_such_tool"),
		textResponse("done"),
	}}
	loop := New(fp, tools.NewRegistry(), nil, nil, Config{MaxTurns: 5}, nil)
	sess := newTestSession()

	out, err := loop.Run(context.Background(), sess, "go", "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != "done" {
		t.Fatalf("out=%q", out)
	}
	found := false
	for _, m := range sess.Messages {
		if m.Role == chat.RoleTool && strings.Contains(m.Content, "unknown tool") {
			found = true
		}
	}
	if !found {
		t.Fatal("unknown tool should produce an error result message")
	}
}

func TestRun_TransportFailureRewindsSession(t *testing.T) {
	sess := newTestSession()
	sess.AddUser("earlier message")
	sess.AddTokens(5, 5)
	sess.DrainPending()

	fp := &fakeProvider{
		responses: []provider.ChatResponse{{}},
		errs:      []error{fmt.Errorf("gateway timeout")},
	}
	loop := New(fp, tools.NewRegistry(), nil, nil, Config{MaxTurns: 3}, nil)

	_, err := loop.Run(context.Background(), sess, "doomed", "")
	if err == nil {
		t.Fatal("transport failure must surface as an error")
	}
	if len(sess.Messages) != 1 {
		t.Fatalf("len=%d, session must be unchanged after rollback", len(sess.Messages))
	}
	if sess.TotalTokens != 10 {
		t.Fatalf("tokens=%d, want pre-call value", sess.TotalTokens)
	}
	if sess.PendingCount() != 0 {
		t.Fatal("nothing from the failed turn may reach the transcript")
	}
}

func TestRun_TransportFailureUndoesCompaction(t *testing.T) {
	sess := newTestSession()
	for i := 1; i <= 14; i++ {
		sess.AddUser(fmt.Sprintf("note %d", i))
	}
	sess.DrainPending()

	summarizer := contextmgr.SummarizeFunc(func(_ context.Context, _ []chat.Message, _ string) (string, error) {
		return "recap of earlier notes", nil
	})
	// ContextWindow 1 令预算检查必然触发压缩 / a window of 1 forces compaction
	loop := New(
		&fakeProvider{responses: []provider.ChatResponse{{}}, errs: []error{fmt.Errorf("gateway timeout")}},
		tools.NewRegistry(),
		contextmgr.NewCompactor(summarizer, 0, 0),
		contextmgr.NewTokenizer("cl100k_base"),
		Config{MaxTurns: 3, ContextWindow: 1, KeepRecent: 10},
		nil,
	)

	_, err := loop.Run(context.Background(), sess, "doomed", "")
	if err == nil {
		t.Fatal("transport failure must surface as an error")
	}
	if len(sess.Messages) != 14 {
		t.Fatalf("len=%d, the pre-turn history must come back intact", len(sess.Messages))
	}
	if sess.Messages[0].Content != "note 1" || sess.Messages[13].Content != "note 14" {
		t.Fatalf("history diverged: first=%q last=%q",
			sess.Messages[0].Content, sess.Messages[13].Content)
	}
	for _, m := range sess.Messages {
		if m.Role == chat.RoleCompaction {
			t.Fatal("the mid-turn compaction summary must not survive the rollback")
		}
	}
	if sess.CompactionCount != 0 {
		t.Fatalf("compaction_count=%d, want 0 after rollback", sess.CompactionCount)
	}
	if sess.PendingCount() != 0 {
		t.Fatal("nothing from the failed turn may reach the transcript")
	}
}

func TestRun_SystemPromptCountsTowardCompaction(t *testing.T) {
	sess := newTestSession()
	for i := 1; i <= 5; i++ {
		sess.AddUser(fmt.Sprintf("m%d", i))
	}
	sess.DrainPending()

	summarizer := contextmgr.SummarizeFunc(func(_ context.Context, _ []chat.Message, _ string) (string, error) {
		return "recap", nil
	})
	// 消息本身远低于阈值，巨大的系统提示把总量推过去
	// the messages alone sit far under the threshold; the oversized system
	// prompt is what pushes the total across
	loop := New(
		&fakeProvider{responses: []provider.ChatResponse{textResponse("ok")}},
		tools.NewRegistry(),
		contextmgr.NewCompactor(summarizer, 1, 1),
		contextmgr.NewTokenizer("cl100k_base"),
		Config{MaxTurns: 2, ContextWindow: 2000, KeepRecent: 2, SystemPrompt: strings.Repeat("memory ", 10000)},
		nil,
	)

	if _, err := loop.Run(context.Background(), sess, "hello", ""); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sess.CompactionCount != 1 {
		t.Fatalf("compaction_count=%d, want 1: the prompt's tokens must count", sess.CompactionCount)
	}
	if !sess.Messages[0].IsCompaction() {
		t.Fatal("history should start with the compaction summary")
	}
}

func TestRun_EmitsToolEvents(t *testing.T) {
	fp := &fakeProvider{responses: []provider.ChatResponse{
		toolCallResponse("echo"),
		textResponse("bye"),
	}}
	loop := New(fp, tools.NewRegistry(&echoTool{}), nil, nil, Config{MaxTurns: 5}, nil)

	var events []Event
	loop.OnEvent(func(e Event) { events = append(events, e) })

	if _, err := loop.Run(context.Background(), newTestSession(), "go", ""); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events=%d, want start+end", len(events))
	}
	if events[0].Kind != EventToolStart || events[1].Kind != EventToolEnd {
		t.Fatalf("event order wrong: %+v", events)
	}
	if !strings.HasPrefix(events[1].Result, "echoed:") {
		t.Fatalf("end event should carry the result: %+v", events[1])
	}
}

func TestRun_ContextTextJoinsSystemPrompt(t *testing.T) {
	fp := &fakeProvider{responses: []provider.ChatResponse{textResponse("ok")}}
	loop := New(fp, tools.NewRegistry(), nil, nil,
		Config{MaxTurns: 2, SystemPrompt: "base prompt"}, nil)

	if _, err := loop.Run(context.Background(), newTestSession(), "hi", "workspace facts"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	first := fp.requests[0].Messages[0]
	if first.Role != chat.RoleSystem {
		t.Fatalf("first message role=%q", first.Role)
	}
	if !strings.Contains(first.Content, "base prompt") || !strings.Contains(first.Content, "workspace facts") {
		t.Fatalf("system prompt=%q", first.Content)
	}
}
