package session

import (
	"strings"
	"testing"
	"time"

	"clawd/internal/chat"
)

func TestAddTokens_Invariant(t *testing.T) {
	s := New(ForDM("main", "", ""), "sess1")
	s.AddTokens(120, 30)
	s.AddTokens(80, 20)
	if s.TotalTokens != s.InputTokens+s.OutputTokens {
		t.Fatalf("total=%d, input=%d output=%d", s.TotalTokens, s.InputTokens, s.OutputTokens)
	}
	if s.TotalTokens != 250 {
		t.Fatalf("total=%d, want 250", s.TotalTokens)
	}
}

func TestAddMessage_BumpsUpdatedAt(t *testing.T) {
	s := New(ForDM("main", "", ""), "sess1")
	before := s.UpdatedAt
	time.Sleep(2 * time.Millisecond)
	s.AddUser("hello")
	if !s.UpdatedAt.After(before) {
		t.Fatal("updated_at should advance on append")
	}
	if s.PendingCount() != 1 {
		t.Fatalf("pending=%d, want 1", s.PendingCount())
	}
}

func TestModelMessages_CompactionProjection(t *testing.T) {
	s := New(ForDM("main", "", ""), "sess1")
	s.AddMessage(chat.Message{Role: chat.RoleCompaction, Content: "old stuff"})
	s.AddUser("hi")

	msgs := s.ModelMessages("you are helpful")
	if len(msgs) != 3 {
		t.Fatalf("len=%d, want 3", len(msgs))
	}
	if msgs[0].Role != chat.RoleSystem || msgs[0].Content != "you are helpful" {
		t.Fatalf("system prompt missing: %+v", msgs[0])
	}
	if msgs[1].Role != chat.RoleSystem || !strings.Contains(msgs[1].Content, "old stuff") {
		t.Fatalf("compaction should project to a system note: %+v", msgs[1])
	}
}

func TestApplyCompaction(t *testing.T) {
	s := New(ForDM("main", "", ""), "sess1")
	for i := 0; i < 5; i++ {
		s.AddUser("msg")
	}
	s.DrainPending()

	summary := chat.NewMessage(chat.RoleCompaction, "summary of 3")
	tail := append([]chat.Message(nil), s.Messages[3:]...)
	s.ApplyCompaction(summary, tail)

	if len(s.Messages) != 3 {
		t.Fatalf("len=%d, want 1 summary + 2 tail", len(s.Messages))
	}
	if !s.Messages[0].IsCompaction() {
		t.Fatal("first message should be the compaction summary")
	}
	if s.CompactionCount != 1 {
		t.Fatalf("compaction_count=%d, want 1", s.CompactionCount)
	}
	if s.LastCompactionAt.IsZero() {
		t.Fatal("last_compaction_at should be stamped")
	}
	// 摘要进入待落盘队列，被替换的消息不再重复落盘
	// only the summary is queued for the transcript
	pending := s.DrainPending()
	if len(pending) != 1 || !pending[0].IsCompaction() {
		t.Fatalf("pending should hold just the summary: %+v", pending)
	}
}

func TestSnapshotRewind(t *testing.T) {
	s := New(ForDM("main", "", ""), "sess1")
	s.AddUser("first")
	s.DrainPending()
	s.AddTokens(10, 5)

	snap := s.TakeSnapshot()
	s.AddUser("doomed turn")
	s.AddToolResult("call_1", "bash", "partial output")
	s.AddTokens(100, 50)

	s.Rewind(snap)
	if len(s.Messages) != 1 {
		t.Fatalf("len=%d, want 1 after rewind", len(s.Messages))
	}
	if s.TotalTokens != 15 {
		t.Fatalf("total=%d, want 15 after rewind", s.TotalTokens)
	}
	if s.PendingCount() != 0 {
		t.Fatalf("pending=%d, want 0 after rewind", s.PendingCount())
	}
}

func TestSnapshotRewind_UndoesCompaction(t *testing.T) {
	s := New(ForDM("main", "", ""), "sess1")
	for i := 1; i <= 14; i++ {
		s.AddUser("note " + string(rune('a'+i-1)))
	}
	s.DrainPending()

	// 回合中途发生压缩：消息列表被整体替换而非仅追加
	// compaction mid-turn replaces the list instead of appending to it
	snap := s.TakeSnapshot()
	s.AddUser("doomed turn")
	summary := chat.NewMessage(chat.RoleCompaction, "recap")
	tail := append([]chat.Message(nil), s.Messages[5:]...)
	s.ApplyCompaction(summary, tail)

	s.Rewind(snap)
	if len(s.Messages) != 14 {
		t.Fatalf("len=%d, want the 14 pre-turn messages back", len(s.Messages))
	}
	if s.Messages[0].Content != "note a" || s.Messages[13].Content != "note n" {
		t.Fatalf("message content diverged: first=%q last=%q",
			s.Messages[0].Content, s.Messages[13].Content)
	}
	for _, m := range s.Messages {
		if m.IsCompaction() {
			t.Fatal("no compaction summary may survive the rewind")
		}
	}
	if s.CompactionCount != 0 || !s.LastCompactionAt.IsZero() {
		t.Fatalf("compaction counters must roll back: count=%d at=%v",
			s.CompactionCount, s.LastCompactionAt)
	}
	if s.PendingCount() != 0 {
		t.Fatal("the queued summary must not leak into the transcript")
	}
}
