package memory

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"
)

func openTestWorkspace(t *testing.T) *Workspace {
	t.Helper()
	ws, err := Open(t.TempDir(), 2)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return ws
}

func TestOpen_SeedsDefaults(t *testing.T) {
	ws := openTestWorkspace(t)
	for _, name := range []string{"SOUL.md", "USER.md", "AGENTS.md"} {
		if ws.readFile(name) == "" {
			t.Fatalf("%s should be seeded on first open", name)
		}
	}
	// MEMORY.md 不预建，由 agent 自己维护 / MEMORY.md is left for the agent
	if ws.readFile("MEMORY.md") != "" {
		t.Fatal("MEMORY.md should not be seeded")
	}
}

func TestOpen_DoesNotOverwrite(t *testing.T) {
	dir := t.TempDir()
	ws, err := Open(dir, 2)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := os.WriteFile(dir+"/SOUL.md", []byte("custom soul"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	ws, err = Open(dir, 2)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if ws.readFile("SOUL.md") != "custom soul" {
		t.Fatal("reopen must not overwrite an edited file")
	}
}

func TestBuildContext_MainVsGroup(t *testing.T) {
	ws := openTestWorkspace(t)
	if err := ws.WriteMemory("the user prefers tea"); err != nil {
		t.Fatalf("WriteMemory: %v", err)
	}

	main := ws.BuildContext(true)
	if !strings.Contains(main, "the user prefers tea") {
		t.Fatal("main session context should include MEMORY.md")
	}
	if !strings.Contains(main, "# Workspace Context") {
		t.Fatal("context header missing")
	}

	group := ws.BuildContext(false)
	if strings.Contains(group, "the user prefers tea") {
		t.Fatal("group session context must withhold MEMORY.md")
	}
	if !strings.Contains(group, "SOUL.md") {
		t.Fatal("group context still carries the personality files")
	}
}

func TestBuildContext_RecentDaily(t *testing.T) {
	ws := openTestWorkspace(t)
	if err := ws.AppendDaily("met with the team"); err != nil {
		t.Fatalf("AppendDaily: %v", err)
	}
	ctx := ws.BuildContext(true)
	if !strings.Contains(ctx, "met with the team") {
		t.Fatal("today's daily note should appear in the context")
	}
	if !strings.Contains(ctx, time.Now().Format("2006-01-02")) {
		t.Fatal("daily section should be dated")
	}
}

func TestSearch_RankedByScore(t *testing.T) {
	ws := openTestWorkspace(t)
	ws.WriteMemory("likes coffee\nproject deadline friday\ncoffee deadline both here")
	ws.AppendDaily("nothing relevant today")

	results := ws.Search("coffee deadline", 5)
	if len(results) < 2 {
		t.Fatalf("len=%d, want at least 2 hits", len(results))
	}
	if results[0].Score < results[len(results)-1].Score {
		t.Fatal("results should be ranked by descending score")
	}
	if !strings.Contains(results[0].Snippet, "coffee deadline both here") {
		t.Fatalf("best hit should match both words: %+v", results[0])
	}

	if got := ws.Search("coffee deadline", 1); len(got) != 1 {
		t.Fatalf("max_results not honored: %d", len(got))
	}
	if ws.Search("", 5) != nil {
		t.Fatal("empty query should return nothing")
	}
}

func TestSnippet(t *testing.T) {
	ws := openTestWorkspace(t)
	ws.WriteMemory("l1\nl2\nl3\nl4\nl5")

	snip, ok := ws.Snippet("MEMORY.md", 2, 2)
	if !ok || snip != "l2\nl3" {
		t.Fatalf("snippet=%q ok=%v", snip, ok)
	}
	if _, ok := ws.Snippet("../etc/passwd", 1, 5); ok {
		t.Fatal("paths outside the memory layout must be rejected")
	}
	if _, ok := ws.Snippet("memory/../../x.md", 1, 5); ok {
		t.Fatal("traversal inside memory/ must be rejected")
	}
}

func TestMemoryTools(t *testing.T) {
	ws := openTestWorkspace(t)

	update := NewUpdateTool(ws)
	if _, err := update.Execute(context.Background(),
		json.RawMessage(`{"content":"remember the anniversary"}`)); err != nil {
		t.Fatalf("memory_update: %v", err)
	}

	search := NewSearchTool(ws)
	out, err := search.Execute(context.Background(), json.RawMessage(`{"query":"anniversary"}`))
	if err != nil {
		t.Fatalf("memory_search: %v", err)
	}
	if !strings.Contains(out, "MEMORY.md") {
		t.Fatalf("search output should name the file: %q", out)
	}

	appendTool := NewAppendTool(ws)
	if _, err := appendTool.Execute(context.Background(),
		json.RawMessage(`{"content":"daily entry"}`)); err != nil {
		t.Fatalf("memory_append: %v", err)
	}

	get := NewGetTool(ws)
	out, err = get.Execute(context.Background(), json.RawMessage(`{"path":"MEMORY.md"}`))
	if err != nil {
		t.Fatalf("memory_get: %v", err)
	}
	if !strings.Contains(out, "remember the anniversary") {
		t.Fatalf("memory_get content=%q", out)
	}
	out, _ = get.Execute(context.Background(), json.RawMessage(`{"path":"nope.md"}`))
	if !strings.Contains(out, "not found") {
		t.Fatalf("missing file should report not found: %q", out)
	}
}
