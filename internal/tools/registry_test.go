package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"clawd/internal/chat"
)

type stubTool struct {
	name string
	fn   func(ctx context.Context, args json.RawMessage) (string, error)
}

func (t *stubTool) Name() string { return t.name }

func (t *stubTool) Definition() chat.ToolDef {
	return chat.ToolDef{
		Type:     "function",
		Function: chat.ToolFunction{Name: t.name, Parameters: map[string]any{"type": "object"}},
	}
}

func (t *stubTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	return t.fn(ctx, args)
}

func TestRegistry_LastWriteWins(t *testing.T) {
	first := &stubTool{name: "echo", fn: func(context.Context, json.RawMessage) (string, error) {
		return "first", nil
	}}
	second := &stubTool{name: "echo", fn: func(context.Context, json.RawMessage) (string, error) {
		return "second", nil
	}}

	r := NewRegistry(first)
	r.Register(second)

	out, err := r.Execute(context.Background(), "echo", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != "second" {
		t.Fatalf("out=%q, later registration should win", out)
	}
	if len(r.Definitions()) != 1 {
		t.Fatalf("definitions=%d, want 1", len(r.Definitions()))
	}
}

func TestRegistry_UnknownTool(t *testing.T) {
	r := NewRegistry()
	_, err := r.Execute(context.Background(), "nope", json.RawMessage(`{}`))
	if err == nil || !strings.Contains(err.Error(), "unknown tool") {
		t.Fatalf("err=%v", err)
	}
	if r.Has("nope") {
		t.Fatal("Has should be false for unregistered tool")
	}
}

func TestRegistry_DefinitionsSorted(t *testing.T) {
	nop := func(context.Context, json.RawMessage) (string, error) { return "", nil }
	r := NewRegistry(
		&stubTool{name: "zeta", fn: nop},
		&stubTool{name: "alpha", fn: nop},
		&stubTool{name: "mid", fn: nop},
	)
	names := r.Names()
	want := []string{"alpha", "mid", "zeta"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("names=%v, want %v", names, want)
		}
	}
}

func TestRegistry_Timeout(t *testing.T) {
	slow := &stubTool{name: "slow", fn: func(ctx context.Context, _ json.RawMessage) (string, error) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(5 * time.Second):
			return "done", nil
		}
	}}
	r := NewRegistry(slow)
	r.SetTimeout(20 * time.Millisecond)

	start := time.Now()
	_, err := r.Execute(context.Background(), "slow", json.RawMessage(`{}`))
	if err == nil {
		t.Fatal("timed-out tool should return an error")
	}
	if time.Since(start) > time.Second {
		t.Fatal("timeout did not bound the call")
	}
}

func TestParseSearchResults(t *testing.T) {
	page := `<html><body>
	<div class="result">
	  <a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fgo.dev%2F">The Go Programming Language</a>
	  <a class="result__snippet" href="#">Go is an open source language.</a>
	</div>
	<div class="result">
	  <a class="result__a" href="https://pkg.go.dev/">Packages</a>
	</div>
	</body></html>`

	results, err := parseSearchResults(strings.NewReader(page), 5)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len=%d, want 2", len(results))
	}
	if results[0].URL != "https://go.dev/" {
		t.Fatalf("redirect not unwrapped: %q", results[0].URL)
	}
	if results[0].Title != "The Go Programming Language" {
		t.Fatalf("title=%q", results[0].Title)
	}
	if results[0].Snippet == "" {
		t.Fatal("snippet should attach to the preceding result")
	}

	one, _ := parseSearchResults(strings.NewReader(page), 1)
	if len(one) != 1 {
		t.Fatalf("limit not honored: %d", len(one))
	}
}
