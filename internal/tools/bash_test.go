package tools

import (
	"context"
	"encoding/json"
	"testing"
)

func TestBashTool_Execute(t *testing.T) {
	tool := NewBashTool(t.TempDir(), 5000, 1<<20)

	out, err := tool.Execute(context.Background(), json.RawMessage(`{"command":"echo hello"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	var result struct {
		OK       bool   `json:"ok"`
		ExitCode int    `json:"exit_code"`
		Stdout   string `json:"stdout"`
	}
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if !result.OK || result.ExitCode != 0 || result.Stdout != "hello\n" {
		t.Fatalf("result=%+v", result)
	}
}

func TestBashTool_NonZeroExit(t *testing.T) {
	tool := NewBashTool(t.TempDir(), 5000, 1<<20)

	out, err := tool.Execute(context.Background(), json.RawMessage(`{"command":"exit 3"}`))
	if err != nil {
		t.Fatalf("non-zero exit is a result, not an error: %v", err)
	}
	var result struct {
		OK       bool `json:"ok"`
		ExitCode int  `json:"exit_code"`
	}
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result.OK || result.ExitCode != 3 {
		t.Fatalf("result=%+v", result)
	}
}

func TestBashTool_EmptyCommand(t *testing.T) {
	tool := NewBashTool(t.TempDir(), 5000, 1<<20)
	if _, err := tool.Execute(context.Background(), json.RawMessage(`{"command":"  "}`)); err == nil {
		t.Fatal("empty command should error")
	}
}

func TestCappedBuffer(t *testing.T) {
	b := newCappedBuffer(8)
	b.Write([]byte("12345"))
	b.Write([]byte("67890"))
	if !b.truncated {
		t.Fatal("buffer should be truncated")
	}
	s := b.String()
	if len(s) <= 8 {
		t.Fatalf("truncation marker missing: %q", s)
	}
}
