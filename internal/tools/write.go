package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"clawd/internal/chat"
	"clawd/internal/security"
)

type WriteTool struct {
	ws *security.Workspace
}

func NewWriteTool(ws *security.Workspace) *WriteTool {
	return &WriteTool{ws: ws}
}

func (t *WriteTool) Name() string {
	return "write"
}

func (t *WriteTool) Definition() chat.ToolDef {
	return chat.ToolDef{
		Type: "function",
		Function: chat.ToolFunction{
			Name:        t.Name(),
			Description: "Write full content to a file in the workspace, creating parent directories as needed.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path":    map[string]any{"type": "string"},
					"content": map[string]any{"type": "string"},
				},
				"required": []string{"path", "content"},
			},
		},
	}
}

func (t *WriteTool) Execute(_ context.Context, args json.RawMessage) (string, error) {
	var in struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("write args: %w", err)
	}

	resolved, err := t.ws.Resolve(in.Path)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	existed := false
	if _, statErr := os.Stat(resolved); statErr == nil {
		existed = true
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return "", fmt.Errorf("create parent directories: %w", err)
	}
	if err := os.WriteFile(resolved, []byte(in.Content), 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}

	operation := "created"
	if existed {
		operation = "updated"
	}
	return mustJSON(map[string]any{
		"ok":        true,
		"path":      resolved,
		"size":      len(in.Content),
		"operation": operation,
	}), nil
}
