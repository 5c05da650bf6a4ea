package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"clawd/internal/chat"
	"clawd/internal/security"
)

type ReadTool struct {
	ws *security.Workspace
}

func NewReadTool(ws *security.Workspace) *ReadTool {
	return &ReadTool{ws: ws}
}

func (t *ReadTool) Name() string {
	return "read"
}

func (t *ReadTool) Definition() chat.ToolDef {
	return chat.ToolDef{
		Type: "function",
		Function: chat.ToolFunction{
			Name:        t.Name(),
			Description: "Read file content from the workspace",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{"type": "string"},
					"offset": map[string]any{
						"type":        "integer",
						"description": "Line offset (1-based). Defaults to 1.",
					},
					"limit": map[string]any{
						"type":        "integer",
						"description": "Max number of lines to read. Defaults to 100, capped at 500.",
					},
				},
				"required": []string{"path"},
			},
		},
	}
}

func (t *ReadTool) Execute(_ context.Context, args json.RawMessage) (string, error) {
	var in struct {
		Path   string `json:"path"`
		Offset int    `json:"offset"`
		Limit  int    `json:"limit"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("read args: %w", err)
	}
	const (
		defaultLimit = 100
		maxLimit     = 500
	)
	if in.Offset <= 0 {
		in.Offset = 1
	}
	if in.Limit <= 0 {
		in.Limit = defaultLimit
	}
	if in.Limit > maxLimit {
		in.Limit = maxLimit
	}

	resolved, err := t.ws.Resolve(in.Path)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	f, err := os.Open(resolved)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	defer f.Close()

	var lines []string
	lineNo := 0
	endLine := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lineNo++
		if lineNo < in.Offset {
			continue
		}
		if len(lines) < in.Limit {
			lines = append(lines, scanner.Text())
			endLine = lineNo
		}
		// 超出 limit 后继续扫描以判断 has_more / keep scanning to detect more
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}

	return mustJSON(map[string]any{
		"ok":         true,
		"path":       resolved,
		"content":    strings.Join(lines, "\n"),
		"start_line": in.Offset,
		"end_line":   endLine,
		"has_more":   lineNo > endLine && endLine != 0,
	}), nil
}
