package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"clawd/internal/chat"
)

// 记忆工具：让模型自己检索和维护工作区文件。
// Memory tools let the model search and maintain its own workspace files.

type SearchTool struct {
	ws *Workspace
}

func NewSearchTool(ws *Workspace) *SearchTool { return &SearchTool{ws: ws} }

func (t *SearchTool) Name() string { return "memory_search" }

func (t *SearchTool) Definition() chat.ToolDef {
	return chat.ToolDef{
		Type: "function",
		Function: chat.ToolFunction{
			Name:        t.Name(),
			Description: "Search memory files (MEMORY.md and daily notes) for relevant information",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{"type": "string"},
					"max_results": map[string]any{
						"type":        "integer",
						"description": "Maximum number of results. Defaults to 5.",
					},
				},
				"required": []string{"query"},
			},
		},
	}
}

func (t *SearchTool) Execute(_ context.Context, args json.RawMessage) (string, error) {
	var in struct {
		Query      string `json:"query"`
		MaxResults int    `json:"max_results"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("memory_search args: %w", err)
	}

	results := t.ws.Search(in.Query, in.MaxResults)
	if len(results) == 0 {
		return "No relevant memories found.", nil
	}
	var parts []string
	for _, r := range results {
		parts = append(parts, fmt.Sprintf("**%s** (line %d):\n%s\n", r.Path, r.Line, r.Snippet))
	}
	return strings.Join(parts, "\n---\n"), nil
}

type GetTool struct {
	ws *Workspace
}

func NewGetTool(ws *Workspace) *GetTool { return &GetTool{ws: ws} }

func (t *GetTool) Name() string { return "memory_get" }

func (t *GetTool) Definition() chat.ToolDef {
	return chat.ToolDef{
		Type: "function",
		Function: chat.ToolFunction{
			Name:        t.Name(),
			Description: "Read a snippet from a memory file (MEMORY.md or memory/YYYY-MM-DD.md)",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path":      map[string]any{"type": "string"},
					"from_line": map[string]any{"type": "integer", "description": "1-based start line"},
					"lines":     map[string]any{"type": "integer", "description": "Number of lines, default 20"},
				},
				"required": []string{"path"},
			},
		},
	}
}

func (t *GetTool) Execute(_ context.Context, args json.RawMessage) (string, error) {
	var in struct {
		Path     string `json:"path"`
		FromLine int    `json:"from_line"`
		Lines    int    `json:"lines"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("memory_get args: %w", err)
	}

	content, ok := t.ws.Snippet(in.Path, in.FromLine, in.Lines)
	if !ok {
		return fmt.Sprintf("File not found: %s", in.Path), nil
	}
	return content, nil
}

type AppendTool struct {
	ws *Workspace
}

func NewAppendTool(ws *Workspace) *AppendTool { return &AppendTool{ws: ws} }

func (t *AppendTool) Name() string { return "memory_append" }

func (t *AppendTool) Definition() chat.ToolDef {
	return chat.ToolDef{
		Type: "function",
		Function: chat.ToolFunction{
			Name:        t.Name(),
			Description: "Append a note to today's daily memory file",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"content": map[string]any{"type": "string"},
				},
				"required": []string{"content"},
			},
		},
	}
}

func (t *AppendTool) Execute(_ context.Context, args json.RawMessage) (string, error) {
	var in struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("memory_append args: %w", err)
	}
	if err := t.ws.AppendDaily(in.Content); err != nil {
		return "", err
	}
	return fmt.Sprintf("Added to %s", filepath.Base(t.ws.DailyPath(time.Now()))), nil
}

type UpdateTool struct {
	ws *Workspace
}

func NewUpdateTool(ws *Workspace) *UpdateTool { return &UpdateTool{ws: ws} }

func (t *UpdateTool) Name() string { return "memory_update" }

func (t *UpdateTool) Definition() chat.ToolDef {
	return chat.ToolDef{
		Type: "function",
		Function: chat.ToolFunction{
			Name:        t.Name(),
			Description: "Replace the contents of MEMORY.md (curated long-term memory)",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"content": map[string]any{"type": "string"},
				},
				"required": []string{"content"},
			},
		},
	}
}

func (t *UpdateTool) Execute(_ context.Context, args json.RawMessage) (string, error) {
	var in struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("memory_update args: %w", err)
	}
	if err := t.ws.WriteMemory(in.Content); err != nil {
		return "", err
	}
	return "Updated MEMORY.md", nil
}
