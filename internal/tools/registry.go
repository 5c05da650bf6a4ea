package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"clawd/internal/chat"
)

// Registry 工具注册表。注册采用同名后注册者覆盖前者；Execute 对每次调用
// 加独立超时，挂死的外部命令只拖垮自己这一次调用。
// Registry holds the tool set. Registration is last-write-wins on name
// collision; Execute bounds each call with its own timeout so a hung
// external command never hangs the loop.
type Registry struct {
	tools   map[string]Tool
	timeout time.Duration
}

func NewRegistry(ts ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(ts))}
	for _, t := range ts {
		r.Register(t)
	}
	return r
}

// Register 注册工具，同名覆盖 / Register a tool, last write wins
func (r *Registry) Register(t Tool) {
	r.tools[t.Name()] = t
}

// SetTimeout 设置单次工具调用的超时，0 表示不限制
// SetTimeout bounds a single tool call; zero means unbounded
func (r *Registry) SetTimeout(d time.Duration) {
	r.timeout = d
}

// Definitions 按名称排序导出全部工具 schema
// Definitions exports every tool schema, sorted by name
func (r *Registry) Definitions() []chat.ToolDef {
	out := make([]chat.ToolDef, 0, len(r.tools))
	for _, name := range r.Names() {
		out = append(out, r.tools[name].Definition())
	}
	return out
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Has(name string) bool {
	_, ok := r.tools[name]
	return ok
}

func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) (string, error) {
	t, ok := r.tools[name]
	if !ok {
		return "", fmt.Errorf("unknown tool: %s", name)
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	return t.Execute(ctx, args)
}
