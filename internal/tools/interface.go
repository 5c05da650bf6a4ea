package tools

import (
	"context"
	"encoding/json"

	"clawd/internal/chat"
)

// Tool 单个可被模型调用的工具
// Tool is one capability the model can invoke
type Tool interface {
	Name() string
	Definition() chat.ToolDef
	Execute(ctx context.Context, args json.RawMessage) (string, error)
}
