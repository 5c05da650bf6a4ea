package channel

import (
	"context"

	"clawd/internal/gateway"
)

// HandlerFunc 渠道把入站消息交给网关处理的回调
// HandlerFunc hands one inbound message to the gateway
type HandlerFunc func(ctx context.Context, msg gateway.IncomingMessage) (string, error)

// Channel 一种消息渠道（CLI、webhook、……）。Run 阻塞直到 ctx 取消或渠道关闭。
// Channel is one message transport (CLI, webhook, ...). Run blocks until the
// context is cancelled or the channel shuts down.
type Channel interface {
	Name() string
	Run(ctx context.Context, handle HandlerFunc) error
}
