package gateway

import (
	"log/slog"
	"sync"
)

// 事件名 / event names
const (
	EventMessageReceived = "message_received"
	EventResponseReady   = "response_ready"
	EventToolCall        = "tool_call"
	EventError           = "error"
)

// Handler 事件处理器 / event handler
type Handler func(payload any)

// Bus 进程内事件总线。处理器之间互相隔离：单个处理器 panic 或出错
// 不会阻断消息管线，也不影响其他处理器。
// Bus is the in-process event bus. Handlers are isolated from one another:
// a panicking handler never blocks the pipeline or its peers.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	logger   *slog.Logger
}

func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		handlers: make(map[string][]Handler),
		logger:   logger,
	}
}

// On 注册事件处理器 / register a handler for an event
func (b *Bus) On(event string, h Handler) {
	b.mu.Lock()
	b.handlers[event] = append(b.handlers[event], h)
	b.mu.Unlock()
}

// Emit 同步分发事件，逐个处理器恢复 panic。
// Emit dispatches synchronously, recovering each handler separately.
func (b *Bus) Emit(event string, payload any) {
	b.mu.RLock()
	hs := b.handlers[event]
	b.mu.RUnlock()

	for _, h := range hs {
		b.dispatch(event, h, payload)
	}
}

func (b *Bus) dispatch(event string, h Handler, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", "event", event, "panic", r)
		}
	}()
	h(payload)
}
