package usecase

import (
	"context"
	"log/slog"
	"sync"

	"custodia/internal/domain"
)

type EventHandler func(ctx context.Context, event domain.Event)

// EventBus delivers events synchronously, in subscription order. Handlers
// may publish further events.
type EventBus struct {
	mu       sync.RWMutex
	handlers []EventHandler
	logger   *slog.Logger
}

func NewEventBus(logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{logger: logger}
}

func (b *EventBus) Subscribe(h EventHandler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	b.handlers = append(b.handlers, h)
	b.mu.Unlock()
}

// Forward subscribes a notifier. Delivery errors are logged and dropped.
func (b *EventBus) Forward(n Notifier) {
	if n == nil {
		return
	}
	b.Subscribe(func(ctx context.Context, event domain.Event) {
		if err := n.Notify(ctx, event); err != nil {
			b.logger.Warn("event notification failed", "event", event.Type(), "error", err)
		}
	})
}

func (b *EventBus) Publish(ctx context.Context, event domain.Event) {
	if b == nil || event == nil {
		return
	}
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.handlers...)
	b.mu.RUnlock()
	for _, h := range handlers {
		h(ctx, event)
	}
}
