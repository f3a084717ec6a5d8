package nats

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/Strob0t/TenantForge/internal/domain/event"
	"github.com/Strob0t/TenantForge/internal/port/broadcast"
	"github.com/Strob0t/TenantForge/internal/port/messagequeue"
)

var _ broadcast.Broadcaster = (*EventPublisher)(nil)

// EventPublisher forwards tenant lifecycle events to the message queue.
type EventPublisher struct {
	queue messagequeue.Queue
}

// NewEventPublisher creates a broadcaster that publishes to queue.
func NewEventPublisher(queue messagequeue.Queue) *EventPublisher {
	return &EventPublisher{queue: queue}
}

// BroadcastEvent publishes ev on its lifecycle subject. Publishing is best
// effort: the lifecycle operation has already happened.
func (p *EventPublisher) BroadcastEvent(ctx context.Context, ev event.TenantEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.ErrorContext(ctx, "marshal tenant event", "type", ev.Type, "error", err)
		return
	}
	if err := p.queue.Publish(ctx, ev.Subject(), data); err != nil {
		slog.WarnContext(ctx, "publish tenant event", "subject", ev.Subject(), "error", err)
	}
}
