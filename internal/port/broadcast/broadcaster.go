// Package broadcast defines the port for fanning out tenant lifecycle events
// to subscribers such as websocket clients and the message queue.
package broadcast

import (
	"context"

	"github.com/Strob0t/TenantForge/internal/domain/event"
)

// Broadcaster delivers a lifecycle event. Delivery is best effort and must
// not block the caller for long.
type Broadcaster interface {
	BroadcastEvent(ctx context.Context, ev event.TenantEvent)
}

// Multi fans an event out to several broadcasters in order.
type Multi []Broadcaster

// BroadcastEvent sends ev to every non-nil broadcaster.
func (m Multi) BroadcastEvent(ctx context.Context, ev event.TenantEvent) {
	for _, b := range m {
		if b != nil {
			b.BroadcastEvent(ctx, ev)
		}
	}
}

// Nop discards events.
type Nop struct{}

// BroadcastEvent does nothing.
func (Nop) BroadcastEvent(context.Context, event.TenantEvent) {}
