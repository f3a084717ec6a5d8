package ws

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/Strob0t/TenantForge/internal/domain/event"
	"github.com/Strob0t/TenantForge/internal/port/broadcast"
)

var _ broadcast.Broadcaster = (*Hub)(nil)

// BroadcastEvent marshals a lifecycle event and sends it to clients
// watching that tenant.
func (h *Hub) BroadcastEvent(ctx context.Context, ev event.TenantEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("marshal ws event payload", "type", ev.Type, "error", err)
		return
	}

	h.BroadcastToTenant(ctx, ev.Username, Message{
		Type:    string(ev.Type),
		Payload: json.RawMessage(data),
	})
}
