// Package ws implements the WebSocket adapter that streams tenant lifecycle
// events to dashboards.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/Strob0t/TenantForge/internal/domain/tenant"
)

const (
	writeTimeout = 5 * time.Second
	// sendQueueSize is the number of messages buffered per client before the
	// hub gives up on it.
	sendQueueSize = 64
)

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// conn wraps a single WebSocket connection. An empty username receives
// events for every tenant. Messages are queued on send and written by the
// connection's own writer goroutine.
type conn struct {
	ws       *websocket.Conn
	cancel   context.CancelFunc
	username string
	send     chan []byte
}

// Hub manages all active WebSocket connections and broadcasts messages.
type Hub struct {
	mu      sync.RWMutex
	conns   map[*conn]struct{}
	origins []string
}

// NewHub creates a new WebSocket hub. origins lists the accepted Origin
// patterns; empty accepts same-origin requests only.
func NewHub(origins ...string) *Hub {
	return &Hub{
		conns:   make(map[*conn]struct{}),
		origins: origins,
	}
}

// HandleWS upgrades the connection and blocks until the client goes away.
// The optional ?username= query parameter narrows the stream to one tenant.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		slog.Error("websocket accept failed", "error", err)
		return
	}

	var username string
	if raw := r.URL.Query().Get("username"); raw != "" {
		username = tenant.Normalize(raw)
	}

	ctx, cancel := context.WithCancel(r.Context())
	c := &conn{ws: ws, cancel: cancel, username: username, send: make(chan []byte, sendQueueSize)}

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(ctx, c)

	slog.Info("websocket connected", "remote", r.RemoteAddr, "username", username)

	defer func() {
		h.remove(c)
		_ = ws.Close(websocket.StatusNormalClosure, "")
	}()
	// Read loop detects disconnects and consumes pings.
	for {
		if _, _, err := ws.Read(ctx); err != nil {
			return
		}
	}
}

// Broadcast queues a message for all connected clients. Clients whose queue
// is full are disconnected.
func (h *Hub) Broadcast(_ context.Context, msg Message) {
	h.send("", msg)
}

// BroadcastToTenant sends a message to clients watching username and to
// unfiltered clients.
func (h *Hub) BroadcastToTenant(_ context.Context, username string, msg Message) {
	h.send(username, msg)
}

func (h *Hub) send(username string, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("websocket marshal failed", "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		if c.username == "" || username == "" || c.username == username {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.send <- data:
		default:
			slog.Warn("websocket client too slow, disconnecting", "username", c.username)
			h.remove(c)
		}
	}
}

// writeLoop writes queued messages until the connection is removed.
func (h *Hub) writeLoop(ctx context.Context, c *conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.ws.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				slog.Debug("websocket write failed", "error", err)
				h.remove(c)
				return
			}
		}
	}
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; ok {
		c.cancel()
		delete(h.conns, c)
		slog.Info("websocket disconnected", "username", c.username)
	}
}

// ServeHTTP lets the hub be mounted directly as a handler.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.HandleWS(w, r)
}
