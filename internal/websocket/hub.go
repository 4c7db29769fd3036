package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/dukerupert/hoadmin/internal/alert"
)

const (
	EventSession    = "session"
	EventPendingNew = "pending_new"
	EventHasNew     = "pending_flag"
	EventAck        = "ack"
)

// Event is a console notification sent to UI clients, or an
// acknowledgement sent back by one.
type Event struct {
	Type   string `json:"type"`
	Source string `json:"source,omitempty"`
	Data   any    `json:"data,omitempty"`
}

// Hub maintains the set of active UI clients and broadcasts events. The
// latest event of each retained type is replayed to clients that connect later.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*Client]struct{}
	retained map[string][]byte
	logger   *slog.Logger

	onEvent func(Event)
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:  make(map[*Client]struct{}),
		retained: make(map[string][]byte),
		logger:   logger.With("component", "hub"),
	}
}

// OnEvent sets the handler for events sent by clients.
func (h *Hub) OnEvent(fn func(Event)) {
	h.mu.Lock()
	h.onEvent = fn
	h.mu.Unlock()
}

// Register adds a client and queues the retained events for it.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	for _, data := range h.retained {
		select {
		case c.send <- data:
		default:
		}
	}
}

// Unregister removes a client from the hub and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Broadcast sends an event to all connected clients.
func (h *Hub) Broadcast(e Event) {
	h.broadcast(e, false)
}

// Retain broadcasts e and keeps it for clients that connect later.
func (h *Hub) Retain(e Event) {
	h.broadcast(e, true)
}

func (h *Hub) broadcast(e Event, retain bool) {
	data, err := json.Marshal(e)
	if err != nil {
		h.logger.Error("marshal broadcast", "error", err)
		return
	}

	if retain {
		h.mu.Lock()
		h.retained[e.Type+"/"+e.Source] = data
		h.mu.Unlock()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// Client buffer full, drop
		}
	}
}

// Alert broadcasts a pending-item notice.
func (h *Hub) Alert(_ context.Context, n alert.Notice) error {
	h.Broadcast(Event{Type: EventPendingNew, Source: n.Source, Data: n})
	return nil
}

// SetHasNew publishes a watcher's "has new" flag.
func (h *Hub) SetHasNew(source string, hasNew bool) {
	h.Retain(Event{Type: EventHasNew, Source: source, Data: hasNew})
}

func (h *Hub) handle(data []byte) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		h.logger.Debug("ignore client message", "error", err)
		return
	}
	h.mu.RLock()
	fn := h.onEvent
	h.mu.RUnlock()
	if fn != nil {
		fn(e)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
