// Package adminfeed broadcasts lifecycle transitions over a websocket
// for local operator tooling. It is a broadcast-only hub, not a
// subscription protocol: every connected client receives every
// transition for the lifetime of its connection.
package adminfeed

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bitechdev/ResolveSpec/pkg/eventplatform"
	"github.com/bitechdev/ResolveSpec/pkg/logger"
)

// Transition is the JSON payload broadcast on every lifecycle change.
type Transition struct {
	EventID    string              `json:"event_id"`
	TenantID   string              `json:"tenant_id"`
	EventType  string              `json:"event_type"`
	FromStatus eventplatform.Status `json:"from_status,omitempty"`
	ToStatus   eventplatform.Status `json:"to_status"`
	At         time.Time           `json:"at"`
}

// Hub fans out Transitions to every connected client.
type Hub struct {
	upgrader   websocket.Upgrader
	mu         sync.RWMutex
	clients    map[*websocket.Conn]chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	publish    chan []byte
}

// NewHub creates a Hub. Call Run in its own goroutine to start the
// event loop; ServeHTTP upgrades incoming connections.
func NewHub() *Hub {
	return &Hub{
		upgrader:   websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		clients:    make(map[*websocket.Conn]chan []byte),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		publish:    make(chan []byte, 256),
	}
}

// Run drives the hub's event loop until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = make(chan []byte, 16)
			count := len(h.clients)
			h.mu.Unlock()
			logger.Info("adminfeed: client connected (total: %d)", count)

		case conn := <-h.unregister:
			h.mu.Lock()
			if ch, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				close(ch)
			}
			h.mu.Unlock()

		case msg := <-h.publish:
			h.mu.RLock()
			for _, ch := range h.clients {
				select {
				case ch <- msg:
				default:
					logger.Warn("adminfeed: client send buffer full, dropping")
				}
			}
			h.mu.RUnlock()

		case <-ctx.Done():
			h.mu.Lock()
			for conn, ch := range h.clients {
				close(ch)
				_ = conn.Close()
			}
			h.clients = make(map[*websocket.Conn]chan []byte)
			h.mu.Unlock()
			return
		}
	}
}

// Broadcast publishes a lifecycle Transition to every connected client.
// It never blocks the caller: the publish channel is buffered and a
// full buffer drops the message rather than stalling the hot path.
func (h *Hub) Broadcast(t Transition) {
	data, err := json.Marshal(t)
	if err != nil {
		logger.Warn("adminfeed: failed to marshal transition: %v", err)
		return
	}
	select {
	case h.publish <- data:
	default:
		logger.Warn("adminfeed: publish buffer full, dropping transition for event %s", t.EventID)
	}
}

// ServeHTTP upgrades the request to a websocket and streams
// Transitions to it until the client disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("adminfeed: upgrade failed: %v", err)
		return
	}

	h.register <- conn
	h.mu.RLock()
	ch := h.clients[conn]
	h.mu.RUnlock()

	defer func() {
		h.unregister <- conn
		_ = conn.Close()
	}()

	go h.drainReads(conn)

	for msg := range ch {
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// drainReads discards client reads so the connection's close frames
// and pings are still processed by the gorilla/websocket library.
func (h *Hub) drainReads(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
