package ws

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chat-sync/internal/session"
)

// Hub maintains the UI websocket clients attached to the state stream.
type Hub struct {
	clients map[*websocket.Conn]ConnInfo
	mu      sync.RWMutex
	log     *zap.SugaredLogger
}

// NewHub creates an empty hub.
func NewHub(log *zap.SugaredLogger) *Hub {
	return &Hub{
		clients: make(map[*websocket.Conn]ConnInfo),
		log:     log,
	}
}

// AddClient registers a UI websocket connection.
func (h *Hub) AddClient(conn *websocket.Conn, info ConnInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = info
}

// RemoveClient removes a UI websocket connection.
func (h *Hub) RemoveClient(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, conn)
}

// ClientCount returns the number of attached UI clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastState pushes a state snapshot to every attached UI client.
func (h *Hub) BroadcastState(snap session.Snapshot) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	event := StateEvent{Type: "state", State: snap}
	payload, _ := json.Marshal(event)
	for _, conn := range conns {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.log.Warnw("websocket write error", "error", err)
			conn.Close()
			h.RemoveClient(conn)
		}
	}
}

// StateEvent is the wire envelope pushed to UI clients.
type StateEvent struct {
	Type  string           `json:"type"`
	State session.Snapshot `json:"state"`
}
