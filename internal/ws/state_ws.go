package ws

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chat-sync/internal/observability"
	"chat-sync/internal/session"
)

// StateStreamHandler upgrades UI connections and streams state snapshots.
type StateStreamHandler struct {
	hub     *Hub
	session *session.Session
	log     *zap.SugaredLogger
}

// NewStateStreamHandler constructs a StateStreamHandler.
func NewStateStreamHandler(hub *Hub, sess *session.Session, log *zap.SugaredLogger) *StateStreamHandler {
	return &StateStreamHandler{hub: hub, session: sess, log: log}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle upgrades the connection, sends the current snapshot and registers
// the client for subsequent broadcasts.
func (h *StateStreamHandler) Handle(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	info := ConnInfo{
		ConnID:      newConnID(),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		ConnectedAt: time.Now(),
	}
	h.hub.AddClient(conn, info)
	observability.IncWSActive()

	// Immediately seed the new client so it never renders empty state.
	h.hub.BroadcastState(h.session.Snapshot())

	// Keep connection alive and clean on close.
	go func() {
		defer func() {
			h.hub.RemoveClient(conn)
			observability.DecWSActive()
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					h.log.Debugw("ui websocket closed", "conn_id", info.ConnID, "error", err)
				}
				return
			}
		}
	}()
}
