package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chat-sync/internal/session"
)

// dialTestClient upgrades one client/server websocket pair backed by a
// throwaway httptest server.
func dialTestClient(t *testing.T) (client *websocket.Conn, server *websocket.Conn) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	serverConns := make(chan *websocket.Conn, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		serverConns <- conn
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	select {
	case server = <-serverConns:
	case <-time.After(time.Second):
		t.Fatal("server side of websocket never arrived")
	}
	return client, server
}

func TestAddRemoveClient(t *testing.T) {
	hub := NewHub(zap.NewNop().Sugar())
	_, server := dialTestClient(t)

	hub.AddClient(server, ConnInfo{ConnID: "c1"})
	assert.Equal(t, 1, hub.ClientCount())

	hub.RemoveClient(server)
	assert.Equal(t, 0, hub.ClientCount())
}

func TestBroadcastStateReachesClient(t *testing.T) {
	hub := NewHub(zap.NewNop().Sugar())
	client, server := dialTestClient(t)
	hub.AddClient(server, ConnInfo{ConnID: "c1"})

	hub.BroadcastState(session.Snapshot{Peer: "bob"})

	client.SetReadDeadline(time.Now().Add(time.Second))
	_, payload, err := client.ReadMessage()
	require.NoError(t, err)

	var event StateEvent
	require.NoError(t, json.Unmarshal(payload, &event))
	assert.Equal(t, "state", event.Type)
	assert.Equal(t, "bob", event.State.Peer)
}

func TestBroadcastDropsDeadClient(t *testing.T) {
	hub := NewHub(zap.NewNop().Sugar())
	_, server := dialTestClient(t)
	hub.AddClient(server, ConnInfo{ConnID: "c1"})

	require.NoError(t, server.Close())

	hub.BroadcastState(session.Snapshot{})
	assert.Equal(t, 0, hub.ClientCount())
}
