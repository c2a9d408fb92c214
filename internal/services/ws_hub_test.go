package services

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"couple-sync-backend/internal/models"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// hubServer registers every upgraded connection under the user query param
func hubServer(t *testing.T, hub *WSHub) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := hub.Register(r.URL.Query().Get("user"), conn)
		defer hub.Unregister(client)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dialHub(t *testing.T, srv *httptest.Server, user string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?user=" + user
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestWSHub_DeliversEvents(t *testing.T) {
	hub := NewWSHub()
	srv := hubServer(t, hub)
	conn := dialHub(t, srv, "alice")
	require.Eventually(t, func() bool { return hub.IsOnline("alice") }, time.Second, time.Millisecond)

	hub.NotifyPairCreated("alice", &models.PartnerConnection{ID: "c1"})
	assert.Equal(t, "pair_created", readMessage(t, conn).Type)

	hub.NotifyPartnerStatus("bob", "alice", true)
	msg := readMessage(t, conn)
	assert.Equal(t, "partner_status", msg.Type)
	assert.Equal(t, "bob", msg.PartnerID)
	require.NotNil(t, msg.Online)
	assert.True(t, *msg.Online)

	hub.NotifyPairDeleted("alice")
	assert.Equal(t, "pair_deleted", readMessage(t, conn).Type)
}

func TestWSHub_OfflineUsers(t *testing.T) {
	hub := NewWSHub()
	assert.False(t, hub.IsOnline("nobody"))
	assert.ErrorIs(t, hub.SendToUser("nobody", WSMessage{Type: "x"}), ErrOffline)

	// Best-effort notifications to offline users are dropped silently.
	hub.NotifyPairDeleted("nobody")
	hub.NotifyFeedPost("nobody", &models.FeedPost{ID: "p"})
}

func TestWSHub_NewConnectionReplacesOld(t *testing.T) {
	hub := NewWSHub()
	srv := hubServer(t, hub)

	first := dialHub(t, srv, "alice")
	require.Eventually(t, func() bool { return hub.IsOnline("alice") }, time.Second, time.Millisecond)
	second := dialHub(t, srv, "alice")

	// The first connection is closed by the hub.
	require.NoError(t, first.SetReadDeadline(time.Now().Add(time.Second)))
	_, _, err := first.ReadMessage()
	require.Error(t, err)

	// The stale handler's Unregister must not remove the new connection.
	assert.Eventually(t, func() bool {
		return hub.SendToUser("alice", WSMessage{Type: "ping"}) == nil
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "ping", readMessage(t, second).Type)
}
