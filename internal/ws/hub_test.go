package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"hospital-chat/internal/identity"
	"hospital-chat/internal/models"
	"hospital-chat/internal/session"
)

// newConnPair upgrades a loopback connection and hands back both ends: the
// server-side conn a client would hold, and the peer to read from.
func newConnPair(t *testing.T) (*websocket.Conn, *websocket.Conn) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	serverSide := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			serverSide <- nil
			return
		}
		serverSide <- conn
	}))
	t.Cleanup(srv.Close)

	peer, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { peer.Close() })

	conn := <-serverSide
	require.NotNil(t, conn)
	t.Cleanup(func() { conn.Close() })
	return conn, peer
}

func TestRegisterFirstConnectionBringsUserOnline(t *testing.T) {
	hub := NewHub(nil)
	first := &client{info: ConnInfo{ConnID: "k1", UserID: "u1"}}

	require.True(t, hub.register(first))
	require.True(t, hub.Presence().IsOnline("u1"))

	// A second tab does not change presence.
	second := &client{info: ConnInfo{ConnID: "k2", UserID: "u1"}}
	require.False(t, hub.register(second))
	require.True(t, hub.Presence().IsOnline("u1"))
}

func TestUnregisterLastConnectionTakesUserOffline(t *testing.T) {
	hub := NewHub(nil)
	first := &client{info: ConnInfo{ConnID: "k1", UserID: "u1"}}
	second := &client{info: ConnInfo{ConnID: "k2", UserID: "u1"}}
	hub.register(first)
	hub.register(second)

	require.False(t, hub.unregister(first))
	require.True(t, hub.Presence().IsOnline("u1"))

	require.True(t, hub.unregister(second))
	require.False(t, hub.Presence().IsOnline("u1"))
}

func TestUnregisterUnknownClientIsSafe(t *testing.T) {
	hub := NewHub(nil)
	require.False(t, hub.unregister(&client{info: ConnInfo{ConnID: "k9", UserID: "ghost"}}))
}

func TestJoinRoomImplicitlyLeavesPrevious(t *testing.T) {
	hub := NewHub(nil)
	cl := &client{info: ConnInfo{ConnID: "k1", UserID: "u1"}}
	hub.register(cl)

	hub.joinRoom("c1", cl)
	hub.mu.RLock()
	require.Contains(t, hub.rooms["c1"], cl)
	require.Equal(t, "c1", hub.roomOf[cl])
	hub.mu.RUnlock()

	hub.joinRoom("c2", cl)
	hub.mu.RLock()
	require.NotContains(t, hub.rooms, "c1")
	require.Contains(t, hub.rooms["c2"], cl)
	require.Equal(t, "c2", hub.roomOf[cl])
	hub.mu.RUnlock()
}

func TestUnregisterLeavesRoom(t *testing.T) {
	hub := NewHub(nil)
	cl := &client{info: ConnInfo{ConnID: "k1", UserID: "u1"}}
	hub.register(cl)
	hub.joinRoom("c1", cl)

	hub.unregister(cl)

	hub.mu.RLock()
	require.NotContains(t, hub.rooms, "c1")
	require.NotContains(t, hub.roomOf, cl)
	hub.mu.RUnlock()
}

func TestBrokenConnEvictionBroadcastsOffline(t *testing.T) {
	hub := NewHub(nil)

	brokenConn, _ := newConnPair(t)
	broken := &client{conn: brokenConn, info: ConnInfo{ConnID: "k1", UserID: "u1"}}
	hub.register(broken)

	healthyConn, healthyPeer := newConnPair(t)
	healthy := &client{conn: healthyConn, info: ConnInfo{ConnID: "k2", UserID: "u2"}}
	hub.register(healthy)

	require.NoError(t, brokenConn.Close())

	// The first broadcast that hits the dead conn evicts it; the surviving
	// connection must then hear that u1 went offline.
	hub.BroadcastPresence("u2", true)

	require.False(t, hub.Presence().IsOnline("u1"))

	require.NoError(t, healthyPeer.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var event models.ChannelEvent
		require.NoError(t, healthyPeer.ReadJSON(&event))
		if event.Type == models.EventUserOnline && event.UserID == "u1" {
			require.NotNil(t, event.Online)
			require.False(t, *event.Online)
			break
		}
	}

	// The read loop's own unregister finds nothing left to announce.
	require.False(t, hub.unregister(broken))
}

func TestDeliverMessageIntroducesUnknownChat(t *testing.T) {
	hub := NewHub(nil)
	conn, peer := newConnPair(t)
	ctrl := session.NewController("u2", nil, nil, nil, nil)
	cl := &client{conn: conn, info: ConnInfo{ConnID: "k1", UserID: "u2"}, ctrl: ctrl}
	hub.register(cl)

	// A one-to-one chat created by its opening message: u2's session has
	// never seen c1 when the first message arrives.
	chat := models.Chat{ID: "c1", Participants: []identity.UserRef{identity.FromID("u1"), identity.FromID("u2")}}
	msg := models.Message{ID: "m1", ChatID: "c1", Sender: identity.FromID("u1"), Content: "hello", CreatedAt: time.Now()}

	hub.DeliverMessage(context.Background(), chat, msg, nil)

	got, ok := ctrl.Directory().Get("c1")
	require.True(t, ok)
	require.NotNil(t, got.LastMessage)
	require.Equal(t, "hello", got.LastMessage.Content)
	require.Equal(t, 1, ctrl.Unread().Get("c1", "u2"))

	require.NoError(t, peer.SetReadDeadline(time.Now().Add(2*time.Second)))
	var event models.ChannelEvent
	require.NoError(t, peer.ReadJSON(&event))
	require.Equal(t, models.EventMessageReceived, event.Type)
	require.NotNil(t, event.Message)
	require.Equal(t, "m1", event.Message.ID)
}
