package adminapi

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Pimeng/tphira-mp-sub001/internal/v1/game"
)

type wsFixture struct {
	hub  *Hub
	conn *websocket.Conn
}

func newWSFixture(t *testing.T, rooms func() []game.RoomSnapshot) *wsFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	if rooms == nil {
		rooms = func() []game.RoomSnapshot { return nil }
	}
	hub := NewHub(func(token string) bool { return token == "admin-ok" }, rooms)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	hub.Run(ctx, &wg)

	router := gin.New()
	router.GET("/ws", hub.Serve)
	server := httptest.NewServer(router)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		cancel()
		wg.Wait()
		server.Close()
	})
	return &wsFixture{hub: hub, conn: conn}
}

func (f *wsFixture) send(t *testing.T, msg clientMessage) {
	t.Helper()
	require.NoError(t, f.conn.WriteJSON(msg))
}

func (f *wsFixture) recv(t *testing.T) serverMessage {
	t.Helper()
	require.NoError(t, f.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg serverMessage
	require.NoError(t, f.conn.ReadJSON(&msg))
	return msg
}

func TestPingPong(t *testing.T) {
	f := newWSFixture(t, nil)

	f.send(t, clientMessage{Type: "ping"})
	assert.Equal(t, "pong", f.recv(t).Type)
}

func TestUnknownMessageType(t *testing.T) {
	f := newWSFixture(t, nil)

	f.send(t, clientMessage{Type: "bogus"})
	msg := f.recv(t)
	assert.Equal(t, "error", msg.Type)
}

func TestRoomSubscription(t *testing.T) {
	f := newWSFixture(t, nil)

	f.send(t, clientMessage{Type: "subscribe", RoomID: "LOBBY"})
	// Ping round-trip guarantees the subscription is in place before the
	// update fires.
	f.send(t, clientMessage{Type: "ping"})
	require.Equal(t, "pong", f.recv(t).Type)

	f.hub.RoomUpdated(game.RoomSnapshot{ID: "LOBBY", HostName: "alice", Players: 2})

	msg := f.recv(t)
	require.Equal(t, "room_update", msg.Type)
	assert.Equal(t, "LOBBY", msg.RoomID)
	require.NotNil(t, msg.Room)
	assert.Equal(t, "alice", msg.Room.HostName)

	// Updates for other rooms are not delivered.
	f.hub.RoomUpdated(game.RoomSnapshot{ID: "OTHER"})
	f.hub.RoomDeleted("LOBBY")
	msg = f.recv(t)
	assert.Equal(t, "room_delete", msg.Type)
	assert.Equal(t, "LOBBY", msg.RoomID)
}

func TestSubscribeDeliversExistingSnapshot(t *testing.T) {
	f := newWSFixture(t, func() []game.RoomSnapshot {
		return []game.RoomSnapshot{{ID: "LOBBY", HostName: "bob"}}
	})

	f.send(t, clientMessage{Type: "subscribe", RoomID: "LOBBY"})
	msg := f.recv(t)
	require.Equal(t, "room_update", msg.Type)
	require.NotNil(t, msg.Room)
	assert.Equal(t, "bob", msg.Room.HostName)
}

func TestAdminSubscribeRequiresToken(t *testing.T) {
	f := newWSFixture(t, func() []game.RoomSnapshot {
		return []game.RoomSnapshot{{ID: "A"}, {ID: "B"}}
	})

	f.send(t, clientMessage{Type: "admin_subscribe", Token: "wrong"})
	assert.Equal(t, "error", f.recv(t).Type)

	f.send(t, clientMessage{Type: "admin_subscribe", Token: "admin-ok"})
	msg := f.recv(t)
	require.Equal(t, "admin_update", msg.Type)
	assert.Len(t, msg.Rooms, 2)

	// Any room change pushes a fresh full snapshot to admin subscribers.
	f.hub.RoomUpdated(game.RoomSnapshot{ID: "A"})
	msg = f.recv(t)
	assert.Equal(t, "admin_update", msg.Type)
	assert.Len(t, msg.Rooms, 2)
}
