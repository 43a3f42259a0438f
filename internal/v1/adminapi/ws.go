package adminapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Pimeng/tphira-mp-sub001/internal/v1/game"
	"github.com/Pimeng/tphira-mp-sub001/internal/v1/logging"
)

const (
	wsWriteWait   = 10 * time.Second
	wsSendBuffer  = 32
	wsEventBuffer = 256
)

// clientMessage is what viewers send: ping, subscribe to one room, or
// subscribe to the full admin feed.
type clientMessage struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId,omitempty"`
	UserID int32  `json:"userId,omitempty"`
	Token  string `json:"token,omitempty"`
}

type serverMessage struct {
	Type   string              `json:"type"`
	RoomID string              `json:"roomId,omitempty"`
	Room   *game.RoomSnapshot  `json:"room,omitempty"`
	Rooms  []game.RoomSnapshot `json:"rooms,omitempty"`
	Tip    string              `json:"tip,omitempty"`
	Error  string              `json:"error,omitempty"`
}

type roomUpdateEvent struct{ room game.RoomSnapshot }
type roomDeleteEvent struct{ roomID string }

type wsClient struct {
	conn *websocket.Conn
	send chan []byte

	mu    sync.Mutex
	rooms map[string]struct{}
	admin bool
}

func (c *wsClient) enqueue(msg serverMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
		logging.Warn(context.Background(), "ws client send buffer full, dropping message",
			zap.String("type", msg.Type))
	}
}

func (c *wsClient) subscribedTo(roomID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.rooms[roomID]
	return ok
}

func (c *wsClient) isAdmin() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.admin
}

// Hub fans room lifecycle events out to websocket viewers. Registry hooks
// enqueue events without blocking; the hub's Run goroutine does the JSON work
// and the full-registry snapshots outside the registry mutex.
type Hub struct {
	verifyAdmin func(token string) bool
	listRooms   func() []game.RoomSnapshot
	upgrader    websocket.Upgrader

	// tip is set once before the hub starts serving.
	tip string

	events chan any

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

// NewHub builds a hub. verifyAdmin gates the admin feed; listRooms provides
// the full snapshot pushed to admin subscribers.
func NewHub(verifyAdmin func(string) bool, listRooms func() []game.RoomSnapshot) *Hub {
	return &Hub{
		verifyAdmin: verifyAdmin,
		listRooms:   listRooms,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The admin surface is same-origin or token-gated; tokens do the
			// real gating here.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		events:  make(chan any, wsEventBuffer),
		clients: make(map[*wsClient]struct{}),
	}
}

// RoomUpdated is the registry's room-update hook. It must not block: the
// caller holds the registry mutex.
func (h *Hub) RoomUpdated(room game.RoomSnapshot) {
	select {
	case h.events <- roomUpdateEvent{room: room}:
	default:
	}
}

// RoomDeleted is the registry's room-delete hook.
func (h *Hub) RoomDeleted(roomID string) {
	select {
	case h.events <- roomDeleteEvent{roomID: roomID}:
	default:
	}
}

// Run drains the event queue until ctx is cancelled.
func (h *Hub) Run(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				h.closeAll()
				return
			case ev := <-h.events:
				h.dispatch(ev)
			}
		}
	}()
}

func (h *Hub) dispatch(ev any) {
	var roomMsg serverMessage
	var roomID string
	switch e := ev.(type) {
	case roomUpdateEvent:
		room := e.room
		roomID = room.ID
		roomMsg = serverMessage{Type: "room_update", RoomID: roomID, Room: &room}
	case roomDeleteEvent:
		roomID = e.roomID
		roomMsg = serverMessage{Type: "room_delete", RoomID: roomID}
	default:
		return
	}

	var adminMsg *serverMessage
	for _, c := range h.clientList() {
		if c.subscribedTo(roomID) {
			c.enqueue(roomMsg)
		}
		if c.isAdmin() {
			if adminMsg == nil {
				adminMsg = &serverMessage{Type: "admin_update", Rooms: h.listRooms(), Tip: h.tip}
			}
			c.enqueue(*adminMsg)
		}
	}
}

func (h *Hub) clientList() []*wsClient {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c)
	}
	return out
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// Serve upgrades the request and runs the client's pumps.
func (h *Hub) Serve(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warn(c.Request.Context(), "ws upgrade failed", zap.Error(err))
		return
	}

	client := &wsClient{
		conn:  conn,
		send:  make(chan []byte, wsSendBuffer),
		rooms: make(map[string]struct{}),
	}
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	go h.writePump(client)
	h.readPump(client)
}

func (h *Hub) readPump(c *wsClient) {
	defer func() {
		h.mu.Lock()
		if _, ok := h.clients[c]; ok {
			delete(h.clients, c)
			close(c.send)
		}
		h.mu.Unlock()
		c.conn.Close()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.enqueue(serverMessage{Type: "error", Error: "bad message"})
			continue
		}
		h.handle(c, msg)
	}
}

func (h *Hub) handle(c *wsClient, msg clientMessage) {
	switch msg.Type {
	case "ping":
		c.enqueue(serverMessage{Type: "pong"})
	case "subscribe":
		if msg.RoomID == "" {
			c.enqueue(serverMessage{Type: "error", Error: "roomId required"})
			return
		}
		c.mu.Lock()
		c.rooms[msg.RoomID] = struct{}{}
		c.mu.Unlock()
		// Immediate snapshot so the viewer does not wait for the next change.
		if room, ok := h.roomByID(msg.RoomID); ok {
			c.enqueue(serverMessage{Type: "room_update", RoomID: msg.RoomID, Room: &room})
		}
	case "admin_subscribe":
		if !h.verifyAdmin(msg.Token) {
			c.enqueue(serverMessage{Type: "error", Error: "invalid admin token"})
			return
		}
		c.mu.Lock()
		c.admin = true
		c.mu.Unlock()
		c.enqueue(serverMessage{Type: "admin_update", Rooms: h.listRooms(), Tip: h.tip})
	default:
		c.enqueue(serverMessage{Type: "error", Error: "unknown message type"})
	}
}

func (h *Hub) roomByID(id string) (game.RoomSnapshot, bool) {
	for _, room := range h.listRooms() {
		if room.ID == id {
			return room, true
		}
	}
	return game.RoomSnapshot{}, false
}

func (h *Hub) writePump(c *wsClient) {
	defer c.conn.Close()
	for data := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
