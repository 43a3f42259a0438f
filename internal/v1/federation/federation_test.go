package federation

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Pimeng/tphira-mp-sub001/internal/v1/bus"
	"github.com/Pimeng/tphira-mp-sub001/internal/v1/config"
	"github.com/Pimeng/tphira-mp-sub001/internal/v1/game"
	"github.com/Pimeng/tphira-mp-sub001/internal/v1/wire"
)

func TestTicketSingleUse(t *testing.T) {
	ts := NewTicketStore()
	id := ts.Issue(500, "visitor", "FED", "server-a", false)
	assert.Len(t, id, 24)

	ticket, ok := ts.Consume(id)
	require.True(t, ok)
	assert.Equal(t, int32(500), ticket.PlayerID)
	assert.Equal(t, wire.RoomID("FED"), ticket.RoomID)

	_, ok = ts.Consume(id)
	assert.False(t, ok)
}

func TestTicketExpiry(t *testing.T) {
	ts := NewTicketStore()
	now := time.Now()
	ts.now = func() time.Time { return now }

	id := ts.Issue(1, "p", "R", "a", false)

	now = now.Add(TicketTTL + time.Second)
	_, ok := ts.Consume(id)
	assert.False(t, ok)
}

func TestTicketSweepEvictsExpired(t *testing.T) {
	ts := NewTicketStore()
	now := time.Now()
	ts.now = func() time.Time { return now }

	ts.Issue(1, "p", "R", "a", false)
	ts.Issue(2, "q", "R", "a", false)
	now = now.Add(TicketTTL + time.Second)
	fresh := ts.Issue(3, "r", "R", "a", false)

	ts.sweep()

	ts.mu.Lock()
	remaining := len(ts.tickets)
	ts.mu.Unlock()
	assert.Equal(t, 1, remaining)

	_, ok := ts.Consume(fresh)
	assert.True(t, ok)
}

func TestRemoteRoomCacheEviction(t *testing.T) {
	var mu sync.Mutex
	added := map[wire.RoomID]bool{}
	evicted := map[wire.RoomID]bool{}
	c := NewRemoteRoomCache(
		func(id wire.RoomID) { mu.Lock(); added[id] = true; mu.Unlock() },
		func(id wire.RoomID) { mu.Lock(); evicted[id] = true; mu.Unlock() },
	)
	now := time.Now()
	c.now = func() time.Time { return now }

	c.Apply(bus.RoomAnnouncement{Server: "peer", Rooms: []game.RoomSnapshot{
		{ID: "R1", HostName: "h", Players: 3},
		{ID: "bad id!", HostName: "x"},
	}})
	assert.True(t, added["R1"])
	assert.False(t, added["bad id!"])

	e, ok := c.Lookup("R1")
	require.True(t, ok)
	assert.Equal(t, "peer", e.Server)
	assert.Equal(t, 3, e.Players)

	// Refresh keeps it alive past the original deadline.
	now = now.Add(40 * time.Second)
	c.Apply(bus.RoomAnnouncement{Server: "peer", Rooms: []game.RoomSnapshot{{ID: "R1"}}})
	now = now.Add(40 * time.Second)
	_, ok = c.Lookup("R1")
	assert.True(t, ok)

	now = now.Add(RemoteRoomTTL + time.Second)
	_, ok = c.Lookup("R1")
	assert.False(t, ok)
	assert.True(t, evicted["R1"])
}

func TestCacheSweep(t *testing.T) {
	c := NewRemoteRoomCache(nil, nil)
	now := time.Now()
	c.now = func() time.Time { return now }

	c.Apply(bus.RoomAnnouncement{Server: "peer", Rooms: []game.RoomSnapshot{{ID: "OLD"}}})
	now = now.Add(RemoteRoomTTL + time.Second)
	c.Apply(bus.RoomAnnouncement{Server: "peer", Rooms: []game.RoomSnapshot{{ID: "NEW"}}})

	c.Sweep()
	assert.Len(t, c.Entries(), 1)
	_, ok := c.Lookup("NEW")
	assert.True(t, ok)
}

func prepareBody(t *testing.T, req PrepareRequest) []byte {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)
	return body
}

func newTestService() *Service {
	return NewService("fed-secret", nil, NewTicketStore(), NewRemoteRoomCache(nil, nil))
}

func TestPrepareEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := newTestService()
	router := gin.New()
	svc.RegisterRoutes(router)

	body := prepareBody(t, PrepareRequest{
		PlayerID: 500, PlayerName: "visitor", TargetRoomID: "FED", SourceServer: "server-a",
	})

	t.Run("valid signature issues ticket", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/fed/prepare", bytes.NewReader(body))
		req.Header.Set(HMACHeader, SignHex([]byte("fed-secret"), body))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		var res PrepareResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
		assert.Len(t, res.Ticket, 24)

		ticket, ok := svc.Tickets().Consume(res.Ticket)
		require.True(t, ok)
		assert.Equal(t, "visitor", ticket.PlayerName)
	})

	t.Run("bad signature rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/fed/prepare", bytes.NewReader(body))
		req.Header.Set(HMACHeader, strings.Repeat("00", MACSize))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("invalid room id rejected", func(t *testing.T) {
		bad := prepareBody(t, PrepareRequest{PlayerID: 1, PlayerName: "p", TargetRoomID: "not ok!"})
		req := httptest.NewRequest(http.MethodPost, "/fed/prepare", bytes.NewReader(bad))
		req.Header.Set(HMACHeader, SignHex([]byte("fed-secret"), bad))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestPrepareClientAgainstPeer(t *testing.T) {
	gin.SetMode(gin.TestMode)
	peerSvc := newTestService()
	router := gin.New()
	peerSvc.RegisterRoutes(router)
	server := httptest.NewServer(router)
	defer server.Close()

	addr := strings.TrimPrefix(server.URL, "http://")
	caller := NewService("fed-secret", []config.Peer{{Name: "peer-b", Addr: addr}}, NewTicketStore(), NewRemoteRoomCache(nil, nil))

	ticket, err := caller.Prepare(t.Context(), config.Peer{Name: "peer-b", Addr: addr}, PrepareRequest{
		PlayerID: 9, PlayerName: "p", TargetRoomID: "R", SourceServer: "peer-a",
	})
	require.NoError(t, err)
	assert.Len(t, ticket, 24)

	// The issued ticket lives on the peer, not the caller.
	_, ok := caller.Tickets().Consume(ticket)
	assert.False(t, ok)
	_, ok = peerSvc.Tickets().Consume(ticket)
	assert.True(t, ok)
}

func TestLocatePreparesTicketOnPeer(t *testing.T) {
	gin.SetMode(gin.TestMode)
	peerSvc := newTestService()
	router := gin.New()
	peerSvc.RegisterRoutes(router)
	server := httptest.NewServer(router)
	defer server.Close()
	addr := strings.TrimPrefix(server.URL, "http://")

	cache := NewRemoteRoomCache(nil, nil)
	caller := NewService("fed-secret", []config.Peer{{Name: "peer-b", Addr: addr}}, NewTicketStore(), cache)

	_, err := caller.Locate(t.Context(), PrepareRequest{
		PlayerID: 9, PlayerName: "p", TargetRoomID: "HOP", SourceServer: "peer-a",
	})
	assert.ErrorIs(t, err, ErrUnknownRoom)

	cache.Apply(bus.RoomAnnouncement{Server: "peer-b", Rooms: []game.RoomSnapshot{{ID: "HOP"}}})
	res, err := caller.Locate(t.Context(), PrepareRequest{
		PlayerID: 9, PlayerName: "p", TargetRoomID: "HOP", SourceServer: "peer-a",
	})
	require.NoError(t, err)
	assert.Equal(t, "peer-b", res.Server)
	assert.Equal(t, addr, res.Addr)

	_, ok := peerSvc.Tickets().Consume(res.Ticket)
	assert.True(t, ok)
}

func TestPeerForUsesCache(t *testing.T) {
	cache := NewRemoteRoomCache(nil, nil)
	svc := NewService("s", []config.Peer{{Name: "peer-b", Addr: "b:1"}}, NewTicketStore(), cache)

	_, _, ok := svc.PeerFor("R")
	assert.False(t, ok)

	cache.Apply(bus.RoomAnnouncement{Server: "peer-b", Rooms: []game.RoomSnapshot{{ID: "R"}}})
	peer, entry, ok := svc.PeerFor("R")
	require.True(t, ok)
	assert.Equal(t, "b:1", peer.Addr)
	assert.Equal(t, "peer-b", entry.Server)
}
