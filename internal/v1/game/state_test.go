package game

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Pimeng/tphira-mp-sub001/internal/v1/locale"
	"github.com/Pimeng/tphira-mp-sub001/internal/v1/wire"
)

type fakeConn struct {
	id uuid.UUID

	mu     sync.Mutex
	sent   []*wire.ServerCommand
	closed bool
}

func newFakeConn() *fakeConn { return &fakeConn{id: uuid.New()} }

func (c *fakeConn) ID() uuid.UUID { return c.id }

func (c *fakeConn) SendCommand(cmd *wire.ServerCommand) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, cmd)
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) messages(t wire.MessageType) []wire.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []wire.Message
	for _, cmd := range c.sent {
		if cmd.Type == wire.ServerCmdMessage && cmd.Message.Type == t {
			out = append(out, *cmd.Message)
		}
	}
	return out
}

func (c *fakeConn) lastState() *wire.RoomState {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.sent) - 1; i >= 0; i-- {
		if c.sent[i].Type == wire.ServerCmdChangeState {
			return c.sent[i].NewState
		}
	}
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func mustRoomID(t *testing.T, s string) wire.RoomID {
	t.Helper()
	id, err := wire.ParseRoomID(s)
	require.NoError(t, err)
	return id
}

// bind authenticates a fresh user and returns it with its connection.
func bind(t *testing.T, s *State, id int32, name string) (*User, *fakeConn) {
	t.Helper()
	c := newFakeConn()
	res, reason := s.BindUser(c, id, name, "en-US")
	require.Empty(t, reason)
	require.Equal(t, id, res.User.ID)
	u := s.LookupUser(id)
	require.NotNil(t, u)
	return u, c
}

func TestCreateJoinPlayFlow(t *testing.T) {
	s := NewState(Options{RoomMaxUsers: 8, ReplayEnabled: true})

	var endedRecords map[int32]int32
	s.SetHooks(Hooks{
		OnGameEnd: func(_ RoomSnapshot, chart Chart, records map[int32]int32) {
			assert.Equal(t, int32(42), chart.ID)
			endedRecords = records
		},
	})

	alice, aliceConn := bind(t, s, 100, "alice")
	bob, bobConn := bind(t, s, 101, "bob")

	roomID := mustRoomID(t, "TEST-1")
	require.NotNil(t, s.CreateRoom(alice, roomID).Ok)

	joinRes := s.JoinRoom(bob, roomID, false)
	require.NotNil(t, joinRes.Ok)
	assert.Equal(t, wire.StateSelectChart, joinRes.Ok.State.Type)
	assert.Len(t, joinRes.Ok.Users, 2)
	assert.False(t, joinRes.Ok.Live)

	// Only existing members get the join notifications.
	require.Len(t, aliceConn.messages(wire.MsgJoinRoom), 1)
	assert.Empty(t, bobConn.messages(wire.MsgJoinRoom))

	assert.Equal(t, locale.NotHost, s.SelectChart(bob, Chart{ID: 42, Name: "Spasmodic"}).Err)
	require.NotNil(t, s.SelectChart(alice, Chart{ID: 42, Name: "Spasmodic"}).Ok)
	require.Len(t, bobConn.messages(wire.MsgSelectChart), 1)
	assert.Equal(t, int32(42), bobConn.messages(wire.MsgSelectChart)[0].ChartID)

	require.NotNil(t, s.RequestStart(alice).Ok)
	require.NotNil(t, s.Ready(alice).Ok)
	assert.Empty(t, bobConn.messages(wire.MsgStartPlaying))

	require.NotNil(t, s.Ready(bob).Ok)
	require.Len(t, bobConn.messages(wire.MsgStartPlaying), 1)
	require.NotNil(t, bobConn.lastState())
	assert.Equal(t, wire.StatePlaying, bobConn.lastState().Type)

	require.NotNil(t, s.Played(alice, PlayedRecord{RecordID: 7, Score: 990000, Accuracy: 0.98, FullCombo: true}).Ok)
	assert.Nil(t, endedRecords)

	require.NotNil(t, s.Played(bob, PlayedRecord{RecordID: 8, Score: 950000}).Ok)
	require.Len(t, bobConn.messages(wire.MsgGameEnd), 1)
	assert.Equal(t, map[int32]int32{100: 7, 101: 8}, endedRecords)

	// Cycle is off, so the selection is cleared on game end.
	st := bobConn.lastState()
	require.NotNil(t, st)
	assert.Equal(t, wire.StateSelectChart, st.Type)
	assert.Nil(t, st.ChartID)
}

func TestCycleKeepsChartAcrossGameEnd(t *testing.T) {
	s := NewState(Options{})
	alice, _ := bind(t, s, 100, "alice")
	roomID := mustRoomID(t, "CYCLE")

	require.NotNil(t, s.CreateRoom(alice, roomID).Ok)
	require.NotNil(t, s.CycleRoom(alice, true).Ok)
	require.NotNil(t, s.SelectChart(alice, Chart{ID: 5, Name: "chart"}).Ok)
	require.NotNil(t, s.RequestStart(alice).Ok)
	require.NotNil(t, s.Ready(alice).Ok)
	require.NotNil(t, s.Played(alice, PlayedRecord{RecordID: 1}).Ok)

	snap, ok := s.RoomSnapshotByID("CYCLE")
	require.True(t, ok)
	require.NotNil(t, snap.ChartID)
	assert.Equal(t, int32(5), *snap.ChartID)
}

func TestAbortByEveryoneCancelsGame(t *testing.T) {
	s := NewState(Options{})
	alice, aliceConn := bind(t, s, 100, "alice")
	bob, _ := bind(t, s, 101, "bob")
	roomID := mustRoomID(t, "ABORT")

	require.NotNil(t, s.CreateRoom(alice, roomID).Ok)
	require.NotNil(t, s.JoinRoom(bob, roomID, false).Ok)
	require.NotNil(t, s.SelectChart(alice, Chart{ID: 1, Name: "c"}).Ok)
	require.NotNil(t, s.RequestStart(alice).Ok)
	require.NotNil(t, s.Ready(alice).Ok)
	require.NotNil(t, s.Ready(bob).Ok)

	require.NotNil(t, s.Abort(alice).Ok)
	assert.Empty(t, aliceConn.messages(wire.MsgCancelGame))

	require.NotNil(t, s.Abort(bob).Ok)
	cancels := aliceConn.messages(wire.MsgCancelGame)
	require.Len(t, cancels, 1)
	assert.Equal(t, int32(100), cancels[0].User)
	assert.Empty(t, aliceConn.messages(wire.MsgGameEnd))

	snap, ok := s.RoomSnapshotByID("ABORT")
	require.True(t, ok)
	assert.Equal(t, "SelectChart", snap.State)
}

func TestJoinRules(t *testing.T) {
	s := NewState(Options{RoomMaxUsers: 2, Monitors: []int32{900}})
	alice, _ := bind(t, s, 100, "alice")
	roomID := mustRoomID(t, "RULES")
	require.NotNil(t, s.CreateRoom(alice, roomID).Ok)

	t.Run("unknown room", func(t *testing.T) {
		u, _ := bind(t, s, 101, "bob")
		assert.Equal(t, locale.RoomNotFound, s.JoinRoom(u, mustRoomID(t, "NOPE"), false).Err)
	})

	t.Run("monitor requires privilege", func(t *testing.T) {
		u := s.LookupUser(101)
		assert.Equal(t, "join-cant-monitor", s.JoinRoom(u, roomID, true).Err)
	})

	t.Run("privileged monitor joins and sets live", func(t *testing.T) {
		mon, _ := bind(t, s, 900, "watcher")
		res := s.JoinRoom(mon, roomID, true)
		require.NotNil(t, res.Ok)
		assert.True(t, res.Ok.Live)
	})

	t.Run("capacity counts monitors", func(t *testing.T) {
		u := s.LookupUser(101)
		assert.Equal(t, locale.RoomFull, s.JoinRoom(u, roomID, false).Err)
	})

	t.Run("locked room rejects joins", func(t *testing.T) {
		s2 := NewState(Options{})
		host, _ := bind(t, s2, 1, "host")
		id := mustRoomID(t, "LOCKED")
		require.NotNil(t, s2.CreateRoom(host, id).Ok)
		require.NotNil(t, s2.LockRoom(host, true).Ok)
		u, _ := bind(t, s2, 2, "u")
		assert.Equal(t, locale.RoomLocked, s2.JoinRoom(u, id, false).Err)
	})

	t.Run("no mid-game join", func(t *testing.T) {
		s2 := NewState(Options{})
		host, _ := bind(t, s2, 1, "host")
		id := mustRoomID(t, "GAME")
		require.NotNil(t, s2.CreateRoom(host, id).Ok)
		require.NotNil(t, s2.SelectChart(host, Chart{ID: 1, Name: "c"}).Ok)
		require.NotNil(t, s2.RequestStart(host).Ok)
		u, _ := bind(t, s2, 2, "u")
		assert.Equal(t, locale.RoomInGame, s2.JoinRoom(u, id, false).Err)
	})

	t.Run("contest whitelist", func(t *testing.T) {
		s2 := NewState(Options{})
		s2.SetContestWhitelist("CONTEST", []int32{1, 2})
		host, _ := bind(t, s2, 1, "host")
		id := mustRoomID(t, "CONTEST")
		require.NotNil(t, s2.CreateRoom(host, id).Ok)
		outsider, _ := bind(t, s2, 3, "outsider")
		assert.Equal(t, locale.ContestOnly, s2.JoinRoom(outsider, id, false).Err)
		insider, _ := bind(t, s2, 2, "insider")
		require.NotNil(t, s2.JoinRoom(insider, id, false).Ok)
	})
}

func TestHostSuccession(t *testing.T) {
	s := NewState(Options{})
	host, _ := bind(t, s, 100, "host")
	second, secondConn := bind(t, s, 101, "second")
	third, thirdConn := bind(t, s, 102, "third")

	roomID := mustRoomID(t, "SUCC")
	require.NotNil(t, s.CreateRoom(host, roomID).Ok)
	require.NotNil(t, s.JoinRoom(second, roomID, false).Ok)
	require.NotNil(t, s.JoinRoom(third, roomID, false).Ok)

	require.NotNil(t, s.LeaveRoom(host).Ok)

	for _, c := range []*fakeConn{secondConn, thirdConn} {
		leaves := c.messages(wire.MsgLeaveRoom)
		require.Len(t, leaves, 1)
		assert.Equal(t, int32(100), leaves[0].User)
		newHosts := c.messages(wire.MsgNewHost)
		require.Len(t, newHosts, 1)
		assert.Equal(t, int32(101), newHosts[0].User)
	}

	// Only the new host gets the ChangeHost notification with is_host=true.
	secondConn.mu.Lock()
	var gotChangeHost bool
	for _, cmd := range secondConn.sent {
		if cmd.Type == wire.ServerCmdChangeHost {
			gotChangeHost = true
			assert.True(t, cmd.IsHost)
		}
	}
	secondConn.mu.Unlock()
	assert.True(t, gotChangeHost)

	snap, ok := s.RoomSnapshotByID("SUCC")
	require.True(t, ok)
	assert.Equal(t, int32(101), snap.HostID)
}

func TestLeaveEmptiesAndDeletesRoom(t *testing.T) {
	s := NewState(Options{})
	alice, _ := bind(t, s, 100, "alice")
	roomID := mustRoomID(t, "EMPTY")
	require.NotNil(t, s.CreateRoom(alice, roomID).Ok)
	require.NotNil(t, s.LeaveRoom(alice).Ok)

	_, ok := s.RoomSnapshotByID("EMPTY")
	assert.False(t, ok)
	// The id is reusable after deletion.
	require.NotNil(t, s.CreateRoom(alice, roomID).Ok)
}

func TestHostLeaveDuringWaitForReadyRollsBack(t *testing.T) {
	s := NewState(Options{})
	host, _ := bind(t, s, 100, "host")
	bob, bobConn := bind(t, s, 101, "bob")
	roomID := mustRoomID(t, "ROLL")

	require.NotNil(t, s.CreateRoom(host, roomID).Ok)
	require.NotNil(t, s.JoinRoom(bob, roomID, false).Ok)
	require.NotNil(t, s.SelectChart(host, Chart{ID: 9, Name: "c"}).Ok)
	require.NotNil(t, s.RequestStart(host).Ok)

	require.NotNil(t, s.LeaveRoom(host).Ok)

	st := bobConn.lastState()
	require.NotNil(t, st)
	assert.Equal(t, wire.StateSelectChart, st.Type)
	require.NotNil(t, st.ChartID)
	assert.Equal(t, int32(9), *st.ChartID)
}

func TestDangleRebindPreservesRoom(t *testing.T) {
	s := NewState(Options{DangleGrace: 50 * time.Millisecond})
	alice, conn := bind(t, s, 100, "alice")
	roomID := mustRoomID(t, "DANGLE")
	require.NotNil(t, s.CreateRoom(alice, roomID).Ok)

	s.DetachUser(alice, conn)

	res, reason := s.BindUser(newFakeConn(), 100, "alice", "en-US")
	require.Empty(t, reason)
	require.NotNil(t, res.Room)
	assert.Equal(t, roomID, res.Room.ID)
	assert.True(t, res.Room.IsHost)
}

func TestDangleSweepRemovesUserAndRoom(t *testing.T) {
	s := NewState(Options{DangleGrace: 10 * time.Millisecond})
	alice, conn := bind(t, s, 100, "alice")
	roomID := mustRoomID(t, "SWEEP")
	require.NotNil(t, s.CreateRoom(alice, roomID).Ok)

	s.DetachUser(alice, conn)
	time.Sleep(20 * time.Millisecond)
	s.SweepDangling()

	assert.Nil(t, s.LookupUser(100))
	_, ok := s.RoomSnapshotByID("SWEEP")
	assert.False(t, ok)
}

func TestTakeoverClosesPreviousConnection(t *testing.T) {
	s := NewState(Options{})
	_, oldConn := bind(t, s, 100, "alice")
	_, reason := s.BindUser(newFakeConn(), 100, "alice", "en-US")
	require.Empty(t, reason)
	assert.True(t, oldConn.isClosed())
}

func TestBanUserKicksAndPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "admin_data.json")
	s := NewState(Options{AdminDataPath: path})

	alice, conn := bind(t, s, 100, "alice")
	require.NotNil(t, s.CreateRoom(alice, mustRoomID(t, "BAN")).Ok)

	s.BanUser(100)
	assert.True(t, conn.isClosed())
	assert.True(t, s.IsBanned(100))

	_, reason := s.BindUser(newFakeConn(), 100, "alice", "en-US")
	assert.Equal(t, locale.Banned, reason)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var data struct {
		Version     int     `json:"version"`
		BannedUsers []int32 `json:"bannedUsers"`
	}
	require.NoError(t, json.Unmarshal(raw, &data))
	assert.Equal(t, 1, data.Version)
	assert.Equal(t, []int32{100}, data.BannedUsers)

	// A fresh registry picks the ban back up.
	s2 := NewState(Options{AdminDataPath: path})
	assert.True(t, s2.IsBanned(100))
}

func TestRoomBanBlocksJoin(t *testing.T) {
	s := NewState(Options{})
	host, _ := bind(t, s, 1, "host")
	roomID := mustRoomID(t, "RB")
	require.NotNil(t, s.CreateRoom(host, roomID).Ok)

	s.BanInRoom("RB", 2)
	u, _ := bind(t, s, 2, "u")
	assert.Equal(t, locale.RoomBanned, s.JoinRoom(u, roomID, false).Err)

	s.UnbanInRoom("RB", 2)
	require.NotNil(t, s.JoinRoom(u, roomID, false).Ok)
}

func TestChatReachesEveryMember(t *testing.T) {
	s := NewState(Options{})
	alice, aliceConn := bind(t, s, 100, "alice")
	bob, bobConn := bind(t, s, 101, "bob")
	roomID := mustRoomID(t, "CHAT")

	require.NotNil(t, s.CreateRoom(alice, roomID).Ok)
	require.NotNil(t, s.JoinRoom(bob, roomID, false).Ok)
	require.NotNil(t, s.Chat(alice, "hello").Ok)

	for _, c := range []*fakeConn{aliceConn, bobConn} {
		chats := c.messages(wire.MsgChat)
		require.Len(t, chats, 1)
		assert.Equal(t, "hello", chats[0].Content)
		assert.Equal(t, int32(100), chats[0].User)
	}
}

func TestTouchesForwardedToOthersOnly(t *testing.T) {
	s := NewState(Options{})
	alice, aliceConn := bind(t, s, 100, "alice")
	bob, bobConn := bind(t, s, 101, "bob")
	roomID := mustRoomID(t, "TOUCH")

	require.NotNil(t, s.CreateRoom(alice, roomID).Ok)
	require.NotNil(t, s.JoinRoom(bob, roomID, false).Ok)

	frames := []wire.TouchFrame{{Time: 1.5}}
	assert.Equal(t, locale.WrongState, s.ForwardTouches(alice, frames))

	require.NotNil(t, s.SelectChart(alice, Chart{ID: 1, Name: "c"}).Ok)
	require.NotNil(t, s.RequestStart(alice).Ok)
	require.NotNil(t, s.Ready(alice).Ok)
	require.NotNil(t, s.Ready(bob).Ok)

	assert.Empty(t, s.ForwardTouches(alice, frames))

	bobConn.mu.Lock()
	var forwarded int
	for _, cmd := range bobConn.sent {
		if cmd.Type == wire.ServerCmdTouches {
			forwarded++
			assert.Equal(t, int32(100), cmd.Player)
		}
	}
	bobConn.mu.Unlock()
	assert.Equal(t, 1, forwarded)

	aliceConn.mu.Lock()
	for _, cmd := range aliceConn.sent {
		assert.NotEqual(t, wire.ServerCmdTouches, cmd.Type)
	}
	aliceConn.mu.Unlock()
}

func TestBeforeCommandHookVetoes(t *testing.T) {
	s := NewState(Options{})
	s.SetHooks(Hooks{
		BeforeCommand: func(userID int32, kind wire.ClientCommandType) string {
			if kind == wire.ClientCmdCreateRoom {
				return locale.RateLimited
			}
			return ""
		},
	})
	alice, _ := bind(t, s, 100, "alice")
	assert.Equal(t, locale.RateLimited, s.CreateRoom(alice, mustRoomID(t, "VETO")).Err)
}

func TestRemoteMirrorSurvivesEmptiness(t *testing.T) {
	s := NewState(Options{})
	id := mustRoomID(t, "REMOTE")
	s.RegisterRemoteMirror(id)

	snap, ok := s.RoomSnapshotByID("REMOTE")
	require.True(t, ok)
	assert.Equal(t, 0, snap.Players)

	s.DropRemoteMirror(id)
	_, ok = s.RoomSnapshotByID("REMOTE")
	assert.False(t, ok)
}
