package game

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Pimeng/tphira-mp-sub001/internal/v1/locale"
	"github.com/Pimeng/tphira-mp-sub001/internal/v1/logging"
	"github.com/Pimeng/tphira-mp-sub001/internal/v1/metrics"
	"github.com/Pimeng/tphira-mp-sub001/internal/v1/wire"
)

// DefaultDangleGrace is how long a disconnected user keeps its identity and
// room membership while waiting for a reconnect. Must be at least the
// session's hard disconnect timeout.
const DefaultDangleGrace = 30 * time.Second

// Options configures the registry.
type Options struct {
	// RoomMaxUsers is the member cap applied to newly created rooms.
	RoomMaxUsers int
	// ReplayEnabled marks new rooms as replay-eligible.
	ReplayEnabled bool
	// Monitors lists the account ids allowed to join rooms as monitors.
	Monitors []int32
	// AdminDataPath is where ban lists are persisted. Empty disables
	// persistence.
	AdminDataPath string
	// DangleGrace overrides DefaultDangleGrace when positive.
	DangleGrace time.Duration
}

// State is the process-wide registry of sessions, users, and rooms. One
// mutex serializes every room-mutating operation; network sends triggered by
// an operation are collected under the mutex and performed after it is
// released.
type State struct {
	mu sync.Mutex

	opts  Options
	hooks Hooks

	sessions map[uuid.UUID]Conn
	users    map[int32]*User
	rooms    map[wire.RoomID]*Room

	monitors     map[int32]struct{}
	bannedUsers  map[int32]struct{}
	bannedInRoom map[string]map[int32]struct{}
	contestRooms map[string]map[int32]struct{}
}

// NewState builds an empty registry and loads persisted admin data if a path
// is configured.
func NewState(opts Options) *State {
	if opts.RoomMaxUsers <= 0 {
		opts.RoomMaxUsers = 8
	}
	if opts.DangleGrace <= 0 {
		opts.DangleGrace = DefaultDangleGrace
	}
	s := &State{
		opts:         opts,
		sessions:     make(map[uuid.UUID]Conn),
		users:        make(map[int32]*User),
		rooms:        make(map[wire.RoomID]*Room),
		monitors:     make(map[int32]struct{}, len(opts.Monitors)),
		bannedUsers:  make(map[int32]struct{}),
		bannedInRoom: make(map[string]map[int32]struct{}),
		contestRooms: make(map[string]map[int32]struct{}),
	}
	for _, id := range opts.Monitors {
		s.monitors[id] = struct{}{}
	}
	if opts.AdminDataPath != "" {
		if err := s.loadAdminData(); err != nil {
			logging.Warn(context.Background(), "admin data load failed", zap.Error(err))
		}
	}
	return s
}

// SetHooks installs the callback surface. Must be called before traffic
// starts; hooks are not guarded against concurrent replacement.
func (s *State) SetHooks(h Hooks) { s.hooks = h }

// RegisterSession records a freshly accepted connection.
func (s *State) RegisterSession(c Conn) {
	s.mu.Lock()
	s.sessions[c.ID()] = c
	s.mu.Unlock()
	metrics.IncConnection()
}

// UnregisterSession forgets a connection. The bound user, if any, is handled
// separately via DetachUser.
func (s *State) UnregisterSession(id uuid.UUID) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	metrics.DecConnection()
}

// BindUser is called on successful authentication. It either rebinds a
// dangling user with the same id (preserving room membership), takes over a
// live user from its previous connection, or creates a fresh User. The
// returned AuthResult carries the room snapshot when membership survived.
func (s *State) BindUser(c Conn, id int32, name, language string) (*wire.AuthResult, string) {
	var stale Conn

	s.mu.Lock()
	if _, banned := s.bannedUsers[id]; banned {
		s.mu.Unlock()
		return nil, locale.Banned
	}

	u, ok := s.users[id]
	if ok {
		// Reconnect or takeover: the newest session wins, the previous
		// connection (if any) is closed.
		stale = u.conn
		u.conn = c
		u.dangleToken = ""
		u.Name = name
		u.Language = language
	} else {
		u = &User{ID: id, Name: name, Language: language, server: s, conn: c}
		s.users[id] = u
	}

	res := &wire.AuthResult{User: u.Info()}
	if u.room != nil {
		snap := u.room.ClientState(u)
		res.Room = &snap
	}
	s.mu.Unlock()

	if stale != nil && stale != c {
		stale.Close()
	}
	return res, ""
}

// LookupUser returns the user bound to the given connection id, or nil.
func (s *State) LookupUser(id int32) *User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[id]
}

// DetachUser marks u dangling after its connection went away. If the user is
// not in a room it is removed immediately; otherwise a fresh dangle token is
// minted and the sweeper removes the user when the token is still current
// after the grace period.
func (s *State) DetachUser(u *User, c Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.conn != c {
		// A newer session already took over.
		return
	}
	u.conn = nil
	if u.room == nil {
		delete(s.users, u.ID)
		return
	}
	u.dangleToken = newDangleToken()
	u.dangleSince = time.Now()
}

// SweepDangling removes users whose dangle grace expired. Called periodically
// by the server entry.
func (s *State) SweepDangling() {
	var batch sendBatch

	s.mu.Lock()
	cutoff := time.Now().Add(-s.opts.DangleGrace)
	for id, u := range s.users {
		if !u.dangling() || u.dangleToken == "" || u.dangleSince.After(cutoff) {
			continue
		}
		logging.Debug(context.Background(), "sweeping dangling user", zap.Int32("user_id", id))
		s.removeFromRoomLocked(&batch, u)
		delete(s.users, id)
	}
	s.mu.Unlock()
	batch.flush()
}

func newDangleToken() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand is documented to never fail on supported platforms.
		panic(err)
	}
	return hex.EncodeToString(b[:])
}

// beforeCommand runs the veto hook. Must be called with the mutex held.
func (s *State) beforeCommandLocked(userID int32, kind wire.ClientCommandType) string {
	if s.hooks.BeforeCommand == nil {
		return ""
	}
	return s.hooks.BeforeCommand(userID, kind)
}

// VetoCommand exposes the veto hook for traffic commands handled outside the
// mutex.
func (s *State) VetoCommand(userID int32, kind wire.ClientCommandType) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.beforeCommandLocked(userID, kind)
}

func (s *State) roomUpdatedLocked(r *Room) {
	if s.hooks.OnRoomUpdate != nil {
		s.hooks.OnRoomUpdate(r.Snapshot())
	}
}

// deleteRoomLocked removes r from the registry and fires the deletion hook.
func (s *State) deleteRoomLocked(r *Room) {
	delete(s.rooms, r.ID)
	metrics.ActiveRooms.Dec()
	metrics.RoomPlayers.DeleteLabelValues(string(r.ID))
	if s.hooks.OnRoomDelete != nil {
		s.hooks.OnRoomDelete(string(r.ID))
	}
}

// RoomSnapshots returns a snapshot of every room, for the admin surface and
// the federation gossip.
func (s *State) RoomSnapshots() []RoomSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snaps := make([]RoomSnapshot, 0, len(s.rooms))
	for _, r := range s.rooms {
		snaps = append(snaps, r.Snapshot())
	}
	return snaps
}

// RoomSnapshotByID returns the snapshot of one room.
func (s *State) RoomSnapshotByID(id string) (RoomSnapshot, bool) {
	rid, err := wire.ParseRoomID(id)
	if err != nil {
		return RoomSnapshot{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[rid]
	if !ok {
		return RoomSnapshot{}, false
	}
	return r.Snapshot(), true
}

// SetContestWhitelist registers (or clears, with nil ids) the participant
// whitelist applied to the room with the given id when it is created.
func (s *State) SetContestWhitelist(roomID string, ids []int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ids == nil {
		delete(s.contestRooms, roomID)
		return
	}
	wl := make(map[int32]struct{}, len(ids))
	for _, id := range ids {
		wl[id] = struct{}{}
	}
	s.contestRooms[roomID] = wl
	if rid, err := wire.ParseRoomID(roomID); err == nil {
		if r, ok := s.rooms[rid]; ok {
			r.contest = wl
		}
	}
}

// ClientRoomStateFor returns the room snapshot for the given user, or nil
// when the user is unknown or roomless.
func (s *State) ClientRoomStateFor(userID int32) *wire.ClientRoomState {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok || u.room == nil {
		return nil
	}
	snap := u.room.ClientState(u)
	return &snap
}

// RegisterRemoteMirror materializes a hostless placeholder for a room hosted
// on a federation peer so it shows up in local listings. No-op when a local
// room with that id exists.
func (s *State) RegisterRemoteMirror(id wire.RoomID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rooms[id]; exists {
		return
	}
	r := &Room{ID: id, maxUsers: s.opts.RoomMaxUsers, remote: true, locked: true}
	s.rooms[id] = r
	metrics.ActiveRooms.Inc()
}

// DropRemoteMirror removes a remote mirror once its gossip entry expired.
// Rooms with local members are left alone.
func (s *State) DropRemoteMirror(id wire.RoomID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[id]
	if !ok || !r.remote || r.memberCount() > 0 {
		return
	}
	s.deleteRoomLocked(r)
}

// Shutdown force-closes every session and drops every room. Used on graceful
// stop after the listener stopped accepting.
func (s *State) Shutdown() {
	s.mu.Lock()
	conns := make([]Conn, 0, len(s.sessions))
	for _, c := range s.sessions {
		conns = append(conns, c)
	}
	for _, r := range s.rooms {
		s.deleteRoomLocked(r)
	}
	s.users = make(map[int32]*User)
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}
