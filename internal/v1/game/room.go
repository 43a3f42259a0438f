package game

import (
	"time"

	"github.com/Pimeng/tphira-mp-sub001/internal/v1/locale"
	"github.com/Pimeng/tphira-mp-sub001/internal/v1/wire"
)

// Chart is the metadata of the selected chart, resolved from the chart
// service before the selection is applied.
type Chart struct {
	ID   int32
	Name string
}

type roomPhase uint8

const (
	phaseSelectChart roomPhase = iota
	phaseWaitForReady
	phasePlaying
)

// Room is one multiplayer room. Every field is guarded by the owning State's
// mutex; methods assume the caller holds it.
type Room struct {
	ID wire.RoomID

	host     *User
	players  []*User // insertion order, used for host succession
	monitors []*User

	phase roomPhase
	chart *Chart

	// ready/played/aborted track per-phase participation of non-monitor
	// players. ready is populated in WaitForReady; played and aborted in
	// Playing, where played maps user id to the reported record id.
	ready   map[int32]struct{}
	played  map[int32]int32
	aborted map[int32]struct{}

	locked bool
	cycle  bool

	// contest, when non-nil, restricts joining to the listed user ids.
	contest map[int32]struct{}

	maxUsers       int
	replayEligible bool
	startedAt      time.Time

	// remote marks a mirror of a room hosted on a federation peer. Mirrors
	// have no local host and survive becoming empty; the peer's gossip
	// controls their lifetime.
	remote bool
}

func newRoom(id wire.RoomID, host *User, maxUsers int, replayEligible bool) *Room {
	r := &Room{
		ID:             id,
		host:           host,
		players:        []*User{host},
		maxUsers:       maxUsers,
		replayEligible: replayEligible,
	}
	return r
}

// Host returns the current host.
func (r *Room) Host() *User { return r.host }

// Live reports whether any monitor is attached.
func (r *Room) Live() bool { return len(r.monitors) > 0 }

// Locked reports whether the room rejects new joins.
func (r *Room) Locked() bool { return r.locked }

// Cycle reports whether the chart selection survives a game end.
func (r *Room) Cycle() bool { return r.cycle }

// State builds the wire form of the lifecycle state. The chart id is only
// carried in SelectChart.
func (r *Room) State() wire.RoomState {
	switch r.phase {
	case phaseWaitForReady:
		return wire.RoomState{Type: wire.StateWaitingForReady}
	case phasePlaying:
		return wire.RoomState{Type: wire.StatePlaying}
	}
	s := wire.RoomState{Type: wire.StateSelectChart}
	if r.chart != nil {
		id := r.chart.ID
		s.ChartID = &id
	}
	return s
}

// memberCount is players plus monitors.
func (r *Room) memberCount() int { return len(r.players) + len(r.monitors) }

func (r *Room) userList() []wire.UserInfo {
	users := make([]wire.UserInfo, 0, r.memberCount())
	for _, u := range r.players {
		users = append(users, u.Info())
	}
	for _, u := range r.monitors {
		users = append(users, u.Info())
	}
	return users
}

func (r *Room) userMap() map[int32]wire.UserInfo {
	users := make(map[int32]wire.UserInfo, r.memberCount())
	for _, u := range r.players {
		users[u.ID] = u.Info()
	}
	for _, u := range r.monitors {
		users[u.ID] = u.Info()
	}
	return users
}

// ClientState builds the room snapshot embedded in the Authenticate response
// for user u.
func (r *Room) ClientState(u *User) wire.ClientRoomState {
	_, isReady := r.ready[u.ID]
	return wire.ClientRoomState{
		ID:      r.ID,
		State:   r.State(),
		Live:    r.Live(),
		Locked:  r.locked,
		Cycle:   r.cycle,
		IsHost:  r.host != nil && r.host.ID == u.ID,
		IsReady: isReady,
		Users:   r.userMap(),
	}
}

func (r *Room) joinResponse() wire.JoinRoomResponse {
	return wire.JoinRoomResponse{
		State: r.State(),
		Users: r.userList(),
		Live:  r.Live(),
	}
}

// checkJoin applies the admission rules in order and returns the reason key
// of the first failure, or "".
func (r *Room) checkJoin(u *User, monitor bool, serverMonitors map[int32]struct{}) string {
	if r.contest != nil {
		if _, ok := r.contest[u.ID]; !ok {
			return locale.ContestOnly
		}
	}
	if r.locked {
		return locale.RoomLocked
	}
	if r.phase != phaseSelectChart {
		return locale.RoomInGame
	}
	if monitor {
		if _, ok := serverMonitors[u.ID]; !ok {
			return locale.CantMonitor
		}
	}
	if r.memberCount() >= r.maxUsers {
		return locale.RoomFull
	}
	return ""
}

func (r *Room) addMember(u *User, monitor bool) {
	u.room = r
	u.Monitor = monitor
	if monitor {
		r.monitors = append(r.monitors, u)
	} else {
		r.players = append(r.players, u)
	}
}

// removeMember drops u from the room and reports whether u was the host.
func (r *Room) removeMember(u *User) (wasHost bool) {
	wasHost = r.host == u
	r.players = removeUser(r.players, u)
	r.monitors = removeUser(r.monitors, u)
	delete(r.ready, u.ID)
	delete(r.played, u.ID)
	delete(r.aborted, u.ID)
	u.room = nil
	u.Monitor = false
	return wasHost
}

func removeUser(users []*User, u *User) []*User {
	for i, v := range users {
		if v == u {
			return append(users[:i], users[i+1:]...)
		}
	}
	return users
}

// isMember reports whether u is a player or monitor of r.
func (r *Room) isMember(u *User) bool { return u.room == r }

// allPlayersReady reports whether every non-monitor player has readied up.
func (r *Room) allPlayersReady() bool {
	for _, u := range r.players {
		if _, ok := r.ready[u.ID]; !ok {
			return false
		}
	}
	return len(r.players) > 0
}

// allPlayersDone reports whether every non-monitor player has either
// reported a result or aborted.
func (r *Room) allPlayersDone() bool {
	for _, u := range r.players {
		if _, played := r.played[u.ID]; played {
			continue
		}
		if _, aborted := r.aborted[u.ID]; aborted {
			continue
		}
		return false
	}
	return len(r.players) > 0
}

// enterWaitForReady moves SelectChart → WaitForReady.
func (r *Room) enterWaitForReady() {
	r.phase = phaseWaitForReady
	r.ready = make(map[int32]struct{})
	r.startedAt = time.Now()
}

// enterPlaying moves WaitForReady → Playing.
func (r *Room) enterPlaying() {
	r.phase = phasePlaying
	r.ready = nil
	r.played = make(map[int32]int32)
	r.aborted = make(map[int32]struct{})
	for _, u := range r.players {
		u.lastGameTime = 0
	}
}

// enterSelectChart returns to SelectChart. The chart selection survives the
// transition unless keepChart is false.
func (r *Room) enterSelectChart(keepChart bool) {
	r.phase = phaseSelectChart
	r.ready = nil
	r.played = nil
	r.aborted = nil
	if !keepChart {
		r.chart = nil
	}
}

// nextHost picks the earliest remaining player by insertion order.
func (r *Room) nextHost() *User {
	if len(r.players) == 0 {
		return nil
	}
	return r.players[0]
}
