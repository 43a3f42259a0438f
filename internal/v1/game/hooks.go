package game

import "github.com/Pimeng/tphira-mp-sub001/internal/v1/wire"

// RoomSnapshot is the read-only view of a room handed to hooks and the admin
// surface. It carries no pointers into the registry.
type RoomSnapshot struct {
	ID       string          `json:"id"`
	HostID   int32           `json:"hostId"`
	HostName string          `json:"hostName"`
	State    string          `json:"state"`
	ChartID  *int32          `json:"chartId,omitempty"`
	Players  int             `json:"players"`
	MaxUsers int             `json:"maxUsers"`
	Locked   bool            `json:"locked"`
	Cycle    bool            `json:"cycle"`
	Live     bool            `json:"live"`
	Users    []wire.UserInfo `json:"users"`
}

// Hooks is the closed plugin surface of the registry. Callbacks run
// synchronously while the registry mutex is held, so they must return quickly
// and must not perform network I/O inline.
type Hooks struct {
	// OnUserJoin fires after a user joins a room.
	OnUserJoin func(room RoomSnapshot, user wire.UserInfo)
	// OnUserLeave fires after a user leaves a room, before any deletion.
	OnUserLeave func(room RoomSnapshot, user wire.UserInfo)
	// OnGameEnd fires once per finished game with the record ids reported by
	// each player that completed it.
	OnGameEnd func(room RoomSnapshot, chart Chart, records map[int32]int32)
	// BeforeCommand may veto a command by returning a non-empty reason key.
	BeforeCommand func(userID int32, kind wire.ClientCommandType) string
	// OnRoomUpdate fires whenever a room's observable state changes.
	OnRoomUpdate func(room RoomSnapshot)
	// OnRoomDelete fires after a room is removed from the registry.
	OnRoomDelete func(roomID string)
}

// Snapshot builds a RoomSnapshot of r. Caller must hold the registry mutex.
func (r *Room) Snapshot() RoomSnapshot {
	snap := RoomSnapshot{
		ID:       string(r.ID),
		State:    r.State().Type.String(),
		Players:  len(r.players),
		MaxUsers: r.maxUsers,
		Locked:   r.locked,
		Cycle:    r.cycle,
		Live:     r.Live(),
		Users:    r.userList(),
	}
	if r.host != nil {
		snap.HostID = r.host.ID
		snap.HostName = r.host.Name
	}
	if r.chart != nil {
		id := r.chart.ID
		snap.ChartID = &id
	}
	return snap
}
