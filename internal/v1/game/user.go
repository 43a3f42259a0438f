package game

import (
	"time"

	"github.com/Pimeng/tphira-mp-sub001/internal/v1/wire"
)

// User is an authenticated player identity. It outlives its connection by a
// short grace period so a reconnect can resume room membership transparently.
// All fields are guarded by the owning State's mutex.
type User struct {
	ID       int32
	Name     string
	Language string
	Monitor  bool // joined the current room as a monitor

	server *State
	conn   Conn
	room   *Room

	// dangleToken is non-empty while no connection is bound. A reconnect
	// replaces it; the sweeper only removes the user when the token it
	// captured is still current.
	dangleToken string
	dangleSince time.Time

	lastGameTime float32
}

// Info returns the wire identity of the user.
func (u *User) Info() wire.UserInfo {
	return wire.UserInfo{ID: u.ID, Name: u.Name, Monitor: u.Monitor}
}

// Room returns the user's current room, or nil. Caller must hold the
// registry mutex or tolerate a stale read.
func (u *User) Room() *Room { return u.room }

func (u *User) dangling() bool { return u.conn == nil }
