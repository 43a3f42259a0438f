// Package game holds the coordination core: authenticated users, rooms with
// their lifecycle state machine, and the process-wide registry that
// serializes every room mutation through one mutex.
package game

import (
	"github.com/google/uuid"

	"github.com/Pimeng/tphira-mp-sub001/internal/v1/metrics"
	"github.com/Pimeng/tphira-mp-sub001/internal/v1/wire"
)

// Conn is the transport binding of a session. Sends are best-effort: a write
// failure on one recipient must never affect the others, so SendCommand
// swallows transport errors internally.
type Conn interface {
	ID() uuid.UUID
	SendCommand(cmd *wire.ServerCommand)
	Close()
}

type pendingSend struct {
	conn Conn
	cmd  *wire.ServerCommand
}

// sendBatch accumulates outbound commands while the registry mutex is held;
// the actual network writes happen in flush, after the mutex is released.
type sendBatch struct {
	sends []pendingSend
}

func (b *sendBatch) to(u *User, cmd *wire.ServerCommand) {
	if u == nil || u.conn == nil {
		return
	}
	b.sends = append(b.sends, pendingSend{conn: u.conn, cmd: cmd})
}

// broadcast queues cmd for every member of r except the user id in except
// (pass 0 to reach everyone). Monitors are included.
func (b *sendBatch) broadcast(r *Room, cmd *wire.ServerCommand, except int32) {
	for _, u := range r.players {
		if u.ID != except {
			b.to(u, cmd)
		}
	}
	for _, u := range r.monitors {
		if u.ID != except {
			b.to(u, cmd)
		}
	}
}

func (b *sendBatch) flush() {
	for _, s := range b.sends {
		s.conn.SendCommand(s.cmd)
	}
	if n := len(b.sends); n > 0 {
		metrics.BroadcastFanout.Add(float64(n))
	}
	b.sends = nil
}
