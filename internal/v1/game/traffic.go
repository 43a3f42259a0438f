package game

import (
	"github.com/Pimeng/tphira-mp-sub001/internal/v1/locale"
	"github.com/Pimeng/tphira-mp-sub001/internal/v1/wire"
)

// Traffic commands (Chat, Touches, Judges) are high-frequency and never
// change room structure, so they hold the mutex only long enough to snapshot
// the recipient set; the fan-out happens outside it.

// Chat broadcasts a chat line to every member of u's room, sender included.
func (s *State) Chat(u *User, content string) *wire.Result[wire.Unit] {
	var batch sendBatch

	s.mu.Lock()
	if reason := s.beforeCommandLocked(u.ID, wire.ClientCmdChat); reason != "" {
		s.mu.Unlock()
		return wire.ErrResult[wire.Unit](reason)
	}
	r := u.room
	if r == nil {
		s.mu.Unlock()
		return wire.ErrResult[wire.Unit](locale.NotInRoom)
	}
	batch.broadcast(r, wire.MessageCommand(wire.Message{
		Type: wire.MsgChat, User: u.ID, Content: content,
	}), 0)
	s.mu.Unlock()

	batch.flush()
	return wire.OkUnit()
}

// ForwardTouches rebroadcasts a touch batch to everyone else in the room.
// Returns a reason key on rejection, or "".
func (s *State) ForwardTouches(u *User, frames []wire.TouchFrame) string {
	cmd := &wire.ServerCommand{Type: wire.ServerCmdTouches, Player: u.ID, Frames: frames}
	return s.forwardGameTraffic(u, wire.ClientCmdTouches, cmd, lastFrameTime(frames))
}

// ForwardJudges rebroadcasts judgement events to everyone else in the room.
func (s *State) ForwardJudges(u *User, judges []wire.JudgeEvent) string {
	cmd := &wire.ServerCommand{Type: wire.ServerCmdJudges, Player: u.ID, Judges: judges}
	return s.forwardGameTraffic(u, wire.ClientCmdJudges, cmd, 0)
}

func (s *State) forwardGameTraffic(u *User, kind wire.ClientCommandType, cmd *wire.ServerCommand, gameTime float32) string {
	var batch sendBatch

	s.mu.Lock()
	if reason := s.beforeCommandLocked(u.ID, kind); reason != "" {
		s.mu.Unlock()
		return reason
	}
	r := u.room
	if r == nil {
		s.mu.Unlock()
		return locale.NotInRoom
	}
	if u.Monitor {
		s.mu.Unlock()
		return locale.MonitorCantPlay
	}
	if r.phase != phasePlaying {
		s.mu.Unlock()
		return locale.WrongState
	}
	// Timestamps inside the frames are not validated; the latest one is only
	// kept as a progress marker.
	if gameTime > u.lastGameTime {
		u.lastGameTime = gameTime
	}
	batch.broadcast(r, cmd, u.ID)
	s.mu.Unlock()

	batch.flush()
	return ""
}

func lastFrameTime(frames []wire.TouchFrame) float32 {
	if len(frames) == 0 {
		return 0
	}
	return frames[len(frames)-1].Time
}
