package game

import (
	"context"

	"go.uber.org/zap"

	"github.com/Pimeng/tphira-mp-sub001/internal/v1/locale"
	"github.com/Pimeng/tphira-mp-sub001/internal/v1/logging"
	"github.com/Pimeng/tphira-mp-sub001/internal/v1/metrics"
	"github.com/Pimeng/tphira-mp-sub001/internal/v1/wire"
)

// Room-mutating operations. Each acquires the registry mutex, applies the
// mutation, queues the resulting broadcasts, and flushes them after the mutex
// is released. The returned results carry reason keys on failure; the session
// pairs them with the matching response command.

// CreateRoom creates a room hosted by u.
func (s *State) CreateRoom(u *User, id wire.RoomID) *wire.Result[wire.Unit] {
	var batch sendBatch
	defer batch.flush()

	s.mu.Lock()
	defer s.mu.Unlock()

	if reason := s.beforeCommandLocked(u.ID, wire.ClientCmdCreateRoom); reason != "" {
		return wire.ErrResult[wire.Unit](reason)
	}
	if u.room != nil {
		return wire.ErrResult[wire.Unit](locale.AlreadyInRoom)
	}
	if _, exists := s.rooms[id]; exists {
		return wire.ErrResult[wire.Unit](locale.RoomExists)
	}

	r := newRoom(id, u, s.opts.RoomMaxUsers, s.opts.ReplayEnabled)
	if wl, ok := s.contestRooms[string(id)]; ok {
		r.contest = wl
	}
	u.room = r
	s.rooms[id] = r
	metrics.ActiveRooms.Inc()
	metrics.RoomPlayers.WithLabelValues(string(id)).Set(1)

	logging.Info(logging.WithUser(context.Background(), u.ID), "room created",
		zap.String("room_id", string(id)))

	batch.to(u, wire.MessageCommand(wire.Message{Type: wire.MsgCreateRoom, User: u.ID}))
	if s.hooks.OnUserJoin != nil {
		s.hooks.OnUserJoin(r.Snapshot(), u.Info())
	}
	s.roomUpdatedLocked(r)
	return wire.OkUnit()
}

// JoinRoom adds u to an existing room, as a player or monitor.
func (s *State) JoinRoom(u *User, id wire.RoomID, monitor bool) *wire.Result[wire.JoinRoomResponse] {
	var batch sendBatch
	defer batch.flush()

	s.mu.Lock()
	defer s.mu.Unlock()

	if reason := s.beforeCommandLocked(u.ID, wire.ClientCmdJoinRoom); reason != "" {
		return wire.ErrResult[wire.JoinRoomResponse](reason)
	}
	if u.room != nil {
		return wire.ErrResult[wire.JoinRoomResponse](locale.AlreadyInRoom)
	}
	r, ok := s.rooms[id]
	if !ok {
		return wire.ErrResult[wire.JoinRoomResponse](locale.RoomNotFound)
	}
	if banned, ok := s.bannedInRoom[string(id)]; ok {
		if _, hit := banned[u.ID]; hit {
			return wire.ErrResult[wire.JoinRoomResponse](locale.RoomBanned)
		}
	}
	if reason := r.checkJoin(u, monitor, s.monitors); reason != "" {
		return wire.ErrResult[wire.JoinRoomResponse](reason)
	}

	r.addMember(u, monitor)
	metrics.RoomPlayers.WithLabelValues(string(id)).Set(float64(len(r.players)))

	logging.Info(logging.WithRoom(logging.WithUser(context.Background(), u.ID), string(id)),
		"user joined room", zap.Bool("monitor", monitor))

	joined := wire.MessageCommand(wire.Message{Type: wire.MsgJoinRoom, User: u.ID, Name: u.Name})
	info := u.Info()
	onJoin := &wire.ServerCommand{Type: wire.ServerCmdOnJoinRoom, JoinedUser: &info}
	batch.broadcast(r, joined, u.ID)
	batch.broadcast(r, onJoin, u.ID)

	if s.hooks.OnUserJoin != nil {
		s.hooks.OnUserJoin(r.Snapshot(), info)
	}
	s.roomUpdatedLocked(r)
	return wire.OkResult(r.joinResponse())
}

// LeaveRoom removes u from its room, handing off the host role if needed.
func (s *State) LeaveRoom(u *User) *wire.Result[wire.Unit] {
	var batch sendBatch
	defer batch.flush()

	s.mu.Lock()
	defer s.mu.Unlock()

	if reason := s.beforeCommandLocked(u.ID, wire.ClientCmdLeaveRoom); reason != "" {
		return wire.ErrResult[wire.Unit](reason)
	}
	if u.room == nil {
		return wire.ErrResult[wire.Unit](locale.NotInRoom)
	}
	s.removeFromRoomLocked(&batch, u)
	return wire.OkUnit()
}

// removeFromRoomLocked detaches u from its room, applying host succession,
// phase rollbacks, and empty-room deletion. Shared by LeaveRoom and the
// dangle sweeper.
func (s *State) removeFromRoomLocked(batch *sendBatch, u *User) {
	r := u.room
	if r == nil {
		return
	}
	info := u.Info()
	wasHost := r.removeMember(u)

	batch.broadcast(r, wire.MessageCommand(wire.Message{
		Type: wire.MsgLeaveRoom, User: u.ID, Name: u.Name,
	}), 0)
	if s.hooks.OnUserLeave != nil {
		s.hooks.OnUserLeave(r.Snapshot(), info)
	}

	if r.memberCount() == 0 && !r.remote {
		logging.Info(logging.WithRoom(context.Background(), string(r.ID)), "room deleted")
		s.deleteRoomLocked(r)
		return
	}
	metrics.RoomPlayers.WithLabelValues(string(r.ID)).Set(float64(len(r.players)))

	if wasHost {
		if next := r.nextHost(); next != nil {
			r.host = next
			batch.broadcast(r, wire.MessageCommand(wire.Message{
				Type: wire.MsgNewHost, User: next.ID,
			}), 0)
			batch.to(next, &wire.ServerCommand{Type: wire.ServerCmdChangeHost, IsHost: true})
			batch.to(u, &wire.ServerCommand{Type: wire.ServerCmdChangeHost, IsHost: false})
		} else {
			// Only monitors remain; the room idles hostless.
			r.host = nil
		}
	}

	switch r.phase {
	case phaseWaitForReady:
		if wasHost || len(r.players) <= 1 {
			s.cancelGameLocked(batch, r)
		} else if r.allPlayersReady() {
			s.startPlayingLocked(batch, r)
		}
	case phasePlaying:
		s.checkGameTerminationLocked(batch, r)
	}
	s.roomUpdatedLocked(r)
}

// LockRoom toggles the join lock. Host only.
func (s *State) LockRoom(u *User, lock bool) *wire.Result[wire.Unit] {
	return s.hostFlagOp(u, wire.ClientCmdLockRoom, func(r *Room) wire.Message {
		r.locked = lock
		return wire.Message{Type: wire.MsgLockRoom, Lock: lock}
	})
}

// CycleRoom toggles chart retention across game ends. Host only.
func (s *State) CycleRoom(u *User, cycle bool) *wire.Result[wire.Unit] {
	return s.hostFlagOp(u, wire.ClientCmdCycleRoom, func(r *Room) wire.Message {
		r.cycle = cycle
		return wire.Message{Type: wire.MsgCycleRoom, Cycle: cycle}
	})
}

func (s *State) hostFlagOp(u *User, kind wire.ClientCommandType, apply func(*Room) wire.Message) *wire.Result[wire.Unit] {
	var batch sendBatch
	defer batch.flush()

	s.mu.Lock()
	defer s.mu.Unlock()

	if reason := s.beforeCommandLocked(u.ID, kind); reason != "" {
		return wire.ErrResult[wire.Unit](reason)
	}
	r := u.room
	if r == nil {
		return wire.ErrResult[wire.Unit](locale.NotInRoom)
	}
	if r.host != u {
		return wire.ErrResult[wire.Unit](locale.NotHost)
	}
	batch.broadcast(r, wire.MessageCommand(apply(r)), 0)
	s.roomUpdatedLocked(r)
	return wire.OkUnit()
}

// SelectChart stores the chart (already resolved by the caller) and announces
// it. Host only, SelectChart state only.
func (s *State) SelectChart(u *User, chart Chart) *wire.Result[wire.Unit] {
	var batch sendBatch
	defer batch.flush()

	s.mu.Lock()
	defer s.mu.Unlock()

	if reason := s.beforeCommandLocked(u.ID, wire.ClientCmdSelectChart); reason != "" {
		return wire.ErrResult[wire.Unit](reason)
	}
	r := u.room
	if r == nil {
		return wire.ErrResult[wire.Unit](locale.NotInRoom)
	}
	if r.host != u {
		return wire.ErrResult[wire.Unit](locale.NotHost)
	}
	if r.phase != phaseSelectChart {
		return wire.ErrResult[wire.Unit](locale.WrongState)
	}

	r.chart = &chart
	batch.broadcast(r, wire.MessageCommand(wire.Message{
		Type: wire.MsgSelectChart, User: u.ID, Name: chart.Name, ChartID: chart.ID,
	}), 0)
	s.roomUpdatedLocked(r)
	return wire.OkUnit()
}

// RequestStart moves the room to WaitForReady. Host only, chart required.
func (s *State) RequestStart(u *User) *wire.Result[wire.Unit] {
	var batch sendBatch
	defer batch.flush()

	s.mu.Lock()
	defer s.mu.Unlock()

	if reason := s.beforeCommandLocked(u.ID, wire.ClientCmdRequestStart); reason != "" {
		return wire.ErrResult[wire.Unit](reason)
	}
	r := u.room
	if r == nil {
		return wire.ErrResult[wire.Unit](locale.NotInRoom)
	}
	if r.host != u {
		return wire.ErrResult[wire.Unit](locale.NotHost)
	}
	if r.phase != phaseSelectChart {
		return wire.ErrResult[wire.Unit](locale.WrongState)
	}
	if r.chart == nil {
		return wire.ErrResult[wire.Unit](locale.NoChartSelected)
	}

	r.enterWaitForReady()
	batch.broadcast(r, wire.MessageCommand(wire.Message{Type: wire.MsgGameStart, User: u.ID}), 0)
	batch.broadcast(r, wire.ChangeStateCommand(wire.RoomState{Type: wire.StateWaitingForReady}), 0)
	s.roomUpdatedLocked(r)
	return wire.OkUnit()
}

// Ready marks u ready; when every player is ready the game starts.
func (s *State) Ready(u *User) *wire.Result[wire.Unit] {
	return s.readinessOp(u, wire.ClientCmdReady, true)
}

// CancelReady withdraws u's readiness.
func (s *State) CancelReady(u *User) *wire.Result[wire.Unit] {
	return s.readinessOp(u, wire.ClientCmdCancelReady, false)
}

func (s *State) readinessOp(u *User, kind wire.ClientCommandType, ready bool) *wire.Result[wire.Unit] {
	var batch sendBatch
	defer batch.flush()

	s.mu.Lock()
	defer s.mu.Unlock()

	if reason := s.beforeCommandLocked(u.ID, kind); reason != "" {
		return wire.ErrResult[wire.Unit](reason)
	}
	r := u.room
	if r == nil {
		return wire.ErrResult[wire.Unit](locale.NotInRoom)
	}
	if u.Monitor {
		return wire.ErrResult[wire.Unit](locale.MonitorCantPlay)
	}
	if r.phase != phaseWaitForReady {
		return wire.ErrResult[wire.Unit](locale.WrongState)
	}

	if ready {
		r.ready[u.ID] = struct{}{}
		batch.broadcast(r, wire.MessageCommand(wire.Message{Type: wire.MsgReady, User: u.ID}), 0)
		if r.allPlayersReady() {
			s.startPlayingLocked(&batch, r)
		}
	} else {
		delete(r.ready, u.ID)
		batch.broadcast(r, wire.MessageCommand(wire.Message{Type: wire.MsgCancelReady, User: u.ID}), 0)
	}
	s.roomUpdatedLocked(r)
	return wire.OkUnit()
}

func (s *State) startPlayingLocked(batch *sendBatch, r *Room) {
	r.enterPlaying()
	batch.broadcast(r, wire.MessageCommand(wire.Message{Type: wire.MsgStartPlaying}), 0)
	batch.broadcast(r, wire.ChangeStateCommand(wire.RoomState{Type: wire.StatePlaying}), 0)
}

// PlayedRecord carries the enriched result of a finished play, resolved from
// the record service before the mutation is applied.
type PlayedRecord struct {
	RecordID  int32
	Score     int32
	Accuracy  float32
	FullCombo bool
}

// Played records u's finished play.
func (s *State) Played(u *User, rec PlayedRecord) *wire.Result[wire.Unit] {
	var batch sendBatch
	defer batch.flush()

	s.mu.Lock()
	defer s.mu.Unlock()

	if reason := s.beforeCommandLocked(u.ID, wire.ClientCmdPlayed); reason != "" {
		return wire.ErrResult[wire.Unit](reason)
	}
	r := u.room
	if r == nil {
		return wire.ErrResult[wire.Unit](locale.NotInRoom)
	}
	if u.Monitor {
		return wire.ErrResult[wire.Unit](locale.MonitorCantPlay)
	}
	if r.phase != phasePlaying {
		return wire.ErrResult[wire.Unit](locale.WrongState)
	}

	r.played[u.ID] = rec.RecordID
	delete(r.aborted, u.ID)
	batch.broadcast(r, wire.MessageCommand(wire.Message{
		Type: wire.MsgPlayed, User: u.ID,
		Score: rec.Score, Accuracy: rec.Accuracy, FullCombo: rec.FullCombo,
	}), 0)
	s.checkGameTerminationLocked(&batch, r)
	s.roomUpdatedLocked(r)
	return wire.OkUnit()
}

// Abort marks u as having given up the current play.
func (s *State) Abort(u *User) *wire.Result[wire.Unit] {
	var batch sendBatch
	defer batch.flush()

	s.mu.Lock()
	defer s.mu.Unlock()

	if reason := s.beforeCommandLocked(u.ID, wire.ClientCmdAbort); reason != "" {
		return wire.ErrResult[wire.Unit](reason)
	}
	r := u.room
	if r == nil {
		return wire.ErrResult[wire.Unit](locale.NotInRoom)
	}
	if u.Monitor {
		return wire.ErrResult[wire.Unit](locale.MonitorCantPlay)
	}
	if r.phase != phasePlaying {
		return wire.ErrResult[wire.Unit](locale.WrongState)
	}

	r.aborted[u.ID] = struct{}{}
	delete(r.played, u.ID)
	batch.broadcast(r, wire.MessageCommand(wire.Message{Type: wire.MsgAbort, User: u.ID}), 0)
	s.checkGameTerminationLocked(&batch, r)
	s.roomUpdatedLocked(r)
	return wire.OkUnit()
}

// checkGameTerminationLocked ends the game once every player has either
// reported a result or aborted. A game where nobody finished is cancelled
// rather than ended.
func (s *State) checkGameTerminationLocked(batch *sendBatch, r *Room) {
	if r.phase != phasePlaying || !r.allPlayersDone() {
		return
	}
	if len(r.played) == 0 {
		s.cancelGameLocked(batch, r)
		return
	}

	records := make(map[int32]int32, len(r.played))
	for id, rec := range r.played {
		records[id] = rec
	}
	chart := *r.chart

	r.enterSelectChart(r.cycle)
	batch.broadcast(r, wire.MessageCommand(wire.Message{Type: wire.MsgGameEnd}), 0)
	batch.broadcast(r, wire.ChangeStateCommand(r.State()), 0)

	if s.hooks.OnGameEnd != nil && r.replayEligible {
		s.hooks.OnGameEnd(r.Snapshot(), chart, records)
	}
	logging.Info(logging.WithRoom(context.Background(), string(r.ID)), "game ended",
		zap.Int("finished", len(records)))
}

// cancelGameLocked rolls an in-flight game back to SelectChart, keeping the
// chart selection.
func (s *State) cancelGameLocked(batch *sendBatch, r *Room) {
	hostID := int32(0)
	if r.host != nil {
		hostID = r.host.ID
	}
	r.enterSelectChart(true)
	batch.broadcast(r, wire.MessageCommand(wire.Message{Type: wire.MsgCancelGame, User: hostID}), 0)
	batch.broadcast(r, wire.ChangeStateCommand(r.State()), 0)
}
