// Package session drives one client connection: heartbeat enforcement,
// authentication, and the dispatch of decoded commands into the game
// registry.
package session

import (
	"context"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Pimeng/tphira-mp-sub001/internal/v1/game"
	"github.com/Pimeng/tphira-mp-sub001/internal/v1/locale"
	"github.com/Pimeng/tphira-mp-sub001/internal/v1/logging"
	"github.com/Pimeng/tphira-mp-sub001/internal/v1/metrics"
	"github.com/Pimeng/tphira-mp-sub001/internal/v1/ratelimit"
	"github.com/Pimeng/tphira-mp-sub001/internal/v1/stream"
	"github.com/Pimeng/tphira-mp-sub001/internal/v1/wire"
)

// Heartbeat policy. Clients ping every pingInterval and expect a reply
// within pingReplyTimeout; the server only enforces the hard cutoff: any
// frame resets the clock, and disconnectTimeout of silence closes the
// socket.
const (
	pingInterval       = 3 * time.Second
	pingReplyTimeout   = 2 * time.Second
	disconnectTimeout  = 10 * time.Second
	heartbeatCheckStep = 2 * time.Second

	resolveTimeout = 5 * time.Second
)

// Deps bundles everything a session needs from the rest of the server.
type Deps struct {
	State    *game.State
	Identity IdentityResolver
	Charts   ChartResolver
	Records  RecordResolver
	// Tickets is nil when federation is disabled.
	Tickets TicketConsumer
	Limits  *ratelimit.CommandLimiters
}

// Session owns one accepted connection. It implements stream.Handler for
// inbound frames and game.Conn for outbound delivery.
type Session struct {
	id     uuid.UUID
	stream *stream.Stream
	deps   Deps

	mu   sync.Mutex
	user *game.User

	lastActivity atomic.Int64 // unix nanos

	closeOnce sync.Once
	cancel    context.CancelFunc
}

// Accept performs the version handshake on conn and registers the session.
func Accept(conn net.Conn, deps Deps) (*Session, error) {
	st, err := stream.Accept(conn, stream.Config{AcceptVersions: []byte{stream.ProtocolVersion}})
	if err != nil {
		return nil, err
	}
	s := &Session{id: uuid.New(), stream: st, deps: deps}
	s.touch()
	deps.State.RegisterSession(s)
	return s, nil
}

// ID implements game.Conn.
func (s *Session) ID() uuid.UUID { return s.id }

// SendCommand implements game.Conn. Write failures are swallowed: a dead
// socket is detected by the heartbeat, and one slow client must not affect a
// broadcast to the rest of the room.
func (s *Session) SendCommand(cmd *wire.ServerCommand) {
	if err := s.stream.Send(wire.EncodeServerCommand(cmd)); err != nil {
		logging.Debug(s.logCtx(), "send failed", zap.Stringer("command", cmd.Type), zap.Error(err))
	}
}

// Close implements game.Conn.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		cancel := s.cancel
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		_ = s.stream.Close()
	})
}

// Run reads the connection until it dies, then tears the session down. It
// blocks; the server entry runs it on a dedicated goroutine.
func (s *Session) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	watchdogDone := make(chan struct{})
	go s.heartbeatWatchdog(ctx, watchdogDone)

	logging.Info(s.logCtx(), "connection accepted", zap.String("remote", s.stream.RemoteAddr().String()))

	err := s.stream.Drain(ctx, s)
	cancel()
	<-watchdogDone

	if err != nil {
		// Framing and decode failures are fatal for the connection.
		metrics.FramingErrors.Inc()
		logging.Warn(s.logCtx(), "connection failed", zap.Error(err))
	} else {
		logging.Info(s.logCtx(), "connection closed")
	}

	s.Close()
	s.deps.State.UnregisterSession(s.id)
	if u := s.currentUser(); u != nil {
		s.deps.State.DetachUser(u, s)
	}
}

func (s *Session) heartbeatWatchdog(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(heartbeatCheckStep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			idle := time.Since(time.Unix(0, s.lastActivity.Load()))
			if idle > disconnectTimeout {
				logging.Info(s.logCtx(), "heartbeat timeout", zap.Duration("idle", idle))
				s.Close()
				return
			}
		}
	}
}

func (s *Session) touch() { s.lastActivity.Store(time.Now().UnixNano()) }

func (s *Session) currentUser() *game.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

func (s *Session) logCtx() context.Context {
	ctx := logging.WithConn(context.Background(), s.id.String())
	if u := s.currentUser(); u != nil {
		ctx = logging.WithUser(ctx, u.ID)
		if r := u.Room(); r != nil {
			ctx = logging.WithRoom(ctx, string(r.ID))
		}
	}
	return ctx
}

// TryFastPath implements stream.FastPath: Ping is answered inline so it
// never queues behind a slow command.
func (s *Session) TryFastPath(payload []byte) bool {
	if len(payload) != 1 || payload[0] != byte(wire.ClientCmdPing) {
		return false
	}
	s.touch()
	s.SendCommand(wire.Pong)
	return true
}

// OnPacket implements stream.Handler. A decode failure is returned and
// closes the connection; semantic failures only produce error results.
func (s *Session) OnPacket(ctx context.Context, payload []byte) error {
	s.touch()
	cmd, err := wire.DecodeClientCommand(payload)
	if err != nil {
		metrics.Commands.WithLabelValues("invalid", "error").Inc()
		return err
	}

	kind := cmd.Type.String()
	timer := prometheus.NewTimer(metrics.CommandDuration.WithLabelValues(kind))
	status := s.dispatch(ctx, cmd)
	timer.ObserveDuration()
	metrics.Commands.WithLabelValues(kind, status).Inc()
	return nil
}

func commandClass(t wire.ClientCommandType) ratelimit.Class {
	switch t {
	case wire.ClientCmdChat:
		return ratelimit.ClassChat
	case wire.ClientCmdTouches, wire.ClientCmdJudges:
		return ratelimit.ClassGame
	default:
		return ratelimit.ClassRoom
	}
}

// responseType maps a request command to its paired response command.
func responseType(t wire.ClientCommandType) wire.ServerCommandType {
	switch t {
	case wire.ClientCmdChat:
		return wire.ServerCmdChat
	case wire.ClientCmdCreateRoom:
		return wire.ServerCmdCreateRoom
	case wire.ClientCmdLeaveRoom:
		return wire.ServerCmdLeaveRoom
	case wire.ClientCmdLockRoom:
		return wire.ServerCmdLockRoom
	case wire.ClientCmdCycleRoom:
		return wire.ServerCmdCycleRoom
	case wire.ClientCmdSelectChart:
		return wire.ServerCmdSelectChart
	case wire.ClientCmdRequestStart:
		return wire.ServerCmdRequestStart
	case wire.ClientCmdReady:
		return wire.ServerCmdReady
	case wire.ClientCmdCancelReady:
		return wire.ServerCmdCancelReady
	case wire.ClientCmdPlayed:
		return wire.ServerCmdPlayed
	default:
		return wire.ServerCmdAbort
	}
}

func (s *Session) respondUnit(t wire.ClientCommandType, res *wire.Result[wire.Unit]) string {
	s.SendCommand(wire.UnitResponse(responseType(t), res))
	if res.Ok != nil {
		return "ok"
	}
	logging.Debug(s.logCtx(), "command rejected",
		zap.String("command", t.String()),
		zap.String("reason", res.Err),
		zap.String("reason_text", locale.TrDefault(res.Err)))
	return "error"
}

func (s *Session) dispatch(ctx context.Context, cmd *wire.ClientCommand) (status string) {
	switch cmd.Type {
	case wire.ClientCmdPing:
		s.SendCommand(wire.Pong)
		return "ok"
	case wire.ClientCmdAuthenticate:
		return s.handleAuthenticate(ctx, cmd.Token)
	}

	u := s.currentUser()
	if u == nil {
		switch cmd.Type {
		case wire.ClientCmdTouches, wire.ClientCmdJudges:
			return "error"
		case wire.ClientCmdJoinRoom:
			s.SendCommand(&wire.ServerCommand{
				Type:     wire.ServerCmdJoinRoom,
				JoinRoom: wire.ErrResult[wire.JoinRoomResponse](locale.NotAuthenticated),
			})
			return "error"
		default:
			return s.respondUnit(cmd.Type, wire.ErrResult[wire.Unit](locale.NotAuthenticated))
		}
	}

	if !s.deps.Limits.Allow(ctx, commandClass(cmd.Type), strconv.Itoa(int(u.ID))) {
		switch cmd.Type {
		case wire.ClientCmdTouches, wire.ClientCmdJudges:
			return "error"
		case wire.ClientCmdJoinRoom:
			s.SendCommand(&wire.ServerCommand{
				Type:     wire.ServerCmdJoinRoom,
				JoinRoom: wire.ErrResult[wire.JoinRoomResponse](locale.RateLimited),
			})
			return "error"
		default:
			return s.respondUnit(cmd.Type, wire.ErrResult[wire.Unit](locale.RateLimited))
		}
	}

	switch cmd.Type {
	case wire.ClientCmdChat:
		return s.respondUnit(cmd.Type, s.deps.State.Chat(u, cmd.Message))
	case wire.ClientCmdTouches:
		if reason := s.deps.State.ForwardTouches(u, cmd.Frames); reason != "" {
			return "error"
		}
		return "ok"
	case wire.ClientCmdJudges:
		if reason := s.deps.State.ForwardJudges(u, cmd.Judges); reason != "" {
			return "error"
		}
		return "ok"
	case wire.ClientCmdCreateRoom:
		return s.respondUnit(cmd.Type, s.deps.State.CreateRoom(u, cmd.RoomID))
	case wire.ClientCmdJoinRoom:
		res := s.deps.State.JoinRoom(u, cmd.RoomID, cmd.Monitor)
		s.SendCommand(&wire.ServerCommand{Type: wire.ServerCmdJoinRoom, JoinRoom: res})
		if res.Ok != nil {
			return "ok"
		}
		return "error"
	case wire.ClientCmdLeaveRoom:
		return s.respondUnit(cmd.Type, s.deps.State.LeaveRoom(u))
	case wire.ClientCmdLockRoom:
		return s.respondUnit(cmd.Type, s.deps.State.LockRoom(u, cmd.Lock))
	case wire.ClientCmdCycleRoom:
		return s.respondUnit(cmd.Type, s.deps.State.CycleRoom(u, cmd.Cycle))
	case wire.ClientCmdSelectChart:
		return s.handleSelectChart(ctx, u, cmd.ChartID)
	case wire.ClientCmdRequestStart:
		return s.respondUnit(cmd.Type, s.deps.State.RequestStart(u))
	case wire.ClientCmdReady:
		return s.respondUnit(cmd.Type, s.deps.State.Ready(u))
	case wire.ClientCmdCancelReady:
		return s.respondUnit(cmd.Type, s.deps.State.CancelReady(u))
	case wire.ClientCmdPlayed:
		return s.handlePlayed(ctx, u, cmd.RecordID)
	case wire.ClientCmdAbort:
		return s.respondUnit(cmd.Type, s.deps.State.Abort(u))
	default:
		return "error"
	}
}

// handleSelectChart resolves the chart metadata outside the registry mutex,
// then applies the selection.
func (s *Session) handleSelectChart(ctx context.Context, u *game.User, chartID int32) string {
	rctx, cancel := context.WithTimeout(ctx, resolveTimeout)
	defer cancel()
	chart, err := s.deps.Charts.Chart(rctx, chartID)
	if err != nil {
		logging.Warn(s.logCtx(), "chart lookup failed", zap.Int32("chart_id", chartID), zap.Error(err))
		return s.respondUnit(wire.ClientCmdSelectChart, wire.ErrResult[wire.Unit](locale.ChartNotFound))
	}
	return s.respondUnit(wire.ClientCmdSelectChart, s.deps.State.SelectChart(u, chart))
}

// handlePlayed enriches the reported record with score and accuracy from the
// record service. Lookup failures degrade to a bare record id rather than
// rejecting the report.
func (s *Session) handlePlayed(ctx context.Context, u *game.User, recordID int32) string {
	rec := game.PlayedRecord{RecordID: recordID}
	if s.deps.Records != nil {
		rctx, cancel := context.WithTimeout(ctx, resolveTimeout)
		defer cancel()
		if full, err := s.deps.Records.Record(rctx, recordID); err == nil {
			rec = full
		} else {
			logging.Warn(s.logCtx(), "record lookup failed", zap.Int32("record_id", recordID), zap.Error(err))
		}
	}
	return s.respondUnit(wire.ClientCmdPlayed, s.deps.State.Played(u, rec))
}

func (s *Session) respondAuth(res *wire.Result[wire.AuthResult]) string {
	s.SendCommand(&wire.ServerCommand{Type: wire.ServerCmdAuthenticate, Authenticate: res})
	if res.Ok != nil {
		return "ok"
	}
	return "error"
}

// handleAuthenticate resolves the token, binds (or rebinds) the user, and
// answers with the identity plus the surviving room snapshot. Federation
// tokens, marked by a leading '@', redeem a transfer ticket instead of
// hitting the identity service. Auth failures keep the connection open so
// the client can retry.
func (s *Session) handleAuthenticate(ctx context.Context, token string) string {
	if strings.HasPrefix(token, "@") {
		return s.handleTicketAuth(token[1:])
	}

	rctx, cancel := context.WithTimeout(ctx, resolveTimeout)
	defer cancel()
	account, err := s.deps.Identity.Me(rctx, token)
	if err != nil {
		logging.Warn(s.logCtx(), "authentication failed",
			zap.String("token", logging.RedactToken(token)), zap.Error(err))
		return s.respondAuth(wire.ErrResult[wire.AuthResult](locale.AuthFailed))
	}

	res, reason := s.deps.State.BindUser(s, account.ID, account.Name, account.Language)
	if reason != "" {
		return s.respondAuth(wire.ErrResult[wire.AuthResult](reason))
	}
	s.bindUser(account.ID)
	logging.Info(s.logCtx(), "authenticated", zap.String("name", account.Name))
	return s.respondAuth(wire.OkResult(*res))
}

func (s *Session) handleTicketAuth(ticketID string) string {
	if s.deps.Tickets == nil {
		return s.respondAuth(wire.ErrResult[wire.AuthResult](locale.TicketInvalid))
	}
	t, ok := s.deps.Tickets.Consume(ticketID)
	if !ok {
		metrics.FederationTickets.WithLabelValues("rejected").Inc()
		return s.respondAuth(wire.ErrResult[wire.AuthResult](locale.TicketInvalid))
	}
	metrics.FederationTickets.WithLabelValues("consumed").Inc()

	res, reason := s.deps.State.BindUser(s, t.PlayerID, t.PlayerName, "en-US")
	if reason != "" {
		return s.respondAuth(wire.ErrResult[wire.AuthResult](reason))
	}
	s.bindUser(t.PlayerID)

	u := s.currentUser()
	if u != nil && u.Room() == nil {
		if join := s.deps.State.JoinRoom(u, t.RoomID, t.Monitor); join.Ok == nil {
			return s.respondAuth(wire.ErrResult[wire.AuthResult](join.Err))
		}
	}
	res.Room = s.deps.State.ClientRoomStateFor(t.PlayerID)
	logging.Info(s.logCtx(), "federated user transferred",
		zap.String("room_id", string(t.RoomID)),
		zap.String("source_server", t.SourceServer))
	return s.respondAuth(wire.OkResult(*res))
}

func (s *Session) bindUser(id int32) {
	u := s.deps.State.LookupUser(id)
	s.mu.Lock()
	s.user = u
	s.mu.Unlock()
}
