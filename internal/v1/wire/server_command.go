package wire

import "fmt"

// ServerCommandType tags the server → client command union.
type ServerCommandType uint8

const (
	ServerCmdPong ServerCommandType = iota
	ServerCmdAuthenticate
	ServerCmdChat
	ServerCmdTouches
	ServerCmdJudges
	ServerCmdMessage
	ServerCmdChangeState
	ServerCmdChangeHost
	ServerCmdCreateRoom
	ServerCmdJoinRoom
	ServerCmdOnJoinRoom
	ServerCmdLeaveRoom
	ServerCmdLockRoom
	ServerCmdCycleRoom
	ServerCmdSelectChart
	ServerCmdRequestStart
	ServerCmdReady
	ServerCmdCancelReady
	ServerCmdPlayed
	ServerCmdAbort
)

// Unit is the empty success payload of most responses.
type Unit = struct{}

// Result carries either a success value or a localized reason string, encoded
// as a bool tag followed by the ok payload or the error string.
type Result[T any] struct {
	Ok  *T
	Err string
}

// OkResult wraps a success value.
func OkResult[T any](v T) *Result[T] { return &Result[T]{Ok: &v} }

// ErrResult wraps a localized reason key.
func ErrResult[T any](reason string) *Result[T] { return &Result[T]{Err: reason} }

// OkUnit is the empty success result.
func OkUnit() *Result[Unit] { return OkResult(Unit{}) }

func (res *Result[T]) readBinary(r *Reader, readOk func(*Reader, *T) error) error {
	ok, err := r.Bool()
	if err != nil {
		return err
	}
	if !ok {
		res.Ok = nil
		res.Err, err = r.String()
		return err
	}
	res.Ok = new(T)
	return readOk(r, res.Ok)
}

func (res *Result[T]) writeBinary(w *Writer, writeOk func(*Writer, *T)) {
	if res.Ok != nil {
		w.Bool(true)
		writeOk(w, res.Ok)
		return
	}
	w.Bool(false)
	w.String(res.Err)
}

func readUnitResult(r *Reader) (*Result[Unit], error) {
	res := &Result[Unit]{}
	err := res.readBinary(r, func(*Reader, *Unit) error { return nil })
	return res, err
}

func writeUnitResult(w *Writer, res *Result[Unit]) {
	res.writeBinary(w, func(*Writer, *Unit) {})
}

// AuthResult is the success payload of the Authenticate response: the caller's
// identity plus a snapshot of the room it is still a member of, if any.
type AuthResult struct {
	User UserInfo
	Room *ClientRoomState
}

func (a *AuthResult) ReadBinary(r *Reader) error {
	if err := a.User.ReadBinary(r); err != nil {
		return err
	}
	has, err := r.Bool()
	if err != nil {
		return err
	}
	a.Room = nil
	if has {
		a.Room = &ClientRoomState{}
		return a.Room.ReadBinary(r)
	}
	return nil
}

func (a AuthResult) WriteBinary(w *Writer) {
	a.User.WriteBinary(w)
	if a.Room != nil {
		w.Bool(true)
		a.Room.WriteBinary(w)
	} else {
		w.Bool(false)
	}
}

// ServerCommand is the server → client command union. Only the fields of the
// tagged variant are meaningful.
type ServerCommand struct {
	Type ServerCommandType

	Authenticate *Result[AuthResult]       // Authenticate
	Player       int32                     // Touches, Judges: originating player
	Frames       []TouchFrame              // Touches
	Judges       []JudgeEvent              // Judges
	Message      *Message                  // Message
	NewState     *RoomState                // ChangeState
	IsHost       bool                      // ChangeHost
	JoinRoom     *Result[JoinRoomResponse] // JoinRoom
	JoinedUser   *UserInfo                 // OnJoinRoom
	Result       *Result[Unit]             // all remaining paired responses
}

func (c ServerCommandType) String() string {
	names := [...]string{
		"Pong", "Authenticate", "Chat", "Touches", "Judges", "Message",
		"ChangeState", "ChangeHost", "CreateRoom", "JoinRoom", "OnJoinRoom",
		"LeaveRoom", "LockRoom", "CycleRoom", "SelectChart", "RequestStart",
		"Ready", "CancelReady", "Played", "Abort",
	}
	if int(c) < len(names) {
		return names[c]
	}
	return fmt.Sprintf("ServerCommand(%d)", uint8(c))
}

func (c *ServerCommand) ReadBinary(r *Reader) error {
	tag, err := r.U8()
	if err != nil {
		return err
	}
	c.Type = ServerCommandType(tag)

	switch c.Type {
	case ServerCmdPong:
		return nil
	case ServerCmdAuthenticate:
		c.Authenticate = &Result[AuthResult]{}
		return c.Authenticate.readBinary(r, func(r *Reader, a *AuthResult) error {
			return a.ReadBinary(r)
		})
	case ServerCmdTouches:
		if c.Player, err = r.I32(); err != nil {
			return err
		}
		c.Frames, err = readTouchFrames(r)
		return err
	case ServerCmdJudges:
		if c.Player, err = r.I32(); err != nil {
			return err
		}
		c.Judges, err = readJudgeEvents(r)
		return err
	case ServerCmdMessage:
		c.Message = &Message{}
		return c.Message.ReadBinary(r)
	case ServerCmdChangeState:
		c.NewState = &RoomState{}
		return c.NewState.ReadBinary(r)
	case ServerCmdChangeHost:
		c.IsHost, err = r.Bool()
		return err
	case ServerCmdJoinRoom:
		c.JoinRoom = &Result[JoinRoomResponse]{}
		return c.JoinRoom.readBinary(r, func(r *Reader, j *JoinRoomResponse) error {
			return j.ReadBinary(r)
		})
	case ServerCmdOnJoinRoom:
		c.JoinedUser = &UserInfo{}
		return c.JoinedUser.ReadBinary(r)
	case ServerCmdChat, ServerCmdCreateRoom, ServerCmdLeaveRoom,
		ServerCmdLockRoom, ServerCmdCycleRoom, ServerCmdSelectChart,
		ServerCmdRequestStart, ServerCmdReady, ServerCmdCancelReady,
		ServerCmdPlayed, ServerCmdAbort:
		c.Result, err = readUnitResult(r)
		return err
	default:
		return fmt.Errorf("wire: unknown server command tag %d", tag)
	}
}

func (c *ServerCommand) WriteBinary(w *Writer) {
	w.U8(uint8(c.Type))

	switch c.Type {
	case ServerCmdAuthenticate:
		c.Authenticate.writeBinary(w, func(w *Writer, a *AuthResult) { a.WriteBinary(w) })
	case ServerCmdTouches:
		w.I32(c.Player)
		writeTouchFrames(w, c.Frames)
	case ServerCmdJudges:
		w.I32(c.Player)
		writeJudgeEvents(w, c.Judges)
	case ServerCmdMessage:
		c.Message.WriteBinary(w)
	case ServerCmdChangeState:
		c.NewState.WriteBinary(w)
	case ServerCmdChangeHost:
		w.Bool(c.IsHost)
	case ServerCmdJoinRoom:
		c.JoinRoom.writeBinary(w, func(w *Writer, j *JoinRoomResponse) { j.WriteBinary(w) })
	case ServerCmdOnJoinRoom:
		c.JoinedUser.WriteBinary(w)
	case ServerCmdChat, ServerCmdCreateRoom, ServerCmdLeaveRoom,
		ServerCmdLockRoom, ServerCmdCycleRoom, ServerCmdSelectChart,
		ServerCmdRequestStart, ServerCmdReady, ServerCmdCancelReady,
		ServerCmdPlayed, ServerCmdAbort:
		writeUnitResult(w, c.Result)
	}
}

// DecodeServerCommand decodes one server command from a frame payload and
// rejects trailing bytes.
func DecodeServerCommand(payload []byte) (*ServerCommand, error) {
	r := NewReader(payload)
	var c ServerCommand
	if err := c.ReadBinary(r); err != nil {
		return nil, err
	}
	if r.Remaining() != 0 {
		return nil, fmt.Errorf("wire: %d trailing bytes after %s", r.Remaining(), c.Type)
	}
	return &c, nil
}

// EncodeServerCommand encodes a server command as a frame payload.
func EncodeServerCommand(c *ServerCommand) []byte {
	w := NewWriter()
	c.WriteBinary(w)
	return w.Bytes()
}

// Pong is the reusable reply to Ping.
var Pong = &ServerCommand{Type: ServerCmdPong}

// UnitResponse builds the paired response for a request command type.
func UnitResponse(t ServerCommandType, res *Result[Unit]) *ServerCommand {
	return &ServerCommand{Type: t, Result: res}
}

// MessageCommand wraps a room message broadcast.
func MessageCommand(m Message) *ServerCommand {
	return &ServerCommand{Type: ServerCmdMessage, Message: &m}
}

// ChangeStateCommand wraps a room state change broadcast.
func ChangeStateCommand(s RoomState) *ServerCommand {
	return &ServerCommand{Type: ServerCmdChangeState, NewState: &s}
}
