package wire

import "fmt"

// ClientCommandType tags the client → server command union.
type ClientCommandType uint8

const (
	ClientCmdPing ClientCommandType = iota
	ClientCmdAuthenticate
	ClientCmdChat
	ClientCmdTouches
	ClientCmdJudges
	ClientCmdCreateRoom
	ClientCmdJoinRoom
	ClientCmdLeaveRoom
	ClientCmdLockRoom
	ClientCmdCycleRoom
	ClientCmdSelectChart
	ClientCmdRequestStart
	ClientCmdReady
	ClientCmdCancelReady
	ClientCmdPlayed
	ClientCmdAbort
)

const (
	// AuthTokenMaxLen caps the Authenticate token varchar.
	AuthTokenMaxLen = 32
	// ChatMaxLen caps the Chat message varchar, in bytes.
	ChatMaxLen = 200
)

func (t ClientCommandType) String() string {
	names := [...]string{
		"Ping", "Authenticate", "Chat", "Touches", "Judges", "CreateRoom",
		"JoinRoom", "LeaveRoom", "LockRoom", "CycleRoom", "SelectChart",
		"RequestStart", "Ready", "CancelReady", "Played", "Abort",
	}
	if int(t) < len(names) {
		return names[t]
	}
	return fmt.Sprintf("ClientCommand(%d)", uint8(t))
}

// ClientCommand is the decoded client → server command. Only the fields of
// the tagged variant are meaningful.
type ClientCommand struct {
	Type ClientCommandType

	Token    string       // Authenticate
	Message  string       // Chat
	Frames   []TouchFrame // Touches
	Judges   []JudgeEvent // Judges
	RoomID   RoomID       // CreateRoom, JoinRoom
	Monitor  bool         // JoinRoom
	Lock     bool         // LockRoom
	Cycle    bool         // CycleRoom
	ChartID  int32        // SelectChart
	RecordID int32        // Played
}

func (c *ClientCommand) ReadBinary(r *Reader) error {
	tag, err := r.U8()
	if err != nil {
		return err
	}
	c.Type = ClientCommandType(tag)

	switch c.Type {
	case ClientCmdPing, ClientCmdLeaveRoom, ClientCmdRequestStart,
		ClientCmdReady, ClientCmdCancelReady, ClientCmdAbort:
		return nil
	case ClientCmdAuthenticate:
		c.Token, err = r.Varchar(AuthTokenMaxLen)
	case ClientCmdChat:
		c.Message, err = r.Varchar(ChatMaxLen)
	case ClientCmdTouches:
		c.Frames, err = readTouchFrames(r)
	case ClientCmdJudges:
		c.Judges, err = readJudgeEvents(r)
	case ClientCmdCreateRoom:
		err = c.RoomID.ReadBinary(r)
	case ClientCmdJoinRoom:
		if err = c.RoomID.ReadBinary(r); err != nil {
			return err
		}
		c.Monitor, err = r.Bool()
	case ClientCmdLockRoom:
		c.Lock, err = r.Bool()
	case ClientCmdCycleRoom:
		c.Cycle, err = r.Bool()
	case ClientCmdSelectChart:
		c.ChartID, err = r.I32()
	case ClientCmdPlayed:
		c.RecordID, err = r.I32()
	default:
		return fmt.Errorf("wire: unknown client command tag %d", tag)
	}
	return err
}

func (c ClientCommand) WriteBinary(w *Writer) {
	w.U8(uint8(c.Type))

	switch c.Type {
	case ClientCmdAuthenticate:
		w.String(c.Token)
	case ClientCmdChat:
		w.String(c.Message)
	case ClientCmdTouches:
		writeTouchFrames(w, c.Frames)
	case ClientCmdJudges:
		writeJudgeEvents(w, c.Judges)
	case ClientCmdCreateRoom:
		c.RoomID.WriteBinary(w)
	case ClientCmdJoinRoom:
		c.RoomID.WriteBinary(w)
		w.Bool(c.Monitor)
	case ClientCmdLockRoom:
		w.Bool(c.Lock)
	case ClientCmdCycleRoom:
		w.Bool(c.Cycle)
	case ClientCmdSelectChart:
		w.I32(c.ChartID)
	case ClientCmdPlayed:
		w.I32(c.RecordID)
	}
}

// DecodeClientCommand decodes one client command from a frame payload and
// rejects trailing bytes.
func DecodeClientCommand(payload []byte) (*ClientCommand, error) {
	r := NewReader(payload)
	var c ClientCommand
	if err := c.ReadBinary(r); err != nil {
		return nil, err
	}
	if r.Remaining() != 0 {
		return nil, fmt.Errorf("wire: %d trailing bytes after %s", r.Remaining(), c.Type)
	}
	return &c, nil
}

// EncodeClientCommand encodes a client command as a frame payload.
func EncodeClientCommand(c *ClientCommand) []byte {
	w := NewWriter()
	c.WriteBinary(w)
	return w.Bytes()
}
