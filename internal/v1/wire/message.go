package wire

import (
	"fmt"
	"sort"
)

// MessageType tags the room broadcast message union.
type MessageType uint8

const (
	MsgChat MessageType = iota
	MsgCreateRoom
	MsgJoinRoom
	MsgLeaveRoom
	MsgNewHost
	MsgSelectChart
	MsgGameStart
	MsgReady
	MsgCancelReady
	MsgCancelGame
	MsgStartPlaying
	MsgPlayed
	MsgGameEnd
	MsgAbort
	MsgLockRoom
	MsgCycleRoom
)

// Message is a room event broadcast to every member. Only the fields of the
// tagged variant are meaningful.
type Message struct {
	Type MessageType

	User      int32
	Content   string  // Chat
	Name      string  // JoinRoom, LeaveRoom: user name; SelectChart: chart name
	ChartID   int32   // SelectChart
	Score     int32   // Played
	Accuracy  float32 // Played
	FullCombo bool    // Played
	Lock      bool    // LockRoom
	Cycle     bool    // CycleRoom
}

func (m *Message) ReadBinary(r *Reader) error {
	tag, err := r.U8()
	if err != nil {
		return err
	}
	m.Type = MessageType(tag)

	switch m.Type {
	case MsgStartPlaying, MsgGameEnd:
		return nil
	case MsgChat:
		if m.User, err = r.I32(); err != nil {
			return err
		}
		m.Content, err = r.String()
	case MsgCreateRoom, MsgNewHost, MsgGameStart, MsgReady, MsgCancelReady,
		MsgCancelGame, MsgAbort:
		m.User, err = r.I32()
	case MsgJoinRoom, MsgLeaveRoom:
		if m.User, err = r.I32(); err != nil {
			return err
		}
		m.Name, err = r.String()
	case MsgSelectChart:
		if m.User, err = r.I32(); err != nil {
			return err
		}
		if m.Name, err = r.String(); err != nil {
			return err
		}
		m.ChartID, err = r.I32()
	case MsgPlayed:
		if m.User, err = r.I32(); err != nil {
			return err
		}
		if m.Score, err = r.I32(); err != nil {
			return err
		}
		if m.Accuracy, err = r.F32(); err != nil {
			return err
		}
		m.FullCombo, err = r.Bool()
	case MsgLockRoom:
		m.Lock, err = r.Bool()
	case MsgCycleRoom:
		m.Cycle, err = r.Bool()
	default:
		return fmt.Errorf("wire: unknown message tag %d", tag)
	}
	return err
}

func (m Message) WriteBinary(w *Writer) {
	w.U8(uint8(m.Type))

	switch m.Type {
	case MsgChat:
		w.I32(m.User)
		w.String(m.Content)
	case MsgCreateRoom, MsgNewHost, MsgGameStart, MsgReady, MsgCancelReady,
		MsgCancelGame, MsgAbort:
		w.I32(m.User)
	case MsgJoinRoom, MsgLeaveRoom:
		w.I32(m.User)
		w.String(m.Name)
	case MsgSelectChart:
		w.I32(m.User)
		w.String(m.Name)
		w.I32(m.ChartID)
	case MsgPlayed:
		w.I32(m.User)
		w.I32(m.Score)
		w.F32(m.Accuracy)
		w.Bool(m.FullCombo)
	case MsgLockRoom:
		w.Bool(m.Lock)
	case MsgCycleRoom:
		w.Bool(m.Cycle)
	}
}

// RoomStateType tags the room lifecycle state union.
type RoomStateType uint8

const (
	StateSelectChart RoomStateType = iota
	StateWaitingForReady
	StatePlaying
)

func (t RoomStateType) String() string {
	switch t {
	case StateSelectChart:
		return "SelectChart"
	case StateWaitingForReady:
		return "WaitingForReady"
	case StatePlaying:
		return "Playing"
	}
	return fmt.Sprintf("RoomState(%d)", uint8(t))
}

// RoomState is the wire form of the room lifecycle state. ChartID is only
// meaningful in SelectChart.
type RoomState struct {
	Type    RoomStateType
	ChartID *int32
}

func (s *RoomState) ReadBinary(r *Reader) error {
	tag, err := r.U8()
	if err != nil {
		return err
	}
	s.Type = RoomStateType(tag)
	s.ChartID = nil

	switch s.Type {
	case StateSelectChart:
		has, err := r.Bool()
		if err != nil {
			return err
		}
		if has {
			id, err := r.I32()
			if err != nil {
				return err
			}
			s.ChartID = &id
		}
		return nil
	case StateWaitingForReady, StatePlaying:
		return nil
	default:
		return fmt.Errorf("wire: unknown room state tag %d", tag)
	}
}

func (s RoomState) WriteBinary(w *Writer) {
	w.U8(uint8(s.Type))
	if s.Type == StateSelectChart {
		if s.ChartID != nil {
			w.Bool(true)
			w.I32(*s.ChartID)
		} else {
			w.Bool(false)
		}
	}
}

// ClientRoomState is the room snapshot delivered in the Authenticate response
// when the user is already a member of a room.
type ClientRoomState struct {
	ID      RoomID
	State   RoomState
	Live    bool
	Locked  bool
	Cycle   bool
	IsHost  bool
	IsReady bool
	Users   map[int32]UserInfo
}

func (s *ClientRoomState) ReadBinary(r *Reader) error {
	if err := s.ID.ReadBinary(r); err != nil {
		return err
	}
	if err := s.State.ReadBinary(r); err != nil {
		return err
	}
	var err error
	if s.Live, err = r.Bool(); err != nil {
		return err
	}
	if s.Locked, err = r.Bool(); err != nil {
		return err
	}
	if s.Cycle, err = r.Bool(); err != nil {
		return err
	}
	if s.IsHost, err = r.Bool(); err != nil {
		return err
	}
	if s.IsReady, err = r.Bool(); err != nil {
		return err
	}
	n, err := r.Uleb()
	if err != nil {
		return err
	}
	s.Users = make(map[int32]UserInfo, n)
	for i := uint64(0); i < n; i++ {
		key, err := r.I32()
		if err != nil {
			return err
		}
		var u UserInfo
		if err := u.ReadBinary(r); err != nil {
			return err
		}
		s.Users[key] = u
	}
	return nil
}

func (s ClientRoomState) WriteBinary(w *Writer) {
	s.ID.WriteBinary(w)
	s.State.WriteBinary(w)
	w.Bool(s.Live)
	w.Bool(s.Locked)
	w.Bool(s.Cycle)
	w.Bool(s.IsHost)
	w.Bool(s.IsReady)

	// Entries sorted by key so the encoding is canonical.
	keys := make([]int32, 0, len(s.Users))
	for k := range s.Users {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	w.Uleb(uint64(len(keys)))
	for _, k := range keys {
		w.I32(k)
		s.Users[k].WriteBinary(w)
	}
}

// JoinRoomResponse is the success payload of the JoinRoom response.
type JoinRoomResponse struct {
	State RoomState
	Users []UserInfo
	Live  bool
}

func (j *JoinRoomResponse) ReadBinary(r *Reader) error {
	if err := j.State.ReadBinary(r); err != nil {
		return err
	}
	n, err := r.Uleb()
	if err != nil {
		return err
	}
	j.Users = make([]UserInfo, n)
	for i := range j.Users {
		if err := j.Users[i].ReadBinary(r); err != nil {
			return err
		}
	}
	j.Live, err = r.Bool()
	return err
}

func (j JoinRoomResponse) WriteBinary(w *Writer) {
	j.State.WriteBinary(w)
	w.Uleb(uint64(len(j.Users)))
	for _, u := range j.Users {
		u.WriteBinary(w)
	}
	w.Bool(j.Live)
}
