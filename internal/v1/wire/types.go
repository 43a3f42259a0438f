package wire

import (
	"errors"
	"fmt"

	"github.com/x448/float16"
)

// RoomIDMaxLen bounds the printable room identifier.
const RoomIDMaxLen = 20

// ErrInvalidRoomID is returned for empty ids, ids over 20 bytes, or ids with
// characters outside A-Z a-z 0-9 - _.
var ErrInvalidRoomID = errors.New("wire: invalid room id")

// RoomID is a short printable room identifier.
type RoomID string

func roomIDCharOK(c byte) bool {
	return c == '-' || c == '_' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// ParseRoomID validates and returns a RoomID.
func ParseRoomID(s string) (RoomID, error) {
	if s == "" || len(s) > RoomIDMaxLen {
		return "", ErrInvalidRoomID
	}
	for i := 0; i < len(s); i++ {
		if !roomIDCharOK(s[i]) {
			return "", ErrInvalidRoomID
		}
	}
	return RoomID(s), nil
}

// MustRoomID parses s and panics on failure. For constants and tests.
func MustRoomID(s string) RoomID {
	id, err := ParseRoomID(s)
	if err != nil {
		panic(err)
	}
	return id
}

func (id RoomID) String() string { return string(id) }

func (id *RoomID) ReadBinary(r *Reader) error {
	s, err := r.Varchar(RoomIDMaxLen)
	if err != nil {
		return err
	}
	parsed, err := ParseRoomID(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id RoomID) WriteBinary(w *Writer) { w.String(string(id)) }

// UserInfo is the public identity of a participant.
type UserInfo struct {
	ID      int32
	Name    string
	Monitor bool
}

func (u *UserInfo) ReadBinary(r *Reader) error {
	var err error
	if u.ID, err = r.I32(); err != nil {
		return err
	}
	if u.Name, err = r.String(); err != nil {
		return err
	}
	u.Monitor, err = r.Bool()
	return err
}

func (u UserInfo) WriteBinary(w *Writer) {
	w.I32(u.ID)
	w.String(u.Name)
	w.Bool(u.Monitor)
}

// CompactPos packs a touch coordinate as two IEEE half-precision values.
type CompactPos struct {
	X uint16
	Y uint16
}

// NewCompactPos rounds two float32 coordinates to the nearest half values.
func NewCompactPos(x, y float32) CompactPos {
	return CompactPos{
		X: float16.Fromfloat32(x).Bits(),
		Y: float16.Fromfloat32(y).Bits(),
	}
}

func (p CompactPos) XFloat() float32 { return float16.Frombits(p.X).Float32() }
func (p CompactPos) YFloat() float32 { return float16.Frombits(p.Y).Float32() }

func (p *CompactPos) ReadBinary(r *Reader) error {
	var err error
	if p.X, err = r.U16(); err != nil {
		return err
	}
	p.Y, err = r.U16()
	return err
}

func (p CompactPos) WriteBinary(w *Writer) {
	w.U16(p.X)
	w.U16(p.Y)
}

// TouchPoint is one touch within a frame, keyed by pointer id.
type TouchPoint struct {
	ID  int8
	Pos CompactPos
}

// TouchFrame is a timestamped batch of touch points.
type TouchFrame struct {
	Time   float32
	Points []TouchPoint
}

func (t *TouchFrame) ReadBinary(r *Reader) error {
	var err error
	if t.Time, err = r.F32(); err != nil {
		return err
	}
	n, err := r.Uleb()
	if err != nil {
		return err
	}
	t.Points = make([]TouchPoint, n)
	for i := range t.Points {
		if t.Points[i].ID, err = r.I8(); err != nil {
			return err
		}
		if err = t.Points[i].Pos.ReadBinary(r); err != nil {
			return err
		}
	}
	return nil
}

func (t TouchFrame) WriteBinary(w *Writer) {
	w.F32(t.Time)
	w.Uleb(uint64(len(t.Points)))
	for _, p := range t.Points {
		w.I8(p.ID)
		p.Pos.WriteBinary(w)
	}
}

// Judgement grades a single note hit.
type Judgement uint8

const (
	JudgementPerfect Judgement = iota
	JudgementGood
	JudgementBad
	JudgementMiss
	JudgementHoldPerfect
	JudgementHoldGood

	judgementCount
)

func (j *Judgement) ReadBinary(r *Reader) error {
	v, err := r.U8()
	if err != nil {
		return err
	}
	if v >= uint8(judgementCount) {
		return fmt.Errorf("wire: unknown judgement %d", v)
	}
	*j = Judgement(v)
	return nil
}

func (j Judgement) WriteBinary(w *Writer) { w.U8(uint8(j)) }

// JudgeEvent reports the judgement of one note on one line.
type JudgeEvent struct {
	Time      float32
	LineID    uint32
	NoteID    uint32
	Judgement Judgement
}

func (j *JudgeEvent) ReadBinary(r *Reader) error {
	var err error
	if j.Time, err = r.F32(); err != nil {
		return err
	}
	if j.LineID, err = r.U32(); err != nil {
		return err
	}
	if j.NoteID, err = r.U32(); err != nil {
		return err
	}
	return j.Judgement.ReadBinary(r)
}

func (j JudgeEvent) WriteBinary(w *Writer) {
	w.F32(j.Time)
	w.U32(j.LineID)
	w.U32(j.NoteID)
	j.Judgement.WriteBinary(w)
}

func readTouchFrames(r *Reader) ([]TouchFrame, error) {
	n, err := r.Uleb()
	if err != nil {
		return nil, err
	}
	frames := make([]TouchFrame, n)
	for i := range frames {
		if err := frames[i].ReadBinary(r); err != nil {
			return nil, err
		}
	}
	return frames, nil
}

func writeTouchFrames(w *Writer, frames []TouchFrame) {
	w.Uleb(uint64(len(frames)))
	for _, f := range frames {
		f.WriteBinary(w)
	}
}

func readJudgeEvents(r *Reader) ([]JudgeEvent, error) {
	n, err := r.Uleb()
	if err != nil {
		return nil, err
	}
	judges := make([]JudgeEvent, n)
	for i := range judges {
		if err := judges[i].ReadBinary(r); err != nil {
			return nil, err
		}
	}
	return judges, nil
}

func writeJudgeEvents(w *Writer, judges []JudgeEvent) {
	w.Uleb(uint64(len(judges)))
	for _, j := range judges {
		j.WriteBinary(w)
	}
}
