// Package wire implements the framed binary protocol spoken between clients
// and the server: ULEB128 length-prefixed frames whose payloads are tagged
// command unions encoded with little-endian primitives.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/google/uuid"
)

var (
	// ErrShortBuffer is returned when a decode runs past the end of a frame.
	ErrShortBuffer = errors.New("wire: unexpected end of frame")
	// ErrBadUleb is returned when a ULEB128 prefix does not fit in 32 bits.
	ErrBadUleb = errors.New("wire: uleb128 value exceeds 32 bits")
	// ErrInvalidUTF8 is returned when a decoded string is not valid UTF-8.
	ErrInvalidUTF8 = errors.New("wire: string is not valid utf-8")
	// ErrBadBool is returned when a bool byte is neither 0 nor 1.
	ErrBadBool = errors.New("wire: bool byte out of range")
)

// Reader decodes primitives from a single frame payload.
type Reader struct {
	buf []byte
	off int
}

func NewReader(b []byte) *Reader { return &Reader{buf: b} }

// Remaining reports how many bytes are left unread.
func (r *Reader) Remaining() int { return len(r.buf) - r.off }

// Take returns the next n bytes without copying.
func (r *Reader) Take(n int) ([]byte, error) {
	if n < 0 || r.Remaining() < n {
		return nil, ErrShortBuffer
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *Reader) Byte() (byte, error) {
	if r.off >= len(r.buf) {
		return 0, ErrShortBuffer
	}
	b := r.buf[r.off]
	r.off++
	return b, nil
}

// Uleb decodes a ULEB128 value, rejecting encodings wider than 32 bits.
func (r *Reader) Uleb() (uint64, error) {
	var v uint64
	var shift uint
	for {
		b, err := r.Byte()
		if err != nil {
			return 0, err
		}
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			break
		}
		shift += 7
		if shift >= 35 {
			return 0, ErrBadUleb
		}
	}
	if v > math.MaxUint32 {
		return 0, ErrBadUleb
	}
	return v, nil
}

func (r *Reader) U8() (uint8, error) { return r.Byte() }

func (r *Reader) I8() (int8, error) {
	b, err := r.Byte()
	return int8(b), err
}

func (r *Reader) U16() (uint16, error) {
	b, err := r.Take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *Reader) U32() (uint32, error) {
	b, err := r.Take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *Reader) I32() (int32, error) {
	v, err := r.U32()
	return int32(v), err
}

func (r *Reader) U64() (uint64, error) {
	b, err := r.Take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *Reader) I64() (int64, error) {
	v, err := r.U64()
	return int64(v), err
}

func (r *Reader) F32() (float32, error) {
	v, err := r.U32()
	return math.Float32frombits(v), err
}

func (r *Reader) Bool() (bool, error) {
	b, err := r.Byte()
	if err != nil {
		return false, err
	}
	if b > 1 {
		return false, ErrBadBool
	}
	return b == 1, nil
}

// String decodes a ULEB128 length followed by that many bytes of UTF-8.
func (r *Reader) String() (string, error) {
	n, err := r.Uleb()
	if err != nil {
		return "", err
	}
	b, err := r.Take(int(n))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", ErrInvalidUTF8
	}
	return string(b), nil
}

// Varchar decodes a string and fails when its byte length exceeds max.
func (r *Reader) Varchar(max int) (string, error) {
	n, err := r.Uleb()
	if err != nil {
		return "", err
	}
	if int(n) > max {
		return "", fmt.Errorf("wire: string of %d bytes exceeds varchar(%d)", n, max)
	}
	b, err := r.Take(int(n))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", ErrInvalidUTF8
	}
	return string(b), nil
}

// UUID decodes the low u64 then the high u64 of the big-endian UUID halves.
func (r *Reader) UUID() (uuid.UUID, error) {
	lo, err := r.U64()
	if err != nil {
		return uuid.Nil, err
	}
	hi, err := r.U64()
	if err != nil {
		return uuid.Nil, err
	}
	var u uuid.UUID
	binary.BigEndian.PutUint64(u[0:8], hi)
	binary.BigEndian.PutUint64(u[8:16], lo)
	return u, nil
}

// Writer encodes primitives into an in-memory buffer. Writes cannot fail.
type Writer struct {
	buf []byte
}

func NewWriter() *Writer { return &Writer{} }

// Bytes returns the encoded payload.
func (w *Writer) Bytes() []byte { return w.buf }

func (w *Writer) Uleb(v uint64) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		w.buf = append(w.buf, b)
		if v == 0 {
			return
		}
	}
}

func (w *Writer) U8(v uint8)  { w.buf = append(w.buf, v) }
func (w *Writer) I8(v int8)   { w.buf = append(w.buf, byte(v)) }
func (w *Writer) U16(v uint16) { w.buf = binary.LittleEndian.AppendUint16(w.buf, v) }
func (w *Writer) U32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }
func (w *Writer) I32(v int32)  { w.U32(uint32(v)) }
func (w *Writer) U64(v uint64) { w.buf = binary.LittleEndian.AppendUint64(w.buf, v) }
func (w *Writer) I64(v int64)  { w.U64(uint64(v)) }
func (w *Writer) F32(v float32) { w.U32(math.Float32bits(v)) }

func (w *Writer) Bool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
	} else {
		w.buf = append(w.buf, 0)
	}
}

func (w *Writer) String(s string) {
	w.Uleb(uint64(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *Writer) UUID(u uuid.UUID) {
	w.U64(binary.BigEndian.Uint64(u[8:16]))
	w.U64(binary.BigEndian.Uint64(u[0:8]))
}
