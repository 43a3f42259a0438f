// Package replay persists per-player game results as .phirarec files and
// serves them back to the admin surface.
package replay

import (
	"encoding/binary"
	"errors"
)

// Header identifies a replay file. Three on-disk encodings exist:
//
//	current  "PM" as u16 LE, then chartId, userId, recordId as u32 LE
//	older    "PHIR", then the same three fields
//	legacy   no header at all
//
// New files are always written in the current form; all three parse.
type Header struct {
	ChartID  int32
	UserID   int32
	RecordID int32
}

const (
	magicPM   = 0x504d // "PM"
	headerLen = 2 + 12
	phirLen   = 4 + 12
)

var magicPHIR = []byte("PHIR")

// ErrTruncated is returned when a recognized magic is not followed by a full
// header.
var ErrTruncated = errors.New("replay: truncated header")

// AppendHeader serializes h in the current format.
func AppendHeader(dst []byte, h Header) []byte {
	dst = binary.LittleEndian.AppendUint16(dst, magicPM)
	dst = binary.LittleEndian.AppendUint32(dst, uint32(h.ChartID))
	dst = binary.LittleEndian.AppendUint32(dst, uint32(h.UserID))
	return binary.LittleEndian.AppendUint32(dst, uint32(h.RecordID))
}

// ParseHeader recognizes any of the three header variants and returns the
// header plus the offset where the payload starts. Legacy files yield a zero
// header at offset 0.
func ParseHeader(data []byte) (Header, int, error) {
	if len(data) >= 2 && binary.LittleEndian.Uint16(data) == magicPM {
		if len(data) < headerLen {
			return Header{}, 0, ErrTruncated
		}
		return readFields(data[2:]), headerLen, nil
	}
	if len(data) >= 4 && string(data[:4]) == string(magicPHIR) {
		if len(data) < phirLen {
			return Header{}, 0, ErrTruncated
		}
		return readFields(data[4:]), phirLen, nil
	}
	return Header{}, 0, nil
}

func readFields(data []byte) Header {
	return Header{
		ChartID:  int32(binary.LittleEndian.Uint32(data)),
		UserID:   int32(binary.LittleEndian.Uint32(data[4:])),
		RecordID: int32(binary.LittleEndian.Uint32(data[8:])),
	}
}
