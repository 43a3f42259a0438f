package wire

import (
	"errors"
	"fmt"
)

// DefaultMaxFrameLen caps the declared payload size of a single frame.
const DefaultMaxFrameLen = 2 << 20 // 2 MiB

// ErrFrameTooLarge is returned when a frame declares a payload above the cap.
// Framing errors are fatal: the connection is closed.
var ErrFrameTooLarge = errors.New("wire: frame exceeds size cap")

// AppendFrame appends the ULEB128 length prefix and payload to dst.
func AppendFrame(dst, payload []byte) []byte {
	w := Writer{buf: dst}
	w.Uleb(uint64(len(payload)))
	return append(w.buf, payload...)
}

// TryDecodeFrame peels one frame off the front of buf. It returns the payload
// and the number of bytes consumed, or (nil, 0, nil) when buf does not yet
// hold a complete frame. The payload aliases buf.
func TryDecodeFrame(buf []byte, maxLen int) ([]byte, int, error) {
	if maxLen <= 0 {
		maxLen = DefaultMaxFrameLen
	}
	r := NewReader(buf)
	n, err := r.Uleb()
	switch {
	case errors.Is(err, ErrShortBuffer):
		return nil, 0, nil
	case errors.Is(err, ErrBadUleb):
		return nil, 0, fmt.Errorf("wire: bad frame length prefix: %w", err)
	case err != nil:
		return nil, 0, err
	}
	if int(n) > maxLen {
		return nil, 0, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, n, maxLen)
	}
	if r.Remaining() < int(n) {
		return nil, 0, nil
	}
	payload, _ := r.Take(int(n))
	return payload, r.off, nil
}
