// Package stream owns one socket: it performs the protocol version
// handshake, peels length-prefixed frames off the byte stream, and hands the
// payloads to a handler strictly in arrival order.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/Pimeng/tphira-mp-sub001/internal/v1/wire"
)

const (
	// ProtocolVersion is the current client protocol version byte.
	ProtocolVersion byte = 1

	handshakeTimeout = 5 * time.Second
	writeTimeout     = 10 * time.Second
	readChunkSize    = 4096
)

// ErrClosed is returned by Send after the stream has been closed.
var ErrClosed = errors.New("stream: closed")

// Config controls handshake and framing behavior.
type Config struct {
	// AcceptVersions is the set of peer protocol versions the server accepts.
	// Empty means any version is accepted.
	AcceptVersions []byte
	// VersionToSend, when non-zero, switches the stream into the client role:
	// the version byte is written instead of read.
	VersionToSend byte
	// MaxFrameLen caps declared frame sizes; zero means wire.DefaultMaxFrameLen.
	MaxFrameLen int
}

// Handler receives frame payloads in arrival order. Drain waits for each call
// to return before decoding the next frame, so handlers serialize per
// connection. FastPath payloads are dispatched the same way but may be
// answered without queueing; the split exists so Ping never waits behind a
// slow command.
type Handler interface {
	OnPacket(ctx context.Context, payload []byte) error
}

// FastPath lets a handler claim payloads for synchronous handling.
type FastPath interface {
	// TryFastPath returns true when the payload was fully handled.
	TryFastPath(payload []byte) bool
}

// Stream is a framed connection. Writes are serialized; reads happen on the
// goroutine that calls Drain.
type Stream struct {
	conn    net.Conn
	version byte
	maxLen  int

	sendMu    sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

// Accept performs the server-side handshake on a freshly accepted socket:
// it reads exactly one version byte and validates it against cfg.
func Accept(conn net.Conn, cfg Config) (*Stream, error) {
	s := newStream(conn, cfg)

	if cfg.VersionToSend != 0 {
		if err := s.writeVersion(cfg.VersionToSend); err != nil {
			conn.Close()
			return nil, err
		}
		s.version = cfg.VersionToSend
		return s, nil
	}

	if err := conn.SetReadDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		conn.Close()
		return nil, err
	}
	var one [1]byte
	if _, err := conn.Read(one[:]); err != nil {
		conn.Close()
		return nil, fmt.Errorf("stream: version handshake: %w", err)
	}
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		conn.Close()
		return nil, err
	}

	v := one[0]
	if len(cfg.AcceptVersions) > 0 && !containsVersion(cfg.AcceptVersions, v) {
		conn.Close()
		return nil, fmt.Errorf("unsupported-protocol-version:%d", v)
	}
	s.version = v
	return s, nil
}

func newStream(conn net.Conn, cfg Config) *Stream {
	maxLen := cfg.MaxFrameLen
	if maxLen <= 0 {
		maxLen = wire.DefaultMaxFrameLen
	}
	return &Stream{conn: conn, maxLen: maxLen, closed: make(chan struct{})}
}

func containsVersion(versions []byte, v byte) bool {
	for _, accepted := range versions {
		if accepted == v {
			return true
		}
	}
	return false
}

func (s *Stream) writeVersion(v byte) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	_, err := s.conn.Write([]byte{v})
	return err
}

// Version returns the negotiated protocol version.
func (s *Stream) Version() byte { return s.version }

// RemoteAddr returns the peer address.
func (s *Stream) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

// Drain reads frames until the socket fails, a frame is malformed, or ctx is
// cancelled, dispatching each payload to h in order. The returned error is
// nil only on clean remote close.
func (s *Stream) Drain(ctx context.Context, h Handler) error {
	fast, _ := h.(FastPath)
	var buf []byte
	chunk := make([]byte, readChunkSize)

	for {
		n, readErr := s.conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			for {
				payload, consumed, err := wire.TryDecodeFrame(buf, s.maxLen)
				if err != nil {
					return fmt.Errorf("stream: framing: %w", err)
				}
				if consumed == 0 {
					break
				}
				if fast != nil && fast.TryFastPath(payload) {
					buf = buf[consumed:]
					continue
				}
				// The handler is awaited before the next frame is decoded, so
				// command processing is strictly in-order per connection.
				if err := h.OnPacket(ctx, payload); err != nil {
					return err
				}
				buf = buf[consumed:]
			}
		}
		if readErr != nil {
			if errors.Is(readErr, net.ErrClosed) || s.isClosed() {
				return nil
			}
			if errors.Is(readErr, io.EOF) {
				return nil
			}
			return fmt.Errorf("stream: read: %w", readErr)
		}
		select {
		case <-ctx.Done():
			return nil
		default:
		}
	}
}

// Send encodes payload as one frame and writes it with a single socket write.
// Writes are serialized per socket.
func (s *Stream) Send(payload []byte) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if s.isClosed() {
		return ErrClosed
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	frame := wire.AppendFrame(nil, payload)
	_, err := s.conn.Write(frame)
	return err
}

// Close shuts the socket down. Safe to call more than once.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.conn.Close()
	})
	return err
}

func (s *Stream) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}
