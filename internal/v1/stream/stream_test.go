package stream

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Pimeng/tphira-mp-sub001/internal/v1/wire"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type collectHandler struct {
	mu       sync.Mutex
	payloads [][]byte
	fast     func(payload []byte) bool
}

func (h *collectHandler) OnPacket(_ context.Context, payload []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	cp := make([]byte, len(payload))
	copy(cp, payload)
	h.payloads = append(h.payloads, cp)
	return nil
}

func (h *collectHandler) TryFastPath(payload []byte) bool {
	if h.fast == nil {
		return false
	}
	return h.fast(payload)
}

func (h *collectHandler) collected() [][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([][]byte(nil), h.payloads...)
}

// accepted builds a server stream over net.Pipe with the client side already
// past the version handshake.
func accepted(t *testing.T, cfg Config, version byte) (*Stream, net.Conn) {
	t.Helper()
	client, server := net.Pipe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := client.Write([]byte{version})
		assert.NoError(t, err)
	}()

	s, err := Accept(server, cfg)
	<-done
	require.NoError(t, err)
	return s, client
}

func TestAcceptRejectsUnknownVersion(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	go func() { _, _ = client.Write([]byte{9}) }()

	_, err := Accept(server, Config{AcceptVersions: []byte{ProtocolVersion}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported-protocol-version:9")
}

func TestAcceptHandshakeTimeout(t *testing.T) {
	// Nothing arrives; the deadline must fire rather than blocking forever.
	client, server := net.Pipe()
	defer client.Close()

	start := time.Now()
	_, err := Accept(server, Config{AcceptVersions: []byte{ProtocolVersion}})
	require.Error(t, err)
	assert.Less(t, time.Since(start), handshakeTimeout+2*time.Second)
}

func TestDrainDispatchesFramesInOrder(t *testing.T) {
	s, client := accepted(t, Config{AcceptVersions: []byte{ProtocolVersion}}, ProtocolVersion)
	defer s.Close()

	h := &collectHandler{}
	drained := make(chan error, 1)
	go func() { drained <- s.Drain(context.Background(), h) }()

	var buf []byte
	for _, payload := range [][]byte{{1}, {2, 2}, {3, 3, 3}} {
		buf = wire.AppendFrame(buf, payload)
	}
	_, err := client.Write(buf)
	require.NoError(t, err)
	require.NoError(t, client.Close())

	require.NoError(t, <-drained)
	assert.Equal(t, [][]byte{{1}, {2, 2}, {3, 3, 3}}, h.collected())
}

func TestDrainHandlesSplitFrames(t *testing.T) {
	s, client := accepted(t, Config{AcceptVersions: []byte{ProtocolVersion}}, ProtocolVersion)
	defer s.Close()

	h := &collectHandler{}
	drained := make(chan error, 1)
	go func() { drained <- s.Drain(context.Background(), h) }()

	frame := wire.AppendFrame(nil, []byte("hello world"))
	for _, b := range frame {
		_, err := client.Write([]byte{b})
		require.NoError(t, err)
	}
	require.NoError(t, client.Close())

	require.NoError(t, <-drained)
	assert.Equal(t, [][]byte{[]byte("hello world")}, h.collected())
}

func TestDrainFailsOnOversizedFrame(t *testing.T) {
	s, client := accepted(t, Config{AcceptVersions: []byte{ProtocolVersion}, MaxFrameLen: 16}, ProtocolVersion)
	defer s.Close()

	drained := make(chan error, 1)
	go func() { drained <- s.Drain(context.Background(), &collectHandler{}) }()

	w := wire.NewWriter()
	w.Uleb(1024)
	_, err := client.Write(w.Bytes())
	require.NoError(t, err)

	err = <-drained
	require.Error(t, err)
	assert.ErrorIs(t, err, wire.ErrFrameTooLarge)
	client.Close()
}

func TestFastPathSkipsHandler(t *testing.T) {
	s, client := accepted(t, Config{AcceptVersions: []byte{ProtocolVersion}}, ProtocolVersion)
	defer s.Close()

	h := &collectHandler{fast: func(p []byte) bool { return len(p) == 1 && p[0] == 0xaa }}
	drained := make(chan error, 1)
	go func() { drained <- s.Drain(context.Background(), h) }()

	buf := wire.AppendFrame(nil, []byte{0xaa})
	buf = wire.AppendFrame(buf, []byte{0xbb})
	_, err := client.Write(buf)
	require.NoError(t, err)
	require.NoError(t, client.Close())

	require.NoError(t, <-drained)
	assert.Equal(t, [][]byte{{0xbb}}, h.collected())
}

func TestSendWritesSingleFrame(t *testing.T) {
	s, client := accepted(t, Config{AcceptVersions: []byte{ProtocolVersion}}, ProtocolVersion)
	defer s.Close()
	defer client.Close()

	go func() { _ = s.Send([]byte("payload")) }()

	buf := make([]byte, 64)
	n, err := client.Read(buf)
	require.NoError(t, err)
	payload, consumed, err := wire.TryDecodeFrame(buf[:n], 0)
	require.NoError(t, err)
	assert.Equal(t, n, consumed)
	assert.Equal(t, "payload", string(payload))
}

func TestSendAfterCloseFails(t *testing.T) {
	s, client := accepted(t, Config{AcceptVersions: []byte{ProtocolVersion}}, ProtocolVersion)
	defer client.Close()

	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Send([]byte("x")), ErrClosed)
}
