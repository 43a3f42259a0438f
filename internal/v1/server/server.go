// Package server owns the TCP game listener: it accepts sockets, hands each
// one to a session, and runs the periodic dangling-user sweep.
package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Pimeng/tphira-mp-sub001/internal/v1/logging"
	"github.com/Pimeng/tphira-mp-sub001/internal/v1/session"
)

// sweepInterval is how often dangling users are checked against their grace
// period.
const sweepInterval = 5 * time.Second

// Server is the TCP front of the coordination server.
type Server struct {
	listener net.Listener
	deps     session.Deps

	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeOnce sync.Once
}

// Listen binds addr and returns a server ready to Start.
func Listen(addr string, deps session.Deps) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{listener: listener, deps: deps}, nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// Start launches the accept loop and the dangle sweeper. It returns
// immediately; Close tears everything down.
func (s *Server) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(2)
	go s.acceptLoop(ctx)
	go s.sweepLoop(ctx)

	logging.Info(ctx, "game server listening", zap.String("addr", s.listener.Addr().String()))
}

func (s *Server) acceptLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logging.Warn(ctx, "accept failed", zap.Error(err))
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			sess, err := session.Accept(conn, s.deps)
			if err != nil {
				logging.Warn(ctx, "handshake failed",
					zap.String("remote", conn.RemoteAddr().String()), zap.Error(err))
				conn.Close()
				return
			}
			sess.Run(ctx)
		}()
	}
}

func (s *Server) sweepLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.deps.State.SweepDangling()
		}
	}
}

// Close stops accepting, cancels every running session, and waits for them to
// finish.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		s.listener.Close()
		if s.cancel != nil {
			s.cancel()
		}
		s.deps.State.Shutdown()
		s.wg.Wait()
	})
}
