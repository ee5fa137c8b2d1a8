// Package apitest provides a fake RouterOS device for tests.
//
// A Server accepts TCP connections and hands them to a Handler; Device is a
// Handler speaking the API protocol with scriptable commands.
package apitest

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Handler serves one accepted connection.
type Handler interface {
	// Handle is called in its own goroutine for each new connection and owns it.
	Handle(conn *net.TCPConn)
}

// Server is a TCP listener dispatching connections to a Handler.
type Server struct {
	listener        *net.TCPListener
	logger          zerolog.Logger
	shutdownTimeout time.Duration

	mu       sync.Mutex
	stopped  bool          // no new connections are accepted
	closed   bool          // Close was called
	stopNow  chan struct{} // closed by Close, ends a pending shutdown timeout
	conns    map[*net.TCPConn]struct{}
	handlers sync.WaitGroup
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// ServerLoggerOption sets the logger for the server.
func ServerLoggerOption(logger zerolog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// ServerShutdownTimeoutOption sets how long the listener keeps accepting
// after the serving context ends. Default is 0 (stop at once).
func ServerShutdownTimeoutOption(timeout time.Duration) ServerOption {
	return func(s *Server) {
		s.shutdownTimeout = timeout
	}
}

// New creates a server bound to addr.
func New(addr *net.TCPAddr, opts ...ServerOption) (*Server, error) {
	listener, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "apitest: listen on %s", addr)
	}

	s := &Server{
		listener: listener,
		logger:   zerolog.Nop(),
		stopNow:  make(chan struct{}),
		conns:    make(map[*net.TCPConn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NewTestServer starts a server on a loopback port serving handler. The
// server and every connection it accepted are closed when the test ends.
func NewTestServer(tb testing.TB, handler Handler, opts ...ServerOption) *Server {
	tb.Helper()

	s, err := New(&net.TCPAddr{IP: net.ParseIP("127.0.0.1")}, opts...)
	if err != nil {
		tb.Fatalf("apitest: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan struct{})
	go func() {
		defer close(served)
		_ = s.Serve(ctx, handler)
	}()

	tb.Cleanup(func() {
		cancel()
		_ = s.Close()
		<-served
		s.handlers.Wait()
	})
	return s
}

// Serve accepts connections until ctx is done or the server is closed. It
// returns ctx.Err() in the first case and net.ErrClosed in the second.
func (s *Server) Serve(ctx context.Context, handler Handler) error {
	s.logger.Info().Stringer("addr", s.Addr()).Msg("device listening")

	go s.stopAfter(ctx)

	for {
		conn, err := s.listener.AcceptTCP()
		if err != nil {
			if s.isStopped() {
				s.logger.Info().Stringer("addr", s.Addr()).Msg("device stopped")
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return net.ErrClosed
			}

			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			s.logger.Error().Err(err).Msg("accept failed")
			return errors.Wrap(err, "apitest: accept")
		}

		if !s.track(conn) {
			_ = conn.Close()
			continue
		}
		s.logger.Debug().Stringer("remote_addr", conn.RemoteAddr()).Msg("client connected")
		_ = conn.SetNoDelay(true)

		go func() {
			defer s.handlers.Done()
			defer s.untrack(conn)
			handler.Handle(conn)
		}()
	}
}

// stopAfter unblocks Accept once ctx ends and the shutdown timeout elapsed.
func (s *Server) stopAfter(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-s.stopNow:
		return
	}

	if s.shutdownTimeout > 0 {
		timer := time.NewTimer(s.shutdownTimeout)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-s.stopNow:
		}
	}

	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	_ = s.listener.SetDeadline(time.Now())
}

func (s *Server) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *Server) track(conn *net.TCPConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.conns[conn] = struct{}{}
	s.handlers.Add(1)
	return true
}

func (s *Server) untrack(conn *net.TCPConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

// Close stops accepting and closes every open connection.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.stopped = true
	close(s.stopNow)
	conns := make([]*net.TCPConn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
	return s.listener.Close()
}

// Addr returns the listener's network address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Address returns the listener's address as host:port.
func (s *Server) Address() string {
	return s.listener.Addr().String()
}
