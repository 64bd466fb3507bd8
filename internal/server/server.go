package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joeycumines/go-catrate"
	"golang.org/x/sys/unix"

	"github.com/kstaniek/robonav-server/internal/logging"
	"github.com/kstaniek/robonav-server/internal/metrics"
	"github.com/kstaniek/robonav-server/internal/robot"
)

// basePort is the first port tried when probing for a free listen
// address; portProbeLimit bounds the number of sequential attempts so a
// saturated range aborts instead of looping forever.
const (
	basePort       = 6666
	portProbeLimit = 1000
)

// Server owns the TCP listener and coordinates session lifecycle. Each
// accepted connection gets its own goroutine running the robot protocol
// state machine to completion; there is no shared mutable state between
// sessions (only the aggregate counters below, which are owned by the
// Server, not by any Robot).
type Server struct {
	mu   sync.RWMutex
	addr string

	maxSessions int
	limiter     *catrate.Limiter

	readyOnce sync.Once
	readyCh   chan struct{}
	lastErrMu sync.Mutex
	lastErr   error
	errCh     chan error

	listener net.Listener

	sessionsMu sync.RWMutex
	sessions   map[net.Conn]struct{}

	wg     sync.WaitGroup
	logger *slog.Logger

	nextConnID        uint64
	totalAccepted     atomic.Uint64
	totalRejected     atomic.Uint64
	totalCompleted    atomic.Uint64
	totalAborted      atomic.Uint64
	totalAuthFailures atomic.Uint64
}

type ServerOption func(*Server)

// NewServer constructs a Server with sensible defaults; it does not bind
// a listener until Serve is called.
func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		readyCh:  make(chan struct{}),
		errCh:    make(chan error, 1),
		sessions: make(map[net.Conn]struct{}),
		logger:   logging.L(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// WithMaxSessions caps the number of simultaneous in-flight sessions;
// 0 (the default) means unlimited.
func WithMaxSessions(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.maxSessions = n
		}
	}
}

// WithAcceptLimiter installs a per-remote-IP sliding-window accept
// limiter, guarding the fixed 5-row key table against brute-force
// authentication floods. A nil limiter (the default) disables throttling.
func WithAcceptLimiter(l *catrate.Limiter) ServerOption {
	return func(s *Server) { s.limiter = l }
}

func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func (s *Server) Addr() string           { s.mu.RLock(); defer s.mu.RUnlock(); return s.addr }
func (s *Server) setAddr(a string)       { s.mu.Lock(); s.addr = a; s.mu.Unlock() }
func (s *Server) Ready() <-chan struct{} { return s.readyCh }
func (s *Server) Errors() <-chan error   { return s.errCh }

func (s *Server) setError(err error) {
	if err == nil {
		return
	}
	s.lastErrMu.Lock()
	s.lastErr = err
	s.lastErrMu.Unlock()
	select {
	case s.errCh <- err:
	default:
	}
}

func (s *Server) LastError() error { s.lastErrMu.Lock(); defer s.lastErrMu.Unlock(); return s.lastErr }

// controlReuseAddr sets SO_REUSEADDR on the listening socket so repeated
// probe-and-retry binds (and rapid test restarts) don't stall waiting for
// a prior socket's TIME_WAIT to clear.
func controlReuseAddr(_, _ string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}

// probeListener binds the first free loopback IPv4 port starting at
// basePort, trying at most portProbeLimit sequential ports.
func probeListener(ctx context.Context) (net.Listener, int, error) {
	lc := net.ListenConfig{Control: controlReuseAddr}
	port := basePort
	for attempt := 0; attempt < portProbeLimit; attempt++ {
		ln, err := lc.Listen(ctx, "tcp4", fmt.Sprintf("127.0.0.1:%d", port))
		if err == nil {
			return ln, port, nil
		}
		port++
	}
	return nil, 0, ErrPortExhaust
}

// Serve probes for a free port starting at 6666, binds it, prints the
// startup line expected by operators, and accepts connections until ctx
// is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	ln, port, err := probeListener(ctx)
	if err != nil {
		wrap := fmt.Errorf("%w: %v", ErrListen, err)
		s.setError(wrap)
		return wrap
	}
	s.setAddr(ln.Addr().String())
	s.listener = ln
	fmt.Printf("Started server on port %d\n", port)
	if s.readyCh != nil {
		s.readyOnce.Do(func() { close(s.readyCh) })
	}
	s.logger.Info("tcp_listen", "addr", s.Addr())
	go func() { <-ctx.Done(); _ = ln.Close() }()
	for {
		if err := s.acceptOnce(ctx, ln); err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// acceptOnce accepts a single connection, applies admission control
// (rate limiting, session cap), and spawns the session goroutine.
func (s *Server) acceptOnce(ctx context.Context, ln net.Listener) error {
	conn, err := ln.Accept()
	if err != nil {
		select {
		case <-ctx.Done():
			return context.Canceled
		default:
		}
		if _, ok := err.(net.Error); ok {
			time.Sleep(200 * time.Millisecond)
			return nil
		}
		wrap := fmt.Errorf("%w: %v", ErrAccept, err)
		s.setError(wrap)
		return wrap
	}

	connID := atomic.AddUint64(&s.nextConnID, 1)
	connLogger := s.logger.With("conn_id", connID, "remote", conn.RemoteAddr().String())

	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}

	if reason, ok := s.reject(conn); ok {
		metrics.IncRejected()
		s.totalRejected.Add(1)
		connLogger.Warn("session_rejected", "reason", reason)
		_ = conn.Close()
		return nil
	}

	s.totalAccepted.Add(1)
	metrics.IncAccepted()
	s.trackSession(conn, true)
	connLogger.Info("session_accepted")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.trackSession(conn, false)
		result := robot.Run(conn)
		s.recordResult(connLogger, result)
	}()
	return nil
}

// reject reports whether conn should be refused admission, and why.
func (s *Server) reject(conn net.Conn) (string, bool) {
	if s.limiter != nil {
		host, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
		if _, ok := s.limiter.Allow(host); !ok {
			return "rate_limited", true
		}
	}
	if s.maxSessions > 0 && s.activeSessions() >= s.maxSessions {
		return "max_sessions", true
	}
	return "", false
}

func (s *Server) trackSession(conn net.Conn, add bool) {
	s.sessionsMu.Lock()
	if add {
		s.sessions[conn] = struct{}{}
	} else {
		delete(s.sessions, conn)
	}
	n := len(s.sessions)
	s.sessionsMu.Unlock()
	metrics.SetActiveSessions(n)
}

func (s *Server) activeSessions() int {
	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()
	return len(s.sessions)
}

// recordResult logs and records metrics for a finished session.
func (s *Server) recordResult(l *slog.Logger, result robot.Result) {
	metrics.AddCollisions(result.Collisions)
	switch result.Outcome {
	case robot.OutcomeSuccess:
		s.totalCompleted.Add(1)
		metrics.IncCompleted()
		l.Info("session_completed", "collisions", result.Collisions)
	case robot.OutcomeProtocolError:
		s.totalAborted.Add(1)
		s.totalAuthFailures.Add(1)
		metrics.IncAuthFailure(result.WireCode)
		l.Warn("session_protocol_error", "code", result.WireCode, "error", result.Err)
	case robot.OutcomeCollisionFatal:
		s.totalAborted.Add(1)
		metrics.IncAborted(metrics.ReasonCollisionFatal)
		l.Warn("session_collision_fatal", "collisions", result.Collisions)
	default:
		s.totalAborted.Add(1)
		metrics.IncAborted(metrics.ReasonTransport)
		l.Debug("session_transport_error", "error", result.Err)
	}
}

// Shutdown closes the listener and every tracked connection, then waits
// for in-flight session goroutines to drain (or ctx to expire).
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}

	s.sessionsMu.Lock()
	for conn := range s.sessions {
		_ = conn.Close()
	}
	s.sessionsMu.Unlock()

	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout: %w", ctx.Err())
	case <-done:
		s.logger.Info("shutdown_summary",
			"accepted", s.totalAccepted.Load(),
			"rejected", s.totalRejected.Load(),
			"completed", s.totalCompleted.Load(),
			"aborted", s.totalAborted.Load(),
			"auth_failures", s.totalAuthFailures.Load(),
		)
		return nil
	}
}
