package server

import (
	"context"
	"net"
	"testing"
	"time"
)

func TestProbeListener_SkipsAnOccupiedPort(t *testing.T) {
	held, err := net.Listen("tcp4", "127.0.0.1:6666")
	if err != nil {
		t.Skipf("port 6666 unavailable in this environment: %v", err)
	}
	defer held.Close()

	ln, port, err := probeListener(context.Background())
	if err != nil {
		t.Fatalf("probeListener: %v", err)
	}
	defer ln.Close()
	if port == basePort {
		t.Fatalf("probeListener returned the occupied base port %d", basePort)
	}
	if port <= basePort {
		t.Fatalf("port = %d, want > %d", port, basePort)
	}
}

// TestServe_AcceptsConnectionsAndShutsDownCleanly drives the Server through
// a full accept/shutdown cycle without playing out the robot protocol: an
// abrupt client disconnect is itself a valid transport-error session
// outcome and must not wedge Serve or Shutdown.
func TestServe_AcceptsConnectionsAndShutsDownCleanly(t *testing.T) {
	s := NewServer()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serveErrCh := make(chan error, 1)
	go func() { serveErrCh <- s.Serve(ctx) }()

	select {
	case <-s.Ready():
	case err := <-serveErrCh:
		t.Fatalf("Serve exited before becoming ready: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server never became ready")
	}

	conn, err := net.DialTimeout("tcp4", s.Addr(), 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	_ = conn.Close()

	// Give the accept goroutine a moment to register and tear down the
	// session before shutting down.
	time.Sleep(50 * time.Millisecond)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer shutdownCancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	cancel()

	select {
	case <-serveErrCh:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Shutdown + cancel")
	}
}

func TestServer_RejectsBeyondMaxSessions(t *testing.T) {
	s := NewServer(WithMaxSessions(1))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = s.Serve(ctx) }()
	select {
	case <-s.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("server never became ready")
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer scancel()
		_ = s.Shutdown(sctx)
	}()

	first, err := net.DialTimeout("tcp4", s.Addr(), 2*time.Second)
	if err != nil {
		t.Fatalf("dial 1: %v", err)
	}
	defer first.Close()
	time.Sleep(50 * time.Millisecond) // let acceptOnce register the session

	second, err := net.DialTimeout("tcp4", s.Addr(), 2*time.Second)
	if err != nil {
		t.Fatalf("dial 2: %v", err)
	}
	defer second.Close()

	// The rejected connection is closed by the server without any reply.
	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	if n, err := second.Read(buf); n != 0 || err == nil {
		t.Fatalf("expected the second connection to be closed, got n=%d err=%v", n, err)
	}
}
