package robot

import (
	"net"
	"strings"
	"testing"
	"time"
)

func newPipeRobot(t *testing.T) (*Robot, net.Conn) {
	t.Helper()
	srv, cli := net.Pipe()
	t.Cleanup(func() { _ = srv.Close(); _ = cli.Close() })
	return New(srv), cli
}

func writeAsync(t *testing.T, conn net.Conn, data string) {
	t.Helper()
	go func() { _, _ = conn.Write([]byte(data)) }()
}

func TestGetResponse_Basic(t *testing.T) {
	r, cli := newPipeRobot(t)
	writeAsync(t, cli, "hello"+Delimiter)

	got, err := r.GetResponse(-1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "hello" {
		t.Fatalf("got %q, want %q", got, "hello")
	}
}

func TestGetResponse_QueuesMultipleFrames(t *testing.T) {
	r, cli := newPipeRobot(t)
	writeAsync(t, cli, "first"+Delimiter+"second"+Delimiter)

	first, err := r.GetResponse(-1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != "first" {
		t.Fatalf("got %q, want %q", first, "first")
	}
	second, err := r.GetResponse(-1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second != "second" {
		t.Fatalf("got %q, want %q", second, "second")
	}
}

func TestGetResponse_OversizedWithoutDelimiter(t *testing.T) {
	r, cli := newPipeRobot(t)
	// 20 bytes without a delimiter, cap is 20: the fast-fail must trip
	// before the delimiter would ever arrive.
	writeAsync(t, cli, strings.Repeat("a", 20))

	_, err := r.GetResponse(20)
	code, ok := WireCode(err)
	if !ok || code != CmdSyntaxErr {
		t.Fatalf("expected SYNTAX_ERROR, got %v", err)
	}
}

func TestGetResponse_CapMinusOneThenDelimiterAccepted(t *testing.T) {
	r, cli := newPipeRobot(t)
	// 19 bytes (cap-1) followed by the delimiter must be accepted.
	writeAsync(t, cli, strings.Repeat("a", 19)+Delimiter)

	got, err := r.GetResponse(20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 19 {
		t.Fatalf("got length %d, want 19", len(got))
	}
}

func TestGetResponse_RechargingInterposition(t *testing.T) {
	r, cli := newPipeRobot(t)
	writeAsync(t, cli, "RECHARGING"+Delimiter+"FULL POWER"+Delimiter+"OK -1 0"+Delimiter)

	got, err := r.GetResponse(ExpectedCoords.Cap())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "OK -1 0" {
		t.Fatalf("got %q, want the coordinate reply, not RECHARGING/FULL POWER", got)
	}
	if r.lastResponse == "RECHARGING" {
		t.Fatalf("RECHARGING must never be observable as lastResponse to a caller")
	}
}

func TestGetResponse_RechargingWithoutFullPowerIsLogicError(t *testing.T) {
	r, cli := newPipeRobot(t)
	writeAsync(t, cli, "RECHARGING"+Delimiter+"garbage"+Delimiter)

	_, err := r.GetResponse(ExpectedCoords.Cap())
	code, ok := WireCode(err)
	if !ok || code != CmdLogicErr {
		t.Fatalf("expected LOGIC_ERROR, got %v", err)
	}
}

func TestGetResponse_TransportErrorOnTimeout(t *testing.T) {
	r, cli := newPipeRobot(t)
	_ = cli // no data ever arrives
	if err := r.SetReadTimeout(20 * time.Millisecond); err != nil {
		t.Fatalf("set read timeout: %v", err)
	}

	_, err := r.GetResponse(-1)
	if err == nil {
		t.Fatalf("expected a transport error on timeout")
	}
	if _, ok := WireCode(err); ok {
		t.Fatalf("transport errors must not carry a wire code")
	}
}
