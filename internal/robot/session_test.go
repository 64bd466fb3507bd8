package robot

import (
	"net"
	"strconv"
	"testing"
)

// runSession starts Run(conn) on a background goroutine bound to one end
// of a net.Pipe and hands back the other end's fakeClient plus a channel
// for the eventual Result.
func runSession(t *testing.T) (*fakeClient, chan Result) {
	t.Helper()
	srv, cli := net.Pipe()
	t.Cleanup(func() { _ = srv.Close(); _ = cli.Close() })

	resultCh := make(chan Result, 1)
	go func() { resultCh <- Run(srv) }()

	return newFakeClient(t, cli), resultCh
}

func TestRun_HappyPath(t *testing.T) {
	fc, resultCh := runSession(t)

	const username = "Mnau!"
	const keyID = 2
	hash := usernameHash(username)
	expected := (hash + keys[keyID].client) % 65536

	fc.reply(username)
	fc.expect(CmdKeyRequest)
	fc.reply(strconv.Itoa(keyID))
	fc.readFrame() // server hash, not asserted here
	fc.reply(strconv.Itoa(expected))
	fc.expect(CmdOK)

	// InferHeading: move east from the origin.
	fc.expect(CmdTurnLeft)
	fc.reply("OK 0 0")
	fc.expect(CmdMove)
	fc.reply("OK 1 0")

	// Navigate rotates East -> West (two quarter turns), then advances
	// one step back to x=0.
	fc.expect(CmdTurnRight)
	fc.reply("OK 1 0")
	fc.expect(CmdTurnRight)
	fc.reply("OK 1 0")
	fc.expect(CmdMove)
	fc.reply("OK 0 0")

	// y is already 0: no rotate, no advance.

	fc.expect(CmdGetMessage)
	fc.reply("the secret message")
	fc.expect(CmdLogout)

	result := <-resultCh
	if result.Outcome != OutcomeSuccess {
		t.Fatalf("outcome = %v, want OutcomeSuccess (err=%v)", result.Outcome, result.Err)
	}
	if result.Collisions != 0 {
		t.Fatalf("collisions = %d, want 0", result.Collisions)
	}
}

func TestRun_RechargingDuringAuthentication(t *testing.T) {
	fc, resultCh := runSession(t)

	const username = "Mnau!"
	const keyID = 1
	hash := usernameHash(username)
	expected := (hash + keys[keyID].client) % 65536

	fc.reply(username)
	fc.expect(CmdKeyRequest)
	// The client interposes a RECHARGING / FULL POWER pair before its
	// real key-id reply; GetResponse must filter it out transparently.
	fc.reply("RECHARGING")
	fc.reply("FULL POWER")
	fc.reply(strconv.Itoa(keyID))
	fc.readFrame()
	fc.reply(strconv.Itoa(expected))
	fc.expect(CmdOK)

	fc.expect(CmdTurnLeft)
	fc.reply("OK 0 0")
	fc.expect(CmdMove)
	fc.reply("OK 0 0") // blocked: triggers a collision and a retry

	fc.expect(CmdTurnLeft)
	fc.reply("OK 0 0")
	fc.expect(CmdMove)
	fc.reply("OK 0 -1") // unblocked this time: heading South, pos (0, -1)

	// x is already 0: no rotate, no advance. y < 0: rotate to North, then
	// advance one step back to y=0.
	fc.expect(CmdTurnRight)
	fc.reply("OK 0 -1")
	fc.expect(CmdTurnRight)
	fc.reply("OK 0 -1")
	fc.expect(CmdMove)
	fc.reply("OK 0 0")

	fc.expect(CmdGetMessage)
	fc.reply("msg")
	fc.expect(CmdLogout)

	result := <-resultCh
	if result.Outcome != OutcomeSuccess {
		t.Fatalf("outcome = %v, want OutcomeSuccess (err=%v)", result.Outcome, result.Err)
	}
	if result.Collisions != 1 {
		t.Fatalf("collisions = %d, want 1", result.Collisions)
	}
}

func TestRun_LoginFailedSendsWireCodeAndCloses(t *testing.T) {
	fc, resultCh := runSession(t)

	fc.reply("someuser")
	fc.expect(CmdKeyRequest)
	fc.reply("0")
	fc.readFrame()
	fc.reply("1") // wrong confirmation

	fc.expect(CmdLoginFailed)

	result := <-resultCh
	if result.Outcome != OutcomeProtocolError {
		t.Fatalf("outcome = %v, want OutcomeProtocolError", result.Outcome)
	}
	if result.WireCode != CmdLoginFailed {
		t.Fatalf("wire code = %q, want %q", result.WireCode, CmdLoginFailed)
	}
}
