package robot

import (
	"errors"
	"net"
)

const messageCap = 100

// Outcome classifies how a session ended, for logging and metrics.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeProtocolError
	OutcomeCollisionFatal
	OutcomeTransport
)

// Result summarizes a finished session.
type Result struct {
	Outcome    Outcome
	WireCode   string // non-empty only for OutcomeProtocolError
	Collisions int
	Err        error
}

// Run binds conn to a fresh Robot and drives it through authentication,
// navigation, and message pickup to completion. It always closes conn
// before returning. On any protocol error with a wire code, that code is
// written (best effort) before the connection closes; fatal collisions
// and transport errors close silently.
func Run(conn net.Conn) Result {
	r := New(conn)
	defer r.Close()

	if err := r.SetReadTimeout(normalDeadline); err != nil {
		return finish(r, err)
	}
	err := r.authenticateAndNavigate()
	return finish(r, err)
}

func (r *Robot) authenticateAndNavigate() error {
	if err := r.Authenticate(); err != nil {
		return err
	}
	if err := r.Navigate(); err != nil {
		return err
	}
	return r.pickup()
}

// pickup retrieves the secret message and logs the robot out.
func (r *Robot) pickup() error {
	if err := r.send(CmdGetMessage); err != nil {
		return err
	}
	if _, err := r.GetResponse(messageCap); err != nil {
		return err
	}
	return r.send(CmdLogout)
}

func finish(r *Robot, err error) Result {
	if err == nil {
		return Result{Outcome: OutcomeSuccess, Collisions: r.collisions}
	}

	if code, ok := WireCode(err); ok {
		_ = r.send(code)
		return Result{Outcome: OutcomeProtocolError, WireCode: code, Collisions: r.collisions, Err: err}
	}
	outcome := OutcomeTransport
	if errors.Is(err, ErrCollisionFatal) {
		outcome = OutcomeCollisionFatal
	}
	return Result{Outcome: outcome, Collisions: r.collisions, Err: err}
}
