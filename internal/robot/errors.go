package robot

import "errors"

// ProtocolError is a protocol-level failure that carries a wire code to be
// sent to the client (verbatim, followed by Delimiter) before the session
// closes.
type ProtocolError struct {
	Code string
	err  error
}

func (e *ProtocolError) Error() string {
	if e.err != nil {
		return e.Code + ": " + e.err.Error()
	}
	return e.Code
}

func (e *ProtocolError) Unwrap() error { return e.err }

func newProtoErr(code string, cause error) *ProtocolError {
	return &ProtocolError{Code: code, err: cause}
}

// SyntaxError wraps cause (if any) as "301 SYNTAX ERROR".
func SyntaxError(cause error) *ProtocolError { return newProtoErr(CmdSyntaxErr, cause) }

// LogicError wraps cause as "302 LOGIC ERROR".
func LogicError(cause error) *ProtocolError { return newProtoErr(CmdLogicErr, cause) }

// KeyOutOfRangeError reports an authentication key-id outside 0..4.
func KeyOutOfRangeError() *ProtocolError { return newProtoErr(CmdKeyOutRange, nil) }

// LoginFailedError reports a mismatched client confirmation hash.
func LoginFailedError() *ProtocolError { return newProtoErr(CmdLoginFailed, nil) }

// ErrCollisionFatal is raised when collisions exceeds the fatal threshold.
// It carries no wire code: the session closes silently.
var ErrCollisionFatal = errors.New("robot: fatal collision count exceeded")

// IsSilent reports whether err should terminate the session without
// writing any wire code: a fatal collision or a transport-level failure
// (timeout, reset, EOF).
func IsSilent(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCollisionFatal) {
		return true
	}
	var pe *ProtocolError
	return !errors.As(err, &pe)
}

// WireCode returns the code to send for err, and ok=true if one should be
// sent at all.
func WireCode(err error) (string, bool) {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Code, true
	}
	return "", false
}
