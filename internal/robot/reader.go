package robot

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
)

// ErrTransport classifies a read failure (timeout, reset, zero-byte read)
// that terminates the session without a wire code.
var ErrTransport = errors.New("robot: transport error")

// Expected names a response shape so its maximum legal length (including
// the delimiter) can be looked up without threading an explicit magic
// number through every call site.
type Expected int

const (
	ExpectedUsername Expected = iota
	ExpectedKeyID
	ExpectedConfirmation
	ExpectedCoords
	ExpectedFullPower
	ExpectedMessage
)

// Cap returns the phase-specific maximum legal response length, including
// the delimiter. A buffer that reaches this size while still containing
// no delimiter is definitionally malformed and fails fast with
// SYNTAX_ERROR rather than waiting for more bytes that will never
// deliver one.
func (e Expected) Cap() int {
	switch e {
	case ExpectedUsername:
		return 20
	case ExpectedKeyID:
		return 5
	case ExpectedConfirmation:
		return 7
	case ExpectedCoords, ExpectedFullPower:
		return 12
	case ExpectedMessage:
		return 100
	default:
		return -1
	}
}

const readChunk = 512

// rechargingDeadline is the read timeout granted while the client is in
// its RECHARGING sub-state; normalDeadline is restored immediately once
// FULL POWER arrives, before the originally-requested response is
// awaited.
const (
	normalDeadline     = 1 * time.Second
	rechargingDeadline = 5 * time.Second
)

// GetResponse returns the next logical response (delimiter excluded).
// expectedLength is either a positive cap, including the delimiter, or -1
// meaning no cap. It transparently filters RECHARGING/FULL POWER pairs
// before returning the caller's real next response.
func (r *Robot) GetResponse(expectedLength int) (string, error) {
	var candidate string
	if len(r.queue) > 0 {
		candidate = r.queue[0]
		r.queue = r.queue[1:]
	} else {
		buf := r.remainder
		for !strings.Contains(buf, Delimiter) {
			if expectedLength != -1 && len(buf) >= expectedLength {
				return "", SyntaxError(fmt.Errorf("response exceeds max length %d", expectedLength))
			}
			chunk := make([]byte, readChunk)
			n, err := r.conn.Read(chunk)
			if n == 0 || err != nil {
				if err == nil {
					err = io.EOF
				}
				return "", classifyReadErr(err)
			}
			buf += string(chunk[:n])
		}
		parts := strings.Split(buf, Delimiter)
		r.remainder = parts[len(parts)-1]
		r.queue = parts[:len(parts)-1]
		candidate = r.queue[0]
		r.queue = r.queue[1:]
	}

	switch {
	case r.lastResponse == "RECHARGING" && candidate != FullPower:
		return "", LogicError(fmt.Errorf("expected %q after RECHARGING, got %q", FullPower, candidate))
	case candidate == "RECHARGING":
		r.lastResponse = candidate
		if err := r.conn.SetReadDeadline(time.Now().Add(rechargingDeadline)); err != nil {
			return "", fmt.Errorf("%w: %v", ErrTransport, err)
		}
		if _, err := r.GetResponse(ExpectedFullPower.Cap()); err != nil {
			return "", err
		}
		if err := r.conn.SetReadDeadline(time.Now().Add(normalDeadline)); err != nil {
			return "", fmt.Errorf("%w: %v", ErrTransport, err)
		}
		return r.GetResponse(expectedLength)
	default:
		r.lastResponse = candidate
		return candidate, nil
	}
}

// classifyReadErr maps a transport-level read failure (timeout, reset,
// zero-byte read, EOF) to ErrTransport; such failures carry no wire code
// and end the session silently.
func classifyReadErr(err error) error {
	return fmt.Errorf("%w: %v", ErrTransport, err)
}

// SetReadTimeout sets the connection's read deadline to now+d. It is used
// by Session to switch between the 1s default and any other phase-level
// timeout; RECHARGING's 5s swap is handled internally by GetResponse.
func (r *Robot) SetReadTimeout(d time.Duration) error {
	return r.conn.SetReadDeadline(time.Now().Add(d))
}

// Close releases the underlying connection. Safe to call multiple times.
func (r *Robot) Close() error { return r.conn.Close() }

// RemoteAddr reports the connection's remote address, for logging.
func (r *Robot) RemoteAddr() net.Addr { return r.conn.RemoteAddr() }
