// Package robot implements the per-connection navigation protocol: framed
// line reading, authentication, and the heading/obstacle state machine that
// drives a remote robot client to the origin.
package robot

import "net"

// Delimiter terminates every message in both directions.
const Delimiter = "\a\b"

// Server-issued command strings, each sent followed by Delimiter.
const (
	CmdLogin       = "100 LOGIN"
	CmdPassword    = "101 PASSWORD"
	CmdMove        = "102 MOVE"
	CmdTurnLeft    = "103 TURN LEFT"
	CmdTurnRight   = "104 TURN RIGHT"
	CmdGetMessage  = "105 GET MESSAGE"
	CmdLogout      = "106 LOGOUT"
	CmdKeyRequest  = "107 KEY REQUEST"
	CmdOK          = "200 OK"
	CmdLoginFailed = "300 LOGIN FAILED"
	CmdSyntaxErr   = "301 SYNTAX ERROR"
	CmdLogicErr    = "302 LOGIC ERROR"
	CmdKeyOutRange = "303 KEY OUT OF RANGE"
)

// FullPower is the exact confirmation string a client must send to leave
// the RECHARGING sub-state.
const FullPower = "FULL POWER"

// keyPair is one row of the compile-time key table: server-side and
// client-side additive constants for the username hash exchange.
type keyPair struct {
	server int
	client int
}

// keys is the fixed 5-row key table addressed by key-id 0..4.
var keys = [5]keyPair{
	{23019, 32037},
	{32037, 29295},
	{18789, 13603},
	{16443, 29533},
	{18189, 21952},
}

// Heading values, compass-style; 0 is +y, rotation is always clockwise.
const (
	HeadingNorth = 0
	HeadingEast  = 90
	HeadingSouth = 180
	HeadingWest  = 270
)

// maxCollisions is the fatal threshold: collisions strictly greater than
// this value abort the session silently.
const maxCollisions = 20

// coords is a signed integer position pair.
type coords struct {
	x, y int
}

// get returns the coordinate on the given axis (0 = x, 1 = y).
func (c coords) get(axis int) int {
	if axis == 0 {
		return c.x
	}
	return c.y
}

// set returns a copy of c with the given axis updated.
func (c coords) set(axis, v int) coords {
	if axis == 0 {
		c.x = v
	} else {
		c.y = v
	}
	return c
}

// Robot holds all per-connection state. It is created on accept and owned
// exclusively by the goroutine running the session; there is no shared
// mutable state between robots.
type Robot struct {
	conn net.Conn

	queue        []string
	remainder    string
	lastResponse string

	pos        coords
	heading    int
	collisions int
}

// New creates a fresh Robot bound to conn, with placeholder position
// (0, 0) and heading 0 until the first real coordinate read.
func New(conn net.Conn) *Robot {
	return &Robot{conn: conn, heading: HeadingNorth}
}

// Heading reports the robot's current compass heading, always one of
// {0, 90, 180, 270}.
func (r *Robot) Heading() int { return r.heading }

// Collisions reports the running collision count.
func (r *Robot) Collisions() int { return r.collisions }

// send writes a server command followed by the delimiter.
func (r *Robot) send(command string) error {
	_, err := r.conn.Write([]byte(command + Delimiter))
	return err
}
