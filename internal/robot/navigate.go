package robot

// axisX and axisY index the two coordinate axes, matching coords.get/set.
const (
	axisX = 0
	axisY = 1
)

// Navigate drives the robot from wherever it currently sits to the origin
// (0, 0). It first calls InferHeading to establish a known heading and
// position, then clears the x axis and then the y axis.
func (r *Robot) Navigate() error {
	if err := r.InferHeading(); err != nil {
		return err
	}

	switch {
	case r.pos.x > 0:
		if err := r.rotate(HeadingWest); err != nil {
			return err
		}
	case r.pos.x < 0:
		if err := r.rotate(HeadingEast); err != nil {
			return err
		}
	}
	if err := r.advance(axisX); err != nil {
		return err
	}

	switch {
	case r.pos.y > 0:
		if err := r.rotate(HeadingSouth); err != nil {
			return err
		}
	case r.pos.y < 0:
		if err := r.rotate(HeadingNorth); err != nil {
			return err
		}
	}
	return r.advance(axisY)
}

// InferHeading infers the robot's initial heading from two observed
// positions: turn left, then move, and compare. A blocked first move
// (position unchanged) costs a collision and recurses; the next turn
// naturally rotates the robot off the blocked cell.
func (r *Robot) InferHeading() error {
	if err := r.send(CmdTurnLeft); err != nil {
		return err
	}
	before, err := r.readCoords()
	if err != nil {
		return err
	}

	if err := r.send(CmdMove); err != nil {
		return err
	}
	after, err := r.readCoords()
	if err != nil {
		return err
	}

	switch {
	case after.y == before.y && after.x > before.x:
		r.heading = HeadingEast
	case after.y == before.y && after.x < before.x:
		r.heading = HeadingWest
	case after.x == before.x && after.y > before.y:
		r.heading = HeadingNorth
	case after.x == before.x && after.y < before.y:
		r.heading = HeadingSouth
	default:
		if err := r.bumpCollision(); err != nil {
			return err
		}
		return r.InferHeading()
	}
	return nil
}

// rotate turns the robot clockwise, one quarter-turn at a time, until it
// faces finalHeading.
func (r *Robot) rotate(finalHeading int) error {
	for r.heading != finalHeading {
		if err := r.send(CmdTurnRight); err != nil {
			return err
		}
		if _, err := r.readCoords(); err != nil {
			return err
		}
		r.heading = (r.heading + 90) % 360
	}
	return nil
}

// advance moves the robot one step at a time toward 0 on the given axis,
// circumnavigating any obstacle it meets.
func (r *Robot) advance(axis int) error {
	for r.pos.get(axis) != 0 {
		old := r.pos.get(axis)
		if err := r.send(CmdMove); err != nil {
			return err
		}
		if _, err := r.readCoords(); err != nil {
			return err
		}
		if r.pos.get(axis) == old {
			if err := r.bumpCollision(); err != nil {
				return err
			}
			if err := r.circumnavigate(axis); err != nil {
				return err
			}
		}
	}
	return nil
}

// circumnavigate runs the scripted eight-command detour (four moves)
// around a blocking obstacle. The target axis is checked once, after the
// fourth command; if it is already 0 the remaining four commands are
// skipped. Heading is intentionally left untouched: the
// detour's net rotation is zero, so the logical heading at exit equals
// the heading at entry.
func (r *Robot) circumnavigate(axis int) error {
	steps := []string{CmdTurnLeft, CmdMove, CmdTurnRight, CmdMove}
	for _, cmd := range steps {
		if err := r.send(cmd); err != nil {
			return err
		}
		if _, err := r.readCoords(); err != nil {
			return err
		}
	}
	if r.pos.get(axis) == 0 {
		return nil
	}

	rest := []string{CmdMove, CmdTurnRight, CmdMove, CmdTurnLeft}
	for _, cmd := range rest {
		if err := r.send(cmd); err != nil {
			return err
		}
		if _, err := r.readCoords(); err != nil {
			return err
		}
	}
	return nil
}

// bumpCollision increments the collision counter and returns
// ErrCollisionFatal the instant it exceeds the fatal threshold.
func (r *Robot) bumpCollision() error {
	r.collisions++
	if r.collisions > maxCollisions {
		return ErrCollisionFatal
	}
	return nil
}

// readCoords reads and parses the next "OK x y" response, updating pos.
func (r *Robot) readCoords() (coords, error) {
	resp, err := r.GetResponse(ExpectedCoords.Cap())
	if err != nil {
		return coords{}, err
	}
	p, err := parseCoords(resp)
	if err != nil {
		return coords{}, err
	}
	r.pos = coords{x: p.x, y: p.y}
	return r.pos, nil
}
