// Civilian routine: home and activity-node movement state machine.
package agents

import (
	"math/rand/v2"

	"github.com/talgya/hotspot-sim/internal/world"
)

// Routine moves civilians between home and their activity nodes.
type Routine struct {
	Mover     Mover
	Occupancy *world.Occupancy
	RNG       *rand.Rand
	Config    MovementConfig
}

// Step runs one tick of a civilian's movement: up to SubSteps() moves while
// Moving, then the Arrived/Waiting bookkeeping, which happens once per tick.
func (r *Routine) Step(c *Civilian) {
	for i := 0; i < c.SubSteps() && c.State == StateMoving; i++ {
		r.substep(c)
	}

	switch c.State {
	case StateArrived:
		c.Prev = c.Pos
		c.State = StateWaiting
		if c.Pos == c.Home {
			c.DwellTimer = dwell(r.RNG, r.Config.HomeDwellBase, r.Config.HomeDwellSpread)
		} else {
			c.DwellTimer = dwell(r.RNG, r.Config.ActivityDwellBase, r.Config.ActivityDwellSpread)
		}
	case StateWaiting:
		// A dwell of d keeps the civilian in place for d ticks after arrival.
		if c.DwellTimer > 0 {
			c.DwellTimer--
		}
		if c.DwellTimer <= 0 {
			c.State = StateMoving
		}
	}
}

func (r *Routine) substep(c *Civilian) {
	switch {
	case c.Pos == c.Home:
		c.Destination = c.ActivityNodes[r.RNG.IntN(len(c.ActivityNodes))]
	case c.Pos == c.Destination:
		c.Destination = r.nextFromActivity(c)
	}
	if c.Pos == c.Destination {
		c.State = StateArrived
		return
	}

	from := c.Pos
	to := r.Mover.Advance(&c.Motion, c.Destination)
	r.Occupancy.Move(world.OccupantCivilian, uint64(c.ID), from, to)

	if c.Pos == c.Destination {
		c.State = StateArrived
	}
}

// nextFromActivity picks the destination after dwelling at an activity node:
// usually home, otherwise another activity node.
func (r *Routine) nextFromActivity(c *Civilian) world.Coord {
	if r.RNG.Float64() < r.Config.HomeReturnProbability {
		return c.Home
	}
	others := make([]world.Coord, 0, len(c.ActivityNodes))
	for _, n := range c.ActivityNodes {
		if n != c.Pos {
			others = append(others, n)
		}
	}
	if len(others) == 0 {
		return c.Home
	}
	return others[r.RNG.IntN(len(others))]
}
