// Officer patrol: movement state machine for area and hotspot patrols.
package agents

import "github.com/talgya/hotspot-sim/internal/world"

// Targeter chooses an officer's next patrol destination.
type Targeter interface {
	PatrolTarget(o *Officer) world.Coord
}

// Patrol moves officers between patrol targets.
type Patrol struct {
	Mover     Mover
	Occupancy *world.Occupancy
	Targeter  Targeter
	Config    MovementConfig
}

// Step runs one tick of an officer's movement. Hotspot officers spend
// SceneDwell ticks at every target they reach; area officers turn straight
// around for the next target.
func (p *Patrol) Step(o *Officer) {
	for i := 0; i < o.SubSteps() && o.State == StateMoving; i++ {
		p.substep(o)
	}

	switch o.State {
	case StateArrived:
		o.Prev = o.Pos
		o.State = StateMoving
	case StateAtScene:
		o.SceneTimer--
		if o.SceneTimer <= 0 {
			o.SceneTimer = 0
			o.State = StateMoving
		}
	}
}

func (p *Patrol) substep(o *Officer) {
	if o.Pos == o.Destination {
		o.Destination = p.Targeter.PatrolTarget(o)
		if o.Pos == o.Destination {
			p.arrive(o)
			return
		}
	}

	from := o.Pos
	to := p.Mover.Advance(&o.Motion, o.Destination)
	p.Occupancy.Move(world.OccupantOfficer, uint64(o.ID), from, to)

	if o.Pos == o.Destination {
		p.arrive(o)
	}
}

func (p *Patrol) arrive(o *Officer) {
	if o.HotspotPatrol {
		o.State = StateAtScene
		o.SceneTimer = p.Config.SceneDwell
		o.ScenesVisited++
		return
	}
	o.State = StateArrived
}
