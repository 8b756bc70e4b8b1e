// State export and restore. A restored world continues exactly as the
// exported one would have, tick for tick.
package engine

import (
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/talgya/hotspot-sim/internal/agents"
	"github.com/talgya/hotspot-sim/internal/world"
)

// StateVersion is bumped whenever State changes shape.
const StateVersion = 1

// State is a complete, self-contained copy of a world.
type State struct {
	Version   int               `json:"version"`
	Config    Config            `json:"config"`
	Tick      uint64            `json:"tick"`
	Running   bool              `json:"running"`
	RNG       []byte            `json:"rng"` // Marshalled PCG state
	Totals    Totals            `json:"totals"`
	Civilians []agents.Civilian `json:"civilians"`
	Officers  []agents.Officer  `json:"officers"`
	Risk      []int             `json:"risk"`      // Row-major
	Incidents []int             `json:"incidents"` // Row-major
}

// Export copies the full world state.
func (s *Simulation) Export() (*State, error) {
	rng, err := s.pcg.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal rng: %w", err)
	}
	cfg := s.cfg
	cfg.Calibration = s.cal.clone()

	st := &State{
		Version:   StateVersion,
		Config:    cfg,
		Tick:      s.tick,
		Running:   s.running,
		RNG:       rng,
		Totals:    s.totals,
		Civilians: make([]agents.Civilian, 0, len(s.civilians)),
		Officers:  make([]agents.Officer, 0, len(s.officers)),
		Risk:      make([]int, 0, s.grid.PatchCount()),
		Incidents: make([]int, 0, s.grid.PatchCount()),
	}
	for _, c := range s.civilians {
		cp := *c
		cp.ActivityNodes = append([]world.Coord(nil), c.ActivityNodes...)
		st.Civilians = append(st.Civilians, cp)
	}
	for _, o := range s.officers {
		st.Officers = append(st.Officers, *o)
	}
	for _, p := range s.grid.Patches() {
		st.Risk = append(st.Risk, p.Risk)
		st.Incidents = append(st.Incidents, p.Incidents)
	}
	return st, nil
}

// Restore rebuilds a world from an exported state.
func Restore(st *State) (*Simulation, error) {
	if st.Version != StateVersion {
		return nil, fmt.Errorf("state version %d, want %d", st.Version, StateVersion)
	}
	if err := st.Config.Validate(); err != nil {
		return nil, err
	}

	pcg := &rand.PCG{}
	if err := pcg.UnmarshalBinary(st.RNG); err != nil {
		return nil, fmt.Errorf("unmarshal rng: %w", err)
	}
	s := newSimulation(st.Config, pcg)

	gc := st.Config.Grid
	grid := world.NewGrid(gc.Width, gc.Height, gc.Lattice)
	if len(st.Risk) != grid.PatchCount() || len(st.Incidents) != grid.PatchCount() {
		return nil, fmt.Errorf("%w: state holds %d risks and %d incident counts for %d patches",
			ErrInvalidConfig, len(st.Risk), len(st.Incidents), grid.PatchCount())
	}
	for i := range grid.Patches() {
		c := world.Coord{X: i % gc.Width, Y: i / gc.Width}
		grid.At(c).Risk = st.Risk[i]
		grid.SetIncidents(c, st.Incidents[i])
	}

	seen := make(map[agents.AgentID]bool, len(st.Civilians)+len(st.Officers))
	civilians := make([]*agents.Civilian, 0, len(st.Civilians))
	for i := range st.Civilians {
		c := st.Civilians[i]
		c.ActivityNodes = append([]world.Coord(nil), c.ActivityNodes...)
		if err := c.Validate(); err != nil {
			return nil, err
		}
		if err := checkAgent(grid, seen, c.ID, c.Pos); err != nil {
			return nil, err
		}
		civilians = append(civilians, &c)
	}
	officers := make([]*agents.Officer, 0, len(st.Officers))
	for i := range st.Officers {
		o := st.Officers[i]
		if err := o.Validate(); err != nil {
			return nil, err
		}
		if err := checkAgent(grid, seen, o.ID, o.Pos); err != nil {
			return nil, err
		}
		officers = append(officers, &o)
	}

	s.populate(grid, civilians, officers)
	s.tick = st.Tick
	s.running = st.Running
	s.totals = st.Totals

	slog.Info("world restored", "tick", s.tick, "civilians", len(civilians), "officers", len(officers))
	return s, nil
}

func checkAgent(g *world.Grid, seen map[agents.AgentID]bool, id agents.AgentID, pos world.Coord) error {
	if seen[id] {
		return fmt.Errorf("agent %d appears twice in state", id)
	}
	seen[id] = true
	if !g.InBounds(pos) {
		return fmt.Errorf("agent %d at out-of-bounds %v", id, pos)
	}
	return nil
}
