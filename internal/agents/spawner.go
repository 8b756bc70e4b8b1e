// Agent spawning: creates the initial civilians and officers with homes,
// routines, traits and patrol assignments.
package agents

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/talgya/hotspot-sim/internal/world"
)

// Spawner creates agents for the simulation. It draws from the simulation's
// shared random stream; it never owns a generator of its own.
type Spawner struct {
	rng    *rand.Rand
	grid   *world.Grid
	pop    PopulationConfig
	move   MovementConfig
	nextID AgentID
}

// NewSpawner creates an agent spawner over grid.
func NewSpawner(rng *rand.Rand, grid *world.Grid, pop PopulationConfig, move MovementConfig) *Spawner {
	return &Spawner{
		rng:    rng,
		grid:   grid,
		pop:    pop,
		move:   move,
		nextID: 1,
	}
}

// SetNextID sets the next agent ID to be issued.
func (s *Spawner) SetNextID(id AgentID) {
	s.nextID = id
}

// SpawnCivilians creates the configured number of civilians.
func (s *Spawner) SpawnCivilians() ([]*Civilian, error) {
	buildings := s.grid.Buildings()
	if len(buildings) < s.pop.ActivityNodes+1 {
		return nil, fmt.Errorf("grid has %d building patches, need at least %d for a home and %d activity nodes",
			len(buildings), s.pop.ActivityNodes+1, s.pop.ActivityNodes)
	}

	ethnicity := distuv.NewCategorical(s.pop.EthnicMix.Weights(), s.rng)
	civilians := make([]*Civilian, 0, s.pop.Civilians)
	for i := 0; i < s.pop.Civilians; i++ {
		civilians = append(civilians, s.spawnCivilian(buildings, ethnicity))
	}
	return civilians, nil
}

func (s *Spawner) spawnCivilian(buildings []world.Coord, ethnicity distuv.Categorical) *Civilian {
	id := s.nextID
	s.nextID++

	home := buildings[s.rng.IntN(len(buildings))]

	// Activity nodes are distinct buildings other than home.
	nodes := make([]world.Coord, 0, s.pop.ActivityNodes)
	taken := map[world.Coord]bool{home: true}
	for len(nodes) < s.pop.ActivityNodes {
		c := buildings[s.rng.IntN(len(buildings))]
		if taken[c] {
			continue
		}
		taken[c] = true
		nodes = append(nodes, c)
	}

	c := &Civilian{
		ID: id,
		Motion: Motion{
			Pos:          home,
			Prev:         home,
			Destination:  home,
			State:        StateMoving,
			StepsPerTick: uniform(s.rng, s.move.MinSteps, s.move.MaxSteps),
		},
		Home:          home,
		ActivityNodes: nodes,
		Zone:          s.grid.ZoneOf(home),
		Ethnicity:     Ethnicity(ethnicity.Rand()),
	}

	if s.rng.Float64() < s.pop.OffenderShare {
		if s.rng.Float64() < s.pop.ChronicShare {
			c.Chronic = true
			c.Propensity = ChronicPropensity
		} else {
			c.Propensity = uniform(s.rng, s.pop.PropensityMin, s.pop.PropensityMax)
		}
	}

	c.Attractiveness = truncatedNormal(s.rng, s.pop.Attractiveness)
	c.PerceivedGuardianship = truncatedNormal(s.rng, s.pop.PerceivedGuardianship)
	c.PerceivedCapability = uniform(s.rng, s.pop.CapabilityMin, s.pop.CapabilityMax)

	if err := c.Validate(); err != nil {
		panic(err)
	}
	return c
}

// SpawnOfficers creates the configured number of officers. The first
// round(Officers*HotspotShare) officers patrol hotspots; zones are assigned
// round-robin and every officer starts on a random road of its zone.
func (s *Spawner) SpawnOfficers() ([]*Officer, error) {
	hotspot := int(math.Round(float64(s.pop.Officers) * s.pop.HotspotShare))
	officers := make([]*Officer, 0, s.pop.Officers)

	for i := 0; i < s.pop.Officers; i++ {
		zone := i%world.NumZones + 1
		roads := s.grid.RoadsInZone(zone)
		if len(roads) == 0 {
			return nil, fmt.Errorf("zone %d has no road patches for officer placement", zone)
		}
		start := roads[s.rng.IntN(len(roads))]

		o := &Officer{
			ID: s.nextID,
			Motion: Motion{
				Pos:          start,
				Prev:         start,
				Destination:  start,
				State:        StateMoving,
				StepsPerTick: uniform(s.rng, s.move.MinSteps, s.move.MaxSteps),
			},
			PatrolNode:    start,
			HotspotPatrol: i < hotspot,
			PatrolZone:    zone,
		}
		s.nextID++

		if err := o.Validate(); err != nil {
			panic(err)
		}
		officers = append(officers, o)
	}
	return officers, nil
}
