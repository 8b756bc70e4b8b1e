// Simulation owns the grid and the agents and advances them one tick at a time.
package engine

import (
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/talgya/hotspot-sim/internal/agents"
	"github.com/talgya/hotspot-sim/internal/world"
)

// pcgIncrement is the fixed second word of the PCG seed.
const pcgIncrement = 0x9e3779b97f4a7c15

// Simulation holds the complete world state. It is not safe for concurrent
// use; Engine serialises access for the API.
type Simulation struct {
	cfg Config
	cal Calibration

	pcg *rand.PCG
	rng *rand.Rand // The single stream every stochastic decision draws from

	grid      *world.Grid
	occupancy *world.Occupancy
	civilians []*agents.Civilian
	officers  []*agents.Officer
	civByID   map[agents.AgentID]*agents.Civilian
	order     []actor

	routine *agents.Routine
	patrol  *agents.Patrol

	tick    uint64
	running bool
	totals  Totals
	events  []Event
}

// actor is one entry of the activation order.
type actor struct {
	civilian *agents.Civilian
	officer  *agents.Officer
}

// Totals are the run-wide counters.
type Totals struct {
	Victimisations   int                        `json:"victimisations"`
	StopSearches     int                        `json:"stop_searches"`
	RobberiesByZone  [world.NumZones]int        `json:"robberies_by_zone"` // Index zone-1
	StopsByEthnicity [agents.NumEthnicities]int `json:"stops_by_ethnicity"`
}

// New generates the grid and population for cfg.
func New(cfg Config) (*Simulation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := newSimulation(cfg, rand.NewPCG(cfg.Seed, cfg.Seed^pcgIncrement))

	grid, err := world.Generate(cfg.Grid, s.rng)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	spawner := agents.NewSpawner(s.rng, grid, cfg.Population, cfg.Movement)
	civilians, err := spawner.SpawnCivilians()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	officers, err := spawner.SpawnOfficers()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	s.populate(grid, civilians, officers)
	s.running = s.tick < cfg.Horizon

	offenders, chronic := 0, 0
	for _, c := range civilians {
		if c.IsOffender() {
			offenders++
		}
		if c.Chronic {
			chronic++
		}
	}
	slog.Info("world generated",
		"grid", grid.String(),
		"civilians", len(civilians),
		"offenders", offenders,
		"chronic", chronic,
		"officers", len(officers),
		"seed", cfg.Seed,
		"horizon", cfg.Horizon,
	)
	return s, nil
}

func newSimulation(cfg Config, pcg *rand.PCG) *Simulation {
	return &Simulation{
		cfg: cfg,
		cal: cfg.Calibration.clone(),
		pcg: pcg,
		rng: rand.New(pcg),
	}
}

// populate wires the grid, agents and movement state machines together.
func (s *Simulation) populate(grid *world.Grid, civilians []*agents.Civilian, officers []*agents.Officer) {
	s.grid = grid
	s.occupancy = world.NewOccupancy(grid)
	s.civilians = civilians
	s.officers = officers
	s.civByID = make(map[agents.AgentID]*agents.Civilian, len(civilians))
	s.order = make([]actor, 0, len(civilians)+len(officers))

	for _, c := range civilians {
		s.civByID[c.ID] = c
		s.occupancy.Place(world.OccupantCivilian, uint64(c.ID), c.Pos)
	}
	for _, o := range officers {
		s.occupancy.Place(world.OccupantOfficer, uint64(o.ID), o.Pos)
	}

	// Validate has already accepted the tie break name.
	tieBreak, _ := agents.ParseTieBreak(s.cfg.Movement.TieBreak)
	mover := agents.Mover{Grid: grid, TieBreak: tieBreak, RNG: s.rng}
	s.routine = &agents.Routine{Mover: mover, Occupancy: s.occupancy, RNG: s.rng, Config: s.cfg.Movement}
	s.patrol = &agents.Patrol{Mover: mover, Occupancy: s.occupancy, Targeter: s, Config: s.cfg.Movement}
}

// Step advances the world by one tick: every agent is activated exactly once,
// in a freshly shuffled order. A no-op once the horizon has been reached.
func (s *Simulation) Step() {
	if !s.running {
		return
	}

	s.order = s.order[:0]
	for _, c := range s.civilians {
		s.order = append(s.order, actor{civilian: c})
	}
	for _, o := range s.officers {
		s.order = append(s.order, actor{officer: o})
	}
	s.rng.Shuffle(len(s.order), func(i, j int) {
		s.order[i], s.order[j] = s.order[j], s.order[i]
	})

	for _, a := range s.order {
		if a.civilian != nil {
			s.stepCivilian(a.civilian)
		} else {
			s.stepOfficer(a.officer)
		}
	}

	s.tick++
	s.running = s.tick < s.cfg.Horizon
}

func (s *Simulation) stepCivilian(c *agents.Civilian) {
	s.routine.Step(c)
	s.offend(c)
	if c.HasCooldown() && c.Cooldown > 0 {
		c.Cooldown--
	}
}

func (s *Simulation) stepOfficer(o *agents.Officer) {
	s.patrol.Step(o)
	s.stopSearch(o)
}

// Running reports whether the horizon is still ahead.
func (s *Simulation) Running() bool { return s.running }

// Tick returns the number of completed ticks.
func (s *Simulation) Tick() uint64 { return s.tick }

// Horizon returns the tick budget.
func (s *Simulation) Horizon() uint64 { return s.cfg.Horizon }

// Config returns the configuration the world was built from.
func (s *Simulation) Config() Config { return s.cfg }

// Grid exposes the patch grid for read-only use.
func (s *Simulation) Grid() *world.Grid { return s.grid }

// Totals returns the run-wide counters.
func (s *Simulation) Totals() Totals { return s.totals }

// ExtendHorizon moves the horizon forward by ticks and resumes a finished run.
func (s *Simulation) ExtendHorizon(ticks uint64) {
	s.cfg.Horizon += ticks
	s.running = s.tick < s.cfg.Horizon
}

// DailyReport logs the state of the run. Called every simulated day.
func (s *Simulation) DailyReport() {
	st := s.Stats()
	slog.Info("daily report",
		"tick", st.Tick,
		"time", SimTime(st.Tick),
		"victimisations", st.Victimisations,
		"stop_searches", st.StopSearches,
		"hotspots", st.HotspotCount,
		"offenders_on_cooldown", st.OffendersOnCooldown,
		"officers_at_scene", st.OfficersAtScene,
	)
}

// WeeklySummary logs the per-zone and per-ethnicity breakdown. It only
// reads, so it is safe from engine callbacks.
func (s *Simulation) WeeklySummary() {
	st := s.Stats()
	slog.Info("weekly summary",
		"tick", st.Tick,
		"time", SimTime(st.Tick),
		"robberies_by_zone", fmt.Sprint(st.RobberiesByZone),
		"stops_by_ethnicity", fmt.Sprint(st.StopsByEthnicity),
		"events", len(s.events),
	)
}
