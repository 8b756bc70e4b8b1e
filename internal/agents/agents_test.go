package agents

import (
	"errors"
	"math/rand/v2"
	"reflect"
	"testing"

	"github.com/talgya/hotspot-sim/internal/world"
)

func testRNG() *rand.Rand {
	return rand.New(rand.NewPCG(42, 7))
}

func testGrid() *world.Grid {
	return world.NewGrid(25, 25, world.Lattice{EveryX: 3, EveryY: 6})
}

func TestAdvanceEntersAdjacentDestination(t *testing.T) {
	g := testGrid()
	mv := Mover{Grid: g}
	m := Motion{Pos: world.Coord{X: 3, Y: 1}, Prev: world.Coord{X: 3, Y: 0}}
	dest := world.Coord{X: 4, Y: 1}
	if g.IsRoad(dest) {
		t.Fatalf("fixture: %v should be a building", dest)
	}
	if got := mv.Advance(&m, dest); got != dest {
		t.Fatalf("Advance = %v, want building destination %v", got, dest)
	}
	if m.Prev != (world.Coord{X: 3, Y: 1}) {
		t.Fatalf("Prev = %v, want previous position", m.Prev)
	}
}

func TestAdvanceScanOrderAndPrevExclusion(t *testing.T) {
	g := testGrid()
	mv := Mover{Grid: g}
	dest := world.Coord{X: 9, Y: 12}

	// From the intersection (3,6) both north and east reduce the distance;
	// north comes first in scan order.
	m := Motion{Pos: world.Coord{X: 3, Y: 6}, Prev: world.Coord{X: 3, Y: 6}}
	if got := mv.Advance(&m, dest); got != (world.Coord{X: 3, Y: 7}) {
		t.Fatalf("Advance = %v, want (3,7)", got)
	}

	m = Motion{Pos: world.Coord{X: 3, Y: 6}, Prev: world.Coord{X: 3, Y: 7}}
	if got := mv.Advance(&m, dest); got != (world.Coord{X: 4, Y: 6}) {
		t.Fatalf("Advance with north excluded = %v, want (4,6)", got)
	}
}

func TestAdvanceStallsAtDeadEnd(t *testing.T) {
	// Roads on columns 0 and 3 and on row 0 only.
	g := world.NewGrid(4, 4, world.Lattice{EveryX: 3, EveryY: 100})
	mv := Mover{Grid: g}
	m := Motion{Pos: world.Coord{X: 3, Y: 3}, Prev: world.Coord{X: 3, Y: 2}}

	if got := mv.Advance(&m, world.Coord{X: 0, Y: 3}); got != (world.Coord{X: 3, Y: 3}) {
		t.Fatalf("Advance = %v, want to stay at (3,3)", got)
	}
	if m.Prev != m.Pos {
		t.Fatalf("Prev = %v, want %v after a stall", m.Prev, m.Pos)
	}
	// Having stalled, the way back is open again.
	if got := mv.Advance(&m, world.Coord{X: 0, Y: 3}); got != (world.Coord{X: 3, Y: 2}) {
		t.Fatalf("Advance after stall = %v, want (3,2)", got)
	}
}

func TestWalksReachEveryBuilding(t *testing.T) {
	g := testGrid()
	mv := Mover{Grid: g}
	buildings := g.Buildings()

	for _, from := range buildings {
		for _, to := range buildings {
			if from == to {
				continue
			}
			m := Motion{Pos: from, Prev: from}
			arrived := false
			for i := 0; i < 200; i++ {
				prev := m.Pos
				pos := mv.Advance(&m, to)
				if m.Prev != prev {
					t.Fatalf("%v→%v: Prev = %v, want %v", from, to, m.Prev, prev)
				}
				if !g.InBounds(pos) {
					t.Fatalf("%v→%v: left the grid at %v", from, to, pos)
				}
				if pos == to {
					arrived = true
					break
				}
				if !g.IsRoad(pos) {
					t.Fatalf("%v→%v: stepped onto building %v", from, to, pos)
				}
			}
			if !arrived {
				t.Fatalf("%v→%v: not reached within 200 steps", from, to)
			}
		}
	}
}

func TestWeightedTieBreakStaysOnRoads(t *testing.T) {
	g := testGrid()
	mv := Mover{Grid: g, TieBreak: TieBreakWeighted, RNG: testRNG()}
	dest := world.Coord{X: 22, Y: 20}
	m := Motion{Pos: world.Coord{X: 1, Y: 1}, Prev: world.Coord{X: 1, Y: 1}}

	for i := 0; i < 2000 && m.Pos != dest; i++ {
		pos := mv.Advance(&m, dest)
		if pos != dest && !g.IsRoad(pos) {
			t.Fatalf("step %d: weighted mover stepped onto building %v", i, pos)
		}
	}
}

func TestParseTieBreak(t *testing.T) {
	for in, want := range map[string]TieBreak{"": TieBreakFirst, "first": TieBreakFirst, "weighted": TieBreakWeighted} {
		got, err := ParseTieBreak(in)
		if err != nil || got != want {
			t.Errorf("ParseTieBreak(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseTieBreak("random"); err == nil {
		t.Error("ParseTieBreak(random) succeeded")
	}
}

func testMovementConfig() MovementConfig {
	cfg := DefaultMovementConfig()
	cfg.HomeReturnProbability = 1
	cfg.HomeDwellBase, cfg.HomeDwellSpread = 3, 0
	cfg.ActivityDwellBase, cfg.ActivityDwellSpread = 2, 0
	return cfg
}

func TestRoutineCycle(t *testing.T) {
	g := testGrid()
	occ := world.NewOccupancy(g)
	rng := testRNG()
	r := &Routine{Mover: Mover{Grid: g}, Occupancy: occ, RNG: rng, Config: testMovementConfig()}

	home, node := world.Coord{X: 1, Y: 1}, world.Coord{X: 22, Y: 19}
	c := &Civilian{
		ID:            1,
		Motion:        Motion{Pos: home, Prev: home, Destination: home, State: StateMoving, StepsPerTick: 6.5},
		Home:          home,
		ActivityNodes: []world.Coord{node},
	}
	if c.SubSteps() != 7 {
		t.Fatalf("SubSteps = %d, want 7", c.SubSteps())
	}
	occ.Place(world.OccupantCivilian, 1, home)

	ticks := 0
	for c.State != StateWaiting {
		r.Step(c)
		ticks++
		if ticks > 100 {
			t.Fatal("civilian never reached its activity node")
		}
		if got := occ.CiviliansAt(c.Pos); len(got) != 1 || got[0] != 1 {
			t.Fatalf("tick %d: occupancy at %v = %v", ticks, c.Pos, got)
		}
	}
	if c.Pos != node || c.Destination != node {
		t.Fatalf("waiting at %v (destination %v), want %v", c.Pos, c.Destination, node)
	}
	if c.Prev != c.Pos || c.DwellTimer != 2 {
		t.Fatalf("after arrival Prev=%v DwellTimer=%d, want Prev=Pos and 2", c.Prev, c.DwellTimer)
	}

	r.Step(c)
	if c.State != StateWaiting || c.DwellTimer != 1 {
		t.Fatalf("state %v timer %d, want waiting with 1", c.State, c.DwellTimer)
	}
	// The second tick after arrival ends a dwell of 2; the civilian is still
	// at the node and leaves on the next tick.
	r.Step(c)
	if c.State != StateMoving || c.DwellTimer != 0 || c.Pos != node {
		t.Fatalf("dwell expiry: state %v timer %d at %v, want moving with 0 at %v", c.State, c.DwellTimer, c.Pos, node)
	}

	r.Step(c)
	if c.Destination != home || c.Pos == node {
		t.Fatalf("after leaving: destination %v at %v, want heading home", c.Destination, c.Pos)
	}
	for c.State == StateMoving {
		r.Step(c)
	}
	if c.Pos != home || c.DwellTimer != 3 {
		t.Fatalf("home arrival at %v with timer %d, want %v and 3", c.Pos, c.DwellTimer, home)
	}
	if err := c.Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestNextFromActivityFallsBackHome(t *testing.T) {
	cfg := testMovementConfig()
	cfg.HomeReturnProbability = 0
	r := &Routine{RNG: testRNG(), Config: cfg}
	node := world.Coord{X: 4, Y: 4}
	c := &Civilian{Motion: Motion{Pos: node}, Home: world.Coord{X: 1, Y: 1}, ActivityNodes: []world.Coord{node}}
	if got := r.nextFromActivity(c); got != c.Home {
		t.Fatalf("nextFromActivity = %v, want home", got)
	}

	other := world.Coord{X: 7, Y: 4}
	c.ActivityNodes = []world.Coord{node, other}
	if got := r.nextFromActivity(c); got != other {
		t.Fatalf("nextFromActivity = %v, want the other node %v", got, other)
	}
}

// fixedTargets hands out patrol targets in order, repeating the last one.
type fixedTargets struct {
	targets []world.Coord
	calls   int
}

func (f *fixedTargets) PatrolTarget(*Officer) world.Coord {
	i := min(f.calls, len(f.targets)-1)
	f.calls++
	return f.targets[i]
}

func newTestOfficer(hotspot bool, pos world.Coord) *Officer {
	return &Officer{
		ID:            9,
		Motion:        Motion{Pos: pos, Prev: pos, Destination: pos, State: StateMoving, StepsPerTick: 3},
		PatrolNode:    pos,
		HotspotPatrol: hotspot,
		PatrolZone:    1,
	}
}

func TestHotspotPatrolDwellsAtScene(t *testing.T) {
	g := testGrid()
	occ := world.NewOccupancy(g)
	start, scene := world.Coord{X: 0, Y: 0}, world.Coord{X: 0, Y: 5}
	cfg := testMovementConfig()
	cfg.SceneDwell = 4
	p := &Patrol{Mover: Mover{Grid: g}, Occupancy: occ, Targeter: &fixedTargets{targets: []world.Coord{scene}}, Config: cfg}

	o := newTestOfficer(true, start)
	occ.Place(world.OccupantOfficer, uint64(o.ID), start)

	p.Step(o)
	if o.Pos != (world.Coord{X: 0, Y: 3}) || o.State != StateMoving {
		t.Fatalf("after one tick: %v %v, want moving at (0,3)", o.Pos, o.State)
	}
	p.Step(o)
	if o.Pos != scene || o.State != StateAtScene || o.SceneTimer != 3 || o.ScenesVisited != 1 {
		t.Fatalf("arrival: pos %v state %v timer %d scenes %d", o.Pos, o.State, o.SceneTimer, o.ScenesVisited)
	}
	if !occ.AnyOfficerWithin(scene, 0) {
		t.Fatal("occupancy does not place the officer at the scene")
	}
	for i := 0; i < 3; i++ {
		p.Step(o)
	}
	if o.State != StateMoving || o.Pos != scene {
		t.Fatalf("after scene dwell: %v at %v, want moving at scene", o.State, o.Pos)
	}
	if err := o.Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestHotspotPatrolTargetAtCurrentCell(t *testing.T) {
	g := testGrid()
	occ := world.NewOccupancy(g)
	start := world.Coord{X: 3, Y: 3}
	cfg := testMovementConfig()
	p := &Patrol{Mover: Mover{Grid: g}, Occupancy: occ, Targeter: &fixedTargets{targets: []world.Coord{start}}, Config: cfg}

	o := newTestOfficer(true, start)
	occ.Place(world.OccupantOfficer, uint64(o.ID), start)
	p.Step(o)
	if o.State != StateAtScene || o.Pos != start || o.SceneTimer != cfg.SceneDwell-1 {
		t.Fatalf("state %v pos %v timer %d, want immediate scene at %v", o.State, o.Pos, o.SceneTimer, start)
	}
}

func TestAreaPatrolNeverAtScene(t *testing.T) {
	g := testGrid()
	occ := world.NewOccupancy(g)
	start := world.Coord{X: 0, Y: 0}
	targets := &fixedTargets{targets: []world.Coord{{X: 0, Y: 2}, {X: 3, Y: 0}, {X: 6, Y: 6}}}
	p := &Patrol{Mover: Mover{Grid: g}, Occupancy: occ, Targeter: targets, Config: testMovementConfig()}

	o := newTestOfficer(false, start)
	occ.Place(world.OccupantOfficer, uint64(o.ID), start)
	for i := 0; i < 20; i++ {
		p.Step(o)
		if o.State != StateMoving {
			t.Fatalf("tick %d: area officer in state %v", i, o.State)
		}
		if err := o.Validate(); err != nil {
			t.Fatal(err)
		}
	}
	if targets.calls < 3 || o.ScenesVisited != 0 {
		t.Fatalf("targets requested %d times, scenes %d", targets.calls, o.ScenesVisited)
	}
}

func TestSpawnCiviliansInvariants(t *testing.T) {
	g, err := world.Generate(world.SmallTestConfig(), testRNG())
	if err != nil {
		t.Fatal(err)
	}
	pop := DefaultPopulationConfig()
	pop.Civilians = 2000
	s := NewSpawner(testRNG(), g, pop, DefaultMovementConfig())
	civilians, err := s.SpawnCivilians()
	if err != nil {
		t.Fatal(err)
	}
	if len(civilians) != pop.Civilians {
		t.Fatalf("spawned %d civilians, want %d", len(civilians), pop.Civilians)
	}

	buildings := map[world.Coord]bool{}
	for _, b := range g.Buildings() {
		buildings[b] = true
	}
	var offenders, chronic, white int
	for i, c := range civilians {
		if c.ID != AgentID(i+1) {
			t.Fatalf("civilian %d has ID %d", i, c.ID)
		}
		if !buildings[c.Home] || c.Pos != c.Home || c.Zone != g.ZoneOf(c.Home) {
			t.Fatalf("civilian %d: home %v pos %v zone %d", c.ID, c.Home, c.Pos, c.Zone)
		}
		seen := map[world.Coord]bool{c.Home: true}
		for _, n := range c.ActivityNodes {
			if !buildings[n] || seen[n] {
				t.Fatalf("civilian %d: bad activity node %v in %v", c.ID, n, c.ActivityNodes)
			}
			seen[n] = true
		}
		if len(c.ActivityNodes) != pop.ActivityNodes {
			t.Fatalf("civilian %d has %d activity nodes", c.ID, len(c.ActivityNodes))
		}
		if c.StepsPerTick < 6 || c.StepsPerTick > 9 {
			t.Fatalf("civilian %d: steps per tick %v", c.ID, c.StepsPerTick)
		}
		if c.Attractiveness < 1 || c.Attractiveness > 11 || c.PerceivedGuardianship < 1 || c.PerceivedGuardianship > 11 {
			t.Fatalf("civilian %d: traits %v / %v outside [1,11]", c.ID, c.Attractiveness, c.PerceivedGuardianship)
		}
		if c.PerceivedCapability < -5 || c.PerceivedCapability > 6 {
			t.Fatalf("civilian %d: capability %v", c.ID, c.PerceivedCapability)
		}
		switch {
		case c.Chronic:
			chronic++
			offenders++
			if c.Propensity != ChronicPropensity || c.HasCooldown() {
				t.Fatalf("chronic civilian %d: propensity %v", c.ID, c.Propensity)
			}
		case c.IsOffender():
			offenders++
			if c.Propensity < 6 || c.Propensity > 9 || !c.HasCooldown() {
				t.Fatalf("offender %d: propensity %v", c.ID, c.Propensity)
			}
		}
		if c.Ethnicity == EthnicityWhite {
			white++
		}
	}
	if offenders < 60 || offenders > 140 {
		t.Errorf("%d offenders among %d civilians, want about 5%%", offenders, pop.Civilians)
	}
	if chronic > offenders/3 {
		t.Errorf("%d of %d offenders chronic, want about 10%%", chronic, offenders)
	}
	if share := float64(white) / float64(pop.Civilians); share < 0.40 || share > 0.50 {
		t.Errorf("white share %.3f, want about 0.449", share)
	}
}

func TestSpawnIsDeterministic(t *testing.T) {
	g := testGrid()
	spawn := func() ([]*Civilian, []*Officer) {
		s := NewSpawner(testRNG(), g, DefaultPopulationConfig(), DefaultMovementConfig())
		c, err := s.SpawnCivilians()
		if err != nil {
			t.Fatal(err)
		}
		o, err := s.SpawnOfficers()
		if err != nil {
			t.Fatal(err)
		}
		return c, o
	}
	c1, o1 := spawn()
	c2, o2 := spawn()
	if !reflect.DeepEqual(c1, c2) || !reflect.DeepEqual(o1, o2) {
		t.Fatal("same seed produced different populations")
	}
}

func TestSpawnOfficers(t *testing.T) {
	g := testGrid()
	s := NewSpawner(testRNG(), g, DefaultPopulationConfig(), DefaultMovementConfig())
	s.SetNextID(301)
	officers, err := s.SpawnOfficers()
	if err != nil {
		t.Fatal(err)
	}
	if len(officers) != 10 {
		t.Fatalf("spawned %d officers, want 10", len(officers))
	}
	for i, o := range officers {
		if o.ID != AgentID(301+i) {
			t.Errorf("officer %d has ID %d", i, o.ID)
		}
		if o.HotspotPatrol != (i < 5) {
			t.Errorf("officer %d hotspot=%v", i, o.HotspotPatrol)
		}
		if o.PatrolZone != i%4+1 || g.ZoneOf(o.Pos) != o.PatrolZone || !g.IsRoad(o.Pos) {
			t.Errorf("officer %d: zone %d, starts at %v", i, o.PatrolZone, o.Pos)
		}
		if o.PatrolNode != o.Pos || o.Destination != o.Pos || o.State != StateMoving {
			t.Errorf("officer %d: patrol node %v destination %v state %v", i, o.PatrolNode, o.Destination, o.State)
		}
	}
}

func TestSpawnCiviliansNeedsBuildings(t *testing.T) {
	g := world.NewGrid(2, 2, world.Lattice{EveryX: 3, EveryY: 6})
	s := NewSpawner(testRNG(), g, DefaultPopulationConfig(), DefaultMovementConfig())
	if _, err := s.SpawnCivilians(); err == nil {
		t.Fatal("SpawnCivilians succeeded with a single building")
	}
}

func TestValidate(t *testing.T) {
	node := []world.Coord{{X: 1, Y: 1}}
	bad := []*Civilian{
		{ID: 1, Propensity: 5, ActivityNodes: node},
		{ID: 2, Propensity: 8, Chronic: true, ActivityNodes: node},
		{ID: 3, Motion: Motion{State: StateAtScene}, ActivityNodes: node},
		{ID: 4},
	}
	for _, c := range bad {
		if err := c.Validate(); err == nil {
			t.Errorf("civilian %d validated", c.ID)
		}
	}
	ok := &Civilian{ID: 5, Propensity: 7.5, ActivityNodes: node}
	if err := ok.Validate(); err != nil {
		t.Errorf("valid civilian rejected: %v", err)
	}

	o := newTestOfficer(false, world.Coord{})
	o.State = StateAtScene
	if err := o.Validate(); !errors.Is(err, errAtSceneArea) {
		t.Errorf("area officer at scene: err = %v", err)
	}
	o = newTestOfficer(true, world.Coord{})
	o.PatrolZone = 5
	if err := o.Validate(); err == nil {
		t.Error("officer in zone 5 validated")
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultPopulationConfig().Validate(); err != nil {
		t.Fatal(err)
	}
	if err := DefaultMovementConfig().Validate(); err != nil {
		t.Fatal(err)
	}
	pop := DefaultPopulationConfig()
	pop.PropensityMax = 10
	if pop.Validate() == nil {
		t.Error("propensity max 10 validated")
	}
	pop = DefaultPopulationConfig()
	pop.EthnicMix = EthnicMix{}
	if pop.Validate() == nil {
		t.Error("empty ethnic mix validated")
	}
	mv := DefaultMovementConfig()
	mv.TieBreak = "zigzag"
	if mv.Validate() == nil {
		t.Error("unknown tie break validated")
	}
}

func TestTruncatedNormalStaysInRange(t *testing.T) {
	rng := testRNG()
	cases := []Trait{
		{Mean: 5.5, SD: 1.2, Min: 1, Max: 11},
		// Mass almost entirely outside the range on either side.
		{Mean: 60, SD: 1, Min: 0, Max: 1},
		{Mean: -40, SD: 0.5, Min: 2, Max: 3},
		// No representable mass at all: CDF is 1 at both bounds.
		{Mean: 1e6, SD: 1, Min: 0, Max: 1},
	}
	for _, tr := range cases {
		sum := 0.0
		for range 2000 {
			v := truncatedNormal(rng, tr)
			if v < tr.Min || v > tr.Max {
				t.Fatalf("%+v: draw %v outside range", tr, v)
			}
			sum += v
		}
		mean := sum / 2000
		switch {
		case tr.Mean > tr.Max && mean < tr.Min+(tr.Max-tr.Min)/2:
			t.Errorf("%+v: mean %.3f not pulled toward max", tr, mean)
		case tr.Mean < tr.Min && mean > tr.Min+(tr.Max-tr.Min)/2:
			t.Errorf("%+v: mean %.3f not pulled toward min", tr, mean)
		case tr.Mean == 5.5 && (mean < 5.3 || mean > 5.7):
			t.Errorf("%+v: mean %.3f", tr, mean)
		}
	}
}
