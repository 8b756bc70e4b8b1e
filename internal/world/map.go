package world

import (
	"fmt"
	"sort"
	"sync"
)

// NumZones is the number of static quadrant zones.
const NumZones = 4

// Grid holds every patch of the city in row-major order plus the static
// indexes derived from it.
type Grid struct {
	Width   int     `json:"width"`
	Height  int     `json:"height"`
	Lattice Lattice `json:"lattice"`

	patches []Patch

	// Built once at creation; patch kinds and zones never change.
	zoneRoads [NumZones + 1][]Coord
	roads     []Coord
	buildings []Coord // Only buildings with a road frontage

	hot hotspotIndex
}

// NewGrid creates a grid with kinds and zones assigned and zero risk.
func NewGrid(width, height int, lattice Lattice) *Grid {
	g := &Grid{
		Width:   width,
		Height:  height,
		Lattice: lattice,
		patches: make([]Patch, width*height),
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c := Coord{X: x, Y: y}
			p := &g.patches[g.index(c)]
			p.Pos = c
			p.Kind = lattice.KindAt(c)
			p.Zone = g.ZoneOf(c)
			if p.Kind == KindRoad {
				g.roads = append(g.roads, c)
				g.zoneRoads[p.Zone] = append(g.zoneRoads[p.Zone], c)
			}
		}
	}
	for _, p := range g.patches {
		if p.Kind == KindBuilding && g.fronted(p.Pos) {
			g.buildings = append(g.buildings, p.Pos)
		}
	}
	return g
}

// fronted reports whether a building touches at least one road, i.e. whether
// an agent can ever step into it.
func (g *Grid) fronted(c Coord) bool {
	for _, n := range c.Neighbors() {
		if g.InBounds(n) && g.Lattice.KindAt(n) == KindRoad {
			return true
		}
	}
	return false
}

func (g *Grid) index(c Coord) int {
	return c.Y*g.Width + c.X
}

// At returns the patch at c, or nil if c is out of bounds.
func (g *Grid) At(c Coord) *Patch {
	if !g.InBounds(c) {
		return nil
	}
	return &g.patches[g.index(c)]
}

// InBounds returns true if c lies on the grid.
func (g *Grid) InBounds(c Coord) bool {
	return c.X >= 0 && c.Y >= 0 && c.X < g.Width && c.Y < g.Height
}

// IsRoad returns true if c is an in-bounds road patch.
func (g *Grid) IsRoad(c Coord) bool {
	p := g.At(c)
	return p != nil && p.IsRoad()
}

// ZoneOf returns the quadrant (1..4) containing c:
// 1 south-west, 2 south-east, 3 north-west, 4 north-east.
func (g *Grid) ZoneOf(c Coord) int {
	zone := 1
	if c.X >= g.Width/2 {
		zone++
	}
	if c.Y >= g.Height/2 {
		zone += 2
	}
	return zone
}

// RoadsInZone returns the road patches of a zone in row-major order.
// The returned slice is shared and must not be modified.
func (g *Grid) RoadsInZone(zone int) []Coord {
	if zone < 1 || zone > NumZones {
		return nil
	}
	return g.zoneRoads[zone]
}

// Roads returns every road patch in row-major order. Shared, read-only.
func (g *Grid) Roads() []Coord {
	return g.roads
}

// Buildings returns the building patches that front a road, in row-major
// order. These are the only valid homes and activity nodes. Shared, read-only.
func (g *Grid) Buildings() []Coord {
	return g.buildings
}

// PatchCount returns the total number of patches.
func (g *Grid) PatchCount() int {
	return len(g.patches)
}

// Patches returns the backing patch slice in row-major order.
func (g *Grid) Patches() []Patch {
	return g.patches
}

// RecordIncident increments the incident counter of a road patch.
// Out-of-bounds and building patches are ignored.
func (g *Grid) RecordIncident(c Coord) {
	p := g.At(c)
	if p == nil || !p.IsRoad() {
		return
	}
	if p.Incidents == 0 {
		g.hot.add(g.index(c))
	}
	p.Incidents++
	g.hot.invalidate()
}

// SetIncidents overwrites a patch's incident counter (used on restore).
func (g *Grid) SetIncidents(c Coord, n int) {
	p := g.At(c)
	if p == nil {
		return
	}
	if p.Incidents == 0 && n > 0 {
		g.hot.add(g.index(c))
	}
	p.Incidents = n
	g.hot.invalidate()
}

// ResetIncidents clears every incident counter.
func (g *Grid) ResetIncidents() {
	for _, idx := range g.hot.members {
		g.patches[idx].Incidents = 0
	}
	g.hot.members = nil
	g.hot.invalidate()
}

// TotalIncidents sums incident counters over the grid.
func (g *Grid) TotalIncidents() int {
	total := 0
	for _, idx := range g.hot.members {
		total += g.patches[idx].Incidents
	}
	return total
}

// KindCounts returns the number of road and building patches.
func (g *Grid) KindCounts() (roads, buildings int) {
	return len(g.roads), len(g.patches) - len(g.roads)
}

// String returns a summary of the grid.
func (g *Grid) String() string {
	roads, buildings := g.KindCounts()
	return fmt.Sprintf("Grid(%dx%d, roads=%d, buildings=%d)", g.Width, g.Height, roads, buildings)
}

// hotspotIndex tracks the patches with a nonzero incident count so hotspot
// ranking never has to scan the whole grid.
//
// members and the incident counters change only under the owner's exclusive
// access, but HotspotCandidates may run from several readers at once, so the
// ranking cache has its own lock.
type hotspotIndex struct {
	members []int // patch indexes, kept sorted ascending

	mu         sync.Mutex
	dirty      bool
	cacheDepth int
	cache      []Coord
}

func (h *hotspotIndex) invalidate() {
	h.mu.Lock()
	h.dirty = true
	h.cache = nil
	h.mu.Unlock()
}

func (h *hotspotIndex) add(idx int) {
	i := sort.SearchInts(h.members, idx)
	if i < len(h.members) && h.members[i] == idx {
		return
	}
	h.members = append(h.members, 0)
	copy(h.members[i+1:], h.members[i:])
	h.members[i] = idx
}
