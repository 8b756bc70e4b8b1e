package world

import (
	"fmt"
	"sort"
)

// OccupantKind distinguishes the two agent populations sharing the grid.
type OccupantKind uint8

const (
	OccupantCivilian OccupantKind = iota
	OccupantOfficer
)

type cell struct {
	civilians []uint64 // sorted ascending
	officers  []uint64 // sorted ascending
}

// Occupancy answers co-location and radius queries over the grid.
// Occupant lists are kept sorted by ID so that any selection made from them
// depends only on who is present, never on arrival order.
type Occupancy struct {
	grid     *Grid
	cells    []cell
	officers map[uint64]Coord
	placed   map[uint64]OccupantKind
}

// NewOccupancy creates an empty index over g.
func NewOccupancy(g *Grid) *Occupancy {
	return &Occupancy{
		grid:     g,
		cells:    make([]cell, g.PatchCount()),
		officers: make(map[uint64]Coord),
		placed:   make(map[uint64]OccupantKind),
	}
}

// Place inserts an occupant. Placing an ID twice or off-grid is a programming
// error and panics.
func (o *Occupancy) Place(kind OccupantKind, id uint64, c Coord) {
	if !o.grid.InBounds(c) {
		panic(fmt.Sprintf("occupancy: place %d at out-of-bounds %v", id, c))
	}
	if _, dup := o.placed[id]; dup {
		panic(fmt.Sprintf("occupancy: agent %d placed twice", id))
	}
	o.placed[id] = kind
	o.insert(kind, id, c)
}

// Remove deletes an occupant from c.
func (o *Occupancy) Remove(kind OccupantKind, id uint64, c Coord) {
	delete(o.placed, id)
	o.erase(kind, id, c)
}

// Move relocates an occupant. A no-op when from == to.
func (o *Occupancy) Move(kind OccupantKind, id uint64, from, to Coord) {
	if from == to {
		return
	}
	if !o.grid.InBounds(to) {
		panic(fmt.Sprintf("occupancy: move %d to out-of-bounds %v", id, to))
	}
	o.erase(kind, id, from)
	o.insert(kind, id, to)
}

func (o *Occupancy) insert(kind OccupantKind, id uint64, c Coord) {
	cl := &o.cells[o.grid.index(c)]
	if kind == OccupantOfficer {
		cl.officers = insertSorted(cl.officers, id)
		o.officers[id] = c
		return
	}
	cl.civilians = insertSorted(cl.civilians, id)
}

func (o *Occupancy) erase(kind OccupantKind, id uint64, c Coord) {
	if !o.grid.InBounds(c) {
		return
	}
	cl := &o.cells[o.grid.index(c)]
	if kind == OccupantOfficer {
		cl.officers = eraseSorted(cl.officers, id)
		delete(o.officers, id)
		return
	}
	cl.civilians = eraseSorted(cl.civilians, id)
}

// CiviliansAt returns the civilians on c, sorted by ID. Shared, read-only.
func (o *Occupancy) CiviliansAt(c Coord) []uint64 {
	if !o.grid.InBounds(c) {
		return nil
	}
	return o.cells[o.grid.index(c)].civilians
}

// OfficersAt returns the officers on c, sorted by ID. Shared, read-only.
func (o *Occupancy) OfficersAt(c Coord) []uint64 {
	if !o.grid.InBounds(c) {
		return nil
	}
	return o.cells[o.grid.index(c)].officers
}

// AnyOfficerWithin reports whether an officer stands within von Neumann
// radius r of c (inclusive).
func (o *Occupancy) AnyOfficerWithin(c Coord, r int) bool {
	for _, pos := range o.officers {
		if Manhattan(c, pos) <= r {
			return true
		}
	}
	return false
}

// Neighborhood returns the in-bounds cells within von Neumann radius r of c,
// ordered by x then y. The centre is included only when includeCenter is set.
func (g *Grid) Neighborhood(c Coord, r int, includeCenter bool) []Coord {
	out := make([]Coord, 0, 2*r*r+2*r+1)
	for dx := -r; dx <= r; dx++ {
		span := r - abs(dx)
		for dy := -span; dy <= span; dy++ {
			if dx == 0 && dy == 0 && !includeCenter {
				continue
			}
			n := Coord{X: c.X + dx, Y: c.Y + dy}
			if g.InBounds(n) {
				out = append(out, n)
			}
		}
	}
	return out
}

func insertSorted(ids []uint64, id uint64) []uint64 {
	i := sort.Search(len(ids), func(i int) bool { return ids[i] >= id })
	ids = append(ids, 0)
	copy(ids[i+1:], ids[i:])
	ids[i] = id
	return ids
}

func eraseSorted(ids []uint64, id uint64) []uint64 {
	i := sort.Search(len(ids), func(i int) bool { return ids[i] >= id })
	if i < len(ids) && ids[i] == id {
		return append(ids[:i], ids[i+1:]...)
	}
	return ids
}
