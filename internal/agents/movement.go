// Movement: the greedy directional heuristic shared by civilians and officers.
// It is a local rule, not a shortest-path search: each sub-step looks only at
// the four adjacent cells.
package agents

import (
	"fmt"
	"math/rand/v2"

	"github.com/talgya/hotspot-sim/internal/world"
)

// TieBreak selects how the mover chooses among several distance-reducing cells.
type TieBreak uint8

const (
	// TieBreakFirst always takes the first toward-cell in scan order. Canonical.
	TieBreakFirst TieBreak = iota
	// TieBreakWeighted is the early stochastic variant: usually a random
	// toward-cell, sometimes the one advancing the dominant axis, and
	// occasionally a deliberate detour away from the destination.
	TieBreakWeighted
)

// ParseTieBreak maps a config value to a TieBreak.
func ParseTieBreak(s string) (TieBreak, error) {
	switch s {
	case "", "first":
		return TieBreakFirst, nil
	case "weighted":
		return TieBreakWeighted, nil
	}
	return 0, fmt.Errorf("unknown tie break %q (want first or weighted)", s)
}

// Mover advances agents across the grid.
type Mover struct {
	Grid     *world.Grid
	TieBreak TieBreak
	RNG      *rand.Rand // Only drawn from by TieBreakWeighted
}

// Advance moves m by at most one cell toward dest and returns the new
// position. Prev always becomes the position held before the call. When no
// walkable cell is available the agent stays where it is.
func (mv Mover) Advance(m *Motion, dest world.Coord) world.Coord {
	next := mv.choose(m, dest)
	m.Prev = m.Pos
	m.Pos = next
	return next
}

func (mv Mover) choose(m *Motion, dest world.Coord) world.Coord {
	var toward, away []world.Coord
	offset := dest.Sub(m.Pos)

	for _, n := range m.Pos.Neighbors() {
		if n == dest && mv.Grid.InBounds(n) {
			// The destination itself is always enterable, building or not.
			return n
		}
		if !mv.Grid.IsRoad(n) || n == m.Prev {
			continue
		}
		next := dest.Sub(n)
		if absInt(next.X) < absInt(offset.X) || absInt(next.Y) < absInt(offset.Y) {
			toward = append(toward, n)
		} else {
			away = append(away, n)
		}
	}

	if mv.TieBreak == TieBreakWeighted {
		return mv.chooseWeighted(m.Pos, offset, toward, away)
	}

	switch {
	case len(toward) > 0:
		return toward[0]
	case len(away) > 0:
		return away[0]
	default:
		return m.Pos
	}
}

// chooseWeighted reproduces the early stochastic tie-break with percentages
// expressed on the same 0..100 scale it used.
func (mv Mover) chooseWeighted(pos, offset world.Coord, toward, away []world.Coord) world.Coord {
	if mv.RNG.IntN(101) <= 98 && len(toward) > 0 {
		if len(toward) == 1 {
			return toward[0]
		}
		best, found := world.Coord{}, false
		for _, c := range toward {
			switch {
			case absInt(offset.X) >= absInt(offset.Y) && c.X != pos.X:
				best, found = c, true
			case absInt(offset.X) <= absInt(offset.Y) && c.Y != pos.Y:
				best, found = c, true
			}
		}
		if mv.RNG.IntN(101) > 80 && found {
			return best
		}
		return toward[mv.RNG.IntN(len(toward))]
	}
	if len(away) > 0 {
		return away[0]
	}
	return pos
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
