// Package world provides the street grid, patch state, and spatial queries.
// Positions are integer lattice coordinates; all distances are von Neumann
// (Manhattan) distances, never Euclidean.
package world

import "fmt"

// Coord is a cell position on the grid. X grows to the east, Y to the north.
type Coord struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// String renders the coordinate as "(x,y)".
func (c Coord) String() string {
	return fmt.Sprintf("(%d,%d)", c.X, c.Y)
}

// Add returns c shifted by d.
func (c Coord) Add(d Coord) Coord {
	return Coord{X: c.X + d.X, Y: c.Y + d.Y}
}

// Sub returns the signed offset c - d.
func (c Coord) Sub(d Coord) Coord {
	return Coord{X: c.X - d.X, Y: c.Y - d.Y}
}

// NeighborDirections defines the four von Neumann offsets in scan order:
// west, south, north, east. Movement relies on this order being stable.
var NeighborDirections = [4]Coord{
	{X: -1, Y: 0},
	{X: 0, Y: -1},
	{X: 0, Y: 1},
	{X: 1, Y: 0},
}

// Neighbors returns the four adjacent coordinates, including out-of-bounds ones.
func (c Coord) Neighbors() [4]Coord {
	var result [4]Coord
	for i, dir := range NeighborDirections {
		result[i] = c.Add(dir)
	}
	return result
}

// Manhattan returns the von Neumann distance between two coordinates.
func Manhattan(a, b Coord) int {
	return abs(a.X-b.X) + abs(a.Y-b.Y)
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
