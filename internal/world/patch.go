package world

// PatchKind classifies a grid cell. It is fixed when the grid is created.
type PatchKind uint8

const (
	KindBuilding PatchKind = iota
	KindRoad
)

// String returns the portrayal class name of the kind.
func (k PatchKind) String() string {
	if k == KindRoad {
		return "road"
	}
	return "building"
}

// Lattice describes the periodic road layout: every EveryX-th column and
// every EveryY-th row is road, everything else is building.
type Lattice struct {
	EveryX int `yaml:"road_every_x" json:"road_every_x"`
	EveryY int `yaml:"road_every_y" json:"road_every_y"`
}

// KindAt derives the patch kind of a position from the lattice alone.
func (l Lattice) KindAt(c Coord) PatchKind {
	if c.X%l.EveryX == 0 || c.Y%l.EveryY == 0 {
		return KindRoad
	}
	return KindBuilding
}

// Patch is a single grid cell.
type Patch struct {
	Pos  Coord     `json:"pos"`
	Kind PatchKind `json:"kind"`
	Zone int       `json:"zone"` // Quadrant 1..4

	// Risk is the location's contribution to the offending score.
	// Sampled once at generation; only meaningful on road patches.
	Risk int `json:"risk"`

	// Incidents counts robberies recorded within the incident radius.
	// The only field mutated after generation.
	Incidents int `json:"incidents"`
}

// IsRoad reports whether the patch is walkable.
func (p *Patch) IsRoad() bool {
	return p.Kind == KindRoad
}
