// Package render draws the city grid and its agents as a PNG image.
package render

import (
	"fmt"
	"image"
	"io"

	"github.com/fogleman/gg"

	"github.com/talgya/hotspot-sim/internal/engine"
)

// Palette.
const (
	colorBuilding = "#D4AC0D"
	colorChronic  = "#FF0000"
	colorOffender = "#B12702"
	colorCivilian = "#C2654C"
	colorCop      = "#0000FF"
)

// roadColors is indexed by engine.IncidentLevel: darker roads have seen
// more robberies.
var roadColors = [...]string{"#CACFD2", "#839192", "#7F8C8D", "#34495E"}

// DefaultCellPx is the side of one patch in pixels.
const DefaultCellPx = 8

// Draw renders sim at cellPx pixels per patch. The caller must hold at least
// a read lock on sim. Row 0 is drawn at the bottom of the image.
func Draw(sim *engine.Simulation, cellPx int) (image.Image, error) {
	if cellPx < 1 {
		return nil, fmt.Errorf("cell size must be at least 1px, got %d", cellPx)
	}
	g := sim.Grid()
	dc := gg.NewContext(g.Width*cellPx, g.Height*cellPx)
	cell := float64(cellPx)
	origin := func(x, y int) (float64, float64) {
		return float64(x) * cell, float64(g.Height-1-y) * cell
	}

	// Portrayals list patches first, so agents land on top.
	for _, p := range sim.Portrayals() {
		px, py := origin(p.Pos.X, p.Pos.Y)
		switch p.Class {
		case engine.ClassBuilding:
			dc.SetHexColor(colorBuilding)
			dc.DrawRectangle(px, py, cell, cell)
		case engine.ClassRoad:
			dc.SetHexColor(roadColors[min(p.IncidentLevel, len(roadColors)-1)])
			dc.DrawRectangle(px, py, cell, cell)
		case engine.ClassCivilian:
			switch {
			case p.ChronicOffender:
				dc.SetHexColor(colorChronic)
			case p.Offender:
				dc.SetHexColor(colorOffender)
			default:
				dc.SetHexColor(colorCivilian)
			}
			dc.DrawCircle(px+cell/2, py+cell/2, cell/2)
		case engine.ClassCop:
			dc.SetHexColor(colorCop)
			dc.DrawCircle(px+cell/2, py+cell/2, cell/2)
		default:
			continue
		}
		dc.Fill()
	}
	return dc.Image(), nil
}

// PNG writes the rendering of sim to w.
func PNG(w io.Writer, sim *engine.Simulation, cellPx int) error {
	img, err := Draw(sim, cellPx)
	if err != nil {
		return err
	}
	return gg.NewContextForImage(img).EncodePNG(w)
}

// SavePNG writes the rendering of sim to a file.
func SavePNG(path string, sim *engine.Simulation, cellPx int) error {
	img, err := Draw(sim, cellPx)
	if err != nil {
		return err
	}
	return gg.SavePNG(path, img)
}
