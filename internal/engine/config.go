package engine

import (
	"errors"
	"fmt"

	"github.com/talgya/hotspot-sim/internal/agents"
	"github.com/talgya/hotspot-sim/internal/world"
)

// ErrInvalidConfig is wrapped by every configuration error returned from New
// and Restore.
var ErrInvalidConfig = errors.New("invalid simulation config")

// DefaultHorizon is one simulated month of 30 days.
const DefaultHorizon = 30 * TicksPerSimDay

// Config is everything needed to build a world.
type Config struct {
	Seed        uint64                  `yaml:"seed" json:"seed"`
	Horizon     uint64                  `yaml:"horizon" json:"horizon"` // Ticks to run before Running() turns false
	Grid        world.GenConfig         `yaml:"grid" json:"grid"`
	Population  agents.PopulationConfig `yaml:"population" json:"population"`
	Movement    agents.MovementConfig   `yaml:"movement" json:"movement"`
	Calibration Calibration             `yaml:"calibration" json:"calibration"`
}

// DefaultConfig returns the 100x103 city with 300 civilians and 10 officers,
// run for one month.
func DefaultConfig() Config {
	return Config{
		Seed:        1,
		Horizon:     DefaultHorizon,
		Grid:        world.DefaultGenConfig(),
		Population:  agents.DefaultPopulationConfig(),
		Movement:    agents.DefaultMovementConfig(),
		Calibration: DefaultCalibration(),
	}
}

// SmallTestConfig returns a crowded 25x25 world that produces robberies
// within a few thousand ticks.
func SmallTestConfig() Config {
	cfg := DefaultConfig()
	cfg.Horizon = 3000
	cfg.Grid = world.SmallTestConfig()
	cfg.Population.Civilians = 120
	cfg.Population.Officers = 2
	cfg.Population.OffenderShare = 0.3
	return cfg
}

// Validate checks every section and wraps the first failure in
// ErrInvalidConfig.
func (cfg Config) Validate() error {
	if cfg.Horizon == 0 {
		return fmt.Errorf("%w: horizon must be at least one tick", ErrInvalidConfig)
	}
	checks := []struct {
		section string
		err     error
	}{
		{"grid", cfg.Grid.Validate()},
		{"population", cfg.Population.Validate()},
		{"movement", cfg.Movement.Validate()},
		{"calibration", cfg.Calibration.Validate()},
	}
	for _, c := range checks {
		if c.err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, c.section, c.err)
		}
	}
	return nil
}

// StopSearchParams are the stop-and-search constants for one ethnicity.
type StopSearchParams struct {
	Bias      float64 `yaml:"bias" json:"bias"`           // Added to the suspect's attractiveness
	Threshold float64 `yaml:"threshold" json:"threshold"` // Minimum stop score that triggers a search
}

// Calibration holds the decision constants of the offending and policing
// models. The simulation keeps its own copy; it is never modified while
// running.
type Calibration struct {
	// RobberyThreshold is the minimum rational-choice score for a robbery.
	// The default yields roughly 40 robberies a month in the default city.
	RobberyThreshold float64 `yaml:"robbery_threshold" json:"robbery_threshold"`
	VisionRadius     int     `yaml:"vision_radius" json:"vision_radius"`     // Officer deterrence radius
	IncidentRadius   int     `yaml:"incident_radius" json:"incident_radius"` // Road patches credited with an incident
	CooldownMax      int     `yaml:"cooldown_max" json:"cooldown_max"`       // Upper bound of the re-offending cooldown

	// HotspotDepth is how many distinct nonzero incident counts officers
	// target, ties included. With counts {A:5, B:5, C:3, D:0} a depth of 1
	// targets A and B only; the default of 5 also takes in C.
	HotspotDepth int `yaml:"hotspot_depth" json:"hotspot_depth"`

	// StopSearch drives the racial disparity in stop rates, the central
	// research variable. Every ethnicity needs an entry.
	StopSearch map[agents.Ethnicity]StopSearchParams `yaml:"stop_search" json:"stop_search"`
}

// Stop thresholds. PublishedStopThreshold is the value the model was first
// described with; in the default city it produces about 250 stop-searches a
// month. DefaultStopThreshold keeps the same ethnic biases and brings the
// rate down to the observed target of about 22 a month.
const (
	PublishedStopThreshold = 11.234
	DefaultStopThreshold   = 12.83
)

// DefaultCalibration returns the calibration tuned to the observed monthly
// rates: about 40 robberies and 22 stop-searches in the default city.
func DefaultCalibration() Calibration {
	return Calibration{
		RobberyThreshold: 5,
		VisionRadius:     7,
		IncidentRadius:   2,
		CooldownMax:      30 * TicksPerSimDay,
		HotspotDepth:     5,
		StopSearch:       StopSearchAt(DefaultStopThreshold),
	}
}

// StopSearchAt returns the per-ethnicity stop parameters with the standard
// biases and a common threshold.
func StopSearchAt(threshold float64) map[agents.Ethnicity]StopSearchParams {
	return map[agents.Ethnicity]StopSearchParams{
		agents.EthnicityWhite: {Bias: 4, Threshold: threshold},
		agents.EthnicityOther: {Bias: 4.5, Threshold: threshold},
		agents.EthnicityAsian: {Bias: 4.5, Threshold: threshold},
		agents.EthnicityBlack: {Bias: 5.5, Threshold: threshold},
	}
}

// Validate reports the first unusable constant.
func (c Calibration) Validate() error {
	switch {
	case c.VisionRadius < 0 || c.IncidentRadius < 0:
		return fmt.Errorf("radii must be non-negative, got vision %d, incident %d", c.VisionRadius, c.IncidentRadius)
	case c.CooldownMax < 0:
		return fmt.Errorf("cooldown max must be non-negative, got %d", c.CooldownMax)
	case c.HotspotDepth < 1:
		return fmt.Errorf("hotspot depth must be at least 1, got %d", c.HotspotDepth)
	}
	for _, e := range agents.Ethnicities {
		if _, ok := c.StopSearch[e]; !ok {
			return fmt.Errorf("no stop-search parameters for ethnicity %s", e)
		}
	}
	return nil
}

// clone returns a copy that shares no map with c.
func (c Calibration) clone() Calibration {
	out := c
	out.StopSearch = make(map[agents.Ethnicity]StopSearchParams, len(c.StopSearch))
	for e, p := range c.StopSearch {
		out.StopSearch[e] = p
	}
	return out
}
