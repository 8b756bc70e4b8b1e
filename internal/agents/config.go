package agents

import (
	"errors"
	"fmt"
)

// Trait describes a truncated normal attribute distribution.
type Trait struct {
	Mean float64 `yaml:"mean" json:"mean"`
	SD   float64 `yaml:"sd" json:"sd"`
	Min  float64 `yaml:"min" json:"min"`
	Max  float64 `yaml:"max" json:"max"`
}

// EthnicMix holds the relative weights of each ethnicity in the population.
type EthnicMix struct {
	White float64 `yaml:"white" json:"white"`
	Other float64 `yaml:"other" json:"other"`
	Asian float64 `yaml:"asian" json:"asian"`
	Black float64 `yaml:"black" json:"black"`
}

// Weights returns the mix ordered like Ethnicities.
func (m EthnicMix) Weights() []float64 {
	return []float64{m.White, m.Other, m.Asian, m.Black}
}

// PopulationConfig controls initial population generation.
type PopulationConfig struct {
	Civilians     int     `yaml:"civilians" json:"civilians"`
	Officers      int     `yaml:"officers" json:"officers"`
	HotspotShare  float64 `yaml:"hotspot_share" json:"hotspot_share"` // Fraction of officers on hotspot patrol
	ActivityNodes int     `yaml:"activity_nodes" json:"activity_nodes"`

	OffenderShare float64 `yaml:"offender_share" json:"offender_share"`
	ChronicShare  float64 `yaml:"chronic_share" json:"chronic_share"` // Fraction of offenders that are chronic
	PropensityMin float64 `yaml:"propensity_min" json:"propensity_min"`
	PropensityMax float64 `yaml:"propensity_max" json:"propensity_max"`

	EthnicMix             EthnicMix `yaml:"ethnic_mix" json:"ethnic_mix"`
	Attractiveness        Trait     `yaml:"attractiveness" json:"attractiveness"`
	PerceivedGuardianship Trait     `yaml:"perceived_guardianship" json:"perceived_guardianship"`
	CapabilityMin         float64   `yaml:"capability_min" json:"capability_min"`
	CapabilityMax         float64   `yaml:"capability_max" json:"capability_max"`
}

// DefaultPopulationConfig returns the 300 civilian, 10 officer population.
// The ethnic mix follows the London 2020 population estimate.
func DefaultPopulationConfig() PopulationConfig {
	trait := Trait{Mean: 5.5, SD: 1.2, Min: 1, Max: 11}
	return PopulationConfig{
		Civilians:             300,
		Officers:              10,
		HotspotShare:          0.5,
		ActivityNodes:         4,
		OffenderShare:         0.05,
		ChronicShare:          0.10,
		PropensityMin:         6,
		PropensityMax:         9,
		EthnicMix:             EthnicMix{White: 44.9, Other: 23.3, Asian: 18.5, Black: 13.3},
		Attractiveness:        trait,
		PerceivedGuardianship: trait,
		CapabilityMin:         -5,
		CapabilityMax:         6,
	}
}

// Validate reports the first inconsistent population parameter.
func (cfg PopulationConfig) Validate() error {
	switch {
	case cfg.Civilians < 0 || cfg.Officers < 0:
		return fmt.Errorf("population counts must be non-negative, got %d civilians, %d officers", cfg.Civilians, cfg.Officers)
	case cfg.ActivityNodes < 1:
		return fmt.Errorf("each civilian needs at least one activity node, got %d", cfg.ActivityNodes)
	case !unit(cfg.HotspotShare) || !unit(cfg.OffenderShare) || !unit(cfg.ChronicShare):
		return errors.New("hotspot, offender and chronic shares must lie within [0,1]")
	case cfg.PropensityMin < PropensityFloor || cfg.PropensityMax >= ChronicPropensity || cfg.PropensityMin > cfg.PropensityMax:
		return fmt.Errorf("non-chronic propensity range [%v,%v] must lie within [%v,%v)", cfg.PropensityMin, cfg.PropensityMax, PropensityFloor, ChronicPropensity)
	case cfg.CapabilityMin > cfg.CapabilityMax:
		return fmt.Errorf("capability range [%v,%v] is empty", cfg.CapabilityMin, cfg.CapabilityMax)
	}
	for name, t := range map[string]Trait{"attractiveness": cfg.Attractiveness, "perceived_guardianship": cfg.PerceivedGuardianship} {
		if t.SD <= 0 || t.Min >= t.Max || t.Mean < t.Min || t.Mean > t.Max {
			return fmt.Errorf("%s distribution is degenerate: %+v", name, t)
		}
	}
	total := 0.0
	for _, w := range cfg.EthnicMix.Weights() {
		if w < 0 {
			return errors.New("ethnic mix weights must be non-negative")
		}
		total += w
	}
	if total <= 0 {
		return errors.New("ethnic mix weights sum to zero")
	}
	return nil
}

func unit(x float64) bool {
	return x >= 0 && x <= 1
}

// MovementConfig controls sub-step speed, routine choices and dwell times.
// Durations are in ticks.
type MovementConfig struct {
	MinSteps float64 `yaml:"min_steps" json:"min_steps"`
	MaxSteps float64 `yaml:"max_steps" json:"max_steps"`

	HomeReturnProbability float64 `yaml:"home_return_probability" json:"home_return_probability"`

	HomeDwellBase       int `yaml:"home_dwell_base" json:"home_dwell_base"`
	HomeDwellSpread     int `yaml:"home_dwell_spread" json:"home_dwell_spread"`
	ActivityDwellBase   int `yaml:"activity_dwell_base" json:"activity_dwell_base"`
	ActivityDwellSpread int `yaml:"activity_dwell_spread" json:"activity_dwell_spread"`
	SceneDwell          int `yaml:"scene_dwell" json:"scene_dwell"`

	TieBreak string `yaml:"tie_break" json:"tie_break"` // "first" or "weighted"
}

// DefaultMovementConfig returns the calibrated movement parameters.
func DefaultMovementConfig() MovementConfig {
	return MovementConfig{
		MinSteps:              6,
		MaxSteps:              9,
		HomeReturnProbability: 0.80,
		HomeDwellBase:         1,
		HomeDwellSpread:       600,
		ActivityDwellBase:     15,
		ActivityDwellSpread:   480,
		SceneDwell:            15,
		TieBreak:              "first",
	}
}

// Validate reports the first inconsistent movement parameter.
func (cfg MovementConfig) Validate() error {
	switch {
	case cfg.MinSteps <= 0 || cfg.MinSteps > cfg.MaxSteps:
		return fmt.Errorf("steps per tick range [%v,%v] is invalid", cfg.MinSteps, cfg.MaxSteps)
	case !unit(cfg.HomeReturnProbability):
		return fmt.Errorf("home return probability %v outside [0,1]", cfg.HomeReturnProbability)
	case cfg.HomeDwellBase < 0 || cfg.HomeDwellSpread < 0 || cfg.ActivityDwellBase < 0 || cfg.ActivityDwellSpread < 0:
		return errors.New("dwell times must be non-negative")
	case cfg.SceneDwell < 1:
		return fmt.Errorf("scene dwell must be at least one tick, got %d", cfg.SceneDwell)
	}
	_, err := ParseTieBreak(cfg.TieBreak)
	return err
}
