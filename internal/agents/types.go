// Package agents provides the civilian and officer data model, population
// spawning, and the per-agent movement state machines.
package agents

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/talgya/hotspot-sim/internal/world"
)

// AgentID is a unique identifier shared by civilians and officers.
type AgentID uint64

// Ethnicity is the self-defined ethnic group of a civilian. It only affects
// stop-and-search decisions.
type Ethnicity uint8

const (
	EthnicityWhite Ethnicity = iota
	EthnicityOther
	EthnicityAsian
	EthnicityBlack
)

// NumEthnicities is the number of ethnicity categories.
const NumEthnicities = 4

// Ethnicities lists every category in declaration order.
var Ethnicities = [NumEthnicities]Ethnicity{EthnicityWhite, EthnicityOther, EthnicityAsian, EthnicityBlack}

var ethnicityNames = [NumEthnicities]string{"white", "other", "asian", "black"}

func (e Ethnicity) String() string {
	if int(e) < len(ethnicityNames) {
		return ethnicityNames[e]
	}
	return fmt.Sprintf("ethnicity(%d)", uint8(e))
}

// ParseEthnicity maps a lower-case name back to its category.
func ParseEthnicity(s string) (Ethnicity, error) {
	for i, name := range ethnicityNames {
		if strings.EqualFold(s, name) {
			return Ethnicity(i), nil
		}
	}
	return 0, fmt.Errorf("unknown ethnicity %q", s)
}

// MarshalText lets ethnicities be used as JSON object keys.
func (e Ethnicity) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// UnmarshalText parses a name written by MarshalText.
func (e *Ethnicity) UnmarshalText(b []byte) error {
	v, err := ParseEthnicity(string(b))
	if err != nil {
		return err
	}
	*e = v
	return nil
}

// Value stores ethnicities by name.
func (e Ethnicity) Value() (driver.Value, error) {
	return e.String(), nil
}

// Scan reads a name stored by Value.
func (e *Ethnicity) Scan(src any) error {
	switch v := src.(type) {
	case string:
		return e.UnmarshalText([]byte(v))
	case []byte:
		return e.UnmarshalText(v)
	}
	return fmt.Errorf("cannot scan %T into Ethnicity", src)
}

// MovementState is the position of an agent in its movement lifecycle.
// Civilians cycle Moving → Arrived → Waiting; officers use Moving, Arrived
// and AtScene.
type MovementState uint8

const (
	StateMoving MovementState = iota
	StateArrived
	StateWaiting
	StateAtScene
)

var stateNames = [...]string{"moving", "arrived", "waiting", "at_scene"}

func (s MovementState) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Motion is the movement state shared by both agent kinds.
type Motion struct {
	Pos          world.Coord   `json:"pos"`
	Prev         world.Coord   `json:"prev"`
	Destination  world.Coord   `json:"destination"`
	State        MovementState `json:"state"`
	StepsPerTick float64       `json:"steps_per_tick"` // Sampled once; may be fractional
}

// SubSteps returns how many movement sub-steps fit in one tick: a fractional
// allowance still earns a final step.
func (m *Motion) SubSteps() int {
	return int(math.Ceil(m.StepsPerTick))
}

// Propensity bounds. Non-chronic offenders draw from [PropensityFloor, 9];
// chronic offenders sit at ChronicPropensity.
const (
	PropensityFloor   = 6.0
	ChronicPropensity = 10.0
)

// Civilian is a member of the general population: a potential victim and,
// with nonzero propensity, a potential offender.
type Civilian struct {
	ID AgentID `json:"id"`
	Motion

	Home          world.Coord   `json:"home"`
	ActivityNodes []world.Coord `json:"activity_nodes"` // Immutable after spawn
	DwellTimer    int           `json:"dwell_timer"`
	Zone          int           `json:"zone"`

	// Offending
	Propensity float64 `json:"propensity"` // 0, [6,9], or 10
	Chronic    bool    `json:"chronic"`
	Cooldown   int     `json:"cooldown"` // Ticks before a non-chronic offender may offend again

	// Victimisation and enforcement outcomes
	VictimCount     int `json:"victim_count"`
	StopSearchCount int `json:"stop_search_count"`
	OffenceCount    int `json:"offence_count"`

	Ethnicity             Ethnicity `json:"ethnicity"`
	Attractiveness        float64   `json:"attractiveness"`
	PerceivedGuardianship float64   `json:"perceived_guardianship"`
	PerceivedCapability   float64   `json:"perceived_capability"`
}

// IsOffender returns true if the civilian may attempt robberies at all.
func (c *Civilian) IsOffender() bool {
	return c.Propensity > 0
}

// HasCooldown returns true for offenders whose opportunities are rationed by
// a re-offending cooldown. Chronic offenders are never rationed.
func (c *Civilian) HasCooldown() bool {
	return c.Propensity > 0 && c.Propensity < ChronicPropensity
}

// Validate checks the propensity and state invariants.
func (c *Civilian) Validate() error {
	switch {
	case c.Propensity != 0 && (c.Propensity < PropensityFloor || c.Propensity > ChronicPropensity):
		return fmt.Errorf("civilian %d: propensity %v outside {0} ∪ [%v,%v]", c.ID, c.Propensity, PropensityFloor, ChronicPropensity)
	case c.Chronic && c.Propensity != ChronicPropensity:
		return fmt.Errorf("civilian %d: chronic offender with propensity %v", c.ID, c.Propensity)
	case c.State != StateMoving && c.State != StateArrived && c.State != StateWaiting:
		return fmt.Errorf("civilian %d: invalid movement state %v", c.ID, c.State)
	case len(c.ActivityNodes) == 0:
		return fmt.Errorf("civilian %d: no activity nodes", c.ID)
	}
	return nil
}

// Officer is a police agent patrolling either an assigned zone or the
// city's crime hotspots.
type Officer struct {
	ID AgentID `json:"id"`
	Motion

	PatrolNode    world.Coord `json:"patrol_node"` // Starting road patch
	HotspotPatrol bool        `json:"hotspot_patrol"`
	PatrolZone    int         `json:"patrol_zone"` // Area patrol zone; fallback for hotspot patrol
	SceneTimer    int         `json:"scene_timer"`

	ScenesVisited       int     `json:"scenes_visited"`
	StopsMade           int     `json:"stops_made"`
	LastStopSearchScore float64 `json:"last_stop_search_score"`
}

var errAtSceneArea = errors.New("area patrol officer at scene")

// Validate checks the officer state invariants.
func (o *Officer) Validate() error {
	switch {
	case o.State != StateMoving && o.State != StateArrived && o.State != StateAtScene:
		return fmt.Errorf("officer %d: invalid movement state %v", o.ID, o.State)
	case o.State == StateAtScene && !o.HotspotPatrol:
		return fmt.Errorf("officer %d: %w", o.ID, errAtSceneArea)
	case o.PatrolZone < 1 || o.PatrolZone > world.NumZones:
		return fmt.Errorf("officer %d: patrol zone %d outside 1..%d", o.ID, o.PatrolZone, world.NumZones)
	}
	return nil
}
