// Read-only snapshots for statistics, export and rendering.
package engine

import (
	"github.com/talgya/hotspot-sim/internal/agents"
	"github.com/talgya/hotspot-sim/internal/world"
)

// Stats is a point-in-time summary of the run.
type Stats struct {
	Tick    uint64 `json:"tick"`
	SimTime string `json:"sim_time"`
	Running bool   `json:"running"`

	Victimisations   int                      `json:"victimisations"`
	StopSearches     int                      `json:"stop_searches"`
	RobberiesByZone  map[int]int              `json:"robberies_by_zone"`
	StopsByEthnicity map[agents.Ethnicity]int `json:"stops_by_ethnicity"`

	HotspotCount        int `json:"hotspot_count"`
	TotalIncidents      int `json:"total_incidents"`
	Civilians           int `json:"civilians"`
	Offenders           int `json:"offenders"`
	ChronicOffenders    int `json:"chronic_offenders"`
	OffendersOnCooldown int `json:"offenders_on_cooldown"`
	CiviliansMoving     int `json:"civilians_moving"`
	Officers            int `json:"officers"`
	HotspotOfficers     int `json:"hotspot_officers"`
	OfficersAtScene     int `json:"officers_at_scene"`
}

// Stats computes the current summary.
func (s *Simulation) Stats() Stats {
	st := Stats{
		Tick:             s.tick,
		SimTime:          SimTime(s.tick),
		Running:          s.running,
		Victimisations:   s.totals.Victimisations,
		StopSearches:     s.totals.StopSearches,
		RobberiesByZone:  make(map[int]int, world.NumZones),
		StopsByEthnicity: make(map[agents.Ethnicity]int, agents.NumEthnicities),
		HotspotCount:     s.grid.HotspotCount(),
		TotalIncidents:   s.grid.TotalIncidents(),
		Civilians:        len(s.civilians),
		Officers:         len(s.officers),
	}
	for z, n := range s.totals.RobberiesByZone {
		st.RobberiesByZone[z+1] = n
	}
	for _, e := range agents.Ethnicities {
		st.StopsByEthnicity[e] = s.totals.StopsByEthnicity[e]
	}

	for _, c := range s.civilians {
		if c.IsOffender() {
			st.Offenders++
		}
		if c.Chronic {
			st.ChronicOffenders++
		}
		if c.Cooldown > 0 {
			st.OffendersOnCooldown++
		}
		if c.State == agents.StateMoving {
			st.CiviliansMoving++
		}
	}
	for _, o := range s.officers {
		if o.HotspotPatrol {
			st.HotspotOfficers++
		}
		if o.State == agents.StateAtScene {
			st.OfficersAtScene++
		}
	}
	return st
}

// AgentRecord is the exported view of one civilian.
type AgentRecord struct {
	ID              agents.AgentID   `json:"id" db:"agent_id"`
	Ethnicity       agents.Ethnicity `json:"ethnicity" db:"ethnicity"`
	Zone            int              `json:"zone" db:"zone"`
	VictimCount     int              `json:"victim_count" db:"victim_count"`
	StopSearchCount int              `json:"stop_search_count" db:"stop_search_count"`
	OffenceCount    int              `json:"offence_count" db:"offence_count"`
	Offender        bool             `json:"offender" db:"offender"`
	Chronic         bool             `json:"chronic" db:"chronic"`
}

// AgentRecords returns one record per civilian in ID order.
func (s *Simulation) AgentRecords() []AgentRecord {
	out := make([]AgentRecord, 0, len(s.civilians))
	for _, c := range s.civilians {
		out = append(out, AgentRecord{
			ID:              c.ID,
			Ethnicity:       c.Ethnicity,
			Zone:            c.Zone,
			VictimCount:     c.VictimCount,
			StopSearchCount: c.StopSearchCount,
			OffenceCount:    c.OffenceCount,
			Offender:        c.IsOffender(),
			Chronic:         c.Chronic,
		})
	}
	return out
}

// OfficerRecord is the exported view of one officer.
type OfficerRecord struct {
	ID                  agents.AgentID `json:"id"`
	HotspotPatrol       bool           `json:"hotspot_patrol"`
	PatrolZone          int            `json:"patrol_zone"`
	Pos                 world.Coord    `json:"pos"`
	Destination         world.Coord    `json:"destination"`
	State               string         `json:"state"`
	ScenesVisited       int            `json:"scenes_visited"`
	StopsMade           int            `json:"stops_made"`
	LastStopSearchScore float64        `json:"last_stop_search_score"`
}

// OfficerRecords returns one record per officer in ID order.
func (s *Simulation) OfficerRecords() []OfficerRecord {
	out := make([]OfficerRecord, 0, len(s.officers))
	for _, o := range s.officers {
		out = append(out, OfficerRecord{
			ID:                  o.ID,
			HotspotPatrol:       o.HotspotPatrol,
			PatrolZone:          o.PatrolZone,
			Pos:                 o.Pos,
			Destination:         o.Destination,
			State:               o.State.String(),
			ScenesVisited:       o.ScenesVisited,
			StopsMade:           o.StopsMade,
			LastStopSearchScore: o.LastStopSearchScore,
		})
	}
	return out
}

// PatchRecord is a road patch that has seen at least one incident.
type PatchRecord struct {
	X         int `json:"x" db:"x"`
	Y         int `json:"y" db:"y"`
	Zone      int `json:"zone" db:"zone"`
	Risk      int `json:"risk" db:"risk"`
	Incidents int `json:"incidents" db:"incidents"`
}

// IncidentPatches returns every patch with a nonzero incident count in
// row-major order.
func (s *Simulation) IncidentPatches() []PatchRecord {
	var out []PatchRecord
	for _, p := range s.grid.Patches() {
		if p.Incidents > 0 {
			out = append(out, PatchRecord{X: p.Pos.X, Y: p.Pos.Y, Zone: p.Zone, Risk: p.Risk, Incidents: p.Incidents})
		}
	}
	return out
}

// Hotspots returns the patches officers currently target.
func (s *Simulation) Hotspots() []PatchRecord {
	hot := s.grid.HotspotCandidates(s.cal.HotspotDepth)
	out := make([]PatchRecord, 0, len(hot))
	for _, c := range hot {
		p := s.grid.At(c)
		out = append(out, PatchRecord{X: c.X, Y: c.Y, Zone: p.Zone, Risk: p.Risk, Incidents: p.Incidents})
	}
	return out
}

// IncidentLevel buckets an incident count for display: 0, 1–2, 3–4 and 5+.
func IncidentLevel(incidents int) int {
	switch {
	case incidents <= 0:
		return 0
	case incidents <= 2:
		return 1
	case incidents <= 4:
		return 2
	default:
		return 3
	}
}

// PatchView is what a renderer needs to know about one patch.
type PatchView struct {
	Pos           world.Coord `json:"pos"`
	Kind          string      `json:"kind"`
	Zone          int         `json:"zone"`
	Risk          int         `json:"risk"`
	Incidents     int         `json:"incidents"`
	IncidentLevel int         `json:"incident_level"`
	Civilians     int         `json:"civilians"`
	Officers      int         `json:"officers"`
}

// PatchView describes the patch at c. The second result is false when c is
// off the grid.
func (s *Simulation) PatchView(c world.Coord) (PatchView, bool) {
	p := s.grid.At(c)
	if p == nil {
		return PatchView{}, false
	}
	return PatchView{
		Pos:           c,
		Kind:          p.Kind.String(),
		Zone:          p.Zone,
		Risk:          p.Risk,
		Incidents:     p.Incidents,
		IncidentLevel: IncidentLevel(p.Incidents),
		Civilians:     len(s.occupancy.CiviliansAt(c)),
		Officers:      len(s.occupancy.OfficersAt(c)),
	}, true
}

// Portrayal classes.
const (
	ClassRoad     = "road"
	ClassBuilding = "building"
	ClassCivilian = "civilian"
	ClassCop      = "cop"
)

// Portrayal is one drawable item: a patch or an agent.
type Portrayal struct {
	Class         string         `json:"class"`
	Pos           world.Coord    `json:"pos"`
	AgentID       agents.AgentID `json:"agent_id,omitempty"`
	IncidentLevel int            `json:"incident_level,omitempty"`

	ChronicOffender bool `json:"chronic_offender,omitempty"`
	Offender        bool `json:"offender,omitempty"`
	HotspotPatrol   bool `json:"hotspot_patrol,omitempty"`
}

// Portrayals lists every patch in row-major order, then civilians, then
// officers, so agents draw over the patch they stand on.
func (s *Simulation) Portrayals() []Portrayal {
	out := make([]Portrayal, 0, s.grid.PatchCount()+len(s.civilians)+len(s.officers))
	for _, p := range s.grid.Patches() {
		class := ClassBuilding
		if p.IsRoad() {
			class = ClassRoad
		}
		out = append(out, Portrayal{Class: class, Pos: p.Pos, IncidentLevel: IncidentLevel(p.Incidents)})
	}
	for _, c := range s.civilians {
		out = append(out, Portrayal{
			Class:           ClassCivilian,
			Pos:             c.Pos,
			AgentID:         c.ID,
			ChronicOffender: c.Chronic,
			Offender:        c.IsOffender(),
		})
	}
	for _, o := range s.officers {
		out = append(out, Portrayal{Class: ClassCop, Pos: o.Pos, AgentID: o.ID, HotspotPatrol: o.HotspotPatrol})
	}
	return out
}
