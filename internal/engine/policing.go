// Policing: patrol targeting and stop-and-search.
package engine

import (
	"fmt"
	"log/slog"

	"github.com/talgya/hotspot-sim/internal/agents"
	"github.com/talgya/hotspot-sim/internal/world"
)

// PatrolTarget picks an officer's next destination. Hotspot officers choose
// uniformly among the current hotspot candidates; area officers, and hotspot
// officers before any incident exists, choose a random road of their zone.
func (s *Simulation) PatrolTarget(o *agents.Officer) world.Coord {
	if o.HotspotPatrol {
		if hot := s.grid.HotspotCandidates(s.cal.HotspotDepth); len(hot) > 0 {
			return hot[s.rng.IntN(len(hot))]
		}
	}
	roads := s.grid.RoadsInZone(o.PatrolZone)
	return roads[s.rng.IntN(len(roads))]
}

// stopSearch runs the single stop-and-search evaluation of an officer's tick,
// whatever its movement state.
func (s *Simulation) stopSearch(o *agents.Officer) {
	here := s.occupancy.CiviliansAt(o.Pos)
	if len(here) == 0 {
		return
	}
	suspect := s.civByID[agents.AgentID(here[s.rng.IntN(len(here))])]

	score, stop := s.cal.StopDecision(suspect)
	o.LastStopSearchScore = score
	if !stop {
		return
	}

	suspect.StopSearchCount++
	o.StopsMade++
	s.totals.StopSearches++
	s.totals.StopsByEthnicity[suspect.Ethnicity]++

	slog.Debug("stop and search", "tick", s.tick, "officer", o.ID, "suspect", suspect.ID, "ethnicity", suspect.Ethnicity, "score", score)
	s.emit(Event{
		Tick:        s.tick,
		Category:    CategoryStopSearch,
		Description: fmt.Sprintf("officer %d searched civilian %d at %s", o.ID, suspect.ID, o.Pos),
		Meta: map[string]any{
			"officer":   o.ID,
			"suspect":   suspect.ID,
			"ethnicity": suspect.Ethnicity.String(),
			"score":     score,
		},
	})
}

// StopDecision returns the stop score of a suspect and whether it reaches
// the threshold for the suspect's ethnicity.
func (c Calibration) StopDecision(suspect *agents.Civilian) (float64, bool) {
	p := c.StopSearch[suspect.Ethnicity]
	score := suspect.Attractiveness + p.Bias
	return score, score >= p.Threshold
}

// ReassignOfficer switches an officer between hotspot and area patrol. The
// officer finishes any scene it is attending and picks its next target under
// the new strategy once it reaches its current destination.
func (s *Simulation) ReassignOfficer(id agents.AgentID, hotspot bool, zone int) error {
	if zone < 1 || zone > world.NumZones {
		return fmt.Errorf("patrol zone %d outside 1..%d", zone, world.NumZones)
	}
	for _, o := range s.officers {
		if o.ID != id {
			continue
		}
		if o.State == agents.StateAtScene && !hotspot {
			o.State = agents.StateMoving
			o.SceneTimer = 0
		}
		o.HotspotPatrol = hotspot
		o.PatrolZone = zone

		strategy := "area"
		if hotspot {
			strategy = "hotspot"
		}
		s.emit(Event{
			Tick:        s.tick,
			Category:    CategoryIntervention,
			Description: fmt.Sprintf("officer %d reassigned to %s patrol in zone %d", id, strategy, zone),
			Meta:        map[string]any{"officer": id, "strategy": strategy, "zone": zone},
		})
		slog.Info("officer reassigned", "officer", id, "strategy", strategy, "zone", zone)
		return nil
	}
	return fmt.Errorf("officer %d not found", id)
}
