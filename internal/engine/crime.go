// Street robbery: rational-choice offending evaluation.
package engine

import (
	"fmt"
	"log/slog"

	"github.com/talgya/hotspot-sim/internal/agents"
)

// offend runs the single offending evaluation of a civilian's tick.
// The offender must be moving and off cooldown, and share its cell with at
// least one other civilian.
func (s *Simulation) offend(c *agents.Civilian) {
	if !c.IsOffender() || c.State != agents.StateMoving || c.Cooldown > 0 {
		return
	}
	here := s.occupancy.CiviliansAt(c.Pos)
	if len(here) < 2 {
		return
	}

	// Uniform over the others: draw an index into here minus the offender.
	k := s.rng.IntN(len(here) - 1)
	for _, id := range here {
		if agents.AgentID(id) == c.ID {
			continue
		}
		if k == 0 {
			s.attempt(c, s.civByID[agents.AgentID(id)], len(here))
			return
		}
		k--
	}
}

func (s *Simulation) attempt(offender, victim *agents.Civilian, colocated int) {
	if s.occupancy.AnyOfficerWithin(offender.Pos, s.cal.VisionRadius) {
		return
	}

	risk := 0
	if p := s.grid.At(offender.Pos); p.IsRoad() {
		risk = p.Risk
	}
	score := offendingScore(offender, victim, colocated, risk)
	if score < s.cal.RobberyThreshold {
		return
	}

	victim.VictimCount++
	offender.OffenceCount++
	s.totals.Victimisations++
	s.totals.RobberiesByZone[s.grid.ZoneOf(offender.Pos)-1]++

	for _, n := range s.grid.Neighborhood(offender.Pos, s.cal.IncidentRadius, true) {
		s.grid.RecordIncident(n)
	}
	if offender.HasCooldown() {
		offender.Cooldown = s.rng.IntN(s.cal.CooldownMax + 1)
	}

	slog.Debug("robbery", "tick", s.tick, "offender", offender.ID, "victim", victim.ID, "pos", offender.Pos, "score", score)
	s.emit(Event{
		Tick:        s.tick,
		Category:    CategoryRobbery,
		Description: fmt.Sprintf("civilian %d robbed civilian %d at %s", offender.ID, victim.ID, offender.Pos),
		Meta: map[string]any{
			"offender": offender.ID,
			"victim":   victim.ID,
			"x":        offender.Pos.X,
			"y":        offender.Pos.Y,
			"score":    score,
		},
	})
}

// offendingScore is the rational-choice score of a robbery. colocated counts
// every civilian on the cell, offender and victim included, so a lone pair
// adds no guardianship.
func offendingScore(offender, victim *agents.Civilian, colocated, risk int) float64 {
	guardianship := offender.PerceivedCapability + float64(colocated-2) + victim.PerceivedGuardianship
	return victim.Attractiveness - guardianship + offender.Propensity + float64(risk)
}
