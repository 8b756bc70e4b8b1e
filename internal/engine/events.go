package engine

import "sort"

// Event categories.
const (
	CategoryRobbery      = "robbery"
	CategoryStopSearch   = "stop_search"
	CategoryIntervention = "intervention"
)

// maxEvents bounds the in-memory event log.
const maxEvents = 1000

// Event is a notable occurrence in the world.
type Event struct {
	Tick        uint64         `json:"tick"`
	Description string         `json:"description"`
	Category    string         `json:"category"`
	Meta        map[string]any `json:"meta,omitempty"`
}

// emit appends to the event log, dropping the oldest half once it holds
// twice maxEvents.
func (s *Simulation) emit(e Event) {
	s.events = append(s.events, e)
	if len(s.events) > 2*maxEvents {
		s.events = append(s.events[:0], s.events[len(s.events)-maxEvents:]...)
	}
}

// RecentEvents returns up to n of the latest events, oldest first, optionally
// restricted to one category. The result is a copy.
func (s *Simulation) RecentEvents(n int, category string) []Event {
	if n <= 0 {
		return nil
	}
	out := make([]Event, 0, min(n, len(s.events)))
	for i := len(s.events) - 1; i >= 0 && len(out) < n; i-- {
		if category == "" || s.events[i].Category == category {
			out = append(out, s.events[i])
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// EventsSince returns a copy of the retained events stamped at or after
// tick, oldest first.
func (s *Simulation) EventsSince(tick uint64) []Event {
	i := sort.Search(len(s.events), func(i int) bool { return s.events[i].Tick >= tick })
	return append([]Event(nil), s.events[i:]...)
}
