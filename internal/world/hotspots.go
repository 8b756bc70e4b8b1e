package world

import "sort"

// HotspotCandidates returns the road patches whose incident count equals one
// of the top depth distinct nonzero counts, in row-major order. Ties are kept:
// depth limits distinct values, not patches. Returns nil when no incident has
// been recorded yet.
//
// The result is cached until the next incident is recorded and is shared
// between callers, who must not modify it. Concurrent calls are safe as long
// as no incident is being recorded at the same time.
func (g *Grid) HotspotCandidates(depth int) []Coord {
	h := &g.hot
	if depth <= 0 || len(h.members) == 0 {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.dirty && h.cacheDepth == depth && h.cache != nil {
		return h.cache
	}

	distinct := make([]int, 0, len(h.members))
	seen := make(map[int]struct{}, len(h.members))
	for _, idx := range h.members {
		n := g.patches[idx].Incidents
		if n <= 0 {
			continue
		}
		if _, ok := seen[n]; !ok {
			seen[n] = struct{}{}
			distinct = append(distinct, n)
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(distinct)))
	if len(distinct) > depth {
		distinct = distinct[:depth]
	}
	top := make(map[int]struct{}, len(distinct))
	for _, n := range distinct {
		top[n] = struct{}{}
	}

	var out []Coord
	for _, idx := range h.members {
		if _, ok := top[g.patches[idx].Incidents]; ok {
			out = append(out, g.patches[idx].Pos)
		}
	}

	h.cache = out
	h.cacheDepth = depth
	h.dirty = false
	return out
}

// HotspotCount returns the number of road patches with at least one incident.
func (g *Grid) HotspotCount() int {
	n := 0
	for _, idx := range g.hot.members {
		if g.patches[idx].Incidents > 0 {
			n++
		}
	}
	return n
}
