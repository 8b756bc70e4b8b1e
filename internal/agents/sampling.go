package agents

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// truncatedNormal draws from N(mean, sd) conditioned on [min, max] by
// inverting the CDF over the truncated range. When the range holds no
// representable mass the bound nearer the mean is returned.
func truncatedNormal(rng *rand.Rand, t Trait) float64 {
	if t.SD <= 0 {
		return clamp(t.Mean, t.Min, t.Max)
	}
	dist := distuv.Normal{Mu: t.Mean, Sigma: t.SD}
	lo, hi := dist.CDF(t.Min), dist.CDF(t.Max)
	if !(hi > lo) {
		if math.Abs(t.Mean-t.Min) < math.Abs(t.Mean-t.Max) {
			return t.Min
		}
		return t.Max
	}
	return clamp(dist.Quantile(lo+rng.Float64()*(hi-lo)), t.Min, t.Max)
}

func clamp(v, min, max float64) float64 {
	return math.Max(min, math.Min(max, v))
}

func uniform(rng *rand.Rand, min, max float64) float64 {
	if min == max {
		return min
	}
	return distuv.Uniform{Min: min, Max: max, Src: rng}.Rand()
}

// dwell returns base + floor(U(0, spread)).
func dwell(rng *rand.Rand, base, spread int) int {
	if spread <= 0 {
		return base
	}
	return base + int(rng.Float64()*float64(spread))
}
