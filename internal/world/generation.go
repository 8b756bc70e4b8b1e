// Grid generation: road lattice, quadrant zones, and per-patch risk.
// Risk is drawn from a right-truncated Poisson distribution; an optional
// simplex noise layer clusters high-risk areas together.
package world

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	opensimplex "github.com/ojrac/opensimplex-go"
	"gonum.org/v1/gonum/stat/distuv"
)

// GenConfig holds grid generation parameters.
type GenConfig struct {
	Width   int     `yaml:"width" json:"width"`
	Height  int     `yaml:"height" json:"height"`
	Lattice Lattice `yaml:"lattice" json:"lattice"`

	RiskLambda float64 `yaml:"risk_lambda" json:"risk_lambda"` // Poisson mean of patch risk
	RiskMax    int     `yaml:"risk_max" json:"risk_max"`       // Right truncation point

	// RiskClustering in [0,1] scales the per-patch Poisson mean by a noise
	// field: lambda * (1 + clustering*(2n-1)). Zero keeps risk spatially iid.
	RiskClustering float64 `yaml:"risk_clustering" json:"risk_clustering"`
	NoiseScale     float64 `yaml:"noise_scale" json:"noise_scale"`
}

// DefaultGenConfig returns the 100x103 city used for calibration runs.
func DefaultGenConfig() GenConfig {
	return GenConfig{
		Width:      100,
		Height:     103,
		Lattice:    Lattice{EveryX: 3, EveryY: 6},
		RiskLambda: 0.19,
		RiskMax:    6,
		NoiseScale: 0.08,
	}
}

// SmallTestConfig returns a tiny city for rapid iteration.
func SmallTestConfig() GenConfig {
	cfg := DefaultGenConfig()
	cfg.Width = 25
	cfg.Height = 25
	return cfg
}

// Validate checks the parameters that do not need a generated grid.
func (cfg GenConfig) Validate() error {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return fmt.Errorf("grid dimensions must be positive, got %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.Lattice.EveryX <= 0 || cfg.Lattice.EveryY <= 0 {
		return fmt.Errorf("road lattice spacing must be positive, got %d/%d", cfg.Lattice.EveryX, cfg.Lattice.EveryY)
	}
	if cfg.RiskLambda < 0 {
		return fmt.Errorf("risk lambda must be non-negative, got %v", cfg.RiskLambda)
	}
	if cfg.RiskMax < 0 {
		return fmt.Errorf("risk max must be non-negative, got %d", cfg.RiskMax)
	}
	if cfg.RiskClustering < 0 || cfg.RiskClustering > 1 {
		return fmt.Errorf("risk clustering must be within [0,1], got %v", cfg.RiskClustering)
	}
	return nil
}

// Generate creates a complete grid with sampled risk. All draws come from rng.
func Generate(cfg GenConfig, rng *rand.Rand) (*Grid, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	g := NewGrid(cfg.Width, cfg.Height, cfg.Lattice)
	for zone := 1; zone <= NumZones; zone++ {
		if len(g.RoadsInZone(zone)) == 0 {
			return nil, fmt.Errorf("zone %d has no road patches", zone)
		}
	}
	if len(g.Buildings()) == 0 {
		return nil, errors.New("grid has no road-fronted building patches for homes and activity nodes")
	}

	var noise opensimplex.Noise
	if cfg.RiskClustering > 0 {
		noise = opensimplex.NewNormalized(rng.Int64())
	}

	for i := range g.patches {
		p := &g.patches[i]
		lambda := cfg.RiskLambda
		if noise != nil {
			n := noise.Eval2(float64(p.Pos.X)*cfg.NoiseScale, float64(p.Pos.Y)*cfg.NoiseScale)
			lambda *= 1 + cfg.RiskClustering*(2*n-1)
		}
		p.Risk = truncatedPoisson(lambda, cfg.RiskMax, rng)
	}

	return g, nil
}

// truncatedPoisson draws from Poisson(lambda) conditioned on the value not
// exceeding max. The truncated PMF is built explicitly so a mean far above
// max still samples in bounded time.
func truncatedPoisson(lambda float64, max int, rng *rand.Rand) int {
	if lambda <= 0 || max <= 0 {
		return 0
	}
	pois := distuv.Poisson{Lambda: lambda}
	logp := make([]float64, max+1)
	top := math.Inf(-1)
	for k := range logp {
		logp[k] = pois.LogProb(float64(k))
		top = math.Max(top, logp[k])
	}
	weights := make([]float64, len(logp))
	for k, lp := range logp {
		weights[k] = math.Exp(lp - top)
	}
	return int(distuv.NewCategorical(weights, rng).Rand())
}
