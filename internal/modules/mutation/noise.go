package mutation

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/aristath/darwin/internal/modules/factor"
)

// NoiseModel draws a new parameter value around the current one. The
// result is always clamped to the parameter's declared range; integer
// parameters round before clamping.
type NoiseModel interface {
	Perturb(value float64, spec factor.ParamSpec, rng *rand.Rand) float64
}

// GaussianNoise perturbs parameters with a normal draw centered on the
// current value. Sigma scales with the declared range so wide parameters
// move proportionally further.
type GaussianNoise struct {
	// Scale is sigma as a fraction of the parameter range. Zero means 0.1.
	Scale float64
}

// Perturb implements NoiseModel.
func (g GaussianNoise) Perturb(value float64, spec factor.ParamSpec, rng *rand.Rand) float64 {
	scale := g.Scale
	if scale <= 0 {
		scale = 0.1
	}
	sigma := scale * (spec.Max - spec.Min)
	if sigma <= 0 {
		return spec.Clamp(value)
	}
	dist := distuv.Normal{
		Mu:    value,
		Sigma: sigma,
		Src:   rand.NewPCG(rng.Uint64(), rng.Uint64()),
	}
	return spec.Clamp(dist.Rand())
}

// UniformNoise resamples the parameter uniformly from its declared range,
// ignoring the current value. Useful for escaping local optima.
type UniformNoise struct{}

// Perturb implements NoiseModel.
func (UniformNoise) Perturb(_ float64, spec factor.ParamSpec, rng *rand.Rand) float64 {
	return spec.Clamp(spec.Min + rng.Float64()*(spec.Max-spec.Min))
}
