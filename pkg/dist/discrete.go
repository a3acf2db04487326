package dist

import (
	"math"
	"math/rand/v2"

	"github.com/matzehuels/modeldag/pkg/errors"
)

// poissonChunk bounds the rate handled by one multiplication-method draw;
// larger rates are split, since a sum of independent Poisson draws is
// Poisson with the summed rate.
const poissonChunk = 30.0

// Poisson(rate).
var Poisson = register(&scalar{
	name:     "poisson",
	params:   []string{"rate"},
	discrete: true,
	check: func(p []float64) error {
		if p[0] < 0 || math.IsInf(p[0], 0) {
			return errors.New(errors.ErrCodeDomain, "poisson rate must be finite and non-negative, got %g", p[0])
		}
		return nil
	},
	lnProb: func(x float64, p []float64) float64 {
		if p[0] == 0 {
			if x == 0 {
				return 0
			}
			return math.Inf(-1)
		}
		lf, _ := math.Lgamma(x + 1)
		return x*math.Log(p[0]) - p[0] - lf
	},
	sample: func(rng *rand.Rand, p []float64) float64 {
		total := 0.0
		for rate := p[0]; rate > 0; rate -= poissonChunk {
			total += knuthPoisson(rng, math.Min(rate, poissonChunk))
		}
		return total
	},
	support: fixed(Support{Lo: 0, Hi: inf}),
})

// Bernoulli(p), with values 0 and 1.
var Bernoulli = register(&scalar{
	name:     "bernoulli",
	params:   []string{"p"},
	discrete: true,
	check: func(p []float64) error {
		if p[0] < 0 || p[0] > 1 {
			return errors.New(errors.ErrCodeDomain, "bernoulli p must lie in [0, 1], got %g", p[0])
		}
		return nil
	},
	lnProb: func(x float64, p []float64) float64 {
		if x == 1 {
			return math.Log(p[0])
		}
		return math.Log1p(-p[0])
	},
	sample: func(rng *rand.Rand, p []float64) float64 {
		if rng.Float64() < p[0] {
			return 1
		}
		return 0
	},
	support: fixed(Support{Lo: 0, Hi: 1}),
})

func knuthPoisson(rng *rand.Rand, rate float64) float64 {
	limit := math.Exp(-rate)
	k := 0.0
	prod := rng.Float64()
	for prod > limit {
		k++
		prod *= rng.Float64()
	}
	return k
}
