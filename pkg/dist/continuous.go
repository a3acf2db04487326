package dist

import (
	"math"
	"math/rand/v2"

	"github.com/matzehuels/modeldag/pkg/errors"
)

// Normal(mean, sd).
var Normal = register(&scalar{
	name:   "normal",
	params: []string{"mean", "sd"},
	check:  positive("sd", 1),
	lnProb: func(x float64, p []float64) float64 {
		z := (x - p[0]) / p[1]
		return -lnSqrt - math.Log(p[1]) - 0.5*z*z
	},
	sample: func(rng *rand.Rand, p []float64) float64 {
		return p[0] + p[1]*rng.NormFloat64()
	},
	support: fixed(Support{Lo: -inf, Hi: inf}),
})

// LogNormal(mu, sigma): exp of a normal variable.
var LogNormal = register(&scalar{
	name:   "lognormal",
	params: []string{"mu", "sigma"},
	check:  positive("sigma", 1),
	lnProb: func(x float64, p []float64) float64 {
		lx := math.Log(x)
		z := (lx - p[0]) / p[1]
		return -lx - lnSqrt - math.Log(p[1]) - 0.5*z*z
	},
	sample: func(rng *rand.Rand, p []float64) float64 {
		return math.Exp(p[0] + p[1]*rng.NormFloat64())
	},
	support: fixed(Support{Lo: math.SmallestNonzeroFloat64, Hi: inf}),
})

// Exponential(rate).
var Exponential = register(&scalar{
	name:   "exponential",
	params: []string{"rate"},
	check:  positive("rate", 0),
	lnProb: func(x float64, p []float64) float64 {
		return math.Log(p[0]) - p[0]*x
	},
	sample: func(rng *rand.Rand, p []float64) float64 {
		return rng.ExpFloat64() / p[0]
	},
	support: fixed(Support{Lo: 0, Hi: inf}),
})

// Gamma(shape, rate).
var Gamma = register(&scalar{
	name:   "gamma",
	params: []string{"shape", "rate"},
	check:  positive("shape and rate", 0, 1),
	lnProb: func(x float64, p []float64) float64 {
		a, b := p[0], p[1]
		lg, _ := math.Lgamma(a)
		return a*math.Log(b) - lg + (a-1)*math.Log(x) - b*x
	},
	sample: func(rng *rand.Rand, p []float64) float64 {
		return sampleGamma(rng, p[0]) / p[1]
	},
	support: fixed(Support{Lo: math.SmallestNonzeroFloat64, Hi: inf}),
})

// Beta(alpha, beta).
var Beta = register(&scalar{
	name:   "beta",
	params: []string{"alpha", "beta"},
	check:  positive("alpha and beta", 0, 1),
	lnProb: func(x float64, p []float64) float64 {
		a, b := p[0], p[1]
		la, _ := math.Lgamma(a)
		lb, _ := math.Lgamma(b)
		lab, _ := math.Lgamma(a + b)
		return lab - la - lb + (a-1)*math.Log(x) + (b-1)*math.Log1p(-x)
	},
	sample: func(rng *rand.Rand, p []float64) float64 {
		x := sampleGamma(rng, p[0])
		y := sampleGamma(rng, p[1])
		return x / (x + y)
	},
	support: fixed(Support{Lo: math.SmallestNonzeroFloat64, Hi: math.Nextafter(1, 0)}),
})

// Uniform(min, max).
var Uniform = register(&scalar{
	name:   "uniform",
	params: []string{"min", "max"},
	check: func(p []float64) error {
		if !(p[0] < p[1]) {
			return errors.New(errors.ErrCodeDomain, "uniform requires min < max, got [%g, %g]", p[0], p[1])
		}
		return nil
	},
	lnProb: func(_ float64, p []float64) float64 {
		return -math.Log(p[1] - p[0])
	},
	sample: func(rng *rand.Rand, p []float64) float64 {
		return p[0] + rng.Float64()*(p[1]-p[0])
	},
	support: func(p []float64) Support { return Support{Lo: p[0], Hi: p[1]} },
})

// sampleGamma draws from Gamma(shape, 1) with the Marsaglia-Tsang method.
func sampleGamma(rng *rand.Rand, shape float64) float64 {
	if shape < 1 {
		// Boost: Gamma(a) = Gamma(a+1) * U^(1/a).
		return sampleGamma(rng, shape+1) * math.Pow(rng.Float64(), 1/shape)
	}
	d := shape - 1.0/3
	c := 1 / math.Sqrt(9*d)
	for {
		x := rng.NormFloat64()
		v := 1 + c*x
		if v <= 0 {
			continue
		}
		v = v * v * v
		u := rng.Float64()
		if u < 1-0.0331*x*x*x*x {
			return d * v
		}
		if math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v
		}
	}
}
