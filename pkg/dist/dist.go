// Package dist provides the probability distributions used by stochastic
// nodes.
//
// Every distribution takes numeric parameters and produces numeric values.
// Invalid parameters (a non-positive standard deviation, a negative rate)
// are domain errors; values outside the support have log-probability -Inf
// rather than an error, so that a proposal stepping out of the support is
// simply rejected.
//
// Sampling takes an explicit *rand.Rand owned by the caller; nothing in
// this package touches a global random source.
package dist

import (
	"math"
	"math/rand/v2"
	"slices"
	"sort"

	"github.com/zclconf/go-cty/cty"

	"github.com/matzehuels/modeldag/pkg/dag"
	"github.com/matzehuels/modeldag/pkg/errors"
)

// Support describes the values a distribution can produce for given
// parameters.
type Support struct {
	Lo, Hi   float64
	Discrete bool
}

// Contains reports whether x lies in the support.
func (s Support) Contains(x float64) bool {
	if x < s.Lo || x > s.Hi {
		return false
	}
	return !s.Discrete || x == math.Trunc(x)
}

// Distribution is a [dag.Distribution] that also names its parameters and
// reports its support, which inference moves use to stay in bounds.
type Distribution interface {
	dag.Distribution
	ParamNames() []string
	Support(params []cty.Value) (Support, error)
}

var registry = map[string]Distribution{}

func register(d Distribution) Distribution {
	registry[d.Name()] = d
	return d
}

// Lookup returns the distribution registered under name.
func Lookup(name string) (Distribution, bool) {
	d, ok := registry[name]
	return d, ok
}

// Names returns the registered distribution names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// scalar is the shared skeleton of the numeric distributions in this
// package. The function fields receive parameters already converted to
// float64.
type scalar struct {
	name     string
	params   []string
	check    func(p []float64) error
	lnProb   func(x float64, p []float64) float64
	sample   func(rng *rand.Rand, p []float64) float64
	support  func(p []float64) Support
	discrete bool
}

func (d *scalar) Name() string         { return d.name }
func (d *scalar) ParamNames() []string { return slices.Clone(d.params) }
func (d *scalar) ValueType() cty.Type  { return cty.Number }

func (d *scalar) ParamTypes() []cty.Type {
	types := make([]cty.Type, len(d.params))
	for i := range types {
		types[i] = cty.Number
	}
	return types
}

func (d *scalar) floats(params []cty.Value) ([]float64, error) {
	if len(params) != len(d.params) {
		return nil, errors.New(errors.ErrCodeTypeMismatch, "%s takes %d parameters, got %d", d.name, len(d.params), len(params))
	}
	p := make([]float64, len(params))
	for i, v := range params {
		f, err := dag.AsFloat(v)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeTypeMismatch, err, "%s parameter %s", d.name, d.params[i])
		}
		if math.IsNaN(f) {
			return nil, errors.New(errors.ErrCodeDomain, "%s parameter %s is NaN", d.name, d.params[i])
		}
		p[i] = f
	}
	if err := d.check(p); err != nil {
		return nil, err
	}
	return p, nil
}

// LnProb returns the log-density (or log-mass) of x.
func (d *scalar) LnProb(x cty.Value, params []cty.Value) (float64, error) {
	p, err := d.floats(params)
	if err != nil {
		return 0, err
	}
	xf, err := dag.AsFloat(x)
	if err != nil {
		return 0, err
	}
	if !d.bounds(p).Contains(xf) {
		return math.Inf(-1), nil
	}
	return d.lnProb(xf, p), nil
}

// bounds returns the support for already checked parameters.
func (d *scalar) bounds(p []float64) Support {
	s := d.support(p)
	s.Discrete = d.discrete
	return s
}

// Sample draws a value using rng.
func (d *scalar) Sample(rng *rand.Rand, params []cty.Value) (cty.Value, error) {
	p, err := d.floats(params)
	if err != nil {
		return cty.NilVal, err
	}
	x := d.sample(rng, p)
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return cty.NilVal, errors.New(errors.ErrCodeDomain, "%s produced a non-finite sample", d.name)
	}
	if d.discrete {
		return cty.NumberIntVal(int64(x)), nil
	}
	return cty.NumberFloatVal(x), nil
}

// Support reports the support for the given parameters.
func (d *scalar) Support(params []cty.Value) (Support, error) {
	p, err := d.floats(params)
	if err != nil {
		return Support{}, err
	}
	return d.bounds(p), nil
}

func positive(name string, idx ...int) func(p []float64) error {
	return func(p []float64) error {
		for _, i := range idx {
			if p[i] <= 0 {
				return errors.New(errors.ErrCodeDomain, "%s must be positive, got %g", name, p[i])
			}
		}
		return nil
	}
}

func fixed(s Support) func([]float64) Support {
	return func([]float64) Support { return s }
}

var (
	inf    = math.Inf(1)
	lnSqrt = 0.5 * math.Log(2*math.Pi)
)
