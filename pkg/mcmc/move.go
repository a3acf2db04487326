package mcmc

import (
	"math"
	"math/rand/v2"

	"github.com/zclconf/go-cty/cty"

	"github.com/matzehuels/modeldag/pkg/dag"
	"github.com/matzehuels/modeldag/pkg/dist"
	"github.com/matzehuels/modeldag/pkg/errors"
)

// Move proposes a new value for one or more random variables.
//
// Propose is called outside of any transaction. It changes the values of
// its targets through the graph (which touches them) and returns the log
// Hastings ratio ln q(x|x') - ln q(x'|x). It must not keep or restore;
// the sampler decides. A proposal that cannot be made at the current
// state returns a retryable error (see [errors.Retryable]) and is counted
// as rejected.
type Move interface {
	Name() string
	Targets() []dag.Handle
	Propose(g *dag.Graph, rng *rand.Rand) (float64, error)
}

// scalar reads the current value of a numeric stochastic node and the
// support of its distribution at the current parameters.
func scalar(g *dag.Graph, h dag.Handle) (float64, dist.Support, error) {
	v, err := g.Value(h)
	if err != nil {
		return 0, dist.Support{}, err
	}
	x, err := dag.AsFloat(v)
	if err != nil {
		return 0, dist.Support{}, err
	}
	support := dist.Support{Lo: math.Inf(-1), Hi: math.Inf(1)}
	d, err := g.Distribution(h)
	if err != nil {
		return 0, dist.Support{}, err
	}
	if sd, ok := d.(dist.Distribution); ok {
		params, err := g.Params(h)
		if err != nil {
			return 0, dist.Support{}, err
		}
		if support, err = sd.Support(params); err != nil {
			return 0, dist.Support{}, err
		}
	}
	return x, support, nil
}

func checkTarget(g *dag.Graph, h dag.Handle, move string) error {
	kind, ok := g.Kind(h)
	if !ok {
		return errors.Wrap(errors.ErrCodeNotFound, dag.ErrUnknownNode, "%s", move)
	}
	if kind != dag.KindStochastic {
		return errors.Wrap(errors.ErrCodeInvalidOperation, dag.ErrNotStochastic, "%s: %s", move, g.Name(h))
	}
	if g.IsClamped(h) {
		return errors.Wrap(errors.ErrCodeInvalidOperation, dag.ErrClamped, "%s: %s", move, g.Name(h))
	}
	return nil
}

// Slide is a sliding-window move: x' = x + delta*(u - 1/2). Proposals
// beyond a finite bound of the support are reflected back inside, which
// keeps the move symmetric. On discrete supports the step is rounded to
// a non-zero integer and reflection is about the half-integer outside
// each bound, so lo-1 maps to lo.
type Slide struct {
	Node  dag.Handle
	Delta float64
	label string
}

// NewSlide creates a slide move on the unclamped stochastic node h.
func NewSlide(g *dag.Graph, h dag.Handle, delta float64) (*Slide, error) {
	if err := checkTarget(g, h, "slide"); err != nil {
		return nil, err
	}
	if delta <= 0 || math.IsInf(delta, 0) || math.IsNaN(delta) {
		return nil, errors.New(errors.ErrCodeInvalidInput, "slide: window must be positive, got %g", delta)
	}
	return &Slide{Node: h, Delta: delta, label: "slide(" + g.Name(h) + ")"}, nil
}

func (m *Slide) Name() string          { return m.label }
func (m *Slide) Targets() []dag.Handle { return []dag.Handle{m.Node} }

func (m *Slide) Propose(g *dag.Graph, rng *rand.Rand) (float64, error) {
	x, support, err := scalar(g, m.Node)
	if err != nil {
		return 0, err
	}
	step := m.Delta * (rng.Float64() - 0.5)
	var next float64
	if support.Discrete {
		k := math.Max(1, math.Round(math.Abs(step)))
		if step < 0 {
			k = -k
		}
		next = reflect(x+k, support.Lo-0.5, support.Hi+0.5)
	} else {
		next = reflect(x+step, support.Lo, support.Hi)
	}
	if !support.Contains(next) {
		return 0, errors.New(errors.ErrCodeDomain, "%s: no proposal inside [%g, %g]", m.label, support.Lo, support.Hi)
	}
	return 0, g.SetValue(m.Node, cty.NumberFloatVal(next))
}

// reflect folds x back into [lo, hi] at the finite bounds.
func reflect(x, lo, hi float64) float64 {
	for i := 0; i < 64; i++ {
		switch {
		case !math.IsInf(lo, -1) && x < lo:
			x = 2*lo - x
		case !math.IsInf(hi, 1) && x > hi:
			x = 2*hi - x
		default:
			return x
		}
	}
	return x
}

// Scale is a multiplier move: x' = x*m with m = exp(lambda*(u - 1/2)).
// Its log Hastings ratio is ln m. It suits random variables on the
// positive reals.
type Scale struct {
	Node   dag.Handle
	Lambda float64
	label  string
}

// NewScale creates a scale move on the unclamped stochastic node h.
func NewScale(g *dag.Graph, h dag.Handle, lambda float64) (*Scale, error) {
	if err := checkTarget(g, h, "scale"); err != nil {
		return nil, err
	}
	if lambda <= 0 || math.IsInf(lambda, 0) || math.IsNaN(lambda) {
		return nil, errors.New(errors.ErrCodeInvalidInput, "scale: tuning must be positive, got %g", lambda)
	}
	return &Scale{Node: h, Lambda: lambda, label: "scale(" + g.Name(h) + ")"}, nil
}

func (m *Scale) Name() string          { return m.label }
func (m *Scale) Targets() []dag.Handle { return []dag.Handle{m.Node} }

func (m *Scale) Propose(g *dag.Graph, rng *rand.Rand) (float64, error) {
	x, _, err := scalar(g, m.Node)
	if err != nil {
		return 0, err
	}
	lnM := m.Lambda * (rng.Float64() - 0.5)
	if err := g.SetValue(m.Node, cty.NumberFloatVal(x*math.Exp(lnM))); err != nil {
		return 0, err
	}
	return lnM, nil
}

// Redraw proposes a fresh draw from the node's prior at the current
// parameter values. The prior terms cancel, so only the likelihood of
// the node's dependents decides acceptance.
type Redraw struct {
	Node  dag.Handle
	label string
}

// NewRedraw creates a prior redraw move on the unclamped stochastic
// node h.
func NewRedraw(g *dag.Graph, h dag.Handle) (*Redraw, error) {
	if err := checkTarget(g, h, "redraw"); err != nil {
		return nil, err
	}
	return &Redraw{Node: h, label: "redraw(" + g.Name(h) + ")"}, nil
}

func (m *Redraw) Name() string          { return m.label }
func (m *Redraw) Targets() []dag.Handle { return []dag.Handle{m.Node} }

func (m *Redraw) Propose(g *dag.Graph, rng *rand.Rand) (float64, error) {
	if err := g.Redraw(m.Node, rng); err != nil {
		return 0, err
	}
	ratio, err := g.LnProbabilityRatio(m.Node)
	if err != nil {
		return 0, err
	}
	return -ratio, nil
}

// MoveFactory builds a move from a name used in run configurations.
type MoveFactory func(g *dag.Graph, h dag.Handle, tuning float64) (Move, error)

var factories = map[string]MoveFactory{
	"slide": func(g *dag.Graph, h dag.Handle, tuning float64) (Move, error) {
		if tuning == 0 {
			tuning = 1
		}
		return NewSlide(g, h, tuning)
	},
	"scale": func(g *dag.Graph, h dag.Handle, tuning float64) (Move, error) {
		if tuning == 0 {
			tuning = 1
		}
		return NewScale(g, h, tuning)
	},
	"redraw": func(g *dag.Graph, h dag.Handle, _ float64) (Move, error) {
		return NewRedraw(g, h)
	},
}

// NewMove builds the move called kind ("slide", "scale" or "redraw") on
// node h. A zero tuning selects the move's default.
func NewMove(kind string, g *dag.Graph, h dag.Handle, tuning float64) (Move, error) {
	f, ok := factories[kind]
	if !ok {
		return nil, errors.New(errors.ErrCodeInvalidInput, "unknown move %q (want slide, scale or redraw)", kind)
	}
	return f(g, h, tuning)
}

// DefaultMoves picks a move for every unclamped random variable: scale
// for positive continuous supports, slide otherwise.
func DefaultMoves(g *dag.Graph) ([]Move, error) {
	var moves []Move
	for _, h := range g.Stochastic() {
		if g.IsClamped(h) {
			continue
		}
		_, support, err := scalar(g, h)
		if err != nil {
			return nil, err
		}
		var m Move
		if support.Lo >= 0 && math.IsInf(support.Hi, 1) && !support.Discrete {
			m, err = NewScale(g, h, 1)
		} else {
			m, err = NewSlide(g, h, 1)
		}
		if err != nil {
			return nil, err
		}
		moves = append(moves, m)
	}
	return moves, nil
}
