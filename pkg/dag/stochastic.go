package dag

import (
	"math/rand/v2"
	"time"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"

	"github.com/matzehuels/modeldag/pkg/errors"
)

// AddStochastic creates a random variable with distribution d whose
// parameters are supplied, in order, by params. initial is the realized
// value the node starts with; binding layers typically draw it from the
// distribution with an explicit random source, or pass observed data and
// clamp the node.
func (g *Graph) AddStochastic(name string, d Distribution, initial cty.Value, params ...Handle) (Handle, error) {
	parents, err := g.lookupAll(params)
	if err != nil {
		return 0, err
	}
	want := d.ParamTypes()
	if len(parents) != len(want) {
		return 0, errors.New(errors.ErrCodeTypeMismatch,
			"stochastic %s: %s takes %d parameters, got %d", name, d.Name(), len(want), len(parents))
	}
	conv := make([]convert.Conversion, len(parents))
	for i, p := range parents {
		c, err := conversion(p.typ, want[i])
		if err != nil {
			return 0, errors.Wrap(errors.ErrCodeTypeMismatch, err,
				"stochastic %s: parameter %d of %s", name, i+1, d.Name())
		}
		conv[i] = c
	}
	v, err := conform(initial, d.ValueType(), "stochastic "+name)
	if err != nil {
		return 0, err
	}
	return g.insert(&node{
		name:    name,
		kind:    KindStochastic,
		typ:     d.ValueType(),
		value:   v,
		dirty:   true,
		parents: append([]Handle(nil), params...),
		dist:    d,
		conv:    conv,
	}), nil
}

func (g *Graph) stochastic(h Handle) (*node, error) {
	n, err := g.lookup(h)
	if err != nil {
		return nil, err
	}
	if n.kind != KindStochastic {
		return nil, errors.Wrap(errors.ErrCodeInvalidOperation, ErrNotStochastic, "%s is a %s node", n.label(), n.kind)
	}
	return n, nil
}

// Distribution returns the distribution of a stochastic node.
func (g *Graph) Distribution(h Handle) (Distribution, error) {
	n, err := g.stochastic(h)
	if err != nil {
		return nil, err
	}
	return n.dist, nil
}

// Params returns the current parameter values of a stochastic node,
// converted to the distribution's parameter types. Dirty parents are
// recomputed.
func (g *Graph) Params(h Handle) ([]cty.Value, error) {
	n, err := g.stochastic(h)
	if err != nil {
		return nil, err
	}
	return g.params(n)
}

// params pulls the current parameter values of a stochastic node.
func (g *Graph) params(n *node) ([]cty.Value, error) {
	if n.detached {
		return nil, errors.Wrap(errors.ErrCodeInvalidOperation, ErrDetached, "read %s", n.label())
	}
	out := make([]cty.Value, len(n.parents))
	for i, p := range n.parents {
		v, err := g.value(g.nodes[p])
		if err != nil {
			return nil, err
		}
		if out[i], err = apply(n.conv[i], v, "parameter of "+n.label()); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// LnProbability returns the log-probability of the node's realized value
// under its distribution at the current parameter values. The result is
// cached until the node is touched again.
func (g *Graph) LnProbability(h Handle) (float64, error) {
	n, err := g.stochastic(h)
	if err != nil {
		return 0, err
	}
	return g.lnProb(n)
}

func (g *Graph) lnProb(n *node) (float64, error) {
	if !n.dirty {
		return n.lnProb, nil
	}
	start := time.Now()
	lp, err := g.computeLnProb(n)
	g.hooks.OnRecompute(n.kind.String(), n.label(), time.Since(start), err)
	if err != nil {
		return 0, err
	}
	n.lnProb = lp
	n.dirty = false
	return lp, nil
}

func (g *Graph) computeLnProb(n *node) (float64, error) {
	params, err := g.params(n)
	if err != nil {
		return 0, err
	}
	lp, err := n.dist.LnProb(n.value, params)
	if err != nil {
		return 0, asDomain(err, "log-probability of %s under %s", n.label(), n.dist.Name())
	}
	return lp, nil
}

// LnProbabilityRatio returns the change of the node's log-probability
// since the open wave touched it: current minus stored. Outside of a
// transaction it returns 0.
func (g *Graph) LnProbabilityRatio(h Handle) (float64, error) {
	n, err := g.stochastic(h)
	if err != nil {
		return 0, err
	}
	lp, err := g.lnProb(n)
	if err != nil {
		return 0, err
	}
	if !n.touched {
		return 0, nil
	}
	if n.storedDirty {
		return 0, errors.Wrap(errors.ErrCodeInvalidOperation, ErrNoStoredProbability, "%s", n.label())
	}
	return lp - n.storedLnProb, nil
}

// SetValue realizes a new value for a stochastic node, or replaces the
// literal of a constant. The node is touched first, so the previous value
// becomes the stored value of the open wave, and every child is marked
// dirty. Clamped nodes reject the call with an INVALID_OPERATION error
// wrapping [ErrClamped]; transform and reference nodes with one wrapping
// [ErrNotSettable].
func (g *Graph) SetValue(h Handle, v cty.Value) error {
	n, err := g.lookup(h)
	if err != nil {
		return err
	}
	switch n.kind {
	case KindStochastic:
		if n.clamped {
			return errors.Wrap(errors.ErrCodeInvalidOperation, ErrClamped, "set value of %s", n.label())
		}
	case KindConstant:
	default:
		return errors.Wrap(errors.ErrCodeInvalidOperation, ErrNotSettable, "set value of %s %s", n.kind, n.label())
	}
	v, err = conform(v, n.typ, "set value of "+n.label())
	if err != nil {
		return err
	}
	g.change(n, v)
	return nil
}

// change touches n, replaces its value and forces its children dirty even
// if they were read since an earlier touch in the same wave.
func (g *Graph) change(n *node, v cty.Value) {
	g.touch(n)
	n.value = v
	if n.kind == KindStochastic {
		n.dirty = true
	}
	for _, c := range n.children {
		g.touch(g.nodes[c])
	}
}

// Redraw samples a new realized value from the node's distribution at the
// current parameter values using rng, and sets it as with [Graph.SetValue].
func (g *Graph) Redraw(h Handle, rng *rand.Rand) error {
	n, err := g.stochastic(h)
	if err != nil {
		return err
	}
	if n.clamped {
		return errors.Wrap(errors.ErrCodeInvalidOperation, ErrClamped, "redraw %s", n.label())
	}
	params, err := g.params(n)
	if err != nil {
		return err
	}
	v, err := n.dist.Sample(rng, params)
	if err != nil {
		return asDomain(err, "sample %s from %s", n.label(), n.dist.Name())
	}
	if v, err = conform(v, n.typ, "sample of "+n.label()); err != nil {
		return err
	}
	g.change(n, v)
	return nil
}

// Clamp fixes the node to observed data. The node is touched, so clamping
// inside a wave is rolled back by restore; the clamped flag itself is not.
func (g *Graph) Clamp(h Handle, v cty.Value) error {
	n, err := g.stochastic(h)
	if err != nil {
		return err
	}
	v, err = conform(v, n.typ, "clamp "+n.label())
	if err != nil {
		return err
	}
	g.change(n, v)
	n.clamped = true
	return nil
}

// Unclamp releases observed data so proposals may change the value again.
// The value itself is kept.
func (g *Graph) Unclamp(h Handle) error {
	n, err := g.stochastic(h)
	if err != nil {
		return err
	}
	n.clamped = false
	return nil
}
