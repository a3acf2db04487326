package transform

import (
	"github.com/matzehuels/modeldag/pkg/dag"
	"github.com/matzehuels/modeldag/pkg/errors"
)

// Freeze replaces the stochastic node h with a constant holding its
// current value and returns the constant. h's children are retargeted to
// the constant; h and any of its parents left without children are
// released unless pinned reports an external owner.
func Freeze(g *dag.Graph, h dag.Handle, pinned func(dag.Handle) bool) (dag.Handle, error) {
	kind, ok := g.Kind(h)
	if !ok {
		return 0, errors.Wrap(errors.ErrCodeNotFound, dag.ErrUnknownNode, "freeze %s", h)
	}
	if kind != dag.KindStochastic {
		return 0, errors.Wrap(errors.ErrCodeInvalidOperation, dag.ErrNotStochastic, "freeze %s", g.Name(h))
	}
	return replace(g, h, pinned)
}

// FoldConstants replaces every transform and reference node whose value
// cannot change (see [dag.Graph.IsConstant]) with a constant holding that
// value. Nodes are folded parents first, so a chain of constant transforms
// collapses into a single constant. Unpinned nodes without children are
// left alone since nothing reads them.
//
// The returned map sends each replaced node to its constant. A replaced
// node that is pinned stays in the graph, detached, and so does its
// constant; the caller moves its bindings and releases the old node.
func FoldConstants(g *dag.Graph, pinned func(dag.Handle) bool) (map[dag.Handle]dag.Handle, error) {
	if pinned == nil {
		pinned = func(dag.Handle) bool { return false }
	}
	// A constant replacing a pinned node inherits the pin.
	inherited := make(map[dag.Handle]bool)
	isPinned := func(h dag.Handle) bool { return pinned(h) || inherited[h] }

	repl := make(map[dag.Handle]dag.Handle)
	for _, h := range TopologicalOrder(g) {
		kind, ok := g.Kind(h)
		if !ok || (kind != dag.KindTransform && kind != dag.KindReference) {
			continue
		}
		if !g.IsConstant(h) || (len(g.Children(h)) == 0 && !isPinned(h)) {
			continue
		}
		pin := isPinned(h)
		c, err := replace(g, h, isPinned)
		if err != nil {
			return repl, err
		}
		if pin {
			inherited[c] = true
		}
		repl[h] = c
	}
	return repl, nil
}

// replace swaps h for a constant holding its current value.
func replace(g *dag.Graph, h dag.Handle, pinned func(dag.Handle) bool) (dag.Handle, error) {
	if g.InTransaction() {
		return 0, errors.Wrap(errors.ErrCodeInvalidOperation, dag.ErrInTransaction, "replace %s", g.Name(h))
	}
	v, err := g.Value(h)
	if err != nil {
		return 0, err
	}
	info, _ := g.Node(h)
	c, err := g.AddConstant(info.Name, v)
	if err != nil {
		return 0, err
	}

	parents := unique(g.Parents(h))
	moved, err := g.Retarget(h, c)
	if err != nil {
		_ = g.Destroy(c)
		return 0, err
	}
	if err := g.Keep(moved...); err != nil {
		return c, err
	}

	if _, err := g.Release(h, pinned); err != nil {
		return c, err
	}
	for _, p := range parents {
		if _, ok := g.Kind(p); !ok {
			continue
		}
		if _, err := g.Release(p, pinned); err != nil {
			return c, err
		}
	}
	return c, nil
}
