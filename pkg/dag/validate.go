package dag

import (
	"slices"

	"github.com/matzehuels/modeldag/pkg/errors"
)

// Validate checks the structural invariants of the graph:
//
//  1. Every parent list entry has a matching child set entry and vice
//     versa, and both point at live nodes
//  2. The graph is acyclic
//  3. Outside of a transaction no node has its transaction flag set and
//     every stochastic value is defined
//
// The graph maintains these invariants itself; Validate exists for tests
// and for loaders that want to fail loudly on corruption.
//
// Cycle detection runs in O(N+E) time using depth-first search.
func (g *Graph) Validate() error {
	if err := g.validateEdgeSymmetry(); err != nil {
		return err
	}
	if err := g.detectCycles(); err != nil {
		return err
	}
	return g.validateState()
}

func (g *Graph) validateEdgeSymmetry() error {
	for h, n := range g.nodes {
		for _, p := range n.parents {
			pn, ok := g.nodes[p]
			if !ok || !slices.Contains(pn.children, h) {
				return errors.Wrap(errors.ErrCodeInternal, ErrAsymmetricEdge, "%s -> %s", p, n.label())
			}
		}
		for _, c := range n.children {
			cn, ok := g.nodes[c]
			if !ok || !slices.Contains(cn.parents, h) {
				return errors.Wrap(errors.ErrCodeInternal, ErrAsymmetricEdge, "%s -> %s", n.label(), c)
			}
		}
	}
	return nil
}

func (g *Graph) detectCycles() error {
	const (
		white = iota
		gray
		black
	)

	color := make(map[Handle]int, len(g.nodes))
	var hasCycle bool

	var dfs func(h Handle)
	dfs = func(h Handle) {
		color[h] = gray
		for _, child := range g.nodes[h].children {
			switch color[child] {
			case white:
				dfs(child)
			case gray:
				hasCycle = true
				return
			}
		}
		color[h] = black
	}

	for _, h := range g.Nodes() {
		if color[h] == white {
			dfs(h)
			if hasCycle {
				return errors.Wrap(errors.ErrCodeCycle, ErrGraphHasCycle, "reached from %s", g.Name(h))
			}
		}
	}
	return nil
}

func (g *Graph) validateState() error {
	if g.open > 0 {
		return nil
	}
	for _, n := range g.nodes {
		if n.touched {
			return errors.New(errors.ErrCodeInternal, "%s is touched outside of a transaction", n.label())
		}
		if n.kind == KindStochastic && (!n.value.IsWhollyKnown() || n.value.IsNull()) {
			return errors.New(errors.ErrCodeInternal, "%s has no realized value", n.label())
		}
	}
	return nil
}
