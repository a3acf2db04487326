package dag

import (
	stderrors "errors"
	"slices"
	"time"

	"github.com/zclconf/go-cty/cty"

	"github.com/matzehuels/modeldag/pkg/errors"
)

// Value returns the node's current value, recomputing it first if it is
// dirty. Recomputation pulls parent values recursively, so a transform
// read by many children is evaluated at most once per wave. Stochastic
// and constant nodes return their realized value directly.
func (g *Graph) Value(h Handle) (cty.Value, error) {
	n, err := g.lookup(h)
	if err != nil {
		return cty.NilVal, err
	}
	return g.value(n)
}

func (g *Graph) value(n *node) (cty.Value, error) {
	if n.kind == KindConstant || n.kind == KindStochastic || !n.dirty {
		return n.value, nil
	}
	if n.detached {
		return cty.NilVal, errors.Wrap(errors.ErrCodeInvalidOperation, ErrDetached, "read %s", n.label())
	}

	start := time.Now()
	var (
		v     cty.Value
		elems []int
		err   error
	)
	if n.kind == KindTransform {
		v, err = g.recomputeTransform(n)
	} else {
		v, elems, err = g.recomputeReference(n)
	}
	g.hooks.OnRecompute(n.kind.String(), n.label(), time.Since(start), err)
	if err != nil {
		return cty.NilVal, err
	}

	n.value = v
	n.elems = elems
	n.dirty = false
	return v, nil
}

// Touch opens (or extends) a transaction wave at the given nodes. On a
// node's first touch in the wave its value, dirty state and cached
// log-probability are saved for restore; then it is marked dirty (except
// constants) and the wave continues to every child. A node already
// touched and still dirty stops the wave, so within a wave without reads
// in between every node is visited exactly once however many paths lead
// to it. A touched node that was recomputed since is marked dirty again
// and passes the wave on without saving its state a second time.
func (g *Graph) Touch(hs ...Handle) error {
	ns, err := g.lookupAll(hs)
	if err != nil {
		return err
	}
	for _, n := range ns {
		g.touch(n)
	}
	return nil
}

func (g *Graph) touch(n *node) {
	if n.touched {
		if n.dirty || n.kind == KindConstant {
			return
		}
		n.dirty = true
	} else {
		n.touched = true
		g.open++
		n.hasStored = true
		n.stored = n.value
		n.storedDirty = n.dirty
		n.storedLnProb = n.lnProb
		n.storedElems = n.elems
		if n.kind != KindConstant {
			n.dirty = true
		}
	}
	g.hooks.OnTouch(n.kind.String(), n.label())
	for _, c := range n.children {
		g.touch(g.nodes[c])
	}
}

// Keep commits the wave through the given nodes: stored state is
// discarded, the transaction flag cleared and the wave passed on to every
// child exactly once. Nodes still dirty are recomputed so that every kept
// node is clean; a node that fails to recompute stays dirty and its error
// is returned (joined with any others) after the whole wave was
// committed. Keeping an untouched node is a no-op.
func (g *Graph) Keep(hs ...Handle) error {
	ns, err := g.lookupAll(hs)
	if err != nil {
		return err
	}
	var errs []error
	for _, n := range ns {
		g.keep(n, &errs)
	}
	return stderrors.Join(errs...)
}

func (g *Graph) keep(n *node, errs *[]error) {
	if !n.touched {
		return
	}
	n.touched = false
	g.open--
	g.discardStored(n)

	if n.dirty {
		var err error
		switch n.kind {
		case KindStochastic:
			_, err = g.lnProb(n)
		case KindTransform, KindReference:
			_, err = g.value(n)
		}
		if err != nil {
			*errs = append(*errs, err)
		}
	}
	g.hooks.OnKeep(n.kind.String(), n.label())
	for _, c := range n.children {
		g.keep(g.nodes[c], errs)
	}
}

// Restore rolls the wave back through the given nodes: each touched node
// gets its stored value, dirty state and log-probability back, its
// transaction flag is cleared and the wave passes on to every child
// exactly once. Restoring an untouched node is a no-op.
func (g *Graph) Restore(hs ...Handle) error {
	ns, err := g.lookupAll(hs)
	if err != nil {
		return err
	}
	for _, n := range ns {
		g.restore(n)
	}
	return nil
}

func (g *Graph) restore(n *node) {
	if !n.touched {
		return
	}
	n.touched = false
	g.open--
	if n.hasStored {
		n.value = n.stored
		n.dirty = n.storedDirty
		n.lnProb = n.storedLnProb
		n.elems = n.storedElems
	}
	g.discardStored(n)

	g.hooks.OnRestore(n.kind.String(), n.label())
	for _, c := range n.children {
		g.restore(g.nodes[c])
	}
}

func (g *Graph) discardStored(n *node) {
	n.hasStored = false
	n.stored = cty.NilVal
	n.storedDirty = false
	n.storedLnProb = 0
	n.storedElems = nil
}

// KeepAll commits every touched node of the graph.
func (g *Graph) KeepAll() error {
	if g.open == 0 {
		return nil
	}
	return g.Keep(g.touched()...)
}

// RestoreAll rolls back every touched node of the graph. Transaction
// drivers call it when an error surfaces mid-wave.
func (g *Graph) RestoreAll() {
	if g.open == 0 {
		return
	}
	for _, h := range g.touched() {
		g.restore(g.nodes[h])
	}
}

func (g *Graph) touched() []Handle {
	var out []Handle
	for _, h := range g.Nodes() {
		if g.nodes[h].touched {
			out = append(out, h)
		}
	}
	return out
}

// Affected returns the stochastic nodes whose log-probability may change
// when any of the given nodes changes. The search descends through
// transform and reference nodes and stops at stochastic nodes, which are
// included; their own stochastic descendants are not. A given node is
// only included when another given node reaches it. The result is sorted
// by handle.
func (g *Graph) Affected(hs ...Handle) ([]Handle, error) {
	ns, err := g.lookupAll(hs)
	if err != nil {
		return nil, err
	}
	seen := make(map[Handle]bool)
	var out []Handle

	var walk func(n *node)
	walk = func(n *node) {
		for _, c := range n.children {
			if seen[c] {
				continue
			}
			seen[c] = true
			cn := g.nodes[c]
			if cn.kind == KindStochastic {
				out = append(out, c)
				continue
			}
			walk(cn)
		}
	}
	for _, n := range ns {
		walk(n)
	}
	slices.Sort(out)
	return out, nil
}

// Refresh recomputes every dirty node: values of transforms and
// references, log-probabilities of stochastic nodes. Inference drivers
// call it once before the first proposal so that every stored
// log-probability is available. All failures are returned joined.
func (g *Graph) Refresh() error {
	var errs []error
	for _, h := range g.Nodes() {
		n := g.nodes[h]
		if !n.dirty || n.detached {
			continue
		}
		var err error
		if n.kind == KindStochastic {
			_, err = g.lnProb(n)
		} else {
			_, err = g.value(n)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// LnPosterior returns the sum of the log-probabilities of every
// stochastic node (the unnormalized log-posterior of the model).
func (g *Graph) LnPosterior() (float64, error) {
	total := 0.0
	for _, h := range g.Stochastic() {
		lp, err := g.lnProb(g.nodes[h])
		if err != nil {
			return 0, err
		}
		total += lp
	}
	return total, nil
}

// IsConstant reports whether the node's value can never change through
// a proposal: constants, and transforms or references all of whose
// ancestors are constants. Such nodes can be folded.
func (g *Graph) IsConstant(h Handle) bool {
	memo := make(map[Handle]bool)
	var check func(h Handle) bool
	check = func(h Handle) bool {
		if v, ok := memo[h]; ok {
			return v
		}
		n, ok := g.nodes[h]
		if !ok {
			return false
		}
		var res bool
		switch n.kind {
		case KindConstant:
			res = true
		case KindStochastic:
			res = false
		default:
			res = !n.detached
			for _, p := range n.parents {
				if !check(p) {
					res = false
					break
				}
			}
		}
		memo[h] = res
		return res
	}
	return check(h)
}
