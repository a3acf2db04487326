package dag

import (
	"slices"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"

	"github.com/matzehuels/modeldag/pkg/errors"
)

// rebinding is the checked, not yet applied, replacement of one child's
// parent.
type rebinding struct {
	child   *node
	typ     cty.Type
	out     convert.Conversion
	conv    []convert.Conversion // stochastic children
	idxConv []convert.Conversion // reference children
}

// Retarget moves every child of old over to replacement, as when a
// binding layer reassigns a name that other nodes already depend on.
//
// First every child is checked: replacement must not be the child or
// one of its descendants (the edge would close a cycle), and the child
// must accept replacement's type at each argument position that held
// old. If any check fails nothing is changed. Otherwise each child's
// parent positions are rewritten and its conversions re-resolved, old is
// detached from its own parents, and the transferred children are
// touched. The caller closes that wave with [Graph.Keep] (or
// [Graph.Restore]) on the returned children, and usually releases old.
//
// Retarget is not allowed while a wave is open.
func (g *Graph) Retarget(old, replacement Handle) ([]Handle, error) {
	on, err := g.lookup(old)
	if err != nil {
		return nil, err
	}
	nn, err := g.lookup(replacement)
	if err != nil {
		return nil, err
	}
	if old == replacement {
		return nil, errors.New(errors.ErrCodeInvalidOperation, "retarget %s onto itself", on.label())
	}
	if g.open > 0 {
		return nil, errors.Wrap(errors.ErrCodeInvalidOperation, ErrInTransaction, "retarget %s", on.label())
	}

	children := g.Children(old)
	plans := make([]rebinding, 0, len(children))
	for _, c := range children {
		cn := g.nodes[c]
		if c == replacement || g.reaches(c, replacement) {
			return nil, errors.Wrap(errors.ErrCodeCycle, ErrGraphHasCycle,
				"retarget %s to %s: %s depends on %s", on.label(), nn.label(), nn.label(), cn.label())
		}
		plan, err := g.planRebinding(cn, old, nn)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeTypeMismatch, err,
				"retarget %s to %s: %s does not accept %s", on.label(), nn.label(), cn.label(), nn.typ.FriendlyName())
		}
		plans = append(plans, plan)
	}

	for _, p := range plans {
		cn := p.child
		for i, ph := range cn.parents {
			if ph == old {
				cn.parents[i] = replacement
			}
		}
		cn.typ = p.typ
		cn.out = p.out
		if p.conv != nil {
			cn.conv = p.conv
		}
		if p.idxConv != nil {
			cn.idxConv = p.idxConv
		}
		g.link(replacement, cn.id)
	}
	on.children = nil

	for _, p := range uniqueHandles(on.parents) {
		g.unlink(p, old)
	}
	on.parents = nil
	if on.kind != KindConstant {
		on.detached = true
	}

	for _, p := range plans {
		g.touch(p.child)
	}

	g.logger.Debug("retargeted node", "graph", g.id, "old", on.label(), "new", nn.label(), "children", len(children))
	return children, nil
}

// planRebinding checks that child accepts replacement wherever it
// currently uses old.
func (g *Graph) planRebinding(child *node, old Handle, replacement *node) (rebinding, error) {
	parents := make([]*node, len(child.parents))
	for i, p := range child.parents {
		if p == old {
			parents[i] = replacement
		} else {
			parents[i] = g.nodes[p]
		}
	}
	plan := rebinding{child: child, typ: child.typ, out: child.out}

	switch child.kind {
	case KindTransform:
		ret, err := child.fn.Impl.ReturnType(typesOf(parents))
		if err != nil {
			return plan, err
		}
		out, err := conversion(ret, child.typ)
		if err != nil {
			return plan, err
		}
		plan.out = out

	case KindStochastic:
		want := child.dist.ParamTypes()
		plan.conv = slices.Clone(child.conv)
		for i, p := range child.parents {
			if p != old {
				continue
			}
			c, err := conversion(replacement.typ, want[i])
			if err != nil {
				return plan, err
			}
			plan.conv[i] = c
		}

	case KindReference:
		typ, idxConv, err := planReference(parents[0].typ, parents[1:])
		if err != nil {
			return plan, err
		}
		if _, err := conversion(typ, child.typ); err != nil {
			return plan, err
		}
		plan.idxConv = idxConv
	}
	return plan, nil
}

// reaches reports whether to is a descendant of from.
func (g *Graph) reaches(from, to Handle) bool {
	seen := make(map[Handle]bool)
	var walk func(h Handle) bool
	walk = func(h Handle) bool {
		for _, c := range g.nodes[h].children {
			if c == to {
				return true
			}
			if seen[c] {
				continue
			}
			seen[c] = true
			if walk(c) {
				return true
			}
		}
		return false
	}
	return walk(from)
}
