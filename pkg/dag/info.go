package dag

import (
	"fmt"
	"strconv"
	"strings"
)

// StructureInfo describes a node for humans: its kind, type, cached value
// and bookkeeping flags, and its neighbours. It never triggers
// recomputation; a dirty node shows its stale cached value.
func (g *Graph) StructureInfo(h Handle) (string, error) {
	n, err := g.lookup(h)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	row := func(key, val string) {
		fmt.Fprintf(&b, "%-14s = %s\n", key, val)
	}

	row("name", n.label())
	row("handle", n.id.String())
	row("kind", n.kind.String())
	row("type", n.typ.FriendlyName())
	row("value", FormatValue(n.value))
	switch n.kind {
	case KindTransform:
		row("function", n.fn.Name)
	case KindStochastic:
		row("distribution", n.dist.Name())
		row("clamped", strconv.FormatBool(n.clamped))
		if n.dirty {
			row("lnProbability", "<stale>")
		} else {
			row("lnProbability", strconv.FormatFloat(n.lnProb, 'g', 6, 64))
		}
	case KindReference:
		row("elements", fmt.Sprint(n.elems))
	}
	row("dirty", strconv.FormatBool(n.dirty))
	row("touched", strconv.FormatBool(n.touched))
	if n.touched && n.hasStored {
		row("stored", FormatValue(n.stored))
	}
	row("parents", g.names(n.parents))
	row("children", g.names(g.Children(h)))
	return b.String(), nil
}

func (g *Graph) names(hs []Handle) string {
	parts := make([]string, len(hs))
	for i, h := range hs {
		parts[i] = g.Name(h)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
