package dag

import (
	"maps"
	"slices"

	"github.com/google/uuid"

	"github.com/matzehuels/modeldag/pkg/errors"
)

// copyNode duplicates a node record without its edges. cty values are
// immutable, so sharing them is safe; every slice is fresh.
func copyNode(n *node) *node {
	c := *n
	c.parents = nil
	c.children = nil
	c.conv = slices.Clone(n.conv)
	c.idxConv = slices.Clone(n.idxConv)
	c.elems = slices.Clone(n.elems)
	c.storedElems = slices.Clone(n.storedElems)
	return &c
}

// Clone copies the connected components containing roots into a new,
// independent graph and returns it with the map from original to cloned
// handles. The copy is a depth-first traversal over parents and children
// guided by that map, so every node is cloned exactly once and shared
// parents stay shared. Node state (values, dirty and transaction flags,
// stored values, clamping) is copied as is. The clone gets a new
// [Graph.ID] and shares no mutable storage with g.
func (g *Graph) Clone(roots ...Handle) (*Graph, map[Handle]Handle, error) {
	if _, err := g.lookupAll(roots); err != nil {
		return nil, nil, err
	}
	ng := &Graph{
		id:     uuid.New(),
		nodes:  make(map[Handle]*node, len(g.nodes)),
		logger: g.logger,
		hooks:  g.hooks,
	}
	m := make(map[Handle]Handle)

	var visit func(h Handle) Handle
	visit = func(h Handle) Handle {
		if c, ok := m[h]; ok {
			return c
		}
		n := g.nodes[h]
		c := copyNode(n)
		ng.next++
		c.id = ng.next
		ng.nodes[c.id] = c
		m[h] = c.id
		if c.touched {
			ng.open++
		}

		c.parents = make([]Handle, len(n.parents))
		for i, p := range n.parents {
			c.parents[i] = visit(p)
		}
		for _, ch := range n.children {
			visit(ch)
		}
		return c.id
	}
	for _, r := range roots {
		visit(r)
	}

	// Child sets are rebuilt from the original's, keeping their order.
	for orig, cl := range m {
		for _, ch := range g.nodes[orig].children {
			ng.nodes[cl].children = append(ng.nodes[cl].children, m[ch])
		}
	}

	g.logger.Debug("cloned graph", "graph", g.id, "clone", ng.id, "nodes", len(m))
	return ng, m, nil
}

// CloneAll clones every node of the graph. Handles are remapped in
// creation order; the returned map translates them.
func (g *Graph) CloneAll() (*Graph, map[Handle]Handle, error) {
	return g.Clone(g.Nodes()...)
}

// CloneDownstream duplicates, inside g, the given nodes and everything
// downstream of them. Clones of nodes whose parents lie outside that set
// are wired to the original parents, so the duplicate shares upstream
// structure with the original. It returns the map from original to
// cloned handles.
func (g *Graph) CloneDownstream(roots ...Handle) (map[Handle]Handle, error) {
	if _, err := g.lookupAll(roots); err != nil {
		return nil, err
	}
	if g.open > 0 {
		return nil, errors.Wrap(errors.ErrCodeInvalidOperation, ErrInTransaction, "clone downstream")
	}

	inSet := make(map[Handle]bool)
	var mark func(h Handle)
	mark = func(h Handle) {
		if inSet[h] {
			return
		}
		inSet[h] = true
		for _, c := range g.nodes[h].children {
			mark(c)
		}
	}
	for _, r := range roots {
		mark(r)
	}

	m := make(map[Handle]Handle)
	var visit func(h Handle) Handle
	visit = func(h Handle) Handle {
		if c, ok := m[h]; ok {
			return c
		}
		n := g.nodes[h]
		parents := make([]Handle, len(n.parents))
		for i, p := range n.parents {
			if inSet[p] {
				parents[i] = visit(p)
			} else {
				parents[i] = p
			}
		}
		c := copyNode(n)
		c.parents = parents
		m[h] = g.insert(c)
		return m[h]
	}
	for _, h := range slices.Sorted(maps.Keys(inSet)) {
		visit(h)
	}
	return m, nil
}
