package transform

import "github.com/matzehuels/modeldag/pkg/dag"

// AssignLayers assigns every node to a layer based on its depth in the
// graph.
//
// AssignLayers uses a longest-path algorithm via topological sort (Kahn's
// algorithm). Each node is placed at one plus the maximum layer of any of
// its parents, so that:
//   - Source nodes (no parents) are at layer 0
//   - All parents are strictly above their children
//
// The graph is acyclic by construction; a node on a cycle would never be
// released from the queue and is reported at layer 0.
//
// Time complexity is O(V + E).
func AssignLayers(g *dag.Graph) map[dag.Handle]int {
	layers := make(map[dag.Handle]int, g.NodeCount())
	for _, h := range TopologicalOrder(g) {
		for _, child := range g.Children(h) {
			if l := layers[h] + 1; l > layers[child] {
				layers[child] = l
			}
		}
		if _, ok := layers[h]; !ok {
			layers[h] = 0
		}
	}
	return layers
}

// TopologicalOrder returns the live nodes so that every node comes after
// all of its parents. Ties are broken by handle, so the order is stable
// across runs and clones.
func TopologicalOrder(g *dag.Graph) []dag.Handle {
	nodes := g.Nodes()
	inDegree := make(map[dag.Handle]int, len(nodes))
	queue := make([]dag.Handle, 0, len(nodes))

	for _, h := range nodes {
		degree := len(unique(g.Parents(h)))
		inDegree[h] = degree
		if degree == 0 {
			queue = append(queue, h)
		}
	}

	order := make([]dag.Handle, 0, len(nodes))
	for len(queue) > 0 {
		curr := queue[0]
		queue = queue[1:]
		order = append(order, curr)

		for _, child := range g.Children(curr) {
			inDegree[child]--
			if inDegree[child] == 0 {
				queue = append(queue, child)
			}
		}
	}
	return order
}

func unique(hs []dag.Handle) []dag.Handle {
	seen := make(map[dag.Handle]bool, len(hs))
	out := hs[:0]
	for _, h := range hs {
		if !seen[h] {
			seen[h] = true
			out = append(out, h)
		}
	}
	return out
}
