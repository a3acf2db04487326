// Package transform provides structural rewrites and orderings of a model
// graph.
//
// # Overview
//
// The engine in package dag keeps every node lazily evaluable and every
// proposal reversible. Some rewrites trade that flexibility for speed or
// for a simpler picture of the model:
//
//   - [Freeze] turns a stochastic node into a constant holding its current
//     value, so proposals can no longer move it
//   - [FoldConstants] replaces every transform or reference that can only
//     ever produce one value with a constant holding that value
//
// Both are built on [dag.Graph.Retarget]: the replacement constant takes
// over the children of the replaced node, and the replaced node (with any
// upstream nodes that became unused) is released unless the caller pins it.
//
// # Layer Assignment
//
// [AssignLayers] computes the depth of each node from the sources of the
// graph, and [TopologicalOrder] lists the nodes so that every parent comes
// before its children. Renderers use the layers as ranks; exporters use
// the order so that files can be read back in one pass.
//
// # Pinning
//
// Named bindings own their nodes. Both rewrites take a pinned predicate
// reporting such external owners; pinned nodes are replaced but not
// released, and the caller moves its bindings using the returned map:
//
//	repl, err := transform.FoldConstants(g, ws.Bound)
//	for old, c := range repl {
//	    ws.Rebind(old, c)
//	}
package transform
