// Package dag implements the lazy, transactional evaluation engine behind
// modeldag: a directed acyclic graph of value-producing nodes over which an
// inference driver runs propose, evaluate, then commit or roll back cycles.
//
// # Overview
//
// A [Graph] is an arena of nodes addressed by [Handle]. There are four
// kinds of node:
//
//   - constant: a literal value with no parents
//   - transform: a pure [Function] of its parents' values, computed lazily
//   - stochastic: a random variable with a [Distribution] whose parameters
//     are its parents, a realized value, and a cached log-probability; it
//     may be clamped to observed data
//   - reference: an element or member of its first parent's value,
//     selected by its other parents
//
// Values are cty values (github.com/zclconf/go-cty). Argument types are
// checked and conversions resolved once, when a node is constructed or
// retargeted, never on every read.
//
// # Transactions
//
// A transaction is one proposal of an inference algorithm:
//
//	g.SetValue(mu, cty.NumberFloatVal(1.3)) // touches mu and its descendants
//	affected, _ := g.Affected(mu)           // stochastic nodes to re-evaluate
//	ratio := 0.0
//	for _, h := range append(affected, mu) {
//	    r, err := g.LnProbabilityRatio(h)
//	    if err != nil {
//	        g.RestoreAll()
//	        return err
//	    }
//	    ratio += r
//	}
//	if accept(ratio) {
//	    g.Keep(mu)
//	} else {
//	    g.Restore(mu)
//	}
//
// [Graph.Touch] marks nodes dirty and saves their values; reads recompute
// dirty nodes on demand; [Graph.Keep] discards the saved values and
// [Graph.Restore] reinstates them. Waves are diamond-safe: a node reachable
// along several paths is visited once.
//
// # Structural Mutation
//
// [Graph.Clone] copies connected components into an independent graph,
// for example one per MCMC chain. [Graph.Retarget] moves all children of a
// node to a replacement, which is how a binding layer reassigns a name
// other nodes already depend on. [Graph.Destroy] refuses to remove a node
// that still has children; [Graph.Release] removes a node and any
// ancestors that became unreferenced.
//
// # Concurrency
//
// A Graph is not safe for concurrent use and does not lock. One goroutine
// drives it; independent work runs on clones.
//
// # Related Packages
//
//   - [github.com/matzehuels/modeldag/pkg/model] binds names to nodes
//   - [github.com/matzehuels/modeldag/pkg/mcmc] drives transactions
//   - [github.com/matzehuels/modeldag/pkg/dist] and
//     [github.com/matzehuels/modeldag/pkg/funcs] supply the model math
package dag
