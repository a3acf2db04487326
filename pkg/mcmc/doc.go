// Package mcmc samples from the posterior of a model graph with
// Metropolis-Hastings.
//
// # Moves
//
// A [Move] changes the value of one or more random variables inside a
// transaction and reports its Hastings ratio:
//
//   - [Slide] adds a uniform step and reflects at the bounds of the support
//   - [Scale] multiplies by exp(lambda*(u-1/2)), for positive variables
//   - [Redraw] draws a fresh value from the prior
//
// # Transactions
//
// Each proposal is one touch/keep or touch/restore wave. The sampler asks
// the graph which random variables the move [dag.Graph.Affected], sums
// their log-probability ratios, and accepts or rejects. A retryable error
// raised while evaluating a proposal (a domain error at the proposed
// values) restores the wave and counts as a rejection; any other error
// restores the wave and ends the run. Either way the graph is left with
// no open transaction.
//
// # Usage
//
//	moves, err := mcmc.DefaultMoves(g)
//	s, err := mcmc.NewSampler(g, moves, rand.New(rand.NewPCG(seed, 0)),
//	    mcmc.WithMonitor(mcmc.NewTraceMonitor(w, g)))
//	res, err := s.Run(ctx, mcmc.RunOptions{Iterations: 10000, BurnIn: 1000})
package mcmc
