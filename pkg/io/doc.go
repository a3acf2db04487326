// Package io reads and writes model files.
//
// # Model Format
//
// A model is an HCL file of named blocks, one per node:
//
//	constant "xs" {
//	  value = [1.5, 2.5, 4]
//	  type  = list(number)
//	}
//
//	constant "i" {
//	  value = 2
//	}
//
//	reference "x" {
//	  base  = xs
//	  index = [i]
//	}
//
//	stochastic "mu" {
//	  distribution = "normal"
//	  params       = [0, 10]
//	}
//
//	transform "rate" {
//	  function = "exp"
//	  args     = [mu]
//	}
//
//	stochastic "count" {
//	  distribution = "poisson"
//	  params       = [rate]
//	  observed     = 5
//	}
//
// Arguments (args, params, index) are lists whose items are either the
// name of another block or a literal value; literals become anonymous
// constants. Index positions are one-based.
//
// A constant's optional type is an HCL type constraint such as
// list(number) or map(string); without it the value keeps the type of
// its literal, so [1, 2] is a tuple. A stochastic block sets at most one
// of initial and observed. With neither, the initial value is drawn from
// the distribution; observed clamps the node to the data.
//
// Blocks may appear in any order. A block referring to itself, directly
// or through other blocks, is reported with code CYCLE; parse and decode
// problems with code INVALID_MODEL, each carrying the source position.
//
// # Import
//
// Use [ImportHCL] to read a model from a file path, [ReadHCL] to read from
// any io.Reader, or [Load] to add declarations to an existing workspace:
//
//	ws, err := io.ImportHCL("model.hcl")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Export
//
// [WriteHCL] and [ExportHCL] write a workspace back in the same format.
// Stochastic nodes are written with their current value, so a model
// exported after sampling restarts from where the sampler stopped.
// [WriteStructure] dumps the bookkeeping state of every node for
// debugging.
package io
