// Package pkg provides the libraries behind modeldag, a lazy transactional
// graph of probabilistic model nodes and the tools that load, sample and
// draw it.
//
// # Overview
//
// A model is a directed acyclic graph whose nodes hold values: constants,
// deterministic transforms of their parents, random variables drawn from a
// distribution of their parents, and references that pick an element of a
// composite parent. Changing a value opens a transaction wave; dependent
// values are recomputed lazily when read and the wave is then kept or
// restored as a whole. The pkg directory is organized as follows:
//
//  1. [dag] - The graph: node kinds, touch/keep/restore waves, clone and
//     retarget
//  2. [dist], [funcs] - Distributions and deterministic functions
//  3. [model] - Named workspaces over a graph, with a registry of
//     functions and distributions
//  4. [io] - HCL model files
//  5. [mcmc] - Metropolis-Hastings moves, sampler and trace monitor
//  6. [render] - Graph drawings (DOT, SVG, PDF, PNG)
//  7. [pipeline], [cache] - Cached load → sample → render runs
//
// # Architecture
//
// The typical data flow:
//
//	model.hcl
//	    ↓
//	[io] package (decode blocks into a workspace)
//	    ↓
//	[model] package (named nodes over a [dag] graph)
//	    ↓
//	[mcmc] package (chains on workspace clones)
//	    ↓
//	posterior means, traces, graph drawings
//
// # Quick Start
//
//	ws, _ := io.ImportHCL("examples/regression.hcl")
//	moves, _ := mcmc.DefaultMoves(ws.Graph())
//	s, _ := mcmc.NewSampler(ws.Graph(), moves, rand.New(rand.NewPCG(1, 2)))
//	res, _ := s.Run(ctx, mcmc.RunOptions{Iterations: 1000, BurnIn: 100})
//	fmt.Println(res.Means["slope"])
//
// Or through the pipeline, with caching:
//
//	r := pipeline.NewRunner(cache.NewNullCache(), nil, nil)
//	res, _ := r.Execute(ctx, pipeline.Options{Model: "examples/regression.hcl", Chains: 4})
//
// # Supporting Packages
//
// [errors] - Error codes shared by every package (TYPE_MISMATCH,
// INVALID_OPERATION, DOMAIN_ERROR, ...).
//
// [observability] - Hooks for transaction waves, sampler proposals,
// pipeline stages and cache operations.
//
// [buildinfo] - Version information set at build time.
//
// # Testing
//
//	go test ./pkg/...                    # All tests
//	go test -run Example ./pkg/...       # Examples only
//	go test -tags integration ./pkg/...  # Include redis tests (REDIS_URL)
//
// [dag]: https://pkg.go.dev/github.com/matzehuels/modeldag/pkg/dag
// [dist]: https://pkg.go.dev/github.com/matzehuels/modeldag/pkg/dist
// [funcs]: https://pkg.go.dev/github.com/matzehuels/modeldag/pkg/funcs
// [model]: https://pkg.go.dev/github.com/matzehuels/modeldag/pkg/model
// [io]: https://pkg.go.dev/github.com/matzehuels/modeldag/pkg/io
// [mcmc]: https://pkg.go.dev/github.com/matzehuels/modeldag/pkg/mcmc
// [render]: https://pkg.go.dev/github.com/matzehuels/modeldag/pkg/render
// [pipeline]: https://pkg.go.dev/github.com/matzehuels/modeldag/pkg/pipeline
// [cache]: https://pkg.go.dev/github.com/matzehuels/modeldag/pkg/cache
// [errors]: https://pkg.go.dev/github.com/matzehuels/modeldag/pkg/errors
// [observability]: https://pkg.go.dev/github.com/matzehuels/modeldag/pkg/observability
// [buildinfo]: https://pkg.go.dev/github.com/matzehuels/modeldag/pkg/buildinfo
package pkg
