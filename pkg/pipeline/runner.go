package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/matzehuels/modeldag/pkg/cache"
	"github.com/matzehuels/modeldag/pkg/dag"
	"github.com/matzehuels/modeldag/pkg/errors"
	modelio "github.com/matzehuels/modeldag/pkg/io"
	"github.com/matzehuels/modeldag/pkg/mcmc"
	"github.com/matzehuels/modeldag/pkg/model"
	"github.com/matzehuels/modeldag/pkg/observability"
	"github.com/matzehuels/modeldag/pkg/render"
	"github.com/matzehuels/modeldag/pkg/render/nodelink"
)

// Runner executes pipelines with caching.
//
// The Runner holds no run state besides the cache and logger, so one
// Runner may serve concurrent Execute calls with different options.
type Runner struct {
	Cache  cache.Cache
	Keyer  cache.Keyer
	Logger *log.Logger
}

// NewRunner creates a runner with the given cache and keyer.
// If keyer is nil, a DefaultKeyer is used.
// If cache is nil, a NullCache is used (caching disabled).
func NewRunner(c cache.Cache, keyer cache.Keyer, logger *log.Logger) *Runner {
	if keyer == nil {
		keyer = cache.NewDefaultKeyer()
	}
	if c == nil {
		c = cache.NewNullCache()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Runner{Cache: c, Keyer: keyer, Logger: logger}
}

// Execute runs load, sample and (when opts.Format is set) render.
func (r *Runner) Execute(ctx context.Context, opts Options) (*Result, error) {
	opts = opts.WithDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	result := &Result{RunID: uuid.NewString()}
	logger := r.Logger.With("run", result.RunID[:8])

	// Stage 1: Load
	loadStart := time.Now()
	ws, src, err := r.Load(ctx, opts.Model)
	if err != nil {
		return nil, err
	}
	result.ModelHash = cache.Hash(src)
	result.Stats.LoadTime = time.Since(loadStart)
	result.Stats.NodeCount = ws.Graph().NodeCount()
	result.Stats.EdgeCount = ws.Graph().EdgeCount()
	logger.Info("loaded model",
		"path", opts.Model,
		"nodes", result.Stats.NodeCount,
		"duration", result.Stats.LoadTime)

	// Stage 2: Sample
	sampleStart := time.Now()
	chains, hit, err := r.SampleWithCacheInfo(ctx, ws, result.ModelHash, opts)
	if err != nil {
		return nil, fmt.Errorf("sample: %w", err)
	}
	result.Chains = chains
	result.Stats.SampleTime = time.Since(sampleStart)
	result.CacheInfo.RunHit = hit
	logger.Info("sampled",
		"chains", len(chains),
		"samples", result.Samples(),
		"cached", hit,
		"duration", result.Stats.SampleTime)

	// Stage 3: Render
	if opts.Format == "" {
		return result, nil
	}
	renderStart := time.Now()
	f, _ := render.ParseFormat(opts.Format)
	artifact, hit, err := r.RenderWithCacheInfo(ctx, ws, result.ModelHash, f, opts)
	if err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	result.Artifact = artifact
	result.Format = f
	result.Stats.RenderTime = time.Since(renderStart)
	result.CacheInfo.RenderHit = hit
	logger.Info("rendered graph",
		"format", f,
		"bytes", len(artifact),
		"cached", hit,
		"duration", result.Stats.RenderTime)

	return result, nil
}

// Load reads and decodes the model file at path. It returns the source
// as well, for cache keys.
func (r *Runner) Load(ctx context.Context, path string) (ws *model.Workspace, src []byte, err error) {
	hooks := observability.Pipeline()
	hooks.OnLoadStart(ctx, path)
	start := time.Now()
	defer func() {
		n := 0
		if ws != nil {
			n = ws.Graph().NodeCount()
		}
		hooks.OnLoadComplete(ctx, path, n, time.Since(start), err)
	}()

	if err := errors.ValidateModelPath(path); err != nil {
		return nil, nil, err
	}
	src, err = os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, errors.Wrap(errors.ErrCodeFileNotFound, err, "model %s", path)
		}
		return nil, nil, fmt.Errorf("read %s: %w", path, err)
	}
	ws, err = modelio.ReadHCL(bytes.NewReader(src), path, model.WithLogger(r.Logger))
	if err != nil {
		return nil, nil, err
	}
	return ws, src, nil
}

// SampleWithCacheInfo runs opts.Chains chains on clones of ws and
// reports whether the results came from the cache. Runs that write a
// trace always sample.
func (r *Runner) SampleWithCacheInfo(ctx context.Context, ws *model.Workspace, modelHash string, opts Options) ([]ChainResult, bool, error) {
	key := r.Keyer.RunKey(modelHash, opts.RunKeyOpts())
	if !opts.Refresh && opts.Trace == "" {
		var cached []ChainResult
		if err := cache.GetJSON(ctx, r.Cache, key, &cached); err == nil && len(cached) == opts.Chains {
			return cached, true, nil
		}
	}

	// Clones are made up front; a workspace is not safe for concurrent use.
	clones := make([]*model.Workspace, opts.Chains)
	for c := range clones {
		clone, err := ws.Clone(opts.ChainSeed(c))
		if err != nil {
			return nil, false, err
		}
		clones[c] = clone
	}

	results := make([]ChainResult, opts.Chains)
	g, gctx := errgroup.WithContext(ctx)
	if opts.Parallel > 0 {
		g.SetLimit(opts.Parallel)
	}
	for c := range clones {
		g.Go(func() error {
			res, err := r.runChain(gctx, clones[c], c, opts)
			if err != nil {
				return fmt.Errorf("chain %d: %w", c, err)
			}
			results[c] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, false, err
	}

	if err := cache.SetJSON(ctx, r.Cache, key, results, cache.TTLRun); err != nil {
		r.Logger.Warn("cache run result", "err", err)
	}
	return results, false, nil
}

// Sample is SampleWithCacheInfo without the cache hit info.
func (r *Runner) Sample(ctx context.Context, ws *model.Workspace, modelHash string, opts Options) ([]ChainResult, error) {
	results, _, err := r.SampleWithCacheInfo(ctx, ws, modelHash, opts)
	return results, err
}

func (r *Runner) runChain(ctx context.Context, ws *model.Workspace, chain int, opts Options) (res ChainResult, err error) {
	g := ws.Graph()
	seed := opts.ChainSeed(chain)
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	moves, err := Moves(ws, opts.Moves)
	if err != nil {
		return res, err
	}
	recorded, err := lookupAll(ws, opts.Monitor)
	if err != nil {
		return res, err
	}

	sopts := []mcmc.SamplerOption{mcmc.WithLogger(r.Logger.With("chain", chain))}
	if len(recorded) > 0 {
		sopts = append(sopts, mcmc.WithRecorded(recorded...))
	}
	if path := opts.TracePath(chain); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return res, fmt.Errorf("create trace: %w", err)
		}
		defer func() {
			if cerr := f.Close(); err == nil && cerr != nil {
				err = cerr
			}
		}()
		sopts = append(sopts, mcmc.WithMonitor(mcmc.NewTraceMonitor(f, g, recorded...)))
	}

	s, err := mcmc.NewSampler(g, moves, rng, sopts...)
	if err != nil {
		return res, err
	}
	out, err := s.Run(ctx, mcmc.RunOptions{
		Chain:      chain,
		Iterations: opts.Iterations,
		BurnIn:     opts.BurnInIterations(),
		Thin:       opts.Thin,
	})
	if err != nil {
		return res, err
	}
	return ChainResult{
		Chain:       chain,
		Seed:        seed,
		Samples:     out.Samples,
		Moves:       out.Moves,
		Means:       out.Means,
		LnPosterior: out.LnPosterior,
		Duration:    out.Duration,
	}, nil
}

// Moves builds the moves of specs on the graph of ws. Without specs
// every unclamped random variable gets its default move.
func Moves(ws *model.Workspace, specs []MoveSpec) ([]mcmc.Move, error) {
	if len(specs) == 0 {
		return mcmc.DefaultMoves(ws.Graph())
	}
	moves := make([]mcmc.Move, 0, len(specs))
	for _, spec := range specs {
		h, ok := ws.Lookup(spec.Node)
		if !ok {
			return nil, errors.New(errors.ErrCodeNotFound, "move %s: no node named %q", spec.Kind, spec.Node)
		}
		m, err := mcmc.NewMove(spec.Kind, ws.Graph(), h, spec.Tuning)
		if err != nil {
			return nil, err
		}
		moves = append(moves, m)
	}
	return moves, nil
}

func lookupAll(ws *model.Workspace, names []string) ([]dag.Handle, error) {
	hs := make([]dag.Handle, 0, len(names))
	for _, name := range names {
		h, ok := ws.Lookup(name)
		if !ok {
			return nil, errors.New(errors.ErrCodeNotFound, "monitor: no node named %q", name)
		}
		hs = append(hs, h)
	}
	return hs, nil
}

// RenderWithCacheInfo draws the graph of ws in format f and reports
// whether the artifact came from the cache. The graph is drawn in its
// loaded state, so with opts.Values the labels show initial values.
func (r *Runner) RenderWithCacheInfo(ctx context.Context, ws *model.Workspace, modelHash string, f render.Format, opts Options) (data []byte, hit bool, err error) {
	key := r.Keyer.ArtifactKey(modelHash, opts.ArtifactKeyOpts(f))
	if !opts.Refresh {
		if data, ok, err := r.Cache.Get(ctx, key); err == nil && ok {
			return data, true, nil
		}
	}

	hooks := observability.Pipeline()
	hooks.OnRenderStart(ctx, string(f))
	start := time.Now()
	defer func() {
		hooks.OnRenderComplete(ctx, string(f), time.Since(start), err)
	}()

	dot := nodelink.ToDOT(ws.Graph(), nodelink.Options{
		Values: opts.Values,
		Ranked: opts.Ranked,
		Names:  ws.NameOf,
	})
	data, err = nodelink.Render(ctx, dot, f, opts.Scale)
	if err != nil {
		return nil, false, err
	}
	if err := r.Cache.Set(ctx, key, data, cache.TTLArtifact); err != nil {
		r.Logger.Warn("cache artifact", "err", err)
	}
	return data, false, nil
}

// Render is RenderWithCacheInfo without the cache hit info.
func (r *Runner) Render(ctx context.Context, ws *model.Workspace, modelHash string, f render.Format, opts Options) ([]byte, error) {
	data, _, err := r.RenderWithCacheInfo(ctx, ws, modelHash, f, opts)
	return data, err
}

// Close releases resources held by the runner (primarily the cache).
func (r *Runner) Close() error {
	if r.Cache != nil {
		return r.Cache.Close()
	}
	return nil
}
