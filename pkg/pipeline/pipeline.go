// Package pipeline runs inference on a model file: load, sample, render.
//
// The CLI and the HTTP server both go through a [Runner], so caching,
// chain seeding and logging behave the same everywhere.
//
// # Stages
//
//  1. Load: parse the HCL model file into a workspace
//  2. Sample: run one Metropolis-Hastings chain per clone of the
//     workspace, concurrently
//  3. Render: draw the model graph as DOT, SVG, PDF or PNG (optional)
//
// Sampler results and rendered graphs are cached under the hash of the
// model source and the options that affect them.
//
// # Usage
//
//	opts, err := pipeline.LoadOptions("run.toml")
//	runner := pipeline.NewRunner(c, nil, logger)
//	result, err := runner.Execute(ctx, opts)
//	for name, mean := range result.Means() {
//	    fmt.Println(name, mean)
//	}
//
// A run configuration looks like this:
//
//	model      = "regression.hcl"
//	iterations = 5000
//	burn_in    = 500
//	chains     = 4
//	seed       = 7
//	trace      = "trace.tsv"
//
//	[[move]]
//	node   = "sigma"
//	kind   = "scale"
//	tuning = 0.5
//
//	[cache]
//	backend = "redis"
//	url     = "redis://localhost:6379/0"
package pipeline

import (
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/matzehuels/modeldag/pkg/cache"
	"github.com/matzehuels/modeldag/pkg/errors"
	"github.com/matzehuels/modeldag/pkg/mcmc"
	"github.com/matzehuels/modeldag/pkg/render"
)

// =============================================================================
// Default Values
// =============================================================================

const (
	DefaultIterations = 1000
	DefaultBurnIn     = 100
	DefaultThin       = 1
	DefaultChains     = 1
	DefaultSeed       = uint64(42)
	DefaultScale      = 1.0
)

// Cache backends.
const (
	CacheNone  = "none"
	CacheFile  = "file"
	CacheRedis = "redis"
)

// MoveKinds lists the move kinds accepted in a [MoveSpec].
var MoveKinds = []string{"slide", "scale", "redraw"}

// =============================================================================
// Options
// =============================================================================

// MoveSpec selects a proposal move for one random variable.
type MoveSpec struct {
	Node   string  `toml:"node" json:"node"`
	Kind   string  `toml:"kind" json:"kind"`
	Tuning float64 `toml:"tuning" json:"tuning,omitempty"`
}

// CacheOptions selects the cache backend.
type CacheOptions struct {
	Backend string `toml:"backend" json:"backend,omitempty"`
	Dir     string `toml:"dir" json:"dir,omitempty"`
	URL     string `toml:"url" json:"url,omitempty"`
	Prefix  string `toml:"prefix" json:"prefix,omitempty"`
}

// Options configures a pipeline run. It is decoded from a TOML run
// configuration and may be overridden by command-line flags.
type Options struct {
	// Model is the path of the HCL model file.
	Model string `toml:"model" json:"model"`

	// Sampling
	Iterations int    `toml:"iterations" json:"iterations,omitempty"`
	BurnIn     *int   `toml:"burn_in" json:"burn_in,omitempty"` // nil = DefaultBurnIn, 0 = none
	Thin       int    `toml:"thin" json:"thin,omitempty"`
	Chains     int    `toml:"chains" json:"chains,omitempty"`
	Parallel   int    `toml:"parallel" json:"parallel,omitempty"` // max concurrent chains, 0 = all
	Seed       uint64 `toml:"seed" json:"seed,omitempty"`

	// Moves defaults to one move per unclamped variable, see
	// [mcmc.DefaultMoves]. Monitor defaults to every unclamped variable.
	Moves   []MoveSpec `toml:"move" json:"moves,omitempty"`
	Monitor []string   `toml:"monitor" json:"monitor,omitempty"`
	Trace   string     `toml:"trace" json:"trace,omitempty"`

	// Rendering. Nothing is rendered when Format is empty.
	Format string  `toml:"format" json:"format,omitempty"`
	Output string  `toml:"output" json:"output,omitempty"`
	Values bool    `toml:"values" json:"values,omitempty"`
	Ranked bool    `toml:"ranked" json:"ranked,omitempty"`
	Scale  float64 `toml:"scale" json:"scale,omitempty"`

	Cache CacheOptions `toml:"cache" json:"cache,omitempty"`

	// Refresh bypasses cached results. Fresh results are still stored.
	Refresh bool `toml:"-" json:"-"`
}

// LoadOptions decodes a TOML run configuration. Relative paths in it are
// resolved against the directory of the configuration file. Unknown
// keys are rejected.
func LoadOptions(path string) (Options, error) {
	var opts Options
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return opts, errors.Wrap(errors.ErrCodeFileNotFound, err, "run configuration %s", path)
	}
	md, err := toml.DecodeFile(path, &opts)
	if err != nil {
		return opts, errors.Wrap(errors.ErrCodeInvalidConfig, err, "decode %s", path)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return opts, errors.New(errors.ErrCodeInvalidConfig, "%s: unknown key %q", path, undecoded[0].String())
	}

	dir := filepath.Dir(path)
	for _, p := range []*string{&opts.Model, &opts.Trace, &opts.Output, &opts.Cache.Dir} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(dir, *p)
		}
	}
	return opts, nil
}

// WithDefaults returns a copy of o with defaults applied. The render
// format is taken from the output file extension when not set.
func (o Options) WithDefaults() Options {
	if o.Iterations == 0 {
		o.Iterations = DefaultIterations
	}
	if o.BurnIn == nil {
		burnIn := DefaultBurnIn
		o.BurnIn = &burnIn
	}
	if o.Thin == 0 {
		o.Thin = DefaultThin
	}
	if o.Chains == 0 {
		o.Chains = DefaultChains
	}
	if o.Seed == 0 {
		o.Seed = DefaultSeed
	}
	if o.Format == "" && o.Output != "" {
		o.Format = strings.TrimPrefix(filepath.Ext(o.Output), ".")
	}
	if o.Scale == 0 {
		o.Scale = DefaultScale
	}
	if o.Cache.Backend == "" {
		o.Cache.Backend = CacheNone
		if o.Cache.Dir != "" {
			o.Cache.Backend = CacheFile
		}
	}
	return o
}

// Validate checks o. Call it after [Options.WithDefaults].
func (o Options) Validate() error {
	if err := errors.ValidateModelPath(o.Model); err != nil {
		return err
	}
	if o.Iterations < 0 || o.BurnInIterations() < 0 || o.Parallel < 0 {
		return errors.New(errors.ErrCodeInvalidConfig, "iterations, burn_in and parallel must not be negative")
	}
	if o.Thin < 1 || o.Chains < 1 {
		return errors.New(errors.ErrCodeInvalidConfig, "thin and chains must be at least 1")
	}
	for i, m := range o.Moves {
		if m.Node == "" {
			return errors.New(errors.ErrCodeInvalidConfig, "move %d: node is required", i+1)
		}
		if !slices.Contains(MoveKinds, m.Kind) {
			return errors.New(errors.ErrCodeInvalidConfig, "move %d: unknown kind %q (want %s)", i+1, m.Kind, strings.Join(MoveKinds, ", "))
		}
		if m.Tuning < 0 {
			return errors.New(errors.ErrCodeInvalidConfig, "move %d: tuning must not be negative", i+1)
		}
	}
	if o.Format != "" {
		if _, err := render.ParseFormat(o.Format); err != nil {
			return errors.Wrap(errors.ErrCodeInvalidConfig, err, "format")
		}
	}
	if o.Scale <= 0 {
		return errors.New(errors.ErrCodeInvalidConfig, "scale must be positive")
	}
	switch o.Cache.Backend {
	case CacheNone:
	case CacheFile:
		if o.Cache.Dir == "" {
			return errors.New(errors.ErrCodeInvalidConfig, "file cache needs a directory")
		}
	case CacheRedis:
		if o.Cache.URL == "" {
			return errors.New(errors.ErrCodeInvalidConfig, "redis cache needs a url")
		}
	default:
		return errors.New(errors.ErrCodeInvalidConfig, "unknown cache backend %q (want none, file or redis)", o.Cache.Backend)
	}
	return nil
}

// TracePath returns the trace file of a chain. With several chains the
// chain number is inserted before the extension: trace.tsv becomes
// trace.2.tsv for chain 2.
func (o Options) TracePath(chain int) string {
	if o.Trace == "" || o.Chains <= 1 {
		return o.Trace
	}
	ext := filepath.Ext(o.Trace)
	return strings.TrimSuffix(o.Trace, ext) + "." + strconv.Itoa(chain) + ext
}

// BurnInIterations returns the burn-in length, DefaultBurnIn when unset.
func (o Options) BurnInIterations() int {
	if o.BurnIn == nil {
		return DefaultBurnIn
	}
	return *o.BurnIn
}

// ChainSeed returns the seed of a chain.
func (o Options) ChainSeed(chain int) uint64 {
	return o.Seed + uint64(chain)
}

// RunKeyOpts returns cache key options for sampler results.
func (o Options) RunKeyOpts() cache.RunKeyOpts {
	moves := make([]string, len(o.Moves))
	for i, m := range o.Moves {
		moves[i] = m.Node + ":" + m.Kind + ":" + strconv.FormatFloat(m.Tuning, 'g', -1, 64)
	}
	return cache.RunKeyOpts{
		Iterations: o.Iterations,
		BurnIn:     o.BurnInIterations(),
		Thin:       o.Thin,
		Chains:     o.Chains,
		Seed:       o.Seed,
		Moves:      moves,
		Monitor:    o.Monitor,
	}
}

// ArtifactKeyOpts returns cache key options for a rendered graph.
func (o Options) ArtifactKeyOpts(f render.Format) cache.ArtifactKeyOpts {
	return cache.ArtifactKeyOpts{
		Format: string(f),
		Values: o.Values,
		Ranked: o.Ranked,
		Scale:  o.Scale,
	}
}

// =============================================================================
// Results
// =============================================================================

// ChainResult summarizes one chain.
type ChainResult struct {
	Chain       int                `json:"chain"`
	Seed        uint64             `json:"seed"`
	Samples     int                `json:"samples"`
	Moves       []mcmc.MoveStats   `json:"moves"`
	Means       map[string]float64 `json:"means"`
	LnPosterior float64            `json:"ln_posterior"`
	Duration    time.Duration      `json:"duration"`
}

// Result contains the outputs of a pipeline run.
type Result struct {
	// RunID identifies the run in logs and server responses.
	RunID string `json:"run_id"`

	// ModelHash is the SHA-256 of the model source.
	ModelHash string `json:"model_hash"`

	Chains []ChainResult `json:"chains"`

	// Artifact is the rendered graph in Format, if requested.
	Artifact []byte        `json:"-"`
	Format   render.Format `json:"format,omitempty"`

	Stats     Stats     `json:"stats"`
	CacheInfo CacheInfo `json:"cache"`
}

// Stats contains pipeline execution statistics.
type Stats struct {
	NodeCount  int           `json:"nodes"`
	EdgeCount  int           `json:"edges"`
	LoadTime   time.Duration `json:"load_time"`
	SampleTime time.Duration `json:"sample_time"`
	RenderTime time.Duration `json:"render_time,omitempty"`
}

// CacheInfo tracks which stages hit the cache.
type CacheInfo struct {
	RunHit    bool `json:"run_hit"`
	RenderHit bool `json:"render_hit,omitempty"`
}

// Means returns the posterior means pooled over all chains, weighted by
// their number of samples.
func (r *Result) Means() map[string]float64 {
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, c := range r.Chains {
		for name, m := range c.Means {
			sums[name] += m * float64(c.Samples)
			counts[name] += c.Samples
		}
	}
	means := make(map[string]float64, len(sums))
	for name, s := range sums {
		if counts[name] > 0 {
			means[name] = s / float64(counts[name])
		}
	}
	return means
}

// Samples returns the total number of recorded samples.
func (r *Result) Samples() int {
	n := 0
	for _, c := range r.Chains {
		n += c.Samples
	}
	return n
}
