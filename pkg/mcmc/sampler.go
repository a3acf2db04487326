package mcmc

import (
	"context"
	"math"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/modeldag/pkg/dag"
	"github.com/matzehuels/modeldag/pkg/errors"
	"github.com/matzehuels/modeldag/pkg/observability"
)

// RunOptions configures one chain.
type RunOptions struct {
	// Chain identifies the chain in hooks and logs.
	Chain int
	// Iterations after burn-in. Each iteration proposes every move once,
	// in random order.
	Iterations int
	// BurnIn iterations are run first and not recorded.
	BurnIn int
	// Thin records every Thin-th iteration. Zero means every iteration.
	Thin int
}

func (o RunOptions) withDefaults() RunOptions {
	if o.Thin <= 0 {
		o.Thin = 1
	}
	return o
}

// MoveStats counts the proposals of one move. Failed proposals could not
// be evaluated (a domain error at the proposed state) and count as
// rejected.
type MoveStats struct {
	Name     string
	Proposed int
	Accepted int
	Failed   int
}

// AcceptanceRate returns Accepted/Proposed, or 0 before any proposal.
func (s MoveStats) AcceptanceRate() float64 {
	if s.Proposed == 0 {
		return 0
	}
	return float64(s.Accepted) / float64(s.Proposed)
}

// Result summarizes a finished chain.
type Result struct {
	Chain       int
	Iterations  int
	Samples     int
	Moves       []MoveStats
	Means       map[string]float64 // posterior means of recorded nodes, by name
	LnPosterior float64            // at the final state
	Duration    time.Duration
}

// SamplerOption configures a [Sampler].
type SamplerOption func(*Sampler)

// WithLogger sets the sampler's logger.
func WithLogger(l *log.Logger) SamplerOption {
	return func(s *Sampler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithHooks overrides the global sampler hooks.
func WithHooks(h observability.SamplerHooks) SamplerOption {
	return func(s *Sampler) {
		if h != nil {
			s.hooks = h
		}
	}
}

// WithMonitor adds a monitor that receives every recorded sample.
func WithMonitor(m Monitor) SamplerOption {
	return func(s *Sampler) {
		if m != nil {
			s.monitors = append(s.monitors, m)
		}
	}
}

// WithRecorded sets the nodes whose posterior means are reported. The
// default is every unclamped random variable.
func WithRecorded(hs ...dag.Handle) SamplerOption {
	return func(s *Sampler) {
		s.recorded = slices.Clone(hs)
	}
}

// Sampler runs Metropolis-Hastings over a graph. Every proposal is one
// transaction: the move touches its targets, the sampler sums the
// log-probability ratios of the targets and every stochastic node they
// affect, and then keeps or restores the wave. Between proposals the
// graph has no open transaction.
//
// A Sampler owns its graph for the duration of a run and is not safe for
// concurrent use; run parallel chains on clones.
type Sampler struct {
	g        *dag.Graph
	moves    []Move
	rng      *rand.Rand
	logger   *log.Logger
	hooks    observability.SamplerHooks
	monitors []Monitor
	recorded []dag.Handle
	stats    []MoveStats
}

// NewSampler creates a sampler over g proposing moves with randomness
// from rng.
func NewSampler(g *dag.Graph, moves []Move, rng *rand.Rand, opts ...SamplerOption) (*Sampler, error) {
	if len(moves) == 0 {
		return nil, errors.New(errors.ErrCodeInvalidInput, "sampler needs at least one move")
	}
	if rng == nil {
		return nil, errors.New(errors.ErrCodeInvalidInput, "sampler needs a random source")
	}
	s := &Sampler{
		g:      g,
		moves:  slices.Clone(moves),
		rng:    rng,
		logger: log.Default(),
		hooks:  observability.Sampler(),
		stats:  make([]MoveStats, len(moves)),
	}
	for i, m := range moves {
		s.stats[i].Name = m.Name()
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.recorded == nil {
		for _, h := range g.Stochastic() {
			if !g.IsClamped(h) {
				s.recorded = append(s.recorded, h)
			}
		}
	}
	return s, nil
}

// Stats returns the proposal counts so far, one entry per move.
func (s *Sampler) Stats() []MoveStats { return slices.Clone(s.stats) }

// Step proposes move i once and reports whether it was accepted. Errors
// other than retryable ones are returned after the wave was restored.
//
// An accepted proposal is always committed. If a deterministic node
// outside the likelihood cannot be recomputed at the new state, Step
// still reports the acceptance and returns that node's error; the node
// stays dirty and reports the same error when read.
func (s *Sampler) Step(ctx context.Context, i int) (bool, error) {
	m := s.moves[i]
	st := &s.stats[i]
	st.Proposed++

	lnAccept, err := s.evaluate(m)
	if err != nil {
		s.g.RestoreAll()
		if !errors.Retryable(err) {
			return false, err
		}
		st.Failed++
		s.hooks.OnProposal(ctx, m.Name(), false, math.Inf(-1))
		return false, nil
	}

	accept := !math.IsNaN(lnAccept) && (lnAccept >= 0 || math.Log(s.rng.Float64()) < lnAccept)
	if accept {
		st.Accepted++
		if err := s.g.Keep(m.Targets()...); err != nil {
			s.logger.Warn("accepted state has undefined dependents", "move", m.Name(), "err", err)
			s.hooks.OnProposal(ctx, m.Name(), true, lnAccept)
			return true, err
		}
	} else if err := s.g.Restore(m.Targets()...); err != nil {
		return false, err
	}
	s.hooks.OnProposal(ctx, m.Name(), accept, lnAccept)
	return accept, nil
}

// evaluate proposes m and returns the log acceptance ratio.
func (s *Sampler) evaluate(m Move) (float64, error) {
	lnHastings, err := m.Propose(s.g, s.rng)
	if err != nil {
		return 0, err
	}
	targets := m.Targets()
	affected, err := s.g.Affected(targets...)
	if err != nil {
		return 0, err
	}
	total := lnHastings
	seen := make(map[dag.Handle]bool, len(targets)+len(affected))
	for _, h := range append(slices.Clone(targets), affected...) {
		if seen[h] {
			continue
		}
		seen[h] = true
		if kind, _ := s.g.Kind(h); kind != dag.KindStochastic {
			continue
		}
		r, err := s.g.LnProbabilityRatio(h)
		if err != nil {
			return 0, err
		}
		total += r
	}
	return total, nil
}

// Run runs burn-in and then the recorded iterations. The graph is
// refreshed first so that every log-probability has a stored value; an
// initial state with zero probability is a domain error.
func (s *Sampler) Run(ctx context.Context, opts RunOptions) (res *Result, err error) {
	opts = opts.withDefaults()
	if opts.Iterations < 0 || opts.BurnIn < 0 {
		return nil, errors.New(errors.ErrCodeInvalidInput, "iterations and burn-in must not be negative")
	}
	if s.g.InTransaction() {
		return nil, errors.Wrap(errors.ErrCodeInvalidOperation, dag.ErrInTransaction, "run chain %d", opts.Chain)
	}
	if err := s.g.Refresh(); err != nil {
		return nil, err
	}
	lnPost, err := s.g.LnPosterior()
	if err != nil {
		return nil, err
	}
	if math.IsInf(lnPost, -1) || math.IsNaN(lnPost) {
		return nil, errors.New(errors.ErrCodeDomain, "initial state of chain %d has zero probability", opts.Chain)
	}

	start := time.Now()
	s.hooks.OnChainStart(ctx, opts.Chain, opts.Iterations)
	defer func() {
		s.hooks.OnChainComplete(ctx, opts.Chain, time.Since(start), err)
	}()

	sums := make([]float64, len(s.recorded))
	samples := 0
	total := opts.BurnIn + opts.Iterations
	for it := 1; it <= total; it++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, i := range s.rng.Perm(len(s.moves)) {
			if _, err := s.Step(ctx, i); err != nil {
				return nil, err
			}
		}
		if it <= opts.BurnIn || (it-opts.BurnIn)%opts.Thin != 0 {
			continue
		}

		if lnPost, err = s.g.LnPosterior(); err != nil {
			return nil, err
		}
		for j, h := range s.recorded {
			v, err := s.g.Value(h)
			if err != nil {
				return nil, err
			}
			if f, err := dag.AsFloat(v); err == nil {
				sums[j] += f
			}
		}
		samples++
		for _, m := range s.monitors {
			if err := m.Record(it-opts.BurnIn, lnPost); err != nil {
				return nil, err
			}
		}
	}
	for _, m := range s.monitors {
		if err := m.Flush(); err != nil {
			return nil, err
		}
	}

	if lnPost, err = s.g.LnPosterior(); err != nil {
		return nil, err
	}
	res = &Result{
		Chain:       opts.Chain,
		Iterations:  opts.Iterations,
		Samples:     samples,
		Moves:       s.Stats(),
		Means:       make(map[string]float64, len(s.recorded)),
		LnPosterior: lnPost,
		Duration:    time.Since(start),
	}
	if samples > 0 {
		for j, h := range s.recorded {
			res.Means[s.g.Name(h)] = sums[j] / float64(samples)
		}
	}
	s.logger.Debug("chain complete", "chain", opts.Chain, "samples", samples, "duration", res.Duration)
	return res, nil
}
