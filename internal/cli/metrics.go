package cli

import (
	"context"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/matzehuels/modeldag/pkg/observability"
)

const metricsNamespace = "modeldag"

// metrics implements every observability hook interface on Prometheus
// collectors. Node names are never used as labels; kinds are.
type metrics struct {
	// Labels: op (touch, keep, restore), kind
	waveVisits *prometheus.CounterVec
	// Labels: kind, status (ok, error)
	recomputes *prometheus.CounterVec

	// Labels: move (kind, e.g. slide), result (accepted, rejected)
	proposals      *prometheus.CounterVec
	activeChains   prometheus.Gauge
	chainsTotal    *prometheus.CounterVec // status
	chainDuration  prometheus.Histogram
	loadDuration   *prometheus.HistogramVec // status
	renderDuration *prometheus.HistogramVec // format, status

	// Labels: type (run, artifact), result (hit, miss, set)
	cacheOps   *prometheus.CounterVec
	cacheBytes *prometheus.CounterVec // type
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		waveVisits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "graph",
			Name:      "wave_visits_total",
			Help:      "Nodes visited by touch, keep and restore waves.",
		}, []string{"op", "kind"}),
		recomputes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "graph",
			Name:      "recomputes_total",
			Help:      "Lazy recomputations of dirty nodes.",
		}, []string{"kind", "status"}),
		proposals: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "sampler",
			Name:      "proposals_total",
			Help:      "Metropolis-Hastings proposals by move and outcome.",
		}, []string{"move", "result"}),
		activeChains: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "sampler",
			Name:      "active_chains",
			Help:      "Chains currently running.",
		}),
		chainsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "sampler",
			Name:      "chains_total",
			Help:      "Finished chains by status.",
		}, []string{"status"}),
		chainDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "sampler",
			Name:      "chain_duration_seconds",
			Help:      "Wall time of a chain.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		loadDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "pipeline",
			Name:      "load_duration_seconds",
			Help:      "Time to load a model file.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
		renderDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "pipeline",
			Name:      "render_duration_seconds",
			Help:      "Time to render a model graph.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"format", "status"}),
		cacheOps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "cache",
			Name:      "operations_total",
			Help:      "Cache lookups and writes.",
		}, []string{"type", "result"}),
		cacheBytes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "cache",
			Name:      "written_bytes_total",
			Help:      "Bytes written to the cache.",
		}, []string{"type"}),
	}
}

// install registers m as the global hooks. Graphs created afterwards
// report their transaction waves to it.
func (m *metrics) install() {
	observability.SetTransactionHooks(m)
	observability.SetSamplerHooks(m)
	observability.SetPipelineHooks(m)
	observability.SetCacheHooks(m)
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Transaction hooks

func (m *metrics) OnTouch(kind, _ string)   { m.waveVisits.WithLabelValues("touch", kind).Inc() }
func (m *metrics) OnKeep(kind, _ string)    { m.waveVisits.WithLabelValues("keep", kind).Inc() }
func (m *metrics) OnRestore(kind, _ string) { m.waveVisits.WithLabelValues("restore", kind).Inc() }

func (m *metrics) OnRecompute(kind, _ string, _ time.Duration, err error) {
	m.recomputes.WithLabelValues(kind, status(err)).Inc()
}

// Sampler hooks

func (m *metrics) OnChainStart(context.Context, int, int) {
	m.activeChains.Inc()
}

func (m *metrics) OnProposal(_ context.Context, move string, accepted bool, _ float64) {
	result := "rejected"
	if accepted {
		result = "accepted"
	}
	m.proposals.WithLabelValues(moveKind(move), result).Inc()
}

// moveKind strips the target from a move name: "slide(mu)" is "slide".
func moveKind(move string) string {
	if i := strings.IndexByte(move, '('); i > 0 {
		return move[:i]
	}
	return move
}

func (m *metrics) OnChainComplete(_ context.Context, _ int, d time.Duration, err error) {
	m.activeChains.Dec()
	m.chainsTotal.WithLabelValues(status(err)).Inc()
	m.chainDuration.Observe(d.Seconds())
}

// Pipeline hooks

func (m *metrics) OnLoadStart(context.Context, string) {}

func (m *metrics) OnLoadComplete(_ context.Context, _ string, _ int, d time.Duration, err error) {
	m.loadDuration.WithLabelValues(status(err)).Observe(d.Seconds())
}

func (m *metrics) OnRenderStart(context.Context, string) {}

func (m *metrics) OnRenderComplete(_ context.Context, format string, d time.Duration, err error) {
	m.renderDuration.WithLabelValues(format, status(err)).Observe(d.Seconds())
}

// Cache hooks

func (m *metrics) OnCacheHit(_ context.Context, keyType string) {
	m.cacheOps.WithLabelValues(keyType, "hit").Inc()
}

func (m *metrics) OnCacheMiss(_ context.Context, keyType string) {
	m.cacheOps.WithLabelValues(keyType, "miss").Inc()
}

func (m *metrics) OnCacheSet(_ context.Context, keyType string, size int) {
	m.cacheOps.WithLabelValues(keyType, "set").Inc()
	m.cacheBytes.WithLabelValues(keyType).Add(float64(size))
}

var (
	_ observability.TransactionHooks = (*metrics)(nil)
	_ observability.SamplerHooks     = (*metrics)(nil)
	_ observability.PipelineHooks    = (*metrics)(nil)
	_ observability.CacheHooks       = (*metrics)(nil)
)
