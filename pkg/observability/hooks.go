// Package observability provides hooks for metrics, tracing, and logging.
//
// This package enables optional instrumentation without adding hard dependencies
// on specific observability backends. Consumers can register hooks at startup
// to receive events about transaction waves in the model graph, sampler
// proposals, pipeline stages and cache operations.
//
// # Architecture
//
// The package uses a simple hooks pattern:
//   - Define hook interfaces for different event categories
//   - Provide no-op default implementations
//   - Allow registration of custom implementations at startup
//
// The engine packages only depend on this package; the Prometheus
// implementation lives in the CLI, which registers it from main.
//
// # Usage
//
// Register hooks at application startup:
//
//	func main() {
//	    observability.SetTransactionHooks(&myTransactionHooks{})
//	    observability.SetSamplerHooks(&mySamplerHooks{})
//	    // ... run application
//	}
//
// Libraries call hooks to emit events:
//
//	observability.Transaction().OnTouch("transform", "rate")
//	observability.Sampler().OnProposal(ctx, "slide(mu)", accepted, lnRatio)
//
// A graph may carry its own [TransactionHooks] instead of the global ones,
// which keeps tests that count visits independent of each other.
package observability

import (
	"context"
	"sync"
	"time"
)

// =============================================================================
// Transaction Hooks
// =============================================================================

// TransactionHooks receives events from touch, keep and restore waves and
// from lazy recomputation. Calls happen on the hot path of every proposal,
// so implementations must be cheap and must not call back into the graph.
type TransactionHooks interface {
	// OnTouch is called once per node visited by a touch wave.
	OnTouch(kind, node string)

	// OnKeep is called once per node committed by a keep wave.
	OnKeep(kind, node string)

	// OnRestore is called once per node rolled back by a restore wave.
	OnRestore(kind, node string)

	// OnRecompute is called after a dirty node was recomputed.
	OnRecompute(kind, node string, duration time.Duration, err error)
}

// =============================================================================
// Sampler Hooks
// =============================================================================

// SamplerHooks receives events from the inference driver.
type SamplerHooks interface {
	OnChainStart(ctx context.Context, chain int, iterations int)
	OnProposal(ctx context.Context, move string, accepted bool, lnRatio float64)
	OnChainComplete(ctx context.Context, chain int, duration time.Duration, err error)
}

// =============================================================================
// Pipeline Hooks
// =============================================================================

// PipelineHooks receives events from the run pipeline.
type PipelineHooks interface {
	OnLoadStart(ctx context.Context, path string)
	OnLoadComplete(ctx context.Context, path string, nodeCount int, duration time.Duration, err error)

	OnRenderStart(ctx context.Context, format string)
	OnRenderComplete(ctx context.Context, format string, duration time.Duration, err error)
}

// =============================================================================
// Cache Hooks
// =============================================================================

// CacheHooks receives events from cache operations.
type CacheHooks interface {
	// OnCacheHit records a cache hit.
	OnCacheHit(ctx context.Context, keyType string)

	// OnCacheMiss records a cache miss.
	OnCacheMiss(ctx context.Context, keyType string)

	// OnCacheSet records a cache write.
	OnCacheSet(ctx context.Context, keyType string, size int)
}

// =============================================================================
// No-op Implementations
// =============================================================================

// NoopTransactionHooks is a no-op implementation of TransactionHooks.
type NoopTransactionHooks struct{}

func (NoopTransactionHooks) OnTouch(string, string)                             {}
func (NoopTransactionHooks) OnKeep(string, string)                              {}
func (NoopTransactionHooks) OnRestore(string, string)                           {}
func (NoopTransactionHooks) OnRecompute(string, string, time.Duration, error) {}

// NoopSamplerHooks is a no-op implementation of SamplerHooks.
type NoopSamplerHooks struct{}

func (NoopSamplerHooks) OnChainStart(context.Context, int, int)                     {}
func (NoopSamplerHooks) OnProposal(context.Context, string, bool, float64)          {}
func (NoopSamplerHooks) OnChainComplete(context.Context, int, time.Duration, error) {}

// NoopPipelineHooks is a no-op implementation of PipelineHooks.
type NoopPipelineHooks struct{}

func (NoopPipelineHooks) OnLoadStart(context.Context, string) {}
func (NoopPipelineHooks) OnLoadComplete(context.Context, string, int, time.Duration, error) {
}
func (NoopPipelineHooks) OnRenderStart(context.Context, string)                          {}
func (NoopPipelineHooks) OnRenderComplete(context.Context, string, time.Duration, error) {}

// NoopCacheHooks is a no-op implementation of CacheHooks.
type NoopCacheHooks struct{}

func (NoopCacheHooks) OnCacheHit(context.Context, string)      {}
func (NoopCacheHooks) OnCacheMiss(context.Context, string)     {}
func (NoopCacheHooks) OnCacheSet(context.Context, string, int) {}

// =============================================================================
// Global Hook Registry
// =============================================================================

var (
	transactionHooks TransactionHooks = NoopTransactionHooks{}
	samplerHooks     SamplerHooks     = NoopSamplerHooks{}
	pipelineHooks    PipelineHooks    = NoopPipelineHooks{}
	cacheHooks       CacheHooks       = NoopCacheHooks{}
	hooksMu          sync.RWMutex
)

// SetTransactionHooks registers custom transaction hooks.
// Graphs created afterwards pick them up unless they carry their own.
func SetTransactionHooks(h TransactionHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		transactionHooks = h
	}
}

// SetSamplerHooks registers custom sampler hooks.
func SetSamplerHooks(h SamplerHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		samplerHooks = h
	}
}

// SetPipelineHooks registers custom pipeline hooks.
// This should be called once at application startup before any pipeline operations.
func SetPipelineHooks(h PipelineHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		pipelineHooks = h
	}
}

// SetCacheHooks registers custom cache hooks.
// This should be called once at application startup before any cache operations.
func SetCacheHooks(h CacheHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		cacheHooks = h
	}
}

// Transaction returns the registered transaction hooks.
func Transaction() TransactionHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return transactionHooks
}

// Sampler returns the registered sampler hooks.
func Sampler() SamplerHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return samplerHooks
}

// Pipeline returns the registered pipeline hooks.
func Pipeline() PipelineHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return pipelineHooks
}

// Cache returns the registered cache hooks.
func Cache() CacheHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return cacheHooks
}

// Reset restores all hooks to their no-op defaults.
// This is primarily useful for testing.
func Reset() {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	transactionHooks = NoopTransactionHooks{}
	samplerHooks = NoopSamplerHooks{}
	pipelineHooks = NoopPipelineHooks{}
	cacheHooks = NoopCacheHooks{}
}
