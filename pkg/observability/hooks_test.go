package observability

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNoopHooksDoNotPanic(t *testing.T) {
	ctx := context.Background()

	tx := NoopTransactionHooks{}
	tx.OnTouch("transform", "rate")
	tx.OnKeep("transform", "rate")
	tx.OnRestore("stochastic", "y")
	tx.OnRecompute("transform", "rate", time.Millisecond, errors.New("boom"))

	s := NoopSamplerHooks{}
	s.OnChainStart(ctx, 0, 1000)
	s.OnProposal(ctx, "slide(mu)", true, -0.5)
	s.OnChainComplete(ctx, 0, time.Second, nil)

	p := NoopPipelineHooks{}
	p.OnLoadStart(ctx, "model.hcl")
	p.OnLoadComplete(ctx, "model.hcl", 12, time.Second, nil)
	p.OnRenderStart(ctx, "svg")
	p.OnRenderComplete(ctx, "svg", time.Second, nil)

	c := NoopCacheHooks{}
	c.OnCacheHit(ctx, "artifact")
	c.OnCacheMiss(ctx, "artifact")
	c.OnCacheSet(ctx, "artifact", 1024)
}

func TestGlobalHooksRegistry(t *testing.T) {
	Reset()

	if _, ok := Transaction().(NoopTransactionHooks); !ok {
		t.Error("Transaction() should return NoopTransactionHooks by default")
	}
	if _, ok := Sampler().(NoopSamplerHooks); !ok {
		t.Error("Sampler() should return NoopSamplerHooks by default")
	}
	if _, ok := Pipeline().(NoopPipelineHooks); !ok {
		t.Error("Pipeline() should return NoopPipelineHooks by default")
	}
	if _, ok := Cache().(NoopCacheHooks); !ok {
		t.Error("Cache() should return NoopCacheHooks by default")
	}

	customTx := &testTransactionHooks{}
	SetTransactionHooks(customTx)
	if Transaction() != customTx {
		t.Error("SetTransactionHooks should set custom hooks")
	}

	customSampler := &testSamplerHooks{}
	SetSamplerHooks(customSampler)
	if Sampler() != customSampler {
		t.Error("SetSamplerHooks should set custom hooks")
	}

	customPipeline := &testPipelineHooks{}
	SetPipelineHooks(customPipeline)
	if Pipeline() != customPipeline {
		t.Error("SetPipelineHooks should set custom hooks")
	}

	customCache := &testCacheHooks{}
	SetCacheHooks(customCache)
	if Cache() != customCache {
		t.Error("SetCacheHooks should set custom hooks")
	}

	Reset()
	if _, ok := Transaction().(NoopTransactionHooks); !ok {
		t.Error("Reset() should restore NoopTransactionHooks")
	}
}

func TestSetNilHooksIsIgnored(t *testing.T) {
	Reset()
	defer Reset()

	custom := &testTransactionHooks{}
	SetTransactionHooks(custom)
	SetTransactionHooks(nil)

	if Transaction() != custom {
		t.Error("SetTransactionHooks(nil) should be ignored")
	}
}

type testTransactionHooks struct{ NoopTransactionHooks }
type testSamplerHooks struct{ NoopSamplerHooks }
type testPipelineHooks struct{ NoopPipelineHooks }
type testCacheHooks struct{ NoopCacheHooks }
