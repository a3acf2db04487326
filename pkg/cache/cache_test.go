package cache

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/matzehuels/modeldag/pkg/observability"
)

func init() {
	retryDelay = time.Millisecond
}

func TestNullCache(t *testing.T) {
	ctx := context.Background()
	c := NewNullCache()
	defer c.Close()

	data, hit, err := c.Get(ctx, "key")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if hit || data != nil {
		t.Errorf("Get() = %v, %v, want miss", data, hit)
	}
	if err := c.Set(ctx, "key", []byte("value"), time.Hour); err != nil {
		t.Errorf("Set error: %v", err)
	}
	if _, hit, _ = c.Get(ctx, "key"); hit {
		t.Error("NullCache should not store data")
	}
	if err := c.Delete(ctx, "key"); err != nil {
		t.Errorf("Delete error: %v", err)
	}
}

func TestHash(t *testing.T) {
	h1 := Hash([]byte("hello"))
	if h1 != Hash([]byte("hello")) {
		t.Error("Hash should be deterministic")
	}
	if h1 == Hash([]byte("world")) {
		t.Error("Different inputs should produce different hashes")
	}
	if len(h1) != 64 {
		t.Errorf("len(Hash()) = %d, want 64", len(h1))
	}
}

func TestDefaultKeyer(t *testing.T) {
	k := NewDefaultKeyer()

	r1 := k.RunKey("abc", RunKeyOpts{Iterations: 1000, Seed: 1})
	r2 := k.RunKey("abc", RunKeyOpts{Iterations: 1000, Seed: 2})
	if r1 == r2 {
		t.Error("different seeds should produce different run keys")
	}
	if r1 != k.RunKey("abc", RunKeyOpts{Iterations: 1000, Seed: 1}) {
		t.Error("RunKey should be deterministic")
	}
	if !strings.HasPrefix(r1, "run:") {
		t.Errorf("RunKey() = %q, want run: prefix", r1)
	}

	a1 := k.ArtifactKey("abc", ArtifactKeyOpts{Format: "svg"})
	a2 := k.ArtifactKey("abc", ArtifactKeyOpts{Format: "svg", Values: true})
	if a1 == a2 {
		t.Error("different artifact options should produce different keys")
	}
	if a1 == k.ArtifactKey("abd", ArtifactKeyOpts{Format: "svg"}) {
		t.Error("different models should produce different keys")
	}
}

func TestScopedKeyer(t *testing.T) {
	inner := NewDefaultKeyer()
	scoped := NewScopedKeyer(inner, "serve:m1:")

	got := scoped.RunKey("abc", RunKeyOpts{})
	if want := "serve:m1:" + inner.RunKey("abc", RunKeyOpts{}); got != want {
		t.Errorf("RunKey() = %q, want %q", got, want)
	}
	if got := scoped.ArtifactKey("abc", ArtifactKeyOpts{}); !strings.HasPrefix(got, "serve:m1:artifact:") {
		t.Errorf("ArtifactKey() = %q, want scoped artifact key", got)
	}

	if got := NewScopedKeyer(nil, "p:").RunKey("abc", RunKeyOpts{}); !strings.HasPrefix(got, "p:run:") {
		t.Errorf("nil inner RunKey() = %q", got)
	}
}

func TestKeyType(t *testing.T) {
	k := NewScopedKeyer(nil, "serve:m1:")
	tests := []struct {
		key  string
		want string
	}{
		{NewDefaultKeyer().RunKey("x", RunKeyOpts{}), "run"},
		{k.ArtifactKey("x", ArtifactKeyOpts{}), "artifact"},
		{"plain", "other"},
		{":leading", "other"},
	}
	for _, tt := range tests {
		if got := KeyType(tt.key); got != tt.want {
			t.Errorf("KeyType(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	c, err := NewFileCache(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	type result struct {
		Mean float64 `json:"mean"`
	}
	var got result
	if err := GetJSON(ctx, c, "k", &got); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("GetJSON() on empty cache = %v, want ErrCacheMiss", err)
	}
	if err := SetJSON(ctx, c, "k", result{Mean: 1.5}, time.Hour); err != nil {
		t.Fatal(err)
	}
	if err := GetJSON(ctx, c, "k", &got); err != nil || got.Mean != 1.5 {
		t.Errorf("GetJSON() = %v, %v, want {1.5}", got, err)
	}

	_ = c.Set(ctx, "bad", []byte("not json"), 0)
	if err := GetJSON(ctx, c, "bad", &got); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("GetJSON() on corrupt entry = %v, want ErrCacheMiss", err)
	}
}

type countingHooks struct {
	observability.NoopCacheHooks
	hits, misses, sets map[string]int
	bytes              int
}

func newCountingHooks() *countingHooks {
	return &countingHooks{hits: map[string]int{}, misses: map[string]int{}, sets: map[string]int{}}
}

func (h *countingHooks) OnCacheHit(_ context.Context, kt string)  { h.hits[kt]++ }
func (h *countingHooks) OnCacheMiss(_ context.Context, kt string) { h.misses[kt]++ }
func (h *countingHooks) OnCacheSet(_ context.Context, kt string, size int) {
	h.sets[kt]++
	h.bytes += size
}

func TestInstrument(t *testing.T) {
	ctx := context.Background()
	fc, err := NewFileCache(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	hooks := newCountingHooks()
	c := Instrument(fc, hooks)
	key := NewDefaultKeyer().RunKey("m", RunKeyOpts{})

	c.Get(ctx, key)
	c.Set(ctx, key, []byte("abc"), time.Hour)
	c.Get(ctx, key)

	if hooks.misses["run"] != 1 || hooks.hits["run"] != 1 || hooks.sets["run"] != 1 {
		t.Errorf("hooks = hits %v misses %v sets %v, want one of each", hooks.hits, hooks.misses, hooks.sets)
	}
	if hooks.bytes != 3 {
		t.Errorf("bytes = %d, want 3", hooks.bytes)
	}

	n, err := c.(Clearer).Clear(ctx)
	if err != nil || n != 1 {
		t.Errorf("Clear() = %d, %v, want 1, nil", n, err)
	}
	if n, _ := Instrument(NewNullCache(), nil).(Clearer).Clear(ctx); n != 0 {
		t.Errorf("Clear() on null cache = %d, want 0", n)
	}
}

func TestRetryableError(t *testing.T) {
	if Retryable(nil) != nil {
		t.Error("Retryable(nil) should return nil")
	}

	err := Retryable(ErrNetwork)
	if !IsRetryable(err) {
		t.Error("IsRetryable should return true for wrapped error")
	}
	if !errors.Is(err, ErrNetwork) {
		t.Error("wrapped error should match ErrNetwork")
	}
	if err.Error() != ErrNetwork.Error() {
		t.Errorf("Error() = %q, want %q", err.Error(), ErrNetwork.Error())
	}
	if IsRetryable(ErrCacheMiss) {
		t.Error("IsRetryable should return false for unwrapped error")
	}
}

func TestRetryWithBackoff(t *testing.T) {
	ctx := context.Background()

	calls := 0
	if err := RetryWithBackoff(ctx, func() error { calls++; return nil }); err != nil || calls != 1 {
		t.Errorf("success: err = %v, calls = %d, want nil, 1", err, calls)
	}

	calls = 0
	err := RetryWithBackoff(ctx, func() error { calls++; return ErrCacheMiss })
	if err != ErrCacheMiss || calls != 1 {
		t.Errorf("non-retryable: err = %v, calls = %d, want ErrCacheMiss, 1", err, calls)
	}

	calls = 0
	err = RetryWithBackoff(ctx, func() error {
		calls++
		if calls < 2 {
			return Retryable(ErrNetwork)
		}
		return nil
	})
	if err != nil || calls != 2 {
		t.Errorf("retry: err = %v, calls = %d, want nil, 2", err, calls)
	}

	calls = 0
	err = RetryWithBackoff(ctx, func() error { calls++; return Retryable(ErrNetwork) })
	if !IsRetryable(err) || calls != 3 {
		t.Errorf("exhausted: err = %v, calls = %d, want retryable, 3", err, calls)
	}
}

func TestRetryWithBackoffContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := RetryWithBackoff(ctx, func() error {
		return Retryable(ErrNetwork)
	})
	if err != context.Canceled {
		t.Errorf("RetryWithBackoff() = %v, want context.Canceled", err)
	}
}
