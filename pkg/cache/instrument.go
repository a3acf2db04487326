package cache

import (
	"context"
	"time"

	"github.com/matzehuels/modeldag/pkg/observability"
)

// Instrument reports hits, misses and writes of c to hooks. The hooks
// receive the key type ("run", "artifact") rather than the key. Clear is
// forwarded when c supports it.
func Instrument(c Cache, hooks observability.CacheHooks) Cache {
	if hooks == nil {
		hooks = observability.NoopCacheHooks{}
	}
	return &instrumented{Cache: c, hooks: hooks}
}

type instrumented struct {
	Cache
	hooks observability.CacheHooks
}

func (c *instrumented) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, ok, err := c.Cache.Get(ctx, key)
	if err == nil {
		if ok {
			c.hooks.OnCacheHit(ctx, KeyType(key))
		} else {
			c.hooks.OnCacheMiss(ctx, KeyType(key))
		}
	}
	return data, ok, err
}

func (c *instrumented) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	err := c.Cache.Set(ctx, key, data, ttl)
	if err == nil {
		c.hooks.OnCacheSet(ctx, KeyType(key), len(data))
	}
	return err
}

func (c *instrumented) Clear(ctx context.Context) (int, error) {
	if cl, ok := c.Cache.(Clearer); ok {
		return cl.Clear(ctx)
	}
	return 0, nil
}

// Unwrap returns the instrumented cache.
func (c *instrumented) Unwrap() Cache { return c.Cache }
