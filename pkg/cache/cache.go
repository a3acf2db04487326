// Package cache stores sampler results and rendered artifacts between runs.
//
// A [Cache] is a byte store with per-entry expiry. Two backends exist: a
// [FileCache] for the CLI and a [RedisCache] shared by several processes
// (for example behind "modeldag serve"). [NullCache] disables caching.
//
// Keys come from a [Keyer], which hashes the inputs that determine a
// result: the model source plus the run or render options. Changing any
// option therefore misses the cache instead of returning a stale entry.
//
//	c, err := cache.NewFileCache(dir)
//	c = cache.Instrument(c, observability.Cache())
//	key := cache.NewDefaultKeyer().RunKey(cache.Hash(src), cache.RunKeyOpts{Iterations: 1000})
package cache

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// Time-to-live for each kind of entry.
const (
	TTLRun      = 7 * 24 * time.Hour
	TTLArtifact = 30 * 24 * time.Hour
)

// Cache is a key/value store for serialized results. Get reports a miss
// with ok == false and a nil error. A zero ttl never expires.
type Cache interface {
	Get(ctx context.Context, key string) (data []byte, ok bool, err error)
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Clearer is implemented by caches that can drop every entry they own.
type Clearer interface {
	Clear(ctx context.Context) (int, error)
}

// GetJSON decodes the entry at key into v. It returns [ErrCacheMiss] on a
// miss and also when the entry does not decode, so callers recompute.
func GetJSON(ctx context.Context, c Cache, key string, v any) error {
	data, ok, err := c.Get(ctx, key)
	if err != nil {
		return err
	}
	if !ok || json.Unmarshal(data, v) != nil {
		return ErrCacheMiss
	}
	return nil
}

// SetJSON encodes v and stores it at key.
func SetJSON(ctx context.Context, c Cache, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Set(ctx, key, data, ttl)
}

// =============================================================================
// Keys
// =============================================================================

// RunKeyOpts holds the run options that change a sampler result.
type RunKeyOpts struct {
	Iterations int      `json:"iterations"`
	BurnIn     int      `json:"burn_in"`
	Thin       int      `json:"thin"`
	Chains     int      `json:"chains"`
	Seed       uint64   `json:"seed"`
	Moves      []string `json:"moves,omitempty"`
	Monitor    []string `json:"monitor,omitempty"`
}

// ArtifactKeyOpts holds the render options that change an artifact.
type ArtifactKeyOpts struct {
	Format string  `json:"format"`
	Values bool    `json:"values,omitempty"`
	Ranked bool    `json:"ranked,omitempty"`
	Scale  float64 `json:"scale,omitempty"`
}

// Keyer derives cache keys. Implementations must be deterministic.
type Keyer interface {
	RunKey(modelHash string, opts RunKeyOpts) string
	ArtifactKey(modelHash string, opts ArtifactKeyOpts) string
}

// DefaultKeyer produces keys of the form "<type>:<sha256>".
type DefaultKeyer struct{}

// NewDefaultKeyer returns the default keyer.
func NewDefaultKeyer() Keyer { return DefaultKeyer{} }

func (DefaultKeyer) RunKey(modelHash string, opts RunKeyOpts) string {
	return hashKey("run", modelHash, opts)
}

func (DefaultKeyer) ArtifactKey(modelHash string, opts ArtifactKeyOpts) string {
	return hashKey("artifact", modelHash, opts)
}

// KeyType returns the entry type of a key produced by a [Keyer] ("run",
// "artifact"), ignoring any scope prefix. Unknown keys give "other".
func KeyType(key string) string {
	i := strings.LastIndexByte(key, ':')
	if i <= 0 {
		return "other"
	}
	head := key[:i]
	return head[strings.LastIndexByte(head, ':')+1:]
}
