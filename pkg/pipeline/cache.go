package pipeline

import (
	"context"

	"github.com/matzehuels/modeldag/pkg/cache"
	"github.com/matzehuels/modeldag/pkg/errors"
	"github.com/matzehuels/modeldag/pkg/observability"
)

// OpenCache opens the backend selected by opts, instrumented with the
// global cache hooks.
func OpenCache(ctx context.Context, opts CacheOptions) (cache.Cache, error) {
	var (
		c   cache.Cache
		err error
	)
	switch opts.Backend {
	case "", CacheNone:
		c = cache.NewNullCache()
	case CacheFile:
		if opts.Dir == "" {
			return nil, errors.New(errors.ErrCodeInvalidConfig, "file cache needs a directory")
		}
		c, err = cache.NewFileCache(opts.Dir)
	case CacheRedis:
		c, err = cache.NewRedisCache(ctx, opts.URL, opts.Prefix)
	default:
		return nil, errors.New(errors.ErrCodeInvalidConfig, "unknown cache backend %q", opts.Backend)
	}
	if err != nil {
		return nil, err
	}
	return cache.Instrument(c, observability.Cache()), nil
}
