package services

import (
	"context"

	"golang.org/x/sync/singleflight"

	applog "posuda/internal/log"
)

// Cache is the cache-aside store used for catalog reads. A nil Cache disables
// caching.
type Cache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, keys ...string) error
	DeletePattern(ctx context.Context, pattern string) error
}

const (
	keyCategories  = "categories"
	patternListing = "products:*"
)

func productKey(id string) string { return "product:" + id }

// cached returns the value under key, loading and storing it on a miss.
// Concurrent misses for the same key share one load.
func cached[T any](ctx context.Context, c Cache, sf *singleflight.Group, key string, load func(context.Context) (T, error)) (T, error) {
	if c == nil {
		return load(ctx)
	}
	var out T
	hit, err := c.Get(ctx, key, &out)
	if err != nil {
		applog.Warn(nil, "cache.get.fail", err, map[string]any{"key": key})
	}
	if hit {
		return out, nil
	}

	v, err, _ := sf.Do(key, func() (any, error) {
		val, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.Set(ctx, key, val); err != nil {
			applog.Warn(nil, "cache.set.fail", err, map[string]any{"key": key})
		}
		return val, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// invalidateProducts drops the cached entries for the given products along
// with every listing that could contain them.
func invalidateProducts(ctx context.Context, c Cache, ids ...string) {
	if c == nil {
		return
	}
	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, productKey(id))
	}
	keys = append(keys, keyCategories)
	if err := c.Delete(ctx, keys...); err != nil {
		applog.Warn(nil, "cache.invalidate.fail", err, map[string]any{"keys": keys})
	}
	if err := c.DeletePattern(ctx, patternListing); err != nil {
		applog.Warn(nil, "cache.invalidate.fail", err, map[string]any{"pattern": patternListing})
	}
}
