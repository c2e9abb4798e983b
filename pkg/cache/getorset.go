package cache

import (
	"context"
	"fmt"

	cqerrors "github.com/Combine-Capital/cqsync/pkg/errors"
)

var errUnavailable = cqerrors.NewTemporary("cache unavailable", cqerrors.ErrCircuitOpen)

// Loader fetches the authoritative value on a cache miss.
type Loader[T any] func(ctx context.Context) (T, error)

// GetOrSet returns the cached value for key or calls loader and caches its
// result. Concurrent callers for the same key in this process share a single
// loader call. When the store is unusable the loader is called directly, so
// the cache never turns a working backend into a failing request.
//
// Loader errors are returned unchanged and nothing is cached.
func GetOrSet[T any](ctx context.Context, s *Store, key string, loader Loader[T], opts ...Option) (T, error) {
	var out T
	hit, ok := s.get(ctx, key, &out)
	if hit {
		return out, nil
	}
	if !ok {
		return loader(ctx)
	}

	ch := s.inflight.DoChan(key, func() (interface{}, error) {
		// The leader outlives any single caller's cancellation.
		lctx := context.WithoutCancel(ctx)

		var cached T
		if hit, _ := s.get(lctx, key, &cached); hit {
			return cached, nil
		}

		v, err := loader(lctx)
		if err != nil {
			return v, err
		}
		s.Set(lctx, key, v, opts...)
		return v, nil
	})

	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			v, _ := r.Val.(T)
			return v, r.Err
		}
		v, ok := r.Val.(T)
		if !ok {
			return out, fmt.Errorf("cache: shared result for %q has type %T", key, r.Val)
		}
		return v, nil
	}
}

// GetOrSetList is GetOrSet for a list of resource. The key is scoped to the
// resource's current revision, so InvalidateResource drops every cached list
// of the resource at once. parts identify the list (filters, page, sort).
func GetOrSetList[T any](ctx context.Context, s *Store, resource string, parts []string, loader Loader[T], opts ...Option) (T, error) {
	key, err := s.Revisions().ListKey(ctx, resource, parts...)
	if err != nil {
		s.logger.Warn().Str("resource", resource).Err(err).Msg("revision unavailable, bypassing cache")
		return loader(ctx)
	}
	return GetOrSet(ctx, s, key, loader, append([]Option{WithResource(ResourceList)}, opts...)...)
}
