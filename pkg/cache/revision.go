package cache

import (
	"context"
	"errors"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// Revisions tracks a monotonically increasing counter per resource. List
// keys embed the current revision, so bumping it makes every cached list of
// that resource unreachable in O(1) without enumerating keys. Orphaned lists
// expire on their own TTL.
type Revisions struct {
	store *Store
}

// Revisions returns the revision tracker of the store's namespace.
func (s *Store) Revisions() *Revisions {
	return &Revisions{store: s}
}

func (r *Revisions) key(resource string) string {
	return r.store.prefix + "rev:" + resource
}

// Current returns the resource's revision. A resource never bumped is at 0.
func (r *Revisions) Current(ctx context.Context, resource string) (int64, error) {
	if !r.store.allowed() {
		return 0, errUnavailable
	}
	n, err := r.store.client.Get(ctx, r.key(resource)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

// Bump increments the resource's revision and returns the new value.
func (r *Revisions) Bump(ctx context.Context, resource string) (int64, error) {
	if !r.store.allowed() {
		return 0, errUnavailable
	}
	return r.store.client.Incr(ctx, r.key(resource)).Result()
}

// ListKey returns the revision-scoped key of a cached list.
func (r *Revisions) ListKey(ctx context.Context, resource string, parts ...string) (string, error) {
	rev, err := r.Current(ctx, resource)
	if err != nil {
		return "", err
	}
	return Key(resource, append([]string{"list", "r" + strconv.FormatInt(rev, 10)}, parts...)...), nil
}
