// Package cache provides the request-path Redis cache: get/set with tags,
// stampede-protected GetOrSet, tag invalidation and revision-scoped list keys.
//
// The cache is an optimization, never a dependency for correctness. Every
// store failure is logged and swallowed: reads become misses, writes are
// dropped and GetOrSet falls back to the caller's loader. A circuit breaker
// fed by the connection's lifecycle events keeps the store out of the request
// path entirely while it is failing.
//
// Example usage:
//
//	store, b := cache.NewFromPool(pool, cfg.Cache, logger)
//	_ = b // exposed for health reporting
//
//	player, err := cache.GetOrSet(ctx, store, cache.Key("player", id),
//	    func(ctx context.Context) (*Player, error) {
//	        return repo.Player(ctx, id)
//	    },
//	    cache.WithResource(cache.ResourceEntity),
//	    cache.WithTags("players"),
//	)
//
//	// after a mutation
//	store.InvalidateResource(ctx, "players", "players")
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/Combine-Capital/cqsync/pkg/breaker"
	"github.com/Combine-Capital/cqsync/pkg/config"
	cqerrors "github.com/Combine-Capital/cqsync/pkg/errors"
	"github.com/Combine-Capital/cqsync/pkg/logging"
	"github.com/Combine-Capital/cqsync/pkg/metrics"
	"github.com/Combine-Capital/cqsync/pkg/redispool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// Guard decides whether the store may be touched right now.
type Guard interface {
	Allow() bool
}

// maxWatchRetries bounds optimistic-lock retries of InvalidateByTag.
const maxWatchRetries = 5

// Store is the cache abstraction. It is safe for concurrent use.
type Store struct {
	client redis.UniversalClient
	guard  Guard
	prefix string
	ttl    TTLPolicy
	logger *logging.Logger

	inflight singleflight.Group
}

// New creates a Store over client. guard may be nil.
func New(client redis.UniversalClient, guard Guard, cfg config.CacheConfig, logger *logging.Logger) *Store {
	return &Store{
		client: client,
		guard:  guard,
		prefix: cfg.Prefix,
		ttl:    NewTTLPolicy(cfg.TTL),
		logger: logging.OrNop(logger).WithComponent("cache"),
	}
}

// NewFromPool creates a Store on the pool's fast-fail profile together with
// the breaker that guards it.
func NewFromPool(pool *redispool.Pool, cfg config.CacheConfig, logger *logging.Logger) (*Store, *breaker.Breaker) {
	b := breaker.New(breaker.Config{
		Name:         string(redispool.ProfileCache),
		Threshold:    cfg.BreakerThreshold,
		ResetTimeout: cfg.BreakerResetTimeout,
		Logger:       logger,
	})
	pool.Guard(redispool.ProfileCache, b)
	return New(pool.Cache(), b, cfg, logger), b
}

func (s *Store) key(key string) string { return s.prefix + key }

func (s *Store) tagKey(tag string) string { return s.prefix + "tag:" + tag }

func (s *Store) allowed() bool {
	return s.guard == nil || s.guard.Allow()
}

// TTL returns the policy lifetime for a resource.
func (s *Store) TTL(resource string) time.Duration {
	return s.ttl.For(resource)
}

// Get loads key into dest and reports whether it was found. It never fails:
// store errors and undecodable payloads are logged and read as a miss.
func (s *Store) Get(ctx context.Context, key string, dest interface{}) bool {
	hit, _ := s.get(ctx, key, dest)
	return hit
}

// get reports a hit, and whether the store answered at all.
func (s *Store) get(ctx context.Context, key string, dest interface{}) (hit bool, ok bool) {
	if !s.allowed() {
		metrics.CacheRequests().Inc(metrics.ResultBypass)
		return false, false
	}

	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.CacheRequests().Inc(metrics.ResultMiss)
		return false, true
	}
	if err != nil {
		metrics.CacheRequests().Inc(metrics.ResultError)
		s.logger.Warn().Str(logging.CacheKey, key).Err(err).Msg("cache read failed")
		return false, false
	}

	if err := decode(data, dest); err != nil {
		metrics.CacheRequests().Inc(metrics.ResultError)
		s.logger.Warn().Str(logging.CacheKey, key).Err(err).Msg("cache entry undecodable, treating as miss")
		return false, true
	}

	metrics.CacheRequests().Inc(metrics.ResultHit)
	return true, true
}

// Set writes value under key with its TTL and adds key to every tag set,
// in one MULTI/EXEC transaction. Nil values are never cached. Failures are
// logged, not returned.
func (s *Store) Set(ctx context.Context, key string, value interface{}, opts ...Option) {
	if isEmpty(value) {
		return
	}
	if !s.allowed() {
		return
	}

	o := s.resolve(opts)

	data, err := encode(value)
	if err != nil {
		s.logger.Warn().Str(logging.CacheKey, key).Err(err).Msg("cache value not encodable")
		return
	}

	full := s.key(key)
	tagTTL := s.ttl.Max()
	if o.ttl > tagTTL {
		tagTTL = o.ttl
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, full, data, o.ttl)
		for _, tag := range o.tags {
			tk := s.tagKey(tag)
			pipe.SAdd(ctx, tk, full)
			// Tag sets outlive every member they can hold.
			pipe.Expire(ctx, tk, tagTTL)
		}
		return nil
	})
	if err != nil {
		s.logger.Warn().Str(logging.CacheKey, key).Err(err).Msg("cache write failed")
	}
}

// Delete removes a single key.
func (s *Store) Delete(ctx context.Context, key string) {
	if !s.allowed() {
		return
	}
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		s.logger.Warn().Str(logging.CacheKey, key).Err(err).Msg("cache delete failed")
	}
}

// InvalidateByTag deletes every key tagged with tag and the tag set itself
// in one transaction. The tag set is WATCHed, so a concurrent Set that tags
// a new key forces a retry instead of leaving an orphan behind.
func (s *Store) InvalidateByTag(ctx context.Context, tag string) {
	if !s.allowed() {
		s.logger.Warn().Str(logging.CacheTag, tag).Msg("cache bypassed, tag not invalidated")
		return
	}

	tk := s.tagKey(tag)
	txf := func(tx *redis.Tx) error {
		members, err := tx.SMembers(ctx, tk).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if len(members) > 0 {
				pipe.Del(ctx, members...)
			}
			pipe.Del(ctx, tk)
			return nil
		})
		return err
	}

	var err error
	for i := 0; i < maxWatchRetries; i++ {
		err = s.client.Watch(ctx, txf, tk)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		s.logger.Warn().Str(logging.CacheTag, tag).Err(err).Msg("tag invalidation failed")
	}
}

// InvalidateResource bumps the resource's revision, orphaning its cached
// lists, and invalidates the given tags.
func (s *Store) InvalidateResource(ctx context.Context, resource string, tags ...string) {
	if _, err := s.Revisions().Bump(ctx, resource); err != nil {
		s.logger.Warn().Str("resource", resource).Err(err).Msg("revision bump failed")
	}
	for _, tag := range tags {
		s.InvalidateByTag(ctx, tag)
	}
}

// Flush deletes every key in the store's namespace. It is meant for tests
// and operators and, unlike the request-path methods, reports errors.
func (s *Store) Flush(ctx context.Context) error {
	if s.prefix == "" {
		return cqerrors.NewInvalidInput("prefix", "refusing to flush an unprefixed cache")
	}

	iter := s.client.Scan(ctx, 0, s.prefix+"*", 500).Iterator()
	batch := make([]string, 0, 500)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := s.client.Unlink(ctx, batch...).Err(); err != nil {
				return cqerrors.NewTemporary("cache flush failed", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return cqerrors.NewTemporary("cache flush scan failed", err)
	}
	if len(batch) > 0 {
		if err := s.client.Unlink(ctx, batch...).Err(); err != nil {
			return cqerrors.NewTemporary("cache flush failed", err)
		}
	}
	return nil
}

// Check implements health.Checker. An open breaker reports unhealthy
// without touching the store.
func (s *Store) Check(ctx context.Context) error {
	if b, ok := s.guard.(interface{ IsDisabled() bool }); ok && b.IsDisabled() {
		return cqerrors.ErrCircuitOpen
	}
	if err := s.client.Ping(ctx).Err(); err != nil {
		return cqerrors.NewTemporary("cache ping failed", err)
	}
	return nil
}
