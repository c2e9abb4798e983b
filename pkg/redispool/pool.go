// Package redispool owns the three Redis connection profiles the sync
// substrate runs on:
//
//   - cache: fast-fail request-path connection, bounded retries and a short
//     dial timeout, guarded by the circuit breaker;
//   - background: worker connection, never gives up reconnecting and is not
//     ping-gated at start;
//   - session: auth connection with moderate retries in its own logical DB.
//
// Each profile reports connect, reconnecting and error events to registered
// handlers. The cache profile's breaker is attached with Guard.
//
// Example usage:
//
//	pool, err := redispool.New(ctx, cfg.Redis, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer pool.Close()
//
//	b := breaker.New(breaker.Config{Name: "cache"})
//	pool.Guard(redispool.ProfileCache, b)
package redispool

import (
	"context"
	"fmt"
	"time"

	"github.com/Combine-Capital/cqsync/pkg/config"
	"github.com/Combine-Capital/cqsync/pkg/errors"
	"github.com/Combine-Capital/cqsync/pkg/health"
	"github.com/Combine-Capital/cqsync/pkg/logging"
	"github.com/Combine-Capital/cqsync/pkg/retry"
	"github.com/redis/go-redis/v9"
)

// Profile names a connection profile.
type Profile string

const (
	ProfileCache      Profile = "cache"
	ProfileBackground Profile = "background"
	ProfileSession    Profile = "session"
)

// Profiles lists every profile in a stable order.
var Profiles = []Profile{ProfileCache, ProfileBackground, ProfileSession}

type conn struct {
	client    *redis.Client
	monitor   *monitor
	unlimited bool
}

// Pool holds one go-redis client per profile.
type Pool struct {
	conns  map[Profile]*conn
	logger *logging.Logger
}

// New creates the three clients. Profiles with PingOnStart set are pinged and
// a failure aborts construction; the background profile is never gated.
func New(ctx context.Context, cfg config.RedisConfig, logger *logging.Logger) (*Pool, error) {
	logger = logging.OrNop(logger).WithComponent("redispool")

	p := &Pool{
		conns:  make(map[Profile]*conn, len(Profiles)),
		logger: logger,
	}

	profiles := map[Profile]config.RedisPoolConfig{
		ProfileCache:      cfg.Cache,
		ProfileBackground: cfg.Background,
		ProfileSession:    cfg.Session,
	}

	for _, name := range Profiles {
		pc := profiles[name]
		c := &conn{
			client:    redis.NewClient(clientOptions(cfg, pc)),
			monitor:   newMonitor(name, logger),
			unlimited: pc.MaxRetries < 0,
		}
		c.client.AddHook(c.monitor)
		p.conns[name] = c
	}

	for _, name := range []Profile{ProfileCache, ProfileSession} {
		if !profiles[name].PingOnStart {
			continue
		}
		if err := p.Ping(ctx, name); err != nil {
			_ = p.Close()
			return nil, err
		}
	}

	return p, nil
}

// clientOptions maps a profile onto go-redis options. go-redis treats
// MaxRetries -1 as "no internal retries"; unlimited profiles rely on the
// caller's retry loop instead. Context deadlines bound every command,
// including blocking reserves.
func clientOptions(cfg config.RedisConfig, pc config.RedisPoolConfig) *redis.Options {
	maxRetries := pc.MaxRetries
	if maxRetries <= 0 {
		maxRetries = -1
	}

	return &redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           pc.DB,
		MaxRetries:   maxRetries,
		DialTimeout:  pc.DialTimeout,
		ReadTimeout:  pc.ReadTimeout,
		WriteTimeout: pc.WriteTimeout,
		PoolSize:     pc.PoolSize,
		MinIdleConns: pc.MinIdleConns,

		ContextTimeoutEnabled: true,
	}
}

// Cache returns the fast-fail request-path client.
func (p *Pool) Cache() *redis.Client { return p.conns[ProfileCache].client }

// Background returns the worker client.
func (p *Pool) Background() *redis.Client { return p.conns[ProfileBackground].client }

// Session returns the auth client.
func (p *Pool) Session() *redis.Client { return p.conns[ProfileSession].client }

// Client returns the client for a profile, or nil for an unknown profile.
func (p *Pool) Client(profile Profile) *redis.Client {
	c, ok := p.conns[profile]
	if !ok {
		return nil
	}
	return c.client
}

// Unlimited reports whether callers must keep retrying this profile forever.
func (p *Pool) Unlimited(profile Profile) bool {
	c, ok := p.conns[profile]
	return ok && c.unlimited
}

// OnEvent registers a handler for a profile's connection events.
func (p *Pool) OnEvent(profile Profile, h Handler) {
	if c, ok := p.conns[profile]; ok {
		c.monitor.subscribe(h)
	}
}

// Guard feeds a profile's events to an Observer: connect is a success,
// error is a failure. Reconnecting carries no signal.
func (p *Pool) Guard(profile Profile, o Observer) {
	p.OnEvent(profile, func(e Event) {
		switch e.Type {
		case EventConnect:
			o.RecordSuccess()
		case EventError:
			o.RecordFailure()
		}
	})
}

// Ping checks one profile.
func (p *Pool) Ping(ctx context.Context, profile Profile) error {
	client := p.Client(profile)
	if client == nil {
		return errors.NewInvalidInput("profile", fmt.Sprintf("unknown redis profile %q", profile))
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return errors.NewTemporary(fmt.Sprintf("redis %s ping failed", profile), err)
	}
	return nil
}

// WaitReady blocks until the profile answers a ping. Unlimited profiles retry
// until ctx ends; others give up after their retry budget.
func (p *Pool) WaitReady(ctx context.Context, profile Profile) error {
	cfg := retry.Config{
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Unlimited:    p.Unlimited(profile),
		Policy:       retry.PolicyTemporary,
		OnRetry: func(err error, delay time.Duration) {
			p.logger.Warn().
				Str(logging.Pool, string(profile)).
				Err(err).
				Dur("retry_in", delay).
				Msg("redis not ready, retrying")
		},
	}
	if !cfg.Unlimited {
		cfg.MaxAttempts = 3
	}

	return retry.Do(ctx, cfg, func() error {
		return p.Ping(ctx, profile)
	})
}

// Checker returns a health checker that pings the profile.
func (p *Pool) Checker(profile Profile) health.Checker {
	return health.CheckerFunc(func(ctx context.Context) error {
		return p.Ping(ctx, profile)
	})
}

// Close closes every client.
func (p *Pool) Close() error {
	var firstErr error
	for _, name := range Profiles {
		c, ok := p.conns[name]
		if !ok {
			continue
		}
		if err := c.client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
