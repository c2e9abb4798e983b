// Package integration exercises cqsync against real infrastructure
// (PostgreSQL and Redis). Each test skips when its service is unreachable.
//
// Run with local services:
//
//	docker run -d -p 5432:5432 -e POSTGRES_PASSWORD=postgres -e POSTGRES_DB=cqsync_test postgres:16
//	docker run -d -p 6379:6379 redis:7
//	go test -v ./test/integration/...
package integration

import (
	"context"
	"testing"
	"time"

	"github.com/Combine-Capital/cqsync/pkg/config"
	"github.com/Combine-Capital/cqsync/pkg/database"
	"github.com/Combine-Capital/cqsync/pkg/redispool"
)

func setupDatabase(t *testing.T, ctx context.Context) *database.Pool {
	t.Helper()

	cfg := config.DatabaseConfig{
		Host:           "localhost",
		Port:           5432,
		Database:       "cqsync_test",
		User:           "postgres",
		Password:       "postgres",
		SSLMode:        "disable",
		MaxConns:       5,
		MinConns:       1,
		ConnectTimeout: 2 * time.Second,
	}

	pool, err := database.NewPool(ctx, cfg)
	if err != nil {
		t.Skipf("Skipping: PostgreSQL unavailable: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Skipf("Skipping: PostgreSQL unavailable: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func setupRedis(t *testing.T, ctx context.Context) *redispool.Pool {
	t.Helper()

	profile := config.RedisPoolConfig{
		DialTimeout:  time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		MaxRetries:   1,
	}
	background := profile
	background.MaxRetries = -1
	session := profile
	session.DB = 1

	pool, err := redispool.New(ctx, config.RedisConfig{
		Host:       "localhost",
		Port:       6379,
		Cache:      profile,
		Background: background,
		Session:    session,
	}, nil)
	if err != nil {
		t.Skipf("Skipping: Redis unavailable: %v", err)
	}
	if err := pool.Ping(ctx, redispool.ProfileCache); err != nil {
		pool.Close()
		t.Skipf("Skipping: Redis unavailable: %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	return pool
}
