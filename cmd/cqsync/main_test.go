package main

import (
	"context"
	"testing"
	"time"

	"github.com/Combine-Capital/cqsync/pkg/breaker"
	"github.com/Combine-Capital/cqsync/pkg/errors"
	"github.com/Combine-Capital/cqsync/pkg/health"
	"github.com/alicebob/miniredis/v2"
)

func TestRunRejectsUnknownCommand(t *testing.T) {
	if code := run([]string{"compact"}); code != 2 {
		t.Errorf("run(compact) = %d, want 2", code)
	}
}

func TestRunRejectsUnknownFlag(t *testing.T) {
	if code := run([]string{"-verbose", "worker"}); code != 2 {
		t.Errorf("run(-verbose) = %d, want 2", code)
	}
}

func TestRunFromEnvironmentOnly(t *testing.T) {
	mr := miniredis.RunT(t)
	t.Setenv("CQSYNC_CONFIG", "")
	t.Setenv("CQSYNC_REDIS_HOST", mr.Host())
	t.Setenv("CQSYNC_REDIS_PORT", mr.Port())

	mr.Set("cache:player:p1", "stale")
	if code := run([]string{"flush"}); code != 0 {
		t.Fatalf("run(flush) without a config file = %d, want 0", code)
	}
	if mr.Exists("cache:player:p1") {
		t.Error("flush left a cached key behind")
	}
}

func TestRunMissingExplicitConfig(t *testing.T) {
	if code := run([]string{"-config", t.TempDir() + "/missing.yaml", "flush"}); code != 1 {
		t.Errorf("run(-config missing.yaml) = %d, want 1", code)
	}
}

func TestBreakerTransitionRefreshesHealth(t *testing.T) {
	b := breaker.New(breaker.Config{Name: "cache", Threshold: 1, ResetTimeout: time.Minute})
	h := health.NewWithConfig(time.Second, time.Hour)
	h.RegisterOptional("cache", health.CheckerFunc(func(context.Context) error {
		if b.IsDisabled() {
			return errors.ErrCircuitOpen
		}
		return nil
	}))
	refreshOnTransition(b, h)

	ctx := context.Background()
	if got := h.Check(ctx).Status; got != health.StatusHealthy {
		t.Fatalf("status = %s, want healthy", got)
	}

	b.RecordFailure()
	res := h.Check(ctx)
	if res.Status != health.StatusDegraded || !res.Ready() {
		t.Errorf("status after the breaker opened = %s, want degraded and ready", res.Status)
	}
}
