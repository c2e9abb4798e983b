package service

import (
	"context"
	"errors"
	"testing"

	"github.com/Combine-Capital/cqsync/pkg/config"
	"github.com/Combine-Capital/cqsync/pkg/metrics"
)

func testConfig() *config.Config {
	return &config.Config{
		Service: config.ServiceConfig{
			Name:    "cqsync-test",
			Version: "1.0.0",
			Env:     "test",
		},
		Metrics: config.MetricsConfig{
			Enabled:   false,
			Namespace: "test",
		},
		Tracing: config.TracingConfig{
			Enabled: false, // Disable to avoid needing OTLP endpoint
		},
		Log: config.LogConfig{
			Level:  "error",
			Format: "json",
			Output: "stdout",
		},
	}
}

func TestBootstrap(t *testing.T) {
	t.Run("Basic initialization", func(t *testing.T) {
		ctx := context.Background()
		bootstrap, err := NewBootstrap(ctx, testConfig())
		if err != nil {
			t.Fatalf("Failed to create bootstrap: %v", err)
		}
		defer bootstrap.Cleanup(ctx)

		if bootstrap.Config == nil {
			t.Error("Config should not be nil")
		}
		if bootstrap.Logger == nil {
			t.Error("Logger should not be nil")
		}
		if bootstrap.TracerProvider != nil {
			t.Error("TracerProvider should be nil when tracing disabled")
		}
		if metrics.Registry() == nil {
			t.Error("metrics registry should be initialized")
		}
	})

	t.Run("Without metrics and tracing", func(t *testing.T) {
		cfg := testConfig()
		cfg.Tracing.Enabled = true

		ctx := context.Background()
		bootstrap, err := NewBootstrap(ctx, cfg, WithoutMetrics(), WithoutTracing())
		if err != nil {
			t.Fatalf("Failed to create bootstrap: %v", err)
		}
		defer bootstrap.Cleanup(ctx)

		if bootstrap.TracerProvider != nil {
			t.Error("TracerProvider should be nil when tracing skipped")
		}
	})
}

func TestBootstrapCleanupOrder(t *testing.T) {
	ctx := context.Background()
	bootstrap, err := NewBootstrap(ctx, testConfig(), WithoutMetrics(), WithoutTracing())
	if err != nil {
		t.Fatalf("Failed to create bootstrap: %v", err)
	}

	var order []int
	bootstrap.AddCleanup(func(context.Context) error {
		order = append(order, 1)
		return nil
	})
	bootstrap.AddCleanup(func(context.Context) error {
		order = append(order, 2)
		return errors.New("close failed")
	})
	bootstrap.AddCleanup(func(context.Context) error {
		order = append(order, 3)
		return nil
	})

	// Cleanup errors are logged, not returned.
	if err := bootstrap.Cleanup(ctx); err != nil {
		t.Errorf("Cleanup() = %v", err)
	}
	if len(order) != 3 || order[0] != 3 || order[1] != 2 || order[2] != 1 {
		t.Errorf("cleanup order = %v, want [3 2 1]", order)
	}

	// A second call has nothing left to run.
	if err := bootstrap.Cleanup(ctx); err != nil {
		t.Errorf("second Cleanup() = %v", err)
	}
	if len(order) != 3 {
		t.Errorf("cleanup ran again: %v", order)
	}
}
