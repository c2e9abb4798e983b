package service

import (
	"context"
	"fmt"

	"github.com/Combine-Capital/cqsync/pkg/config"
	"github.com/Combine-Capital/cqsync/pkg/logging"
	"github.com/Combine-Capital/cqsync/pkg/metrics"
	"github.com/Combine-Capital/cqsync/pkg/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Bootstrap holds the observability stack of a process.
type Bootstrap struct {
	Config         *config.Config
	Logger         *logging.Logger
	TracerProvider *sdktrace.TracerProvider
	cleanup        []func(context.Context) error
}

// BootstrapOption is a functional option for configuring bootstrap behavior.
type BootstrapOption func(*bootstrapConfig)

type bootstrapConfig struct {
	skipMetrics bool
	skipTracing bool
}

// WithoutMetrics disables metrics initialization during bootstrap.
func WithoutMetrics() BootstrapOption {
	return func(c *bootstrapConfig) {
		c.skipMetrics = true
	}
}

// WithoutTracing disables tracing initialization during bootstrap.
func WithoutTracing() BootstrapOption {
	return func(c *bootstrapConfig) {
		c.skipTracing = true
	}
}

// NewBootstrap creates the logger, registers the cache, breaker, queue and
// search metrics and installs the tracer provider.
//
// Example:
//
//	cfg := config.MustLoad("cqsync.yaml", "CQSYNC")
//	bootstrap, err := service.NewBootstrap(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer bootstrap.Cleanup(ctx)
func NewBootstrap(ctx context.Context, cfg *config.Config, opts ...BootstrapOption) (*Bootstrap, error) {
	bc := &bootstrapConfig{}
	for _, opt := range opts {
		opt(bc)
	}

	b := &Bootstrap{
		Config: cfg,
		Logger: logging.New(cfg.Log),
	}
	b.Logger.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("env", cfg.Service.Env).
		Msg("Service starting")

	// The registry always exists so components can register collectors;
	// the scrape endpoint only runs when enabled.
	if !bc.skipMetrics {
		if err := metrics.Init(cfg.Metrics); err != nil {
			return nil, fmt.Errorf("failed to initialize metrics: %w", err)
		}
		b.cleanup = append(b.cleanup, metrics.Shutdown)

		namespace := cfg.Metrics.Namespace
		if namespace == "" {
			namespace = "cqsync"
		}
		if err := metrics.InitSyncMetrics(namespace); err != nil {
			_ = b.Cleanup(ctx)
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}

		if cfg.Metrics.Enabled {
			b.Logger.Info().
				Int("port", cfg.Metrics.Port).
				Str("path", cfg.Metrics.Path).
				Msg("Metrics initialized")
		}
	}

	if !bc.skipTracing && cfg.Tracing.Enabled {
		serviceName := cfg.Service.Name
		if cfg.Tracing.ServiceName != "" {
			serviceName = cfg.Tracing.ServiceName
		}

		tracerProvider, shutdown, err := tracing.NewTracerProvider(ctx, cfg.Tracing, serviceName, cfg.Service.Version)
		if err != nil {
			_ = b.Cleanup(ctx)
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}
		b.TracerProvider = tracerProvider
		b.cleanup = append(b.cleanup, shutdown)

		b.Logger.Info().
			Str("endpoint", cfg.Tracing.Endpoint).
			Float64("sample_rate", cfg.Tracing.SampleRate).
			Msg("Tracing initialized")
	}

	return b, nil
}

// Cleanup runs the registered cleanup functions in reverse order. Failures
// are logged and do not stop the remaining functions.
func (b *Bootstrap) Cleanup(ctx context.Context) error {
	for i := len(b.cleanup) - 1; i >= 0; i-- {
		if err := b.cleanup[i](ctx); err != nil {
			b.Logger.Error().Err(err).Msg("Cleanup error")
		}
	}
	b.cleanup = nil
	return nil
}

// AddCleanup registers fn to run during Cleanup, before anything registered
// earlier.
//
// Example:
//
//	bootstrap.AddCleanup(func(ctx context.Context) error {
//	    return pool.Close()
//	})
func (b *Bootstrap) AddCleanup(fn func(context.Context) error) {
	b.cleanup = append(b.cleanup, fn)
}
