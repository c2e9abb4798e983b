package service

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Combine-Capital/cqsync/pkg/logging"
)

// ShutdownConfig configures graceful shutdown behavior.
type ShutdownConfig struct {
	// Timeout bounds how long stopping all services may take.
	Timeout time.Duration

	// Signals trigger shutdown. Defaults to SIGINT and SIGTERM.
	Signals []os.Signal
}

// DefaultShutdownConfig returns sensible default shutdown configuration.
func DefaultShutdownConfig() ShutdownConfig {
	return ShutdownConfig{
		Timeout: 30 * time.Second,
		Signals: []os.Signal{syscall.SIGINT, syscall.SIGTERM},
	}
}

// doner is implemented by services whose work can end on its own.
type doner interface {
	Done() <-chan struct{}
}

// Run starts services in order and blocks until ctx is done, a shutdown
// signal arrives or a background service exits. It then stops the services
// in reverse order. The returned error is the first start or stop failure.
func Run(ctx context.Context, logger *logging.Logger, cfg ShutdownConfig, services ...Service) error {
	logger = logging.OrNop(logger)

	signals := cfg.Signals
	if len(signals) == 0 {
		signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	ctx, stop := signal.NotifyContext(ctx, signals...)
	defer stop()

	started := make([]Service, 0, len(services))
	var err error
	for _, svc := range services {
		if err = svc.Start(ctx); err != nil {
			err = fmt.Errorf("failed to start service %s: %w", svc.Name(), err)
			break
		}
		logger.Info().Str("service", svc.Name()).Msg("service started")
		started = append(started, svc)
	}

	if err == nil {
		exited := waitAny(ctx, started)
		if exited != nil {
			logger.Warn().Str("service", exited.Name()).Msg("service exited, shutting down")
		} else {
			logger.Info().Msg("shutdown requested")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Timeout)
	defer cancel()

	for i := len(started) - 1; i >= 0; i-- {
		svc := started[i]
		if stopErr := svc.Stop(shutdownCtx); stopErr != nil {
			logger.Error().Err(stopErr).Str("service", svc.Name()).Msg("error stopping service")
			if err == nil {
				err = stopErr
			}
			continue
		}
		logger.Info().Str("service", svc.Name()).Msg("service stopped")
	}
	return err
}

// waitAny blocks until ctx is done or one of the services that can end on
// its own does. It returns that service, or nil.
func waitAny(ctx context.Context, services []Service) Service {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	exited := make(chan Service, len(services))
	for _, svc := range services {
		d, ok := svc.(doner)
		if !ok {
			continue
		}
		go func(svc Service, done <-chan struct{}) {
			select {
			case <-done:
				exited <- svc
			case <-ctx.Done():
			}
		}(svc, d.Done())
	}

	select {
	case svc := <-exited:
		return svc
	case <-ctx.Done():
		return nil
	}
}
