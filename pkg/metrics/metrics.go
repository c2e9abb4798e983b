// Package metrics provides Prometheus metrics collection with standardized naming
// conventions. It supports counters, gauges, and histograms with label validation
// and duplicate prevention, plus the fixed set of sync metrics the cache, breaker
// and index sync worker report into (see sync.go).
//
// Collectors are nil-safe: when Init has not been called the constructors in
// sync.go hand out nil collectors and every recording call is a no-op, so
// components run uninstrumented in tests and tools.
//
// Example usage:
//
//	if err := metrics.Init(cfg.Metrics); err != nil {
//	    log.Fatal(err)
//	}
//	defer metrics.Shutdown(context.Background())
//
//	if err := metrics.InitSyncMetrics(cfg.Metrics.Namespace); err != nil {
//	    log.Fatal(err)
//	}
//	metrics.CacheRequests().Inc(metrics.ResultHit)
package metrics

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/Combine-Capital/cqsync/pkg/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// registry is the global Prometheus registry for all metrics
	registry *prometheus.Registry

	// registryMu protects concurrent access to registry initialization
	registryMu sync.RWMutex

	// initialized tracks whether Init() has been called
	initialized bool

	// server is the HTTP server for the metrics endpoint
	server *http.Server

	// serverMu protects concurrent access to server
	serverMu sync.Mutex
)

// Init initializes the metrics system with the provided configuration.
// It creates a new Prometheus registry and, when enabled, starts an HTTP
// server on the configured port and path.
//
// This function is safe to call multiple times - subsequent calls are no-ops.
// Returns an error if the listener cannot be opened (e.g., port already in use).
func Init(cfg config.MetricsConfig) error {
	registryMu.Lock()
	defer registryMu.Unlock()

	if initialized {
		return nil
	}

	registry = prometheus.NewRegistry()

	if !cfg.Enabled {
		initialized = true
		return nil
	}

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	path := cfg.Path
	if path == "" {
		path = "/metrics"
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		registry = nil
		return fmt.Errorf("failed to listen for metrics: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))

	serverMu.Lock()
	server = &http.Server{
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	srv := server
	serverMu.Unlock()

	go func() {
		_ = srv.Serve(ln)
	}()

	initialized = true
	return nil
}

// Handler returns an HTTP handler exposing the global registry.
func Handler() http.Handler {
	reg := Registry()
	if reg == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Shutdown gracefully shuts down the metrics HTTP server.
func Shutdown(ctx context.Context) error {
	serverMu.Lock()
	defer serverMu.Unlock()

	if server == nil {
		return nil
	}

	err := server.Shutdown(ctx)
	server = nil
	return err
}

// Registry returns the global Prometheus registry.
// Returns nil if Init() has not been called.
func Registry() *prometheus.Registry {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return registry
}

// IsInitialized returns true if Init() has been called successfully.
func IsInitialized() bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return initialized
}
