package service

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/Combine-Capital/cqsync/pkg/config"
	"github.com/Combine-Capital/cqsync/pkg/health"
)

// HTTPService implements the Service interface for HTTP servers.
type HTTPService struct {
	name            string
	addr            string
	handler         http.Handler
	server          *http.Server
	listener        net.Listener
	readTimeout     time.Duration
	writeTimeout    time.Duration
	shutdownTimeout time.Duration
	mu              sync.Mutex
	started         bool
	serveErr        error
}

// HTTPServiceOption is a functional option for configuring an HTTPService.
type HTTPServiceOption func(*HTTPService)

// WithReadTimeout sets the HTTP server read timeout.
func WithReadTimeout(timeout time.Duration) HTTPServiceOption {
	return func(s *HTTPService) {
		s.readTimeout = timeout
	}
}

// WithWriteTimeout sets the HTTP server write timeout.
func WithWriteTimeout(timeout time.Duration) HTTPServiceOption {
	return func(s *HTTPService) {
		s.writeTimeout = timeout
	}
}

// WithShutdownTimeout sets the graceful shutdown timeout.
func WithShutdownTimeout(timeout time.Duration) HTTPServiceOption {
	return func(s *HTTPService) {
		s.shutdownTimeout = timeout
	}
}

// NewHTTPService creates an HTTP service serving handler on addr.
func NewHTTPService(name, addr string, handler http.Handler, opts ...HTTPServiceOption) *HTTPService {
	s := &HTTPService{
		name:            name,
		addr:            addr,
		handler:         handler,
		readTimeout:     10 * time.Second,
		writeTimeout:    10 * time.Second,
		shutdownTimeout: 30 * time.Second,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// NewOpsService serves the health probes of h on the configured port.
func NewOpsService(cfg config.ServerConfig, h *health.Health) *HTTPService {
	mux := http.NewServeMux()
	h.Mount(mux)

	opts := []HTTPServiceOption{}
	if cfg.ShutdownTimeout > 0 {
		opts = append(opts, WithShutdownTimeout(cfg.ShutdownTimeout))
	}
	return NewHTTPService("ops", fmt.Sprintf(":%d", cfg.HTTPPort), mux, opts...)
}

// Start binds the listener and serves in the background. A bind failure is
// returned directly.
func (s *HTTPService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("service %s already started", s.name)
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to start HTTP service %s: %w", s.name, err)
	}

	s.listener = ln
	s.serveErr = nil
	s.server = &http.Server{
		Handler:      s.handler,
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
		BaseContext:  func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	server := s.server
	go func() {
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.mu.Lock()
			s.serveErr = err
			s.mu.Unlock()
		}
	}()

	s.started = true
	return nil
}

// Addr returns the bound address, useful when addr used port 0.
func (s *HTTPService) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Stop gracefully stops the HTTP server, waiting for in-flight requests to complete.
func (s *HTTPService) Stop(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	started := s.started
	s.mu.Unlock()

	if !started || server == nil {
		return nil
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.shutdownTimeout)
		defer cancel()
	}

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP service %s: %w", s.name, err)
	}

	s.mu.Lock()
	s.started = false
	s.mu.Unlock()

	return nil
}

// Name returns the service name.
func (s *HTTPService) Name() string {
	return s.name
}

// Health reports whether the server is still serving.
func (s *HTTPService) Health() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.serveErr != nil {
		return fmt.Errorf("service %s failed: %w", s.name, s.serveErr)
	}
	if !s.started {
		return fmt.Errorf("service %s not running", s.name)
	}
	return nil
}
