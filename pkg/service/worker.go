package service

import (
	"context"
	"fmt"
	"sync"
)

// RunFunc runs until ctx is done.
type RunFunc func(ctx context.Context) error

// WorkerService runs a blocking loop, such as indexsync.Worker.Run, as a
// Service.
type WorkerService struct {
	name string
	run  RunFunc

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
	running bool
}

// NewWorkerService wraps run.
func NewWorkerService(name string, run RunFunc) *WorkerService {
	return &WorkerService{name: name, run: run}
}

// Start launches the loop in the background.
func (s *WorkerService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("service %s already started", s.name)
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.done = make(chan struct{})
	s.err = nil
	s.running = true

	done := s.done
	go func() {
		defer close(done)
		err := s.run(ctx)

		s.mu.Lock()
		s.err = err
		s.running = false
		s.mu.Unlock()
	}()
	return nil
}

// Stop cancels the loop and waits for it to return or for ctx to expire.
func (s *WorkerService) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("service %s did not stop: %w", s.name, ctx.Err())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed when the loop returns.
func (s *WorkerService) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Name returns the service name.
func (s *WorkerService) Name() string {
	return s.name
}

// Health reports an error once the loop has exited.
func (s *WorkerService) Health() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return fmt.Errorf("service %s failed: %w", s.name, s.err)
	}
	if !s.running {
		return fmt.Errorf("service %s not running", s.name)
	}
	return nil
}
