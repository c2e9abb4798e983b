// Package service runs the long-lived parts of a cqsync process: the index
// sync worker and the operational HTTP listener. Each is a Service started
// in order and stopped in reverse when the process receives a shutdown
// signal.
//
// Example usage:
//
//	ops := service.NewHTTPService("ops", ":8080", mux)
//	work := service.NewWorkerService("indexsync", worker.Run)
//
//	if err := service.Run(ctx, logger, service.DefaultShutdownConfig(), ops, work); err != nil {
//	    log.Fatal(err)
//	}
package service

import "context"

// Service represents a service that can be started, stopped, and health-checked.
type Service interface {
	// Start starts the service and returns once it is running.
	Start(ctx context.Context) error

	// Stop gracefully stops the service. The context deadline bounds how
	// long in-flight work may take to finish.
	Stop(ctx context.Context) error

	// Name returns the name of the service for logging and identification.
	Name() string

	// Health returns nil while the service is running normally.
	Health() error
}
