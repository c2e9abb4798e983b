// Package health provides a health check framework for the sync worker's
// infrastructure: the Redis connection profiles, the system of record, and
// the search engine. It serves liveness and readiness probes.
//
// Example usage:
//
//	h := health.New()
//	h.RegisterChecker("queue", queue)
//	h.RegisterChecker("database", db)
//	h.RegisterOptional("cache", store)
//	h.RegisterOptional("search", searchClient)
//
//	mux := http.NewServeMux()
//	h.Mount(mux)
//
// Liveness checks verify the process is running (no dependency checks).
// Readiness fails only when a required component is down.
package health

import (
	"context"
)

// Checker defines the interface for health checking infrastructure components.
type Checker interface {
	// Check performs a health check on the component.
	// Returns nil if the component is healthy, or an error describing the problem.
	// The context may include a timeout, which the implementation must respect.
	Check(ctx context.Context) error
}

// CheckerFunc is a function adapter that implements the Checker interface.
type CheckerFunc func(ctx context.Context) error

// Check implements the Checker interface by calling the function.
func (f CheckerFunc) Check(ctx context.Context) error {
	return f(ctx)
}
