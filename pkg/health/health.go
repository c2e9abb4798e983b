package health

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Aggregate statuses.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Health manages health checks for infrastructure components.
// Components are either required (the background queue connection, the
// system of record) or optional (the cache pool, the search engine). An
// optional component failing degrades the service but keeps it ready: the
// cache is bypassed and sync jobs retry.
type Health struct {
	mu       sync.RWMutex
	checkers map[string]registration

	// Result caching to prevent stampede
	cacheMu      sync.RWMutex
	cachedResult *HealthResult
	cacheExpiry  time.Time
	cacheTTL     time.Duration

	// Default timeout for health checks
	checkTimeout time.Duration
}

type registration struct {
	checker  Checker
	optional bool
}

// HealthResult represents the aggregated health check result.
type HealthResult struct {
	Status string                 `json:"status"` // healthy, degraded or unhealthy
	Checks map[string]CheckResult `json:"checks"`
}

// Ready reports whether every required component passed.
func (r *HealthResult) Ready() bool {
	return r.Status != StatusUnhealthy
}

// CheckResult represents the result of a single component health check.
type CheckResult struct {
	Status   string `json:"status"` // "ok" or "error"
	Optional bool   `json:"optional,omitempty"`
	Message  string `json:"message,omitempty"` // error message if status is "error"
}

// New creates a new Health instance with default configuration.
// Default check timeout is 5 seconds and cache TTL is 1 second.
func New() *Health {
	return NewWithConfig(5*time.Second, time.Second)
}

// NewWithConfig creates a new Health instance with custom configuration.
func NewWithConfig(checkTimeout, cacheTTL time.Duration) *Health {
	return &Health{
		checkers:     make(map[string]registration),
		checkTimeout: checkTimeout,
		cacheTTL:     cacheTTL,
	}
}

// RegisterChecker registers a required health checker for a named component.
// If a checker with the same name is already registered, it will be replaced.
func (h *Health) RegisterChecker(name string, checker Checker) {
	h.register(name, checker, false)
}

// RegisterOptional registers a checker whose failure only degrades the service.
func (h *Health) RegisterOptional(name string, checker Checker) {
	h.register(name, checker, true)
}

func (h *Health) register(name string, checker Checker, optional bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.checkers[name] = registration{checker: checker, optional: optional}
	h.ClearCache()
}

// UnregisterChecker removes a health checker by name.
// Returns true if a checker was removed, false if no checker with that name existed.
func (h *Health) UnregisterChecker(name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.checkers[name]; exists {
		delete(h.checkers, name)
		h.ClearCache()
		return true
	}
	return false
}

// Check executes all registered health checkers and returns the aggregated result.
// Results are cached for cacheTTL duration to prevent stampede under load.
// Each checker is executed with checkTimeout unless the context has a shorter deadline.
func (h *Health) Check(ctx context.Context) *HealthResult {
	h.cacheMu.RLock()
	if h.cachedResult != nil && time.Now().Before(h.cacheExpiry) {
		result := h.cachedResult
		h.cacheMu.RUnlock()
		return result
	}
	h.cacheMu.RUnlock()

	result := h.executeChecks(ctx)

	h.cacheMu.Lock()
	h.cachedResult = result
	h.cacheExpiry = time.Now().Add(h.cacheTTL)
	h.cacheMu.Unlock()

	return result
}

// executeChecks runs all registered checkers concurrently and aggregates results.
func (h *Health) executeChecks(ctx context.Context) *HealthResult {
	h.mu.RLock()
	regs := make(map[string]registration, len(h.checkers))
	for name, reg := range h.checkers {
		regs[name] = reg
	}
	h.mu.RUnlock()

	type checkResponse struct {
		name   string
		result CheckResult
	}

	resultChan := make(chan checkResponse, len(regs))
	var wg sync.WaitGroup

	for name, reg := range regs {
		wg.Add(1)
		go func(name string, reg registration) {
			defer wg.Done()

			checkCtx, cancel := h.withTimeout(ctx)
			defer cancel()

			result := CheckResult{Status: "ok", Optional: reg.optional}
			if err := reg.checker.Check(checkCtx); err != nil {
				result.Status = "error"
				result.Message = err.Error()
			}
			resultChan <- checkResponse{name: name, result: result}
		}(name, reg)
	}

	wg.Wait()
	close(resultChan)

	status := StatusHealthy
	checks := make(map[string]CheckResult, len(regs))
	for response := range resultChan {
		checks[response.name] = response.result
		if response.result.Status == "ok" {
			continue
		}
		if response.result.Optional {
			if status == StatusHealthy {
				status = StatusDegraded
			}
		} else {
			status = StatusUnhealthy
		}
	}

	return &HealthResult{Status: status, Checks: checks}
}

func (h *Health) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, h.checkTimeout)
}

// CheckComponent executes a single component's health check by name.
// Returns an error if the component is not registered or if the check fails.
func (h *Health) CheckComponent(ctx context.Context, name string) error {
	h.mu.RLock()
	reg, exists := h.checkers[name]
	h.mu.RUnlock()

	if !exists {
		return fmt.Errorf("health checker %q not registered", name)
	}

	ctx, cancel := h.withTimeout(ctx)
	defer cancel()

	return reg.checker.Check(ctx)
}

// IsHealthy returns true if all required checkers are currently healthy.
func (h *Health) IsHealthy(ctx context.Context) bool {
	return h.Check(ctx).Ready()
}

// ClearCache clears the cached health check result, forcing the next Check call to re-execute.
func (h *Health) ClearCache() {
	h.cacheMu.Lock()
	defer h.cacheMu.Unlock()

	h.cachedResult = nil
	h.cacheExpiry = time.Time{}
}
