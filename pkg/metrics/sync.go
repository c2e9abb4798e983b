package metrics

import (
	"fmt"
	"sync"
)

// Cache request results.
const (
	ResultHit    = "hit"
	ResultMiss   = "miss"
	ResultBypass = "bypass"
	ResultError  = "error"
)

// Job outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeRetrying  = "retrying"
	OutcomeFailed    = "failed"
	OutcomeStalled   = "stalled"
)

var (
	cacheRequests      *Counter
	breakerState       *Gauge
	breakerTransitions *Counter
	jobsTotal          *Counter
	jobDuration        *Histogram
	queueJobs          *Gauge
	searchRequests     *Counter
	searchDuration     *Histogram

	syncMetricsMu   sync.Mutex
	syncMetricsDone bool
)

// InitSyncMetrics registers the cache, breaker, queue and search metrics
// under namespace. Init must run first. Later calls are no-ops.
func InitSyncMetrics(namespace string) error {
	syncMetricsMu.Lock()
	defer syncMetricsMu.Unlock()

	if syncMetricsDone {
		return nil
	}
	if !IsInitialized() {
		return fmt.Errorf("metrics not initialized, call Init() first")
	}

	r := &registrar{reg: Registry(), namespace: namespace}
	requests := r.counter(family{
		subsystem: "cache", name: "requests_total",
		help:   "Cache lookups by result (hit, miss, bypass, error)",
		labels: []string{"result"},
	})
	state := r.gauge(family{
		subsystem: "breaker", name: "state",
		help:   "Circuit breaker state per pool (0 closed, 1 half-open, 2 open)",
		labels: []string{"pool"},
	})
	transitions := r.counter(family{
		subsystem: "breaker", name: "transitions_total",
		help:   "Circuit breaker state transitions per pool",
		labels: []string{"pool", "state"},
	})
	jobs := r.counter(family{
		subsystem: "indexsync", name: "jobs_total",
		help:   "Index sync job attempts by entity type and outcome",
		labels: []string{"entity_type", "outcome"},
	})
	duration := r.histogram(family{
		subsystem: "indexsync", name: "job_duration_seconds",
		help:    "Index sync job processing time",
		labels:  []string{"entity_type"},
		buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	})
	depth := r.gauge(family{
		subsystem: "queue", name: "jobs",
		help:   "Sync queue jobs by state (waiting, active, delayed, failed)",
		labels: []string{"state"},
	})
	search := r.counter(family{
		subsystem: "search", name: "requests_total",
		help:   "Search engine requests by operation and status",
		labels: []string{"operation", "status"},
	})
	searchLatency := r.histogram(family{
		subsystem: "search", name: "request_duration_seconds",
		help:   "Search engine request latency by operation",
		labels: []string{"operation"},
	})
	if r.err != nil {
		return r.err
	}

	cacheRequests, breakerState, breakerTransitions = requests, state, transitions
	jobsTotal, jobDuration, queueJobs = jobs, duration, depth
	searchRequests, searchDuration = search, searchLatency
	syncMetricsDone = true
	return nil
}

// CacheRequests counts cache lookups. Labels: result.
func CacheRequests() *Counter { return cacheRequests }

// BreakerState reports breaker state. Labels: pool.
func BreakerState() *Gauge { return breakerState }

// BreakerTransitions counts breaker transitions. Labels: pool, state.
func BreakerTransitions() *Counter { return breakerTransitions }

// Jobs counts sync job attempts. Labels: entity_type, outcome.
func Jobs() *Counter { return jobsTotal }

// JobDuration observes job processing time. Labels: entity_type.
func JobDuration() *Histogram { return jobDuration }

// QueueJobs reports queue depth. Labels: state.
func QueueJobs() *Gauge { return queueJobs }

// SearchRequests counts search engine calls. Labels: operation, status.
func SearchRequests() *Counter { return searchRequests }

// SearchDuration observes search engine latency. Labels: operation.
func SearchDuration() *Histogram { return searchDuration }
