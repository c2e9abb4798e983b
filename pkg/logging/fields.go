// Package logging provides structured logging with zerolog.
// It supports configurable log levels, output formats (JSON/console), and a
// shared vocabulary of field names for cache, breaker and job events.
//
// Example usage:
//
//	logger := logging.New(cfg.Log).WithComponent("indexsync")
//	logger.Warn().Str(logging.JobID, job.ID).Err(err).Msg("job failed, retrying")
package logging

// Standard field names for structured logging.
const (
	// TraceID is the field name for distributed trace ID (W3C trace context).
	TraceID = "trace_id"

	// ServiceName is the field name for the service generating the log.
	ServiceName = "service_name"

	// Error is the field name for error information.
	Error = "error"

	// Duration is the field name for operation duration.
	Duration = "duration_ms"

	// Component is the field name for the component/package generating the log.
	Component = "component"

	// CacheKey is the cache key an operation touched.
	CacheKey = "cache_key"

	// CacheTag is the invalidation tag an operation touched.
	CacheTag = "cache_tag"

	// Pool is the connection profile name (cache, background, session).
	Pool = "pool"

	// BreakerState is the circuit breaker state after a transition.
	BreakerState = "breaker_state"

	// JobID is the sync job identifier.
	JobID = "job_id"

	// Attempt is the 1-based attempt number of a sync job.
	Attempt = "attempt"

	// EntityType is the entity type of a sync job.
	EntityType = "entity_type"

	// EntityID is the entity identifier of a sync job.
	EntityID = "entity_id"

	// Action is the sync action (update, delete).
	Action = "action"

	// Index is the search index name.
	Index = "index"
)
