package tracing

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartSpan starts a span on the cqsync tracer as a child of the span in
// ctx, if any.
//
// Example:
//
//	ctx, span := tracing.StartSpan(ctx, "search.upsert",
//	    trace.WithAttributes(tracing.SearchAttributes("upsert", index)...))
//	defer span.End()
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(instrumentation).Start(ctx, name, opts...)
}

// SetSpanError records err on the span in ctx and marks it failed.
func SetSpanError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// RecordJobOutcome tags the job span in ctx with what happened to the job:
// completed, retrying (with the delay before the next attempt) or failed.
func RecordJobOutcome(ctx context.Context, outcome string, retryIn time.Duration) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.String("cqsync.outcome", outcome))
	if retryIn > 0 {
		span.AddEvent("indexsync.retry_scheduled", trace.WithAttributes(
			attribute.Int64("cqsync.retry_in_ms", retryIn.Milliseconds()),
		))
	}
	if outcome == "completed" {
		span.SetStatus(codes.Ok, "")
	}
}

// JobAttributes returns the attributes recorded on an index sync job span.
func JobAttributes(queue, jobID, action, entityType, entityID string, attempt int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("messaging.system", "cqsync"),
		attribute.String("messaging.destination", queue),
		attribute.String("messaging.message.id", jobID),
		attribute.String("cqsync.action", action),
		attribute.String("cqsync.entity_type", entityType),
		attribute.String("cqsync.entity_id", entityID),
		attribute.Int("cqsync.attempt", attempt),
	}
}

// SearchAttributes returns attributes for a search engine call.
func SearchAttributes(operation, index string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("search.system", "meilisearch"),
		attribute.String("search.operation", operation),
		attribute.String("search.index", index),
	}
}
