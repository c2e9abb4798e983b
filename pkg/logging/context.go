package logging

import (
	"context"

	"github.com/Combine-Capital/cqsync/pkg/config"
)

// contextKey is a type for context keys to avoid collisions.
type contextKey string

const (
	loggerContextKey  = contextKey("cqsync.logger")
	traceIDContextKey = contextKey("cqsync.trace_id")
)

// WithLogger adds a logger to the context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerContextKey, logger)
}

// FromContext extracts a logger from the context.
// If no logger is found, it returns a default logger.
func FromContext(ctx context.Context) *Logger {
	logger, ok := ctx.Value(loggerContextKey).(*Logger)
	if !ok {
		logger = New(config.LogConfig{Level: "info", Format: "json", Output: "stdout"})
	}

	if traceID := GetTraceID(ctx); traceID != "" {
		return logger.WithFields(map[string]interface{}{TraceID: traceID})
	}
	return logger
}

// WithTraceID adds a trace ID to the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDContextKey, traceID)
}

// GetTraceID retrieves the trace ID from the context.
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(traceIDContextKey).(string); ok {
		return traceID
	}
	return ""
}
