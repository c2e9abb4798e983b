package tracing

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/Combine-Capital/cqsync/pkg/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func setupInMemory(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return exporter
}

func TestNewTracerProvider_Disabled(t *testing.T) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator())

	tp, shutdown, err := NewTracerProvider(context.Background(), config.TracingConfig{Enabled: false}, "cqsync", "")
	if err != nil {
		t.Fatalf("expected no error for disabled tracing, got %v", err)
	}
	defer shutdown(context.Background())

	if tp == nil {
		t.Fatal("expected non-nil tracer provider")
	}

	// Job trace maps keep working without an exporter.
	fields := otel.GetTextMapPropagator().Fields()
	found := false
	for _, f := range fields {
		if f == "traceparent" {
			found = true
		}
	}
	if !found {
		t.Errorf("propagator fields = %v, want traceparent", fields)
	}
}

func TestNewTracerProvider_MissingEndpoint(t *testing.T) {
	_, _, err := NewTracerProvider(context.Background(), config.TracingConfig{Enabled: true}, "cqsync", "1.0.0")
	if err == nil {
		t.Fatal("expected error for missing endpoint")
	}
	if err.Error() != "tracing endpoint is required when tracing is enabled" {
		t.Fatalf("unexpected error message: %v", err)
	}
}

func TestNewTracerProvider_MissingServiceName(t *testing.T) {
	cfg := config.TracingConfig{Enabled: true, Endpoint: "localhost:4317"}

	_, _, err := NewTracerProvider(context.Background(), cfg, "", "1.0.0")
	if err == nil {
		t.Fatal("expected error for missing service name")
	}
	if err.Error() != "service name is required for tracing" {
		t.Fatalf("unexpected error message: %v", err)
	}
}

func TestNewTracerProvider_InvalidExportMode(t *testing.T) {
	cfg := config.TracingConfig{
		Enabled:     true,
		Endpoint:    "localhost:4317",
		ServiceName: "cqsync",
		ExportMode:  "invalid",
	}

	if _, _, err := NewTracerProvider(context.Background(), cfg, "cqsync", "1.0.0"); err == nil {
		t.Fatal("expected error for invalid export mode")
	}
}

func TestNewTracerProvider_Exporters(t *testing.T) {
	for _, mode := range []string{"grpc", "http"} {
		t.Run(mode, func(t *testing.T) {
			cfg := config.TracingConfig{
				Enabled:      true,
				Endpoint:     "localhost:4318",
				ExportMode:   mode,
				Insecure:     true,
				SampleRate:   0.5,
				BatchTimeout: time.Second,
			}

			// Exporters connect lazily, so construction succeeds without a collector.
			tp, shutdown, err := NewTracerProvider(context.Background(), cfg, "cqsync", "1.0.0")
			if err != nil {
				t.Fatalf("NewTracerProvider() error = %v", err)
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
				defer cancel()
				_ = shutdown(ctx)
			}()
			if tp.Tracer("test") == nil {
				t.Fatal("expected non-nil tracer from provider")
			}
		})
	}
}

func TestSampler(t *testing.T) {
	sampled := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1},
		SpanID:     trace.SpanID{1},
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
	parent := trace.ContextWithRemoteSpanContext(context.Background(), sampled)

	// A never-sampling root rate still follows a sampled enqueuer.
	result := newSampler(0).ShouldSample(sdktrace.SamplingParameters{
		ParentContext: parent,
		TraceID:       sampled.TraceID(),
		Name:          "indexsync.job",
	})
	if result.Decision != sdktrace.RecordAndSample {
		t.Errorf("decision with sampled parent = %v, want RecordAndSample", result.Decision)
	}

	result = newSampler(0).ShouldSample(sdktrace.SamplingParameters{
		ParentContext: context.Background(),
		TraceID:       trace.TraceID{2},
		Name:          "indexsync.job",
	})
	if result.Decision != sdktrace.Drop {
		t.Errorf("root decision at rate 0 = %v, want Drop", result.Decision)
	}
}

func TestStartSpan(t *testing.T) {
	exporter := setupInMemory(t)

	_, span := StartSpan(context.Background(), "indexsync.job")
	span.End()

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name != "indexsync.job" {
		t.Fatalf("expected span name 'indexsync.job', got '%s'", spans[0].Name)
	}
}

func TestSetSpanError(t *testing.T) {
	exporter := setupInMemory(t)

	ctx, span := StartSpan(context.Background(), "test-span")
	SetSpanError(ctx, errors.New("search unavailable"))
	span.End()

	spans := exporter.GetSpans()
	if spans[0].Status.Code != codes.Error {
		t.Fatalf("expected error status, got %v", spans[0].Status.Code)
	}
	if len(spans[0].Events) == 0 {
		t.Fatal("expected error event to be recorded")
	}
}

func TestSetSpanError_Nil(t *testing.T) {
	exporter := setupInMemory(t)

	ctx, span := StartSpan(context.Background(), "test-span")
	SetSpanError(ctx, nil)
	span.End()

	if exporter.GetSpans()[0].Status.Code == codes.Error {
		t.Fatal("expected non-error status for nil error")
	}
}

func TestRecordJobOutcome(t *testing.T) {
	exporter := setupInMemory(t)

	ctx, span := StartSpan(context.Background(), "indexsync.job")
	RecordJobOutcome(ctx, "retrying", 2*time.Second)
	span.End()

	ctx, span = StartSpan(context.Background(), "indexsync.job")
	RecordJobOutcome(ctx, "completed", 0)
	span.End()

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}

	retry := spans[0]
	if len(retry.Events) != 1 || retry.Events[0].Name != "indexsync.retry_scheduled" {
		t.Fatalf("unexpected events: %+v", retry.Events)
	}
	if retry.Status.Code == codes.Ok {
		t.Error("retrying job should not be marked ok")
	}

	done := spans[1]
	if done.Status.Code != codes.Ok {
		t.Errorf("completed status = %v, want Ok", done.Status.Code)
	}
	found := false
	for _, a := range done.Attributes {
		if a.Key == "cqsync.outcome" && a.Value.AsString() == "completed" {
			found = true
		}
	}
	if !found {
		t.Error("cqsync.outcome attribute not found")
	}
}

func TestInjectHTTP(t *testing.T) {
	setupInMemory(t)

	ctx, span := StartSpan(context.Background(), "search.upsert")
	defer span.End()

	header := http.Header{}
	InjectHTTP(ctx, header)
	if header.Get("traceparent") == "" {
		t.Fatal("expected traceparent header to be set")
	}

	extracted := otel.GetTextMapPropagator().Extract(context.Background(), propagation.HeaderCarrier(header))
	if trace.SpanContextFromContext(extracted).TraceID() != span.SpanContext().TraceID() {
		t.Fatal("trace ID mismatch after extraction")
	}
}

func TestInjectExtractMap(t *testing.T) {
	setupInMemory(t)

	if m := InjectMap(context.Background()); m != nil {
		t.Fatalf("expected nil carrier without a span, got %v", m)
	}

	ctx, span := StartSpan(context.Background(), "enqueue")
	defer span.End()

	m := InjectMap(ctx)
	if m["traceparent"] == "" {
		t.Fatalf("expected traceparent in carrier, got %v", m)
	}

	restored := trace.SpanFromContext(ExtractMap(context.Background(), m))
	if restored.SpanContext().TraceID() != span.SpanContext().TraceID() {
		t.Fatal("trace ID mismatch after map extraction")
	}

	plain := context.Background()
	if ExtractMap(plain, nil) != plain {
		t.Error("ExtractMap with no carrier should return ctx unchanged")
	}
}

func TestJobAttributes(t *testing.T) {
	attrs := JobAttributes("search-sync", "job-1", "update", "MapTemplate", "abc123", 2)
	if len(attrs) != 7 {
		t.Fatalf("JobAttributes len = %d, want 7", len(attrs))
	}

	attrs = SearchAttributes("upsert", "map_templates")
	found := false
	for _, a := range attrs {
		if a.Key == "search.index" && a.Value.AsString() == "map_templates" {
			found = true
		}
	}
	if !found {
		t.Error("search.index attribute not found")
	}
}
