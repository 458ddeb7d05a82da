package observability

import (
	"context"
	"errors"
	"testing"
)

func TestNewTracer_NoEndpointIsNoop(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "test"})
	if tracer == nil {
		t.Fatal("NewTracer() returned nil")
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			t.Errorf("shutdown error = %v", err)
		}
	}()

	ctx, span := tracer.Start(context.Background(), "operation")
	defer span.End()
	if ctx == nil {
		t.Fatal("Start() returned nil context")
	}
}

func TestRecordError_NilErrorIsIgnored(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{})
	defer func() { _ = shutdown(context.Background()) }()

	_, span := tracer.Start(context.Background(), "operation")
	defer span.End()

	tracer.RecordError(span, nil)
	tracer.RecordError(span, errors.New("boom"))
}

func TestGetTraceID_EmptyWithoutSpan(t *testing.T) {
	if id := GetTraceID(context.Background()); id != "" {
		t.Errorf("GetTraceID() = %q, want empty", id)
	}
}

func TestDomainSpans(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{})
	defer func() { _ = shutdown(context.Background()) }()

	ctx := context.Background()
	_, span := tracer.TraceRun(ctx, "run-1", "conv-1")
	span.End()
	_, span = tracer.TraceLLMRequest(ctx, "anthropic", "claude-sonnet-4")
	span.End()
	_, span = tracer.TraceToolExecution(ctx, "create_artifact")
	span.End()
	_, span = tracer.TraceDatabaseQuery(ctx, "select", "artifacts")
	span.End()
	_, span = tracer.TraceHTTPRequest(ctx, "GET", "/health")
	span.End()
}
