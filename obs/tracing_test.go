package obs_test

import (
	"testing"
	"time"

	otelcodes "go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/petal-labs/nodeflow/core"
	"github.com/petal-labs/nodeflow/obs"
)

func newTestTracer() (*tracetest.InMemoryExporter, *sdktrace.TracerProvider) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	return exporter, tp
}

func TestTracingHandlerRunSpanLifecycle(t *testing.T) {
	exporter, tp := newTestTracer()
	h := obs.NewTracingHandler(tp.Tracer("test"))

	now := time.Now()
	h.Handle(core.NewEvent(core.EventRunStarted, "run-1"))

	if !h.ActiveRunSpanContext("run-1").IsValid() {
		t.Fatal("expected a valid run span context after run_started")
	}

	h.Handle(core.NewEvent(core.EventRunFinished, "run-1").
		WithElapsed(100 * time.Millisecond).
		WithPayload("status", "completed"))
	_ = now

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name != "run:run-1" {
		t.Errorf("span name = %q, want run:run-1", spans[0].Name)
	}
	if spans[0].Status.Code != otelcodes.Ok {
		t.Errorf("status = %v, want Ok", spans[0].Status.Code)
	}
}

func TestTracingHandlerNodeSpanFailure(t *testing.T) {
	exporter, tp := newTestTracer()
	h := obs.NewTracingHandler(tp.Tracer("test"))

	h.Handle(core.NewEvent(core.EventRunStarted, "run-2"))
	h.Handle(core.NewEvent(core.EventNodeStarted, "run-2").WithNode(1, "Append"))
	h.Handle(core.NewEvent(core.EventNodeFailed, "run-2").WithNode(1, "Append").WithPayload("error", "boom"))
	h.Handle(core.NewEvent(core.EventRunFinished, "run-2").WithPayload("status", "failed").WithPayload("error", "boom"))

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans (node + run), got %d", len(spans))
	}

	var nodeSpan, runSpan tracetest.SpanStub
	for _, s := range spans {
		if s.Name == "node:1" {
			nodeSpan = s
		} else {
			runSpan = s
		}
	}
	if nodeSpan.Status.Code != otelcodes.Error {
		t.Errorf("node span status = %v, want Error", nodeSpan.Status.Code)
	}
	if runSpan.Status.Code != otelcodes.Error {
		t.Errorf("run span status = %v, want Error", runSpan.Status.Code)
	}
}

func TestTracingHandlerUnknownRunIsNoop(t *testing.T) {
	_, tp := newTestTracer()
	h := obs.NewTracingHandler(tp.Tracer("test"))

	// No run_started was ever emitted for "ghost"; finishing it should not
	// panic and should leave no active span.
	h.Handle(core.NewEvent(core.EventNodeFinished, "ghost").WithNode(9, "Ticker"))
	h.Handle(core.NewEvent(core.EventRunFinished, "ghost"))

	if h.ActiveRunSpanContext("ghost").IsValid() {
		t.Error("expected no active span for a run that was never started")
	}
}
