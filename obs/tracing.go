// Package obs adapts the engine's core.Event stream into OpenTelemetry
// spans and metrics: one span per run, one span per node execution, with
// node/queue/tool event kinds folded into span and metric attributes.
package obs

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/petal-labs/nodeflow/core"
)

// TracingHandler translates core.Event values into OpenTelemetry spans: one
// root span per run, one child span per node, and span events for tool
// calls/results.
type TracingHandler struct {
	tracer trace.Tracer

	mu        sync.RWMutex
	runSpans  map[string]trace.Span
	runCtxs   map[string]context.Context
	nodeSpans map[string]trace.Span // runID:nodeID -> span
}

// NewTracingHandler creates a TracingHandler backed by tracer.
func NewTracingHandler(tracer trace.Tracer) *TracingHandler {
	return &TracingHandler{
		tracer:    tracer,
		runSpans:  make(map[string]trace.Span),
		runCtxs:   make(map[string]context.Context),
		nodeSpans: make(map[string]trace.Span),
	}
}

// Handle implements core.EventHandler.
func (h *TracingHandler) Handle(e core.Event) {
	switch e.Kind {
	case core.EventRunStarted:
		h.handleRunStarted(e)
	case core.EventNodeStarted:
		h.handleNodeStarted(e)
	case core.EventNodeFinished:
		h.handleNodeFinished(e)
	case core.EventNodeFailed:
		h.handleNodeFailed(e)
	case core.EventToolCall, core.EventToolResult:
		h.handleToolEvent(e)
	case core.EventRunFinished:
		h.handleRunFinished(e)
	}
}

func (h *TracingHandler) handleRunStarted(e core.Event) {
	ctx, span := h.tracer.Start(context.Background(), "run:"+e.RunID,
		trace.WithAttributes(attribute.String("nodeflow.run_id", e.RunID)),
		trace.WithTimestamp(e.Time),
	)
	h.mu.Lock()
	h.runSpans[e.RunID] = span
	h.runCtxs[e.RunID] = ctx
	h.mu.Unlock()
}

func (h *TracingHandler) handleNodeStarted(e core.Event) {
	h.mu.RLock()
	parentCtx, ok := h.runCtxs[e.RunID]
	h.mu.RUnlock()
	if !ok {
		parentCtx = context.Background()
	}

	_, span := h.tracer.Start(parentCtx, fmt.Sprintf("node:%d", e.NodeID),
		trace.WithAttributes(
			attribute.String("nodeflow.run_id", e.RunID),
			attribute.Int("nodeflow.node_id", e.NodeID),
			attribute.String("nodeflow.node_type", e.NodeType),
		),
		trace.WithTimestamp(e.Time),
	)

	h.mu.Lock()
	h.nodeSpans[nodeKey(e)] = span
	h.mu.Unlock()
}

func (h *TracingHandler) handleNodeFinished(e core.Event) {
	span, ok := h.popNodeSpan(e)
	if !ok {
		return
	}
	span.SetAttributes(attribute.String("nodeflow.duration", e.Elapsed.String()))
	span.SetStatus(codes.Ok, "")
	span.End(trace.WithTimestamp(e.Time))
}

func (h *TracingHandler) handleNodeFailed(e core.Event) {
	span, ok := h.popNodeSpan(e)
	if !ok {
		return
	}
	errMsg := "unknown error"
	if msg, found := e.Payload["error"]; found {
		if s, ok := msg.(string); ok {
			errMsg = s
		}
	}
	span.SetStatus(codes.Error, errMsg)
	span.RecordError(spanError(errMsg), trace.WithTimestamp(e.Time))
	span.End(trace.WithTimestamp(e.Time))
}

func (h *TracingHandler) handleToolEvent(e core.Event) {
	h.mu.RLock()
	span, ok := h.nodeSpans[nodeKey(e)]
	h.mu.RUnlock()
	if !ok {
		return
	}

	attrs := []attribute.KeyValue{attribute.String("nodeflow.event_kind", string(e.Kind))}
	if toolName, found := e.Payload["tool"]; found {
		if s, ok := toolName.(string); ok {
			attrs = append(attrs, attribute.String("nodeflow.tool_name", s))
		}
	}
	span.AddEvent(string(e.Kind), trace.WithTimestamp(e.Time), trace.WithAttributes(attrs...))
}

func (h *TracingHandler) handleRunFinished(e core.Event) {
	h.mu.Lock()
	span, ok := h.runSpans[e.RunID]
	if ok {
		delete(h.runSpans, e.RunID)
		delete(h.runCtxs, e.RunID)
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	status := "ok"
	if s, found := e.Payload["status"]; found {
		if str, ok := s.(string); ok {
			status = str
		}
	}
	span.SetAttributes(
		attribute.String("nodeflow.duration", e.Elapsed.String()),
		attribute.String("nodeflow.status", status),
	)
	if status == "failed" {
		errMsg := "run failed"
		if msg, found := e.Payload["error"]; found {
			if s, ok := msg.(string); ok {
				errMsg = s
			}
		}
		span.SetStatus(codes.Error, errMsg)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(e.Time))
}

func (h *TracingHandler) popNodeSpan(e core.Event) (trace.Span, bool) {
	key := nodeKey(e)
	h.mu.Lock()
	span, ok := h.nodeSpans[key]
	if ok {
		delete(h.nodeSpans, key)
	}
	h.mu.Unlock()
	return span, ok
}

// ActiveSpanContext returns the SpanContext for the active node span, or an
// empty SpanContext if none is active.
func (h *TracingHandler) ActiveSpanContext(runID string, nodeID int) trace.SpanContext {
	h.mu.RLock()
	span, ok := h.nodeSpans[runID+":"+fmt.Sprint(nodeID)]
	h.mu.RUnlock()
	if !ok {
		return trace.SpanContext{}
	}
	return span.SpanContext()
}

// ActiveRunSpanContext returns the SpanContext for the active run span, or
// an empty SpanContext if none is active.
func (h *TracingHandler) ActiveRunSpanContext(runID string) trace.SpanContext {
	h.mu.RLock()
	span, ok := h.runSpans[runID]
	h.mu.RUnlock()
	if !ok {
		return trace.SpanContext{}
	}
	return span.SpanContext()
}

func nodeKey(e core.Event) string {
	return e.RunID + ":" + fmt.Sprint(e.NodeID)
}

type spanError string

func (e spanError) Error() string { return string(e) }
