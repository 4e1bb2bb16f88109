package obs

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/petal-labs/nodeflow/core"
)

// MetricsHandler translates core.Event values into OpenTelemetry metrics:
// node execution/failure counters, node and run duration histograms, and a
// counter of queue enqueue/cancel events (not a gauge of queue depth).
type MetricsHandler struct {
	nodeExecutions metric.Int64Counter
	nodeFailures   metric.Int64Counter
	nodeDuration   metric.Float64Histogram
	runDuration    metric.Float64Histogram
	queueEvents    metric.Int64Counter
}

// NewMetricsHandler creates a MetricsHandler backed by meter.
func NewMetricsHandler(meter metric.Meter) (*MetricsHandler, error) {
	nodeExec, err := meter.Int64Counter("nodeflow.node.executions",
		metric.WithDescription("Number of node executions"))
	if err != nil {
		return nil, err
	}
	nodeFail, err := meter.Int64Counter("nodeflow.node.failures",
		metric.WithDescription("Number of node failures"))
	if err != nil {
		return nil, err
	}
	nodeDur, err := meter.Float64Histogram("nodeflow.node.duration",
		metric.WithDescription("Duration of node execution in seconds"), metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	runDur, err := meter.Float64Histogram("nodeflow.run.duration",
		metric.WithDescription("Duration of a graph run in seconds"), metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	queueEvents, err := meter.Int64Counter("nodeflow.queue.events",
		metric.WithDescription("Queue lifecycle events (enqueue, cancel)"))
	if err != nil {
		return nil, err
	}

	return &MetricsHandler{
		nodeExecutions: nodeExec,
		nodeFailures:   nodeFail,
		nodeDuration:   nodeDur,
		runDuration:    runDur,
		queueEvents:    queueEvents,
	}, nil
}

// Handle implements core.EventHandler.
func (h *MetricsHandler) Handle(e core.Event) {
	switch e.Kind {
	case core.EventNodeFinished:
		h.handleNodeFinished(e)
	case core.EventNodeFailed:
		h.handleNodeFailed(e)
	case core.EventRunFinished:
		h.handleRunFinished(e)
	case core.EventQueueEnqueued:
		h.queueEvents.Add(context.Background(), 1, metric.WithAttributes(attribute.String("event", "enqueued")))
	case core.EventQueueCancel:
		h.queueEvents.Add(context.Background(), 1, metric.WithAttributes(attribute.String("event", "cancel")))
	}
}

func (h *MetricsHandler) handleNodeFinished(e core.Event) {
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("node_type", e.NodeType),
		attribute.String("node_id", fmt.Sprint(e.NodeID)),
	)
	h.nodeExecutions.Add(ctx, 1, attrs)
	h.nodeDuration.Record(ctx, e.Elapsed.Seconds(), attrs)
}

func (h *MetricsHandler) handleNodeFailed(e core.Event) {
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("node_type", e.NodeType),
		attribute.String("node_id", fmt.Sprint(e.NodeID)),
	)
	h.nodeFailures.Add(ctx, 1, attrs)
}

func (h *MetricsHandler) handleRunFinished(e core.Event) {
	ctx := context.Background()
	h.runDuration.Record(ctx, e.Elapsed.Seconds(), metric.WithAttributes(attribute.String("run_id", e.RunID)))
}
