package executor

import (
	"context"
	"time"

	"github.com/vk/flowgridgo/internal/model"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type instruments struct {
	nodeDuration   metric.Float64Histogram
	nodeExecutions metric.Int64Counter
	runExecutions  metric.Int64Counter
}

func newInstruments(meter metric.Meter) (*instruments, error) {
	nodeDuration, err := meter.Float64Histogram(
		"flowgrid.node.duration",
		metric.WithDescription("Duration of node executions."),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	nodeExecutions, err := meter.Int64Counter(
		"flowgrid.node.executions",
		metric.WithDescription("Number of node executions by type and outcome."),
	)
	if err != nil {
		return nil, err
	}
	runExecutions, err := meter.Int64Counter(
		"flowgrid.run.executions",
		metric.WithDescription("Number of finished workflow executions by status."),
	)
	if err != nil {
		return nil, err
	}
	return &instruments{
		nodeDuration:   nodeDuration,
		nodeExecutions: nodeExecutions,
		runExecutions:  runExecutions,
	}, nil
}

func (m *instruments) recordNode(ctx context.Context, nodeType model.NodeType, outcome string, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("node_type", string(nodeType)),
		attribute.String("outcome", outcome),
	)
	ctx = context.WithoutCancel(ctx)
	m.nodeDuration.Record(ctx, d.Seconds(), attrs)
	m.nodeExecutions.Add(ctx, 1, attrs)
}

func (m *instruments) recordRun(ctx context.Context, status string) {
	m.runExecutions.Add(context.WithoutCancel(ctx), 1, metric.WithAttributes(attribute.String("status", status)))
}
