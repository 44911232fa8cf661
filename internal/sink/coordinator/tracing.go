package coordinator

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"cbsink/internal/sink"
	"cbsink/internal/sink/tracing"
)

// TracedSink wraps a sink.Sink with distributed tracing
// Layer order: TracedSink -> MetricsSink -> Coordinator (real thing)
type TracedSink struct {
	sink   sink.Sink
	tracer *tracing.Tracer
}

// NewTracedSink creates a new traced sink that wraps a metrics sink
func NewTracedSink(s sink.Sink, tracer *tracing.Tracer) sink.Sink {
	return &TracedSink{
		sink:   s,
		tracer: tracer,
	}
}

// Dispatch implements sink.Sink.Dispatch with distributed tracing
func (t *TracedSink) Dispatch(ctx context.Context, records []sink.Record) error {
	ctx, span := t.tracer.StartSpan(ctx, "sink.dispatch")
	defer span.End()

	span.SetAttributes(tracing.BatchAttributes(records)...)

	err := t.sink.Dispatch(ctx, records)
	t.tracer.End(span, err)

	return err
}

// Checkpoint implements sink.Sink.Checkpoint with distributed tracing
func (t *TracedSink) Checkpoint(ctx context.Context, keys []sink.PartitionKey) error {
	ctx, span := t.tracer.StartSpan(ctx, "sink.checkpoint")
	defer span.End()

	span.SetAttributes(attribute.Int("sink.partitions", len(keys)))

	err := t.sink.Checkpoint(ctx, keys)
	t.tracer.End(span, err)

	return err
}

// Shutdown implements sink.Sink.Shutdown
func (t *TracedSink) Shutdown() error {
	_, span := t.tracer.StartSpan(context.Background(), "sink.shutdown")
	defer span.End()

	err := t.sink.Shutdown()
	t.tracer.End(span, err)

	return err
}
