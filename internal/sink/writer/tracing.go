package writer

import (
	"context"

	"cbsink/internal/sink"
	"cbsink/internal/sink/tracing"
)

// TracedWriter wraps a sink.RemoteWriter with distributed tracing
// Layer order: TracedWriter -> MetricsWriter -> Couchbase (real thing)
type TracedWriter struct {
	writer sink.RemoteWriter
	tracer *tracing.Tracer
}

// NewTracedWriter creates a new traced writer that wraps a metrics writer
func NewTracedWriter(writer sink.RemoteWriter, tracer *tracing.Tracer) sink.RemoteWriter {
	return &TracedWriter{
		writer: writer,
		tracer: tracer,
	}
}

// Write implements sink.RemoteWriter.Write with distributed tracing
func (w *TracedWriter) Write(ctx context.Context, namespace, target string, docs []sink.Document) error {
	ctx, span := w.tracer.StartSpan(ctx, "writer.write")
	defer span.End()

	span.SetAttributes(tracing.WriteAttributes(namespace, target, len(docs))...)

	err := w.writer.Write(ctx, namespace, target, docs)
	w.tracer.End(span, err)

	return err
}
