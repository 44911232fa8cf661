package writer

import (
	"context"
	"time"

	"cbsink/internal/sink"
	"cbsink/internal/sink/metrics"
)

// MetricsWriter wraps a sink.RemoteWriter with metrics collection
type MetricsWriter struct {
	writer   sink.RemoteWriter
	registry *metrics.Registry
}

// NewMetricsWriter creates a new instrumented writer
func NewMetricsWriter(writer sink.RemoteWriter, registry *metrics.Registry) sink.RemoteWriter {
	return &MetricsWriter{
		writer:   writer,
		registry: registry,
	}
}

// Write implements sink.RemoteWriter.Write with metrics collection
func (w *MetricsWriter) Write(ctx context.Context, namespace, target string, docs []sink.Document) error {
	start := time.Now()

	err := w.writer.Write(ctx, namespace, target, docs)

	w.registry.RecordWrite(namespace, target, len(docs), time.Since(start), err)

	return err
}
