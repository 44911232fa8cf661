package coordinator

import (
	"context"
	"sync"
	"time"

	"cbsink/internal/sink"
	"cbsink/internal/sink/metrics"
)

// outstanding is implemented by sinks that can report per-partition backlog.
type outstanding interface {
	Outstanding() map[sink.PartitionKey]int
}

// MetricsSink wraps a sink.Sink with metrics collection
type MetricsSink struct {
	sink     sink.Sink
	registry *metrics.Registry

	mu   sync.Mutex
	seen map[sink.PartitionKey]struct{}
}

// NewMetricsSink creates a new instrumented sink
func NewMetricsSink(s sink.Sink, registry *metrics.Registry) sink.Sink {
	return &MetricsSink{
		sink:     s,
		registry: registry,
		seen:     make(map[sink.PartitionKey]struct{}),
	}
}

// Dispatch implements sink.Sink.Dispatch with metrics collection
func (m *MetricsSink) Dispatch(ctx context.Context, records []sink.Record) error {
	start := time.Now()

	err := m.sink.Dispatch(ctx, records)

	m.registry.RecordDispatch(records, time.Since(start), err)
	m.updatePending()

	return err
}

// Checkpoint implements sink.Sink.Checkpoint with metrics collection
func (m *MetricsSink) Checkpoint(ctx context.Context, keys []sink.PartitionKey) error {
	start := time.Now()

	err := m.sink.Checkpoint(ctx, keys)

	m.registry.RecordCheckpoint(time.Since(start), err)
	m.updatePending()

	return err
}

// Shutdown implements sink.Sink.Shutdown
func (m *MetricsSink) Shutdown() error {
	return m.sink.Shutdown()
}

// updatePending refreshes the backlog gauge. Partitions that drained since
// the last refresh are reset to zero.
func (m *MetricsSink) updatePending() {
	o, ok := m.sink.(outstanding)
	if !ok {
		return
	}
	counts := o.Outstanding()

	m.mu.Lock()
	defer m.mu.Unlock()

	for key := range m.seen {
		if _, ok := counts[key]; !ok {
			m.registry.UpdatePending(key, 0)
			delete(m.seen, key)
		}
	}
	for key, n := range counts {
		m.registry.UpdatePending(key, n)
		m.seen[key] = struct{}{}
	}
}
