package coordinator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"cbsink/internal/sink"
	"cbsink/internal/sink/metrics"
	"cbsink/internal/sink/sinktest"
	"cbsink/internal/sink/tracing"
)

func TestDecorators_DispatchAndCheckpoint(t *testing.T) {
	gate := make(chan struct{})
	w := &sinktest.Writer{Gate: gate}
	real := newCoordinator(t, context.Background(), sinktest.Decoder{}, w, &sinktest.Sleeper{})

	registry := metrics.NewRegistry()
	spans := tracetest.NewSpanRecorder()
	tracer := tracing.NewTracerFromProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans)), "test")
	s := NewTracedSink(NewMetricsSink(real, registry), tracer)

	require.NoError(t, s.Dispatch(context.Background(), []sink.Record{rec(a0, 1), rec(a0, 2)}))

	assert.Contains(t, scrape(t, registry), `cbsink_pending_units{partition="0",topic="topicA"} 1`)

	close(gate)
	require.NoError(t, s.Checkpoint(context.Background(), []sink.PartitionKey{a0}))
	assert.Contains(t, scrape(t, registry), `cbsink_pending_units{partition="0",topic="topicA"} 0`)
	assert.Contains(t, scrape(t, registry), `cbsink_checkpoint_total{status="success"} 1`)
	require.NoError(t, s.Shutdown())

	names := make([]string, 0, 3)
	for _, sp := range spans.Ended() {
		names = append(names, sp.Name())
	}
	assert.Equal(t, []string{"sink.dispatch", "sink.checkpoint", "sink.shutdown"}, names)
}

func scrape(t *testing.T, registry *metrics.Registry) string {
	t.Helper()
	rec := httptest.NewRecorder()
	registry.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}
