package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cbsink/internal/sink"
)

// Checkpoint outcomes.
const (
	StatusSuccess   = "success"
	StatusRetriable = "retriable"
	StatusFatal     = "fatal"
	StatusTransient = "transient"
	StatusError     = "error"
)

// Registry encapsulates all metrics and provides a clean interface
// for recording metrics without global state
type Registry struct {
	registry *prometheus.Registry

	// Sink metrics
	dispatchTotal      *prometheus.CounterVec
	dispatchDuration   prometheus.Histogram
	dispatchedRecords  *prometheus.CounterVec
	checkpointTotal    *prometheus.CounterVec
	checkpointDuration prometheus.Histogram
	pendingUnits       *prometheus.GaugeVec

	// Writer metrics
	writeTotal     *prometheus.CounterVec
	writeDuration  *prometheus.HistogramVec
	writeBatchSize *prometheus.HistogramVec

	// Source metrics
	fetchedMessages *prometheus.CounterVec
	commitTotal     *prometheus.CounterVec

	// System health metrics
	systemInfo *prometheus.GaugeVec
	startTime  prometheus.Gauge
}

// NewRegistry creates a new metrics registry with all metrics initialized
func NewRegistry() *Registry {
	registry := prometheus.NewRegistry()

	r := &Registry{
		registry: registry,

		dispatchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cbsink_dispatch_total",
				Help: "Total number of dispatch calls",
			},
			[]string{"status"}, // status: success, retriable, fatal
		),

		dispatchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "cbsink_dispatch_duration_seconds",
				Help:    "Time spent routing and queueing a batch",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
		),

		dispatchedRecords: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cbsink_dispatched_records_total",
				Help: "Total number of records queued for writing",
			},
			[]string{"topic"},
		),

		checkpointTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cbsink_checkpoint_total",
				Help: "Total number of checkpoint calls",
			},
			[]string{"status"}, // status: success, retriable, fatal
		),

		checkpointDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "cbsink_checkpoint_duration_seconds",
				Help:    "Time spent waiting for outstanding writes at checkpoint",
				Buckets: prometheus.DefBuckets,
			},
		),

		pendingUnits: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cbsink_pending_units",
				Help: "Dispatch units queued or running per partition",
			},
			[]string{"topic", "partition"},
		),

		writeTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cbsink_write_total",
				Help: "Total number of remote write attempts",
			},
			[]string{"namespace", "target", "status"}, // status: success, transient, fatal
		),

		writeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cbsink_write_duration_seconds",
				Help:    "Time spent on remote write attempts",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"namespace", "target"},
		),

		writeBatchSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cbsink_write_batch_size",
				Help:    "Number of documents per remote write attempt",
				Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
			},
			[]string{"namespace", "target"},
		),

		fetchedMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cbsink_source_messages_total",
				Help: "Total number of messages fetched from Kafka",
			},
			[]string{"topic"},
		),

		commitTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cbsink_source_commit_total",
				Help: "Total number of offset commit attempts",
			},
			[]string{"status"}, // status: success, retriable, fatal, error
		),

		systemInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cbsink_system_info",
				Help: "System information (value is always 1, labels contain info)",
			},
			[]string{"version", "build_time"},
		),

		startTime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "cbsink_start_time_seconds",
				Help: "Unix timestamp when the application started",
			},
		),
	}

	// add default Go metrics (memory, GC, goroutines, etc.)
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	registry.MustRegister(
		r.dispatchTotal,
		r.dispatchDuration,
		r.dispatchedRecords,
		r.checkpointTotal,
		r.checkpointDuration,
		r.pendingUnits,
		r.writeTotal,
		r.writeDuration,
		r.writeBatchSize,
		r.fetchedMessages,
		r.commitTotal,
		r.systemInfo,
		r.startTime,
	)

	r.startTime.SetToCurrentTime()

	return r
}

// Handler returns an HTTP handler for the Prometheus metrics endpoint
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		Registry:          r.registry,
	})
}

// Outcome maps a sink error to a status label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return StatusSuccess
	case sink.IsRetriable(err):
		return StatusRetriable
	default:
		return StatusFatal
	}
}

// RecordDispatch records one Dispatch call and the records it queued per topic.
func (r *Registry) RecordDispatch(records []sink.Record, duration time.Duration, err error) {
	r.dispatchTotal.WithLabelValues(Outcome(err)).Inc()
	r.dispatchDuration.Observe(duration.Seconds())
	if err != nil {
		return
	}

	perTopic := make(map[string]int)
	for _, rec := range records {
		perTopic[rec.Topic]++
	}
	for topic, n := range perTopic {
		r.dispatchedRecords.WithLabelValues(topic).Add(float64(n))
	}
}

// RecordCheckpoint records one Checkpoint call
func (r *Registry) RecordCheckpoint(duration time.Duration, err error) {
	r.checkpointTotal.WithLabelValues(Outcome(err)).Inc()
	r.checkpointDuration.Observe(duration.Seconds())
}

// UpdatePending sets the pending unit gauge for a partition
func (r *Registry) UpdatePending(key sink.PartitionKey, count int) {
	r.pendingUnits.WithLabelValues(key.Topic, strconv.Itoa(key.Partition)).Set(float64(count))
}

// RecordWrite records one remote write attempt
func (r *Registry) RecordWrite(namespace, target string, batchSize int, duration time.Duration, err error) {
	status := StatusSuccess
	if err != nil {
		status = StatusFatal
		if sink.IsTransient(err) {
			status = StatusTransient
		}
	}

	r.writeTotal.WithLabelValues(namespace, target, status).Inc()
	r.writeDuration.WithLabelValues(namespace, target).Observe(duration.Seconds())
	if err == nil {
		r.writeBatchSize.WithLabelValues(namespace, target).Observe(float64(batchSize))
	}
}

// RecordFetch records messages fetched from a topic
func (r *Registry) RecordFetch(topic string, count int) {
	r.fetchedMessages.WithLabelValues(topic).Add(float64(count))
}

// RecordCommit records an offset commit attempt. status is one of the
// Status constants.
func (r *Registry) RecordCommit(status string) {
	r.commitTotal.WithLabelValues(status).Inc()
}

// SetSystemInfo sets system information metrics
func (r *Registry) SetSystemInfo(version, buildTime string) {
	r.systemInfo.WithLabelValues(version, buildTime).Set(1)
}
