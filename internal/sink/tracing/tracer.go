package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"cbsink/internal/sink"
)

// Config holds configuration parameters for OpenTelemetry tracing setup.
type Config struct {
	Enabled        bool          `env:"TRACING_ENABLED" envDefault:"true"`
	ServiceName    string        `env:"TRACING_SERVICE_NAME" envDefault:"cbsink"`
	ServiceVersion string        `env:"TRACING_SERVICE_VERSION" envDefault:"1.0.0"`
	Environment    string        `env:"TRACING_ENVIRONMENT" envDefault:"development"`
	Endpoint       string        `env:"OTLP_ENDPOINT" envDefault:"localhost:4318"`
	Insecure       bool          `env:"OTLP_INSECURE" envDefault:"true"`
	SampleRate     float64       `env:"TRACING_SAMPLE_RATE" envDefault:"1.0"`
	BatchTimeout   time.Duration `env:"TRACING_BATCH_TIMEOUT" envDefault:"1s"`
	ExportTimeout  time.Duration `env:"TRACING_EXPORT_TIMEOUT" envDefault:"30s"`
	MaxExportBatch int           `env:"TRACING_MAX_EXPORT_BATCH" envDefault:"512"`
	MaxQueueSize   int           `env:"TRACING_MAX_QUEUE_SIZE" envDefault:"2048"`
}

// Tracer wraps the OpenTelemetry tracer with helpers for sink operations.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates and configures a new OpenTelemetry tracer with OTLP HTTP export.
// The returned cleanup flushes pending spans and shuts the provider down.
// A disabled config yields a no-op tracer.
func NewTracer(config Config) (*Tracer, func(context.Context) error, error) {
	if !config.Enabled {
		return NewNoopTracer(), func(context.Context) error { return nil }, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			attribute.String("service.environment", config.Environment),
		),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create resource: %w", err)
	}

	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(config.Endpoint),
		otlptracehttp.WithTimeout(config.ExportTimeout),
	}
	if config.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptracehttp.New(context.Background(), opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	processor := sdktrace.NewBatchSpanProcessor(
		exporter,
		sdktrace.WithBatchTimeout(config.BatchTimeout),
		sdktrace.WithExportTimeout(config.ExportTimeout),
		sdktrace.WithMaxExportBatchSize(config.MaxExportBatch),
		sdktrace.WithMaxQueueSize(config.MaxQueueSize),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(processor),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(config.SampleRate))),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	cleanup := func(ctx context.Context) error {
		if err := tp.ForceFlush(ctx); err != nil {
			return fmt.Errorf("failed to flush traces: %w", err)
		}
		return tp.Shutdown(ctx)
	}

	return &Tracer{tracer: tp.Tracer(config.ServiceName)}, cleanup, nil
}

// NewNoopTracer returns a tracer that records nothing.
func NewNoopTracer() *Tracer {
	return &Tracer{tracer: noop.NewTracerProvider().Tracer("cbsink")}
}

// NewTracerFromProvider builds a Tracer on an existing provider.
func NewTracerFromProvider(tp trace.TracerProvider, name string) *Tracer {
	return &Tracer{tracer: tp.Tracer(name)}
}

// StartSpan creates a new tracing span with the specified name and options.
func (t *Tracer) StartSpan(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, spanName, opts...)
}

// End records the outcome of the operation on span.
func (t *Tracer) End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.SetAttributes(ErrorAttributes(err)...)
}

// PartitionAttributes identifies one partition.
func PartitionAttributes(key sink.PartitionKey) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("messaging.destination.name", key.Topic),
		attribute.Int("messaging.destination.partition.id", key.Partition),
	}
}

// BatchAttributes describes a batch handed to Dispatch.
func BatchAttributes(records []sink.Record) []attribute.KeyValue {
	partitions := make(map[sink.PartitionKey]struct{})
	for _, r := range records {
		partitions[r.PartitionKey()] = struct{}{}
	}
	return []attribute.KeyValue{
		attribute.Int("sink.batch_size", len(records)),
		attribute.Int("sink.partitions", len(partitions)),
	}
}

// WriteAttributes describes one remote write attempt.
func WriteAttributes(namespace, target string, docs int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("db.system", "couchbase"),
		attribute.String("db.operation", "upsert"),
		attribute.String("db.namespace", namespace),
		attribute.String("db.collection.name", target),
		attribute.Int("db.operation.batch.size", docs),
	}
}

// ErrorAttributes creates attributes based on error state.
func ErrorAttributes(err error) []attribute.KeyValue {
	if err == nil {
		return []attribute.KeyValue{
			attribute.Bool("error", false),
		}
	}
	return []attribute.KeyValue{
		attribute.Bool("error", true),
		attribute.Bool("error.retriable", sink.IsRetriable(err) || sink.IsTransient(err)),
		attribute.String("error.type", fmt.Sprintf("%T", err)),
		attribute.String("error.message", err.Error()),
	}
}
