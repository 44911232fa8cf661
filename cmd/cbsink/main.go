package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"cbsink/internal/couchbase"
	"cbsink/internal/sink/coordinator"
	"cbsink/internal/sink/decoder"
	"cbsink/internal/sink/dispatcher"
	"cbsink/internal/sink/metrics"
	"cbsink/internal/sink/tracing"
	"cbsink/internal/sink/writer"
	"cbsink/internal/source"
)

// Set at build time with -ldflags "-X main.version=... -X main.buildTime=...".
var (
	version   = "dev"
	buildTime = "unknown"
)

type Config struct {
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	Couchbase couchbase.Config
	Sink      dispatcher.Config
	Decoder   decoder.Config
	Source    source.Config
	Metrics   metrics.ServerConfig
	Tracing   tracing.Config
}

func main() {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("failed to parse environment variables: %v", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("cbsink stopped with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(cfg Config, logger *zap.Logger) error {
	if err := errors.Join(cfg.Sink.Validate(), cfg.Decoder.Validate(), cfg.Source.Validate()); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	cb, err := couchbase.Connect(cfg.Couchbase)
	if err != nil {
		return fmt.Errorf("failed to connect to Couchbase: %w", err)
	}
	defer func() {
		if err := cb.Close(); err != nil {
			logger.Error("failed to close Couchbase", zap.Error(err))
		}
	}()

	registry := metrics.NewRegistry()
	registry.SetSystemInfo(version, buildTime)

	tracer, tracingCleanup, err := tracing.NewTracer(cfg.Tracing)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracingCleanup(shutdownCtx); err != nil {
			logger.Error("failed to cleanup tracing", zap.Error(err))
		}
	}()

	logger.Info("tracing initialized",
		zap.Bool("enabled", cfg.Tracing.Enabled),
		zap.String("service", cfg.Tracing.ServiceName),
		zap.String("endpoint", cfg.Tracing.Endpoint),
		zap.Float64("sample_rate", cfg.Tracing.SampleRate),
	)

	baseWriter, err := writer.NewCouchbase(cb, logger)
	if err != nil {
		return fmt.Errorf("failed to create writer: %w", err)
	}
	w := writer.NewTracedWriter(writer.NewMetricsWriter(baseWriter, registry), tracer)

	// Retries outlive the consumer loop so that the final checkpoint can
	// still complete; they are cancelled once everything has drained.
	dispatchCtx, cancelDispatch := context.WithCancel(context.Background())
	defer cancelDispatch()

	dec, err := decoder.New(cfg.Decoder)
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}

	baseSink, err := coordinator.NewFromConfig(dispatchCtx, cfg.Sink, dec, w, logger)
	if err != nil {
		return fmt.Errorf("failed to create coordinator: %w", err)
	}
	s := coordinator.NewTracedSink(coordinator.NewMetricsSink(baseSink, registry), tracer)
	defer func() {
		if err := s.Shutdown(); err != nil {
			logger.Error("failed to shut down sink", zap.Error(err))
		}
	}()

	src, err := source.New(cfg.Source, s, func() source.Reader {
		return source.NewReader(cfg.Source)
	}, registry, logger)
	if err != nil {
		return fmt.Errorf("failed to create source: %w", err)
	}

	metricsServer := metrics.NewServer(cfg.Metrics, registry, logger, cb.Ping)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting cbsink",
		zap.String("version", version),
		zap.Strings("topics", cfg.Source.Topics),
		zap.String("bucket", cfg.Couchbase.BucketName),
		zap.String("scope", cfg.Sink.Namespace),
		zap.String("collection", cfg.Sink.Target),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return metricsServer.Start(gctx)
	})
	g.Go(func() error {
		return src.Run(gctx)
	})

	err = g.Wait()
	logger.Info("cbsink stopped")
	return err
}

func newLogger(level string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()

	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		log.Printf("invalid log level %q, defaulting to info: %v", level, err)
		zapLevel = zapcore.InfoLevel
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)

	return config.Build(zap.AddCaller())
}
