// Package source feeds Kafka records into a sink.Sink and commits consumer
// offsets only for partitions the sink has checkpointed.
package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"cbsink/internal/sink"
	"cbsink/internal/sink/metrics"
	"cbsink/internal/validator"
)

// Reader is the subset of *kafka.Reader the source uses.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ReaderFactory opens a fresh reader. Reopening rejoins the consumer group,
// which resumes every partition from its last committed offset.
type ReaderFactory func() Reader

// Source is the host loop: fetch, dispatch, and periodically checkpoint and
// commit.
type Source struct {
	cfg       Config
	sink      sink.Sink
	newReader ReaderFactory
	registry  *metrics.Registry
	logger    *zap.Logger
}

// New creates a Source. All parameters are required.
func New(cfg Config, s sink.Sink, newReader ReaderFactory, registry *metrics.Registry, logger *zap.Logger) (*Source, error) {
	if err := validator.Validate("source", s, newReader, registry, logger); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid source config: %w", err)
	}

	return &Source{
		cfg:       cfg,
		sink:      s,
		newReader: newReader,
		registry:  registry,
		logger:    logger.Named("source"),
	}, nil
}

// Run consumes until ctx is cancelled or a non-retriable failure occurs.
// On cancellation the outstanding work is checkpointed and committed before
// Run returns nil.
func (s *Source) Run(ctx context.Context) error {
	reader := s.newReader()
	defer func() {
		if err := reader.Close(); err != nil {
			s.logger.Warn("failed to close reader", zap.Error(err))
		}
	}()

	uncommitted := make(map[sink.PartitionKey]kafka.Message)
	lastCommit := time.Now()

	for {
		batch, err := s.fetch(ctx, reader)
		if err != nil {
			if ctx.Err() != nil {
				return s.drain(reader, uncommitted)
			}
			return fmt.Errorf("failed to fetch messages: %w", err)
		}

		if len(batch) > 0 {
			if err := s.sink.Dispatch(ctx, records(batch)); err != nil {
				if !sink.IsRetriable(err) {
					return fmt.Errorf("failed to dispatch batch: %w", err)
				}
				reader = s.rewind(reader, uncommitted, err)
				continue
			}
			for _, m := range batch {
				uncommitted[sink.PartitionKey{Topic: m.Topic, Partition: m.Partition}] = m
			}
		}

		if time.Since(lastCommit) < s.cfg.CommitInterval || len(uncommitted) == 0 {
			continue
		}

		switch err := s.commit(ctx, reader, uncommitted); {
		case err == nil:
			lastCommit = time.Now()
		case ctx.Err() != nil:
			return s.drain(reader, uncommitted)
		case sink.IsRetriable(err):
			reader = s.rewind(reader, uncommitted, err)
		default:
			return err
		}
	}
}

// fetch collects up to BatchSize messages, returning early once
// BatchTimeout elapses.
func (s *Source) fetch(ctx context.Context, reader Reader) ([]kafka.Message, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.BatchTimeout)
	defer cancel()

	batch := make([]kafka.Message, 0, s.cfg.BatchSize)
	for len(batch) < s.cfg.BatchSize {
		m, err := reader.FetchMessage(fetchCtx)
		if err != nil {
			if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
				break
			}
			return nil, err
		}
		batch = append(batch, m)
	}

	for topic, n := range countByTopic(batch) {
		s.registry.RecordFetch(topic, n)
	}
	return batch, nil
}

// commit checkpoints every partition with uncommitted messages and commits
// the highest offset seen for each. Nothing is committed unless the whole
// checkpoint succeeds.
func (s *Source) commit(ctx context.Context, reader Reader, uncommitted map[sink.PartitionKey]kafka.Message) error {
	keys := make([]sink.PartitionKey, 0, len(uncommitted))
	for k := range uncommitted {
		keys = append(keys, k)
	}
	sink.SortKeys(keys)

	checkpointCtx, cancel := context.WithTimeout(ctx, s.cfg.CheckpointTimeout)
	defer cancel()

	if err := s.sink.Checkpoint(checkpointCtx, keys); err != nil {
		s.registry.RecordCommit(metrics.Outcome(err))
		return fmt.Errorf("failed to checkpoint %d partitions: %w", len(keys), err)
	}

	msgs := make([]kafka.Message, 0, len(keys))
	for _, k := range keys {
		msgs = append(msgs, uncommitted[k])
	}
	if err := reader.CommitMessages(checkpointCtx, msgs...); err != nil {
		s.registry.RecordCommit(metrics.StatusError)
		return fmt.Errorf("failed to commit offsets: %w", err)
	}
	s.registry.RecordCommit(metrics.StatusSuccess)

	for _, k := range keys {
		delete(uncommitted, k)
	}
	s.logger.Debug("committed offsets", zap.Int("partitions", len(keys)))
	return nil
}

// rewind drops uncommitted progress and reopens the reader so that the
// group redelivers from the last committed offsets. Redelivered records map
// to the same document IDs, so rewriting them is safe.
func (s *Source) rewind(reader Reader, uncommitted map[sink.PartitionKey]kafka.Message, cause error) Reader {
	s.logger.Warn("retriable failure, redelivering from last commit",
		zap.Int("partitions", len(uncommitted)),
		zap.Error(cause),
	)

	if err := reader.Close(); err != nil {
		s.logger.Warn("failed to close reader", zap.Error(err))
	}
	clear(uncommitted)
	return s.newReader()
}

// drain runs a final checkpoint on shutdown, detached from the cancelled
// run context.
func (s *Source) drain(reader Reader, uncommitted map[sink.PartitionKey]kafka.Message) error {
	if len(uncommitted) == 0 {
		return nil
	}

	s.logger.Info("draining before shutdown", zap.Int("partitions", len(uncommitted)))
	if err := s.commit(context.Background(), reader, uncommitted); err != nil {
		s.logger.Error("final checkpoint failed, records will be redelivered", zap.Error(err))
		return err
	}
	return nil
}

func records(msgs []kafka.Message) []sink.Record {
	out := make([]sink.Record, len(msgs))
	for i, m := range msgs {
		out[i] = sink.Record{
			Topic:     m.Topic,
			Partition: m.Partition,
			Offset:    m.Offset,
			Key:       m.Key,
			Value:     m.Value,
			Time:      m.Time,
		}
	}
	return out
}

func countByTopic(msgs []kafka.Message) map[string]int {
	counts := make(map[string]int)
	for _, m := range msgs {
		counts[m.Topic]++
	}
	return counts
}
