// Package coordinator is the host-facing façade of the dispatch pipeline:
// it routes batches, submits one unit per partition and exposes the
// poll/drain protocol the host uses before committing offsets.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"cbsink/internal/sink"
	"cbsink/internal/sink/dispatcher"
	"cbsink/internal/sink/router"
	"cbsink/internal/sink/tracker"
	"cbsink/internal/validator"
)

// Dispatcher runs partition sub-batches asynchronously.
type Dispatcher interface {
	Submit(ctx context.Context, key sink.PartitionKey, records []sink.Record) (*dispatcher.Handle, error)
	Close() error
}

// Coordinator implements sink.Sink on top of a Dispatcher and a Tracker.
type Coordinator struct {
	dispatcher Dispatcher
	tracker    *tracker.Tracker
	logger     *zap.Logger
	closed     atomic.Bool
}

var _ sink.Sink = (*Coordinator)(nil)

// New creates a Coordinator. The tracker is owned by the coordinator from
// then on.
func New(d Dispatcher, t *tracker.Tracker, logger *zap.Logger) (*Coordinator, error) {
	c := Coordinator{
		dispatcher: d,
		tracker:    t,
		logger:     logger,
	}

	if err := validator.Validate("coordinator", c.dispatcher, c.tracker, c.logger); err != nil {
		return nil, fmt.Errorf("failed to validate coordinator deps: %w", err)
	}
	c.logger = c.logger.Named("coordinator")

	return &c, nil
}

// NewFromConfig wires a dispatcher and an empty tracker from cfg.
func NewFromConfig(
	ctx context.Context,
	cfg dispatcher.Config,
	decoder sink.RecordDecoder,
	writer sink.RemoteWriter,
	logger *zap.Logger,
	opts ...dispatcher.Option,
) (*Coordinator, error) {
	d, err := dispatcher.New(ctx, cfg, decoder, writer, logger, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatcher: %w", err)
	}

	return New(d, tracker.New(), logger)
}

// Dispatch implements sink.Sink.Dispatch.
//
// For each partition in records, errors of earlier units that already
// resolved are surfaced first; if one is found, Dispatch returns it without
// queueing that partition's records. Partitions routed before the failing
// one have already been queued.
func (c *Coordinator) Dispatch(ctx context.Context, records []sink.Record) error {
	if c.closed.Load() {
		return sink.ErrShutdown
	}
	if len(records) == 0 {
		return nil
	}

	for _, g := range router.Route(records) {
		if err := c.tracker.Reconcile(ctx, g.Key, false); err != nil {
			c.logger.Warn("earlier dispatch failed",
				zap.Stringer("partition", g.Key),
				zap.Error(err),
			)
			return fmt.Errorf("failed to reconcile partition %s: %w", g.Key, err)
		}

		h, err := c.dispatcher.Submit(ctx, g.Key, g.Records)
		if err != nil {
			if errors.Is(err, dispatcher.ErrDispatcherClosed) {
				err = errors.Join(sink.ErrShutdown, err)
			}
			return fmt.Errorf("failed to submit %d records for partition %s: %w", len(g.Records), g.Key, err)
		}
		c.tracker.Append(g.Key, h)

		c.logger.Debug("dispatched sub-batch",
			zap.Stringer("partition", g.Key),
			zap.Int("records", len(g.Records)),
		)
	}

	return nil
}

// Checkpoint implements sink.Sink.Checkpoint. Keys are drained in order; the
// first failure aborts the checkpoint but keys drained before it stay
// drained.
func (c *Coordinator) Checkpoint(ctx context.Context, keys []sink.PartitionKey) error {
	for _, key := range keys {
		if err := c.tracker.Reconcile(ctx, key, true); err != nil {
			c.logger.Error("checkpoint failed",
				zap.Stringer("partition", key),
				zap.Bool("retriable", sink.IsRetriable(err)),
				zap.Error(err),
			)
			return fmt.Errorf("failed to checkpoint partition %s: %w", key, err)
		}
	}

	return nil
}

// Shutdown implements sink.Sink.Shutdown. Outstanding units are neither
// awaited nor cancelled; call Checkpoint first to drain them.
func (c *Coordinator) Shutdown() error {
	if c.closed.Swap(true) {
		return nil
	}

	c.logger.Info("shutting down", zap.Int("pending_partitions", len(c.tracker.Keys())))

	if err := c.dispatcher.Close(); err != nil {
		return fmt.Errorf("failed to close dispatcher: %w", err)
	}
	return nil
}

// Pending returns the number of unreconciled units for key.
func (c *Coordinator) Pending(key sink.PartitionKey) int {
	return c.tracker.Pending(key)
}

// Outstanding returns the unreconciled unit count of every partition that
// has any.
func (c *Coordinator) Outstanding() map[sink.PartitionKey]int {
	keys := c.tracker.Keys()
	out := make(map[sink.PartitionKey]int, len(keys))
	for _, k := range keys {
		if n := c.tracker.Pending(k); n > 0 {
			out[k] = n
		}
	}
	return out
}
