// Package dispatcher runs partition sub-batches through the remote writer on
// a bounded worker pool, retrying transient failures with exponential backoff.
package dispatcher

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"cbsink/internal/sink"
	"cbsink/internal/validator"
)

// state is a step of the per-unit retry state machine.
type state int

const (
	stateIdle state = iota
	stateDecoding
	stateAttempting
	stateBackoff
	stateResolved
)

func (s state) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateDecoding:
		return "decoding"
	case stateAttempting:
		return "attempting"
	case stateBackoff:
		return "backoff"
	case stateResolved:
		return "resolved"
	default:
		return "unknown"
	}
}

// Option customises a Dispatcher.
type Option func(*Dispatcher)

// WithSleeper replaces the wall-clock sleep used between attempts.
func WithSleeper(s Sleeper) Option {
	return func(d *Dispatcher) {
		d.sleep = s
	}
}

// Dispatcher submits sub-batches to a bounded worker pool. Each submission is
// one dispatch unit whose outcome is reported through a Handle.
type Dispatcher struct {
	ctx     context.Context
	decoder sink.RecordDecoder
	writer  sink.RemoteWriter
	logger  *zap.Logger

	namespace string
	target    string
	backoff   Backoff
	sleep     Sleeper

	pool *pool
}

// New starts a Dispatcher with cfg.Workers goroutines. Cancelling ctx aborts
// pending retries of every unit; it does not stop the pool.
func New(
	ctx context.Context,
	cfg Config,
	decoder sink.RecordDecoder,
	writer sink.RemoteWriter,
	logger *zap.Logger,
	opts ...Option,
) (*Dispatcher, error) {
	if ctx == nil {
		return nil, errors.New("dispatcher: nil context")
	}
	if err := validator.Validate("dispatcher", decoder, writer, logger); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dispatcher config: %w", err)
	}

	d := &Dispatcher{
		ctx:       ctx,
		decoder:   decoder,
		writer:    writer,
		logger:    logger.Named("dispatcher"),
		namespace: cfg.Namespace,
		target:    cfg.Target,
		backoff:   cfg.backoff(),
		sleep:     Sleep,
	}
	for _, opt := range opts {
		opt(d)
	}

	d.pool = newPool(cfg.Workers, cfg.QueueSize)

	return d, nil
}

// Submit queues records for key as one dispatch unit and returns its handle.
// The call blocks only while the queue is full; ctx bounds that wait and has
// no effect on the unit once queued.
func (d *Dispatcher) Submit(ctx context.Context, key sink.PartitionKey, records []sink.Record) (*Handle, error) {
	h := newHandle(key, len(records))
	u := &unit{key: key, records: records}

	err := d.pool.submit(ctx, func() {
		h.resolve(d.run(d.ctx, u))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to queue unit for partition %s: %w", key, err)
	}

	return h, nil
}

// Close stops accepting submissions. Units already queued keep running and
// their handles still resolve.
func (d *Dispatcher) Close() error {
	if d.pool.close() {
		d.logger.Info("dispatcher closed")
	}
	return nil
}

// Wait blocks until every worker exited after Close.
func (d *Dispatcher) Wait() error {
	return d.pool.wait()
}

// unit is the retry state of one dispatched sub-batch.
type unit struct {
	key     sink.PartitionKey
	records []sink.Record
	docs    []sink.Document

	state   state
	attempt int
}

// run drives u through the state machine until it resolves and returns the
// unit's outcome.
func (d *Dispatcher) run(ctx context.Context, u *unit) error {
	logger := d.logger.With(
		zap.String("topic", u.key.Topic),
		zap.Int("partition", u.key.Partition),
		zap.Int("records", len(u.records)),
	)

	for {
		switch u.state {
		case stateIdle:
			u.state = stateDecoding

		case stateDecoding:
			docs, err := d.decode(u.records)
			if err != nil {
				logger.Error("failed to decode sub-batch", zap.Error(err))
				u.state = stateResolved
				return err
			}
			u.docs = docs
			u.state = stateAttempting

		case stateAttempting:
			if err := ctx.Err(); err != nil {
				u.state = stateResolved
				return fmt.Errorf("%w before attempt %d: %w", sink.ErrCancelledDispatch, u.attempt+1, err)
			}

			u.attempt++
			err := d.writer.Write(ctx, d.namespace, d.target, u.docs)
			switch {
			case err == nil:
				logger.Debug("sub-batch written", zap.Int("attempt", u.attempt))
				u.state = stateResolved
				return nil

			case ctx.Err() != nil:
				u.state = stateResolved
				return fmt.Errorf("%w during attempt %d: %w", sink.ErrCancelledDispatch, u.attempt, err)

			case sink.IsTransient(err):
				if u.attempt >= d.backoff.MaxAttempts {
					logger.Error("write retries exhausted", zap.Int("attempts", u.attempt), zap.Error(err))
					u.state = stateResolved
					return fmt.Errorf("%w after %d attempts: %w", sink.ErrRetriableDispatch, u.attempt, err)
				}
				logger.Warn("transient write failure, backing off",
					zap.Int("attempt", u.attempt),
					zap.Duration("delay", d.backoff.Delay(u.attempt)),
					zap.Error(err),
				)
				u.state = stateBackoff

			default:
				if !errors.Is(err, sink.ErrFatalWrite) {
					err = sink.Fatal(err)
				}
				logger.Error("fatal write failure", zap.Int("attempt", u.attempt), zap.Error(err))
				u.state = stateResolved
				return err
			}

		case stateBackoff:
			if err := d.sleep(ctx, d.backoff.Delay(u.attempt)); err != nil {
				logger.Info("backoff interrupted", zap.Int("attempt", u.attempt))
				u.state = stateResolved
				return fmt.Errorf("%w while backing off after attempt %d: %w", sink.ErrCancelledDispatch, u.attempt, err)
			}
			u.state = stateAttempting

		default:
			return fmt.Errorf("dispatch unit in unexpected state %s", u.state)
		}
	}
}

// decode converts every record; the first failure fails the whole sub-batch.
func (d *Dispatcher) decode(records []sink.Record) ([]sink.Document, error) {
	docs := make([]sink.Document, 0, len(records))
	for _, r := range records {
		doc, err := d.decoder.Decode(r)
		if err != nil {
			if !errors.Is(err, sink.ErrDecode) {
				err = fmt.Errorf("%w: %w", sink.ErrDecode, err)
			}
			return nil, fmt.Errorf("record %s offset %d: %w", r.PartitionKey(), r.Offset, err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}
