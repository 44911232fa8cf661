package sink

import "context"

// Sink is the host-facing surface of the dispatch pipeline.
type Sink interface {
	// Dispatch routes records by partition and queues one asynchronous write
	// per partition. Before queueing, errors already observed for the
	// partition are surfaced.
	Dispatch(ctx context.Context, records []Record) error

	// Checkpoint blocks until every write queued for the given partitions has
	// either succeeded or failed. The host must not commit offsets for a
	// partition when Checkpoint returns an error.
	Checkpoint(ctx context.Context, keys []PartitionKey) error

	// Shutdown stops accepting new records and releases the worker pool.
	Shutdown() error
}
