package dispatcher

import (
	"context"
	"sync"

	"cbsink/internal/sink"
)

// Handle is the eventual outcome of one dispatch unit.
// It is resolved exactly once, by the worker that runs the unit.
type Handle struct {
	key  sink.PartitionKey
	size int

	once sync.Once
	done chan struct{}
	err  error
}

func newHandle(key sink.PartitionKey, size int) *Handle {
	return &Handle{
		key:  key,
		size: size,
		done: make(chan struct{}),
	}
}

func (h *Handle) resolve(err error) {
	h.once.Do(func() {
		h.err = err
		close(h.done)
	})
}

// Key returns the partition the unit was submitted for.
func (h *Handle) Key() sink.PartitionKey {
	return h.key
}

// Size returns the number of records in the unit.
func (h *Handle) Size() int {
	return h.size
}

// Done is closed once the unit has resolved.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Resolved reports whether the unit has finished without blocking.
func (h *Handle) Resolved() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Err returns the outcome of a resolved unit. It is nil while the unit is
// still running.
func (h *Handle) Err() error {
	if !h.Resolved() {
		return nil
	}
	return h.err
}

// Wait blocks until the unit resolves and returns its outcome, or returns
// ctx.Err() if ctx ends first.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
