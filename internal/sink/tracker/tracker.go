// Package tracker keeps, per partition, the outstanding dispatch handles in
// submission order and reconciles them either opportunistically or as a
// durability barrier.
package tracker

import (
	"context"
	"sync"

	"cbsink/internal/sink"
)

// Handle is the view of a dispatch unit's outcome the tracker needs.
type Handle interface {
	// Done is closed once the unit resolved.
	Done() <-chan struct{}
	// Err returns the unit's outcome once Done is closed.
	Err() error
}

type entry struct {
	seq uint64
	h   Handle
}

// pending is the FIFO of unreconciled handles for one partition.
type pending struct {
	mu      sync.Mutex
	entries []entry
	next    uint64
}

// Tracker owns the pending handles of every partition. Each partition has
// its own lock, so work on different partitions never contends.
type Tracker struct {
	mu    sync.RWMutex
	lists map[sink.PartitionKey]*pending
}

func New() *Tracker {
	return &Tracker{
		lists: make(map[sink.PartitionKey]*pending),
	}
}

func (t *Tracker) list(key sink.PartitionKey) *pending {
	t.mu.RLock()
	p := t.lists[key]
	t.mu.RUnlock()
	return p
}

func (t *Tracker) listOrCreate(key sink.PartitionKey) *pending {
	if p := t.list(key); p != nil {
		return p
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.lists[key]
	if !ok {
		p = &pending{}
		t.lists[key] = p
	}
	return p
}

// Append records h as the newest outstanding handle for key.
func (t *Tracker) Append(key sink.PartitionKey, h Handle) {
	p := t.listOrCreate(key)

	p.mu.Lock()
	p.entries = append(p.entries, entry{seq: p.next, h: h})
	p.next++
	p.mu.Unlock()
}

// Reconcile walks the handles for key in submission order and removes the
// ones that resolved.
//
// In non-blocking mode it stops at the first handle still running. In
// blocking mode it waits for every handle that was pending when the call
// started, or until ctx ends. A handle is removed before its error is
// looked at; the first error stops the walk and is returned as a
// *sink.ReconcileError. Handles after it stay pending for the next call.
func (t *Tracker) Reconcile(ctx context.Context, key sink.PartitionKey, blocking bool) error {
	p := t.list(key)
	if p == nil {
		return nil
	}

	p.mu.Lock()
	limit := p.next
	p.mu.Unlock()

	for {
		p.mu.Lock()
		if len(p.entries) == 0 || p.entries[0].seq >= limit {
			p.mu.Unlock()
			return nil
		}
		head := p.entries[0]
		p.mu.Unlock()

		if blocking {
			select {
			case <-head.h.Done():
			case <-ctx.Done():
				return ctx.Err()
			}
		} else {
			select {
			case <-head.h.Done():
			default:
				return nil
			}
		}

		if !p.remove(head.seq) {
			// reconciled concurrently by another caller
			continue
		}

		if err := head.h.Err(); err != nil {
			return &sink.ReconcileError{Key: key, Err: err}
		}
	}
}

// remove pops the head entry if it still is seq.
func (p *pending) remove(seq uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.entries) == 0 || p.entries[0].seq != seq {
		return false
	}
	p.entries[0] = entry{}
	p.entries = p.entries[1:]
	return true
}

// Pending returns the number of unreconciled handles for key.
func (t *Tracker) Pending(key sink.PartitionKey) int {
	p := t.list(key)
	if p == nil {
		return 0
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Keys returns the partitions that currently have unreconciled handles,
// sorted by topic then partition.
func (t *Tracker) Keys() []sink.PartitionKey {
	t.mu.RLock()
	keys := make([]sink.PartitionKey, 0, len(t.lists))
	for k, p := range t.lists {
		p.mu.Lock()
		if len(p.entries) > 0 {
			keys = append(keys, k)
		}
		p.mu.Unlock()
	}
	t.mu.RUnlock()

	sink.SortKeys(keys)
	return keys
}
