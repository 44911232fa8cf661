package dispatcher

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ErrDispatcherClosed is returned when submitting to a closed dispatcher.
var ErrDispatcherClosed = errors.New("dispatcher is closed")

// pool runs jobs on a fixed number of goroutines fed by a bounded queue.
type pool struct {
	jobs chan func()
	g    errgroup.Group

	// quit is closed first on close so that blocked submitters release mu.
	quit     chan struct{}
	quitOnce sync.Once

	mu     sync.RWMutex
	closed bool
}

func newPool(workers, queueSize int) *pool {
	p := &pool{
		jobs: make(chan func(), queueSize),
		quit: make(chan struct{}),
	}

	for i := 0; i < workers; i++ {
		p.g.Go(func() error {
			for job := range p.jobs {
				job()
			}
			return nil
		})
	}

	return p
}

// submit enqueues job. It blocks only while the queue is full, and gives up
// when ctx ends or the pool is closed.
func (p *pool) submit(ctx context.Context, job func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrDispatcherClosed
	}

	select {
	case p.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.quit:
		return ErrDispatcherClosed
	}
}

// close stops accepting jobs. Queued jobs still run; close does not wait
// for them.
func (p *pool) close() bool {
	p.quitOnce.Do(func() { close(p.quit) })

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return false
	}

	p.closed = true
	close(p.jobs)
	return true
}

// wait blocks until every worker has exited. Only meaningful after close.
func (p *pool) wait() error {
	return p.g.Wait()
}
