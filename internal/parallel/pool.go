// Package parallel provides the worker pool that fans out CPU-side
// readback work, such as stripping row padding from several images.
package parallel

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
)

const (
	// queuePerWorker is the task queue depth per worker.
	queuePerWorker = 4

	idleTimeout = time.Second
)

// WorkerPool runs batches of indexed tasks on a persistent set of
// goroutines and waits for each batch with its own barrier.
//
// The workers read from channels the pool owns; Close closes them, which
// makes every worker goroutine return.
//
// Thread safety: WorkerPool is safe for concurrent use. Run must not be
// called from inside a task of the same pool.
type WorkerPool struct {
	workers int
	tasks   chan worker.Task
	stop    chan int

	// mu is held for reading by every Run until its batch finished, so
	// Close never stops the workers under a batch.
	mu     sync.RWMutex
	closed bool

	ran atomic.Uint64
}

// NewWorkerPool creates a pool with the given number of workers.
// If workers is 0 or negative, GOMAXPROCS is used.
func NewWorkerPool(workers int) *WorkerPool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	p := &WorkerPool{
		workers: workers,
		tasks:   make(chan worker.Task, workers*queuePerWorker),
		stop:    make(chan int),
	}
	for id := range workers {
		worker.NewWorker(id, p.tasks, p.stop, idleTimeout, func(int) {}).Start()
	}
	return p
}

// Run calls fn(i) for every i in [0, n) across the pool and waits for all
// of them. The errors are returned joined in index order. A closed pool
// runs fn on the calling goroutine, so callers always observe completed
// work.
func (p *WorkerPool) Run(n int, fn func(i int) error) error {
	if n <= 0 {
		return nil
	}
	errs := make([]error, n)

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		for i := range n {
			errs[i] = fn(i)
		}
	} else {
		var done sync.WaitGroup
		done.Add(n)
		for i := range n {
			p.tasks <- worker.Task{
				ID: i,
				Do: func() (any, error) {
					defer done.Done()
					errs[i] = fn(i)
					return nil, errs[i]
				},
			}
		}
		done.Wait()
	}
	p.ran.Add(uint64(n))
	return errors.Join(errs...)
}

// Close stops the workers. Runs in progress finish first; the worker
// goroutines return once they see the closed queue.
// Close is safe to call multiple times.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.tasks)
	close(p.stop)
}

// Workers returns the number of workers in the pool.
func (p *WorkerPool) Workers() int {
	return p.workers
}

// Ran returns the number of items executed, inline runs included.
func (p *WorkerPool) Ran() uint64 {
	return p.ran.Load()
}

// IsRunning reports whether the pool still dispatches to its workers.
func (p *WorkerPool) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return !p.closed
}
