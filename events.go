package gpucompute

import "sync"

// Events is an unbounded notification queue drained by the owner.
// The zero value is ready to use.
type Events[E any] struct {
	mu    sync.Mutex
	queue []E
}

func (e *Events[E]) send(ev E) {
	e.mu.Lock()
	e.queue = append(e.queue, ev)
	e.mu.Unlock()
}

// Drain returns and clears the pending events, oldest first.
func (e *Events[E]) Drain() []E {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.queue
	e.queue = nil
	return out
}

// Len returns the number of pending events.
func (e *Events[E]) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// Completed is sent once per applied dispatch result, after the result
// is visible in the State and the image registry.
type Completed struct{}

// ShaderModified is sent when the worker's shader, or a shader it
// imports, changed. Callers typically re-trigger the dispatch.
type ShaderModified struct {
	Path string
}

// Requeued is sent when a job is put back in the queue after its bind
// group could not be prepared.
type Requeued struct {
	Retry int
	Err   error
}
