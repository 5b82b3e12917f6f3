package gpucompute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gpucompute/gpucore"
)

// Data is the capability set of a data type the engine dispatches for.
//
// The descriptor, entry points and shader path are read once when the
// worker is created. Encode and Image are read on every dispatch from the
// current value. Decode receives the staged slots and returns the updated
// value; it must not modify the receiver.
type Data[T any] interface {
	// ShaderPath is the ShaderLibrary path of the compute shader.
	ShaderPath() string

	// EntryPoints lists the compute entry points jobs may name.
	EntryPoints() []string

	// Bindings is the binding descriptor of bind group 0.
	Bindings() Descriptor

	// Encode returns the bytes of a uniform or storage slot.
	Encode(slot uint32) ([]byte, error)

	// Image returns the image bound to a storage texture slot.
	Image(slot uint32) (ImageID, bool)

	// Decode returns a copy of the value with the staged slots replaced by
	// the read-back bytes.
	Decode(buffers map[uint32][]byte) (T, error)
}

// Labeler is implemented by data types that name their GPU resources.
type Labeler interface {
	Label() string
}

// WorkerStats counts what a worker did.
type WorkerStats struct {
	Dispatched    uint64
	Completed     uint64
	Requeued      uint64
	Failed        uint64
	DroppedPasses uint64
	LastState     JobState
}

type workerCounters struct {
	dispatched    atomic.Uint64
	completed     atomic.Uint64
	requeued      atomic.Uint64
	failed        atomic.Uint64
	droppedPasses atomic.Uint64
	lastState     atomic.Uint32
}

// Worker runs the compute jobs of one data type.
//
// Dispatch is the device context: it encodes, submits and reads back, then
// hands the result to the channel. Drain is the driving context: it applies
// results to the State with silent writes. Engine.Tick calls both; they
// can also be called directly.
type Worker[T Data[T]] struct {
	engine     *Engine
	state      *State[T]
	label      string
	shader     string
	retryLimit int
	descriptor Descriptor
	entries    []string
	pipelines  map[string]PipelineID
	log        *slog.Logger

	mu      sync.Mutex
	queue   []Job
	lastGen uint64

	// dispatchMu keeps a second dispatch from reusing slot bindings
	// while the previous one is still reading back.
	dispatchMu sync.Mutex

	channel     *Channel[T]
	completions Events[Completed]
	modified    Events[ShaderModified]
	requeues    Events[Requeued]
	stats       workerCounters
}

// NewWorker registers a worker for the data type held by state on the
// context's engine. Its pipelines are queued for compilation on the next
// tick.
func NewWorker[T Data[T]](c *Context, state *State[T], opts ...WorkerOption) (*Worker[T], error) {
	e := c.Engine()
	value := state.Get()

	o := workerOptions{retryLimit: e.cfg.RetryLimit}
	if l, ok := any(value).(Labeler); ok {
		o.label = l.Label()
	} else {
		o.label = fmt.Sprintf("%T", value)
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.retryLimit < 0 {
		return nil, fmt.Errorf("gpucompute: %s: negative retry limit %d", o.label, o.retryLimit)
	}

	reg := PipelineRegistration{
		Label:      o.label,
		Shader:     value.ShaderPath(),
		Descriptor: value.Bindings(),
		Entries:    slices.Clone(value.EntryPoints()),
	}
	if d, ok := any(value).(ShaderDefiner); ok {
		reg.Defs = d.ShaderDefs()
	}
	ids, err := e.pipelines.Ensure(reg)
	if err != nil {
		return nil, fmt.Errorf("gpucompute: %s: %w", o.label, err)
	}

	w := &Worker[T]{
		engine:     e,
		state:      state,
		label:      o.label,
		shader:     reg.Shader,
		retryLimit: o.retryLimit,
		descriptor: reg.Descriptor,
		entries:    reg.Entries,
		pipelines:  make(map[string]PipelineID, len(ids)),
		log:        Logger().With("worker", o.label),
		channel:    NewChannel[T](),
	}
	for i, id := range ids {
		w.pipelines[reg.Entries[i]] = id
	}
	e.register(w)
	w.log.Info("gpucompute: worker registered", "shader", w.shader, "entries", w.entries)
	return w, nil
}

// Trigger queues job for the next Dispatch.
func (w *Worker[T]) Trigger(job Job) {
	w.mu.Lock()
	w.queue = append(w.queue, job)
	w.mu.Unlock()
}

// TriggerIfChanged queues job if the State had an observed write since the
// last call. Silent writes, including applied results, do not count.
func (w *Worker[T]) TriggerIfChanged(job Job) bool {
	gen := w.state.Generation()

	w.mu.Lock()
	defer w.mu.Unlock()
	if gen == w.lastGen {
		return false
	}
	w.lastGen = gen
	w.queue = append(w.queue, job)
	return true
}

// Ready reports whether every pipeline of the worker is ready.
func (w *Worker[T]) Ready() bool {
	for _, id := range w.pipelines {
		if _, ok := w.engine.pipelines.Get(id); !ok {
			return false
		}
	}
	return true
}

// Pending returns the number of queued jobs.
func (w *Worker[T]) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

// Completions returns the completion notifications.
func (w *Worker[T]) Completions() *Events[Completed] { return &w.completions }

// ShaderModified returns the shader-modified notifications.
func (w *Worker[T]) ShaderModified() *Events[ShaderModified] { return &w.modified }

// Requeues returns the requeue notifications.
func (w *Worker[T]) Requeues() *Events[Requeued] { return &w.requeues }

// Stats returns a snapshot of the worker counters.
func (w *Worker[T]) Stats() WorkerStats {
	return WorkerStats{
		Dispatched:    w.stats.dispatched.Load(),
		Completed:     w.stats.completed.Load(),
		Requeued:      w.stats.requeued.Load(),
		Failed:        w.stats.failed.Load(),
		DroppedPasses: w.stats.droppedPasses.Load(),
		LastState:     JobState(w.stats.lastState.Load()),
	}
}

func (w *Worker[T]) setState(s JobState) {
	w.stats.lastState.Store(uint32(s))
}

// pipelinesPending reports whether a pipeline is still compiling.
// Failed pipelines do not hold the queue; their passes fail at encoding.
func (w *Worker[T]) pipelinesPending() bool {
	for _, id := range w.pipelines {
		if w.engine.pipelines.Entry(id).State == PipelinePending {
			return true
		}
	}
	return false
}

// Dispatch merges the queued jobs and runs them as one dispatch. While a
// pipeline is pending the jobs stay queued. Invalid passes are dropped with
// a warning. A recoverable preparation failure requeues the job for the
// next call; terminal errors abandon it and are returned.
func (w *Worker[T]) Dispatch(ctx context.Context) error {
	w.dispatchMu.Lock()
	defer w.dispatchMu.Unlock()

	w.mu.Lock()
	if len(w.queue) == 0 {
		w.mu.Unlock()
		return nil
	}
	if w.pipelinesPending() {
		w.mu.Unlock()
		w.log.Debug("gpucompute: pipelines pending, jobs stay queued")
		return nil
	}
	jobs := w.queue
	w.queue = nil
	w.mu.Unlock()

	job := mergeJobs(jobs)
	w.setState(JobSubmitted)

	passes, dropped := filterPasses(job.Passes, w.entries, w.engine.dev.Limits())
	for _, err := range dropped {
		w.stats.droppedPasses.Add(1)
		w.log.Warn("gpucompute: pass dropped", "err", err)
	}
	if len(passes) == 0 {
		w.setState(JobFailed)
		w.stats.failed.Add(1)
		w.log.Warn("gpucompute: job has no valid pass")
		return nil
	}
	job.Passes = passes

	if err := w.run(ctx, job); err != nil {
		return fmt.Errorf("gpucompute: %s: %w", w.label, err)
	}
	return nil
}

func (w *Worker[T]) run(ctx context.Context, job Job) error {
	e := w.engine
	dev := e.dev

	layout, ok := e.pipelines.bindGroupLayout(w.label)
	if !ok {
		return w.abandon(fmt.Errorf("%w: no layout for %s", ErrMissingPipeline, w.label))
	}

	data := w.state.Get()
	prepared, err := prepareBindGroup(dev, layout, w.descriptor, data, e.images, w.label)
	if err != nil {
		return w.retry(job, err)
	}
	defer prepared.release(dev)

	staging := &stagingSet{}
	if !job.SkipReadback {
		staging, err = allocateStaging(dev, w.descriptor, prepared, e.images, e.cfg.RowAlignment, w.label)
		if err != nil {
			return w.abandon(err)
		}
	}
	defer staging.release(dev)

	cmd, passErrs, err := encodeDispatch(dev, w.label, job.Passes, w.lookup, prepared, staging, job.SkipReadback)
	for _, perr := range passErrs {
		w.log.Error("gpucompute: pass skipped", "err", perr)
	}
	if err != nil {
		return w.abandon(err)
	}

	rb, err := submitAndRead(ctx, dev, cmd, staging, e.pool)
	if err != nil {
		return w.abandon(err)
	}
	w.stats.dispatched.Add(1)

	msg := Message[T]{Images: rb.images}
	if len(staging.buffers) > 0 {
		decoded, err := data.Decode(rb.buffers)
		if err != nil {
			return w.abandon(fmt.Errorf("%w: %w", ErrDecode, err))
		}
		msg.Data = &decoded
	}
	if err := w.channel.Send(msg); err != nil {
		return w.abandon(err)
	}

	w.log.Debug("gpucompute: dispatch complete",
		"passes", len(job.Passes), "buffers", len(staging.buffers), "images", len(staging.images))
	return errors.Join(passErrs...)
}

func (w *Worker[T]) lookup(entry string) (gpucore.ComputePipelineID, error) {
	id, ok := w.pipelines[entry]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrMissingPipeline, entry)
	}
	pipeline, ok := w.engine.pipelines.Get(id)
	if !ok {
		entryState := w.engine.pipelines.Entry(id)
		if entryState.State == PipelinePending {
			return 0, fmt.Errorf("%w: %q", ErrPipelineNotReady, entry)
		}
		return 0, fmt.Errorf("%w: %q is %v: %w", ErrMissingPipeline, entry, entryState.State, entryState.Err)
	}
	return pipeline, nil
}

// retry requeues job after a recoverable failure, or abandons it once the
// retry limit is exceeded.
func (w *Worker[T]) retry(job Job, cause error) error {
	next, state, err := requeue(job, w.retryLimit, cause)
	w.setState(state)
	if err != nil {
		w.stats.failed.Add(1)
		w.log.Error("gpucompute: job abandoned", "err", err)
		return err
	}

	w.mu.Lock()
	w.queue = append([]Job{next}, w.queue...)
	w.mu.Unlock()

	w.stats.requeued.Add(1)
	w.requeues.send(Requeued{Retry: next.Retry, Err: cause})
	w.log.Warn("gpucompute: job requeued", "retry", next.Retry, "limit", w.retryLimit, "err", cause)
	return nil
}

func (w *Worker[T]) abandon(err error) error {
	w.setState(JobFailed)
	w.stats.failed.Add(1)
	w.log.Error("gpucompute: job abandoned", "err", err)
	return err
}

// Drain applies every pending result: the decoded value is written to the
// State and read-back images to the registry, both silently, then a
// Completed notification is sent. A result whose images are gone or
// resized is dropped whole. It returns the number of results applied.
func (w *Worker[T]) Drain() (int, error) {
	var errs []error
	n := 0
	for {
		msg, ok := w.channel.TryRecv()
		if !ok {
			break
		}
		// Images can fail; a failed result leaves the State untouched.
		if err := w.engine.images.setSilentAll(msg.Images); err != nil {
			w.stats.failed.Add(1)
			w.setState(JobFailed)
			errs = append(errs, err)
			continue
		}
		if msg.Data != nil {
			w.state.SetSilent(*msg.Data)
		}
		w.stats.completed.Add(1)
		w.setState(JobComplete)
		w.completions.send(Completed{})
		n++
	}
	if err := errors.Join(errs...); err != nil {
		return n, fmt.Errorf("gpucompute: %s: %w", w.label, err)
	}
	return n, nil
}

// notifyShaderChanged sends ShaderModified if the worker's shader is one
// of paths.
func (w *Worker[T]) notifyShaderChanged(paths []string) {
	if slices.Contains(paths, w.shader) {
		w.modified.send(ShaderModified{Path: w.shader})
		w.log.Info("gpucompute: shader modified", "path", w.shader)
	}
}

// Close unregisters the worker from its engine. Undelivered results are
// dropped.
func (w *Worker[T]) Close() {
	w.engine.unregister(w)
	for {
		if _, ok := w.channel.TryRecv(); !ok {
			return
		}
	}
}
