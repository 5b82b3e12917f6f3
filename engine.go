package gpucompute

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/gogpu/gpucompute/gpucore"
	"github.com/gogpu/gpucompute/internal/parallel"
)

// tickable is the part of a Worker the engine drives.
type tickable interface {
	Drain() (int, error)
	Dispatch(ctx context.Context) error
	notifyShaderChanged(paths []string)
}

// Engine owns the device-side state shared by every worker: shader
// library, image registry, pipeline cache and readback pool.
// Create it through Context.Engine.
type Engine struct {
	dev       gpucore.Device
	cfg       Config
	shaders   *ShaderLibrary
	images    *Images
	pipelines *PipelineCache
	pool      *parallel.WorkerPool

	mu      sync.Mutex
	workers []tickable
	closed  bool
}

func newEngine(dev gpucore.Device, cfg Config) *Engine {
	shaders := NewShaderLibrary()
	e := &Engine{
		dev:       dev,
		cfg:       cfg,
		shaders:   shaders,
		images:    NewImages(),
		pipelines: NewPipelineCache(dev, shaders),
		pool:      parallel.NewWorkerPool(cfg.ReadbackWorkers),
	}
	trackLogger(dev)
	return e
}

// Device returns the engine's device.
func (e *Engine) Device() gpucore.Device { return e.dev }

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// Shaders returns the shader library.
func (e *Engine) Shaders() *ShaderLibrary { return e.shaders }

// Images returns the image registry.
func (e *Engine) Images() *Images { return e.images }

// Pipelines returns the pipeline cache.
func (e *Engine) Pipelines() *PipelineCache { return e.pipelines }

func (e *Engine) register(w tickable) {
	e.mu.Lock()
	e.workers = append(e.workers, w)
	e.mu.Unlock()
}

func (e *Engine) unregister(w tickable) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if i := slices.Index(e.workers, w); i >= 0 {
		e.workers = slices.Delete(e.workers, i, i+1)
	}
}

// Tick runs one scheduling cycle:
//
//  1. shader changes return affected pipelines to pending and notify workers
//  2. images are synced to the device
//  3. pending pipelines are compiled
//  4. every worker applies its pending results
//  5. every worker dispatches its queued jobs
//
// Errors of one worker do not stop the others; they are returned joined.
func (e *Engine) Tick(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return gpucore.ErrDeviceClosed
	}
	workers := slices.Clone(e.workers)
	e.mu.Unlock()

	var errs []error
	if paths := e.shaders.drainModified(); len(paths) > 0 {
		affected := e.pipelines.invalidate(paths)
		for _, w := range workers {
			w.notifyShaderChanged(affected)
		}
	}
	if err := e.images.Sync(e.dev); err != nil {
		errs = append(errs, err)
	}
	e.pipelines.Poll()

	for _, w := range workers {
		if _, err := w.Drain(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, w := range workers {
		if err := w.Dispatch(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close releases every GPU resource the engine created. The device itself
// belongs to the caller.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.workers = nil
	e.mu.Unlock()

	e.pool.Close()
	e.pipelines.Close()
	e.images.release(e.dev)
	untrackLogger(e.dev)
}
