package gpucompute

import (
	"fmt"
	"sync"

	"github.com/gogpu/gpucompute/gpucore"
)

// Context carries the engine setup explicitly. Engine creates the engine on
// first use and returns the same one afterwards, so setup code may call it
// from several places without installing the engine twice.
type Context struct {
	dev gpucore.Device
	cfg Config

	mu     sync.Mutex
	engine *Engine
}

// NewContext creates a context for dev.
func NewContext(dev gpucore.Device, opts ...Option) (*Context, error) {
	if dev == nil {
		return nil, ErrNoDevice
	}
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("gpucompute: %w", err)
	}
	if align := dev.Limits().CopyBytesPerRowAlignment; align > 0 && cfg.RowAlignment%align != 0 {
		return nil, fmt.Errorf("gpucompute: row_alignment %d is not a multiple of the device copy alignment %d",
			cfg.RowAlignment, align)
	}
	return &Context{dev: dev, cfg: cfg}, nil
}

// Engine returns the context's engine, creating it on the first call.
func (c *Context) Engine() *Engine {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.engine == nil {
		c.engine = newEngine(c.dev, c.cfg)
		Logger().Info("gpucompute: engine initialized",
			"retry_limit", c.cfg.RetryLimit, "row_alignment", c.cfg.RowAlignment)
	}
	return c.engine
}

// Initialized reports whether Engine has been called.
func (c *Context) Initialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine != nil
}

// Config returns the configuration the engine is created with.
func (c *Context) Config() Config {
	return c.cfg
}

// Close closes the engine if it was created. A later Engine call creates
// a fresh one.
func (c *Context) Close() {
	c.mu.Lock()
	e := c.engine
	c.engine = nil
	c.mu.Unlock()
	if e != nil {
		e.Close()
	}
}
