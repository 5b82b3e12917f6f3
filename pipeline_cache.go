package gpucompute

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/gogpu/gpucompute/gpucore"
	"github.com/gogpu/gpucompute/internal/cache"
	"github.com/gogpu/gpucompute/internal/shaderc"
)

// PipelineID identifies a pipeline entry in a PipelineCache.
type PipelineID int

// PipelineState is the compilation state of a pipeline entry.
type PipelineState uint8

const (
	// PipelinePending waits for its shader or for the next Poll.
	PipelinePending PipelineState = iota
	// PipelineReady has a usable compute pipeline.
	PipelineReady
	// PipelineFailed failed terminally. It is retried only after its
	// shader changes.
	PipelineFailed
)

// String returns a human-readable name for the pipeline state.
func (s PipelineState) String() string {
	switch s {
	case PipelinePending:
		return "pending"
	case PipelineReady:
		return "ready"
	case PipelineFailed:
		return "failed"
	default:
		return fmt.Sprintf("PipelineState(%d)", s)
	}
}

// PipelineEntry is the state of one entry point's pipeline.
type PipelineEntry struct {
	Entry    string
	State    PipelineState
	Pipeline gpucore.ComputePipelineID

	// Err is the reason of a failure, or why the entry is still pending.
	Err error
}

// PipelineRegistration describes the pipelines of one data type.
type PipelineRegistration struct {
	Label      string
	Shader     string
	Defs       map[string]string
	Descriptor Descriptor
	Entries    []string
}

// pipelineLayout is the bind group layout and pipeline layout shared by
// every entry of a registration.
type pipelineLayout struct {
	bindGroup  gpucore.BindGroupLayoutID
	layout     gpucore.PipelineLayoutID
	descriptor Descriptor
}

type cachedPipeline struct {
	PipelineEntry
	label  string
	shader string
	defs   map[string]string
	layout *pipelineLayout

	// deps is the shader and its imports as of the last resolve.
	deps []string

	// module is the source hash of the shader module the pipeline uses.
	module uint64

	// stale is a pipeline replaced by a reload, released once the entry
	// settles.
	stale gpucore.ComputePipelineID
}

// PipelineCache compiles and caches one compute pipeline per declared
// entry point. Compilation happens in Poll, once per scheduling tick.
//
// PipelineCache is safe for concurrent use.
type PipelineCache struct {
	mu        sync.Mutex
	dev       gpucore.Device
	lib       *ShaderLibrary
	layouts   map[string]*pipelineLayout
	pipelines []*cachedPipeline
	index     map[string]PipelineID
	modules   map[uint64]gpucore.ShaderModuleID

	// analyses memoizes shader reflection and SPIR-V by resolved source.
	analyses *cache.ShardedCache[string, *shaderc.Module]
}

// NewPipelineCache creates a cache compiling shaders from lib on dev.
func NewPipelineCache(dev gpucore.Device, lib *ShaderLibrary) *PipelineCache {
	return &PipelineCache{
		dev:      dev,
		lib:      lib,
		layouts:  make(map[string]*pipelineLayout),
		index:    make(map[string]PipelineID),
		modules:  make(map[uint64]gpucore.ShaderModuleID),
		analyses: cache.NewSharded[string, *shaderc.Module](0, cache.StringHasher),
	}
}

// Ensure registers the pipelines of reg and returns one ID per entry, in
// order. Entries already registered keep their ID and state. The layouts
// are created on the first registration of reg.Label; a later registration
// of the label must carry the same descriptor.
func (c *PipelineCache) Ensure(reg PipelineRegistration) ([]PipelineID, error) {
	if err := reg.Descriptor.Validate(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	layout, ok := c.layouts[reg.Label]
	if ok && !slices.Equal(layout.descriptor, reg.Descriptor) {
		return nil, fmt.Errorf("%w: label %q is registered with another descriptor", ErrInvalidDescriptor, reg.Label)
	}
	if !ok {
		var err error
		layout, err = c.createLayout(reg.Label, reg.Descriptor)
		if err != nil {
			return nil, err
		}
		c.layouts[reg.Label] = layout
	}

	ids := make([]PipelineID, 0, len(reg.Entries))
	for _, entry := range reg.Entries {
		key := reg.Label + "\x00" + reg.Shader + "\x00" + defsKey(reg.Defs) + "\x00" + entry
		if id, ok := c.index[key]; ok {
			ids = append(ids, id)
			continue
		}
		id := PipelineID(len(c.pipelines))
		c.pipelines = append(c.pipelines, &cachedPipeline{
			PipelineEntry: PipelineEntry{Entry: entry, State: PipelinePending},
			label:         reg.Label,
			shader:        reg.Shader,
			defs:          maps.Clone(reg.Defs),
			layout:        layout,
			deps:          []string{reg.Shader},
		})
		c.index[key] = id
		ids = append(ids, id)
	}
	return ids, nil
}

func (c *PipelineCache) createLayout(label string, desc Descriptor) (*pipelineLayout, error) {
	bgl, err := c.dev.CreateBindGroupLayout(&gpucore.BindGroupLayoutDesc{
		Label:   label + " bind group layout",
		Entries: desc.LayoutEntries(),
	})
	if err != nil {
		return nil, fmt.Errorf("gpucompute: %s: create bind group layout: %w", label, err)
	}
	pl, err := c.dev.CreatePipelineLayout(label+" pipeline layout", []gpucore.BindGroupLayoutID{bgl})
	if err != nil {
		c.dev.DestroyBindGroupLayout(bgl)
		return nil, fmt.Errorf("gpucompute: %s: create pipeline layout: %w", label, err)
	}
	return &pipelineLayout{bindGroup: bgl, layout: pl, descriptor: slices.Clone(desc)}, nil
}

// bindGroupLayout returns the bind group layout registered for label.
func (c *PipelineCache) bindGroupLayout(label string) (gpucore.BindGroupLayoutID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.layouts[label]
	if !ok {
		return 0, false
	}
	return l.bindGroup, true
}

// Get returns the compute pipeline of id. It returns false while the entry
// is pending or failed.
func (c *PipelineCache) Get(id PipelineID) (gpucore.ComputePipelineID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if int(id) < 0 || int(id) >= len(c.pipelines) {
		return 0, false
	}
	p := c.pipelines[id]
	if p.State != PipelineReady {
		return 0, false
	}
	return p.Pipeline, true
}

// Entry returns the state of id.
func (c *PipelineCache) Entry(id PipelineID) PipelineEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	if int(id) < 0 || int(id) >= len(c.pipelines) {
		return PipelineEntry{State: PipelineFailed, Err: fmt.Errorf("gpucompute: unknown pipeline %d", id)}
	}
	return c.pipelines[id].PipelineEntry
}

// Poll advances every pending entry. Entries whose shader or imports are not
// loaded stay pending; anything else settles as ready or failed.
// It returns the number of entries that settled.
func (c *PipelineCache) Poll() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	settled := 0
	for _, p := range c.pipelines {
		if p.State != PipelinePending {
			continue
		}
		if !c.compile(p) {
			continue
		}
		settled++
		if p.stale != 0 {
			c.dev.DestroyComputePipeline(p.stale)
			p.stale = 0
		}
	}
	if settled > 0 {
		c.collectModules()
	}
	return settled
}

// compile tries to build p and reports whether it left the pending state.
func (c *PipelineCache) compile(p *cachedPipeline) bool {
	log := Logger().With("label", p.label, "entry", p.Entry, "shader", p.shader)

	resolved, err := c.lib.Resolve(p.shader, p.defs)
	if err != nil {
		if errors.Is(err, ErrShaderInvalid) {
			c.fail(p, err)
			return true
		}
		p.Err = err
		log.Debug("gpucompute: pipeline waiting for shader", "err", err)
		return false
	}
	p.deps = append([]string{p.shader}, resolved.Imports...)

	module, err := c.analyses.GetOrCreate(resolved.Source, func() (*shaderc.Module, error) {
		return shaderc.Analyze(resolved.Source)
	})
	if err != nil {
		c.fail(p, fmt.Errorf("%w: %s: %w", ErrShaderInvalid, p.shader, err))
		return true
	}

	if _, ok := module.ComputeEntry(p.Entry); !ok {
		c.fail(p, fmt.Errorf("%w: %q is not a compute entry point of %s", ErrMissingPipeline, p.Entry, p.shader))
		return true
	}
	if err := checkBindings(module, p.layout.descriptor); err != nil {
		c.fail(p, err)
		return true
	}

	hash := cache.StringHasher(resolved.Source)
	shaderModule, ok := c.modules[hash]
	if !ok {
		shaderModule, err = c.dev.CreateShaderModule(&gpucore.ShaderModuleDesc{
			Label: p.shader,
			WGSL:  resolved.Source,
			SPIRV: module.SPIRV,
		})
		if err != nil {
			c.fail(p, fmt.Errorf("gpucompute: create shader module %s: %w", p.shader, err))
			return true
		}
		c.modules[hash] = shaderModule
	}

	pipeline, err := c.dev.CreateComputePipeline(&gpucore.ComputePipelineDesc{
		Label:      p.label + "/" + p.Entry,
		Layout:     p.layout.layout,
		Module:     shaderModule,
		EntryPoint: p.Entry,
	})
	if err != nil {
		c.fail(p, fmt.Errorf("gpucompute: create pipeline %s/%s: %w", p.label, p.Entry, err))
		return true
	}

	p.State = PipelineReady
	p.Pipeline = pipeline
	p.module = hash
	p.Err = nil
	log.Info("gpucompute: pipeline ready")
	return true
}

func (c *PipelineCache) fail(p *cachedPipeline, err error) {
	p.State = PipelineFailed
	p.Pipeline = 0
	p.module = 0
	p.Err = err
	Logger().Error("gpucompute: pipeline failed", "label", p.label, "entry", p.Entry, "err", err)
}

// checkBindings verifies that every resource the shader binds exists in the
// descriptor with a matching kind. Only bind group 0 is supported.
func checkBindings(module *shaderc.Module, desc Descriptor) error {
	for _, b := range module.Bindings {
		if b.Group != 0 {
			return fmt.Errorf("%w: %s uses bind group %d, only group 0 is bound", ErrInvalidDescriptor, b.Name, b.Group)
		}
		d, ok := desc.Binding(b.Binding)
		if !ok {
			return fmt.Errorf("%w: %s (binding %d) is not in the descriptor", ErrInvalidDescriptor, b.Name, b.Binding)
		}
		want := map[BindingKind]shaderc.Space{
			BindingUniform:        shaderc.SpaceUniform,
			BindingStorage:        shaderc.SpaceStorage,
			BindingStorageTexture: shaderc.SpaceHandle,
		}[d.Kind]
		if b.Space != want {
			return fmt.Errorf("%w: %s (binding %d) is %v in the shader but %v in the descriptor",
				ErrInvalidDescriptor, b.Name, b.Binding, b.Space, d.Kind)
		}
	}
	return nil
}

// invalidate returns every entry depending on one of paths to pending and
// reports the root shaders of the affected entries.
func (c *PipelineCache) invalidate(paths []string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var affected []string
	for _, p := range c.pipelines {
		if !slices.ContainsFunc(p.deps, func(d string) bool { return slices.Contains(paths, d) }) {
			continue
		}
		if !slices.Contains(affected, p.shader) {
			affected = append(affected, p.shader)
		}
		if p.State == PipelineReady {
			p.stale = p.Pipeline
		}
		p.State = PipelinePending
		p.Pipeline = 0
		p.Err = nil
	}
	return affected
}

// collectModules releases shader modules no ready pipeline uses.
func (c *PipelineCache) collectModules() {
	used := make(map[uint64]bool, len(c.modules))
	for _, p := range c.pipelines {
		if p.State == PipelineReady {
			used[p.module] = true
		}
	}
	for hash, id := range c.modules {
		if !used[hash] {
			c.dev.DestroyShaderModule(id)
			delete(c.modules, hash)
		}
	}
}

// Close releases every pipeline, module and layout.
func (c *PipelineCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, p := range c.pipelines {
		if p.Pipeline != 0 {
			c.dev.DestroyComputePipeline(p.Pipeline)
		}
		if p.stale != 0 {
			c.dev.DestroyComputePipeline(p.stale)
		}
		p.State = PipelineFailed
		p.Pipeline = 0
		p.stale = 0
		p.Err = ErrMissingPipeline
	}
	for hash, id := range c.modules {
		c.dev.DestroyShaderModule(id)
		delete(c.modules, hash)
	}
	for label, l := range c.layouts {
		c.dev.DestroyPipelineLayout(l.layout)
		c.dev.DestroyBindGroupLayout(l.bindGroup)
		delete(c.layouts, label)
	}
}
