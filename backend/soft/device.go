package soft

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpucompute/gpucore"
)

// Errors returned by the software device.
var (
	// ErrNoKernel is returned when a compute pipeline names an entry point
	// without a registered kernel.
	ErrNoKernel = errors.New("soft: no kernel registered for entry point")

	// ErrValidation is returned for WebGPU validation failures.
	ErrValidation = errors.New("soft: validation error")
)

type bufferMapState uint8

const (
	bufferUnmapped bufferMapState = iota
	bufferMapPending
	bufferMapped
)

type buffer struct {
	label    string
	usage    gputypes.BufferUsage
	data     []byte
	mapState bufferMapState
}

type bindGroupLayout struct {
	entries []gputypes.BindGroupLayoutEntry
}

type pipeline struct {
	entry  string
	kernel kernelInfo
	layout gpucore.PipelineLayoutID
}

type bindEntry struct {
	buffer  *buffer
	offset  uint64
	size    uint64
	texture *Texture
}

type bindGroup struct {
	layout  gpucore.BindGroupLayoutID
	entries map[uint32]bindEntry
}

// Stats reports live resources and misuse counters of a Device.
type Stats struct {
	Buffers    int
	Textures   int
	Pipelines  int
	BindGroups int
	Modules    int
	Mapped     int
	Submits    int

	// DestroyedWhileMapped counts buffers destroyed without Unmap.
	DestroyedWhileMapped int
}

// Option configures a Device.
type Option func(*Device)

// WithLimits overrides the device limits.
func WithLimits(l gpucore.Limits) Option {
	return func(d *Device) {
		d.limits = l
	}
}

// Device is a CPU implementation of gpucore.Device.
//
// Device is safe for concurrent use. Submitted command buffers execute
// synchronously under the device lock.
type Device struct {
	mu     sync.Mutex
	limits gpucore.Limits
	nextID uint64
	closed bool
	log    *slog.Logger

	kernels   map[string]kernelInfo
	modules   map[gpucore.ShaderModuleID]string
	buffers   map[gpucore.BufferID]*buffer
	textures  map[gpucore.TextureID]*Texture
	bgls      map[gpucore.BindGroupLayoutID]*bindGroupLayout
	layouts   map[gpucore.PipelineLayoutID][]gpucore.BindGroupLayoutID
	pipelines map[gpucore.ComputePipelineID]*pipeline
	groups    map[gpucore.BindGroupID]*bindGroup
	commands  map[gpucore.CommandBufferID][]command
	pending   []*mapPending

	mapFault func(gpucore.BufferID) error
	stats    Stats
}

var _ gpucore.Device = (*Device)(nil)

// New creates a software device with the WebGPU default limits.
func New(opts ...Option) *Device {
	d := &Device{
		limits:    gpucore.DefaultLimits(),
		log:       slog.New(slog.DiscardHandler),
		kernels:   make(map[string]kernelInfo),
		modules:   make(map[gpucore.ShaderModuleID]string),
		buffers:   make(map[gpucore.BufferID]*buffer),
		textures:  make(map[gpucore.TextureID]*Texture),
		bgls:      make(map[gpucore.BindGroupLayoutID]*bindGroupLayout),
		layouts:   make(map[gpucore.PipelineLayoutID][]gpucore.BindGroupLayoutID),
		pipelines: make(map[gpucore.ComputePipelineID]*pipeline),
		groups:    make(map[gpucore.BindGroupID]*bindGroup),
		commands:  make(map[gpucore.CommandBufferID][]command),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// RegisterKernel installs the kernel run for compute pipelines whose entry
// point is entry. workgroupSize must match the shader's @workgroup_size.
func (d *Device) RegisterKernel(entry string, workgroupSize [3]uint32, fn Kernel) {
	for i := range workgroupSize {
		workgroupSize[i] = max(workgroupSize[i], 1)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.kernels[entry] = kernelInfo{fn: fn, workgroupSize: workgroupSize}
}

// SetMapFault installs fn to decide the outcome of every read mapping
// resolved by Wait. A non-nil error fails that mapping. Pass nil to remove.
func (d *Device) SetMapFault(fn func(gpucore.BufferID) error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mapFault = fn
}

// SetLogger sets the device logger.
func (d *Device) SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(slog.DiscardHandler)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.log = l
}

// Stats returns a snapshot of live resources.
func (d *Device) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.stats
	s.Buffers = len(d.buffers)
	s.Textures = len(d.textures)
	s.Pipelines = len(d.pipelines)
	s.BindGroups = len(d.groups)
	s.Modules = len(d.modules)
	s.Mapped = 0
	for _, b := range d.buffers {
		if b.mapState != bufferUnmapped {
			s.Mapped++
		}
	}
	return s
}

// Limits returns the device limits.
func (d *Device) Limits() gpucore.Limits {
	return d.limits
}

func (d *Device) id() uint64 {
	d.nextID++
	return d.nextID
}

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// CreateShaderModule records the module. The source is not interpreted.
func (d *Device) CreateShaderModule(desc *gpucore.ShaderModuleDesc) (gpucore.ShaderModuleID, error) {
	if desc.WGSL == "" && len(desc.SPIRV) == 0 {
		return 0, validationf("shader module %q has no code", desc.Label)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, gpucore.ErrDeviceClosed
	}
	id := gpucore.ShaderModuleID(d.id())
	d.modules[id] = desc.Label
	return id, nil
}

func (d *Device) DestroyShaderModule(id gpucore.ShaderModuleID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.modules, id)
}

// CreateBuffer creates a zero-filled buffer.
func (d *Device) CreateBuffer(desc *gpucore.BufferDesc) (gpucore.BufferID, error) {
	if desc.Size == 0 || desc.Size > d.limits.MaxBufferSize {
		return 0, validationf("buffer %q: size %d out of range", desc.Label, desc.Size)
	}
	if desc.Usage&gputypes.BufferUsageMapRead != 0 &&
		desc.Usage&^(gputypes.BufferUsageMapRead|gputypes.BufferUsageCopyDst) != 0 {
		return 0, validationf("buffer %q: MapRead combines only with CopyDst", desc.Label)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, gpucore.ErrDeviceClosed
	}
	id := gpucore.BufferID(d.id())
	d.buffers[id] = &buffer{label: desc.Label, usage: desc.Usage, data: make([]byte, desc.Size)}
	return id, nil
}

func (d *Device) DestroyBuffer(id gpucore.BufferID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buffers[id]
	if !ok {
		return
	}
	if b.mapState != bufferUnmapped {
		d.stats.DestroyedWhileMapped++
		d.log.Warn("soft: buffer destroyed while mapped", "buffer", b.label)
	}
	delete(d.buffers, id)
}

// WriteBuffer writes data at offset. Both must be multiples of 4.
func (d *Device) WriteBuffer(id gpucore.BufferID, offset uint64, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buffers[id]
	switch {
	case !ok:
		return gpucore.ErrUnknownResource
	case b.usage&gputypes.BufferUsageCopyDst == 0:
		return validationf("write buffer %q: missing CopyDst usage", b.label)
	case offset%gpucore.CopyBufferAlignment != 0 || uint64(len(data))%gpucore.CopyBufferAlignment != 0:
		return validationf("write buffer %q: offset %d / size %d not 4-byte aligned", b.label, offset, len(data))
	case offset+uint64(len(data)) > uint64(len(b.data)):
		return validationf("write buffer %q: %d bytes at %d overflow size %d", b.label, len(data), offset, len(b.data))
	case b.mapState != bufferUnmapped:
		return validationf("write buffer %q: buffer is mapped", b.label)
	}
	copy(b.data[offset:], data)
	return nil
}

// CreateTexture creates a zero-filled 2D texture.
func (d *Device) CreateTexture(desc *gpucore.TextureDesc) (gpucore.TextureID, error) {
	bpp := gpucore.BytesPerPixel(desc.Format)
	if bpp == 0 {
		return 0, validationf("texture %q: unsupported format %v", desc.Label, desc.Format)
	}
	if desc.Width == 0 || desc.Height == 0 {
		return 0, validationf("texture %q: empty size %dx%d", desc.Label, desc.Width, desc.Height)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, gpucore.ErrDeviceClosed
	}
	id := gpucore.TextureID(d.id())
	d.textures[id] = &Texture{
		Width:  desc.Width,
		Height: desc.Height,
		Format: desc.Format,
		usage:  desc.Usage,
		bpp:    bpp,
		texels: make([]byte, int(desc.Width)*int(desc.Height)*int(bpp)),
	}
	return id, nil
}

func (d *Device) DestroyTexture(id gpucore.TextureID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.textures, id)
}

// WriteTexture uploads rows of bytesPerRow stride into the whole texture.
func (d *Device) WriteTexture(id gpucore.TextureID, data []byte, bytesPerRow uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.textures[id]
	if !ok {
		return gpucore.ErrUnknownResource
	}
	row := t.Width * t.bpp
	switch {
	case t.usage&gputypes.TextureUsageCopyDst == 0:
		return validationf("write texture: missing CopyDst usage")
	case bytesPerRow < row:
		return validationf("write texture: bytesPerRow %d < row size %d", bytesPerRow, row)
	case uint64(len(data)) < uint64(bytesPerRow)*uint64(t.Height-1)+uint64(row):
		return validationf("write texture: %d bytes too short", len(data))
	}
	for y := range t.Height {
		copy(t.texels[y*row:(y+1)*row], data[y*bytesPerRow:y*bytesPerRow+row])
	}
	return nil
}

// TextureData returns a copy of the texels of a texture.
func (d *Device) TextureData(id gpucore.TextureID) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.textures[id]
	if !ok {
		return nil, gpucore.ErrUnknownResource
	}
	return slices.Clone(t.texels), nil
}

func (d *Device) CreateBindGroupLayout(desc *gpucore.BindGroupLayoutDesc) (gpucore.BindGroupLayoutID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, gpucore.ErrDeviceClosed
	}
	id := gpucore.BindGroupLayoutID(d.id())
	d.bgls[id] = &bindGroupLayout{entries: slices.Clone(desc.Entries)}
	return id, nil
}

func (d *Device) DestroyBindGroupLayout(id gpucore.BindGroupLayoutID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.bgls, id)
}

func (d *Device) CreatePipelineLayout(label string, layouts []gpucore.BindGroupLayoutID) (gpucore.PipelineLayoutID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, l := range layouts {
		if _, ok := d.bgls[l]; !ok {
			return 0, fmt.Errorf("pipeline layout %q: %w", label, gpucore.ErrUnknownResource)
		}
	}
	id := gpucore.PipelineLayoutID(d.id())
	d.layouts[id] = slices.Clone(layouts)
	return id, nil
}

func (d *Device) DestroyPipelineLayout(id gpucore.PipelineLayoutID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.layouts, id)
}

// CreateComputePipeline binds the kernel registered for desc.EntryPoint.
func (d *Device) CreateComputePipeline(desc *gpucore.ComputePipelineDesc) (gpucore.ComputePipelineID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.modules[desc.Module]; !ok {
		return 0, fmt.Errorf("pipeline %q: module: %w", desc.Label, gpucore.ErrUnknownResource)
	}
	if _, ok := d.layouts[desc.Layout]; !ok {
		return 0, fmt.Errorf("pipeline %q: layout: %w", desc.Label, gpucore.ErrUnknownResource)
	}
	k, ok := d.kernels[desc.EntryPoint]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrNoKernel, desc.EntryPoint)
	}
	id := gpucore.ComputePipelineID(d.id())
	d.pipelines[id] = &pipeline{entry: desc.EntryPoint, kernel: k, layout: desc.Layout}
	return id, nil
}

func (d *Device) DestroyComputePipeline(id gpucore.ComputePipelineID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.pipelines, id)
}

// CreateBindGroup checks every entry against the layout and the resource
// usage flags.
func (d *Device) CreateBindGroup(desc *gpucore.BindGroupDesc) (gpucore.BindGroupID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	layout, ok := d.bgls[desc.Layout]
	if !ok {
		return 0, fmt.Errorf("bind group %q: layout: %w", desc.Label, gpucore.ErrUnknownResource)
	}
	if len(desc.Entries) != len(layout.entries) {
		return 0, validationf("bind group %q: %d entries, layout has %d", desc.Label, len(desc.Entries), len(layout.entries))
	}

	group := &bindGroup{layout: desc.Layout, entries: make(map[uint32]bindEntry, len(desc.Entries))}
	for _, e := range desc.Entries {
		le, ok := layoutEntry(layout, e.Binding)
		if !ok {
			return 0, validationf("bind group %q: binding %d not in layout", desc.Label, e.Binding)
		}
		be, err := d.bindEntry(le, e)
		if err != nil {
			return 0, fmt.Errorf("bind group %q binding %d: %w", desc.Label, e.Binding, err)
		}
		group.entries[e.Binding] = be
	}

	id := gpucore.BindGroupID(d.id())
	d.groups[id] = group
	return id, nil
}

func layoutEntry(l *bindGroupLayout, binding uint32) (gputypes.BindGroupLayoutEntry, bool) {
	for _, e := range l.entries {
		if e.Binding == binding {
			return e, true
		}
	}
	return gputypes.BindGroupLayoutEntry{}, false
}

func (d *Device) bindEntry(le gputypes.BindGroupLayoutEntry, e gpucore.BindGroupEntry) (bindEntry, error) {
	switch {
	case le.Buffer != nil:
		b, ok := d.buffers[e.Buffer]
		if !ok {
			return bindEntry{}, gpucore.ErrUnknownResource
		}
		want := gputypes.BufferUsageStorage
		if le.Buffer.Type == gputypes.BufferBindingTypeUniform {
			want = gputypes.BufferUsageUniform
		}
		if b.usage&want == 0 {
			return bindEntry{}, validationf("buffer %q lacks usage %v", b.label, want)
		}
		size := e.Size
		if size == 0 {
			size = uint64(len(b.data)) - e.Offset
		}
		if e.Offset+size > uint64(len(b.data)) {
			return bindEntry{}, validationf("buffer %q: range out of bounds", b.label)
		}
		return bindEntry{buffer: b, offset: e.Offset, size: size}, nil

	case le.StorageTexture != nil:
		t, ok := d.textures[e.Texture]
		if !ok {
			return bindEntry{}, gpucore.ErrUnknownResource
		}
		if t.usage&gputypes.TextureUsageStorageBinding == 0 {
			return bindEntry{}, validationf("texture lacks StorageBinding usage")
		}
		if t.Format != le.StorageTexture.Format {
			return bindEntry{}, validationf("texture format %v, layout wants %v", t.Format, le.StorageTexture.Format)
		}
		return bindEntry{texture: t}, nil

	default:
		return bindEntry{}, validationf("unsupported layout entry")
	}
}

func (d *Device) DestroyBindGroup(id gpucore.BindGroupID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.groups, id)
}

// CreateCommandEncoder begins recording.
func (d *Device) CreateCommandEncoder(label string) (gpucore.CommandEncoder, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, gpucore.ErrDeviceClosed
	}
	return &commandEncoder{dev: d, label: label}, nil
}

// Submit executes the command buffer.
func (d *Device) Submit(cmd gpucore.CommandBufferID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	commands, ok := d.commands[cmd]
	if !ok {
		return fmt.Errorf("submit: %w", gpucore.ErrUnknownResource)
	}
	delete(d.commands, cmd)

	for _, c := range commands {
		if err := c.execute(d); err != nil {
			return fmt.Errorf("submit: %w", err)
		}
	}
	d.stats.Submits++
	d.log.Debug("soft: submitted", "commands", len(commands))
	return nil
}

type mapPending struct {
	dev    *Device
	buffer *buffer
	ready  bool
	err    error
}

func (p *mapPending) Status() (bool, error) {
	p.dev.mu.Lock()
	defer p.dev.mu.Unlock()
	return p.ready, p.err
}

func (p *mapPending) Release() {}

// MapRead requests a read mapping resolved by the next Wait.
func (d *Device) MapRead(id gpucore.BufferID, offset, size uint64) (gpucore.MapPending, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buffers[id]
	switch {
	case !ok:
		return nil, gpucore.ErrUnknownResource
	case b.usage&gputypes.BufferUsageMapRead == 0:
		return nil, validationf("map buffer %q: missing MapRead usage", b.label)
	case b.mapState != bufferUnmapped:
		return nil, validationf("map buffer %q: already mapped", b.label)
	case offset%8 != 0 || size%4 != 0:
		return nil, validationf("map buffer %q: offset %d / size %d misaligned", b.label, offset, size)
	case offset+size > uint64(len(b.data)):
		return nil, validationf("map buffer %q: range out of bounds", b.label)
	}
	b.mapState = bufferMapPending
	p := &mapPending{dev: d, buffer: b}
	d.pending = append(d.pending, p)
	return p, nil
}

// Wait resolves every pending mapping. Submitted work has already run.
func (d *Device) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, p := range d.pending {
		if p.buffer.mapState != bufferMapPending {
			// Unmapped before the wait.
			p.ready, p.err = true, validationf("mapping aborted")
			continue
		}
		var err error
		if d.mapFault != nil {
			err = d.mapFault(d.bufferID(p.buffer))
		}
		if err != nil {
			p.buffer.mapState = bufferUnmapped
			p.ready, p.err = true, err
			continue
		}
		p.buffer.mapState = bufferMapped
		p.ready = true
	}
	d.pending = d.pending[:0]
	return nil
}

func (d *Device) bufferID(b *buffer) gpucore.BufferID {
	for id, candidate := range d.buffers {
		if candidate == b {
			return id
		}
	}
	return 0
}

// MappedRange returns a copy of mapped bytes.
func (d *Device) MappedRange(id gpucore.BufferID, offset, size uint64) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buffers[id]
	switch {
	case !ok:
		return nil, gpucore.ErrUnknownResource
	case b.mapState != bufferMapped:
		return nil, validationf("mapped range %q: buffer not mapped", b.label)
	case offset+size > uint64(len(b.data)):
		return nil, validationf("mapped range %q: out of bounds", b.label)
	}
	return slices.Clone(b.data[offset : offset+size]), nil
}

// Unmap releases a mapping. Unmapping an unmapped buffer is a no-op.
func (d *Device) Unmap(id gpucore.BufferID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buffers[id]
	if !ok {
		return gpucore.ErrUnknownResource
	}
	b.mapState = bufferUnmapped
	return nil
}

// Close releases every resource.
func (d *Device) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	clear(d.modules)
	clear(d.buffers)
	clear(d.textures)
	clear(d.bgls)
	clear(d.layouts)
	clear(d.pipelines)
	clear(d.groups)
	clear(d.commands)
	d.pending = nil
}
