package wgpu

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu"

	"github.com/gogpu/gpucompute/gpucore"
)

// ErrNoWGPUDevice is returned by FromProvider when the provider does not
// expose a *wgpu.Device.
var ErrNoWGPUDevice = errors.New("wgpu: provider has no *wgpu.Device")

// GPUInfo contains information about the selected GPU.
type GPUInfo struct {
	// Name is the GPU name (e.g., "NVIDIA GeForce RTX 3080").
	Name string
	// Vendor is the GPU vendor.
	Vendor string
	// DeviceType is the type of GPU (discrete, integrated, etc.).
	DeviceType gputypes.DeviceType
	// Backend is the graphics API in use (Vulkan, Metal, DX12).
	Backend gputypes.Backend
	// Driver is the driver version string.
	Driver string
}

// String returns a human-readable description of the GPU.
func (g *GPUInfo) String() string {
	return fmt.Sprintf("%s (%v, %v)", g.Name, g.DeviceType, g.Backend)
}

type texture struct {
	tex  *wgpu.Texture
	view *wgpu.TextureView
	desc gpucore.TextureDesc
}

// Device implements gpucore.Device on a gogpu/wgpu device.
type Device struct {
	dev   *wgpu.Device
	queue *wgpu.Queue
	info  GPUInfo

	// owned resources released by Close; nil for borrowed devices.
	instance *wgpu.Instance
	adapter  *wgpu.Adapter

	log deviceLog

	mu        sync.Mutex
	nextID    uint64
	closed    bool
	modules   map[gpucore.ShaderModuleID]*wgpu.ShaderModule
	buffers   map[gpucore.BufferID]*wgpu.Buffer
	textures  map[gpucore.TextureID]*texture
	bgls      map[gpucore.BindGroupLayoutID]*wgpu.BindGroupLayout
	layouts   map[gpucore.PipelineLayoutID]*wgpu.PipelineLayout
	pipelines map[gpucore.ComputePipelineID]*wgpu.ComputePipeline
	groups    map[gpucore.BindGroupID]*wgpu.BindGroup
	commands  map[gpucore.CommandBufferID]*wgpu.CommandBuffer
}

var _ gpucore.Device = (*Device)(nil)

// New creates an instance, requests the default adapter and opens a device
// on it. Close releases all three.
func New() (*Device, error) {
	instance, err := wgpu.CreateInstance(nil)
	if err != nil {
		return nil, fmt.Errorf("wgpu: create instance: %w", err)
	}
	adapter, err := instance.RequestAdapter(nil)
	if err != nil {
		instance.Release()
		return nil, fmt.Errorf("wgpu: request adapter: %w", err)
	}
	dev, err := adapter.RequestDevice(&wgpu.DeviceDescriptor{
		Label:          "gpucompute",
		RequiredLimits: wgpu.DefaultLimits(),
	})
	if err != nil {
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("wgpu: request device: %w", err)
	}
	if dev.Queue() == nil {
		dev.Release()
		adapter.Release()
		instance.Release()
		return nil, fmt.Errorf("wgpu: device has no queue")
	}

	d := wrap(dev)
	d.instance, d.adapter = instance, adapter
	info := adapter.Info()
	d.info = GPUInfo{
		Name:       info.Name,
		Vendor:     info.Vendor,
		DeviceType: info.DeviceType,
		Backend:    info.Backend,
		Driver:     info.Driver,
	}
	return d, nil
}

// FromProvider borrows the device of a host application. Close does not
// release the borrowed device.
func FromProvider(p gpucontext.DeviceProvider) (*Device, error) {
	dev, ok := p.Device().(*wgpu.Device)
	if !ok || dev == nil {
		return nil, ErrNoWGPUDevice
	}
	d := wrap(dev)
	info := p.AdapterInfo()
	d.info = GPUInfo{Name: info.Name}
	return d, nil
}

func wrap(dev *wgpu.Device) *Device {
	return &Device{
		dev:       dev,
		queue:     dev.Queue(),
		modules:   make(map[gpucore.ShaderModuleID]*wgpu.ShaderModule),
		buffers:   make(map[gpucore.BufferID]*wgpu.Buffer),
		textures:  make(map[gpucore.TextureID]*texture),
		bgls:      make(map[gpucore.BindGroupLayoutID]*wgpu.BindGroupLayout),
		layouts:   make(map[gpucore.PipelineLayoutID]*wgpu.PipelineLayout),
		pipelines: make(map[gpucore.ComputePipelineID]*wgpu.ComputePipeline),
		groups:    make(map[gpucore.BindGroupID]*wgpu.BindGroup),
		commands:  make(map[gpucore.CommandBufferID]*wgpu.CommandBuffer),
	}
}

// Info returns the adapter description.
func (d *Device) Info() GPUInfo { return d.info }

// SetLogger attaches l to the device and the whole wgpu stack.
// A nil logger silences both.
func (d *Device) SetLogger(l *slog.Logger) {
	d.log.set(l)
	wgpu.SetLogger(l)
	d.log.get().Info("wgpu: device attached", "gpu", d.info.String(), "driver", d.info.Driver)
}

func (d *Device) id() uint64 {
	d.nextID++
	return d.nextID
}

// Limits returns the device limits.
func (d *Device) Limits() gpucore.Limits {
	l := d.dev.Limits()
	return gpucore.Limits{
		MaxBufferSize:                    l.MaxBufferSize,
		MaxStorageBufferBindingSize:      l.MaxStorageBufferBindingSize,
		MaxComputeWorkgroupsPerDimension: l.MaxComputeWorkgroupsPerDimension,
		CopyBytesPerRowAlignment:         gpucore.CopyBytesPerRowAlignment,
	}
}

func (d *Device) CreateShaderModule(desc *gpucore.ShaderModuleDesc) (gpucore.ShaderModuleID, error) {
	m, err := d.dev.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label: desc.Label,
		WGSL:  desc.WGSL,
		SPIRV: desc.SPIRV,
	})
	if err != nil {
		return 0, fmt.Errorf("wgpu: create shader module %q: %w", desc.Label, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	id := gpucore.ShaderModuleID(d.id())
	d.modules[id] = m
	return id, nil
}

func (d *Device) DestroyShaderModule(id gpucore.ShaderModuleID) {
	d.mu.Lock()
	m := d.modules[id]
	delete(d.modules, id)
	d.mu.Unlock()
	if m != nil {
		m.Release()
	}
}

func (d *Device) CreateBuffer(desc *gpucore.BufferDesc) (gpucore.BufferID, error) {
	b, err := d.dev.CreateBuffer(&wgpu.BufferDescriptor{
		Label: desc.Label,
		Size:  desc.Size,
		Usage: desc.Usage,
	})
	if err != nil {
		return 0, fmt.Errorf("wgpu: create buffer %q: %w", desc.Label, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	id := gpucore.BufferID(d.id())
	d.buffers[id] = b
	return id, nil
}

func (d *Device) DestroyBuffer(id gpucore.BufferID) {
	d.mu.Lock()
	b := d.buffers[id]
	delete(d.buffers, id)
	d.mu.Unlock()
	if b != nil {
		b.Release()
	}
}

func (d *Device) buffer(id gpucore.BufferID) (*wgpu.Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buffers[id]
	if !ok {
		return nil, gpucore.ErrUnknownResource
	}
	return b, nil
}

func (d *Device) WriteBuffer(id gpucore.BufferID, offset uint64, data []byte) error {
	b, err := d.buffer(id)
	if err != nil {
		return err
	}
	return d.queue.WriteBuffer(b, offset, data)
}

func (d *Device) CreateTexture(desc *gpucore.TextureDesc) (gpucore.TextureID, error) {
	tex, err := d.dev.CreateTexture(&wgpu.TextureDescriptor{
		Label:         desc.Label,
		Size:          wgpu.Extent3D{Width: desc.Width, Height: desc.Height, DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        desc.Format,
		Usage:         desc.Usage,
	})
	if err != nil {
		return 0, fmt.Errorf("wgpu: create texture %q: %w", desc.Label, err)
	}
	view, err := d.dev.CreateTextureView(tex, &wgpu.TextureViewDescriptor{
		Label:           desc.Label,
		Format:          desc.Format,
		Dimension:       gputypes.TextureViewDimension2D,
		Aspect:          gputypes.TextureAspectAll,
		MipLevelCount:   1,
		ArrayLayerCount: 1,
	})
	if err != nil {
		tex.Release()
		return 0, fmt.Errorf("wgpu: create texture view %q: %w", desc.Label, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	id := gpucore.TextureID(d.id())
	d.textures[id] = &texture{tex: tex, view: view, desc: *desc}
	return id, nil
}

func (d *Device) DestroyTexture(id gpucore.TextureID) {
	d.mu.Lock()
	t := d.textures[id]
	delete(d.textures, id)
	d.mu.Unlock()
	if t != nil {
		t.view.Release()
		t.tex.Release()
	}
}

func (d *Device) texture(id gpucore.TextureID) (*texture, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.textures[id]
	if !ok {
		return nil, gpucore.ErrUnknownResource
	}
	return t, nil
}

func (d *Device) WriteTexture(id gpucore.TextureID, data []byte, bytesPerRow uint32) error {
	t, err := d.texture(id)
	if err != nil {
		return err
	}
	return d.queue.WriteTexture(
		&wgpu.ImageCopyTexture{Texture: t.tex, Aspect: gputypes.TextureAspectAll},
		data,
		&wgpu.ImageDataLayout{BytesPerRow: bytesPerRow, RowsPerImage: t.desc.Height},
		&wgpu.Extent3D{Width: t.desc.Width, Height: t.desc.Height, DepthOrArrayLayers: 1},
	)
}

func (d *Device) CreateBindGroupLayout(desc *gpucore.BindGroupLayoutDesc) (gpucore.BindGroupLayoutID, error) {
	l, err := d.dev.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label:   desc.Label,
		Entries: desc.Entries,
	})
	if err != nil {
		return 0, fmt.Errorf("wgpu: create bind group layout %q: %w", desc.Label, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	id := gpucore.BindGroupLayoutID(d.id())
	d.bgls[id] = l
	return id, nil
}

func (d *Device) DestroyBindGroupLayout(id gpucore.BindGroupLayoutID) {
	d.mu.Lock()
	l := d.bgls[id]
	delete(d.bgls, id)
	d.mu.Unlock()
	if l != nil {
		l.Release()
	}
}

func (d *Device) CreatePipelineLayout(label string, layouts []gpucore.BindGroupLayoutID) (gpucore.PipelineLayoutID, error) {
	d.mu.Lock()
	bgls := make([]*wgpu.BindGroupLayout, 0, len(layouts))
	for _, id := range layouts {
		l, ok := d.bgls[id]
		if !ok {
			d.mu.Unlock()
			return 0, fmt.Errorf("wgpu: pipeline layout %q: %w", label, gpucore.ErrUnknownResource)
		}
		bgls = append(bgls, l)
	}
	d.mu.Unlock()

	pl, err := d.dev.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            label,
		BindGroupLayouts: bgls,
	})
	if err != nil {
		return 0, fmt.Errorf("wgpu: create pipeline layout %q: %w", label, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	id := gpucore.PipelineLayoutID(d.id())
	d.layouts[id] = pl
	return id, nil
}

func (d *Device) DestroyPipelineLayout(id gpucore.PipelineLayoutID) {
	d.mu.Lock()
	l := d.layouts[id]
	delete(d.layouts, id)
	d.mu.Unlock()
	if l != nil {
		l.Release()
	}
}

func (d *Device) CreateComputePipeline(desc *gpucore.ComputePipelineDesc) (gpucore.ComputePipelineID, error) {
	d.mu.Lock()
	module, okModule := d.modules[desc.Module]
	layout, okLayout := d.layouts[desc.Layout]
	d.mu.Unlock()
	if !okModule || !okLayout {
		return 0, fmt.Errorf("wgpu: compute pipeline %q: %w", desc.Label, gpucore.ErrUnknownResource)
	}

	p, err := d.dev.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:      desc.Label,
		Layout:     layout,
		Module:     module,
		EntryPoint: desc.EntryPoint,
	})
	if err != nil {
		return 0, fmt.Errorf("wgpu: create compute pipeline %q: %w", desc.Label, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	id := gpucore.ComputePipelineID(d.id())
	d.pipelines[id] = p
	d.log.get().Debug("wgpu: compute pipeline created", "label", desc.Label, "entry", desc.EntryPoint)
	return id, nil
}

func (d *Device) DestroyComputePipeline(id gpucore.ComputePipelineID) {
	d.mu.Lock()
	p := d.pipelines[id]
	delete(d.pipelines, id)
	d.mu.Unlock()
	if p != nil {
		p.Release()
	}
}

func (d *Device) CreateBindGroup(desc *gpucore.BindGroupDesc) (gpucore.BindGroupID, error) {
	d.mu.Lock()
	layout, ok := d.bgls[desc.Layout]
	if !ok {
		d.mu.Unlock()
		return 0, fmt.Errorf("wgpu: bind group %q: layout: %w", desc.Label, gpucore.ErrUnknownResource)
	}
	entries := make([]wgpu.BindGroupEntry, 0, len(desc.Entries))
	for _, e := range desc.Entries {
		entry := wgpu.BindGroupEntry{Binding: e.Binding, Offset: e.Offset, Size: e.Size}
		switch {
		case e.Buffer != gpucore.InvalidID:
			b, ok := d.buffers[e.Buffer]
			if !ok {
				d.mu.Unlock()
				return 0, fmt.Errorf("wgpu: bind group %q binding %d: %w", desc.Label, e.Binding, gpucore.ErrUnknownResource)
			}
			entry.Buffer = b
		case e.Texture != gpucore.InvalidID:
			t, ok := d.textures[e.Texture]
			if !ok {
				d.mu.Unlock()
				return 0, fmt.Errorf("wgpu: bind group %q binding %d: %w", desc.Label, e.Binding, gpucore.ErrUnknownResource)
			}
			entry.TextureView = t.view
		}
		entries = append(entries, entry)
	}
	d.mu.Unlock()

	g, err := d.dev.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   desc.Label,
		Layout:  layout,
		Entries: entries,
	})
	if err != nil {
		return 0, fmt.Errorf("wgpu: create bind group %q: %w", desc.Label, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	id := gpucore.BindGroupID(d.id())
	d.groups[id] = g
	return id, nil
}

func (d *Device) DestroyBindGroup(id gpucore.BindGroupID) {
	d.mu.Lock()
	g := d.groups[id]
	delete(d.groups, id)
	d.mu.Unlock()
	if g != nil {
		g.Release()
	}
}

func (d *Device) CreateCommandEncoder(label string) (gpucore.CommandEncoder, error) {
	enc, err := d.dev.CreateCommandEncoder(&wgpu.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create command encoder %q: %w", label, err)
	}
	return &commandEncoder{dev: d, enc: enc, label: label}, nil
}

func (d *Device) Submit(cmd gpucore.CommandBufferID) error {
	d.mu.Lock()
	cb, ok := d.commands[cmd]
	delete(d.commands, cmd)
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("wgpu: submit: %w", gpucore.ErrUnknownResource)
	}
	if _, err := d.queue.Submit(cb); err != nil {
		cb.Release()
		return fmt.Errorf("wgpu: submit: %w", err)
	}
	return nil
}

func (d *Device) MapRead(id gpucore.BufferID, offset, size uint64) (gpucore.MapPending, error) {
	b, err := d.buffer(id)
	if err != nil {
		return nil, err
	}
	pending, err := b.MapAsync(wgpu.MapModeRead, offset, size)
	if err != nil {
		return nil, fmt.Errorf("wgpu: map %q: %w", b.Label(), err)
	}
	return pending, nil
}

// Wait drains the device with a blocking poll. Cancelling ctx returns early;
// the poll itself still runs to completion in the background.
func (d *Device) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.dev.Poll(wgpu.PollWait)
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Device) MappedRange(id gpucore.BufferID, offset, size uint64) ([]byte, error) {
	b, err := d.buffer(id)
	if err != nil {
		return nil, err
	}
	rng, err := b.MappedRange(offset, size)
	if err != nil {
		return nil, fmt.Errorf("wgpu: mapped range %q: %w", b.Label(), err)
	}
	defer rng.Release()
	return slices.Clone(rng.Bytes()), nil
}

func (d *Device) Unmap(id gpucore.BufferID) error {
	b, err := d.buffer(id)
	if err != nil {
		return err
	}
	if err := b.Unmap(); err != nil && !errors.Is(err, wgpu.ErrMapNotMapped) {
		return fmt.Errorf("wgpu: unmap %q: %w", b.Label(), err)
	}
	return nil
}

// Close releases every resource created through d, then the device itself
// when it was opened by New.
func (d *Device) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	commands, groups, pipelines := d.commands, d.groups, d.pipelines
	layouts, bgls, textures := d.layouts, d.bgls, d.textures
	buffers, modules := d.buffers, d.modules
	empty := wrap(d.dev)
	d.commands, d.groups, d.pipelines = empty.commands, empty.groups, empty.pipelines
	d.layouts, d.bgls, d.textures = empty.layouts, empty.bgls, empty.textures
	d.buffers, d.modules = empty.buffers, empty.modules
	d.mu.Unlock()

	for _, c := range commands {
		c.Release()
	}
	for _, g := range groups {
		g.Release()
	}
	for _, p := range pipelines {
		p.Release()
	}
	for _, l := range layouts {
		l.Release()
	}
	for _, l := range bgls {
		l.Release()
	}
	for _, t := range textures {
		t.view.Release()
		t.tex.Release()
	}
	for _, b := range buffers {
		_ = b.Unmap()
		b.Release()
	}
	for _, m := range modules {
		m.Release()
	}

	if d.adapter != nil {
		d.dev.Release()
		d.adapter.Release()
		d.instance.Release()
	}
}
