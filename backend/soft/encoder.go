package soft

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpucompute/gpucore"
)

type command interface {
	execute(d *Device) error
}

type dispatchCommand struct {
	pipeline gpucore.ComputePipelineID
	group    gpucore.BindGroupID
	x, y, z  uint32
}

func (c dispatchCommand) execute(d *Device) error {
	p, ok := d.pipelines[c.pipeline]
	if !ok {
		return fmt.Errorf("dispatch: pipeline: %w", gpucore.ErrUnknownResource)
	}
	g, ok := d.groups[c.group]
	if !ok {
		return fmt.Errorf("dispatch %q: bind group: %w", p.entry, gpucore.ErrUnknownResource)
	}
	p.kernel.run(g, c.x, c.y, c.z)
	return nil
}

type copyBufferCommand struct {
	src, dst             gpucore.BufferID
	srcOffset, dstOffset uint64
	size                 uint64
}

func (c copyBufferCommand) execute(d *Device) error {
	src, ok := d.buffers[c.src]
	if !ok {
		return fmt.Errorf("copy buffer: source: %w", gpucore.ErrUnknownResource)
	}
	dst, ok := d.buffers[c.dst]
	if !ok {
		return fmt.Errorf("copy buffer: destination: %w", gpucore.ErrUnknownResource)
	}
	switch {
	case src.usage&gputypes.BufferUsageCopySrc == 0:
		return validationf("copy buffer: %q lacks CopySrc usage", src.label)
	case dst.usage&gputypes.BufferUsageCopyDst == 0:
		return validationf("copy buffer: %q lacks CopyDst usage", dst.label)
	case c.srcOffset+c.size > uint64(len(src.data)) || c.dstOffset+c.size > uint64(len(dst.data)):
		return validationf("copy buffer: %d bytes out of bounds", c.size)
	case dst.mapState != bufferUnmapped:
		return validationf("copy buffer: %q is mapped", dst.label)
	}
	copy(dst.data[c.dstOffset:c.dstOffset+c.size], src.data[c.srcOffset:c.srcOffset+c.size])
	return nil
}

type copyTextureCommand struct {
	src           gpucore.TextureID
	dst           gpucore.BufferID
	layout        gpucore.ImageCopyLayout
	width, height uint32
}

func (c copyTextureCommand) execute(d *Device) error {
	src, ok := d.textures[c.src]
	if !ok {
		return fmt.Errorf("copy texture: source: %w", gpucore.ErrUnknownResource)
	}
	dst, ok := d.buffers[c.dst]
	if !ok {
		return fmt.Errorf("copy texture: destination: %w", gpucore.ErrUnknownResource)
	}
	row := c.width * src.bpp
	align := d.limits.CopyBytesPerRowAlignment
	switch {
	case src.usage&gputypes.TextureUsageCopySrc == 0:
		return validationf("copy texture: source lacks CopySrc usage")
	case dst.usage&gputypes.BufferUsageCopyDst == 0:
		return validationf("copy texture: %q lacks CopyDst usage", dst.label)
	case c.width > src.Width || c.height > src.Height:
		return validationf("copy texture: region %dx%d exceeds %dx%d", c.width, c.height, src.Width, src.Height)
	case c.layout.BytesPerRow < row:
		return validationf("copy texture: bytesPerRow %d < row size %d", c.layout.BytesPerRow, row)
	case c.height > 1 && align > 0 && c.layout.BytesPerRow%align != 0:
		return validationf("copy texture: bytesPerRow %d not a multiple of %d", c.layout.BytesPerRow, align)
	case c.layout.Offset+uint64(c.layout.BytesPerRow)*uint64(c.height-1)+uint64(row) > uint64(len(dst.data)):
		return validationf("copy texture: %q too small", dst.label)
	case dst.mapState != bufferUnmapped:
		return validationf("copy texture: %q is mapped", dst.label)
	}
	for y := range c.height {
		from := src.texels[y*src.Width*src.bpp:][:row]
		to := c.layout.Offset + uint64(y)*uint64(c.layout.BytesPerRow)
		copy(dst.data[to:to+uint64(row)], from)
	}
	return nil
}

// commandEncoder records commands and validates them in Finish.
type commandEncoder struct {
	dev      *Device
	label    string
	commands []command
	errs     []error
	open     bool
	done     bool
}

func (e *commandEncoder) record(c command) {
	if e.done {
		e.errs = append(e.errs, validationf("encoder %q: recording after finish", e.label))
		return
	}
	if e.open {
		e.errs = append(e.errs, validationf("encoder %q: compute pass still open", e.label))
		return
	}
	e.commands = append(e.commands, c)
}

func (e *commandEncoder) BeginComputePass(label string) (gpucore.ComputePassEncoder, error) {
	if e.done {
		return nil, validationf("encoder %q: recording after finish", e.label)
	}
	if e.open {
		return nil, validationf("encoder %q: compute pass already open", e.label)
	}
	e.open = true
	return &computePass{encoder: e, label: label}, nil
}

func (e *commandEncoder) CopyBufferToBuffer(src gpucore.BufferID, srcOffset uint64, dst gpucore.BufferID, dstOffset, size uint64) {
	if srcOffset%gpucore.CopyBufferAlignment != 0 || dstOffset%gpucore.CopyBufferAlignment != 0 ||
		size%gpucore.CopyBufferAlignment != 0 {
		e.errs = append(e.errs, validationf("copy buffer: offsets %d/%d size %d not 4-byte aligned", srcOffset, dstOffset, size))
		return
	}
	e.record(copyBufferCommand{src: src, dst: dst, srcOffset: srcOffset, dstOffset: dstOffset, size: size})
}

func (e *commandEncoder) CopyTextureToBuffer(src gpucore.TextureID, dst gpucore.BufferID, layout gpucore.ImageCopyLayout, width, height uint32) {
	if width == 0 || height == 0 {
		e.errs = append(e.errs, validationf("copy texture: empty region"))
		return
	}
	e.record(copyTextureCommand{src: src, dst: dst, layout: layout, width: width, height: height})
}

func (e *commandEncoder) Finish() (gpucore.CommandBufferID, error) {
	if e.open {
		e.errs = append(e.errs, validationf("encoder %q: finish with open compute pass", e.label))
	}
	if e.done {
		return 0, validationf("encoder %q: finished twice", e.label)
	}
	e.done = true
	if err := errors.Join(e.errs...); err != nil {
		return 0, fmt.Errorf("encoder %q: %w", e.label, err)
	}

	d := e.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, gpucore.ErrDeviceClosed
	}
	id := gpucore.CommandBufferID(d.id())
	d.commands[id] = e.commands
	return id, nil
}

func (e *commandEncoder) Discard() {
	e.done = true
	e.commands = nil
}

// computePass records dispatches of one compute pass.
type computePass struct {
	encoder  *commandEncoder
	label    string
	pipeline gpucore.ComputePipelineID
	groups   map[uint32]gpucore.BindGroupID
	commands []command
	errs     []error
	ended    bool
}

func (p *computePass) SetPipeline(pipeline gpucore.ComputePipelineID) {
	p.pipeline = pipeline
}

func (p *computePass) SetBindGroup(index uint32, group gpucore.BindGroupID) {
	if index != 0 {
		p.errs = append(p.errs, validationf("pass %q: bind group index %d unsupported", p.label, index))
		return
	}
	if p.groups == nil {
		p.groups = make(map[uint32]gpucore.BindGroupID)
	}
	p.groups[index] = group
}

func (p *computePass) Dispatch(x, y, z uint32) {
	limit := p.encoder.dev.limits.MaxComputeWorkgroupsPerDimension
	switch {
	case p.pipeline == gpucore.InvalidID:
		p.errs = append(p.errs, validationf("pass %q: dispatch without pipeline", p.label))
	case x > limit || y > limit || z > limit:
		p.errs = append(p.errs, validationf("pass %q: dispatch %dx%dx%d exceeds limit %d", p.label, x, y, z, limit))
	case x == 0 || y == 0 || z == 0:
		// Empty dispatches are valid no-ops.
	default:
		p.commands = append(p.commands, dispatchCommand{pipeline: p.pipeline, group: p.groups[0], x: x, y: y, z: z})
	}
}

func (p *computePass) End() error {
	if p.ended {
		return validationf("pass %q: ended twice", p.label)
	}
	p.ended = true
	p.encoder.open = false
	p.encoder.errs = append(p.encoder.errs, p.errs...)
	for _, c := range p.commands {
		p.encoder.record(c)
	}
	return nil
}
