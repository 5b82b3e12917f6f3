package wgpu

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu"

	"github.com/gogpu/gpucompute/gpucore"
)

// commandEncoder resolves IDs to wgpu objects while recording. Unknown IDs
// are collected and reported by Finish.
type commandEncoder struct {
	dev   *Device
	enc   *wgpu.CommandEncoder
	label string
	errs  []error
}

func (e *commandEncoder) fail(err error) {
	e.errs = append(e.errs, err)
}

func (e *commandEncoder) BeginComputePass(label string) (gpucore.ComputePassEncoder, error) {
	pass, err := e.enc.BeginComputePass(&wgpu.ComputePassDescriptor{Label: label})
	if err != nil {
		return nil, fmt.Errorf("wgpu: begin compute pass %q: %w", label, err)
	}
	return &computePass{encoder: e, pass: pass, label: label}, nil
}

func (e *commandEncoder) CopyBufferToBuffer(src gpucore.BufferID, srcOffset uint64, dst gpucore.BufferID, dstOffset, size uint64) {
	s, err := e.dev.buffer(src)
	if err != nil {
		e.fail(fmt.Errorf("copy buffer source: %w", err))
		return
	}
	d, err := e.dev.buffer(dst)
	if err != nil {
		e.fail(fmt.Errorf("copy buffer destination: %w", err))
		return
	}
	e.enc.CopyBufferToBuffer(s, srcOffset, d, dstOffset, size)
}

func (e *commandEncoder) CopyTextureToBuffer(src gpucore.TextureID, dst gpucore.BufferID, layout gpucore.ImageCopyLayout, width, height uint32) {
	t, err := e.dev.texture(src)
	if err != nil {
		e.fail(fmt.Errorf("copy texture source: %w", err))
		return
	}
	d, err := e.dev.buffer(dst)
	if err != nil {
		e.fail(fmt.Errorf("copy texture destination: %w", err))
		return
	}
	e.enc.CopyTextureToBuffer(t.tex, d, []wgpu.BufferTextureCopy{{
		BufferLayout: wgpu.ImageDataLayout{
			Offset:       layout.Offset,
			BytesPerRow:  layout.BytesPerRow,
			RowsPerImage: layout.RowsPerImage,
		},
		TextureBase: wgpu.ImageCopyTexture{Texture: t.tex, Aspect: gputypes.TextureAspectAll},
		Size:        wgpu.Extent3D{Width: width, Height: height, DepthOrArrayLayers: 1},
	}})
}

func (e *commandEncoder) Finish() (gpucore.CommandBufferID, error) {
	if err := errors.Join(e.errs...); err != nil {
		e.enc.DiscardEncoding()
		return 0, fmt.Errorf("wgpu: encoder %q: %w", e.label, err)
	}
	cb, err := e.enc.Finish()
	if err != nil {
		return 0, fmt.Errorf("wgpu: finish %q: %w", e.label, err)
	}

	d := e.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	id := gpucore.CommandBufferID(d.id())
	d.commands[id] = cb
	return id, nil
}

func (e *commandEncoder) Discard() {
	e.enc.DiscardEncoding()
}

type computePass struct {
	encoder *commandEncoder
	pass    *wgpu.ComputePassEncoder
	label   string
}

func (p *computePass) SetPipeline(id gpucore.ComputePipelineID) {
	d := p.encoder.dev
	d.mu.Lock()
	pipeline, ok := d.pipelines[id]
	d.mu.Unlock()
	if !ok {
		p.encoder.fail(fmt.Errorf("pass %q pipeline: %w", p.label, gpucore.ErrUnknownResource))
		return
	}
	p.pass.SetPipeline(pipeline)
}

func (p *computePass) SetBindGroup(index uint32, id gpucore.BindGroupID) {
	d := p.encoder.dev
	d.mu.Lock()
	group, ok := d.groups[id]
	d.mu.Unlock()
	if !ok {
		p.encoder.fail(fmt.Errorf("pass %q bind group %d: %w", p.label, index, gpucore.ErrUnknownResource))
		return
	}
	p.pass.SetBindGroup(index, group, nil)
}

func (p *computePass) Dispatch(x, y, z uint32) {
	p.pass.Dispatch(x, y, z)
}

func (p *computePass) End() error {
	if err := p.pass.End(); err != nil {
		return fmt.Errorf("wgpu: end pass %q: %w", p.label, err)
	}
	return nil
}
