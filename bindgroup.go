package gpucompute

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpucompute/gpucore"
)

// Uniform buffers are sized to the std140 vec4 granularity.
const uniformAlignment = 16

// preparedBuffer is a buffer the engine allocated for one slot.
type preparedBuffer struct {
	buffer gpucore.BufferID
	size   uint64 // encoded value length
}

// preparedTexture is a registered image texture bound to one slot.
type preparedTexture struct {
	image   ImageID
	texture gpucore.TextureID
}

// preparedBinding is the bind group of one dispatch and the resources
// behind each slot. Buffers are owned, textures are borrowed from Images.
type preparedBinding struct {
	group    gpucore.BindGroupID
	buffers  map[uint32]preparedBuffer
	textures map[uint32]preparedTexture
}

// bindingSource is the part of a data value the preparer reads.
type bindingSource interface {
	Encode(slot uint32) ([]byte, error)
	Image(slot uint32) (ImageID, bool)
}

// prepareBindGroup uploads the current value of every slot into fresh
// buffers and binds them together with the registered image textures.
// Every failure wraps ErrBindGroupPrepare and leaves nothing allocated.
func prepareBindGroup(dev gpucore.Device, layout gpucore.BindGroupLayoutID, desc Descriptor, data bindingSource, images *Images, label string) (*preparedBinding, error) {
	p := &preparedBinding{
		buffers:  make(map[uint32]preparedBuffer),
		textures: make(map[uint32]preparedTexture),
	}
	entries := make([]gpucore.BindGroupEntry, 0, len(desc))

	for _, b := range desc {
		switch b.Kind {
		case BindingUniform, BindingStorage:
			buf, err := p.uploadSlot(dev, b, data, label)
			if err != nil {
				p.release(dev)
				return nil, fmt.Errorf("%w: slot %d: %w", ErrBindGroupPrepare, b.Slot, err)
			}
			entries = append(entries, gpucore.BindGroupEntry{Binding: b.Slot, Buffer: buf.buffer})

		case BindingStorageTexture:
			id, ok := data.Image(b.Slot)
			if !ok {
				p.release(dev)
				return nil, fmt.Errorf("%w: slot %d: no image", ErrBindGroupPrepare, b.Slot)
			}
			tex, err := images.Texture(id)
			if err != nil {
				p.release(dev)
				return nil, fmt.Errorf("%w: slot %d: %w", ErrBindGroupPrepare, b.Slot, err)
			}
			p.textures[b.Slot] = preparedTexture{image: id, texture: tex}
			entries = append(entries, gpucore.BindGroupEntry{Binding: b.Slot, Texture: tex})
		}
	}

	group, err := dev.CreateBindGroup(&gpucore.BindGroupDesc{
		Label:   label + " bind group",
		Layout:  layout,
		Entries: entries,
	})
	if err != nil {
		p.release(dev)
		return nil, fmt.Errorf("%w: %w", ErrBindGroupPrepare, err)
	}
	p.group = group
	return p, nil
}

func (p *preparedBinding) uploadSlot(dev gpucore.Device, b Binding, data bindingSource, label string) (preparedBuffer, error) {
	value, err := data.Encode(b.Slot)
	if err != nil {
		return preparedBuffer{}, fmt.Errorf("encode: %w", err)
	}

	var size uint64
	var usage gputypes.BufferUsage
	if b.Kind == BindingUniform {
		size = max(gpucore.AlignUp(uint64(len(value)), uniformAlignment), uniformAlignment)
		usage = gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst
	} else {
		size = copySize(uint64(len(value)))
		usage = gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst
	}

	buf, err := dev.CreateBuffer(&gpucore.BufferDesc{
		Label: fmt.Sprintf("%s %v slot %d", label, b.Kind, b.Slot),
		Size:  size,
		Usage: usage,
	})
	if err != nil {
		return preparedBuffer{}, err
	}
	prepared := preparedBuffer{buffer: buf, size: uint64(len(value))}
	p.buffers[b.Slot] = prepared

	padded := make([]byte, size)
	copy(padded, value)
	if err := dev.WriteBuffer(buf, 0, padded); err != nil {
		return preparedBuffer{}, fmt.Errorf("upload: %w", err)
	}
	return prepared, nil
}

// release destroys the bind group and the owned buffers.
func (p *preparedBinding) release(dev gpucore.Device) {
	if p.group != 0 {
		dev.DestroyBindGroup(p.group)
		p.group = 0
	}
	for slot, b := range p.buffers {
		dev.DestroyBuffer(b.buffer)
		delete(p.buffers, slot)
	}
	clear(p.textures)
}
