package main

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpucompute"
)

// values is a float32 array scaled in place by the scale entry point.
type values struct {
	K    float32
	Data []float32
}

func (values) ShaderPath() string    { return "scale.wgsl" }
func (values) EntryPoints() []string { return []string{"scale"} }
func (values) Label() string         { return "values" }

func (values) Bindings() gpucompute.Descriptor {
	return gpucompute.Descriptor{
		{Slot: 0, Kind: gpucompute.BindingUniform},
		{Slot: 1, Kind: gpucompute.BindingStorage, Stage: true},
	}
}

func (v values) Encode(slot uint32) ([]byte, error) {
	switch slot {
	case 0:
		return putFloats([]float32{v.K}), nil
	case 1:
		return putFloats(v.Data), nil
	}
	return nil, fmt.Errorf("values: no slot %d", slot)
}

func (values) Image(uint32) (gpucompute.ImageID, bool) { return 0, false }

func (v values) Decode(buffers map[uint32][]byte) (values, error) {
	b := buffers[1]
	if len(b) != len(v.Data)*4 {
		return values{}, fmt.Errorf("values: read back %d bytes, want %d", len(b), len(v.Data)*4)
	}
	out := values{K: v.K, Data: make([]float32, len(v.Data))}
	for i := range out.Data {
		out.Data[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, nil
}

// workgroups returns the dispatch size covering the data.
func (v values) workgroups() gpucompute.Workgroup {
	return gpucompute.Workgroup{uint32(max((len(v.Data)+63)/64, 1)), 1, 1}
}

// canvas is an image painted by the gradient entry point.
type canvas struct {
	Target        gpucompute.ImageID
	Width, Height uint32
}

func (canvas) ShaderPath() string    { return "gradient.wgsl" }
func (canvas) EntryPoints() []string { return []string{"gradient"} }
func (canvas) Label() string         { return "canvas" }

func (canvas) Bindings() gpucompute.Descriptor {
	return gpucompute.Descriptor{
		{Slot: 0, Kind: gpucompute.BindingUniform},
		{Slot: 1, Kind: gpucompute.BindingStorageTexture, Stage: true, Format: gputypes.TextureFormatRGBA8Unorm},
	}
}

func (c canvas) Encode(slot uint32) ([]byte, error) {
	if slot != 0 {
		return nil, fmt.Errorf("canvas: slot %d is not a buffer", slot)
	}
	return putFloats([]float32{float32(c.Width), float32(c.Height), 0, 0}), nil
}

func (c canvas) Image(slot uint32) (gpucompute.ImageID, bool) {
	return c.Target, slot == 1 && c.Target != 0
}

func (c canvas) Decode(map[uint32][]byte) (canvas, error) { return c, nil }

func (c canvas) workgroups() gpucompute.Workgroup {
	return gpucompute.Workgroup{(c.Width + 7) / 8, (c.Height + 7) / 8, 1}
}

func putFloats(fs []float32) []byte {
	b := make([]byte, len(fs)*4)
	for i, f := range fs {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(f))
	}
	return b
}
