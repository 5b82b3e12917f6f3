package gpucompute

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/gpucompute/backend/soft"
)

const scaleWGSL = `
@group(0) @binding(0) var<uniform> k: f32;
@group(0) @binding(1) var<storage, read_write> values: array<f32>;

@compute @workgroup_size(1)
fn main(@builtin(global_invocation_id) id: vec3<u32>) {
    values[id.x] = values[id.x] * k;
}

@compute @workgroup_size(1)
fn add_one(@builtin(global_invocation_id) id: vec3<u32>) {
    values[id.x] = values[id.x] + 1.0;
}
`

const fillWGSL = `
@group(0) @binding(0) var output: texture_storage_2d<rgba8unorm, write>;

@compute @workgroup_size(8, 8)
fn fill(@builtin(global_invocation_id) id: vec3<u32>) {
    textureStore(output, vec2<i32>(vec2<u32>(id.x, id.y)), vec4<f32>(1.0, 0.0, 0.0, 1.0));
}
`

var red = []byte{255, 0, 0, 255}

// scaleData multiplies Values by K ("main") or adds one to them ("add_one").
type scaleData struct {
	K      float32
	Values []float32
}

func (scaleData) ShaderPath() string    { return "scale.wgsl" }
func (scaleData) EntryPoints() []string { return []string{"main", "add_one"} }
func (scaleData) Label() string         { return "scale" }

func (scaleData) Bindings() Descriptor {
	return Descriptor{
		{Slot: 0, Kind: BindingUniform},
		{Slot: 1, Kind: BindingStorage, Stage: true},
	}
}

func (d scaleData) Encode(slot uint32) ([]byte, error) {
	switch slot {
	case 0:
		return float32Bytes([]float32{d.K}), nil
	case 1:
		return float32Bytes(d.Values), nil
	}
	return nil, fmt.Errorf("scaleData: no slot %d", slot)
}

func (scaleData) Image(uint32) (ImageID, bool) { return 0, false }

func (d scaleData) Decode(buffers map[uint32][]byte) (scaleData, error) {
	b, ok := buffers[1]
	if !ok || len(b)%4 != 0 {
		return scaleData{}, fmt.Errorf("scaleData: bad slot 1 (%d bytes)", len(b))
	}
	out := scaleData{K: d.K, Values: make([]float32, len(b)/4)}
	for i := range out.Values {
		out.Values[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, nil
}

// fillData paints Target red. A zero Target has no image bound.
type fillData struct {
	Target ImageID
}

func (fillData) ShaderPath() string    { return "fill.wgsl" }
func (fillData) EntryPoints() []string { return []string{"fill"} }

func (fillData) Bindings() Descriptor {
	return Descriptor{{
		Slot:   0,
		Kind:   BindingStorageTexture,
		Stage:  true,
		Format: gputypes.TextureFormatRGBA8Unorm,
	}}
}

func (fillData) Encode(slot uint32) ([]byte, error) {
	return nil, fmt.Errorf("fillData: slot %d is not a buffer", slot)
}

func (d fillData) Image(uint32) (ImageID, bool) { return d.Target, d.Target != 0 }

func (d fillData) Decode(map[uint32][]byte) (fillData, error) { return d, nil }

func float32Bytes(values []float32) []byte {
	b := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
	}
	return b
}

// newSoftDevice returns a software device with the kernels of scale.wgsl
// and fill.wgsl.
func newSoftDevice() *soft.Device {
	dev := soft.New()
	dev.RegisterKernel("main", [3]uint32{1, 1, 1}, func(inv *soft.Invocation) {
		k := soft.Float32(inv.Buffer(0), 0)
		values := inv.Buffer(1)
		i := int(inv.GlobalID[0])
		if (i+1)*4 <= len(values) {
			soft.PutFloat32(values, i, soft.Float32(values, i)*k)
		}
	})
	dev.RegisterKernel("add_one", [3]uint32{1, 1, 1}, func(inv *soft.Invocation) {
		values := inv.Buffer(1)
		i := int(inv.GlobalID[0])
		if (i+1)*4 <= len(values) {
			soft.PutFloat32(values, i, soft.Float32(values, i)+1)
		}
	})
	dev.RegisterKernel("fill", [3]uint32{8, 8, 1}, func(inv *soft.Invocation) {
		inv.Texture(0).Store(inv.GlobalID[0], inv.GlobalID[1], red)
	})
	return dev
}

// newTestContext returns a context on a software device with both test
// shaders loaded.
func newTestContext(t *testing.T, opts ...Option) (*soft.Device, *Context) {
	t.Helper()
	dev := newSoftDevice()
	c, err := NewContext(dev, opts...)
	require.NoError(t, err)

	e := c.Engine()
	e.Shaders().Load("scale.wgsl", scaleWGSL)
	e.Shaders().Load("fill.wgsl", fillWGSL)

	t.Cleanup(func() {
		c.Close()
		dev.Close()
	})
	return dev, c
}

// tick runs n engine ticks and fails the test on error.
func tick(t *testing.T, e *Engine, n int) {
	t.Helper()
	for range n {
		require.NoError(t, e.Tick(context.Background()))
	}
}
