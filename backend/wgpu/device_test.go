package wgpu

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/gpucompute/backend"
	"github.com/gogpu/gpucompute/gpucore"

	// Register the software HAL so a device can be opened without drivers.
	_ "github.com/gogpu/wgpu/hal/software"
)

const scaleWGSL = `
@group(0) @binding(0) var<uniform> k: vec4<f32>;
@group(0) @binding(1) var<storage, read_write> values: array<f32>;

@compute @workgroup_size(1)
fn main(@builtin(global_invocation_id) id: vec3<u32>) {
    values[id.x] = values[id.x] * k.x;
}
`

// openDevice skips the test when no adapter is available, e.g. in headless CI.
func openDevice(t *testing.T) *Device {
	t.Helper()
	dev, err := New()
	if err != nil {
		t.Skipf("wgpu device unavailable: %v", err)
	}
	t.Cleanup(dev.Close)
	return dev
}

type fakeProvider struct{ dev gpucontext.Device }

func (p fakeProvider) Device() gpucontext.Device             { return p.dev }
func (p fakeProvider) Queue() gpucontext.Queue               { return nil }
func (p fakeProvider) SurfaceFormat() gputypes.TextureFormat { return gputypes.TextureFormatUndefined }
func (p fakeProvider) Adapter() gpucontext.Adapter           { return nil }

func (p fakeProvider) AdapterInfo() gpucontext.AdapterInfo {
	return gpucontext.AdapterInfo{Name: "fake"}
}

func TestFromProviderRejectsForeignDevice(t *testing.T) {
	_, err := FromProvider(fakeProvider{dev: "not a device"})
	if !errors.Is(err, ErrNoWGPUDevice) {
		t.Errorf("FromProvider() error = %v, want ErrNoWGPUDevice", err)
	}
	_, err = FromProvider(fakeProvider{})
	if !errors.Is(err, ErrNoWGPUDevice) {
		t.Errorf("FromProvider(nil) error = %v, want ErrNoWGPUDevice", err)
	}
}

func TestRegistered(t *testing.T) {
	if !backend.IsRegistered(backend.BackendWGPU) {
		t.Fatalf("backend %q not registered", backend.BackendWGPU)
	}
}

func TestGPUInfoString(t *testing.T) {
	info := GPUInfo{Name: "Test GPU"}
	if got := info.String(); got == "" {
		t.Error("String() is empty")
	}
}

func TestUnknownIDs(t *testing.T) {
	dev := openDevice(t)

	assert.ErrorIs(t, dev.WriteBuffer(42, 0, make([]byte, 4)), gpucore.ErrUnknownResource)
	_, err := dev.MapRead(42, 0, 4)
	assert.ErrorIs(t, err, gpucore.ErrUnknownResource)
	assert.ErrorIs(t, dev.Submit(42), gpucore.ErrUnknownResource)

	enc, err := dev.CreateCommandEncoder("unknown")
	require.NoError(t, err)
	enc.CopyBufferToBuffer(1, 0, 2, 0, 4)
	_, err = enc.Finish()
	assert.ErrorIs(t, err, gpucore.ErrUnknownResource)
}

func TestDispatchReadback(t *testing.T) {
	dev := openDevice(t)

	module, err := dev.CreateShaderModule(&gpucore.ShaderModuleDesc{Label: "scale", WGSL: scaleWGSL})
	require.NoError(t, err)
	bgl, err := dev.CreateBindGroupLayout(&gpucore.BindGroupLayoutDesc{
		Label: "scale",
		Entries: []gputypes.BindGroupLayoutEntry{
			{Binding: 0, Visibility: gputypes.ShaderStageCompute,
				Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}},
			{Binding: 1, Visibility: gputypes.ShaderStageCompute,
				Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage}},
		},
	})
	require.NoError(t, err)
	pl, err := dev.CreatePipelineLayout("scale", []gpucore.BindGroupLayoutID{bgl})
	require.NoError(t, err)
	pipeline, err := dev.CreateComputePipeline(&gpucore.ComputePipelineDesc{
		Label: "scale", Layout: pl, Module: module, EntryPoint: "main",
	})
	if err != nil {
		t.Skipf("compute pipelines unsupported by this adapter: %v", err)
	}

	uniform, err := dev.CreateBuffer(&gpucore.BufferDesc{Label: "k", Size: 16,
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst})
	require.NoError(t, err)
	values, err := dev.CreateBuffer(&gpucore.BufferDesc{Label: "values", Size: 16,
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst})
	require.NoError(t, err)
	staging, err := dev.CreateBuffer(&gpucore.BufferDesc{Label: "staging", Size: 16,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst})
	require.NoError(t, err)

	k := make([]byte, 16)
	binary.LittleEndian.PutUint32(k, math.Float32bits(2))
	require.NoError(t, dev.WriteBuffer(uniform, 0, k))
	in := make([]byte, 16)
	for i, v := range []float32{1, 2, 3, 4} {
		binary.LittleEndian.PutUint32(in[i*4:], math.Float32bits(v))
	}
	require.NoError(t, dev.WriteBuffer(values, 0, in))

	group, err := dev.CreateBindGroup(&gpucore.BindGroupDesc{
		Label:  "scale",
		Layout: bgl,
		Entries: []gpucore.BindGroupEntry{
			{Binding: 0, Buffer: uniform, Size: 16},
			{Binding: 1, Buffer: values, Size: 16},
		},
	})
	require.NoError(t, err)

	enc, err := dev.CreateCommandEncoder("scale")
	require.NoError(t, err)
	pass, err := enc.BeginComputePass("scale")
	require.NoError(t, err)
	pass.SetPipeline(pipeline)
	pass.SetBindGroup(0, group)
	pass.Dispatch(4, 1, 1)
	require.NoError(t, pass.End())
	enc.CopyBufferToBuffer(values, 0, staging, 0, 16)
	cmd, err := enc.Finish()
	require.NoError(t, err)
	require.NoError(t, dev.Submit(cmd))

	pending, err := dev.MapRead(staging, 0, 16)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, dev.Wait(ctx))
	ready, err := pending.Status()
	require.NoError(t, err)
	require.True(t, ready)

	out, err := dev.MappedRange(staging, 0, 16)
	require.NoError(t, err)
	require.NoError(t, dev.Unmap(staging))
	assert.NoError(t, dev.Unmap(staging), "second Unmap")

	for i, want := range []float32{2, 4, 6, 8} {
		got := math.Float32frombits(binary.LittleEndian.Uint32(out[i*4:]))
		assert.Equal(t, want, got, "value %d", i)
	}
}
