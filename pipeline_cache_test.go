package gpucompute

import (
	"errors"
	"testing"
)

func newTestCache(t *testing.T) (*PipelineCache, *ShaderLibrary) {
	t.Helper()
	dev := newSoftDevice()
	lib := NewShaderLibrary()
	c := NewPipelineCache(dev, lib)
	t.Cleanup(func() {
		c.Close()
		dev.Close()
	})
	return c, lib
}

func ensure(t *testing.T, c *PipelineCache, label, shader string, entries ...string) []PipelineID {
	t.Helper()
	ids, err := c.Ensure(PipelineRegistration{
		Label:      label,
		Shader:     shader,
		Descriptor: scaleData{}.Bindings(),
		Entries:    entries,
	})
	if err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	return ids
}

func TestPipelineCache_Ready(t *testing.T) {
	c, lib := newTestCache(t)
	lib.Load("scale.wgsl", scaleWGSL)
	ids := ensure(t, c, "scale", "scale.wgsl", "main", "add_one")

	if got := c.Entry(ids[0]).State; got != PipelinePending {
		t.Fatalf("state before Poll = %v, want pending", got)
	}
	if _, ok := c.Get(ids[0]); ok {
		t.Error("Get() before Poll should fail")
	}
	if n := c.Poll(); n != 2 {
		t.Errorf("Poll() = %d, want 2", n)
	}
	for _, id := range ids {
		if _, ok := c.Get(id); !ok {
			t.Errorf("Get(%d) failed, entry = %+v", id, c.Entry(id))
		}
	}
	if n := c.Poll(); n != 0 {
		t.Errorf("second Poll() = %d, want 0", n)
	}

	again := ensure(t, c, "scale", "scale.wgsl", "add_one")
	if again[0] != ids[1] {
		t.Errorf("Ensure() of a known entry = %d, want %d", again[0], ids[1])
	}
}

func TestPipelineCache_LabelDescriptorConflict(t *testing.T) {
	c, lib := newTestCache(t)
	lib.Load("scale.wgsl", scaleWGSL)
	ensure(t, c, "scale", "scale.wgsl", "main")

	_, err := c.Ensure(PipelineRegistration{
		Label:      "scale",
		Shader:     "fill.wgsl",
		Descriptor: fillData{}.Bindings(),
		Entries:    []string{"fill"},
	})
	if !errors.Is(err, ErrInvalidDescriptor) {
		t.Errorf("Ensure() with another descriptor = %v, want ErrInvalidDescriptor", err)
	}
	if len(c.pipelines) != 1 {
		t.Errorf("rejected registration queued %d pipelines", len(c.pipelines)-1)
	}
}

func TestPipelineCache_Failures(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		entry   string
		wantErr error
	}{
		{"malformed shader", "fn main( {", "main", ErrShaderInvalid},
		{"unknown entry", scaleWGSL, "nope", ErrMissingPipeline},
		{"binding mismatch", `
@group(0) @binding(1) var<uniform> values: vec4<f32>;
@compute @workgroup_size(1)
fn main() { let v = values.x; }
`, "main", ErrInvalidDescriptor},
		{"second bind group", `
@group(1) @binding(0) var<storage, read_write> values: array<f32>;
@compute @workgroup_size(1)
fn main() { values[0] = 1.0; }
`, "main", ErrInvalidDescriptor},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, lib := newTestCache(t)
			lib.Load("s.wgsl", tt.src)
			ids := ensure(t, c, "s", "s.wgsl", tt.entry)
			c.Poll()

			entry := c.Entry(ids[0])
			if entry.State != PipelineFailed {
				t.Fatalf("state = %v, want failed", entry.State)
			}
			if !errors.Is(entry.Err, tt.wantErr) {
				t.Errorf("Err = %v, want %v", entry.Err, tt.wantErr)
			}
		})
	}
}

func TestPipelineCache_PendingUntilLoaded(t *testing.T) {
	c, lib := newTestCache(t)
	lib.Load("root.wgsl", `#import "bindings.wgsl"
@compute @workgroup_size(1)
fn main(@builtin(global_invocation_id) id: vec3<u32>) {
    values[id.x] = values[id.x] * k;
}
`)
	ids := ensure(t, c, "scale", "root.wgsl", "main")
	missing := ensure(t, c, "scale", "absent.wgsl", "main")

	for range 3 {
		if n := c.Poll(); n != 0 {
			t.Fatalf("Poll() = %d while an import is missing", n)
		}
	}
	if e := c.Entry(ids[0]); e.State != PipelinePending || !errors.Is(e.Err, ErrImportUnresolved) {
		t.Errorf("entry = %v / %v, want pending / ErrImportUnresolved", e.State, e.Err)
	}
	if e := c.Entry(missing[0]); e.State != PipelinePending || !errors.Is(e.Err, ErrShaderNotLoaded) {
		t.Errorf("entry = %v / %v, want pending / ErrShaderNotLoaded", e.State, e.Err)
	}

	lib.Load("bindings.wgsl", `
@group(0) @binding(0) var<uniform> k: f32;
@group(0) @binding(1) var<storage, read_write> values: array<f32>;
`)
	if n := c.Poll(); n != 1 {
		t.Fatalf("Poll() = %d after loading the import, want 1", n)
	}
	if e := c.Entry(ids[0]); e.State != PipelineReady {
		t.Errorf("state = %v (%v), want ready", e.State, e.Err)
	}
}

func TestPipelineCache_Reload(t *testing.T) {
	c, lib := newTestCache(t)
	lib.Load("s.wgsl", "fn main( {")
	ids := ensure(t, c, "scale", "s.wgsl", "main")
	c.Poll()
	if got := c.Entry(ids[0]).State; got != PipelineFailed {
		t.Fatalf("state = %v, want failed", got)
	}

	// A failed entry stays failed until its source changes.
	c.Poll()
	if got := c.Entry(ids[0]).State; got != PipelineFailed {
		t.Fatalf("state after second Poll = %v, want failed", got)
	}

	lib.Load("s.wgsl", scaleWGSL)
	affected := c.invalidate(lib.drainModified())
	if len(affected) != 1 || affected[0] != "s.wgsl" {
		t.Errorf("invalidate() = %v, want [s.wgsl]", affected)
	}
	if got := c.Entry(ids[0]).State; got != PipelinePending {
		t.Fatalf("state after change = %v, want pending", got)
	}
	c.Poll()
	first, ok := c.Get(ids[0])
	if !ok {
		t.Fatalf("Get() failed: %+v", c.Entry(ids[0]))
	}

	lib.Load("s.wgsl", scaleWGSL+"\n// v2\n")
	c.invalidate(lib.drainModified())
	if _, ok := c.Get(ids[0]); ok {
		t.Error("Get() should fail while the edited shader is pending")
	}
	c.Poll()
	second, ok := c.Get(ids[0])
	if !ok || second == first {
		t.Errorf("Get() = %d, %v; want a new pipeline", second, ok)
	}
}

func TestPipelineCache_SharedModule(t *testing.T) {
	dev := newSoftDevice()
	t.Cleanup(dev.Close)
	lib := NewShaderLibrary()
	c := NewPipelineCache(dev, lib)
	lib.Load("scale.wgsl", scaleWGSL)
	ensure(t, c, "scale", "scale.wgsl", "main", "add_one")
	c.Poll()

	s := dev.Stats()
	if s.Modules != 1 || s.Pipelines != 2 {
		t.Errorf("modules = %d, pipelines = %d; want 1, 2", s.Modules, s.Pipelines)
	}

	c.Close()
	s = dev.Stats()
	if s.Modules != 0 || s.Pipelines != 0 {
		t.Errorf("after Close: modules = %d, pipelines = %d; want 0, 0", s.Modules, s.Pipelines)
	}
}

func TestPipelineState_String(t *testing.T) {
	tests := []struct {
		s    PipelineState
		want string
	}{
		{PipelinePending, "pending"},
		{PipelineReady, "ready"},
		{PipelineFailed, "failed"},
		{PipelineState(7), "PipelineState(7)"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
