package gpucore

import "github.com/gogpu/gputypes"

// Opaque resource handles. A device maps each ID to its backend object;
// the zero value never names a live resource.
type (
	BufferID          uint64
	TextureID         uint64
	ShaderModuleID    uint64
	ComputePipelineID uint64
	BindGroupLayoutID uint64
	BindGroupID       uint64
	PipelineLayoutID  uint64

	// CommandBufferID is consumed by Device.Submit.
	CommandBufferID uint64
)

// InvalidID is the zero handle.
const InvalidID = 0

// Limits describes the device limits the engine validates against.
type Limits struct {
	MaxBufferSize               uint64
	MaxStorageBufferBindingSize uint64

	// MaxComputeWorkgroupsPerDimension bounds every component of a
	// dispatch. Zero means unbounded.
	MaxComputeWorkgroupsPerDimension uint32

	// CopyBytesPerRowAlignment is the alignment BytesPerRow must honor in
	// multi-row texture to buffer copies. Zero means no constraint.
	CopyBytesPerRowAlignment uint32
}

// DefaultLimits returns the WebGPU baseline limits.
func DefaultLimits() Limits {
	return Limits{
		MaxBufferSize:                    256 << 20,
		MaxStorageBufferBindingSize:      128 << 20,
		MaxComputeWorkgroupsPerDimension: 65535,
		CopyBytesPerRowAlignment:         CopyBytesPerRowAlignment,
	}
}

// ShaderModuleDesc describes a shader module.
// Backends use SPIRV when present and fall back to WGSL.
type ShaderModuleDesc struct {
	// Label is an optional debug label.
	Label string

	// WGSL is the preprocessed WGSL source.
	WGSL string

	// SPIRV is the SPIR-V bytecode compiled from WGSL.
	SPIRV []uint32
}

// BufferDesc describes a GPU buffer.
type BufferDesc struct {
	Label string
	Size  uint64
	Usage gputypes.BufferUsage
}

// TextureDesc describes a 2D GPU texture with a single mip level.
type TextureDesc struct {
	Label         string
	Width, Height uint32
	Format        gputypes.TextureFormat
	Usage         gputypes.TextureUsage
}

// BindGroupLayoutDesc describes a bind group layout.
type BindGroupLayoutDesc struct {
	Label   string
	Entries []gputypes.BindGroupLayoutEntry
}

// ComputePipelineDesc describes a compute pipeline built from one entry
// point of Module.
type ComputePipelineDesc struct {
	Label      string
	Layout     PipelineLayoutID
	Module     ShaderModuleID
	EntryPoint string
}

// BindGroupEntry describes a single binding in a bind group.
// Exactly one of Buffer or Texture is set.
type BindGroupEntry struct {
	// Binding is the binding index.
	Binding uint32

	// Buffer is the buffer to bind (for buffer bindings).
	Buffer BufferID

	// Offset is the offset into the buffer.
	Offset uint64

	// Size is the size of the buffer range to bind.
	// Use 0 to bind the entire buffer from offset.
	Size uint64

	// Texture is the texture to bind (for storage texture bindings).
	Texture TextureID
}

// BindGroupDesc describes a bind group.
type BindGroupDesc struct {
	Label   string
	Layout  BindGroupLayoutID
	Entries []BindGroupEntry
}

// ImageCopyLayout describes how texel rows are laid out in a buffer
// during a texture to buffer copy.
type ImageCopyLayout struct {
	// Offset is the byte offset of the first row.
	Offset uint64

	// BytesPerRow is the stride between rows. Must be a multiple of the
	// device copy alignment when more than one row is copied.
	BytesPerRow uint32

	// RowsPerImage is the number of rows per image.
	RowsPerImage uint32
}

// CopyBytesPerRowAlignment is the WebGPU alignment for BytesPerRow in
// buffer/texture copies.
const CopyBytesPerRowAlignment = 256

// CopyBufferAlignment is the WebGPU granularity of buffer copy sizes and offsets.
const CopyBufferAlignment = 4
