package gpucore

import (
	"context"
	"errors"
)

// Device errors.
var (
	// ErrUnknownResource is returned when an ID does not name a live resource.
	ErrUnknownResource = errors.New("gpucore: unknown resource id")

	// ErrDeviceClosed is returned when using a device after Close.
	ErrDeviceClosed = errors.New("gpucore: device is closed")
)

// Device abstracts over different GPU backend implementations.
//
// This interface is the boundary the compute engine is written against,
// so the same dispatch and readback logic runs on gogpu/wgpu and on the
// CPU software device. Implementations must be safe for concurrent use.
//
// Resource lifecycle:
//   - Resources are created via Create* methods
//   - Resources must be explicitly destroyed via Destroy* methods
//   - Destroying a resource while in use is undefined behavior
//   - IDs become invalid after destruction and must not be reused
type Device interface {
	// Limits returns the device limits.
	Limits() Limits

	// === Shader Compilation ===

	// CreateShaderModule creates a shader module.
	CreateShaderModule(desc *ShaderModuleDesc) (ShaderModuleID, error)

	// DestroyShaderModule releases a shader module.
	DestroyShaderModule(id ShaderModuleID)

	// === Buffer Management ===

	// CreateBuffer creates a GPU buffer.
	CreateBuffer(desc *BufferDesc) (BufferID, error)

	// DestroyBuffer releases a GPU buffer.
	// A mapped buffer must be unmapped first.
	DestroyBuffer(id BufferID)

	// WriteBuffer writes data to a buffer at offset through the queue.
	WriteBuffer(id BufferID, offset uint64, data []byte) error

	// === Texture Management ===

	// CreateTexture creates a 2D GPU texture.
	CreateTexture(desc *TextureDesc) (TextureID, error)

	// DestroyTexture releases a GPU texture.
	DestroyTexture(id TextureID)

	// WriteTexture uploads tightly or loosely packed rows into a texture.
	// bytesPerRow is the stride of data.
	WriteTexture(id TextureID, data []byte, bytesPerRow uint32) error

	// === Pipeline Management ===

	// CreateBindGroupLayout creates a bind group layout.
	CreateBindGroupLayout(desc *BindGroupLayoutDesc) (BindGroupLayoutID, error)

	// DestroyBindGroupLayout releases a bind group layout.
	DestroyBindGroupLayout(id BindGroupLayoutID)

	// CreatePipelineLayout combines bind group layouts into a pipeline layout.
	CreatePipelineLayout(label string, layouts []BindGroupLayoutID) (PipelineLayoutID, error)

	// DestroyPipelineLayout releases a pipeline layout.
	DestroyPipelineLayout(id PipelineLayoutID)

	// CreateComputePipeline creates a compute pipeline.
	CreateComputePipeline(desc *ComputePipelineDesc) (ComputePipelineID, error)

	// DestroyComputePipeline releases a compute pipeline.
	DestroyComputePipeline(id ComputePipelineID)

	// CreateBindGroup binds actual resources to a bind group layout.
	CreateBindGroup(desc *BindGroupDesc) (BindGroupID, error)

	// DestroyBindGroup releases a bind group.
	DestroyBindGroup(id BindGroupID)

	// === Command Recording and Execution ===

	// CreateCommandEncoder begins recording a command sequence.
	CreateCommandEncoder(label string) (CommandEncoder, error)

	// Submit submits a finished command buffer to the queue.
	// The command buffer is consumed.
	Submit(cmd CommandBufferID) error

	// === Readback ===

	// MapRead requests an asynchronous read mapping of a MapRead buffer.
	// The mapping resolves during Wait.
	MapRead(id BufferID, offset, size uint64) (MapPending, error)

	// Wait blocks until all submitted work is complete and every pending
	// mapping has resolved, or ctx is done.
	Wait(ctx context.Context) error

	// MappedRange returns a copy of the mapped bytes [offset, offset+size).
	MappedRange(id BufferID, offset, size uint64) ([]byte, error)

	// Unmap releases the mapping of a buffer.
	Unmap(id BufferID) error

	// Close releases the device and every resource it still owns.
	Close()
}

// CommandEncoder records a command sequence.
//
// The encoder is single-use: after Finish or Discard it cannot record.
type CommandEncoder interface {
	// BeginComputePass begins a compute pass.
	// The pass must be ended before recording further commands.
	BeginComputePass(label string) (ComputePassEncoder, error)

	// CopyBufferToBuffer copies size bytes between buffers.
	CopyBufferToBuffer(src BufferID, srcOffset uint64, dst BufferID, dstOffset, size uint64)

	// CopyTextureToBuffer copies a width x height region of src into dst.
	CopyTextureToBuffer(src TextureID, dst BufferID, layout ImageCopyLayout, width, height uint32)

	// Finish ends recording and returns the command buffer.
	// Recording errors are reported here.
	Finish() (CommandBufferID, error)

	// Discard abandons recording.
	Discard()
}

// ComputePassEncoder records compute commands.
//
// Usage:
//  1. Obtain encoder from CommandEncoder.BeginComputePass()
//  2. Set pipeline and bind groups
//  3. Dispatch compute workgroups
//  4. Call End() to finish recording
//
// The encoder is single-use and cannot be reused after End().
type ComputePassEncoder interface {
	// SetPipeline sets the active compute pipeline.
	SetPipeline(pipeline ComputePipelineID)

	// SetBindGroup sets a bind group at the specified index.
	SetBindGroup(index uint32, group BindGroupID)

	// Dispatch dispatches compute workgroups.
	// x, y, z are the number of workgroups in each dimension.
	Dispatch(x, y, z uint32)

	// End finishes the compute pass.
	End() error
}

// MapPending is the handle returned by Device.MapRead.
type MapPending interface {
	// Status reports the mapping state without blocking.
	//   - (true, nil):  mapping is ready
	//   - (false, nil): still pending
	//   - (true, err):  mapping failed
	Status() (ready bool, err error)

	// Release drops the handle. The mapping itself is released by Unmap.
	Release()
}
