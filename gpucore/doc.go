// Package gpucore provides the GPU device abstraction used by gpucompute.
//
// This package defines the [Device] interface, which abstracts over different
// GPU backend implementations, allowing the same dispatch and readback logic
// to work with:
//   - gogpu/wgpu (Pure Go WebGPU), see backend/wgpu
//   - the CPU software device, see backend/soft
//
// # Architecture
//
// Resources are referenced by opaque IDs. Each device keeps a table from IDs
// to backend objects, so the engine never holds backend types directly.
//
//	               +-----------------+
//	               |   gpucompute    |
//	               | (Engine/Worker) |
//	               +--------+--------+
//	                        |
//	               +--------v--------+
//	               | gpucore.Device  |
//	               +--------+--------+
//	                        |
//	         +--------------+--------------+
//	         |                             |
//	+--------v--------+          +--------v--------+
//	|  backend/wgpu   |          |  backend/soft   |
//	|  (gogpu/wgpu)   |          |  (Go kernels)   |
//	+-----------------+          +-----------------+
//
// # Readback
//
// Readback is a two-phase operation. [Device.MapRead] requests a mapping and
// returns a [MapPending] handle; [Device.Wait] is the single blocking join
// point after which every handle reports its result through Status.
//
// Types shared with WebGPU (usage flags, texture formats, bind group layout
// entries) come from github.com/gogpu/gputypes.
package gpucore
