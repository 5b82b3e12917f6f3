// Package wgpu implements gpucore.Device on gogpu/wgpu, the Pure Go WebGPU
// implementation supporting Vulkan, Metal, DX12 and GLES.
//
// The wgpu backend is registered under the name "wgpu" when this package is
// imported, and is preferred over the CPU device. HAL backends are loaded by
// importing them separately:
//
//	import (
//		_ "github.com/gogpu/gpucompute/backend/wgpu"
//		_ "github.com/gogpu/wgpu/hal/allbackends"
//	)
//
// # Standalone and Embedded Devices
//
// New creates its own instance, adapter and device. FromProvider borrows the
// device of a host application that implements gpucontext.DeviceProvider,
// such as a gogpu window, so compute work shares its queue:
//
//	dev, err := wgpu.FromProvider(app)
//	if err != nil {
//		log.Fatal(err)
//	}
//	ctx, err := gpucompute.NewContext(dev)
//
// # Readback
//
// MapRead wraps Buffer.MapAsync. Wait runs Device.Poll(PollWait) once,
// resolving every pending mapping together.
package wgpu
