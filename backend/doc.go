// Package backend selects the gpucore.Device a compute engine runs on.
//
// Backends register an Opener from an init function and are chosen at
// runtime by name, or by priority with an empty name:
//
//	import (
//		"github.com/gogpu/gpucompute/backend"
//		_ "github.com/gogpu/gpucompute/backend/soft"
//		_ "github.com/gogpu/gpucompute/backend/wgpu"
//	)
//
//	dev, err := backend.Open("") // best available
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer dev.Close()
//
// # Available Backends
//
//   - "wgpu": gogpu/wgpu, Pure Go WebGPU (preferred)
//   - "soft": CPU device running Go kernels (always available, used in tests)
package backend
