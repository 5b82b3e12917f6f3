package wgpu

import (
	"github.com/gogpu/gpucompute/backend"
	"github.com/gogpu/gpucompute/gpucore"
)

// init registers the wgpu backend. Importing this package does not load
// any HAL backend; import github.com/gogpu/wgpu/hal/allbackends as well.
func init() {
	backend.Register(backend.BackendWGPU, func() (gpucore.Device, error) {
		return New()
	})
}
