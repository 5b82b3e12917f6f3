package soft

import (
	"github.com/gogpu/gpucompute/backend"
	"github.com/gogpu/gpucompute/gpucore"
)

func init() {
	backend.Register(backend.BackendSoft, func() (gpucore.Device, error) {
		return New(), nil
	})
}
