package main

import (
	"github.com/gogpu/gpucompute/backend/soft"
)

// registerKernels installs CPU versions of the embedded shaders.
func registerKernels(dev *soft.Device) {
	dev.RegisterKernel("scale", [3]uint32{64, 1, 1}, func(inv *soft.Invocation) {
		k := soft.Float32(inv.Buffer(0), 0)
		data := inv.Buffer(1)
		i := int(inv.GlobalID[0])
		if (i+1)*4 > len(data) {
			return
		}
		soft.PutFloat32(data, i, soft.Float32(data, i)*k)
	})

	dev.RegisterKernel("gradient", [3]uint32{8, 8, 1}, func(inv *soft.Invocation) {
		size := inv.Buffer(0)
		w, h := soft.Float32(size, 0), soft.Float32(size, 1)
		x, y := inv.GlobalID[0], inv.GlobalID[1]
		inv.Texture(1).Store(x, y, []byte{
			unorm(float32(x) / w),
			unorm(float32(y) / h),
			unorm(0.5),
			255,
		})
	})
}

// unorm converts v in [0, 1] to an 8-bit normalized value.
func unorm(v float32) byte {
	return byte(min(max(v, 0), 1)*255 + 0.5)
}
