// Package soft implements gpucore.Device on the CPU.
//
// Compute shaders are not interpreted. Instead, a Go [Kernel] is registered
// per entry point name and runs once per invocation of a dispatch, with the
// bind group resources exposed through [Invocation]. Everything else
// (usage flags, copy alignment, map state) is validated the way WebGPU
// does, so code that works here respects the same rules on a GPU.
//
// Submitted work runs synchronously. Read mappings resolve on Wait.
//
//	dev := soft.New()
//	dev.RegisterKernel("main", [3]uint32{1, 1, 1}, func(inv *soft.Invocation) {
//		k := soft.Float32(inv.Buffer(0), 0)
//		values := inv.Buffer(1)
//		i := int(inv.GlobalID[0])
//		soft.PutFloat32(values, i, soft.Float32(values, i)*k)
//	})
package soft
