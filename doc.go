// Package gpucompute dispatches GPU compute shaders for plain Go values and
// reads the results back.
//
// # Overview
//
// A data type describes its workload declaratively by implementing [Data]:
// a shader path, the compute entry points, a binding [Descriptor] and the
// byte encoding of its slots. The engine compiles one pipeline per entry
// point, uploads the current value into fresh GPU buffers, dispatches the
// requested passes, copies staged slots and images into CPU-readable
// buffers, and merges the results back into the authoritative [State]
// without re-triggering the dispatch.
//
// # Quick Start
//
//	dev := soft.New() // or wgpu.New()
//	ctx, err := gpucompute.NewContext(dev)
//	if err != nil {
//		log.Fatal(err)
//	}
//	engine := ctx.Engine()
//	engine.Shaders().Load("scale.wgsl", scaleWGSL)
//
//	state := gpucompute.NewState(Scale{K: 2, Values: []float32{1, 2, 3, 4}})
//	w, err := gpucompute.NewWorker(ctx, state)
//	if err != nil {
//		log.Fatal(err)
//	}
//	w.Trigger(gpucompute.NewJob("main", gpucompute.Workgroup{4, 1, 1}))
//
//	for w.Completions().Len() == 0 {
//		if err := engine.Tick(context.Background()); err != nil {
//			log.Print(err)
//		}
//	}
//	fmt.Println(state.Get().Values) // [2 4 6 8]
//
// # Scheduling
//
// [Engine.Tick] is one scheduling cycle. Shader changes are propagated,
// images synced, pipelines compiled, pending results applied (driving
// context) and queued jobs dispatched (device context). Results travel
// through a bounded [Channel] of capacity 2 between the two contexts.
//
// # Readback
//
// Readback is two-phase: a read mapping is requested for every staging
// buffer, then a single Device.Wait joins the device. Image rows are padded
// to [DefaultRowAlignment] in staging buffers and de-padded on the CPU.
//
// # Errors
//
// Preparation failures (an image not registered yet, a shader still
// loading) are recoverable: the job is requeued up to the retry limit.
// Everything else abandons the job without touching the State. See
// [IsRecoverable].
package gpucompute
