package gpucompute

import (
	"context"
	"errors"
	"fmt"

	"github.com/gogpu/gpucompute/gpucore"
	"github.com/gogpu/gpucompute/internal/parallel"
)

// readback is the CPU copy of one dispatch's staged data.
type readback struct {
	// buffers maps a staged slot to its bytes, exactly the value length.
	buffers map[uint32][]byte

	// images holds de-padded pixels in staging order.
	images []ImageBytes
}

// mapRequest is a mapping requested for one staging buffer.
type mapRequest struct {
	buffer  gpucore.BufferID
	size    uint64
	pending gpucore.MapPending
}

// submitAndRead submits cmd, maps every staging buffer for reading and
// copies the results out. Device.Wait is the only blocking point. Every
// requested mapping is unmapped before returning, on success and failure,
// so the caller can destroy the staging buffers.
func submitAndRead(ctx context.Context, dev gpucore.Device, cmd gpucore.CommandBufferID, staging *stagingSet, pool *parallel.WorkerPool) (*readback, error) {
	if err := dev.Submit(cmd); err != nil {
		return nil, fmt.Errorf("gpucompute: submit: %w", err)
	}

	requests, err := requestMapping(dev, staging)
	defer unmapAll(dev, requests)
	if err != nil {
		// Still join the device so submitted work finishes before the
		// staging buffers are released.
		_ = dev.Wait(ctx)
		return nil, err
	}

	if err := waitAll(ctx, dev, requests); err != nil {
		return nil, err
	}
	return copyOut(dev, staging, pool)
}

// requestMapping is phase one: request a read mapping of every staging
// buffer. The mappings resolve during waitAll.
func requestMapping(dev gpucore.Device, staging *stagingSet) ([]mapRequest, error) {
	requests := make([]mapRequest, 0, staging.len())
	request := func(buf gpucore.BufferID, size uint64) error {
		pending, err := dev.MapRead(buf, 0, size)
		if err != nil {
			return fmt.Errorf("%w: buffer %d: %w", ErrMappingFailed, buf, err)
		}
		requests = append(requests, mapRequest{buffer: buf, size: size, pending: pending})
		return nil
	}

	for _, b := range staging.buffers {
		if err := request(b.buffer, copySize(b.size)); err != nil {
			return requests, err
		}
	}
	for _, img := range staging.images {
		if err := request(img.buffer, img.dims.Size()); err != nil {
			return requests, err
		}
	}
	return requests, nil
}

// waitAll is phase two: one blocking wait for the device, then the result
// of every mapping. Any failed mapping is ErrMappingFailed.
func waitAll(ctx context.Context, dev gpucore.Device, requests []mapRequest) error {
	if err := dev.Wait(ctx); err != nil {
		return fmt.Errorf("gpucompute: wait: %w", err)
	}
	var errs []error
	for _, r := range requests {
		ready, err := r.pending.Status()
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("%w: buffer %d: %w", ErrMappingFailed, r.buffer, err))
		case !ready:
			errs = append(errs, fmt.Errorf("%w: buffer %d still pending after wait", ErrMappingFailed, r.buffer))
		}
	}
	return errors.Join(errs...)
}

// copyOut reads the mapped bytes. Images are de-padded on the pool when
// more than one is staged.
func copyOut(dev gpucore.Device, staging *stagingSet, pool *parallel.WorkerPool) (*readback, error) {
	rb := &readback{buffers: make(map[uint32][]byte, len(staging.buffers))}
	for _, b := range staging.buffers {
		data, err := dev.MappedRange(b.buffer, 0, copySize(b.size))
		if err != nil {
			return nil, fmt.Errorf("%w: read slot %d: %w", ErrMappingFailed, b.slot, err)
		}
		rb.buffers[b.slot] = data[:b.size]
	}

	padded := make([][]byte, len(staging.images))
	for i, img := range staging.images {
		data, err := dev.MappedRange(img.buffer, 0, img.dims.Size())
		if err != nil {
			return nil, fmt.Errorf("%w: read image %d: %w", ErrMappingFailed, img.image, err)
		}
		padded[i] = data
	}

	rb.images = make([]ImageBytes, len(staging.images))
	unpad := func(i int) error {
		img := staging.images[i]
		if uint64(len(padded[i])) < img.dims.Size() {
			return fmt.Errorf("%w: image %d: mapped %d bytes, want %d",
				ErrMappingFailed, img.image, len(padded[i]), img.dims.Size())
		}
		rb.images[i] = ImageBytes{ID: img.image, Bytes: img.dims.Unpad(padded[i])}
		return nil
	}
	var err error
	if len(staging.images) > 1 && pool != nil {
		err = pool.Run(len(staging.images), unpad)
	} else {
		for i := range staging.images {
			err = errors.Join(err, unpad(i))
		}
	}
	if err != nil {
		return nil, err
	}
	return rb, nil
}

// unmapAll releases every requested mapping. Unmapping a buffer whose
// mapping failed is harmless; its error is only logged.
func unmapAll(dev gpucore.Device, requests []mapRequest) {
	for _, r := range requests {
		r.pending.Release()
		if err := dev.Unmap(r.buffer); err != nil {
			Logger().Debug("gpucompute: unmap", "buffer", r.buffer, "err", err)
		}
	}
}
