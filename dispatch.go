package gpucompute

import (
	"errors"
	"fmt"

	"github.com/gogpu/gpucompute/gpucore"
)

// pipelineLookup returns the ready pipeline of an entry point.
type pipelineLookup func(entry string) (gpucore.ComputePipelineID, error)

// encodeDispatch records one command sequence: per pass, in order, a
// pipeline bind and one dispatch per workgroup entry; then, unless
// skipReadback, the copies of every staged slot and image.
//
// A pass whose pipeline cannot be found is skipped and reported in
// passErrs. If no pass could be encoded, the sequence is discarded and err
// is set.
func encodeDispatch(
	dev gpucore.Device,
	label string,
	passes []Pass,
	lookup pipelineLookup,
	prepared *preparedBinding,
	staging *stagingSet,
	skipReadback bool,
) (cmd gpucore.CommandBufferID, passErrs []error, err error) {
	encoder, err := dev.CreateCommandEncoder(label + " dispatch")
	if err != nil {
		return 0, nil, fmt.Errorf("gpucompute: create command encoder: %w", err)
	}

	encoded := 0
	for _, pass := range passes {
		pipeline, err := lookup(pass.Entry)
		if err != nil {
			passErrs = append(passErrs, fmt.Errorf("pass %q: %w", pass.Entry, err))
			continue
		}
		if err := encodePass(encoder, label, pass, pipeline, prepared.group); err != nil {
			encoder.Discard()
			return 0, passErrs, err
		}
		encoded++
	}
	if encoded == 0 {
		encoder.Discard()
		return 0, passErrs, fmt.Errorf("gpucompute: %s: no pass encoded: %w", label, errors.Join(passErrs...))
	}

	if !skipReadback {
		if err := encodeCopies(encoder, prepared, staging); err != nil {
			encoder.Discard()
			return 0, passErrs, err
		}
	}

	cmd, err = encoder.Finish()
	if err != nil {
		return 0, passErrs, fmt.Errorf("gpucompute: finish command encoder: %w", err)
	}
	return cmd, passErrs, nil
}

func encodePass(encoder gpucore.CommandEncoder, label string, pass Pass, pipeline gpucore.ComputePipelineID, group gpucore.BindGroupID) error {
	cp, err := encoder.BeginComputePass(label + "/" + pass.Entry)
	if err != nil {
		return fmt.Errorf("gpucompute: begin compute pass %q: %w", pass.Entry, err)
	}
	cp.SetPipeline(pipeline)
	cp.SetBindGroup(0, group)
	for _, wg := range pass.Workgroups {
		cp.Dispatch(wg[0], wg[1], wg[2])
	}
	if err := cp.End(); err != nil {
		return fmt.Errorf("gpucompute: end compute pass %q: %w", pass.Entry, err)
	}
	Logger().Debug("gpucompute: pass encoded", "label", label, "entry", pass.Entry, "dispatches", len(pass.Workgroups))
	return nil
}

// encodeCopies appends buffer and texture copies into the staging buffers.
// The source of a staged slot is located through the prepared binding.
func encodeCopies(encoder gpucore.CommandEncoder, prepared *preparedBinding, staging *stagingSet) error {
	for _, s := range staging.buffers {
		src, ok := prepared.buffers[s.slot]
		if !ok {
			return fmt.Errorf("%w: slot %d", ErrStagingBufferMissing, s.slot)
		}
		encoder.CopyBufferToBuffer(src.buffer, 0, s.buffer, 0, copySize(s.size))
	}
	for _, img := range staging.images {
		encoder.CopyTextureToBuffer(img.texture, img.buffer, gpucore.ImageCopyLayout{
			BytesPerRow:  img.dims.PaddedBytesPerRow,
			RowsPerImage: img.dims.Height,
		}, img.dims.Width, img.dims.Height)
	}
	return nil
}
