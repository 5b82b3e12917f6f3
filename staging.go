package gpucompute

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpucompute/gpucore"
)

// DefaultRowAlignment is the WebGPU alignment of image rows in
// texture-to-buffer copies.
const DefaultRowAlignment = gpucore.CopyBytesPerRowAlignment

// BufferDimensions describes the row layout of an image in a staging buffer.
type BufferDimensions struct {
	Width               uint32
	Height              uint32
	UnpaddedBytesPerRow uint32
	PaddedBytesPerRow   uint32
}

// PaddedBytesPerRow rounds unpadded up to the next multiple of align.
func PaddedBytesPerRow(unpadded, align uint32) uint32 {
	return unpadded + (align-unpadded%align)%align
}

// NewBufferDimensions computes the staging layout of a width x height image.
func NewBufferDimensions(width, height, bytesPerPixel, align uint32) BufferDimensions {
	unpadded := width * bytesPerPixel
	return BufferDimensions{
		Width:               width,
		Height:              height,
		UnpaddedBytesPerRow: unpadded,
		PaddedBytesPerRow:   PaddedBytesPerRow(unpadded, align),
	}
}

// BytesPerPixel returns the texel size of format, or 0 if it cannot be staged.
func BytesPerPixel(format gputypes.TextureFormat) uint32 {
	return gpucore.BytesPerPixel(format)
}

// Size returns the staging buffer size in bytes.
func (d BufferDimensions) Size() uint64 {
	return uint64(d.PaddedBytesPerRow) * uint64(d.Height)
}

// Unpad strips the row padding of a staged image.
// padded must hold at least Size bytes.
func (d BufferDimensions) Unpad(padded []byte) []byte {
	out := make([]byte, int(d.UnpaddedBytesPerRow)*int(d.Height))
	for row := range int(d.Height) {
		src := row * int(d.PaddedBytesPerRow)
		dst := row * int(d.UnpaddedBytesPerRow)
		copy(out[dst:dst+int(d.UnpaddedBytesPerRow)], padded[src:src+int(d.UnpaddedBytesPerRow)])
	}
	return out
}

// Pad lays out tightly packed rows at the padded stride. Padding bytes are zero.
func (d BufferDimensions) Pad(tight []byte) []byte {
	out := make([]byte, d.Size())
	for row := range int(d.Height) {
		src := row * int(d.UnpaddedBytesPerRow)
		dst := row * int(d.PaddedBytesPerRow)
		copy(out[dst:dst+int(d.UnpaddedBytesPerRow)], tight[src:src+int(d.UnpaddedBytesPerRow)])
	}
	return out
}

// stagedBuffer is a readback target for a storage slot.
type stagedBuffer struct {
	slot   uint32
	buffer gpucore.BufferID
	size   uint64 // value length, the buffer itself is aligned to CopyBufferAlignment
}

// stagedImage is a readback target for a storage texture slot.
type stagedImage struct {
	slot    uint32
	image   ImageID
	texture gpucore.TextureID
	buffer  gpucore.BufferID
	dims    BufferDimensions
}

// stagingSet holds the staging buffers of one dispatch.
type stagingSet struct {
	buffers []stagedBuffer
	images  []stagedImage
}

func (s *stagingSet) len() int {
	return len(s.buffers) + len(s.images)
}

// allocateStaging creates a MapRead staging buffer for every staged slot.
// Linear data needs no padding; image rows are padded to align.
func allocateStaging(dev gpucore.Device, desc Descriptor, prepared *preparedBinding, images *Images, align uint32, label string) (*stagingSet, error) {
	set := &stagingSet{}
	for _, b := range desc.Staged() {
		switch b.Kind {
		case BindingStorage:
			src, ok := prepared.buffers[b.Slot]
			if !ok {
				set.release(dev)
				return nil, fmt.Errorf("%w: slot %d", ErrStagingBufferMissing, b.Slot)
			}
			buf, err := createStagingBuffer(dev, fmt.Sprintf("%s staging slot %d", label, b.Slot),
				copySize(src.size))
			if err != nil {
				set.release(dev)
				return nil, err
			}
			set.buffers = append(set.buffers, stagedBuffer{slot: b.Slot, buffer: buf, size: src.size})

		case BindingStorageTexture:
			tex, ok := prepared.textures[b.Slot]
			if !ok {
				set.release(dev)
				return nil, fmt.Errorf("%w: image slot %d", ErrStagingBufferMissing, b.Slot)
			}
			img, ok := images.describe(tex.image)
			if !ok {
				set.release(dev)
				return nil, fmt.Errorf("%w: image %d", ErrImageNotFound, tex.image)
			}
			dims := NewBufferDimensions(img.Width, img.Height, BytesPerPixel(img.Format), align)
			buf, err := createStagingBuffer(dev, fmt.Sprintf("%s staging image %d", label, tex.image), dims.Size())
			if err != nil {
				set.release(dev)
				return nil, err
			}
			Logger().Debug("gpucompute: staging image",
				"image", tex.image, "width", dims.Width, "height", dims.Height,
				"unpadded", dims.UnpaddedBytesPerRow, "padded", dims.PaddedBytesPerRow)
			set.images = append(set.images, stagedImage{
				slot:    b.Slot,
				image:   tex.image,
				texture: tex.texture,
				buffer:  buf,
				dims:    dims,
			})
		}
	}
	return set, nil
}

// copySize is the byte count copied for a value of n bytes. Buffer copies
// move whole 4-byte words and storage buffers are never empty.
func copySize(n uint64) uint64 {
	return max(gpucore.AlignUp(n, gpucore.CopyBufferAlignment), gpucore.CopyBufferAlignment)
}

func createStagingBuffer(dev gpucore.Device, label string, size uint64) (gpucore.BufferID, error) {
	buf, err := dev.CreateBuffer(&gpucore.BufferDesc{
		Label: label,
		Size:  size,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", label, err)
	}
	return buf, nil
}

// release destroys the staging buffers. They must be unmapped.
func (s *stagingSet) release(dev gpucore.Device) {
	for _, b := range s.buffers {
		dev.DestroyBuffer(b.buffer)
	}
	for _, img := range s.images {
		dev.DestroyBuffer(img.buffer)
	}
	s.buffers = nil
	s.images = nil
}
