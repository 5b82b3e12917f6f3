package gpucompute

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpucompute/gpucore"
)

// ImageID identifies an image in an Images registry. Zero is never issued.
type ImageID uint64

// Image is a CPU-side 2D image with tightly packed rows.
type Image struct {
	Width  uint32
	Height uint32
	Format gputypes.TextureFormat
	Pixels []byte
}

// NewImage returns a zero-filled image.
func NewImage(width, height uint32, format gputypes.TextureFormat) (Image, error) {
	img := Image{Width: width, Height: height, Format: format}
	bpp := BytesPerPixel(format)
	if bpp == 0 {
		return Image{}, fmt.Errorf("gpucompute: unsupported image format %v", format)
	}
	img.Pixels = make([]byte, int(width)*int(height)*int(bpp))
	return img, nil
}

// Fill sets every pixel to px.
func (img Image) Fill(px []byte) {
	for i := 0; i+len(px) <= len(img.Pixels); i += len(px) {
		copy(img.Pixels[i:], px)
	}
}

// BytesPerRow returns the tightly packed row size.
func (img Image) BytesPerRow() uint32 {
	return img.Width * BytesPerPixel(img.Format)
}

func (img Image) validate() error {
	bpp := BytesPerPixel(img.Format)
	switch {
	case bpp == 0:
		return fmt.Errorf("gpucompute: unsupported image format %v", img.Format)
	case img.Width == 0 || img.Height == 0:
		return fmt.Errorf("gpucompute: empty image %dx%d", img.Width, img.Height)
	case len(img.Pixels) != int(img.Width)*int(img.Height)*int(bpp):
		return fmt.Errorf("gpucompute: image %dx%d needs %d bytes, got %d",
			img.Width, img.Height, int(img.Width)*int(img.Height)*int(bpp), len(img.Pixels))
	}
	return nil
}

// ImageEventKind is the kind of an ImageEvent.
type ImageEventKind uint8

const (
	// ImageAdded is sent when an image is added.
	ImageAdded ImageEventKind = iota
	// ImageModified is sent when an image's pixels change.
	ImageModified
	// ImageRemoved is sent when an image is removed.
	ImageRemoved
)

// String returns a human-readable name for the event kind.
func (k ImageEventKind) String() string {
	switch k {
	case ImageAdded:
		return "added"
	case ImageModified:
		return "modified"
	case ImageRemoved:
		return "removed"
	default:
		return fmt.Sprintf("ImageEventKind(%d)", k)
	}
}

// ImageEvent reports a change to an image.
type ImageEvent struct {
	ID   ImageID
	Kind ImageEventKind

	// Readback is set when the change is a compute result written back by
	// the engine rather than an external write.
	Readback bool
}

// textureUsage is the usage of every image texture: bindable as a storage
// texture, copyable both ways, and sampleable by other passes.
const textureUsage = gputypes.TextureUsageStorageBinding |
	gputypes.TextureUsageCopySrc |
	gputypes.TextureUsageCopyDst |
	gputypes.TextureUsageTextureBinding

type imageEntry struct {
	img     Image
	texture gpucore.TextureID
	upload  bool // pixels changed since the last Sync
	resize  bool // texture must be recreated
}

// Images is the registry of CPU images and their GPU textures.
// An image becomes bindable after the Sync that follows its Add.
//
// Images is safe for concurrent use.
type Images struct {
	mu       sync.Mutex
	next     ImageID
	entries  map[ImageID]*imageEntry
	released []gpucore.TextureID
	events   Events[ImageEvent]
}

// NewImages creates an empty registry.
func NewImages() *Images {
	return &Images{entries: make(map[ImageID]*imageEntry)}
}

// Add registers img and schedules its upload.
func (r *Images) Add(img Image) (ImageID, error) {
	if err := img.validate(); err != nil {
		return 0, err
	}
	img.Pixels = slices.Clone(img.Pixels)

	r.mu.Lock()
	r.next++
	id := r.next
	r.entries[id] = &imageEntry{img: img, upload: true}
	r.mu.Unlock()

	r.events.send(ImageEvent{ID: id, Kind: ImageAdded})
	return id, nil
}

// Set replaces an image. This is an observed write: the GPU texture is
// updated on the next Sync and an ImageModified event is sent.
func (r *Images) Set(id ImageID, img Image) error {
	if err := img.validate(); err != nil {
		return err
	}
	img.Pixels = slices.Clone(img.Pixels)

	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrImageNotFound, id)
	}
	if e.img.Width != img.Width || e.img.Height != img.Height || e.img.Format != img.Format {
		e.resize = true
	}
	e.img = img
	e.upload = true
	r.mu.Unlock()

	r.events.send(ImageEvent{ID: id, Kind: ImageModified})
	return nil
}

// setSilent stores read-back pixels. The texture already holds them, so
// nothing is uploaded.
func (r *Images) setSilent(id ImageID, pixels []byte) error {
	return r.setSilentAll([]ImageBytes{{ID: id, Bytes: pixels}})
}

// setSilentAll stores the read-back pixels of several images. Nothing is
// written unless every image still exists with the read-back size.
func (r *Images) setSilentAll(batch []ImageBytes) error {
	if len(batch) == 0 {
		return nil
	}
	r.mu.Lock()
	for _, b := range batch {
		e, ok := r.entries[b.ID]
		if !ok {
			r.mu.Unlock()
			return fmt.Errorf("%w: %d", ErrImageNotFound, b.ID)
		}
		if len(b.Bytes) != len(e.img.Pixels) {
			r.mu.Unlock()
			return fmt.Errorf("%w: image %d: read back %d bytes, want %d", ErrDecode, b.ID, len(b.Bytes), len(e.img.Pixels))
		}
	}
	for _, b := range batch {
		r.entries[b.ID].img.Pixels = b.Bytes
	}
	r.mu.Unlock()

	for _, b := range batch {
		r.events.send(ImageEvent{ID: b.ID, Kind: ImageModified, Readback: true})
	}
	return nil
}

// Get returns a copy of the image.
func (r *Images) Get(id ImageID) (Image, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return Image{}, false
	}
	img := e.img
	img.Pixels = slices.Clone(img.Pixels)
	return img, true
}

// describe returns the image without its pixels.
func (r *Images) describe(id ImageID) (Image, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return Image{}, false
	}
	return Image{Width: e.img.Width, Height: e.img.Height, Format: e.img.Format}, true
}

// Remove deletes an image. Its texture is released on the next Sync.
func (r *Images) Remove(id ImageID) bool {
	r.mu.Lock()
	e, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
		if e.texture != 0 {
			r.released = append(r.released, e.texture)
		}
	}
	r.mu.Unlock()

	if ok {
		r.events.send(ImageEvent{ID: id, Kind: ImageRemoved})
	}
	return ok
}

// Len returns the number of images.
func (r *Images) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Texture returns the GPU texture registered for id.
func (r *Images) Texture(id ImageID) (gpucore.TextureID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	switch {
	case !ok:
		return 0, fmt.Errorf("%w: %d", ErrImageNotFound, id)
	case e.texture == 0:
		return 0, fmt.Errorf("%w: %d", ErrImageNotRegistered, id)
	}
	return e.texture, nil
}

// Events returns the image event queue.
func (r *Images) Events() *Events[ImageEvent] {
	return &r.events
}

// Sync creates, uploads and releases GPU textures so they match the
// registry. Images that fail stay unregistered and are retried next Sync.
func (r *Images) Sync(dev gpucore.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, tex := range r.released {
		dev.DestroyTexture(tex)
	}
	r.released = r.released[:0]

	var errs []error
	for id, e := range r.entries {
		if e.resize && e.texture != 0 {
			dev.DestroyTexture(e.texture)
			e.texture = 0
		}
		e.resize = false

		if e.texture == 0 {
			tex, err := dev.CreateTexture(&gpucore.TextureDesc{
				Label:  fmt.Sprintf("gpucompute image %d", id),
				Width:  e.img.Width,
				Height: e.img.Height,
				Format: e.img.Format,
				Usage:  textureUsage,
			})
			if err != nil {
				errs = append(errs, fmt.Errorf("gpucompute: register image %d: %w", id, err))
				continue
			}
			e.texture = tex
			e.upload = true
		}

		if e.upload {
			if err := dev.WriteTexture(e.texture, e.img.Pixels, e.img.BytesPerRow()); err != nil {
				errs = append(errs, fmt.Errorf("gpucompute: upload image %d: %w", id, err))
				continue
			}
			e.upload = false
		}
	}
	return errors.Join(errs...)
}

// release destroys every texture.
func (r *Images) release(dev gpucore.Device) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tex := range r.released {
		dev.DestroyTexture(tex)
	}
	r.released = nil
	for _, e := range r.entries {
		if e.texture != 0 {
			dev.DestroyTexture(e.texture)
			e.texture = 0
		}
	}
}
