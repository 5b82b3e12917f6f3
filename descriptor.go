package gpucompute

import (
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpucompute/gpucore"
)

// BindingKind is the kind of resource bound to a slot.
type BindingKind uint8

const (
	// BindingUniform is a uniform value, var<uniform>.
	BindingUniform BindingKind = iota
	// BindingStorage is a storage buffer, var<storage>.
	BindingStorage
	// BindingStorageTexture is a 2D storage texture backed by an image.
	BindingStorageTexture
)

// String returns a human-readable name for the binding kind.
func (k BindingKind) String() string {
	switch k {
	case BindingUniform:
		return "uniform"
	case BindingStorage:
		return "storage"
	case BindingStorageTexture:
		return "storage_texture"
	default:
		return fmt.Sprintf("BindingKind(%d)", k)
	}
}

// Binding describes one slot of bind group 0.
type Binding struct {
	// Slot is the @binding index.
	Slot uint32

	Kind BindingKind

	// Visibility is the set of shader stages that see the binding.
	// Zero means compute.
	Visibility gputypes.ShaderStages

	// Stage marks the slot for readback after the dispatch.
	Stage bool

	// ReadOnly binds a storage buffer as read-only storage.
	ReadOnly bool

	// Format and Access describe storage texture slots.
	Format gputypes.TextureFormat
	Access gputypes.StorageTextureAccess
}

// Descriptor lists the bindings of a data type. It is produced outside the
// engine, for example by a code generator, and never changes at runtime.
type Descriptor []Binding

// Binding returns the binding for slot.
func (d Descriptor) Binding(slot uint32) (Binding, bool) {
	for _, b := range d {
		if b.Slot == slot {
			return b, true
		}
	}
	return Binding{}, false
}

// Staged returns the bindings marked for readback, in descriptor order.
func (d Descriptor) Staged() []Binding {
	var out []Binding
	for _, b := range d {
		if b.Stage {
			out = append(out, b)
		}
	}
	return out
}

// Validate checks that slots are unique and every binding can be laid out.
func (d Descriptor) Validate() error {
	seen := make(map[uint32]bool, len(d))
	for _, b := range d {
		if seen[b.Slot] {
			return fmt.Errorf("%w: duplicate slot %d", ErrInvalidDescriptor, b.Slot)
		}
		seen[b.Slot] = true

		switch b.Kind {
		case BindingUniform:
			if b.Stage {
				return fmt.Errorf("%w: slot %d: uniform values cannot be staged", ErrInvalidDescriptor, b.Slot)
			}
		case BindingStorage:
			if b.ReadOnly && b.Stage {
				return fmt.Errorf("%w: slot %d: read-only storage cannot be staged", ErrInvalidDescriptor, b.Slot)
			}
		case BindingStorageTexture:
			if gpucore.BytesPerPixel(b.Format) == 0 {
				return fmt.Errorf("%w: slot %d: unsupported storage texture format %v", ErrInvalidDescriptor, b.Slot, b.Format)
			}
		default:
			return fmt.Errorf("%w: slot %d: unknown kind %v", ErrInvalidDescriptor, b.Slot, b.Kind)
		}
	}
	return nil
}

// LayoutEntries converts the descriptor to bind group layout entries.
func (d Descriptor) LayoutEntries() []gputypes.BindGroupLayoutEntry {
	entries := make([]gputypes.BindGroupLayoutEntry, 0, len(d))
	for _, b := range d {
		visibility := b.Visibility
		if visibility == 0 {
			visibility = gputypes.ShaderStageCompute
		}
		entry := gputypes.BindGroupLayoutEntry{Binding: b.Slot, Visibility: visibility}

		switch b.Kind {
		case BindingUniform:
			entry.Buffer = &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}
		case BindingStorage:
			typ := gputypes.BufferBindingTypeStorage
			if b.ReadOnly {
				typ = gputypes.BufferBindingTypeReadOnlyStorage
			}
			entry.Buffer = &gputypes.BufferBindingLayout{Type: typ}
		case BindingStorageTexture:
			access := b.Access
			if access == 0 {
				access = gputypes.StorageTextureAccessWriteOnly
			}
			entry.StorageTexture = &gputypes.StorageTextureBindingLayout{
				Access:        access,
				Format:        b.Format,
				ViewDimension: gputypes.TextureViewDimension2D,
			}
		}
		entries = append(entries, entry)
	}
	return entries
}
