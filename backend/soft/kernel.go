package soft

import (
	"encoding/binary"
	"math"

	"github.com/gogpu/gputypes"
)

// Kernel is the CPU implementation of a compute entry point. It is called
// once per invocation.
type Kernel func(inv *Invocation)

type kernelInfo struct {
	fn            Kernel
	workgroupSize [3]uint32
}

// Invocation is one compute shader invocation.
type Invocation struct {
	GlobalID      [3]uint32
	LocalID       [3]uint32
	WorkgroupID   [3]uint32
	NumWorkgroups [3]uint32

	group *bindGroup
}

// Buffer returns the bytes bound at binding, or nil if it is not a buffer.
// Writes are visible to later invocations and copies.
func (inv *Invocation) Buffer(binding uint32) []byte {
	e, ok := inv.group.entries[binding]
	if !ok || e.buffer == nil {
		return nil
	}
	return e.buffer.data[e.offset : e.offset+e.size]
}

// Texture returns the storage texture bound at binding, or nil.
func (inv *Invocation) Texture(binding uint32) *Texture {
	e, ok := inv.group.entries[binding]
	if !ok || e.texture == nil {
		return nil
	}
	return e.texture
}

// Texture is a 2D texture with tightly packed texels.
type Texture struct {
	Width  uint32
	Height uint32
	Format gputypes.TextureFormat

	usage  gputypes.TextureUsage
	bpp    uint32
	texels []byte
}

// Load returns the texel at (x, y), or nil when out of bounds.
func (t *Texture) Load(x, y uint32) []byte {
	if x >= t.Width || y >= t.Height {
		return nil
	}
	i := (y*t.Width + x) * t.bpp
	return t.texels[i : i+t.bpp]
}

// Store writes px at (x, y). Out of bounds stores are discarded.
func (t *Texture) Store(x, y uint32, px []byte) {
	if dst := t.Load(x, y); dst != nil {
		copy(dst, px)
	}
}

// Float32 returns the i-th little-endian float32 of b.
func Float32(b []byte, i int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
}

// PutFloat32 stores v as the i-th little-endian float32 of b.
func PutFloat32(b []byte, i int, v float32) {
	binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
}

// Uint32 returns the i-th little-endian uint32 of b.
func Uint32(b []byte, i int) uint32 {
	return binary.LittleEndian.Uint32(b[i*4:])
}

// PutUint32 stores v as the i-th little-endian uint32 of b.
func PutUint32(b []byte, i int, v uint32) {
	binary.LittleEndian.PutUint32(b[i*4:], v)
}

// run executes a dispatch of x*y*z workgroups.
func (k kernelInfo) run(group *bindGroup, x, y, z uint32) {
	inv := Invocation{NumWorkgroups: [3]uint32{x, y, z}, group: group}
	size := k.workgroupSize
	for wz := range z {
		for wy := range y {
			for wx := range x {
				inv.WorkgroupID = [3]uint32{wx, wy, wz}
				for lz := range size[2] {
					for ly := range size[1] {
						for lx := range size[0] {
							inv.LocalID = [3]uint32{lx, ly, lz}
							inv.GlobalID = [3]uint32{
								wx*size[0] + lx,
								wy*size[1] + ly,
								wz*size[2] + lz,
							}
							k.fn(&inv)
						}
					}
				}
			}
		}
	}
}
