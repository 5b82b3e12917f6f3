package gpucompute

import (
	"bytes"
	"testing"

	"github.com/gogpu/gputypes"
)

func TestPaddedBytesPerRow(t *testing.T) {
	tests := []struct {
		unpadded, align, want uint32
	}{
		{1024, 256, 1024},
		{400, 256, 512},
		{32, 256, 256},
		{1, 256, 256},
		{256, 256, 256},
		{257, 256, 512},
		{12, 4, 12},
		{13, 4, 16},
	}
	for _, tt := range tests {
		if got := PaddedBytesPerRow(tt.unpadded, tt.align); got != tt.want {
			t.Errorf("PaddedBytesPerRow(%d, %d) = %d, want %d", tt.unpadded, tt.align, got, tt.want)
		}
	}
}

func TestNewBufferDimensions(t *testing.T) {
	tests := []struct {
		name               string
		width, height, bpp uint32
		wantUnpadded       uint32
		wantPadded         uint32
	}{
		{"aligned", 256, 2, 4, 1024, 1024},
		{"width 100", 100, 3, 4, 400, 512},
		{"8x8 rgba", 8, 8, 4, 32, 256},
		{"single channel", 300, 1, 1, 300, 512},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewBufferDimensions(tt.width, tt.height, tt.bpp, DefaultRowAlignment)
			if d.UnpaddedBytesPerRow != tt.wantUnpadded || d.PaddedBytesPerRow != tt.wantPadded {
				t.Errorf("rows = %d/%d, want %d/%d",
					d.UnpaddedBytesPerRow, d.PaddedBytesPerRow, tt.wantUnpadded, tt.wantPadded)
			}
			if d.PaddedBytesPerRow%DefaultRowAlignment != 0 {
				t.Errorf("padded row %d not aligned", d.PaddedBytesPerRow)
			}
			if d.PaddedBytesPerRow-d.UnpaddedBytesPerRow >= DefaultRowAlignment {
				t.Errorf("padding %d is not minimal", d.PaddedBytesPerRow-d.UnpaddedBytesPerRow)
			}
			if want := uint64(tt.wantPadded) * uint64(tt.height); d.Size() != want {
				t.Errorf("Size() = %d, want %d", d.Size(), want)
			}
		})
	}
}

func TestBufferDimensions_PadUnpad(t *testing.T) {
	d := NewBufferDimensions(100, 3, 4, DefaultRowAlignment)
	tight := make([]byte, 100*3*4)
	for i := range tight {
		tight[i] = byte(i%251) + 1
	}

	padded := d.Pad(tight)
	if uint64(len(padded)) != d.Size() {
		t.Fatalf("len(Pad()) = %d, want %d", len(padded), d.Size())
	}
	for row := range 3 {
		pad := padded[row*512+400 : (row+1)*512]
		if !bytes.Equal(pad, make([]byte, len(pad))) {
			t.Errorf("row %d padding not zero", row)
		}
	}

	got := d.Unpad(padded)
	if !bytes.Equal(got, tight) {
		t.Error("Unpad(Pad(x)) != x")
	}
	if !bytes.Equal(d.Pad(got), padded) {
		t.Error("Pad(Unpad(p)) != p")
	}
}

func TestBufferDimensions_UnpadIgnoresPadding(t *testing.T) {
	d := NewBufferDimensions(8, 2, 4, DefaultRowAlignment)
	padded := bytes.Repeat([]byte{0xAA}, int(d.Size()))
	copy(padded, bytes.Repeat([]byte{1}, 32))
	copy(padded[256:], bytes.Repeat([]byte{2}, 32))

	got := d.Unpad(padded)
	want := append(bytes.Repeat([]byte{1}, 32), bytes.Repeat([]byte{2}, 32)...)
	if !bytes.Equal(got, want) {
		t.Errorf("Unpad() = %v, want %v", got, want)
	}
}

func TestBytesPerPixel(t *testing.T) {
	tests := []struct {
		format gputypes.TextureFormat
		want   uint32
	}{
		{gputypes.TextureFormatRGBA8Unorm, 4},
		{gputypes.TextureFormatR32Float, 4},
		{gputypes.TextureFormatRGBA32Float, 16},
		{gputypes.TextureFormatUndefined, 0},
	}
	for _, tt := range tests {
		if got := BytesPerPixel(tt.format); got != tt.want {
			t.Errorf("BytesPerPixel(%v) = %d, want %d", tt.format, got, tt.want)
		}
	}
}

func TestCopySize(t *testing.T) {
	tests := []struct{ n, want uint64 }{
		{0, 4},
		{1, 4},
		{4, 4},
		{5, 8},
		{16, 16},
	}
	for _, tt := range tests {
		if got := copySize(tt.n); got != tt.want {
			t.Errorf("copySize(%d) = %d, want %d", tt.n, got, tt.want)
		}
	}
}
