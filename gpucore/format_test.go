package gpucore

import (
	"testing"

	"github.com/gogpu/gputypes"
)

func TestBytesPerPixel(t *testing.T) {
	tests := []struct {
		format gputypes.TextureFormat
		want   uint32
	}{
		{gputypes.TextureFormatR8Unorm, 1},
		{gputypes.TextureFormatRG8Unorm, 2},
		{gputypes.TextureFormatRGBA8Unorm, 4},
		{gputypes.TextureFormatBGRA8UnormSrgb, 4},
		{gputypes.TextureFormatR32Float, 4},
		{gputypes.TextureFormatRGBA16Float, 8},
		{gputypes.TextureFormatRGBA32Float, 16},
		{gputypes.TextureFormatDepth32Float, 0},
		{gputypes.TextureFormatBC1RGBAUnorm, 0},
		{gputypes.TextureFormatUndefined, 0},
	}
	for _, tt := range tests {
		if got := BytesPerPixel(tt.format); got != tt.want {
			t.Errorf("BytesPerPixel(%v) = %d, want %d", tt.format, got, tt.want)
		}
	}
}

func TestAlignUp(t *testing.T) {
	tests := []struct{ n, align, want uint64 }{
		{0, 4, 0},
		{1, 4, 4},
		{4, 4, 4},
		{5, 16, 16},
		{400, 256, 512},
		{1024, 256, 1024},
	}
	for _, tt := range tests {
		if got := AlignUp(tt.n, tt.align); got != tt.want {
			t.Errorf("AlignUp(%d, %d) = %d, want %d", tt.n, tt.align, got, tt.want)
		}
	}
}
