package gpucompute

import (
	"bytes"
	"errors"
	"testing"

	"github.com/gogpu/gputypes"
)

func TestNewImage(t *testing.T) {
	img, err := NewImage(3, 2, gputypes.TextureFormatRGBA8Unorm)
	if err != nil {
		t.Fatalf("NewImage() error = %v", err)
	}
	if len(img.Pixels) != 24 || img.BytesPerRow() != 12 {
		t.Errorf("len(Pixels) = %d, BytesPerRow = %d", len(img.Pixels), img.BytesPerRow())
	}
	img.Fill(red)
	if !bytes.Equal(img.Pixels[20:], red) {
		t.Errorf("last pixel = %v, want %v", img.Pixels[20:], red)
	}

	if _, err := NewImage(1, 1, gputypes.TextureFormatUndefined); err == nil {
		t.Error("NewImage() with an unsupported format should fail")
	}
}

func TestImages_AddValidation(t *testing.T) {
	r := NewImages()
	tests := []struct {
		name string
		img  Image
	}{
		{"empty", Image{Format: gputypes.TextureFormatRGBA8Unorm}},
		{"short pixels", Image{Width: 2, Height: 2, Format: gputypes.TextureFormatRGBA8Unorm, Pixels: make([]byte, 15)}},
		{"no format", Image{Width: 1, Height: 1, Pixels: make([]byte, 4)}},
	}
	for _, tt := range tests {
		if _, err := r.Add(tt.img); err == nil {
			t.Errorf("%s: Add() should fail", tt.name)
		}
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}

func TestImages_Lifecycle(t *testing.T) {
	dev := newSoftDevice()
	defer dev.Close()
	r := NewImages()

	img, _ := NewImage(4, 4, gputypes.TextureFormatRGBA8Unorm)
	img.Fill(red)
	id, err := r.Add(img)
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	img.Pixels[0] = 9
	if got, _ := r.Get(id); got.Pixels[0] != 255 {
		t.Error("Add should copy the pixels")
	}

	if _, err := r.Texture(id); !errors.Is(err, ErrImageNotRegistered) {
		t.Errorf("Texture() before Sync = %v, want ErrImageNotRegistered", err)
	}
	if _, err := r.Texture(id + 1); !errors.Is(err, ErrImageNotFound) {
		t.Errorf("Texture(unknown) = %v, want ErrImageNotFound", err)
	}

	if err := r.Sync(dev); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	tex, err := r.Texture(id)
	if err != nil {
		t.Fatalf("Texture() after Sync = %v", err)
	}
	texels, err := dev.TextureData(tex)
	if err != nil {
		t.Fatalf("TextureData() error = %v", err)
	}
	if !bytes.Equal(texels[:4], red) {
		t.Errorf("uploaded texel = %v, want %v", texels[:4], red)
	}

	// A resize replaces the texture.
	big, _ := NewImage(8, 8, gputypes.TextureFormatRGBA8Unorm)
	if err := r.Set(id, big); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := r.Sync(dev); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	resized, _ := r.Texture(id)
	if resized == tex {
		t.Error("resized image kept its texture")
	}
	if n := dev.Stats().Textures; n != 1 {
		t.Errorf("live textures = %d, want 1", n)
	}

	if !r.Remove(id) {
		t.Fatal("Remove() = false")
	}
	if r.Remove(id) {
		t.Error("second Remove() = true")
	}
	if err := r.Sync(dev); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if n := dev.Stats().Textures; n != 0 {
		t.Errorf("live textures after Remove = %d, want 0", n)
	}

	events := r.Events().Drain()
	kinds := make([]ImageEventKind, len(events))
	for i, e := range events {
		kinds[i] = e.Kind
		if e.Readback {
			t.Errorf("event %d is marked as readback", i)
		}
	}
	want := []ImageEventKind{ImageAdded, ImageModified, ImageRemoved}
	if len(kinds) != len(want) {
		t.Fatalf("events = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("event %d = %v, want %v", i, kinds[i], want[i])
		}
	}
}

func TestImages_SetSilent(t *testing.T) {
	r := NewImages()
	img, _ := NewImage(2, 1, gputypes.TextureFormatRGBA8Unorm)
	id, _ := r.Add(img)
	r.Events().Drain()

	if err := r.setSilent(id, []byte{1, 2, 3}); !errors.Is(err, ErrDecode) {
		t.Errorf("setSilent(short) = %v, want ErrDecode", err)
	}
	if err := r.setSilent(id+1, make([]byte, 8)); !errors.Is(err, ErrImageNotFound) {
		t.Errorf("setSilent(unknown) = %v, want ErrImageNotFound", err)
	}
	if err := r.setSilent(id, []byte{1, 2, 3, 4, 5, 6, 7, 8}); err != nil {
		t.Fatalf("setSilent() error = %v", err)
	}

	got, _ := r.Get(id)
	if got.Pixels[7] != 8 {
		t.Errorf("Pixels = %v", got.Pixels)
	}
	events := r.Events().Drain()
	if len(events) != 1 || !events[0].Readback || events[0].Kind != ImageModified {
		t.Errorf("events = %+v, want one readback modification", events)
	}
}

func TestImageEventKind_String(t *testing.T) {
	tests := []struct {
		k    ImageEventKind
		want string
	}{
		{ImageAdded, "added"},
		{ImageModified, "modified"},
		{ImageRemoved, "removed"},
		{ImageEventKind(4), "ImageEventKind(4)"},
	}
	for _, tt := range tests {
		if got := tt.k.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
