package thumbs

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 120, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestFromBytes(t *testing.T) {
	thumb, err := FromBytes(pngBytes(t, 1024, 768))
	if err != nil {
		t.Fatalf("from bytes: %v", err)
	}
	if len(thumb.Data) == 0 {
		t.Fatalf("thumbnail is empty")
	}
	if thumb.Width != 1024 || thumb.Height != 768 {
		t.Fatalf("dimensions = %dx%d, want 1024x768", thumb.Width, thumb.Height)
	}
}

func TestFromBytesRejectsGarbage(t *testing.T) {
	if _, err := FromBytes([]byte("definitely not an image")); err == nil {
		t.Fatalf("expected decode error")
	}
}
