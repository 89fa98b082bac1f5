// Package thumbs derives viewer thumbnails from uploaded photo content.
package thumbs

import (
	"bytes"
	"fmt"

	"github.com/disintegration/imaging"
)

const maxEdge = 512

// Thumb is a derived thumbnail plus the source image dimensions.
type Thumb struct {
	Data   []byte
	Width  int
	Height int
}

// FromBytes decodes an image and renders a JPEG thumbnail bounded by
// maxEdge on its longer side.
func FromBytes(data []byte) (Thumb, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return Thumb{}, fmt.Errorf("decode image: %w", err)
	}
	bounds := img.Bounds()
	resized := imaging.Fit(img, maxEdge, maxEdge, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, imaging.JPEG, imaging.JPEGQuality(80)); err != nil {
		return Thumb{}, fmt.Errorf("encode thumbnail: %w", err)
	}
	return Thumb{
		Data:   buf.Bytes(),
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}, nil
}
