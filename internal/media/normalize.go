package media

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// NormalizedSize is the fixed edge length submitted to the generation
// provider, which only accepts square inputs.
const NormalizedSize = 1024

// SquareCrop returns the centered square crop rectangle for an image of
// the given dimensions. The longer axis is trimmed symmetrically; a square
// input maps to itself.
func SquareCrop(width, height int) image.Rectangle {
	side := width
	if height < side {
		side = height
	}
	x := (width - side) / 2
	y := (height - side) / 2
	return image.Rect(x, y, x+side, y+side)
}

// Normalize decodes an arbitrary raster image, crops it to a centered
// square and re-encodes it as a NormalizedSize×NormalizedSize PNG.
// Upscaling small sources is permitted. Callers are expected to fall back
// to the original bytes when Normalize fails.
func Normalize(data []byte) ([]byte, error) {
	src, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("media: decode image: %w", err)
	}
	bounds := src.Bounds()
	cropped := imaging.Crop(src, SquareCrop(bounds.Dx(), bounds.Dy()).Add(bounds.Min))
	resized := imaging.Resize(cropped, NormalizedSize, NormalizedSize, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, imaging.PNG); err != nil {
		return nil, fmt.Errorf("media: encode png: %w", err)
	}
	return buf.Bytes(), nil
}
