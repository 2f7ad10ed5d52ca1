package media

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

// JPEGCodec is the default Encoder/Decoder, backed by the standard library
// JPEG implementation with bilinear scaling to the target resolution.
type JPEGCodec struct{}

func (JPEGCodec) Encode(img image.Image, width, height, quality int) ([]byte, error) {
	scaled := img
	if b := img.Bounds(); b.Dx() != width || b.Dy() != height {
		dst := image.NewRGBA(image.Rect(0, 0, width, height))
		draw.BiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
		scaled = dst
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, scaled, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("jpeg encode %dx%d: %w", width, height, err)
	}
	return buf.Bytes(), nil
}

func (JPEGCodec) Decode(data []byte) (image.Image, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("jpeg decode: %w", err)
	}
	return img, nil
}
