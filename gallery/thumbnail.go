package gallery

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"

	"golang.org/x/image/draw"
)

// ErrInvalidThumbnailSize is returned for a non-positive bound.
var ErrInvalidThumbnailSize = errors.New("gallery: thumbnail size must be positive")

// Thumbnail scales a PNG so its longer side is at most maxSide pixels, keeping the
// aspect ratio. Images already within the bound are returned unchanged.
func Thumbnail(data []byte, maxSide int) ([]byte, error) {
	if maxSide <= 0 {
		return nil, ErrInvalidThumbnailSize
	}
	src, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gallery: decoding image: %w", err)
	}

	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxSide && h <= maxSide {
		return data, nil
	}

	tw, th := maxSide, maxSide
	if w >= h {
		th = h * maxSide / w
	} else {
		tw = w * maxSide / h
	}
	if tw < 1 {
		tw = 1
	}
	if th < 1 {
		th = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, tw, th))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)

	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("gallery: encoding thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}
