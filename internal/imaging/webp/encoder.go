// Package webp re-encodes captured rasters as lossy WebP.
package webp

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // register decoders for screenshot rasters
	_ "image/png"

	"github.com/chai2010/webp"
	_ "golang.org/x/image/webp"
)

// ContentType is the MIME type of every encoded image.
const ContentType = "image/webp"

// DefaultQuality is used when a caller passes a quality outside [1,100].
const DefaultQuality = 80

// ErrEmptyRaster is returned when there is nothing to encode.
var ErrEmptyRaster = errors.New("empty raster")

// Encoder implements archive.ImageEncoder.
type Encoder struct{}

// New creates an Encoder.
func New() *Encoder {
	return &Encoder{}
}

// Reencode decodes raster (PNG, JPEG or WebP) and encodes it as lossy WebP.
func (e *Encoder) Reencode(raster []byte, quality int) ([]byte, error) {
	if len(raster) == 0 {
		return nil, ErrEmptyRaster
	}
	img, format, err := image.Decode(bytes.NewReader(raster))
	if err != nil {
		return nil, fmt.Errorf("decode raster: %w", err)
	}
	if quality < 1 || quality > 100 {
		quality = DefaultQuality
	}
	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, &webp.Options{Lossless: false, Quality: float32(quality)}); err != nil {
		return nil, fmt.Errorf("encode %s raster as webp: %w", format, err)
	}
	return buf.Bytes(), nil
}

// ContentType returns the MIME type of encoded images.
func (e *Encoder) ContentType() string {
	return ContentType
}
