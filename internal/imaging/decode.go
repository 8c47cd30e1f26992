package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var (
	// ErrDecode marks every failure to turn input bytes into a raster.
	ErrDecode = errors.New("undecodable image")

	// ErrEmptyImage is returned for a zero-length input.
	ErrEmptyImage = fmt.Errorf("%w: empty buffer", ErrDecode)
)

// DefaultMaxPixels caps the decoded size when no limit is configured.
const DefaultMaxPixels = 40_000_000

// Decode is DecodeLimit with DefaultMaxPixels.
func Decode(data []byte) (*Raster, error) {
	return DecodeLimit(data, DefaultMaxPixels)
}

// DecodeLimit turns an encoded image (JPEG, PNG, GIF, WebP, BMP, TIFF) into
// an RGB raster. Grayscale, paletted and alpha sources are converted to RGB.
// The header is read first and images above maxPixels are rejected before
// any pixel buffer is allocated. A non-positive maxPixels means
// DefaultMaxPixels.
func DecodeLimit(data []byte, maxPixels int) (*Raster, error) {
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		return nil, fmt.Errorf("%w: %s image %dx%d exceeds %d pixels", ErrDecode, format, cfg.Width, cfg.Height, maxPixels)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("%w: %s image has zero dimension %dx%d", ErrDecode, format, b.Dx(), b.Dy())
	}

	return FromImage(img), nil
}

// FromImage converts any image.Image to an RGB raster, dropping alpha.
func FromImage(img image.Image) *Raster {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	// Non-premultiplied so that translucent pixels keep their color.
	nrgba, ok := img.(*image.NRGBA)
	if !ok || nrgba.Rect.Min != (image.Point{}) {
		nrgba = image.NewNRGBA(image.Rect(0, 0, w, h))
		draw.Draw(nrgba, nrgba.Bounds(), img, b.Min, draw.Src)
	}

	r := NewRaster(w, h)
	for y := 0; y < h; y++ {
		src := nrgba.Pix[y*nrgba.Stride : y*nrgba.Stride+w*4]
		dst := r.Pix[y*w*3 : (y+1)*w*3]
		for x := 0; x < w; x++ {
			dst[x*3] = src[x*4]
			dst[x*3+1] = src[x*4+1]
			dst[x*3+2] = src[x*4+2]
		}
	}
	return r
}
