package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image/jpeg"

	"github.com/your-org/storelens/internal/config"
)

// ErrEmptyRaster is returned when a raster has no pixels or a short buffer.
var ErrEmptyRaster = errors.New("empty raster")

// Options are the constants of the enhancement chain.
type Options struct {
	TileGrid          int
	ClipLimit         float64
	BilateralDiameter int
	SigmaColor        float64
	SigmaSpace        float64
	Contrast          float64
	SharpenAmount     float64
	JPEGQuality       int
	MaxPixels         int
}

// DefaultOptions returns the production tuning.
func DefaultOptions() Options {
	return Options{
		TileGrid:          8,
		ClipLimit:         2.0,
		BilateralDiameter: 5,
		SigmaColor:        50,
		SigmaSpace:        50,
		Contrast:          1.1,
		SharpenAmount:     0.5,
		JPEGQuality:       95,
		MaxPixels:         DefaultMaxPixels,
	}
}

// OptionsFromConfig maps the enhance section of the config file.
func OptionsFromConfig(c config.EnhanceConfig) Options {
	return Options{
		TileGrid:          c.TileGrid,
		ClipLimit:         c.ClipLimit,
		BilateralDiameter: c.BilateralDiameter,
		SigmaColor:        c.SigmaColor,
		SigmaSpace:        c.SigmaSpace,
		Contrast:          c.Contrast,
		SharpenAmount:     c.SharpenAmount,
		JPEGQuality:       c.JPEGQuality,
		MaxPixels:         c.MaxPixels,
	}
}

// Enhancer improves lighting and local contrast of store camera frames
// before they are sent to face analysis. It is safe for concurrent use.
type Enhancer struct {
	opts Options
}

// NewEnhancer validates opts and returns an Enhancer using them.
func NewEnhancer(opts Options) (*Enhancer, error) {
	if opts.TileGrid <= 0 {
		return nil, fmt.Errorf("tile grid must be positive, got %d", opts.TileGrid)
	}
	if opts.JPEGQuality < 1 || opts.JPEGQuality > 100 {
		return nil, fmt.Errorf("jpeg quality must be within 1..100, got %d", opts.JPEGQuality)
	}
	if opts.BilateralDiameter <= 0 {
		return nil, fmt.Errorf("bilateral diameter must be positive, got %d", opts.BilateralDiameter)
	}
	return &Enhancer{opts: opts}, nil
}

// Decode is DecodeLimit bounded by the configured pixel cap.
func (e *Enhancer) Decode(data []byte) (*Raster, error) {
	return DecodeLimit(data, e.opts.MaxPixels)
}

// Apply runs the filter chain on the lightness channel only and returns
// the recombined RGB raster. Chroma is carried through untouched.
func (e *Enhancer) Apply(r *Raster) (*Raster, error) {
	if r == nil || r.Width == 0 || r.Height == 0 || len(r.Pix) != r.Width*r.Height*3 {
		return nil, ErrEmptyRaster
	}

	l, a, b := toLab(r)
	clahe(l, e.opts.TileGrid, e.opts.ClipLimit)
	l = bilateral(l, e.opts.BilateralDiameter, e.opts.SigmaColor, e.opts.SigmaSpace)
	if e.opts.Contrast != 1 {
		scaleAbs(l, e.opts.Contrast)
	}
	if e.opts.SharpenAmount != 0 {
		l = sharpen(l, e.opts.SharpenAmount)
	}
	return fromLab(l, a, b), nil
}

// Enhance applies the chain and encodes the result as JPEG.
func (e *Enhancer) Enhance(r *Raster) ([]byte, error) {
	out, err := e.Apply(r)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out.Image(), &jpeg.Options{Quality: e.opts.JPEGQuality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
