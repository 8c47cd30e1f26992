// Package imaging decodes camera images into RGB rasters and runs the
// deterministic enhancement chain applied before face analysis.
package imaging

import (
	"image"
	"image/color"
)

// Raster is an 8-bit RGB pixel grid. Pix holds Width*Height*3 bytes in
// row-major R, G, B order.
type Raster struct {
	Width  int
	Height int
	Pix    []uint8
}

// NewRaster allocates a black raster.
func NewRaster(width, height int) *Raster {
	return &Raster{
		Width:  width,
		Height: height,
		Pix:    make([]uint8, width*height*3),
	}
}

// RGBAt returns the pixel at (x, y).
func (r *Raster) RGBAt(x, y int) (uint8, uint8, uint8) {
	i := (y*r.Width + x) * 3
	return r.Pix[i], r.Pix[i+1], r.Pix[i+2]
}

// SetRGB sets the pixel at (x, y).
func (r *Raster) SetRGB(x, y int, red, green, blue uint8) {
	i := (y*r.Width + x) * 3
	r.Pix[i] = red
	r.Pix[i+1] = green
	r.Pix[i+2] = blue
}

// Image returns an opaque RGBA copy usable with image/* encoders.
func (r *Raster) Image() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, r.Width, r.Height))
	for p, q := 0, 0; p < len(r.Pix); p, q = p+3, q+4 {
		img.Pix[q] = r.Pix[p]
		img.Pix[q+1] = r.Pix[p+1]
		img.Pix[q+2] = r.Pix[p+2]
		img.Pix[q+3] = 0xFF
	}
	return img
}

// ColorModel, Bounds and At make a Raster an image.Image.
func (r *Raster) ColorModel() color.Model { return color.RGBAModel }

func (r *Raster) Bounds() image.Rectangle { return image.Rect(0, 0, r.Width, r.Height) }

func (r *Raster) At(x, y int) color.Color {
	if x < 0 || y < 0 || x >= r.Width || y >= r.Height {
		return color.RGBA{}
	}
	red, green, blue := r.RGBAt(x, y)
	return color.RGBA{R: red, G: green, B: blue, A: 0xFF}
}
