package vision

import "github.com/your-org/storelens/internal/imaging"

type norm struct {
	mean, std float32
}

var (
	detNorm  = norm{mean: 127.5, std: 128}
	attrNorm = norm{mean: 0, std: 1}
)

// fullFrame returns the box covering the whole raster.
func fullFrame(r *imaging.Raster) Box {
	return Box{X2: float32(r.Width), Y2: float32(r.Height)}
}

// padBox grows b by frac of its size on every side, clipped to the raster.
func padBox(b Box, frac float32, w, h int) Box {
	pw := (b.X2 - b.X1) * frac
	ph := (b.Y2 - b.Y1) * frac
	return Box{
		X1: clamp(b.X1-pw, 0, float32(w)),
		Y1: clamp(b.Y1-ph, 0, float32(h)),
		X2: clamp(b.X2+pw, 0, float32(w)),
		Y2: clamp(b.Y2+ph, 0, float32(h)),
	}
}

// sampler maps output pixel (x, y) of a size x size grid to a raster pixel
// inside region using nearest-neighbour sampling.
func sampler(r *imaging.Raster, region Box, size int) func(x, y int) (uint8, uint8, uint8) {
	x0, y0 := int(region.X1), int(region.Y1)
	rw := max(int(region.X2)-x0, 1)
	rh := max(int(region.Y2)-y0, 1)
	return func(x, y int) (uint8, uint8, uint8) {
		sx := min(x0+x*rw/size, r.Width-1)
		sy := min(y0+y*rh/size, r.Height-1)
		return r.RGBAt(sx, sy)
	}
}

// chwInput resizes region to size x size and lays it out as normalized
// planar RGB.
func chwInput(r *imaging.Raster, region Box, size int, n norm) []float32 {
	at := sampler(r, region, size)
	plane := size * size
	out := make([]float32, 3*plane)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			red, green, blue := at(x, y)
			i := y*size + x
			out[i] = (float32(red) - n.mean) / n.std
			out[plane+i] = (float32(green) - n.mean) / n.std
			out[2*plane+i] = (float32(blue) - n.mean) / n.std
		}
	}
	return out
}

// grayInput produces the single-channel 0..255 input of the emotion model.
func grayInput(r *imaging.Raster, region Box, size int) []float32 {
	at := sampler(r, region, size)
	out := make([]float32, size*size)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			red, green, blue := at(x, y)
			out[y*size+x] = 0.299*float32(red) + 0.587*float32(green) + 0.114*float32(blue)
		}
	}
	return out
}
