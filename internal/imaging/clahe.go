package imaging

import "math"

const histSize = 256

// reflect101 maps an out-of-range index back into [0, n) mirroring around
// the edge pixels without repeating them (dcb|abcd|cba).
func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		} else {
			i = 2*n - 2 - i
		}
	}
	return i
}

// clahe equalizes p in place using a grid x grid layout of tiles. Images
// whose sides do not divide evenly are virtually extended with reflect-101
// borders for histogram collection only.
func clahe(p *plane, grid int, clipLimit float64) {
	tileW := (p.w + grid - 1) / grid
	tileH := (p.h + grid - 1) / grid
	tileArea := tileW * tileH

	clip := 0
	if clipLimit > 0 {
		clip = int(clipLimit * float64(tileArea) / histSize)
		if clip < 1 {
			clip = 1
		}
	}

	luts := make([][histSize]uint8, grid*grid)
	lutScale := float64(histSize-1) / float64(tileArea)

	for ty := 0; ty < grid; ty++ {
		for tx := 0; tx < grid; tx++ {
			var hist [histSize]int
			for y := ty * tileH; y < (ty+1)*tileH; y++ {
				sy := reflect101(y, p.h)
				row := p.pix[sy*p.w:]
				for x := tx * tileW; x < (tx+1)*tileW; x++ {
					hist[row[reflect101(x, p.w)]]++
				}
			}

			if clip > 0 {
				clipHistogram(&hist, clip)
			}

			lut := &luts[ty*grid+tx]
			sum := 0
			for i := range hist {
				sum += hist[i]
				lut[i] = saturateEven(float64(sum) * lutScale)
			}
		}
	}

	out := make([]uint8, len(p.pix))
	invTW := 1 / float64(tileW)
	invTH := 1 / float64(tileH)

	// Horizontal interpolation coordinates are shared by every row.
	xs := make([]tileCoord, p.w)
	for x := range xs {
		xs[x] = interpCoord(float64(x)*invTW-0.5, grid)
	}

	for y := 0; y < p.h; y++ {
		yc := interpCoord(float64(y)*invTH-0.5, grid)
		row1 := luts[yc.lo*grid : yc.lo*grid+grid]
		row2 := luts[yc.hi*grid : yc.hi*grid+grid]

		for x := 0; x < p.w; x++ {
			v := p.pix[y*p.w+x]
			xc := xs[x]
			top := float64(row1[xc.lo][v])*xc.wLo + float64(row1[xc.hi][v])*xc.wHi
			bot := float64(row2[xc.lo][v])*xc.wLo + float64(row2[xc.hi][v])*xc.wHi
			out[y*p.w+x] = saturateEven(top*yc.wLo + bot*yc.wHi)
		}
	}
	copy(p.pix, out)
}

// clipHistogram caps every bin at clip and spreads the excess evenly, the
// remainder going to evenly spaced bins from the bottom.
func clipHistogram(hist *[histSize]int, clip int) {
	clipped := 0
	for i := range hist {
		if hist[i] > clip {
			clipped += hist[i] - clip
			hist[i] = clip
		}
	}

	batch := clipped / histSize
	residual := clipped - batch*histSize
	for i := range hist {
		hist[i] += batch
	}
	if residual != 0 {
		step := histSize / residual
		if step < 1 {
			step = 1
		}
		for i := 0; i < histSize && residual > 0; i, residual = i+step, residual-1 {
			hist[i]++
		}
	}
}

type tileCoord struct {
	lo, hi   int
	wLo, wHi float64
}

func interpCoord(f float64, grid int) tileCoord {
	lo := int(math.Floor(f))
	hi := lo + 1
	w := f - float64(lo)
	if lo < 0 {
		lo = 0
	}
	if hi > grid-1 {
		hi = grid - 1
	}
	return tileCoord{lo: lo, hi: hi, wLo: 1 - w, wHi: w}
}

// saturateEven rounds half to even and clamps to 0..255.
func saturateEven(v float64) uint8 {
	v = math.RoundToEven(v)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
