package imaging

import "math"

// bilateral smooths p while keeping edges: each output pixel is the
// average of its circular neighbourhood weighted by both spatial distance
// and intensity difference.
func bilateral(p *plane, diameter int, sigmaColor, sigmaSpace float64) *plane {
	if sigmaColor <= 0 {
		sigmaColor = 1
	}
	if sigmaSpace <= 0 {
		sigmaSpace = 1
	}
	radius := diameter / 2
	if radius < 1 {
		radius = 1
	}

	colorCoeff := -0.5 / (sigmaColor * sigmaColor)
	spaceCoeff := -0.5 / (sigmaSpace * sigmaSpace)

	var colorWeight [256]float64
	for i := range colorWeight {
		colorWeight[i] = math.Exp(float64(i*i) * colorCoeff)
	}

	type tap struct {
		dx, dy int
		w      float64
	}
	var taps []tap
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			r := math.Sqrt(float64(dx*dx + dy*dy))
			if r > float64(radius) {
				continue
			}
			taps = append(taps, tap{dx: dx, dy: dy, w: math.Exp(r * r * spaceCoeff)})
		}
	}

	out := newPlane(p.w, p.h)
	for y := 0; y < p.h; y++ {
		for x := 0; x < p.w; x++ {
			center := int(p.pix[y*p.w+x])
			var sum, wsum float64
			for _, t := range taps {
				v := int(p.at(reflect101(x+t.dx, p.w), reflect101(y+t.dy, p.h)))
				d := v - center
				if d < 0 {
					d = -d
				}
				w := t.w * colorWeight[d]
				sum += float64(v) * w
				wsum += w
			}
			out.pix[y*p.w+x] = saturateEven(sum / wsum)
		}
	}
	return out
}

// scaleAbs applies |v*alpha| with saturation, in place.
func scaleAbs(p *plane, alpha float64) {
	for i, v := range p.pix {
		p.pix[i] = saturateEven(math.Abs(float64(v) * alpha))
	}
}

// sharpen convolves p with a 3x3 kernel whose centre is 1+8k and whose
// neighbours are -k. The kernel sums to one so flat regions are unchanged.
func sharpen(p *plane, k float64) *plane {
	center := 1 + 8*k
	out := newPlane(p.w, p.h)
	for y := 0; y < p.h; y++ {
		ys := [3]int{reflect101(y-1, p.h), y, reflect101(y+1, p.h)}
		for x := 0; x < p.w; x++ {
			xs := [3]int{reflect101(x-1, p.w), x, reflect101(x+1, p.w)}
			var neigh float64
			for j, yy := range ys {
				for i, xx := range xs {
					if i == 1 && j == 1 {
						continue
					}
					neigh += float64(p.at(xx, yy))
				}
			}
			out.pix[y*p.w+x] = saturateEven(center*float64(p.at(x, y)) - k*neigh)
		}
	}
	return out
}
