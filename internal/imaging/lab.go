package imaging

import "math"

// D65 reference white.
const (
	whiteX = 0.950456
	whiteZ = 1.088754

	labEpsilon = 0.008856
	labKappa   = 903.3
)

// plane is a single 8-bit channel.
type plane struct {
	w, h int
	pix  []uint8
}

func newPlane(w, h int) *plane {
	return &plane{w: w, h: h, pix: make([]uint8, w*h)}
}

func (p *plane) at(x, y int) uint8 { return p.pix[y*p.w+x] }

var srgbLinear [256]float64

func init() {
	for i := range srgbLinear {
		c := float64(i) / 255
		if c <= 0.04045 {
			srgbLinear[i] = c / 12.92
		} else {
			srgbLinear[i] = math.Pow((c+0.055)/1.055, 2.4)
		}
	}
}

func labF(t float64) float64 {
	if t > labEpsilon {
		return math.Cbrt(t)
	}
	return 7.787*t + 16.0/116.0
}

func labFInv(t float64) float64 {
	if t3 := t * t * t; t3 > labEpsilon {
		return t3
	}
	return (t - 16.0/116.0) / 7.787
}

func gammaEncode(c float64) uint8 {
	if c <= 0 {
		return 0
	}
	if c >= 1 {
		return 255
	}
	if c <= 0.0031308 {
		c *= 12.92
	} else {
		c = 1.055*math.Pow(c, 1/2.4) - 0.055
	}
	return saturate(c * 255)
}

// saturate rounds half away from zero and clamps to 0..255.
func saturate(v float64) uint8 {
	v = math.Round(v)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

// toLab splits an RGB raster into 8-bit L*, a*, b* planes. L is scaled to
// 0..255, a and b are offset by 128.
func toLab(r *Raster) (l, a, b *plane) {
	l = newPlane(r.Width, r.Height)
	a = newPlane(r.Width, r.Height)
	b = newPlane(r.Width, r.Height)

	for i, p := 0, 0; i < len(l.pix); i, p = i+1, p+3 {
		rl := srgbLinear[r.Pix[p]]
		gl := srgbLinear[r.Pix[p+1]]
		bl := srgbLinear[r.Pix[p+2]]

		x := (0.412453*rl + 0.357580*gl + 0.180423*bl) / whiteX
		y := 0.212671*rl + 0.715160*gl + 0.072169*bl
		z := (0.019334*rl + 0.119193*gl + 0.950227*bl) / whiteZ

		fx, fy, fz := labF(x), labF(y), labF(z)

		var lv float64
		if y > labEpsilon {
			lv = 116*fy - 16
		} else {
			lv = labKappa * y
		}

		l.pix[i] = saturate(lv * 255 / 100)
		a.pix[i] = saturate(500*(fx-fy) + 128)
		b.pix[i] = saturate(200*(fy-fz) + 128)
	}
	return l, a, b
}

// fromLab is the inverse of toLab.
func fromLab(l, a, b *plane) *Raster {
	r := NewRaster(l.w, l.h)

	for i, p := 0, 0; i < len(l.pix); i, p = i+1, p+3 {
		lv := float64(l.pix[i]) * 100 / 255
		av := float64(a.pix[i]) - 128
		bv := float64(b.pix[i]) - 128

		var y, fy float64
		if lv <= labKappa*labEpsilon {
			y = lv / labKappa
			fy = 7.787*y + 16.0/116.0
		} else {
			fy = (lv + 16) / 116
			y = fy * fy * fy
		}
		x := labFInv(fy+av/500) * whiteX
		z := labFInv(fy-bv/200) * whiteZ

		r.Pix[p] = gammaEncode(3.240479*x - 1.537150*y - 0.498535*z)
		r.Pix[p+1] = gammaEncode(-0.969256*x + 1.875991*y + 0.041556*z)
		r.Pix[p+2] = gammaEncode(0.055648*x - 0.204043*y + 1.057311*z)
	}
	return r
}
