package region

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// Enhance applies the transform matching regionName:
//   - micr_region: binarize with an Otsu threshold, dark ink on white
//   - amount_region, check_number_region: sharpen then normalize
//   - signature_region: normalize then percentile stretch
//   - anything else: normalize
//
// A failure never propagates: the original image is returned with
// degraded set, and extraction continues on the raw crop.
func (s *Segmenter) Enhance(img image.Image, regionName string) (out image.Image, degraded bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("Enhancement failed, using original region", "region", regionName, "error", r)
			out, degraded = img, true
		}
	}()

	if img == nil || img.Bounds().Empty() {
		s.logger.Warn("Enhancement skipped for empty region", "region", regionName)
		return img, true
	}

	gray := imaging.Grayscale(img)
	switch regionName {
	case MICRRegion:
		return binarize(normalize(gray)), false
	case AmountRegion, CheckNumberRegion:
		return normalize(imaging.Sharpen(gray, 1.0)), false
	case SignatureRegion:
		return stretch(normalize(gray), 0.02, 0.98), false
	default:
		return normalize(gray), false
	}
}

// normalize maps the darkest luminance to 0 and the brightest to 255
func normalize(gray *image.NRGBA) *image.NRGBA {
	hist := imaging.Histogram(gray)
	lo, hi := 0, 255
	for lo < 255 && hist[lo] == 0 {
		lo++
	}
	for hi > 0 && hist[hi] == 0 {
		hi--
	}
	return linearMap(gray, lo, hi)
}

// stretch maps the [low, high] luminance percentiles onto the full range,
// saturating the tails.
func stretch(gray *image.NRGBA, low, high float64) *image.NRGBA {
	hist := imaging.Histogram(gray)
	lo, hi := -1, 255
	var cum float64
	for i, v := range hist {
		cum += v
		if lo < 0 && cum >= low {
			lo = i
		}
		if cum >= high {
			hi = i
			break
		}
	}
	if lo < 0 {
		lo = 0
	}
	return linearMap(gray, lo, hi)
}

func linearMap(gray *image.NRGBA, lo, hi int) *image.NRGBA {
	if hi <= lo {
		return gray
	}
	span := float64(hi - lo)
	return imaging.AdjustFunc(gray, func(c color.NRGBA) color.NRGBA {
		v := (float64(c.R) - float64(lo)) * 255 / span
		if v < 0 {
			v = 0
		} else if v > 255 {
			v = 255
		}
		u := uint8(v + 0.5)
		return color.NRGBA{R: u, G: u, B: u, A: c.A}
	})
}

// binarize thresholds at the Otsu level and inverts when the ink turned out
// lighter than the background.
func binarize(gray *image.NRGBA) *image.NRGBA {
	hist := imaging.Histogram(gray)
	t := otsu(hist)
	bin := imaging.AdjustFunc(gray, func(c color.NRGBA) color.NRGBA {
		var v uint8 = 255
		if int(c.R) <= t {
			v = 0
		}
		return color.NRGBA{R: v, G: v, B: v, A: c.A}
	})

	var dark float64
	for i := 0; i <= t && i < len(hist); i++ {
		dark += hist[i]
	}
	if dark > 0.5 {
		return imaging.Invert(bin)
	}
	return bin
}

// otsu returns the threshold maximising between-class variance of a
// normalised histogram
func otsu(hist [256]float64) int {
	var mean float64
	for i, p := range hist {
		mean += float64(i) * p
	}
	best, bestVar := 127, -1.0
	var w0, mu0 float64
	for t := 0; t < 255; t++ {
		w0 += hist[t]
		mu0 += float64(t) * hist[t]
		w1 := 1 - w0
		if w0 == 0 || w1 <= 0 {
			continue
		}
		m0 := mu0 / w0
		m1 := (mean - mu0) / w1
		v := w0 * w1 * (m0 - m1) * (m0 - m1)
		if v > bestVar {
			bestVar, best = v, t
		}
	}
	return best
}
