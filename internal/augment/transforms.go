// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package augment

import (
	"image"
	"image/color"
	"math"
	"math/rand/v2"

	"github.com/disintegration/imaging"
	"github.com/lucasb-eyer/go-colorful"
)

// Range is a closed-open interval [Min, Max) random factors are drawn from.
type Range struct {
	Min, Max float64
}

// sample draws uniformly from the range.
func (r Range) sample(rng *rand.Rand) float64 {
	return r.Min + rng.Float64()*(r.Max-r.Min)
}

// rngFor returns the generator for the sample at index of a stage: the same (seed, index) always
// yields the same perturbation.
func rngFor(seed uint64, index int) *rand.Rand {
	return rand.New(rand.NewPCG(seed, uint64(index)))
}

func toColorful(c color.NRGBA) colorful.Color {
	return colorful.Color{R: float64(c.R) / 255, G: float64(c.G) / 255, B: float64(c.B) / 255}
}

func fromColorful(c colorful.Color, alpha uint8) color.NRGBA {
	r, g, b := c.Clamped().RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: alpha}
}

// AdjustSaturation multiplies the HSV saturation of every pixel by factor, clipping it to [0, 1].
func AdjustSaturation(img image.Image, factor float64) *image.NRGBA {
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		h, s, v := toColorful(c).Hsv()
		s = min(max(s*factor, 0), 1)
		return fromColorful(colorful.Hsv(h, s, v), c.A)
	})
}

// AdjustHue rotates the HSV hue of every pixel by delta, given as a fraction of a full turn, in [-1, 1].
func AdjustHue(img image.Image, delta float64) *image.NRGBA {
	shift := delta * 360
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		h, s, v := toColorful(c).Hsv()
		h = math.Mod(h+shift, 360)
		if h < 0 {
			h += 360
		}
		return fromColorful(colorful.Hsv(h, s, v), c.A)
	})
}

// AdjustContrast moves every channel value away from (factor > 1) or towards (factor < 1) the mean of
// that channel over the whole image: (x - mean) * factor + mean.
func AdjustContrast(img image.Image, factor float64) *image.NRGBA {
	src := imaging.Clone(img)
	var sums [3]float64
	numPixels := len(src.Pix) / 4
	for ii := 0; ii < len(src.Pix); ii += 4 {
		for ch := range 3 {
			sums[ch] += float64(src.Pix[ii+ch])
		}
	}
	var means [3]float64
	if numPixels > 0 {
		for ch := range 3 {
			means[ch] = sums[ch] / float64(numPixels)
		}
	}
	adjust := func(value uint8, mean float64) uint8 {
		x := (float64(value)-mean)*factor + mean
		return uint8(min(max(math.Round(x), 0), 255))
	}
	return imaging.AdjustFunc(src, func(c color.NRGBA) color.NRGBA {
		return color.NRGBA{
			R: adjust(c.R, means[0]),
			G: adjust(c.G, means[1]),
			B: adjust(c.B, means[2]),
			A: c.A,
		}
	})
}

// FillColor used for the corners uncovered by a rotation.
var FillColor = color.NRGBA{R: 0, G: 0, B: 0, A: 255}

// Rotate rotates img counter-clockwise by the given fraction of a full turn, keeping its original
// size: the rotated canvas is cropped around its center, and uncovered areas are filled with FillColor.
func Rotate(img image.Image, turns float64) *image.NRGBA {
	width, height := img.Bounds().Dx(), img.Bounds().Dy()
	rotated := imaging.CropCenter(imaging.Rotate(img, turns*360, FillColor), width, height)
	if b := rotated.Bounds(); b.Dx() != width || b.Dy() != height {
		// Non-square images rotated close to 90 degrees have a narrower canvas.
		rotated = imaging.PasteCenter(imaging.New(width, height, FillColor), rotated)
	}
	return rotated
}
