package screen

import (
	"image"
	"image/color"
)

// pixelTolerance is the largest grayscale difference still counted as equal.
const pixelTolerance = 10

// SimilarityRatio returns the share of pixels whose grayscale values differ
// by less than pixelTolerance. Images of different sizes score 0.
func SimilarityRatio(a, b image.Image) float64 {
	if a == nil || b == nil {
		return 0
	}
	ab, bb := a.Bounds(), b.Bounds()
	if ab.Dx() != bb.Dx() || ab.Dy() != bb.Dy() {
		return 0
	}
	total := ab.Dx() * ab.Dy()
	if total == 0 {
		return 1
	}

	same := 0
	for y := 0; y < ab.Dy(); y++ {
		for x := 0; x < ab.Dx(); x++ {
			ga := gray(a.At(ab.Min.X+x, ab.Min.Y+y))
			gb := gray(b.At(bb.Min.X+x, bb.Min.Y+y))
			diff := int(ga) - int(gb)
			if diff < 0 {
				diff = -diff
			}
			if diff < pixelTolerance {
				same++
			}
		}
	}
	return float64(same) / float64(total)
}

// Similar reports whether two captures are near-identical.
func Similar(a, b image.Image, threshold float64) bool {
	return SimilarityRatio(a, b) > threshold
}

func gray(c color.Color) uint8 {
	return color.GrayModel.Convert(c).(color.Gray).Y
}
