package compressor

import (
	"fmt"
	"math"
)

// ScaleFactor returns min(maxW/w, maxH/h, 1). The result never enlarges the image.
// All arguments must be positive; zero dimensions are rejected before this point.
func ScaleFactor(width, height, maxWidth, maxHeight int) float64 {
	return math.Min(
		math.Min(float64(maxWidth)/float64(width), float64(maxHeight)/float64(height)),
		1.0,
	)
}

// TargetSize returns the output dimensions for an image fitted into maxWidth x maxHeight.
func TargetSize(width, height, maxWidth, maxHeight int) (int, int) {
	f := ScaleFactor(width, height, maxWidth, maxHeight)
	w := clamp(int(math.Round(float64(width)*f)), 1, maxWidth)
	h := clamp(int(math.Round(float64(height)*f)), 1, maxHeight)
	return w, h
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

// CompressionRatio formats compressed/original as a percentage with two decimals.
// A zero original size yields "0%".
func CompressionRatio(originalSize, compressedSize int64) string {
	if originalSize == 0 {
		return "0%"
	}
	ratio := float64(compressedSize) / float64(originalSize) * 100
	return fmt.Sprintf("%.2f%%", ratio)
}
