package lookahead

import "math"

func Abs(x float32) float32 {
	if x > 0 {
		return x
	}
	return -x
}

func Pow(x, y float32) float32 {
	return float32(math.Pow(float64(x), float64(y)))
}

func Sqrt(x float32) float32 {
	return float32(math.Sqrt(float64(x)))
}

// IsFinite reports whether every value in xs is neither NaN nor infinite.
func IsFinite(xs []float32) bool {
	for _, x := range xs {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return false
		}
	}
	return true
}
