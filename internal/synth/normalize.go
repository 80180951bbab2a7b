package synth

import "math"

// Peak is the largest absolute sample across all channels.
func Peak(channels [][]float64) float64 {
	var peak float64
	for _, ch := range channels {
		for _, s := range ch {
			if a := math.Abs(s); a > peak {
				peak = a
			}
		}
	}
	return peak
}

// Normalize scales every channel by one global factor so the peak becomes
// 1.0, preserving the balance between channels. Silence is left untouched.
// It returns the gain that was applied (1 for silence).
func Normalize(channels [][]float64) float64 {
	peak := Peak(channels)
	if peak == 0 {
		return 1
	}
	gain := 1 / peak
	for _, ch := range channels {
		for i := range ch {
			ch[i] *= gain
		}
	}
	return gain
}
