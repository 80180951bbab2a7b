package synth

import (
	"math"
	"math/rand/v2"
)

// Sample evaluates waveform w at elapsed time t (seconds) for a tone of
// frequency freq and peak amplitude amp. freq must already be validated as
// positive; the sawtooth divides by it.
//
// Noise ignores t and freq and draws from rng, or from the package source
// when rng is nil.
func Sample(w Waveform, t, freq, amp float64, rng *rand.Rand) float64 {
	p := 2 * math.Pi * freq * t
	switch w {
	case Sine:
		return math.Sin(p) * amp
	case Square:
		return squareOf(p) * amp
	case Triangle:
		return triangleOf(p) * amp
	case Sawtooth:
		return (2 / math.Pi) * (freq*math.Pi*math.Mod(t, 1/freq) - math.Pi/2) * amp
	case Noise:
		return noise(rng) * amp
	}
	return 0
}

// PhaseSample evaluates waveform w from an accumulated phase in [0, 2π).
// This is the form used by the sweep and by live oscillators. Its sawtooth
// ramps over the phase, (2/π)(phase−π), which differs from the time-domain
// sawtooth in Sample. Noise is treated as Sine.
func PhaseSample(w Waveform, phase, amp float64) float64 {
	switch w.Tonal() {
	case Sine:
		return math.Sin(phase) * amp
	case Square:
		return squareOf(phase) * amp
	case Triangle:
		return triangleOf(phase) * amp
	case Sawtooth:
		return (2 / math.Pi) * (phase - math.Pi) * amp
	}
	return 0
}

// squareOf returns the sign of sin(p), with sign(0) = +1.
func squareOf(p float64) float64 {
	if math.Sin(p) >= 0 {
		return 1
	}
	return -1
}

func triangleOf(p float64) float64 {
	return (2 / math.Pi) * math.Asin(math.Sin(p))
}

func noise(rng *rand.Rand) float64 {
	if rng == nil {
		return rand.Float64()*2 - 1
	}
	return rng.Float64()*2 - 1
}

// NewNoiseSource returns a generator seeded from seed, or a randomly seeded
// one when seed is nil.
func NewNoiseSource(seed *int64) *rand.Rand {
	if seed == nil {
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return rand.New(rand.NewPCG(uint64(*seed), 0x9E3779B97F4A7C15))
}
