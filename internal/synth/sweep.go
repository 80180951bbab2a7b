package synth

import "math"

const twoPi = 2 * math.Pi

// CurveFrequency maps progress in [0,1] to a frequency between start and
// end. Logarithmic curves require start and end to be positive.
func CurveFrequency(c Curve, start, end, progress float64) float64 {
	if c == Logarithmic {
		return start * math.Pow(end/start, progress)
	}
	return start + (end-start)*progress
}

// Sweep is a phase-accumulating generator whose instantaneous frequency
// moves from a start to an end frequency over a fixed duration. Each call
// to Next advances one sample, so output is identical across runs with
// identical parameters.
type Sweep struct {
	start, end float64
	curve      Curve
	duration   float64
	sampleRate float64
	waveform   Waveform
	amp        float64

	phase float64
	index int
}

func NewSweep(start, end float64, curve Curve, duration float64, sampleRate int, w Waveform, amplitude float64) *Sweep {
	return &Sweep{
		start:      start,
		end:        end,
		curve:      curve,
		duration:   duration,
		sampleRate: float64(sampleRate),
		waveform:   w.Tonal(),
		amp:        amplitude,
	}
}

// FrequencyAt is the instantaneous frequency t seconds into the sweep.
// Progress is clamped, so t <= 0 yields the start frequency and
// t >= duration yields the end frequency.
func (s *Sweep) FrequencyAt(t float64) float64 {
	progress := 0.0
	if s.duration > 0 {
		progress = t / s.duration
	}
	progress = math.Max(0, math.Min(1, progress))
	return CurveFrequency(s.curve, s.start, s.end, progress)
}

// Next advances the phase by one sample at the current instantaneous
// frequency and returns the sample value.
func (s *Sweep) Next() float64 {
	t := float64(s.index) / s.sampleRate
	s.index++
	s.phase += twoPi * s.FrequencyAt(t) / s.sampleRate
	s.phase = math.Mod(s.phase, twoPi)
	return PhaseSample(s.waveform, s.phase, s.amp)
}

// Phase is the accumulated phase after the last Next, in [0, 2π).
func (s *Sweep) Phase() float64 { return s.phase }

// Position is the number of samples produced so far.
func (s *Sweep) Position() int { return s.index }
