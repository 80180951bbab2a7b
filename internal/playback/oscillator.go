package playback

import (
	"fmt"
	"math"

	"github.com/loqalabs/loqa-tone/internal/synth"
)

// Ramp moves the oscillator frequency from StartHz to EndHz over Seconds.
// Linear ramps interpolate the frequency directly; logarithmic ramps are
// exponential in time. The oscillator stops when the ramp completes.
type Ramp struct {
	StartHz float64
	EndHz   float64
	Curve   synth.Curve
	Seconds float64
}

// Oscillator describes a bank of periodic voices mixed at Gain/√N. With
// no Ramp and Seconds == 0 it runs until stopped.
type Oscillator struct {
	Waveform    synth.Waveform
	Frequencies []float64
	Gain        float64
	Ramp        *Ramp
	Seconds     float64
}

// OscillatorSource is the running form of an Oscillator.
type OscillatorSource struct {
	waveform synth.Waveform
	freqs    []float64
	phases   []float64
	gain     float64
	ramp     *Ramp
	rate     float64
	limit    int
	index    int
}

// NewOscillatorSource prepares osc for output at sampleRate.
func NewOscillatorSource(osc Oscillator, sampleRate int) (*OscillatorSource, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("playback: sample rate %d out of range", sampleRate)
	}
	if osc.Gain < 0 || osc.Gain > 1 || math.IsNaN(osc.Gain) {
		return nil, fmt.Errorf("playback: gain %v out of range", osc.Gain)
	}
	freqs := osc.Frequencies
	if osc.Ramp != nil {
		r := osc.Ramp
		if !(r.StartHz > 0) || !(r.EndHz > 0) || !(r.Seconds > 0) || !r.Curve.Valid() {
			return nil, fmt.Errorf("playback: invalid ramp %+v", *r)
		}
		freqs = []float64{r.StartHz}
	}
	if len(freqs) == 0 {
		return nil, fmt.Errorf("playback: oscillator has no frequencies")
	}
	for _, f := range freqs {
		if !(f > 0) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("playback: frequency %v out of range", f)
		}
	}
	s := &OscillatorSource{
		waveform: osc.Waveform.Tonal(),
		freqs:    append([]float64(nil), freqs...),
		phases:   make([]float64, len(freqs)),
		gain:     osc.Gain / math.Sqrt(float64(len(freqs))),
		ramp:     osc.Ramp,
		rate:     float64(sampleRate),
		limit:    -1,
	}
	seconds := osc.Seconds
	if osc.Ramp != nil {
		seconds = osc.Ramp.Seconds
	}
	if seconds > 0 {
		s.limit = int(math.Floor(seconds * s.rate))
	}
	return s, nil
}

// Frequency reports the frequency of the first voice at the current
// position.
func (s *OscillatorSource) Frequency() float64 {
	return s.frequency(0)
}

func (s *OscillatorSource) frequency(voice int) float64 {
	if s.ramp == nil {
		return s.freqs[voice]
	}
	t := float64(s.index) / s.rate
	progress := math.Min(t/s.ramp.Seconds, 1)
	return synth.CurveFrequency(s.ramp.Curve, s.ramp.StartHz, s.ramp.EndHz, progress)
}

// Read implements Source.
func (s *OscillatorSource) Read(dst []float32) int {
	n := len(dst)
	if s.limit >= 0 {
		n = min(n, s.limit-s.index)
	}
	for i := 0; i < n; i++ {
		var v float64
		for k := range s.freqs {
			v += synth.PhaseSample(s.waveform, s.phases[k], s.gain)
			s.phases[k] = math.Mod(s.phases[k]+2*math.Pi*s.frequency(k)/s.rate, 2*math.Pi)
		}
		dst[i] = float32(v)
		s.index++
	}
	return n
}
