package synth

import "math"

// Mixer sums a fixed set of tones. Each tone is scaled by amplitude/√N so
// the mixture's level stays roughly independent of the number of tones.
type Mixer struct {
	freqs    []float64
	waveform Waveform
	toneAmp  float64
}

// NewMixer copies freqs. Noise is replaced by Sine because noise cannot be
// layered as discrete pitched tones.
func NewMixer(freqs []float64, w Waveform, amplitude float64) *Mixer {
	m := &Mixer{
		freqs:    append([]float64(nil), freqs...),
		waveform: w.Tonal(),
	}
	if len(freqs) > 0 {
		m.toneAmp = amplitude / math.Sqrt(float64(len(freqs)))
	}
	return m
}

// ToneAmplitude is the peak amplitude applied to each individual tone.
func (m *Mixer) ToneAmplitude() float64 { return m.toneAmp }

// Waveform is the effective waveform after the Noise substitution.
func (m *Mixer) Waveform() Waveform { return m.waveform }

// At returns the mixed sample at elapsed time t.
func (m *Mixer) At(t float64) float64 {
	var v float64
	for _, f := range m.freqs {
		v += Sample(m.waveform, t, f, m.toneAmp, nil)
	}
	return v
}
