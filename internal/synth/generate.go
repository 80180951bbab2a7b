package synth

import "math/rand/v2"

// Buffer holds one sample slice per channel. Every channel has the same
// length and, in this generator, the same content.
type Buffer [][]float64

// Channels is the number of channel slices.
func (b Buffer) Channels() int { return len(b) }

// Frames is the per-channel length.
func (b Buffer) Frames() int {
	if len(b) == 0 {
		return 0
	}
	return len(b[0])
}

// Peak is the largest absolute sample in the buffer.
func (b Buffer) Peak() float64 { return Peak(b) }

// Source produces the mono signal of a validated request one block at a
// time. The same Source drives both the buffered and the streaming paths,
// which is what keeps their output identical.
type Source struct {
	req   Request
	total int
	next  int
	rate  float64

	mixer *Mixer
	sweep *Sweep
	rng   *rand.Rand
}

// NewSource validates req and prepares a generator for it.
func NewSource(req Request) (*Source, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	s := &Source{
		req:   req,
		total: req.Frames(),
		rate:  float64(req.SampleRate),
	}
	switch req.Mode {
	case ModeSingle:
		if req.Waveform == Noise {
			s.rng = NewNoiseSource(req.Seed)
		}
	case ModeMulti:
		s.mixer = NewMixer(req.FrequenciesHz, req.Waveform, req.Amplitude)
	case ModeSweep:
		s.sweep = NewSweep(req.StartHz, req.EndHz, req.Curve, req.Duration, req.SampleRate, req.Waveform, req.Amplitude)
	}
	return s, nil
}

// Len is the total number of frames the source produces.
func (s *Source) Len() int { return s.total }

// Remaining is the number of frames not yet produced.
func (s *Source) Remaining() int { return s.total - s.next }

// Read fills dst with the next mono samples and returns how many were
// written; 0 means the source is exhausted.
func (s *Source) Read(dst []float64) int {
	n := min(len(dst), s.total-s.next)
	for i := 0; i < n; i++ {
		dst[i] = s.at(s.next + i)
	}
	s.next += n
	return n
}

func (s *Source) at(i int) float64 {
	switch s.req.Mode {
	case ModeMulti:
		return s.mixer.At(float64(i) / s.rate)
	case ModeSweep:
		return s.sweep.Next()
	default:
		return Sample(s.req.Waveform, float64(i)/s.rate, s.req.FrequencyHz, s.req.Amplitude, s.rng)
	}
}

// Generate validates req, synthesizes the full signal, duplicates it into
// every channel and applies peak normalization when requested.
func Generate(req Request) (Buffer, error) {
	src, err := NewSource(req)
	if err != nil {
		return nil, err
	}
	mono := make([]float64, src.Len())
	src.Read(mono)

	buf := make(Buffer, req.Channels)
	buf[0] = mono
	for c := 1; c < req.Channels; c++ {
		buf[c] = append([]float64(nil), mono...)
	}
	if req.Normalize {
		Normalize(buf)
	}
	return buf, nil
}
