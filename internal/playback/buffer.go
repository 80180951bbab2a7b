package playback

import (
	"math/rand/v2"

	"github.com/loqalabs/loqa-tone/internal/synth"
)

// NoiseLoopSeconds is the length of the looped noise preview buffer.
const NoiseLoopSeconds = 2

// BufferSource plays a fixed mono buffer, optionally looping it.
type BufferSource struct {
	samples []float32
	loop    bool
	pos     int
}

func NewBufferSource(samples []float32, loop bool) *BufferSource {
	return &BufferSource{samples: samples, loop: loop}
}

// NewNoiseLoop fills a NoiseLoopSeconds buffer with uniform noise scaled
// by amplitude and loops it.
func NewNoiseLoop(sampleRate int, amplitude float64, rng *rand.Rand) *BufferSource {
	buf := make([]float32, sampleRate*NoiseLoopSeconds)
	for i := range buf {
		buf[i] = float32(synth.Sample(synth.Noise, 0, 0, amplitude, rng))
	}
	return NewBufferSource(buf, true)
}

// Read implements Source.
func (b *BufferSource) Read(dst []float32) int {
	if len(b.samples) == 0 {
		return 0
	}
	n := 0
	for n < len(dst) {
		if b.pos == len(b.samples) {
			if !b.loop {
				break
			}
			b.pos = 0
		}
		c := copy(dst[n:], b.samples[b.pos:])
		b.pos += c
		n += c
	}
	return n
}
