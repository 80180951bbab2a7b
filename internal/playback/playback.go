// Package playback drives live audio output for synthesis requests.
//
// A Source yields mono float32 samples; a Device turns a Source into
// sound (or bytes on a pipe). Session ties the two together and owns the
// start/stop lifecycle for one output.
package playback

import (
	"encoding/binary"
	"errors"
	"io"
	"math"

	"github.com/loqalabs/loqa-tone/internal/pcm"
)

var (
	// ErrUnsupported is returned by devices unavailable in this build.
	ErrUnsupported = errors.New("playback: device not supported in this build")
	// ErrDisabled is returned when playback is switched off in config.
	ErrDisabled = errors.New("playback: disabled")
)

// Source produces mono samples. Read fills dst and returns the number of
// samples written; a count below len(dst) means the source has ended.
type Source interface {
	Read(dst []float32) int
}

// Device renders a Source. Start replaces whatever the device was
// playing. Stop must be safe to call at any time, any number of times.
type Device interface {
	Name() string
	SampleRate() int
	Start(src Source) error
	Stop() error
	Close() error
}

// sampleWriter encodes one sample at dst and returns the bytes used.
type sampleWriter func(dst []byte, s float32) int

func putFloat32(dst []byte, s float32) int {
	binary.LittleEndian.PutUint32(dst, math.Float32bits(s))
	return 4
}

func putPCM16(enc pcm.Encoder) sampleWriter {
	return func(dst []byte, s float32) int {
		return enc.Put(dst, float64(s))
	}
}

// frameReader adapts a Source to an io.Reader of interleaved frames,
// duplicating each mono sample into every channel.
type frameReader struct {
	src      Source
	channels int
	width    int
	put      sampleWriter

	block   []float32
	pending []byte
	done    bool
}

func newFrameReader(src Source, channels, width int, put sampleWriter) *frameReader {
	if channels < 1 {
		channels = 1
	}
	return &frameReader{
		src:      src,
		channels: channels,
		width:    width,
		put:      put,
		block:    make([]float32, 1024),
	}
}

func (r *frameReader) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		if len(r.pending) == 0 {
			if r.done {
				break
			}
			r.fill()
			continue
		}
		c := copy(p[n:], r.pending)
		r.pending = r.pending[c:]
		n += c
	}
	if n == 0 && r.done {
		return 0, io.EOF
	}
	return n, nil
}

func (r *frameReader) fill() {
	got := r.src.Read(r.block)
	if got < len(r.block) {
		r.done = true
	}
	buf := make([]byte, got*r.channels*r.width)
	off := 0
	for _, s := range r.block[:got] {
		for c := 0; c < r.channels; c++ {
			off += r.put(buf[off:], s)
		}
	}
	r.pending = buf
}
