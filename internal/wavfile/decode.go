package wavfile

import (
	"fmt"
	"io"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/loqalabs/loqa-tone/internal/pcm"
)

// Clip is a decoded file with samples scaled back to [-1, 1].
type Clip struct {
	SampleRate int
	BitDepth   pcm.Depth
	Channels   [][]float64
}

// Frames is the per-channel sample count.
func (c Clip) Frames() int {
	if len(c.Channels) == 0 {
		return 0
	}
	return len(c.Channels[0])
}

// Decode reads a PCM WAV file, including ones with extra chunks that
// ReadHeader would reject.
func Decode(r io.ReadSeeker) (Clip, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return Clip{}, ErrNotWAV
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Clip{}, fmt.Errorf("decode wav: %w", err)
	}
	depth := pcm.Depth(dec.BitDepth)
	if err := depth.Check(); err != nil {
		return Clip{}, fmt.Errorf("%w: %w", ErrUnsupportedLayout, err)
	}
	return clipFrom(buf, depth), nil
}

func clipFrom(buf *audio.IntBuffer, depth pcm.Depth) Clip {
	channels := buf.Format.NumChannels
	if channels < 1 {
		channels = 1
	}
	frames := len(buf.Data) / channels
	out := Clip{
		SampleRate: buf.Format.SampleRate,
		BitDepth:   depth,
		Channels:   make([][]float64, channels),
	}
	for c := range out.Channels {
		out.Channels[c] = make([]float64, frames)
	}
	neg := -float64(depth.Min())
	pos := float64(depth.Max())
	for i := 0; i < frames*channels; i++ {
		v := float64(buf.Data[i])
		if v < 0 {
			v /= neg
		} else {
			v /= pos
		}
		out.Channels[i%channels][i/channels] = v
	}
	return out
}
