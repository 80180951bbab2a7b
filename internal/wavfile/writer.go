package wavfile

import (
	"errors"
	"fmt"
	"io"

	"github.com/loqalabs/loqa-tone/internal/pcm"
)

// ErrFrameCount is returned when a Writer receives more or fewer frames
// than its header announced.
var ErrFrameCount = errors.New("wavfile: frame count does not match header")

// Writer streams interleaved frames after a header whose sizes are fixed
// up front, so the output never needs to be seeked or buffered.
type Writer struct {
	w       io.Writer
	header  Header
	enc     pcm.Encoder
	total   int
	written int
	scratch []byte
}

// NewWriter writes the header for frames frames to w.
func NewWriter(w io.Writer, channels, sampleRate int, depth pcm.Depth, frames int) (*Writer, error) {
	h, err := NewHeader(channels, sampleRate, depth, frames)
	if err != nil {
		return nil, err
	}
	enc, err := pcm.NewEncoder(depth)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(h.Bytes()); err != nil {
		return nil, fmt.Errorf("write wav header: %w", err)
	}
	return &Writer{w: w, header: h, enc: enc, total: frames}, nil
}

func (w *Writer) Header() Header { return w.header }

// Written is the number of frames written so far.
func (w *Writer) Written() int { return w.written }

// WriteChannels interleaves equal-length channel slices, frame by frame.
func (w *Writer) WriteChannels(channels [][]float64) error {
	if len(channels) != w.header.Channels {
		return fmt.Errorf("wavfile: got %d channels, header has %d", len(channels), w.header.Channels)
	}
	n := len(channels[0])
	for _, ch := range channels[1:] {
		if len(ch) != n {
			return errors.New("wavfile: channel lengths differ")
		}
	}
	if w.written+n > w.total {
		return ErrFrameCount
	}
	buf := w.grow(n)
	off := 0
	for i := 0; i < n; i++ {
		for _, ch := range channels {
			off += w.enc.Put(buf[off:], ch[i])
		}
	}
	return w.flush(buf, n)
}

// WriteMono writes samples duplicated into every channel.
func (w *Writer) WriteMono(samples []float64) error {
	n := len(samples)
	if w.written+n > w.total {
		return ErrFrameCount
	}
	buf := w.grow(n)
	width := w.header.BitDepth.Bytes()
	off := 0
	for _, s := range samples {
		first := off
		off += w.enc.Put(buf[off:], s)
		for c := 1; c < w.header.Channels; c++ {
			off += copy(buf[off:], buf[first:first+width])
		}
	}
	return w.flush(buf, n)
}

// Close verifies that every announced frame was written. It does not
// close the underlying writer.
func (w *Writer) Close() error {
	if w.written != w.total {
		return fmt.Errorf("%w: wrote %d of %d frames", ErrFrameCount, w.written, w.total)
	}
	return nil
}

func (w *Writer) grow(frames int) []byte {
	need := frames * w.header.BlockAlign()
	if cap(w.scratch) < need {
		w.scratch = make([]byte, need)
	}
	return w.scratch[:need]
}

func (w *Writer) flush(buf []byte, frames int) error {
	if _, err := w.w.Write(buf); err != nil {
		return fmt.Errorf("write wav data: %w", err)
	}
	w.written += frames
	return nil
}

// encodeBlockFrames bounds the scratch buffer Encode interleaves through.
const encodeBlockFrames = 4096

// Encode serializes a complete channel buffer into a WAV byte slice.
func Encode(channels [][]float64, sampleRate int, depth pcm.Depth) ([]byte, error) {
	if len(channels) == 0 {
		return nil, errors.New("wavfile: no channels")
	}
	frames := len(channels[0])
	for _, ch := range channels[1:] {
		if len(ch) != frames {
			return nil, errors.New("wavfile: channel lengths differ")
		}
	}
	h, err := NewHeader(len(channels), sampleRate, depth, frames)
	if err != nil {
		return nil, err
	}
	out := &sliceWriter{buf: make([]byte, 0, HeaderSize+int(h.DataSize))}
	w, err := NewWriter(out, len(channels), sampleRate, depth, frames)
	if err != nil {
		return nil, err
	}
	view := make([][]float64, len(channels))
	for start := 0; start < frames; start += encodeBlockFrames {
		end := min(start+encodeBlockFrames, frames)
		for c := range channels {
			view[c] = channels[c][start:end]
		}
		if err := w.WriteChannels(view); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return out.buf, nil
}

type sliceWriter struct{ buf []byte }

func (s *sliceWriter) Write(p []byte) (int, error) {
	s.buf = append(s.buf, p...)
	return len(p), nil
}
