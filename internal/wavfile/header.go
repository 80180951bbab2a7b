// Package wavfile writes and reads canonical 44-byte-header PCM RIFF/WAVE
// files.
package wavfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/loqalabs/loqa-tone/internal/pcm"
)

// HeaderSize is the length of the canonical RIFF/WAVE header.
const HeaderSize = 44

const formatPCM = 1

var (
	// ErrNotWAV indicates the input does not start with a RIFF/WAVE header.
	ErrNotWAV = errors.New("wavfile: not a RIFF/WAVE file")
	// ErrUnsupportedLayout indicates a header that is not canonical PCM.
	ErrUnsupportedLayout = errors.New("wavfile: unsupported header layout")
	// ErrTooLarge indicates the data would overflow the 32-bit size fields.
	ErrTooLarge = errors.New("wavfile: data exceeds 4 GiB limit")
)

// Header carries the fields of the fmt and data chunks.
type Header struct {
	Channels   int
	SampleRate int
	BitDepth   pcm.Depth
	DataSize   uint32
}

// NewHeader sizes a header for frames sample frames.
func NewHeader(channels, sampleRate int, depth pcm.Depth, frames int) (Header, error) {
	if err := depth.Check(); err != nil {
		return Header{}, err
	}
	if channels < 1 || channels > math.MaxUint16 {
		return Header{}, fmt.Errorf("wavfile: channel count %d out of range", channels)
	}
	if sampleRate <= 0 || int64(sampleRate) > math.MaxUint32 {
		return Header{}, fmt.Errorf("wavfile: sample rate %d out of range", sampleRate)
	}
	if frames < 0 {
		return Header{}, fmt.Errorf("wavfile: negative frame count %d", frames)
	}
	h := Header{Channels: channels, SampleRate: sampleRate, BitDepth: depth}
	size := int64(frames) * int64(h.BlockAlign())
	if size > math.MaxUint32-36 || int64(sampleRate)*int64(h.BlockAlign()) > math.MaxUint32 {
		return Header{}, ErrTooLarge
	}
	h.DataSize = uint32(size)
	return h, nil
}

// BlockAlign is the size of one frame across all channels.
func (h Header) BlockAlign() int {
	return h.Channels * h.BitDepth.Bytes()
}

// ByteRate is the number of data bytes per second.
func (h Header) ByteRate() int {
	return h.SampleRate * h.BlockAlign()
}

// Frames is the number of sample frames described by DataSize.
func (h Header) Frames() int {
	if h.BlockAlign() == 0 {
		return 0
	}
	return int(h.DataSize) / h.BlockAlign()
}

// Bytes renders the 44-byte header.
func (h Header) Bytes() []byte {
	b := make([]byte, HeaderSize)
	copy(b[0:4], "RIFF")
	binary.LittleEndian.PutUint32(b[4:8], 36+h.DataSize)
	copy(b[8:12], "WAVE")
	copy(b[12:16], "fmt ")
	binary.LittleEndian.PutUint32(b[16:20], 16)
	binary.LittleEndian.PutUint16(b[20:22], formatPCM)
	binary.LittleEndian.PutUint16(b[22:24], uint16(h.Channels))
	binary.LittleEndian.PutUint32(b[24:28], uint32(h.SampleRate))
	binary.LittleEndian.PutUint32(b[28:32], uint32(h.ByteRate()))
	binary.LittleEndian.PutUint16(b[32:34], uint16(h.BlockAlign()))
	binary.LittleEndian.PutUint16(b[34:36], uint16(h.BitDepth))
	copy(b[36:40], "data")
	binary.LittleEndian.PutUint32(b[40:44], h.DataSize)
	return b
}

// ParseHeader decodes and checks a canonical header.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: short header (%d bytes)", ErrNotWAV, len(b))
	}
	if string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return Header{}, ErrNotWAV
	}
	if string(b[12:16]) != "fmt " || binary.LittleEndian.Uint32(b[16:20]) != 16 || string(b[36:40]) != "data" {
		return Header{}, ErrUnsupportedLayout
	}
	if format := binary.LittleEndian.Uint16(b[20:22]); format != formatPCM {
		return Header{}, fmt.Errorf("%w: audio format %d", ErrUnsupportedLayout, format)
	}
	h := Header{
		Channels:   int(binary.LittleEndian.Uint16(b[22:24])),
		SampleRate: int(binary.LittleEndian.Uint32(b[24:28])),
		BitDepth:   pcm.Depth(binary.LittleEndian.Uint16(b[34:36])),
		DataSize:   binary.LittleEndian.Uint32(b[40:44]),
	}
	if err := h.BitDepth.Check(); err != nil {
		return Header{}, fmt.Errorf("%w: %w", ErrUnsupportedLayout, err)
	}
	if h.Channels == 0 {
		return Header{}, fmt.Errorf("%w: zero channels", ErrUnsupportedLayout)
	}
	if got := int(binary.LittleEndian.Uint16(b[32:34])); got != h.BlockAlign() {
		return Header{}, fmt.Errorf("%w: block align %d, want %d", ErrUnsupportedLayout, got, h.BlockAlign())
	}
	if got := binary.LittleEndian.Uint32(b[28:32]); got != uint32(h.ByteRate()) {
		return Header{}, fmt.Errorf("%w: byte rate %d, want %d", ErrUnsupportedLayout, got, h.ByteRate())
	}
	if riff := binary.LittleEndian.Uint32(b[4:8]); riff != 36+h.DataSize {
		return Header{}, fmt.Errorf("%w: riff size %d, want %d", ErrUnsupportedLayout, riff, 36+h.DataSize)
	}
	return h, nil
}

// ReadHeader reads and parses the first 44 bytes of r.
func ReadHeader(r io.Reader) (Header, error) {
	b := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, b); err != nil {
		return Header{}, fmt.Errorf("read wav header: %w", err)
	}
	return ParseHeader(b)
}
