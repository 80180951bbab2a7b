// Package pcm quantizes floating point samples into signed little-endian
// integer words of 16, 24 or 32 bits.
//
// Samples are clamped to [-1, 1] before scaling. Negative values scale by
// the magnitude of the most negative word and positive values by the
// largest positive word, so both -1.0 and +1.0 land exactly on the
// extremes of the range without overflowing.
package pcm

import (
	"errors"
	"fmt"
	"math"
)

// ErrUnsupportedBitDepth is returned for any depth other than 16, 24 or 32.
var ErrUnsupportedBitDepth = errors.New("pcm: unsupported bit depth")

// Depth is a sample word size in bits.
type Depth int

const (
	Depth16 Depth = 16
	Depth24 Depth = 24
	Depth32 Depth = 32
)

// Valid reports whether d is a supported depth.
func (d Depth) Valid() bool {
	return d == Depth16 || d == Depth24 || d == Depth32
}

// Bytes is the size of one encoded sample word.
func (d Depth) Bytes() int {
	return int(d) / 8
}

// Min returns the most negative word for d.
func (d Depth) Min() int64 {
	return -(int64(1) << (uint(d) - 1))
}

// Max returns the largest positive word for d.
func (d Depth) Max() int64 {
	return int64(1)<<(uint(d)-1) - 1
}

// Check returns ErrUnsupportedBitDepth wrapped with the offending value.
func (d Depth) Check() error {
	if !d.Valid() {
		return fmt.Errorf("%w: %d", ErrUnsupportedBitDepth, int(d))
	}
	return nil
}

// Clamp limits s to [-1, 1]. NaN maps to 0.
func Clamp(s float64) float64 {
	if s != s {
		return 0
	}
	return math.Max(-1, math.Min(1, s))
}

// Quantize converts one sample to a signed word of depth d.
func Quantize(d Depth, s float64) (int32, error) {
	enc, err := NewEncoder(d)
	if err != nil {
		return 0, err
	}
	return enc.Quantize(s), nil
}
