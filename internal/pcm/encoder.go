package pcm

import (
	"encoding/binary"
	"math"
)

// Encoder packs samples of a fixed depth. The zero value is not usable;
// construct one with NewEncoder.
type Encoder struct {
	depth Depth
	neg   float64
	pos   float64
}

func NewEncoder(d Depth) (Encoder, error) {
	if err := d.Check(); err != nil {
		return Encoder{}, err
	}
	return Encoder{
		depth: d,
		neg:   float64(-d.Min()),
		pos:   float64(d.Max()),
	}, nil
}

func (e Encoder) Depth() Depth { return e.depth }

// Quantize clamps s and scales it to a signed word. 16 and 24 bit words
// are rounded to nearest with ties away from zero, so a negative exact
// half lands one step below a JavaScript Math.round; 32 bit words are
// truncated toward zero.
func (e Encoder) Quantize(s float64) int32 {
	s = Clamp(s)
	scale := e.pos
	if s < 0 {
		scale = e.neg
	}
	v := s * scale
	if e.depth != Depth32 {
		v = math.Round(v)
	}
	return int32(v)
}

// Put writes the quantized sample into dst and returns the number of
// bytes written. dst must hold at least Depth().Bytes() bytes.
func (e Encoder) Put(dst []byte, s float64) int {
	v := e.Quantize(s)
	switch e.depth {
	case Depth16:
		binary.LittleEndian.PutUint16(dst, uint16(int16(v)))
		return 2
	case Depth24:
		dst[0] = byte(v)
		dst[1] = byte(v >> 8)
		dst[2] = byte(v >> 16)
		return 3
	default:
		binary.LittleEndian.PutUint32(dst, uint32(v))
		return 4
	}
}

// Append quantizes samples and appends their encoding to dst.
func (e Encoder) Append(dst []byte, samples ...float64) []byte {
	var word [4]byte
	for _, s := range samples {
		n := e.Put(word[:], s)
		dst = append(dst, word[:n]...)
	}
	return dst
}

// Word decodes one little-endian sample word of depth d from src,
// sign-extending 24 bit values.
func Word(d Depth, src []byte) int32 {
	switch d {
	case Depth16:
		return int32(int16(binary.LittleEndian.Uint16(src)))
	case Depth24:
		v := int32(src[0]) | int32(src[1])<<8 | int32(src[2])<<16
		if v&0x800000 != 0 {
			v |= ^0xFFFFFF
		}
		return v
	default:
		return int32(binary.LittleEndian.Uint32(src))
	}
}
