package synth

import (
	"fmt"
	"math"
	"strconv"

	"github.com/loqalabs/loqa-tone/internal/pcm"
)

// maxDataBytes keeps the RIFF chunk size (36 + data) inside 32 bits.
const maxDataBytes = math.MaxUint32 - 36

// Request describes one synthesis job. Treat it as immutable once built;
// Generate and NewSource copy the frequency list they need.
type Request struct {
	Mode       Mode      `json:"mode" yaml:"mode"`
	Waveform   Waveform  `json:"waveform" yaml:"waveform"`
	Amplitude  float64   `json:"amplitude" yaml:"amplitude"`
	Duration   float64   `json:"duration_seconds" yaml:"duration_seconds"`
	SampleRate int       `json:"sample_rate" yaml:"sample_rate"`
	Channels   int       `json:"channels" yaml:"channels"`
	BitDepth   pcm.Depth `json:"bit_depth" yaml:"bit_depth"`
	Normalize  bool      `json:"normalize" yaml:"normalize"`

	FrequencyHz   float64   `json:"frequency_hz,omitempty" yaml:"frequency_hz,omitempty"`
	FrequenciesHz []float64 `json:"frequencies_hz,omitempty" yaml:"frequencies_hz,omitempty"`
	StartHz       float64   `json:"start_hz,omitempty" yaml:"start_hz,omitempty"`
	EndHz         float64   `json:"end_hz,omitempty" yaml:"end_hz,omitempty"`
	Curve         Curve     `json:"curve,omitempty" yaml:"curve,omitempty"`

	// Seed makes Noise output reproducible. Nil draws from an unseeded source.
	Seed *int64 `json:"seed,omitempty" yaml:"seed,omitempty"`
}

// Frames is the per-channel sample count, floor(SampleRate * Duration).
func (r Request) Frames() int {
	return int(math.Floor(float64(r.SampleRate) * r.Duration))
}

// DataSize is the byte length of the encoded sample data.
func (r Request) DataSize() int64 {
	return int64(r.Frames()) * int64(r.Channels) * int64(r.BitDepth.Bytes())
}

// Validate checks every field before any sample is produced.
func (r Request) Validate() error {
	if !r.Mode.Valid() {
		return fmt.Errorf("%w: %s", ErrUnsupportedMode, r.Mode)
	}
	if !r.Waveform.Valid() {
		return fmt.Errorf("%w: %s", ErrUnsupportedWaveform, r.Waveform)
	}
	if !(r.Amplitude > 0 && r.Amplitude <= 1) {
		return invalid("amplitude", "must be in (0,1], got %v", r.Amplitude)
	}
	if !(r.Duration > 0) || math.IsInf(r.Duration, 0) {
		return invalid("duration_seconds", "must be positive, got %v", r.Duration)
	}
	if r.SampleRate <= 0 || int64(r.SampleRate) > math.MaxUint32 {
		return invalid("sample_rate", "must be positive, got %d", r.SampleRate)
	}
	if r.Channels < 1 || r.Channels > math.MaxUint16 {
		return invalid("channels", "must be at least 1, got %d", r.Channels)
	}
	if err := r.BitDepth.Check(); err != nil {
		return &ParamError{Field: "bit_depth", Reason: "must be 16, 24 or 32", Err: err}
	}
	switch r.Mode {
	case ModeSingle:
		if !positive(r.FrequencyHz) {
			return invalid("frequency_hz", "must be positive, got %v", r.FrequencyHz)
		}
	case ModeMulti:
		if len(r.FrequenciesHz) == 0 {
			return invalid("frequencies_hz", "must contain at least one frequency")
		}
		for i, f := range r.FrequenciesHz {
			if !positive(f) {
				return invalid("frequencies_hz", "entry %d must be positive, got %v", i, f)
			}
		}
	case ModeSweep:
		if !positive(r.StartHz) {
			return invalid("start_hz", "must be positive, got %v", r.StartHz)
		}
		if !positive(r.EndHz) {
			return invalid("end_hz", "must be positive, got %v", r.EndHz)
		}
		if !r.Curve.Valid() {
			return invalid("curve", "must be linear or log")
		}
	}
	if blockAlign := r.Channels * r.BitDepth.Bytes(); int64(r.SampleRate)*int64(blockAlign) > math.MaxUint32 {
		return invalid("sample_rate", "byte rate exceeds the WAV header range")
	}
	if float64(r.SampleRate)*r.Duration > maxDataBytes || r.DataSize() > maxDataBytes {
		return invalid("duration_seconds", "encoded size exceeds the 4 GiB WAV limit")
	}
	return nil
}

func positive(f float64) bool {
	return f > 0 && !math.IsInf(f, 1)
}

// FileName follows the download names of the browser tool, for example
// tone-sine-440Hz-16bit.wav or sweep-20-20000Hz-log-24bit.wav.
func (r Request) FileName() string {
	var name string
	switch r.Mode {
	case ModeSingle:
		name = fmt.Sprintf("tone-%s-%sHz", r.Waveform, formatHz(r.FrequencyHz))
	case ModeMulti:
		name = fmt.Sprintf("multi-tone-%s", r.Waveform)
	case ModeSweep:
		name = fmt.Sprintf("sweep-%s-%sHz-%s", formatHz(r.StartHz), formatHz(r.EndHz), curveToken(r.Curve))
	default:
		name = "tone"
	}
	return fmt.Sprintf("%s-%dbit.wav", name, int(r.BitDepth))
}

// curveToken is the short curve name used in file names: lin or log.
func curveToken(c Curve) string {
	if c == Linear {
		return "lin"
	}
	return c.String()
}

func formatHz(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
