package synth

import (
	"fmt"
	"strings"
)

// Mode selects how a request is turned into samples.
type Mode int

const (
	ModeSingle Mode = iota + 1
	ModeMulti
	ModeSweep
)

func (m Mode) String() string {
	switch m {
	case ModeSingle:
		return "single"
	case ModeMulti:
		return "multi"
	case ModeSweep:
		return "sweep"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Valid reports whether m is one of the declared modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeSingle, ModeMulti, ModeSweep:
		return true
	}
	return false
}

// ParseMode accepts the canonical names plus "multiple".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "single":
		return ModeSingle, nil
	case "multi", "multiple":
		return ModeMulti, nil
	case "sweep":
		return ModeSweep, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedMode, s)
}

func (m Mode) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedMode, int(m))
	}
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Waveform is the per-sample shape of a tone.
type Waveform int

const (
	Sine Waveform = iota + 1
	Square
	Triangle
	Sawtooth
	Noise
)

func (w Waveform) String() string {
	switch w {
	case Sine:
		return "sine"
	case Square:
		return "square"
	case Triangle:
		return "triangle"
	case Sawtooth:
		return "sawtooth"
	case Noise:
		return "noise"
	default:
		return fmt.Sprintf("waveform(%d)", int(w))
	}
}

// Valid reports whether w is one of the declared waveforms.
func (w Waveform) Valid() bool {
	switch w {
	case Sine, Square, Triangle, Sawtooth, Noise:
		return true
	}
	return false
}

// Tonal returns w with Noise replaced by Sine. Noise has no pitch, so the
// mixer, the sweep and the live oscillators substitute a sine for it.
func (w Waveform) Tonal() Waveform {
	if w == Noise {
		return Sine
	}
	return w
}

func ParseWaveform(s string) (Waveform, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sine", "sin":
		return Sine, nil
	case "square":
		return Square, nil
	case "triangle":
		return Triangle, nil
	case "sawtooth", "saw":
		return Sawtooth, nil
	case "noise", "whitenoise", "white":
		return Noise, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedWaveform, s)
}

func (w Waveform) MarshalText() ([]byte, error) {
	if !w.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedWaveform, int(w))
	}
	return []byte(w.String()), nil
}

func (w *Waveform) UnmarshalText(text []byte) error {
	parsed, err := ParseWaveform(string(text))
	if err != nil {
		return err
	}
	*w = parsed
	return nil
}

// Curve maps sweep progress in [0,1] to an instantaneous frequency.
type Curve int

const (
	Linear Curve = iota + 1
	Logarithmic
)

func (c Curve) String() string {
	switch c {
	case Linear:
		return "linear"
	case Logarithmic:
		return "log"
	default:
		return fmt.Sprintf("curve(%d)", int(c))
	}
}

func (c Curve) Valid() bool {
	return c == Linear || c == Logarithmic
}

func ParseCurve(s string) (Curve, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "lin", "linear":
		return Linear, nil
	case "log", "logarithmic", "exp", "exponential":
		return Logarithmic, nil
	}
	return 0, invalid("curve", "unknown sweep curve %q", s)
}

func (c Curve) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, invalid("curve", "unknown sweep curve %d", int(c))
	}
	return []byte(c.String()), nil
}

func (c *Curve) UnmarshalText(text []byte) error {
	parsed, err := ParseCurve(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
