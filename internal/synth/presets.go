package synth

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/loqalabs/loqa-tone/internal/pcm"
)

// Preset is a named, ready-to-render request.
type Preset struct {
	Name        string  `json:"name" yaml:"name"`
	Description string  `json:"description,omitempty" yaml:"description,omitempty"`
	Request     Request `json:"request" yaml:"request"`
}

// Calibration frequencies with the amplitude used for each: bass presets
// run hotter, treble presets quieter.
var frequencyPresets = []struct {
	hz  float64
	amp float64
}{
	{20, 0.9}, {35, 0.9}, {40, 0.9}, {60, 0.8}, {80, 0.8}, {100, 0.8}, {125, 0.8},
	{250, 0.7}, {315, 0.7}, {500, 0.7}, {630, 0.7}, {1000, 0.7}, {1250, 0.7},
	{2000, 0.6}, {2500, 0.6}, {4000, 0.6}, {5000, 0.6},
	{8000, 0.5}, {10000, 0.5}, {12500, 0.5}, {16000, 0.5},
}

// Presets returns the built-in presets in a stable order.
func Presets() []Preset {
	presets := make([]Preset, 0, len(frequencyPresets)+3)
	for _, fp := range frequencyPresets {
		presets = append(presets, Preset{
			Name:        fmt.Sprintf("%shz", formatHz(fp.hz)),
			Description: fmt.Sprintf("%s Hz sine calibration tone", formatHz(fp.hz)),
			Request: Request{
				Mode:        ModeSingle,
				Waveform:    Sine,
				FrequencyHz: fp.hz,
				Amplitude:   fp.amp,
				Duration:    10,
				SampleRate:  48000,
				Channels:    1,
				BitDepth:    pcm.Depth16,
			},
		})
	}
	presets = append(presets,
		Preset{
			Name:        "noise",
			Description: "Broadband noise, stereo",
			Request: Request{
				Mode:        ModeSingle,
				Waveform:    Noise,
				FrequencyHz: 1000,
				Amplitude:   0.7,
				Duration:    30,
				SampleRate:  48000,
				Channels:    2,
				BitDepth:    pcm.Depth16,
			},
		},
		Preset{
			Name:        "sweep",
			Description: "20 Hz to 20 kHz logarithmic sine sweep",
			Request: Request{
				Mode:       ModeSweep,
				Waveform:   Sine,
				StartHz:    20,
				EndHz:      20000,
				Curve:      Logarithmic,
				Amplitude:  0.7,
				Duration:   30,
				SampleRate: 48000,
				Channels:   1,
				BitDepth:   pcm.Depth16,
			},
		},
		Preset{
			Name:        "multi",
			Description: "100, 250, 500 and 1000 Hz sine mixture",
			Request: Request{
				Mode:          ModeMulti,
				Waveform:      Sine,
				FrequenciesHz: []float64{100, 250, 500, 1000},
				Amplitude:     0.7,
				Duration:      10,
				SampleRate:    48000,
				Channels:      1,
				BitDepth:      pcm.Depth16,
			},
		},
	)
	return presets
}

// PresetByName looks a preset up among the built-ins and extra, with extra
// taking precedence. Names are case-insensitive and "pinknoise" and
// "whitenoise" resolve to the noise preset.
func PresetByName(name string, extra ...Preset) (Preset, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	switch key {
	case "pinknoise", "whitenoise":
		key = "noise"
	}
	for _, p := range extra {
		if strings.EqualFold(p.Name, key) {
			return p, true
		}
	}
	for _, p := range Presets() {
		if p.Name == key || strings.TrimSuffix(p.Name, "hz") == key {
			return p, true
		}
	}
	return Preset{}, false
}

// MergePresets returns the built-ins overlaid with extra, sorted by name.
func MergePresets(extra ...Preset) []Preset {
	byName := make(map[string]Preset)
	for _, p := range Presets() {
		byName[p.Name] = p
	}
	for _, p := range extra {
		byName[strings.ToLower(p.Name)] = p
	}
	out := make([]Preset, 0, len(byName))
	for _, p := range byName {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ParseFrequencies splits a comma-separated list. Blank, unparsable and
// non-positive entries are dropped; an empty result is an error.
func ParseFrequencies(s string) ([]float64, error) {
	var freqs []float64
	for _, part := range strings.Split(s, ",") {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil || !positive(f) {
			continue
		}
		freqs = append(freqs, f)
	}
	if len(freqs) == 0 {
		return nil, invalid("frequencies_hz", "no positive frequencies in %q", s)
	}
	return freqs, nil
}
