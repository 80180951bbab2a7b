package protocol

import "time"

// ToneRequest is a possibly partial synthesis request as it arrives over
// the bus or HTTP. Zero fields fall back to the named preset, then to the
// configured render defaults.
type ToneRequest struct {
	SessionID       string    `json:"session_id,omitempty"`
	Preset          string    `json:"preset,omitempty"`
	Mode            string    `json:"mode,omitempty"`
	Waveform        string    `json:"waveform,omitempty"`
	FrequencyHz     float64   `json:"frequency_hz,omitempty"`
	FrequenciesHz   []float64 `json:"frequencies_hz,omitempty"`
	Frequencies     string    `json:"frequencies,omitempty"`
	StartHz         float64   `json:"start_hz,omitempty"`
	EndHz           float64   `json:"end_hz,omitempty"`
	Curve           string    `json:"curve,omitempty"`
	Amplitude       float64   `json:"amplitude,omitempty"`
	DurationSeconds float64   `json:"duration_seconds,omitempty"`
	SampleRate      int       `json:"sample_rate,omitempty"`
	Channels        int       `json:"channels,omitempty"`
	BitDepth        int       `json:"bit_depth,omitempty"`
	Normalize       bool      `json:"normalize,omitempty"`
	Seed            *int64    `json:"seed,omitempty"`
}

// ToneRendered is the reply to a render request and the payload of the
// rendered event.
type ToneRendered struct {
	ID              string    `json:"id"`
	SessionID       string    `json:"session_id,omitempty"`
	Name            string    `json:"name"`
	Path            string    `json:"path"`
	SizeBytes       int64     `json:"size_bytes"`
	Frames          int       `json:"frames"`
	DurationSeconds float64   `json:"duration_seconds"`
	SampleRate      int       `json:"sample_rate"`
	Channels        int       `json:"channels"`
	BitDepth        int       `json:"bit_depth"`
	Timestamp       time.Time `json:"timestamp"`
}

// ToneError is returned instead of a result when a request fails.
type ToneError struct {
	SessionID string `json:"session_id,omitempty"`
	Code      string `json:"code"`
	Error     string `json:"error"`
}

// PlaybackStop asks the node to stop any live output.
type PlaybackStop struct {
	SessionID string `json:"session_id,omitempty"`
}

// PlaybackStatus is the reply to play and stop commands.
type PlaybackStatus struct {
	SessionID string    `json:"session_id,omitempty"`
	Playing   bool      `json:"playing"`
	Device    string    `json:"device,omitempty"`
	Mode      string    `json:"mode,omitempty"`
	Waveform  string    `json:"waveform,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	ErrorCodeInvalidRequest = "invalid_request"
	ErrorCodeInternal       = "internal"
	ErrorCodeUnavailable    = "unavailable"
)

// Subject suffixes, joined to the configured prefix with Subject.
const (
	SubjectRender   = "render"
	SubjectRendered = "rendered"
	SubjectPlay     = "play"
	SubjectStop     = "stop"
)

// Subject builds "<prefix>.<suffix>".
func Subject(prefix, suffix string) string {
	if prefix == "" {
		return suffix
	}
	return prefix + "." + suffix
}
