package playback

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-tone/internal/config"
	"github.com/loqalabs/loqa-tone/internal/synth"
)

// Open builds the device selected by cfg.
func Open(cfg config.PlaybackConfig, log *slog.Logger) (Device, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	switch cfg.Mode {
	case "oto":
		dev, err := NewOtoDevice(cfg.SampleRate, cfg.Channels, time.Duration(cfg.BufferMS)*time.Millisecond)
		if err != nil {
			return nil, err
		}
		return dev, nil
	case "exec":
		dev, err := NewExecDevice(cfg.Command, cfg.SampleRate, cfg.Channels, log)
		if err != nil {
			return nil, err
		}
		return dev, nil
	case "null":
		return NewNullDevice(cfg.SampleRate), nil
	default:
		return nil, fmt.Errorf("unsupported playback mode %q", cfg.Mode)
	}
}

// Status describes what a Session is doing.
type Status struct {
	Playing   bool      `json:"playing"`
	Device    string    `json:"device"`
	Mode      string    `json:"mode,omitempty"`
	Waveform  string    `json:"waveform,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// Session owns one device and plays one request at a time. Single and
// multi-tone requests run until stopped (or for maxSeconds when set);
// sweeps end on their own after the request duration. Noise plays a
// looped two-second buffer.
type Session struct {
	device     Device
	maxSeconds float64
	log        *slog.Logger

	mu      sync.Mutex
	current *trackedSource
	status  Status
}

func NewSession(device Device, maxSeconds float64, log *slog.Logger) *Session {
	return &Session{device: device, maxSeconds: maxSeconds, log: log}
}

// Play validates req and replaces any running output with it.
func (s *Session) Play(req synth.Request) error {
	if err := req.Validate(); err != nil {
		return err
	}
	src, err := s.sourceFor(req)
	if err != nil {
		return err
	}
	tracked := &trackedSource{src: src}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.device.Start(tracked); err != nil {
		return fmt.Errorf("start %s playback: %w", s.device.Name(), err)
	}
	s.current = tracked
	s.status = Status{
		Device:    s.device.Name(),
		Mode:      req.Mode.String(),
		Waveform:  req.Waveform.String(),
		StartedAt: time.Now().UTC(),
	}
	s.log.Info("playback started",
		slog.String("device", s.device.Name()),
		slog.String("mode", req.Mode.String()),
		slog.String("waveform", req.Waveform.String()))
	return nil
}

func (s *Session) sourceFor(req synth.Request) (Source, error) {
	rate := s.device.SampleRate()
	switch req.Mode {
	case synth.ModeSingle:
		if req.Waveform == synth.Noise {
			loop := NewNoiseLoop(rate, req.Amplitude, synth.NewNoiseSource(req.Seed))
			return limit(loop, s.maxSeconds, rate), nil
		}
		return NewOscillatorSource(Oscillator{
			Waveform:    req.Waveform,
			Frequencies: []float64{req.FrequencyHz},
			Gain:        req.Amplitude,
			Seconds:     s.maxSeconds,
		}, rate)
	case synth.ModeMulti:
		return NewOscillatorSource(Oscillator{
			Waveform:    req.Waveform,
			Frequencies: req.FrequenciesHz,
			Gain:        req.Amplitude,
			Seconds:     s.maxSeconds,
		}, rate)
	case synth.ModeSweep:
		return NewOscillatorSource(Oscillator{
			Waveform: req.Waveform,
			Gain:     req.Amplitude,
			Ramp: &Ramp{
				StartHz: req.StartHz,
				EndHz:   req.EndHz,
				Curve:   req.Curve,
				Seconds: req.Duration,
			},
		}, rate)
	}
	return nil, fmt.Errorf("%w: %s", synth.ErrUnsupportedMode, req.Mode)
}

// Stop halts output. Stopping an idle session is a no-op.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	s.current = nil
	s.status = Status{Device: s.device.Name()}
	if err := s.device.Stop(); err != nil {
		return fmt.Errorf("stop %s playback: %w", s.device.Name(), err)
	}
	s.log.Info("playback stopped", slog.String("device", s.device.Name()))
	return nil
}

// Playing reports whether a started source is still producing samples.
func (s *Session) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil && !s.current.ended.Load()
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	st.Device = s.device.Name()
	st.Playing = s.current != nil && !s.current.ended.Load()
	return st
}

// Close stops playback and releases the device.
func (s *Session) Close() error {
	if err := s.Stop(); err != nil {
		return err
	}
	return s.device.Close()
}

type trackedSource struct {
	src   Source
	ended atomic.Bool
}

func (t *trackedSource) Read(dst []float32) int {
	n := t.src.Read(dst)
	if n < len(dst) {
		t.ended.Store(true)
	}
	return n
}

type limitedSource struct {
	src  Source
	left int
}

func limit(src Source, seconds float64, rate int) Source {
	if seconds <= 0 {
		return src
	}
	return &limitedSource{src: src, left: int(math.Floor(seconds * float64(rate)))}
}

func (l *limitedSource) Read(dst []float32) int {
	if len(dst) > l.left {
		dst = dst[:l.left]
	}
	n := l.src.Read(dst)
	l.left -= n
	return n
}
