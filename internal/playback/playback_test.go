package playback

import (
	"encoding/binary"
	"io"
	"log/slog"
	"math"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-tone/internal/config"
	"github.com/loqalabs/loqa-tone/internal/synth"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sweepRequest() synth.Request {
	return synth.Request{
		Mode:       synth.ModeSweep,
		Waveform:   synth.Sine,
		StartHz:    100,
		EndHz:      1000,
		Curve:      synth.Logarithmic,
		Amplitude:  0.5,
		Duration:   0.5,
		SampleRate: 8000,
		Channels:   1,
		BitDepth:   16,
	}
}

func TestOscillatorMatchesPhaseSine(t *testing.T) {
	src, err := NewOscillatorSource(Oscillator{Waveform: synth.Sine, Frequencies: []float64{440}, Gain: 0.5}, 8000)
	require.NoError(t, err)
	out := make([]float32, 800)
	require.Equal(t, 800, src.Read(out))
	for i, v := range out {
		want := 0.5 * math.Sin(2*math.Pi*440*float64(i)/8000)
		require.InDelta(t, want, float64(v), 1e-4, "sample %d", i)
	}
}

func TestOscillatorRunsUntilStoppedWithoutLimit(t *testing.T) {
	src, err := NewOscillatorSource(Oscillator{Waveform: synth.Square, Frequencies: []float64{100}, Gain: 1}, 1000)
	require.NoError(t, err)
	buf := make([]float32, 4096)
	for i := 0; i < 10; i++ {
		require.Equal(t, len(buf), src.Read(buf))
	}
}

func TestOscillatorMultiGain(t *testing.T) {
	freqs := []float64{100, 200, 300, 400}
	src, err := NewOscillatorSource(Oscillator{Waveform: synth.Noise, Frequencies: freqs, Gain: 0.8}, 8000)
	require.NoError(t, err)
	out := make([]float32, 8000)
	src.Read(out)
	var peak float64
	for _, v := range out {
		peak = math.Max(peak, math.Abs(float64(v)))
	}
	require.LessOrEqual(t, peak, 0.8*2+1e-6)
	require.Greater(t, peak, 0.4)
}

func TestOscillatorRampStopsAfterDuration(t *testing.T) {
	src, err := NewOscillatorSource(Oscillator{
		Waveform: synth.Sine,
		Gain:     0.5,
		Ramp:     &Ramp{StartHz: 100, EndHz: 1000, Curve: synth.Logarithmic, Seconds: 0.5},
	}, 8000)
	require.NoError(t, err)
	require.InDelta(t, 100, src.Frequency(), 1e-9)

	buf := make([]float32, 3000)
	require.Equal(t, 3000, src.Read(buf))
	require.Equal(t, 1000, src.Read(buf))
	require.InDelta(t, 1000, src.Frequency(), 1e-6)
	require.Equal(t, 0, src.Read(buf))
}

func TestOscillatorLinearRampMidpoint(t *testing.T) {
	src, err := NewOscillatorSource(Oscillator{
		Waveform: synth.Triangle,
		Gain:     1,
		Ramp:     &Ramp{StartHz: 200, EndHz: 400, Curve: synth.Linear, Seconds: 1},
	}, 1000)
	require.NoError(t, err)
	src.Read(make([]float32, 500))
	require.InDelta(t, 300, src.Frequency(), 1e-9)
}

func TestOscillatorRejects(t *testing.T) {
	_, err := NewOscillatorSource(Oscillator{Waveform: synth.Sine, Gain: 0.5}, 8000)
	require.Error(t, err)
	_, err = NewOscillatorSource(Oscillator{Waveform: synth.Sine, Frequencies: []float64{-1}, Gain: 0.5}, 8000)
	require.Error(t, err)
	_, err = NewOscillatorSource(Oscillator{Waveform: synth.Sine, Frequencies: []float64{1}, Gain: 2}, 8000)
	require.Error(t, err)
	_, err = NewOscillatorSource(Oscillator{Waveform: synth.Sine, Gain: 0.5, Ramp: &Ramp{StartHz: 1, EndHz: 2}}, 8000)
	require.Error(t, err)
	_, err = NewOscillatorSource(Oscillator{Waveform: synth.Sine, Frequencies: []float64{1}, Gain: 0.5}, 0)
	require.Error(t, err)
}

func TestBufferSourceLoop(t *testing.T) {
	src := NewBufferSource([]float32{1, 2, 3}, true)
	out := make([]float32, 7)
	require.Equal(t, 7, src.Read(out))
	require.Equal(t, []float32{1, 2, 3, 1, 2, 3, 1}, out)

	once := NewBufferSource([]float32{1, 2, 3}, false)
	require.Equal(t, 3, once.Read(out))
	require.Equal(t, 0, once.Read(out))
}

func TestNoiseLoop(t *testing.T) {
	seed := int64(7)
	src := NewNoiseLoop(1000, 0.25, synth.NewNoiseSource(&seed))
	first := make([]float32, 2000)
	require.Equal(t, 2000, src.Read(first))
	for _, v := range first {
		require.LessOrEqual(t, math.Abs(float64(v)), 0.25)
	}
	again := make([]float32, 2000)
	require.Equal(t, 2000, src.Read(again))
	require.Equal(t, first, again)
}

func TestFrameReaderInterleavesAndEnds(t *testing.T) {
	r := newFrameReader(NewBufferSource([]float32{0.5, -0.25}, false), 2, 4, putFloat32)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Len(t, data, 2*2*4)
	vals := make([]float32, 4)
	for i := range vals {
		vals[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	require.Equal(t, []float32{0.5, 0.5, -0.25, -0.25}, vals)
}

func TestFrameReaderSmallReads(t *testing.T) {
	samples := make([]float32, 3000)
	for i := range samples {
		samples[i] = float32(i%7) / 10
	}
	r := newFrameReader(NewBufferSource(samples, false), 1, 4, putFloat32)
	var got []byte
	buf := make([]byte, 7)
	for {
		n, err := r.Read(buf)
		got = append(got, buf[:n]...)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}
	require.Len(t, got, 3000*4)
	require.Equal(t, samples[2999], math.Float32frombits(binary.LittleEndian.Uint32(got[len(got)-4:])))
}

func TestSessionSweepEndsOnItsOwn(t *testing.T) {
	dev := NewDrainDevice(8000)
	s := NewSession(dev, 0, discardLogger())
	require.NoError(t, s.Play(sweepRequest()))
	dev.Wait()
	require.Equal(t, 4000, dev.Frames())
	require.False(t, s.Playing())
	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
}

func TestSessionStopIsIdempotent(t *testing.T) {
	dev := NewNullDevice(8000)
	s := NewSession(dev, 0, discardLogger())
	require.NoError(t, s.Stop())

	req := sweepRequest()
	req.Mode = synth.ModeSingle
	req.FrequencyHz = 440
	require.NoError(t, s.Play(req))
	require.True(t, s.Playing())
	st := s.Status()
	require.True(t, st.Playing)
	require.Equal(t, "single", st.Mode)
	require.Equal(t, "null", st.Device)

	require.NoError(t, s.Stop())
	require.False(t, s.Playing())
	require.NoError(t, s.Stop())
	require.NoError(t, s.Close())
}

func TestSessionNoiseHonorsLimit(t *testing.T) {
	dev := NewDrainDevice(1000)
	s := NewSession(dev, 3, discardLogger())
	req := sweepRequest()
	req.Mode = synth.ModeSingle
	req.Waveform = synth.Noise
	req.FrequencyHz = 1
	require.NoError(t, s.Play(req))
	dev.Wait()
	require.Equal(t, 3000, dev.Frames())
}

func TestSessionRejectsInvalidRequest(t *testing.T) {
	dev := NewDrainDevice(8000)
	s := NewSession(dev, 0, discardLogger())
	req := sweepRequest()
	req.Amplitude = 0
	err := s.Play(req)
	require.ErrorIs(t, err, synth.ErrInvalidParameter)
	require.Equal(t, 0, dev.Starts())
}

func TestSessionRestartReplacesSource(t *testing.T) {
	dev := NewNullDevice(8000)
	s := NewSession(dev, 0, discardLogger())
	req := sweepRequest()
	req.Mode = synth.ModeMulti
	req.FrequenciesHz = []float64{100, 200}
	require.NoError(t, s.Play(req))
	require.NoError(t, s.Play(req))
	require.Equal(t, 2, dev.Starts())
	require.NoError(t, s.Close())
}

func TestExecDeviceArgs(t *testing.T) {
	dev, err := NewExecDevice(`aplay -q -f S16_LE -r {rate} -c {channels} --name "tone out"`, 44100, 2, discardLogger())
	require.NoError(t, err)
	require.Equal(t, []string{"aplay", "-q", "-f", "S16_LE", "-r", "44100", "-c", "2", "--name", "tone out"}, dev.Args())

	_, err = NewExecDevice("   ", 44100, 2, discardLogger())
	require.Error(t, err)
}

func TestExecDevicePipesPCM(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	dev, err := NewExecDevice(`sh -c "cat > /dev/null"`, 8000, 1, discardLogger())
	require.NoError(t, err)
	s := NewSession(dev, 0, discardLogger())
	require.NoError(t, s.Play(sweepRequest()))

	done := make(chan struct{})
	go func() {
		dev.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("playback command did not finish")
	}
	require.False(t, s.Playing())
	require.NoError(t, s.Close())
}

func TestOpen(t *testing.T) {
	_, err := Open(config.PlaybackConfig{}, discardLogger())
	require.ErrorIs(t, err, ErrDisabled)

	dev, err := Open(config.PlaybackConfig{Enabled: true, Mode: "null", SampleRate: 8000}, discardLogger())
	require.NoError(t, err)
	require.Equal(t, "null", dev.Name())
	require.Equal(t, 8000, dev.SampleRate())

	_, err = Open(config.PlaybackConfig{Enabled: true, Mode: "exec", SampleRate: 8000}, discardLogger())
	require.Error(t, err)

	_, err = Open(config.PlaybackConfig{Enabled: true, Mode: "speaker"}, discardLogger())
	require.Error(t, err)
}
