// Package render runs the synthesis pipeline: resolve a request against
// presets and defaults, generate samples, normalize, quantize and wrap the
// result in a WAV container.
package render

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/loqalabs/loqa-tone/internal/config"
	"github.com/loqalabs/loqa-tone/internal/pcm"
	"github.com/loqalabs/loqa-tone/internal/protocol"
	"github.com/loqalabs/loqa-tone/internal/synth"
	"github.com/loqalabs/loqa-tone/internal/wavfile"
)

const instrumentation = "github.com/loqalabs/loqa-tone/internal/render"

// sweeps without an explicit duration run for the length of the sweep preset.
const defaultSweepSeconds = 30

// Result summarizes one finished render.
type Result struct {
	Request   synth.Request
	Name      string
	Path      string
	Frames    int
	SizeBytes int64
	Gain      float64
	Elapsed   time.Duration
}

// Renderer is safe for concurrent use.
type Renderer struct {
	cfg     config.RenderConfig
	presets []synth.Preset
	log     *slog.Logger

	tracer   trace.Tracer
	renders  metric.Int64Counter
	failures metric.Int64Counter
	duration metric.Float64Histogram
	bytes    metric.Int64Counter
}

func New(cfg config.RenderConfig, presets []synth.Preset, log *slog.Logger) (*Renderer, error) {
	meter := otel.Meter(instrumentation)
	renders, err := meter.Int64Counter("loqa.tone.renders",
		metric.WithDescription("Completed renders"))
	if err != nil {
		return nil, fmt.Errorf("create renders counter: %w", err)
	}
	failures, err := meter.Int64Counter("loqa.tone.render.failures",
		metric.WithDescription("Renders rejected or aborted"))
	if err != nil {
		return nil, fmt.Errorf("create failures counter: %w", err)
	}
	duration, err := meter.Float64Histogram("loqa.tone.render.duration_ms",
		metric.WithDescription("Wall time spent rendering"), metric.WithUnit("ms"))
	if err != nil {
		return nil, fmt.Errorf("create duration histogram: %w", err)
	}
	bytes, err := meter.Int64Counter("loqa.tone.render.bytes",
		metric.WithDescription("Encoded WAV bytes produced"), metric.WithUnit("By"))
	if err != nil {
		return nil, fmt.Errorf("create bytes counter: %w", err)
	}
	return &Renderer{
		cfg:      cfg,
		presets:  presets,
		log:      log.With(slog.String("component", "renderer")),
		tracer:   otel.Tracer(instrumentation),
		renders:  renders,
		failures: failures,
		duration: duration,
		bytes:    bytes,
	}, nil
}

// Presets lists the built-in presets overlaid with configured ones.
func (r *Renderer) Presets() []synth.Preset {
	return synth.MergePresets(r.presets...)
}

// Resolve turns a partial request into a validated one. A named preset is
// applied first, then every non-zero field of tr, then the configured
// defaults for whatever is still unset.
func (r *Renderer) Resolve(tr protocol.ToneRequest) (synth.Request, error) {
	req := synth.Request{
		Mode:       synth.ModeSingle,
		Waveform:   synth.Sine,
		Amplitude:  r.cfg.Amplitude,
		SampleRate: r.cfg.SampleRate,
		Channels:   r.cfg.Channels,
		BitDepth:   pcm.Depth(r.cfg.BitDepth),
	}
	fromPreset := false
	if tr.Preset != "" {
		p, ok := synth.PresetByName(tr.Preset, r.presets...)
		if !ok {
			return req, &synth.ParamError{Field: "preset", Reason: fmt.Sprintf("unknown preset %q", tr.Preset)}
		}
		req = p.Request
		req.FrequenciesHz = append([]float64(nil), p.Request.FrequenciesHz...)
		fromPreset = true
	}

	if tr.Mode != "" {
		m, err := synth.ParseMode(tr.Mode)
		if err != nil {
			return req, err
		}
		req.Mode = m
	}
	if tr.Waveform != "" {
		w, err := synth.ParseWaveform(tr.Waveform)
		if err != nil {
			return req, err
		}
		req.Waveform = w
	}
	if tr.Curve != "" {
		c, err := synth.ParseCurve(tr.Curve)
		if err != nil {
			return req, err
		}
		req.Curve = c
	}
	if tr.FrequencyHz != 0 {
		req.FrequencyHz = tr.FrequencyHz
	}
	if len(tr.FrequenciesHz) > 0 {
		req.FrequenciesHz = append([]float64(nil), tr.FrequenciesHz...)
	}
	if tr.Frequencies != "" {
		freqs, err := synth.ParseFrequencies(tr.Frequencies)
		if err != nil {
			return req, err
		}
		req.FrequenciesHz = freqs
	}
	if tr.StartHz != 0 {
		req.StartHz = tr.StartHz
	}
	if tr.EndHz != 0 {
		req.EndHz = tr.EndHz
	}
	if tr.Amplitude != 0 {
		req.Amplitude = tr.Amplitude
	}
	if tr.SampleRate != 0 {
		req.SampleRate = tr.SampleRate
	}
	if tr.Channels != 0 {
		req.Channels = tr.Channels
	}
	if tr.BitDepth != 0 {
		req.BitDepth = pcm.Depth(tr.BitDepth)
	}
	if tr.Normalize {
		req.Normalize = true
	}
	if tr.Seed != nil {
		seed := *tr.Seed
		req.Seed = &seed
	}
	switch {
	case tr.DurationSeconds != 0:
		req.Duration = tr.DurationSeconds
	case fromPreset:
	case req.Mode == synth.ModeSweep:
		req.Duration = defaultSweepSeconds
	default:
		req.Duration = r.cfg.DurationSeconds
	}
	if req.Mode == synth.ModeSweep && req.Curve == 0 {
		req.Curve = synth.Logarithmic
	}

	if err := r.Check(req); err != nil {
		return req, err
	}
	return req, nil
}

// Check validates req and applies the configured size limits.
func (r *Renderer) Check(req synth.Request) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if limit := r.cfg.MaxDurationSeconds; limit > 0 && req.Duration > limit {
		return &synth.ParamError{Field: "duration_seconds", Reason: fmt.Sprintf("exceeds the limit of %v seconds", limit)}
	}
	if limit := r.cfg.MaxChannels; limit > 0 && req.Channels > limit {
		return &synth.ParamError{Field: "channels", Reason: fmt.Sprintf("exceeds the limit of %d channels", limit)}
	}
	return nil
}

// Render synthesizes req into an in-memory WAV file.
func (r *Renderer) Render(ctx context.Context, req synth.Request) (Result, []byte, error) {
	ctx, span := r.start(ctx, "render.buffer", req)
	defer span.End()
	started := time.Now()

	if err := r.Check(req); err != nil {
		return Result{}, nil, r.fail(ctx, span, err)
	}
	buf, gain, err := generate(req)
	if err != nil {
		return Result{}, nil, r.fail(ctx, span, err)
	}
	data, err := wavfile.Encode(buf, req.SampleRate, req.BitDepth)
	if err != nil {
		return Result{}, nil, r.fail(ctx, span, err)
	}
	res := Result{
		Request:   req,
		Name:      req.FileName(),
		Frames:    buf.Frames(),
		SizeBytes: int64(len(data)),
		Gain:      gain,
		Elapsed:   time.Since(started),
	}
	r.done(ctx, span, res)
	return res, data, nil
}

// Stream writes the WAV encoding of req to w block by block. Without
// normalization no more than one block of samples is held in memory; with
// it the float buffer is generated first because the peak must be known
// before the first sample is written.
func (r *Renderer) Stream(ctx context.Context, req synth.Request, w io.Writer) (Result, error) {
	ctx, span := r.start(ctx, "render.stream", req)
	defer span.End()
	started := time.Now()

	if err := r.Check(req); err != nil {
		return Result{}, r.fail(ctx, span, err)
	}
	res, err := r.stream(ctx, req, w)
	if err != nil {
		return Result{}, r.fail(ctx, span, err)
	}
	res.Elapsed = time.Since(started)
	r.done(ctx, span, res)
	return res, nil
}

func (r *Renderer) stream(ctx context.Context, req synth.Request, w io.Writer) (Result, error) {
	block := r.cfg.StreamBlockFrames
	if block <= 0 {
		block = 4096
	}
	res := Result{Request: req, Name: req.FileName(), Gain: 1}

	if req.Normalize {
		buf, gain, err := generate(req)
		if err != nil {
			return res, err
		}
		res.Gain = gain
		ww, err := wavfile.NewWriter(w, req.Channels, req.SampleRate, req.BitDepth, buf.Frames())
		if err != nil {
			return res, err
		}
		view := make([][]float64, len(buf))
		for start := 0; start < buf.Frames(); start += block {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			end := min(start+block, buf.Frames())
			for c := range buf {
				view[c] = buf[c][start:end]
			}
			if err := ww.WriteChannels(view); err != nil {
				return res, err
			}
		}
		if err := ww.Close(); err != nil {
			return res, err
		}
		res.Frames = buf.Frames()
		res.SizeBytes = wavfile.HeaderSize + int64(ww.Header().DataSize)
		return res, nil
	}

	src, err := synth.NewSource(req)
	if err != nil {
		return res, err
	}
	ww, err := wavfile.NewWriter(w, req.Channels, req.SampleRate, req.BitDepth, src.Len())
	if err != nil {
		return res, err
	}
	samples := make([]float64, block)
	for src.Remaining() > 0 {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		n := src.Read(samples)
		if err := ww.WriteMono(samples[:n]); err != nil {
			return res, err
		}
	}
	if err := ww.Close(); err != nil {
		return res, err
	}
	res.Frames = src.Len()
	res.SizeBytes = wavfile.HeaderSize + int64(ww.Header().DataSize)
	return res, nil
}

// WriteFile streams req into dir under "<prefix>-<name>", or plain
// "<name>" when prefix is empty. The file appears atomically.
func (r *Renderer) WriteFile(ctx context.Context, req synth.Request, dir, prefix string) (Result, error) {
	name := req.FileName()
	if prefix != "" {
		name = prefix + "-" + name
	}
	return r.WriteFileAs(ctx, req, filepath.Join(dir, name))
}

// WriteFileAs streams req to exactly path, creating its directory. Only
// path is replaced; the temporary file lives beside it until the rename.
func (r *Renderer) WriteFileAs(ctx context.Context, req synth.Request, path string) (Result, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Result{}, fmt.Errorf("create output dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".render-*.wav")
	if err != nil {
		return Result{}, fmt.Errorf("create temp file: %w", err)
	}
	cleanup := func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}

	bw := bufio.NewWriterSize(tmp, 64*1024)
	res, err := r.Stream(ctx, req, bw)
	if err != nil {
		cleanup()
		return Result{}, err
	}
	if err := bw.Flush(); err != nil {
		cleanup()
		return Result{}, fmt.Errorf("flush render: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return Result{}, fmt.Errorf("close render: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return Result{}, fmt.Errorf("move render into place: %w", err)
	}
	res.Path = path
	return res, nil
}

// generate synthesizes req and applies normalization itself so the
// gain can be reported.
func generate(req synth.Request) (synth.Buffer, float64, error) {
	raw := req
	raw.Normalize = false
	buf, err := synth.Generate(raw)
	if err != nil {
		return nil, 0, err
	}
	gain := 1.0
	if req.Normalize {
		gain = synth.Normalize(buf)
	}
	return buf, gain, nil
}

func (r *Renderer) start(ctx context.Context, name string, req synth.Request) (context.Context, trace.Span) {
	return r.tracer.Start(ctx, name, trace.WithAttributes(requestAttrs(req)...))
}

func (r *Renderer) done(ctx context.Context, span trace.Span, res Result) {
	attrs := metric.WithAttributes(requestAttrs(res.Request)[:3]...)
	r.renders.Add(ctx, 1, attrs)
	r.bytes.Add(ctx, res.SizeBytes, attrs)
	r.duration.Record(ctx, float64(res.Elapsed.Microseconds())/1000, attrs)
	span.SetAttributes(
		attribute.Int("tone.frames", res.Frames),
		attribute.Int64("tone.size_bytes", res.SizeBytes),
	)
	r.log.Debug("render complete",
		slog.String("name", res.Name),
		slog.Int("frames", res.Frames),
		slog.Int64("size_bytes", res.SizeBytes),
		slog.Duration("elapsed", res.Elapsed))
}

func (r *Renderer) fail(ctx context.Context, span trace.Span, err error) error {
	reason := "internal"
	if synth.IsRequestError(err) {
		reason = "invalid_request"
	}
	r.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func requestAttrs(req synth.Request) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("tone.mode", req.Mode.String()),
		attribute.String("tone.waveform", req.Waveform.String()),
		attribute.Int("tone.bit_depth", int(req.BitDepth)),
		attribute.Int("tone.sample_rate", req.SampleRate),
		attribute.Int("tone.channels", req.Channels),
		attribute.Float64("tone.duration_seconds", req.Duration),
	}
}
