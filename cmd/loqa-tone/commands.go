package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	"github.com/loqalabs/loqa-tone/internal/config"
	"github.com/loqalabs/loqa-tone/internal/playback"
	"github.com/loqalabs/loqa-tone/internal/protocol"
	"github.com/loqalabs/loqa-tone/internal/render"
	"github.com/loqalabs/loqa-tone/internal/synth"
	"github.com/loqalabs/loqa-tone/internal/wavfile"
)

// requestFlags binds the synthesis flags shared by render and play.
type requestFlags struct {
	fs         *flag.FlagSet
	configPath string
	seed       int64
	req        protocol.ToneRequest
}

func (rf *requestFlags) bind(fs *flag.FlagSet) {
	rf.fs = fs
	fs.StringVar(&rf.configPath, "config", "", "Optional configuration file for defaults and presets")
	fs.StringVar(&rf.req.Preset, "preset", "", "Start from a named preset")
	fs.StringVar(&rf.req.Mode, "mode", "", "single, multi or sweep")
	fs.StringVar(&rf.req.Waveform, "waveform", "", "sine, square, triangle, sawtooth or noise")
	fs.Float64Var(&rf.req.FrequencyHz, "freq", 0, "Frequency in Hz for single mode")
	fs.StringVar(&rf.req.Frequencies, "freqs", "", "Comma separated frequencies for multi mode")
	fs.Float64Var(&rf.req.StartHz, "start", 0, "Sweep start frequency in Hz")
	fs.Float64Var(&rf.req.EndHz, "end", 0, "Sweep end frequency in Hz")
	fs.StringVar(&rf.req.Curve, "curve", "", "Sweep curve: linear or log")
	fs.Float64Var(&rf.req.Amplitude, "amp", 0, "Amplitude in (0,1]")
	fs.Float64Var(&rf.req.DurationSeconds, "duration", 0, "Duration in seconds")
	fs.IntVar(&rf.req.SampleRate, "rate", 0, "Sample rate in Hz")
	fs.IntVar(&rf.req.Channels, "channels", 0, "Channel count")
	fs.IntVar(&rf.req.BitDepth, "bits", 0, "Bit depth: 16, 24 or 32")
	fs.BoolVar(&rf.req.Normalize, "normalize", false, "Scale the peak to full scale")
	fs.Int64Var(&rf.seed, "seed", 0, "Seed for reproducible noise (random when unset)")
}

func (rf *requestFlags) load() (config.Config, *render.Renderer, error) {
	cfg := config.Default()
	if rf.configPath != "" {
		var err error
		if cfg, err = config.Load(rf.configPath); err != nil {
			return cfg, nil, err
		}
	}
	rf.fs.Visit(func(f *flag.Flag) {
		if f.Name == "seed" {
			seed := rf.seed
			rf.req.Seed = &seed
		}
	})
	renderer, err := render.New(cfg.Render, cfg.Presets, quietLogger())
	return cfg, renderer, err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

var stdoutIsTerminal = func() bool { return term.IsTerminal(int(os.Stdout.Fd())) }

func runRender(args []string, stdout, stderr io.Writer) error {
	var (
		rf     requestFlags
		output string
		dir    string
	)
	fs := flag.NewFlagSet("render", flag.ContinueOnError)
	fs.SetOutput(stderr)
	rf.bind(fs)
	fs.StringVar(&output, "o", "", "Output path, or - for stdout (default: generated name)")
	fs.StringVar(&dir, "dir", ".", "Directory for the generated file name")
	if err := fs.Parse(args); err != nil {
		return err
	}

	_, renderer, err := rf.load()
	if err != nil {
		return err
	}
	req, err := renderer.Resolve(rf.req)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch output {
	case "-":
		if stdout == io.Writer(os.Stdout) && stdoutIsTerminal() {
			return errors.New("refusing to write audio to a terminal; redirect stdout or use -o")
		}
		bw := bufio.NewWriterSize(stdout, 64*1024)
		if _, err := renderer.Stream(ctx, req, bw); err != nil {
			return err
		}
		return bw.Flush()
	case "":
		res, err := renderer.WriteFile(ctx, req, dir, "")
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "wrote %s (%d bytes, %d frames)\n", res.Path, res.SizeBytes, res.Frames)
		return nil
	default:
		res, err := renderer.WriteFileAs(ctx, req, output)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "wrote %s (%d bytes, %d frames)\n", output, res.SizeBytes, res.Frames)
		return nil
	}
}

func runInspect(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: loqa-tone inspect <file.wav>")
	}
	f, err := os.Open(fs.Arg(0))
	if err != nil {
		return err
	}
	defer f.Close()

	hdr, err := wavfile.ReadHeader(f)
	if err != nil {
		return err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	clip, err := wavfile.Decode(f)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "file\t%s\n", fs.Arg(0))
	fmt.Fprintf(tw, "sample rate\t%d Hz\n", hdr.SampleRate)
	fmt.Fprintf(tw, "channels\t%d\n", hdr.Channels)
	fmt.Fprintf(tw, "bit depth\t%d\n", int(hdr.BitDepth))
	fmt.Fprintf(tw, "frames\t%d\n", hdr.Frames())
	fmt.Fprintf(tw, "duration\t%.3f s\n", float64(hdr.Frames())/float64(hdr.SampleRate))
	fmt.Fprintf(tw, "size\t%d bytes\n", wavfile.HeaderSize+int64(hdr.DataSize))
	for c, samples := range clip.Channels {
		peak, rms := levels(samples)
		fmt.Fprintf(tw, "channel %d\tpeak %.4f (%.1f dBFS)  rms %.4f\n", c, peak, dbfs(peak), rms)
	}
	return tw.Flush()
}

func levels(samples []float64) (peak, rms float64) {
	var sum float64
	for _, s := range samples {
		peak = math.Max(peak, math.Abs(s))
		sum += s * s
	}
	if len(samples) > 0 {
		rms = math.Sqrt(sum / float64(len(samples)))
	}
	return peak, rms
}

func dbfs(v float64) float64 {
	if v <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(v)
}

func runPresets(args []string, stdout io.Writer) error {
	var configPath string
	fs := flag.NewFlagSet("presets", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Optional configuration file with extra presets")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return err
		}
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tMODE\tWAVEFORM\tDESCRIPTION")
	for _, p := range synth.MergePresets(cfg.Presets...) {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.Name, p.Request.Mode, p.Request.Waveform, p.Description)
	}
	return tw.Flush()
}

func runPlay(args []string, stdout, stderr io.Writer) error {
	var (
		rf      requestFlags
		device  string
		command string
	)
	fs := flag.NewFlagSet("play", flag.ContinueOnError)
	fs.SetOutput(stderr)
	rf.bind(fs)
	fs.StringVar(&device, "device", "", "Playback device: oto, exec or null (default from config)")
	fs.StringVar(&command, "command", "", "Player command for the exec device")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, renderer, err := rf.load()
	if err != nil {
		return err
	}
	req, err := renderer.Resolve(rf.req)
	if err != nil {
		return err
	}

	pcfg := cfg.Playback
	pcfg.Enabled = true
	if device != "" {
		pcfg.Mode = device
	}
	if command != "" {
		pcfg.Command = command
	}
	dev, err := playback.Open(pcfg, quietLogger())
	if err != nil {
		return err
	}
	session := playback.NewSession(dev, pcfg.MaxSeconds, quietLogger())
	defer session.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := session.Play(req); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "playing %s on %s; interrupt to stop\n", req.FileName(), dev.Name())

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for session.Playing() {
		select {
		case <-ctx.Done():
			return session.Stop()
		case <-ticker.C:
		}
	}
	return nil
}
