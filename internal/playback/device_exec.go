package playback

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/mattn/go-shellwords"

	"github.com/loqalabs/loqa-tone/internal/pcm"
)

// ExecDevice pipes signed 16-bit little-endian PCM into an external
// player's stdin, e.g. "aplay -q -f S16_LE -r {rate} -c {channels}".
type ExecDevice struct {
	cmd      []string
	rate     int
	channels int
	log      *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewExecDevice parses command. The placeholders {rate} and {channels}
// are substituted in every argument.
func NewExecDevice(command string, sampleRate, channels int, log *slog.Logger) (*ExecDevice, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse playback command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("playback command empty")
	}
	r := strings.NewReplacer("{rate}", strconv.Itoa(sampleRate), "{channels}", strconv.Itoa(channels))
	for i := range args {
		args[i] = r.Replace(args[i])
	}
	return &ExecDevice{cmd: args, rate: sampleRate, channels: channels, log: log}, nil
}

func (d *ExecDevice) Name() string    { return "exec" }
func (d *ExecDevice) SampleRate() int { return d.rate }

// Args returns the command line after placeholder substitution.
func (d *ExecDevice) Args() []string { return append([]string(nil), d.cmd...) }

func (d *ExecDevice) Start(src Source) error {
	if err := d.Stop(); err != nil {
		return err
	}
	enc, err := pcm.NewEncoder(pcm.Depth16)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, d.cmd[0], d.cmd[1:]...)
	cmd.Stdin = newFrameReader(src, d.channels, 2, putPCM16(enc))
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("start playback command: %w", err)
	}

	done := make(chan struct{})
	d.mu.Lock()
	d.cancel = cancel
	d.done = done
	d.mu.Unlock()

	go func() {
		defer close(done)
		err := cmd.Wait()
		if err != nil && ctx.Err() == nil {
			d.log.Warn("playback command exited", slog.String("error", err.Error()), slog.String("stderr", stderr.String()))
		}
	}()
	return nil
}

// Wait blocks until the running command exits.
func (d *ExecDevice) Wait() {
	d.mu.Lock()
	done := d.done
	d.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (d *ExecDevice) Stop() error {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.cancel = nil
	d.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

func (d *ExecDevice) Close() error { return d.Stop() }
