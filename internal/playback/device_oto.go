//go:build !headless

package playback

import (
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

// oto allows one context per process, fixed at its first sample rate.
var (
	otoOnce     sync.Once
	otoCtx      *oto.Context
	otoErr      error
	otoRate     int
	otoChannels int
)

func otoContext(rate, channels int, buffer time.Duration) (*oto.Context, error) {
	otoOnce.Do(func() {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   rate,
			ChannelCount: channels,
			Format:       oto.FormatFloat32LE,
			BufferSize:   buffer,
		})
		if err != nil {
			otoErr = fmt.Errorf("create audio context: %w", err)
			return
		}
		<-ready
		otoCtx, otoRate, otoChannels = ctx, rate, channels
	})
	if otoErr != nil {
		return nil, otoErr
	}
	if rate != otoRate || channels != otoChannels {
		return nil, fmt.Errorf("audio context already open at %d Hz x%d", otoRate, otoChannels)
	}
	return otoCtx, nil
}

// OtoDevice plays through the system audio output.
type OtoDevice struct {
	rate     int
	channels int
	buffer   time.Duration

	mu     sync.Mutex
	player *oto.Player
}

func NewOtoDevice(sampleRate, channels int, buffer time.Duration) (*OtoDevice, error) {
	if _, err := otoContext(sampleRate, channels, buffer); err != nil {
		return nil, err
	}
	return &OtoDevice{rate: sampleRate, channels: channels, buffer: buffer}, nil
}

func (d *OtoDevice) Name() string    { return "oto" }
func (d *OtoDevice) SampleRate() int { return d.rate }

func (d *OtoDevice) Start(src Source) error {
	ctx, err := otoContext(d.rate, d.channels, d.buffer)
	if err != nil {
		return err
	}
	if err := d.Stop(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.player = ctx.NewPlayer(newFrameReader(src, d.channels, 4, putFloat32))
	d.player.Play()
	return nil
}

// Playing reports whether the player still has samples queued.
func (d *OtoDevice) Playing() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.player != nil && d.player.IsPlaying()
}

func (d *OtoDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.player == nil {
		return nil
	}
	err := d.player.Close()
	d.player = nil
	if err != nil {
		return fmt.Errorf("close audio player: %w", err)
	}
	return nil
}

func (d *OtoDevice) Close() error { return d.Stop() }
