package playback

import (
	"sync"
	"time"
)

// NullDevice consumes sources in real time and discards the samples.
type NullDevice struct {
	rate     int
	realtime bool

	mu     sync.Mutex
	stop   chan struct{}
	done   chan struct{}
	frames int
	starts int
}

// NewNullDevice returns a device that paces consumption to sampleRate.
func NewNullDevice(sampleRate int) *NullDevice {
	return &NullDevice{rate: sampleRate, realtime: true}
}

// NewDrainDevice returns a null device that consumes as fast as it can.
func NewDrainDevice(sampleRate int) *NullDevice {
	return &NullDevice{rate: sampleRate}
}

func (d *NullDevice) Name() string    { return "null" }
func (d *NullDevice) SampleRate() int { return d.rate }

func (d *NullDevice) Start(src Source) error {
	_ = d.Stop()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stop = make(chan struct{})
	d.done = make(chan struct{})
	d.starts++
	go d.consume(src, d.stop, d.done)
	return nil
}

func (d *NullDevice) consume(src Source, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	block := make([]float32, max(d.rate/50, 1))
	var tick <-chan time.Time
	if d.realtime {
		t := time.NewTicker(20 * time.Millisecond)
		defer t.Stop()
		tick = t.C
	}
	for {
		n := src.Read(block)
		d.mu.Lock()
		d.frames += n
		d.mu.Unlock()
		if n < len(block) {
			return
		}
		select {
		case <-stop:
			return
		default:
		}
		if tick != nil {
			select {
			case <-stop:
				return
			case <-tick:
			}
		}
	}
}

// Wait blocks until the current source has ended or been stopped.
func (d *NullDevice) Wait() {
	d.mu.Lock()
	done := d.done
	d.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Frames is the total number of frames consumed.
func (d *NullDevice) Frames() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frames
}

// Starts counts calls to Start.
func (d *NullDevice) Starts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.starts
}

func (d *NullDevice) Stop() error {
	d.mu.Lock()
	stop, done := d.stop, d.done
	d.stop = nil
	d.mu.Unlock()
	if stop == nil {
		return nil
	}
	close(stop)
	<-done
	return nil
}

func (d *NullDevice) Close() error { return d.Stop() }
