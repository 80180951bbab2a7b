//go:build headless

package playback

import "time"

// OtoDevice is unavailable in headless builds.
type OtoDevice struct{}

func NewOtoDevice(sampleRate, channels int, buffer time.Duration) (*OtoDevice, error) {
	return nil, ErrUnsupported
}

func (d *OtoDevice) Name() string           { return "oto" }
func (d *OtoDevice) SampleRate() int        { return 0 }
func (d *OtoDevice) Start(src Source) error { return ErrUnsupported }
func (d *OtoDevice) Playing() bool          { return false }
func (d *OtoDevice) Stop() error            { return nil }
func (d *OtoDevice) Close() error           { return nil }
