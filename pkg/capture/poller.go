package capture

import (
	"context"
	"time"

	"github.com/teslashibe/go-annotator/pkg/annotate"
)

// Poller paces captures from a Device.
type Poller struct {
	device   Device
	interval time.Duration
	last     time.Time
}

// NewPoller polls device at most once per interval. A zero interval captures
// on every call.
func NewPoller(device Device, interval time.Duration) *Poller {
	return &Poller{device: device, interval: interval}
}

// Next waits until the interval since the previous capture has elapsed and
// returns a new frame. The first call captures immediately.
func (p *Poller) Next(ctx context.Context) (annotate.RawImage, error) {
	if !p.last.IsZero() && p.interval > 0 {
		if wait := time.Until(p.last.Add(p.interval)); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return annotate.RawImage{}, ctx.Err()
			}
		}
	}

	img, err := p.device.NextFrame()
	p.last = time.Now()
	return img, err
}

// Interval returns the capture cadence.
func (p *Poller) Interval() time.Duration {
	return p.interval
}

// Close closes the underlying device.
func (p *Poller) Close() error {
	return p.device.Close()
}
