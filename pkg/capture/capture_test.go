package capture

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/teslashibe/go-annotator/pkg/annotate"
)

type fakeDevice struct {
	frames int
	err    error
	closed bool
}

func (d *fakeDevice) NextFrame() (annotate.RawImage, error) {
	if d.err != nil {
		return annotate.RawImage{}, d.err
	}
	d.frames++
	return annotate.NewRawImage(1, 1, 3, []byte{0, 0, 0}), nil
}

func (d *fakeDevice) Close() error {
	d.closed = true
	return nil
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("Default config should be valid, got %v", errs)
	}

	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"empty device", func(c *Config) { c.Device = " " }},
		{"negative width", func(c *Config) { c.Width, c.Height = -1, 10 }},
		{"width only", func(c *Config) { c.Width = 640 }},
		{"negative interval", func(c *Config) { c.Interval = -time.Second }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.modify(&cfg)
			if errs := cfg.Validate(); len(errs) == 0 {
				t.Error("Expected validation errors")
			}
		})
	}
}

func TestConfigSource(t *testing.T) {
	cfg := Config{Device: "2"}
	if id, ok := cfg.source().(int); !ok || id != 2 {
		t.Errorf("Expected camera index 2, got %v", cfg.source())
	}
	cfg.Device = "/tmp/clip.mp4"
	if path, ok := cfg.source().(string); !ok || path != "/tmp/clip.mp4" {
		t.Errorf("Expected path, got %v", cfg.source())
	}
}

func TestPollerPacesCaptures(t *testing.T) {
	dev := &fakeDevice{}
	p := NewPoller(dev, 50*time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	if _, err := p.Next(ctx); err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if time.Since(start) > 40*time.Millisecond {
		t.Error("First capture should be immediate")
	}

	if _, err := p.Next(ctx); err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("Second capture came after %v, want >= 50ms", elapsed)
	}
	if dev.frames != 2 {
		t.Errorf("Expected 2 frames, got %d", dev.frames)
	}
}

func TestPollerCancel(t *testing.T) {
	p := NewPoller(&fakeDevice{}, time.Hour)
	p.Next(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := p.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline error, got %v", err)
	}
}

func TestPollerDeviceError(t *testing.T) {
	dev := &fakeDevice{err: ErrDeviceRead}
	p := NewPoller(dev, 0)
	if _, err := p.Next(context.Background()); !errors.Is(err, ErrDeviceRead) {
		t.Errorf("Expected ErrDeviceRead, got %v", err)
	}
	p.Close()
	if !dev.closed {
		t.Error("Close should close the device")
	}
}
