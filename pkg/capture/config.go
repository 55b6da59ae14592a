// Package capture reads frames from a local camera or video source.
package capture

import (
	"strconv"
	"strings"
	"time"
)

// Config holds capture settings.
type Config struct {
	// Device is a camera index ("0") or a file path / stream URL.
	Device string `json:"device"`

	// Requested resolution; 0 keeps the device default.
	Width  int `json:"width"`
	Height int `json:"height"`

	// Interval is the pause between captures.
	Interval time.Duration `json:"interval"`
}

// DefaultConfig returns the first camera at its native resolution, polled
// every 2 seconds.
func DefaultConfig() Config {
	return Config{
		Device:   "0",
		Interval: 2 * time.Second,
	}
}

// Validate checks the config values. Returns a list of validation errors,
// or nil if valid.
func (c *Config) Validate() []string {
	var errors []string

	if strings.TrimSpace(c.Device) == "" {
		errors = append(errors, "device must be a camera index or a path")
	}
	if c.Width < 0 || c.Height < 0 {
		errors = append(errors, "width and height must not be negative")
	}
	if (c.Width == 0) != (c.Height == 0) {
		errors = append(errors, "width and height must be set together")
	}
	if c.Interval < 0 {
		errors = append(errors, "interval must not be negative")
	}

	return errors
}

// source returns the value gocv expects: an int for camera indexes, the
// string otherwise.
func (c *Config) source() interface{} {
	if id, err := strconv.Atoi(strings.TrimSpace(c.Device)); err == nil {
		return id
	}
	return c.Device
}
