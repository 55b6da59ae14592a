// Package app wires the annotation pipeline together: ingestion, the
// annotation worker, the upload server and the presentation loop.
package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/teslashibe/go-annotator/internal/config"
	"github.com/teslashibe/go-annotator/pkg/annotate"
	"github.com/teslashibe/go-annotator/pkg/imaging"
)

// Ingestion modes. Exactly one runs per process.
const (
	IngestPoll = "poll"
	IngestHTTP = "http"
)

// Default configuration values.
const (
	DefaultMaxResults      = 4
	DefaultChannelCapacity = 16
	DefaultRequestTimeout  = 10 * time.Second
	DefaultPollInterval    = 2 * time.Second
	DefaultShutdownGrace   = 60 * time.Second
	DefaultListenAddr      = ":8080"
	DefaultWindowName      = "annotator"
)

// Config holds all configuration for the annotator.
// Flag parsing is done in cmd/annotator/main.go; this struct is data only.
type Config struct {
	// Annotation service.
	ServiceKey     string
	Endpoint       string
	RequestTimeout time.Duration

	// DetectionMode is "text" or "face" and applies to the worker.
	DetectionMode      string
	ThresholdAlgorithm string // "otsu" or "adaptive"
	MaxResults         int
	JPEGQuality        int

	// ChannelCapacity bounds both the raw image and the result channel.
	ChannelCapacity int

	// Ingestion is IngestPoll or IngestHTTP.
	Ingestion     string
	ListenAddr    string
	DeviceID      string
	PollInterval  time.Duration
	ShutdownGrace time.Duration

	// Headless skips the window; OutputPath, when set, receives the latest
	// rendered image.
	Headless   bool
	OutputPath string

	LogLevel string
}

// DefaultConfig returns the defaults: text detection on frames polled from
// the first camera every two seconds.
func DefaultConfig() Config {
	return Config{
		Endpoint:           annotate.DefaultEndpoint,
		RequestTimeout:     DefaultRequestTimeout,
		DetectionMode:      "text",
		ThresholdAlgorithm: "otsu",
		MaxResults:         DefaultMaxResults,
		JPEGQuality:        imaging.DefaultQuality,
		ChannelCapacity:    DefaultChannelCapacity,
		Ingestion:          IngestPoll,
		ListenAddr:         DefaultListenAddr,
		DeviceID:           "0",
		PollInterval:       DefaultPollInterval,
		ShutdownGrace:      DefaultShutdownGrace,
		LogLevel:           "info",
	}
}

// LoadEnvConfig applies environment overrides. Call this before flag
// parsing so flags win.
func (c *Config) LoadEnvConfig() {
	c.ServiceKey = config.String(config.EnvAPIKey, c.ServiceKey)
	c.Endpoint = config.String(config.EnvEndpoint, c.Endpoint)
	c.RequestTimeout = config.Duration(config.EnvRequestTimeout, c.RequestTimeout)
	c.DetectionMode = config.String(config.EnvDetection, c.DetectionMode)
	c.ThresholdAlgorithm = config.String(config.EnvThreshold, c.ThresholdAlgorithm)
	c.MaxResults = config.Int(config.EnvMaxResults, c.MaxResults)
	c.ChannelCapacity = config.Int(config.EnvChannelCapacity, c.ChannelCapacity)
	c.Ingestion = config.String(config.EnvIngestion, c.Ingestion)
	c.ListenAddr = config.String(config.EnvListenAddr, c.ListenAddr)
	c.DeviceID = config.String(config.EnvDeviceID, c.DeviceID)
	c.PollInterval = config.Duration(config.EnvPollInterval, c.PollInterval)
	c.ShutdownGrace = config.Duration(config.EnvShutdownGrace, c.ShutdownGrace)
	c.Headless = config.Bool(config.EnvHeadless, c.Headless)
	c.OutputPath = config.String(config.EnvOutputPath, c.OutputPath)
	c.LogLevel = config.String(config.EnvLogLevel, c.LogLevel)
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if _, err := annotate.ParseDetectionKind(c.DetectionMode); err != nil {
		return &ConfigError{Field: "DetectionMode", Message: "detection mode must be text or face"}
	}
	if _, err := imaging.ParseAlgorithm(c.ThresholdAlgorithm); err != nil {
		return &ConfigError{Field: "ThresholdAlgorithm", Message: "threshold algorithm must be otsu or adaptive"}
	}
	if c.MaxResults < 1 {
		return &ConfigError{Field: "MaxResults", Message: "max results must be at least 1"}
	}
	if c.ChannelCapacity < 1 {
		return &ConfigError{Field: "ChannelCapacity", Message: "channel capacity must be at least 1"}
	}
	if c.RequestTimeout <= 0 {
		return &ConfigError{Field: "RequestTimeout", Message: "request timeout must be positive"}
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return &ConfigError{Field: "JPEGQuality", Message: "jpeg quality must be between 1 and 100"}
	}
	if c.ShutdownGrace < 0 {
		return &ConfigError{Field: "ShutdownGrace", Message: "shutdown grace must not be negative"}
	}

	switch strings.ToLower(c.Ingestion) {
	case IngestPoll:
		if strings.TrimSpace(c.DeviceID) == "" {
			return &ConfigError{Field: "DeviceID", Message: "poll ingestion needs a capture device"}
		}
		if c.PollInterval < 0 {
			return &ConfigError{Field: "PollInterval", Message: "poll interval must not be negative"}
		}
	case IngestHTTP:
		if strings.TrimSpace(c.ListenAddr) == "" {
			return &ConfigError{Field: "ListenAddr", Message: "http ingestion needs a listen address"}
		}
	default:
		return &ConfigError{Field: "Ingestion", Message: fmt.Sprintf("ingestion must be %s or %s, got %q", IngestPoll, IngestHTTP, c.Ingestion)}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Message
}
