package app

import (
	"errors"
	"testing"
	"time"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config should be valid: %v", err)
	}
	if cfg.MaxResults != 4 || cfg.PollInterval != 2*time.Second || cfg.ShutdownGrace != 60*time.Second {
		t.Errorf("Unexpected defaults %+v", cfg)
	}
}

func TestLoadEnvConfig(t *testing.T) {
	t.Setenv("VISION_API_KEY", "secret")
	t.Setenv("DETECTION_MODE", "face")
	t.Setenv("THRESHOLD_ALGORITHM", "adaptive")
	t.Setenv("MAX_RESULTS", "7")
	t.Setenv("CHANNEL_CAPACITY", "3")
	t.Setenv("REQUEST_TIMEOUT", "5")
	t.Setenv("INGESTION_MODE", "http")
	t.Setenv("POLL_INTERVAL", "500ms")
	t.Setenv("HEADLESS", "true")

	cfg := DefaultConfig()
	cfg.LoadEnvConfig()

	if cfg.ServiceKey != "secret" {
		t.Errorf("ServiceKey = %q", cfg.ServiceKey)
	}
	if cfg.DetectionMode != "face" || cfg.ThresholdAlgorithm != "adaptive" {
		t.Errorf("Unexpected modes %q %q", cfg.DetectionMode, cfg.ThresholdAlgorithm)
	}
	if cfg.MaxResults != 7 || cfg.ChannelCapacity != 3 {
		t.Errorf("Unexpected sizes %d %d", cfg.MaxResults, cfg.ChannelCapacity)
	}
	if cfg.RequestTimeout != 5*time.Second || cfg.PollInterval != 500*time.Millisecond {
		t.Errorf("Unexpected durations %v %v", cfg.RequestTimeout, cfg.PollInterval)
	}
	if cfg.Ingestion != IngestHTTP || !cfg.Headless {
		t.Errorf("Unexpected ingestion %q headless %v", cfg.Ingestion, cfg.Headless)
	}
	if cfg.ListenAddr != DefaultListenAddr {
		t.Errorf("Unset variables should keep defaults, ListenAddr = %q", cfg.ListenAddr)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		field  string
		modify func(*Config)
	}{
		{"detection", "DetectionMode", func(c *Config) { c.DetectionMode = "logo" }},
		{"threshold", "ThresholdAlgorithm", func(c *Config) { c.ThresholdAlgorithm = "sauvola" }},
		{"max results", "MaxResults", func(c *Config) { c.MaxResults = 0 }},
		{"capacity", "ChannelCapacity", func(c *Config) { c.ChannelCapacity = 0 }},
		{"timeout", "RequestTimeout", func(c *Config) { c.RequestTimeout = 0 }},
		{"quality", "JPEGQuality", func(c *Config) { c.JPEGQuality = 101 }},
		{"ingestion", "Ingestion", func(c *Config) { c.Ingestion = "both" }},
		{"device", "DeviceID", func(c *Config) { c.DeviceID = "" }},
		{"listen", "ListenAddr", func(c *Config) { c.Ingestion = IngestHTTP; c.ListenAddr = "" }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.modify(&cfg)

			err := cfg.Validate()
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("Expected ConfigError, got %v", err)
			}
			if cfgErr.Field != tc.field {
				t.Errorf("Expected field %s, got %s", tc.field, cfgErr.Field)
			}
		})
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Ingestion = "carrier-pigeon"
	if _, err := New(cfg); err == nil {
		t.Error("Expected error")
	}
}
