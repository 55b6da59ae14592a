// Package config provides environment helpers for go-annotator commands.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment variable names read by the annotator.
const (
	EnvAPIKey          = "VISION_API_KEY"
	EnvEndpoint        = "VISION_ENDPOINT"
	EnvDetection       = "DETECTION_MODE"
	EnvThreshold       = "THRESHOLD_ALGORITHM"
	EnvMaxResults      = "MAX_RESULTS"
	EnvChannelCapacity = "CHANNEL_CAPACITY"
	EnvRequestTimeout  = "REQUEST_TIMEOUT"
	EnvIngestion       = "INGESTION_MODE"
	EnvListenAddr      = "LISTEN_ADDR"
	EnvDeviceID        = "CAPTURE_DEVICE"
	EnvPollInterval    = "POLL_INTERVAL"
	EnvShutdownGrace   = "SHUTDOWN_GRACE"
	EnvHeadless        = "HEADLESS"
	EnvOutputPath      = "OUTPUT_PATH"
	EnvLogLevel        = "LOG_LEVEL"
)

// String returns the value of key, or def when unset or blank.
func String(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// Int returns key parsed as an int, or def when unset or malformed.
func Int(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// Duration returns key parsed with time.ParseDuration, or def when unset or
// malformed. Bare integers are read as seconds.
func Duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// Bool returns key parsed with strconv.ParseBool, or def.
func Bool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
