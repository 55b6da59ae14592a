package annotate

import (
	"log/slog"
	"net/http"
	"time"
)

// DefaultEndpoint is the Google Vision REST base URL.
const DefaultEndpoint = "https://vision.googleapis.com/"

// Config holds client configuration.
type Config struct {
	// Connection
	Endpoint string // REST base URL; the client appends v1/images:annotate
	APIKey   string // sent as ?key=; empty means Application Default Credentials

	// Timeout bounds a single HTTP exchange. Callers usually set a tighter
	// per-call deadline through ctx as well.
	Timeout time.Duration

	// HTTPClient replaces the default transport stack. The API key is still
	// applied on top of it.
	HTTPClient *http.Client

	// Observability
	Logger *slog.Logger
}

// Option is a functional option for configuring clients.
type Option func(*Config)

// WithEndpoint sets the REST base URL.
func WithEndpoint(url string) Option {
	return func(c *Config) { c.Endpoint = url }
}

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(c *Config) { c.APIKey = key }
}

// WithTimeout sets the HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Config) { c.HTTPClient = h }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// DefaultConfig returns defaults for the public Vision endpoint.
func DefaultConfig() *Config {
	return &Config{
		Endpoint: DefaultEndpoint,
		Timeout:  10 * time.Second,
		Logger:   slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}
