package genai

import (
	"net/http"
	"time"
)

// Config holds hosted provider configuration
type Config struct {
	BaseURL    string
	APIKey     string
	Model      string // text model for geocode, ordering and captions
	ImageModel string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	HTTPClient *http.Client
}

// Option is a functional option for configuring providers
type Option func(*Config)

// DefaultConfig returns the Gemini defaults
func DefaultConfig() *Config {
	return &Config{
		BaseURL:    "https://generativelanguage.googleapis.com/v1beta",
		Model:      "gemini-2.0-flash",
		ImageModel: "gemini-2.0-flash-preview-image-generation",
		Timeout:    60 * time.Second,
		MaxRetries: 3,
		RetryDelay: 200 * time.Millisecond,
	}
}

// Apply applies options to the config
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// WithBaseURL sets the API base URL
func WithBaseURL(url string) Option {
	return func(c *Config) { c.BaseURL = url }
}

// WithAPIKey sets the API key
func WithAPIKey(key string) Option {
	return func(c *Config) { c.APIKey = key }
}

// WithModel sets the text model
func WithModel(model string) Option {
	return func(c *Config) { c.Model = model }
}

// WithImageModel sets the image model
func WithImageModel(model string) Option {
	return func(c *Config) { c.ImageModel = model }
}

// WithTimeout sets the per-request timeout
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithRetry sets the number of retries for retryable calls and the initial backoff
func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(c *Config) {
		c.MaxRetries = maxRetries
		c.RetryDelay = delay
	}
}

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(c *Config) { c.HTTPClient = client }
}
