package remotebackend

import (
	"time"

	"github.com/solanyn/modal-operator/internal/credentials"
)

// Config holds the RealClient's dependencies: the backend's base URL,
// the credential pair, and an upstream call timeout.
type Config struct {
	baseURL string
	pair    credentials.Pair
	timeout time.Duration
}

// Option configures NewClient/NewRealClient.
type Option func(*Config)

// WithBaseURL overrides the backend's API base URL.
func WithBaseURL(url string) Option {
	return func(c *Config) { c.baseURL = url }
}

// WithCredentials sets the credential pair used to authenticate
// backend calls.
func WithCredentials(pair credentials.Pair) Option {
	return func(c *Config) { c.pair = pair }
}

// WithTimeout overrides the per-call HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.timeout = d }
}

func defaultConfig() *Config {
	return &Config{
		baseURL: "https://api.modal.com",
		timeout: 30 * time.Second,
	}
}
