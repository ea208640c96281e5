package crawler

import (
	"time"
)

// Config holds the configuration for a crawler instance
type Config struct {
	DefaultTimeout time.Duration // Timeout for a single fetch
	UserAgent      string        // Default user agent when a fetch does not name one
	MaxBodySize    int           // Bytes of body kept from a GET; 0 means unlimited
	MaxRedirects   int           // Redirects followed before giving up
	SkipSSRFCheck  bool          // Allow private and loopback targets (tests, CLI --allow-private)
}

// DefaultConfig returns a Config instance with default values
func DefaultConfig() *Config {
	return &Config{
		DefaultTimeout: 30 * time.Second,
		UserAgent:      "builtwith",
		MaxBodySize:    10 * 1024 * 1024,
		MaxRedirects:   10,
	}
}
