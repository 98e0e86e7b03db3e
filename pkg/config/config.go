// Package config loads the optional agentctl defaults file. Every field
// has a built-in default, so running without a file (or with a partial one)
// is fine; command-line flags override whatever the file provides.
package config

import (
	"os"
	"time"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
)

// Config holds operational defaults for the control-plane client.
type Config struct {
	Region            string `toml:"region"`
	PageSize          int64  `toml:"page-size"`
	MaxConcurrentJobs int    `toml:"max-concurrent-jobs"`
	RequestTimeout    string `toml:"request-timeout"`

	timeout time.Duration
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		PageSize:          100,
		MaxConcurrentJobs: 4,
		RequestTimeout:    "30s",
		timeout:           30 * time.Second,
	}
}

// Load unmarshals a TOML configuration file over the defaults.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	config := Default()
	if err := toml.Unmarshal(raw, &config); err != nil {
		return nil, errors.Wrapf(err, "failed to parse config file %q", path)
	}
	if err := config.validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config file %q", path)
	}
	return &config, nil
}

func (c *Config) validate() error {
	if c.PageSize <= 0 {
		return errors.Errorf("page-size must be positive, got %d", c.PageSize)
	}
	if c.MaxConcurrentJobs <= 0 {
		return errors.Errorf("max-concurrent-jobs must be positive, got %d", c.MaxConcurrentJobs)
	}
	timeout, err := time.ParseDuration(c.RequestTimeout)
	if err != nil {
		return errors.Wrapf(err, "failed to parse request-timeout %q", c.RequestTimeout)
	}
	if timeout <= 0 {
		return errors.Errorf("request-timeout must be positive, got %s", timeout)
	}
	c.timeout = timeout
	return nil
}

// Timeout returns the parsed per-request timeout.
func (c *Config) Timeout() time.Duration {
	return c.timeout
}

// SetTimeout overrides the per-request timeout, typically from a flag.
func (c *Config) SetTimeout(d time.Duration) {
	c.timeout = d
	c.RequestTimeout = d.String()
}
