// Package config provides TOML configuration loading for the assistant
// client. The configuration file lives at ~/.assistant/config.toml by
// default, but can be overridden with the --config flag. CLI flags always
// take precedence over file values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the client configuration file structure.
// The backend base URL is the only externally significant setting; the
// rest tune timing behavior and local persistence.
type Config struct {
	// ServerURL is the backend base URL, e.g. "http://127.0.0.1:8080".
	// The socket endpoint and health endpoint are derived from it.
	ServerURL string `toml:"server_url"`

	// RequestTimeoutMs is the default correlated-request timeout.
	// Default: 10000
	RequestTimeoutMs int `toml:"request_timeout_ms"`

	// ProbeUnstableMs is the health probe interval while the backend is
	// unstable. Default: 2000
	ProbeUnstableMs int `toml:"probe_unstable_ms"`

	// ProbeStableMs is the health probe interval once the backend has
	// been stable for the success threshold. Default: 10000
	ProbeStableMs int `toml:"probe_stable_ms"`

	// ProbeSuccessThreshold is the consecutive-success count required
	// before relaxing to the stable interval. Default: 3
	ProbeSuccessThreshold int `toml:"probe_success_threshold"`

	// StateDB is the path to the SQLite database holding persisted client
	// state (last-opened conversation, settings snapshot).
	// Default: ~/.assistant/state.db
	StateDB string `toml:"state_db"`

	// LogLevel controls logging verbosity: debug, info, warn, error.
	// Default: info
	LogLevel string `toml:"log_level"`
}

// DefaultConfigPath returns the default config file location:
// ~/.assistant/config.toml.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".assistant", "config.toml"), nil
}

// DefaultStateDBPath returns the default state database location.
func DefaultStateDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".assistant", "state.db"), nil
}

// Load reads the config file at path and applies defaults for missing
// fields. A missing file is not an error: the defaults are returned.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat config %s: %w", path, err)
		}
	}

	cfg.applyDefaults()
	return cfg, nil
}

// applyDefaults fills zero-valued fields with the documented defaults.
func (c *Config) applyDefaults() {
	if c.ServerURL == "" {
		c.ServerURL = "http://127.0.0.1:8080"
	}
	if c.RequestTimeoutMs <= 0 {
		c.RequestTimeoutMs = 10000
	}
	if c.ProbeUnstableMs <= 0 {
		c.ProbeUnstableMs = 2000
	}
	if c.ProbeStableMs <= 0 {
		c.ProbeStableMs = 10000
	}
	if c.ProbeSuccessThreshold <= 0 {
		c.ProbeSuccessThreshold = 3
	}
	if c.StateDB == "" {
		if p, err := DefaultStateDBPath(); err == nil {
			c.StateDB = p
		}
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// RequestTimeout returns the default request timeout as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

// ProbeUnstable returns the unstable probe interval as a duration.
func (c *Config) ProbeUnstable() time.Duration {
	return time.Duration(c.ProbeUnstableMs) * time.Millisecond
}

// ProbeStable returns the stable probe interval as a duration.
func (c *Config) ProbeStable() time.Duration {
	return time.Duration(c.ProbeStableMs) * time.Millisecond
}

// SocketURL derives the WebSocket endpoint from the server URL.
func (c *Config) SocketURL() string {
	url := c.ServerURL
	switch {
	case strings.HasPrefix(url, "https://"):
		url = "wss://" + strings.TrimPrefix(url, "https://")
	case strings.HasPrefix(url, "http://"):
		url = "ws://" + strings.TrimPrefix(url, "http://")
	}
	return strings.TrimSuffix(url, "/") + "/ws"
}
