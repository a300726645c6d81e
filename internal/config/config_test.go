package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServerURL != "http://127.0.0.1:8080" {
		t.Fatalf("default server url = %q", cfg.ServerURL)
	}
	if cfg.RequestTimeout() != 10*time.Second {
		t.Fatalf("default request timeout = %s", cfg.RequestTimeout())
	}
	if cfg.ProbeUnstable() != 2*time.Second || cfg.ProbeStable() != 10*time.Second {
		t.Fatalf("default probe intervals = %s / %s", cfg.ProbeUnstable(), cfg.ProbeStable())
	}
	if cfg.ProbeSuccessThreshold != 3 {
		t.Fatalf("default success threshold = %d", cfg.ProbeSuccessThreshold)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("default log level = %q", cfg.LogLevel)
	}
}

func TestLoadParsesFileAndFillsGaps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
server_url = "https://assistant.example.com"
probe_unstable_ms = 500
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServerURL != "https://assistant.example.com" {
		t.Fatalf("server url = %q", cfg.ServerURL)
	}
	if cfg.ProbeUnstable() != 500*time.Millisecond {
		t.Fatalf("probe unstable = %s", cfg.ProbeUnstable())
	}
	// Unspecified fields still take defaults.
	if cfg.ProbeStable() != 10*time.Second {
		t.Fatalf("probe stable = %s", cfg.ProbeStable())
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("server_url = [not toml"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse error for malformed config")
	}
}

func TestSocketURL(t *testing.T) {
	cases := []struct {
		server string
		want   string
	}{
		{"http://127.0.0.1:8080", "ws://127.0.0.1:8080/ws"},
		{"https://assistant.example.com", "wss://assistant.example.com/ws"},
		{"http://127.0.0.1:8080/", "ws://127.0.0.1:8080/ws"},
	}
	for _, tc := range cases {
		cfg := &Config{ServerURL: tc.server}
		if got := cfg.SocketURL(); got != tc.want {
			t.Fatalf("SocketURL(%q) = %q, want %q", tc.server, got, tc.want)
		}
	}
}
