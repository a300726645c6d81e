package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/GenorTG/personal-assistant-sub001/internal/config"
	"github.com/GenorTG/personal-assistant-sub001/internal/health"
)

// runStatus performs a one-shot health probe against the backend and
// reports reachability plus the persisted client state summary.
func runStatus(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to config file (default ~/.assistant/config.toml)")
	timeout := fs.Duration("timeout", 5*time.Second, "Probe timeout")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, code := loadConfig(*configPath, stderr)
	if code != 0 {
		return code
	}

	prober := health.NewProber(health.Config{
		BaseURL:          cfg.ServerURL,
		UnstableInterval: cfg.ProbeUnstable(),
		StableInterval:   cfg.ProbeStable(),
		SuccessThreshold: cfg.ProbeSuccessThreshold,
	})

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	alive := prober.Check(ctx)
	sample := prober.Sample()

	fmt.Fprintf(stdout, "Backend:  %s\n", cfg.ServerURL)
	if alive {
		fmt.Fprintln(stdout, "Health:   reachable")
	} else {
		fmt.Fprintf(stdout, "Health:   unreachable (%v)\n", sample.LastError)
	}

	if alive {
		return 0
	}
	return 1
}

// loadConfig resolves the config path and loads it, reporting errors to
// stderr. Returns a non-zero exit code on failure.
func loadConfig(path string, stderr io.Writer) (*config.Config, int) {
	if path == "" {
		p, err := config.DefaultConfigPath()
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return nil, 1
		}
		path = p
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return nil, 1
	}
	return cfg, 0
}
