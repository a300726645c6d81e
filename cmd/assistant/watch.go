package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/GenorTG/personal-assistant-sub001/internal/health"
	"github.com/GenorTG/personal-assistant-sub001/internal/transport"
	"github.com/GenorTG/personal-assistant-sub001/internal/wire"
)

// runWatch connects to the backend, streams server pushes and connection
// state changes to stdout, and keeps the health prober running until the
// process is interrupted.
func runWatch(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to config file (default ~/.assistant/config.toml)")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, code := loadConfig(*configPath, stderr)
	if code != 0 {
		return code
	}

	cl, err := newClient(cfg, true)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer cl.close()

	cl.channel.Monitor().OnChange(func(s transport.State) {
		fmt.Fprintf(stdout, "[conn] %s\n", s)
	})
	cl.channel.OnMessage(func(frame *wire.Frame) {
		if !frame.IsEvent() {
			return
		}
		fmt.Fprintf(stdout, "[push] %s %s\n", frame.Action, string(frame.Payload))
	})

	prober := health.NewProber(health.Config{
		BaseURL:          cfg.ServerURL,
		UnstableInterval: cfg.ProbeUnstable(),
		StableInterval:   cfg.ProbeStable(),
		SuccessThreshold: cfg.ProbeSuccessThreshold,
		OnChange: func(alive bool) {
			if alive {
				fmt.Fprintln(stdout, "[health] backend reachable")
			} else {
				fmt.Fprintln(stdout, "[health] backend unreachable")
			}
		},
		OnLost: func(err error) {
			fmt.Fprintf(stdout, "[health] backend lost: %v\n", err)
		},
	})
	prober.Start()
	defer prober.Stop()

	if err := cl.connect(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Watching %s (Ctrl-C to stop)\n", cfg.SocketURL())

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	<-interrupt

	fmt.Fprintln(stdout, "Interrupted, closing.")
	return 0
}
