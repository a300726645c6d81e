package main

import (
	"context"
	"flag"
	"fmt"
	"io"
)

// runSend sends one chat message on a conversation and waits for the
// backend to acknowledge it.
func runSend(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to config file (default ~/.assistant/config.toml)")
	conversation := fs.String("conversation", "", "Conversation id (default: last opened)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(stderr, "Usage: assistant send [--conversation <id>] <message>")
		return 1
	}
	message := fs.Arg(0)

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

	if err := cl.connect(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	target := *conversation
	if target == "" {
		target = cl.service.Current()
	}
	if target == "" {
		fmt.Fprintln(stderr, "Error: no conversation selected; pass --conversation")
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout())
	defer cancel()
	if err := cl.service.SendMessage(ctx, target, message); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	cl.service.Select(target)
	fmt.Fprintf(stdout, "Sent to %s\n", target)
	return 0
}
