package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/agentsql/agentsql/internal/cli/agentsqlctl"
	"github.com/agentsql/agentsql/internal/config"
	"github.com/agentsql/agentsql/internal/observability"
)

func main() {
	cfg, err := config.LoadFromEnv("agentsqlctl")
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := agentsqlctl.Run(ctx, os.Args[1:], agentsqlctl.Options{
		Config: cfg,
		Logger: observability.NewLogger(cfg, os.Stderr),
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	})
	stop()
	os.Exit(code)
}
