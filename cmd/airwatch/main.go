// Package main provides the airwatch command line tool for batch ingestion
// and store maintenance.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// Version is set at compile time via ldflags.
var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCommand(os.Stdout).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
