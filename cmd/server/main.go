package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"storefront/pkg/app"
)

// main is the entry point for process managers and container images.
func main() {
	logger := log.New(os.Stdout, "[storefront] ", log.LstdFlags)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := app.Run(ctx, os.Args[1:], logger); err != nil {
		logger.Fatalf("application stopped with error: %v", err)
	}
}
