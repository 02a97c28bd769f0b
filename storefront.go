package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"storefront/pkg/app"
)

// main lets operators start the service with `go run storefront.go`.
func main() {
	logger := log.New(os.Stdout, "[storefront] ", log.LstdFlags)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := app.Run(ctx, os.Args[1:], logger); err != nil {
		logger.Fatalf("application stopped with error: %v", err)
	}
}
