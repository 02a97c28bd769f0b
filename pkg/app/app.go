package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"storefront/pkg/auth"
	"storefront/pkg/billing"
	"storefront/pkg/dashboard"
	"storefront/pkg/httpapi"
	"storefront/pkg/inventory"
	"storefront/pkg/sales"
	"storefront/pkg/storage"
	"storefront/pkg/supplier"
	"storefront/pkg/version"
)

// Run composes persistence, domain services and the HTTP server, and blocks
// until ctx is cancelled or the server fails.
func Run(ctx context.Context, args []string, logger *log.Logger) error {
	if logger == nil {
		logger = log.New(os.Stdout, "[storefront] ", log.LstdFlags)
	}

	cfg, err := loadConfig(args, os.Getenv)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	if cfg.showVersion {
		logger.Printf("storefront version %s", version.Version())
		return nil
	}

	db, err := storage.Open(ctx, storage.Config{
		Dialect:     storage.Dialect(cfg.dbType),
		DSN:         cfg.databaseURL,
		Path:        cfg.dbPath,
		LockTimeout: cfg.lockTimeout,
	})
	if err != nil {
		return fmt.Errorf("unable to open database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("unable to ensure schema: %w", err)
	}

	var cache dashboard.Cache
	if cfg.redisURL != "" {
		redisCache, err := dashboard.NewRedisCache(cfg.redisURL, time.Minute)
		if err != nil {
			return fmt.Errorf("unable to connect dashboard cache: %w", err)
		}
		defer redisCache.Close()
		cache = redisCache
		logger.Printf("dashboard cache enabled")
	}

	productRepo := inventory.NewRepository(db)
	salesRepo := sales.NewRepository(db)
	supplierRepo := supplier.NewRepository(db)
	authRepo := auth.NewRepository(db)

	dashboardService := dashboard.NewService(productRepo, salesRepo, cache, cfg.lowStock, logger)
	supplierService := supplier.NewService(supplierRepo, logger)

	srv := httpapi.New(httpapi.Services{
		Auth:      auth.NewService(authRepo, cfg.sessionTTL, logger),
		Products:  inventory.NewService(productRepo, supplierService, dashboardService, logger),
		Suppliers: supplierService,
		Billing:   billing.NewService(db, productRepo, salesRepo, dashboardService, logger),
		Sales:     sales.NewService(salesRepo),
		Dashboard: dashboardService,
		Store:     db,
	}, logger, httpapi.WithAuthRate(cfg.authRate))

	server := &http.Server{
		Handler:      srv.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 20 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	listener, err := net.Listen("tcp", ":"+strconv.Itoa(cfg.port))
	if err != nil {
		return fmt.Errorf("unable to listen: %w", err)
	}

	logger.Printf("Storefront service is running on %s with the %s store", listener.Addr(), db.Dialect())
	return serve(ctx, server, listener, logger)
}

// serve runs the server until it fails or ctx ends, then drains in-flight requests.
func serve(ctx context.Context, server *http.Server, listener net.Listener, logger *log.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server stopped unexpectedly: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Printf("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	<-errCh
	return nil
}
