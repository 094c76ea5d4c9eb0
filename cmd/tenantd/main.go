package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/centra-sso/centra/tenant"
)

const defaultConfigPath = "/app/config/tenant.yaml"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	setupSignalHandler(cancel)

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Cannot initialize Zap logger: %v.", err)
	}

	defer func() {
		if err := logger.Sync(); err != nil {
			log.Printf("Error syncing logger: %v", err)
		}
	}()

	configPath := defaultConfigPath
	if value, exists := os.LookupEnv("TENANTD_CONFIG"); exists && value != "" {
		configPath = value
	}

	cfg, err := tenant.LoadConfig(configPath)
	if err != nil {
		logger.Fatal("Error loading tenant configuration.", zap.Error(err))
	}

	app, err := tenant.NewApp(ctx, cfg, &http.Client{Timeout: 10 * time.Second}, logger)
	if err != nil {
		logger.Fatal("Error initializing tenant application.", zap.Error(err))
	}

	srv := &http.Server{
		Handler:      app.SetupRoutes(),
		Addr:         cfg.ListenAddress,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		logger.Info("Starting tenant application...",
			zap.String("tenant", cfg.Slug),
			zap.String("address", cfg.ListenAddress))

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server exited with error.", zap.Error(err))
		}
	}()

	<-ctx.Done()

	logger.Info("Shutting down tenant application...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during server shutdown.", zap.Error(err))
	}
}

func setupSignalHandler(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigs
		cancel()
	}()
}
