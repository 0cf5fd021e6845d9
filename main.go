// patchpackd serves a registry of patch containers over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"patchpack/internal/api"
	"patchpack/internal/config"
	"patchpack/internal/logging"
	"patchpack/internal/middleware"
	"patchpack/internal/registry"
	"patchpack/internal/storage"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "config file (default config/config.$PATCHPACK_ENV.json)")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("failed to load config:", err)
	}

	// Initialize logger
	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger:", err)
	}
	defer logger.Sync()

	// Initialize BadgerDB
	db, err := storage.Open(cfg.Database.Path, cfg.Database.InMemory)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()

	reg, err := registry.New(db, registry.Options{
		CacheSize: cfg.CacheSize,
		Logger:    logger.Logger,
	})
	if err != nil {
		logger.Fatal("failed to initialize registry", zap.Error(err))
	}

	mux := http.NewServeMux()
	api.NewReleaseHandler(reg, logger.Logger).Register(mux)

	// Apply middleware
	handler := middleware.Chain(
		mux,
		middleware.MaxBody(cfg.Server.MaxUpload),
		middleware.Recover(logger),
		middleware.Logger(logger),
		middleware.RequestID,
	)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("starting server",
		zap.String("address", addr),
		zap.String("environment", cfg.Environment),
		zap.String("database", cfg.Database.Path))

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", zap.Error(err))
		return
	}
	logger.Info("server stopped")
}
