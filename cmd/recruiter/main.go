package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/ent0n29/recruiter/internal/app"
	"github.com/ent0n29/recruiter/internal/config"
)

func main() {
	envFile := pflag.String("env-file", ".env", "dotenv file merged into the environment before config is read")
	catalogPath := pflag.String("catalog", "", "job catalog file, overrides CATALOG_PATH")
	bindAddr := pflag.String("bind", "", "ops HTTP listen address, overrides APP_BIND_ADDR")
	pflag.Parse()

	if err := config.LoadEnvFile(*envFile, pflag.CommandLine.Changed("env-file")); err != nil {
		log.Fatalf("config error: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if *catalogPath != "" {
		cfg.CatalogPath = *catalogPath
	}
	if *bindAddr != "" {
		cfg.BindAddr = *bindAddr
	}

	level := slog.LevelInfo
	if cfg.DebugLogs {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	runCtx, runCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer runCancel()

	built, err := app.Build(runCtx, cfg, logger)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}
	defer func() {
		if err := built.Cleanup(); err != nil {
			logger.Error("cleanup failed", "error", err)
		}
	}()
	logger.Info("transport configured", "mode", built.Info.Mode, "detail", built.Info.Detail)
	logger.Info("catalog loaded", "path", cfg.CatalogPath, "postings", built.Catalog.Len())

	built.Sessions.StartJanitor(runCtx, app.JanitorInterval(cfg.SessionTTL))

	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           built.API.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("server listening", "addr", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	intakeDone := make(chan error, 1)
	go func() {
		intakeDone <- built.Intake.Run(runCtx, built.Transport)
	}()

	select {
	case <-runCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-intakeDone:
		// Transports only return early on unrecoverable errors.
		logger.Error("intake stopped", "error", err)
		runCancel()
		intakeDone <- err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
		_ = httpServer.Close()
	}

	select {
	case <-intakeDone:
	case <-shutdownCtx.Done():
		logger.Warn("intake workers did not stop before the shutdown timeout")
	}

	logger.Info("shutdown complete")
}
