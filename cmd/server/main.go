package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/healthingest/internal/app"
	"github.com/JonMunkholm/healthingest/internal/config"
	"github.com/JonMunkholm/healthingest/internal/logging"
	"github.com/JonMunkholm/healthingest/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"ingest_max_concurrent", cfg.Ingest.MaxConcurrent,
		"ingest_max_file_size", cfg.Ingest.MaxFileSize,
		"rate_limit_enabled", cfg.Rate.Enabled,
		"postgres", cfg.Database.URL != "",
		"redis", cfg.Redis.URL != "",
	)
	slog.Debug("effective configuration", "config", cfg.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to start", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	opts := []web.Option{web.WithMetrics(a.Metrics)}
	if a.Postgres != nil {
		opts = append(opts, web.WithHealth(a.Postgres))
	}
	server := web.NewServer(cfg, a.Service, a.Schemas, opts...)

	// Background batch expiry stops with the signal context.
	go a.Service.StartExpirySweeper(ctx, cfg.Ingest.SweepInterval)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server stopped", "error", err)
			a.Close()
			os.Exit(1)
		}
		return
	case <-ctx.Done():
	}

	slog.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	// Let in-flight ingests finish before the store closes.
	if err := a.Service.Shutdown(shutdownCtx); err != nil {
		slog.Warn("ingests did not complete in time", "error", err)
	}
	slog.Info("server stopped")
}
