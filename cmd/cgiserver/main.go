package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"cgiserver/internal/config"
	"cgiserver/internal/logger"
	"cgiserver/internal/otel"
	"cgiserver/internal/server"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server_exited", "error", err.Error())
		os.Exit(1)
	}
}

func run() error {
	// Load configuration from environment variables (.env auto-loaded if present)
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	lg, closeLog, err := logger.New(cfg.Log, cfg.Location())
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer closeLog()
	slog.SetDefault(lg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := otel.Init(ctx, lg)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			lg.Error("tracing_shutdown_failed", "error", err.Error())
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	srv, err := server.New(cfg, lg, reg)
	if err != nil {
		return fmt.Errorf("failed to build server: %w", err)
	}
	return srv.Run(ctx)
}
