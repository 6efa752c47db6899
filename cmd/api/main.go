package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/adapters/http"
	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/bootstrap"
	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/config"
	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/observability/logging"
	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/observability/metrics"
)

func main() {
	cfg := config.Load()
	slog.SetDefault(logging.New(os.Stdout, "api", cfg.LogLevel, cfg.LogFormat))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpMetrics := metrics.NewHTTPServerMetrics("api")
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{Metrics: httpMetrics.Pipeline()})
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	router := httpadapter.NewRouter(cfg, app.Records, app.Editor, app.Forwarder, app.Ingestor, app.Exporter).
		WithMetrics(httpMetrics).
		Handler()
	server := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("api_listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("api_server_failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("api_shutdown_failed", "error", err)
	}
}
