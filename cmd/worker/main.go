package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/bootstrap"
	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/config"
	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/core/ports"
	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/observability/logging"
	"github.com/bsmart-pg/Mail-Stadtwerke-Tool-sub000/internal/observability/metrics"
)

const serviceName = "worker"

func main() {
	cfg := config.Load()
	slog.SetDefault(logging.New(os.Stdout, serviceName, cfg.LogLevel, cfg.LogFormat))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerMetrics := metrics.NewWorkerMetrics(serviceName)
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{
		Metrics: workerMetrics.Pipeline(),
		ObserveLag: func(lag time.Duration) {
			workerMetrics.ObserveQueueLag(serviceName, lag)
		},
	})
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           metricsMux(workerMetrics),
		ReadHeaderTimeout: 5 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		slog.Info("worker_metrics_listening", "addr", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})
	group.Go(func() error {
		runPoller(groupCtx, app.Ingestor, cfg.InboxPollInterval, workerMetrics)
		return nil
	})
	group.Go(func() error {
		slog.Info("worker_subscribed", "subject", cfg.NATSSubject, "queue_group", cfg.NATSQueueGroup)
		return app.Queue.SubscribeEmailReceived(groupCtx, func(handlerCtx context.Context, recordID string) error {
			workerMetrics.StartEmail()
			started := time.Now()
			err := app.Analyzer.ProcessByID(handlerCtx, recordID)
			workerMetrics.FinishEmail(serviceName, time.Since(started), err)
			return err
		})
	})

	if err := group.Wait(); err != nil {
		slog.Error("worker_failed", "error", err)
		os.Exit(1)
	}
}

// runPoller polls once at start and then on every tick until ctx is done.
func runPoller(ctx context.Context, ingestor ports.InboxIngestor, interval time.Duration, workerMetrics *metrics.WorkerMetrics) {
	if interval <= 0 {
		slog.Info("inbox_poller_disabled")
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		discovered, err := ingestor.Poll(ctx)
		workerMetrics.ObservePoll(serviceName, discovered, err)
		if err != nil {
			slog.Warn("inbox_poll_failed", "discovered", discovered, "error", err)
		} else if discovered > 0 {
			slog.Info("inbox_poll_completed", "discovered", discovered)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func metricsMux(workerMetrics *metrics.WorkerMetrics) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", workerMetrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}
