package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/outbreak-tracker/internal/adapter/diseasesh"
	httpadapter "github.com/couchcryptid/outbreak-tracker/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/outbreak-tracker/internal/adapter/kafka"
	"github.com/couchcryptid/outbreak-tracker/internal/config"
	"github.com/couchcryptid/outbreak-tracker/internal/observability"
	"github.com/couchcryptid/outbreak-tracker/internal/tracker"
	"github.com/jonboulle/clockwork"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	client := diseasesh.NewClient(cfg.StatsBaseURL, cfg.StatsTimeout, metrics, logger)
	history := diseasesh.NewCachedHistory(client, cfg.HistoryCacheTTL, clockwork.NewRealClock(), metrics)
	logger.Info("statistics client configured",
		"base_url", cfg.StatsBaseURL, "timeout", cfg.StatsTimeout,
		"history_days", cfg.HistoryLastDays, "history_cache_ttl", cfg.HistoryCacheTTL)

	opts := []tracker.Option{tracker.WithHistory(history, cfg.HistoryLastDays)}

	// Snapshot publishing is feature-flagged via KAFKA_ENABLED.
	var publisher *kafkaadapter.Publisher
	if cfg.KafkaEnabled {
		publisher = kafkaadapter.NewPublisher(cfg, metrics, logger)
		opts = append(opts, tracker.WithSink(publisher))
		logger.Info("kafka snapshot publishing enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaSnapshotTopic)
	} else {
		logger.Info("kafka snapshot publishing disabled")
	}

	controller := tracker.New(client, logger, metrics, opts...)

	var scheduler *tracker.Scheduler
	if cfg.RefreshSchedule != "" {
		scheduler, err = tracker.NewScheduler(controller, cfg.RefreshSchedule, cfg.StatsTimeout*2, logger)
		if err != nil {
			logger.Error("failed to create refresh scheduler", "error", err)
			os.Exit(1)
		}
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, controller, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Initial load. /readyz reports not ready until both halves succeed;
	// the scheduler retries on its next tick.
	go func() {
		if err := controller.Startup(ctx); err != nil {
			logger.Error("startup fetch failed", "error", err)
		}
	}()
	if scheduler != nil {
		scheduler.Start()
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if scheduler != nil {
		scheduler.Stop(shutdownCtx)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			logger.Error("kafka publisher close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
