package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"payment_pipeline/internal/api"
	"payment_pipeline/internal/batch"
	"payment_pipeline/internal/config"
	"payment_pipeline/internal/errlog"
	"payment_pipeline/internal/lifecycle"
	"payment_pipeline/internal/repository"
	"payment_pipeline/internal/repository/memory"
	"payment_pipeline/internal/repository/postgres"
	"payment_pipeline/internal/repository/redisstore"
	"payment_pipeline/internal/rules"
	"payment_pipeline/internal/webhook"
	"payment_pipeline/pkg/metrics"
)

const appName = "payment_pipeline"

func main() {
	logger := setupLogger()
	logger.Info("Starting application", slog.String("name", appName))

	cfg := config.Load()

	txStore := setupTransactionStore(cfg, logger)
	webhookStore := memory.NewWebhookStore()
	logStore := setupWebhookLogStore(cfg, logger)

	collector := metrics.NewCollector(logger)
	errorLog := errlog.NewLogger(logger)

	engine := rules.NewEngine(rules.DefaultConfig(), errorLog, logger)
	dispatcher := webhook.NewDispatcher(webhookStore, logStore, errorLog, logger).WithMetrics(collector)
	manager := lifecycle.NewManager(txStore, engine, errorLog, logger).
		WithMetrics(collector).
		WithEvents(dispatcher)
	orchestrator := batch.NewOrchestrator(manager, dispatcher, logger).WithMetrics(collector)

	handler := api.NewHandler(manager, orchestrator, engine, dispatcher, logger)

	metricsServer := collector.StartMetricsServer(cfg.MetricsAddr)
	httpServer := startHTTPServer(cfg.HTTPAddr, handler, logger)

	waitForShutdown(logger, httpServer, metricsServer, dispatcher)
	logger.Info("Application shutdown complete")
}

func setupLogger() *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	return slog.New(handler)
}

func setupTransactionStore(cfg config.Config, logger *slog.Logger) repository.TransactionStore {
	if cfg.TransactionBackend == "redis" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.Error("Redis connection failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("Using redis transaction store", slog.String("addr", cfg.RedisAddr))
		return redisstore.NewTransactionStore(rdb)
	}
	return memory.NewTransactionStore()
}

func setupWebhookLogStore(cfg config.Config, logger *slog.Logger) repository.WebhookLogStore {
	if cfg.WebhookLogBackend == "postgres" {
		db, err := postgres.Open(cfg.DatabaseURL)
		if err != nil {
			logger.Error("Postgres connection failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		store, err := postgres.NewWebhookLogStore(db)
		if err != nil {
			logger.Error("Postgres migration failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("Using postgres webhook log store")
		return store
	}
	return memory.NewWebhookLogStore()
}

func startHTTPServer(addr string, handler *api.Handler, logger *slog.Logger) *http.Server {
	server := &http.Server{
		Addr:         addr,
		Handler:      handler.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	return server
}

func waitForShutdown(
	logger *slog.Logger,
	httpServer *http.Server,
	metricsServer *http.Server,
	dispatcher *webhook.Dispatcher,
) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	logger.Info("Shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown failed", slog.String("error", err.Error()))
	}

	if err := metricsServer.Shutdown(ctx); err != nil {
		logger.Error("Metrics server shutdown failed", slog.String("error", err.Error()))
	}

	if err := dispatcher.Shutdown(ctx); err != nil {
		logger.Error("Webhook dispatcher shutdown failed", slog.String("error", err.Error()))
	}
}
