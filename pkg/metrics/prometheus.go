package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	registry              *prometheus.Registry
	transactionsProcessed prometheus.Counter
	transactionsFailed    prometheus.Counter
	processingDuration    prometheus.Histogram
	ruleViolations        prometheus.Counter
	webhookDeliveries     *prometheus.CounterVec
	batchItems            *prometheus.CounterVec
	logger                *slog.Logger
}

func NewCollector(logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}

	registry := prometheus.NewRegistry()

	return &Collector{
		registry: registry,
		transactionsProcessed: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "pipeline_transactions_processed_total",
			Help: "Total number of transactions that reached COMPLETED",
		}),
		transactionsFailed: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "pipeline_transactions_failed_total",
			Help: "Total number of transactions that reached FAILED",
		}),
		processingDuration: promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
			Name:    "pipeline_processing_duration_seconds",
			Help:    "Time taken to push a transaction through processing",
			Buckets: prometheus.DefBuckets,
		}),
		ruleViolations: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "pipeline_rule_violations_total",
			Help: "Total number of transactions denied by the rule engine",
		}),
		webhookDeliveries: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_webhook_deliveries_total",
			Help: "Webhook delivery attempts by outcome",
		}, []string{"outcome"}),
		batchItems: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_batch_items_total",
			Help: "Batch operation items by result",
		}, []string{"operation", "result"}),
		logger: logger,
	}
}

func (c *Collector) RecordProcessed(duration time.Duration, success bool) {
	if success {
		c.transactionsProcessed.Inc()
	} else {
		c.transactionsFailed.Inc()
	}
	c.processingDuration.Observe(duration.Seconds())
}

func (c *Collector) RecordRuleViolation() {
	c.ruleViolations.Inc()
}

func (c *Collector) RecordWebhookDelivery(success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	c.webhookDeliveries.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordBatchItem(operation string, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	c.batchItems.WithLabelValues(operation, result).Inc()
}

func (c *Collector) GetHandler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) StartMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.GetHandler())

	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		c.logger.Info("Starting metrics server", slog.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			c.logger.Error("Metrics server failed", slog.String("error", err.Error()))
		}
	}()

	return server
}

func (c *Collector) Shutdown(ctx context.Context) error {
	c.logger.Info("Metrics collector shutdown complete")
	return nil
}
