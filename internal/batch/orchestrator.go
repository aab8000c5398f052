package batch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"payment_pipeline/internal/domain"
	"payment_pipeline/internal/lifecycle"
	"payment_pipeline/internal/webhook"
	"payment_pipeline/pkg/metrics"
)

const (
	DefaultMaxBatchSize = 100
	minBatchSize        = 1
	maxBatchSize        = 1000
)

// Orchestrator fans batch requests out to the lifecycle manager with
// per-item isolation: one item's failure never aborts the rest.
type Orchestrator struct {
	manager    *lifecycle.Manager
	dispatcher *webhook.Dispatcher
	metrics    *metrics.Collector
	logger     *slog.Logger

	mu           sync.RWMutex
	maxBatchSize int
}

func NewOrchestrator(manager *lifecycle.Manager, dispatcher *webhook.Dispatcher, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		manager:      manager,
		dispatcher:   dispatcher,
		logger:       logger,
		maxBatchSize: DefaultMaxBatchSize,
	}
}

func (o *Orchestrator) WithMetrics(collector *metrics.Collector) *Orchestrator {
	o.metrics = collector
	return o
}

func (o *Orchestrator) MaxBatchSize() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.maxBatchSize
}

func (o *Orchestrator) SetMaxBatchSize(size int) error {
	if size < minBatchSize || size > maxBatchSize {
		return fmt.Errorf("max batch size must be between %d and %d, got %d", minBatchSize, maxBatchSize, size)
	}

	o.mu.Lock()
	o.maxBatchSize = size
	o.mu.Unlock()
	return nil
}

type ItemFailure struct {
	Request interface{} `json:"request,omitempty"`
	ID      string      `json:"id,omitempty"`
	Error   string      `json:"error"`
}

type Summary struct {
	Total       int    `json:"total"`
	Succeeded   int    `json:"succeeded"`
	Failed      int    `json:"failed"`
	SuccessRate string `json:"success_rate"`
}

type Result struct {
	Transactions []*domain.Transaction `json:"transactions"`
	Failures     []ItemFailure         `json:"failures,omitempty"`
	Summary      Summary               `json:"summary"`
}

func summarize(total, succeeded int) Summary {
	rate := 0.0
	if total > 0 {
		rate = float64(succeeded) / float64(total) * 100
	}
	return Summary{
		Total:       total,
		Succeeded:   succeeded,
		Failed:      total - succeeded,
		SuccessRate: fmt.Sprintf("%.1f%%", rate),
	}
}

// BatchCreate creates each transaction independently and announces successes
// with a transaction.created event. It returns once all creations have
// settled; webhook deliveries are not awaited.
func (o *Orchestrator) BatchCreate(ctx context.Context, requests []lifecycle.CreateRequest) (*Result, error) {
	if err := o.checkSize(len(requests)); err != nil {
		return nil, err
	}

	result := &Result{}
	for _, req := range requests {
		tx, err := o.manager.Create(ctx, req)
		if err != nil {
			result.Failures = append(result.Failures, ItemFailure{Request: req, Error: err.Error()})
			o.recordItem("create", false)
			continue
		}

		result.Transactions = append(result.Transactions, tx)
		o.recordItem("create", true)
		o.fireEvent(ctx, domain.EventTransactionCreated, tx)
	}

	result.Summary = summarize(len(requests), len(result.Transactions))
	o.logger.InfoContext(ctx, "Batch create finished",
		slog.Int("total", result.Summary.Total),
		slog.Int("succeeded", result.Summary.Succeeded),
		slog.Int("failed", result.Summary.Failed))

	return result, nil
}

// BatchProcess processes the given transactions sequentially, deliberately
// not concurrently, so items never race on shared transaction state. Outcome
// events are fired per item by the lifecycle manager.
func (o *Orchestrator) BatchProcess(ctx context.Context, ids []string) (*Result, error) {
	if err := o.checkSize(len(ids)); err != nil {
		return nil, err
	}

	result := &Result{}
	for _, id := range ids {
		tx, err := o.manager.Process(ctx, id)
		if err != nil {
			result.Failures = append(result.Failures, ItemFailure{ID: id, Error: err.Error()})
			o.recordItem("process", false)
			continue
		}

		result.Transactions = append(result.Transactions, tx)
		o.recordItem("process", true)
	}

	result.Summary = summarize(len(ids), len(result.Transactions))
	return result, nil
}

func (o *Orchestrator) BatchCancel(ctx context.Context, ids []string, reason string) (*Result, error) {
	if err := o.checkSize(len(ids)); err != nil {
		return nil, err
	}

	result := &Result{}
	for _, id := range ids {
		tx, err := o.manager.Cancel(ctx, id, reason)
		if err != nil {
			result.Failures = append(result.Failures, ItemFailure{ID: id, Error: err.Error()})
			o.recordItem("cancel", false)
			continue
		}

		result.Transactions = append(result.Transactions, tx)
		o.recordItem("cancel", true)
	}

	result.Summary = summarize(len(ids), len(result.Transactions))
	return result, nil
}

func (o *Orchestrator) BatchRetry(ctx context.Context, ids []string) (*Result, error) {
	if err := o.checkSize(len(ids)); err != nil {
		return nil, err
	}

	result := &Result{}
	for _, id := range ids {
		tx, err := o.manager.Retry(ctx, id)
		if err != nil {
			result.Failures = append(result.Failures, ItemFailure{ID: id, Error: err.Error()})
			o.recordItem("retry", false)
			continue
		}

		result.Transactions = append(result.Transactions, tx)
		o.recordItem("retry", true)
	}

	result.Summary = summarize(len(ids), len(result.Transactions))
	return result, nil
}

// ProcessPending selects up to limit PENDING transactions in creation order
// and runs them through BatchProcess.
func (o *Orchestrator) ProcessPending(ctx context.Context, limit int) (*Result, error) {
	if limit <= 0 || limit > o.MaxBatchSize() {
		limit = o.MaxBatchSize()
	}

	pending, err := o.manager.Pending(ctx)
	if err != nil {
		return nil, fmt.Errorf("select pending transactions: %w", err)
	}

	if len(pending) > limit {
		pending = pending[:limit]
	}

	ids := make([]string, 0, len(pending))
	for _, tx := range pending {
		ids = append(ids, tx.ID)
	}

	if len(ids) == 0 {
		return &Result{Summary: summarize(0, 0)}, nil
	}
	return o.BatchProcess(ctx, ids)
}

func (o *Orchestrator) checkSize(n int) error {
	if n == 0 {
		return fmt.Errorf("batch is empty")
	}
	if max := o.MaxBatchSize(); n > max {
		return fmt.Errorf("batch size %d exceeds maximum of %d", n, max)
	}
	return nil
}

func (o *Orchestrator) fireEvent(ctx context.Context, event string, tx *domain.Transaction) {
	if o.dispatcher == nil {
		return
	}
	if err := o.dispatcher.TriggerEvent(ctx, event, tx); err != nil {
		o.logger.ErrorContext(ctx, "Failed to trigger webhook event",
			slog.String("event", event),
			slog.String("transaction_id", tx.ID),
			slog.String("error", err.Error()))
	}
}

func (o *Orchestrator) recordItem(operation string, success bool) {
	if o.metrics != nil {
		o.metrics.RecordBatchItem(operation, success)
	}
}
