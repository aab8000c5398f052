package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"payment_pipeline/internal/domain"
	"payment_pipeline/internal/errlog"
	"payment_pipeline/internal/repository"
	"payment_pipeline/internal/rules"
	"payment_pipeline/pkg/metrics"
	"payment_pipeline/pkg/validator"
)

const (
	ActorSystem      = "system"
	ActorUser        = "user"
	ActorRetrySystem = "retry-system"
	ActorRulesEngine = "rules-engine"
)

// defaultSuccessRate is the probability of the simulated processing step
// succeeding. The remaining 10% models real-world unreliability.
const defaultSuccessRate = 0.9

var ErrRetriesExhausted = errors.New("retries exhausted")

// EventSink receives lifecycle event notifications. Deliveries are
// asynchronous and a sink failure never affects the transaction outcome.
type EventSink interface {
	TriggerEvent(ctx context.Context, event string, payload interface{}) error
}

// Manager owns every status change a transaction goes through. All mutations
// funnel through TransitionTo, which records an audit entry per move. Terminal
// outcomes (completed, failed, cancelled, refunded) are announced through the
// event sink.
type Manager struct {
	store     repository.TransactionStore
	engine    *rules.Engine
	validator *validator.TransactionValidator
	errors    *errlog.Logger
	metrics   *metrics.Collector
	events    EventSink
	logger    *slog.Logger

	successRate float64
	outcome     func() float64
	latency     func(domain.TransactionPriority) time.Duration
}

func NewManager(store repository.TransactionStore, engine *rules.Engine, errors *errlog.Logger, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		store:       store,
		engine:      engine,
		validator:   validator.NewTransactionValidator(),
		errors:      errors,
		logger:      logger,
		successRate: defaultSuccessRate,
		outcome:     rand.Float64,
		latency:     defaultLatency,
	}
}

// WithOutcomeSource replaces the success draw, used by tests to force
// deterministic processing outcomes.
func (m *Manager) WithOutcomeSource(outcome func() float64) *Manager {
	m.outcome = outcome
	return m
}

// WithLatency replaces the simulated processing delay table.
func (m *Manager) WithLatency(latency func(domain.TransactionPriority) time.Duration) *Manager {
	m.latency = latency
	return m
}

func (m *Manager) WithMetrics(collector *metrics.Collector) *Manager {
	m.metrics = collector
	return m
}

// WithEvents wires the webhook dispatcher (or any sink) into the lifecycle, so
// single-transaction operations announce their terminal outcomes.
func (m *Manager) WithEvents(sink EventSink) *Manager {
	m.events = sink
	return m
}

func (m *Manager) fireEvent(ctx context.Context, event string, tx *domain.Transaction) {
	if m.events == nil {
		return
	}
	if err := m.events.TriggerEvent(ctx, event, tx); err != nil {
		m.logger.ErrorContext(ctx, "Failed to trigger webhook event",
			slog.String("event", event),
			slog.String("transaction_id", tx.ID),
			slog.String("error", err.Error()))
	}
}

func defaultLatency(p domain.TransactionPriority) time.Duration {
	switch p {
	case domain.PriorityUrgent:
		return 50 * time.Millisecond
	case domain.PriorityHigh:
		return 100 * time.Millisecond
	case domain.PriorityLow:
		return 500 * time.Millisecond
	default:
		return 200 * time.Millisecond
	}
}

type CreateRequest struct {
	Type               domain.TransactionType     `json:"type"`
	Amount             float64                    `json:"amount"`
	Currency           string                     `json:"currency"`
	SourceAccount      string                     `json:"source_account"`
	DestinationAccount string                     `json:"destination_account,omitempty"`
	Description        string                     `json:"description,omitempty"`
	Priority           domain.TransactionPriority `json:"priority,omitempty"`
	Metadata           map[string]string          `json:"metadata,omitempty"`
}

// Create validates the request and persists a new PENDING transaction. It
// fires no webhook; orchestrators decide whether creation is announced.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*domain.Transaction, error) {
	if err := m.validator.Validate(req.Type, req.Amount, req.Currency, req.SourceAccount); err != nil {
		return nil, err
	}

	tx := domain.NewTransaction(req.Type, req.Amount, strings.ToUpper(req.Currency)).
		WithAccounts(req.SourceAccount, req.DestinationAccount).
		WithDescription(req.Description)
	if req.Priority != "" {
		tx.WithPriority(req.Priority)
	}
	for k, v := range req.Metadata {
		tx.AddMetadata(k, v)
	}

	if err := m.store.Save(ctx, tx); err != nil {
		return nil, fmt.Errorf("save transaction: %w", err)
	}

	m.logger.InfoContext(ctx, "Transaction created",
		slog.String("transaction_id", tx.ID),
		slog.String("type", string(tx.Type)),
		slog.Float64("amount", tx.Amount),
		slog.String("currency", tx.Currency))

	return tx, nil
}

func (m *Manager) Get(ctx context.Context, id string) (*domain.Transaction, error) {
	tx, err := m.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.NewPipelineError(domain.CodeNotFound, "transaction %s not found", id)
		}
		return nil, err
	}
	return tx, nil
}

// TransitionTo is the single choke point for status changes. Illegal moves
// fail without touching the transaction.
func (m *Manager) TransitionTo(ctx context.Context, id string, newStatus domain.TransactionStatus, actor, reason string) (*domain.Transaction, error) {
	tx, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if !CanTransition(tx.Status, newStatus) {
		return nil, domain.NewPipelineError(domain.CodeInvalidTransition,
			"invalid transition from %s to %s", tx.Status, newStatus)
	}

	from := tx.Status
	tx.Status = newStatus
	tx.UpdatedAt = time.Now()

	if err := m.store.Update(ctx, tx); err != nil {
		return nil, fmt.Errorf("update transaction: %w", err)
	}

	transition := &domain.StatusTransition{
		TransactionID: tx.ID,
		FromStatus:    from,
		ToStatus:      newStatus,
		TriggeredBy:   actor,
		Reason:        reason,
		Timestamp:     tx.UpdatedAt,
	}
	if err := m.store.AppendTransition(ctx, transition); err != nil {
		return nil, fmt.Errorf("append transition: %w", err)
	}

	m.logger.InfoContext(ctx, "Transaction status changed",
		slog.String("transaction_id", tx.ID),
		slog.String("from", string(from)),
		slog.String("to", string(newStatus)),
		slog.String("triggered_by", actor))

	return tx, nil
}

// Process drives a PENDING transaction to a terminal outcome in one call:
// validation against the rule engine, then simulated processing with a
// priority-dependent delay and a probabilistic success draw.
func (m *Manager) Process(ctx context.Context, id string) (*domain.Transaction, error) {
	start := time.Now()

	tx, err := m.TransitionTo(ctx, id, domain.StatusValidating, ActorSystem, "")
	if err != nil {
		return nil, err
	}

	verdict := m.engine.EvaluateTransaction(ctx, tx)
	if !verdict.Allowed {
		return m.failTransaction(ctx, tx, domain.CodeRuleViolation, verdict.DenyReason, ActorRulesEngine, start)
	}
	if verdict.Flagged || verdict.RequiresApproval {
		if verdict.Flagged {
			tx.AddMetadata("flagged", "true")
		}
		if verdict.RequiresApproval {
			tx.AddMetadata("requires_approval", "true")
		}
		if err := m.store.Update(ctx, tx); err != nil {
			return nil, fmt.Errorf("update transaction: %w", err)
		}
	}

	tx, err = m.TransitionTo(ctx, id, domain.StatusProcessing, ActorSystem, "")
	if err != nil {
		return nil, err
	}

	time.Sleep(m.latency(tx.Priority))

	if m.outcome() >= m.successRate {
		return m.failTransaction(ctx, tx, domain.CodeProcessingFailed, "simulated processing failure", ActorSystem, start)
	}

	now := time.Now()
	tx.CompletedAt = &now
	if err := m.store.Update(ctx, tx); err != nil {
		return nil, fmt.Errorf("update transaction: %w", err)
	}

	tx, err = m.TransitionTo(ctx, id, domain.StatusCompleted, ActorSystem, "")
	if err != nil {
		return nil, err
	}

	if m.metrics != nil {
		m.metrics.RecordProcessed(time.Since(start), true)
	}
	m.fireEvent(ctx, domain.EventTransactionCompleted, tx)

	return tx, nil
}

func (m *Manager) failTransaction(ctx context.Context, tx *domain.Transaction, code, message, actor string, start time.Time) (*domain.Transaction, error) {
	tx.ErrorCode = code
	tx.ErrorMessage = message
	if err := m.store.Update(ctx, tx); err != nil {
		return nil, fmt.Errorf("update transaction: %w", err)
	}

	tx, err := m.TransitionTo(ctx, tx.ID, domain.StatusFailed, actor, message)
	if err != nil {
		return nil, err
	}

	if m.metrics != nil {
		m.metrics.RecordProcessed(time.Since(start), false)
		if code == domain.CodeRuleViolation {
			m.metrics.RecordRuleViolation()
		}
	}
	if m.errors != nil && code == domain.CodeProcessingFailed {
		m.errors.Log(ctx, errlog.SeverityHigh, errlog.CategoryProcessing, code, message, tx.ID, nil)
	}
	m.fireEvent(ctx, domain.EventTransactionFailed, tx)

	return tx, domain.NewPipelineError(code, "%s", message)
}

// Retry re-runs processing for a FAILED transaction, bounded by MaxRetries.
func (m *Manager) Retry(ctx context.Context, id string) (*domain.Transaction, error) {
	tx, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if tx.Status != domain.StatusFailed {
		return nil, domain.NewPipelineError(domain.CodeInvalidTransition,
			"only failed transactions can be retried, current status is %s", tx.Status)
	}
	if tx.RetryCount >= tx.MaxRetries {
		return nil, fmt.Errorf("%w: %d of %d attempts used", ErrRetriesExhausted, tx.RetryCount, tx.MaxRetries)
	}

	tx.RetryCount++
	tx.ErrorCode = ""
	tx.ErrorMessage = ""
	if err := m.store.Update(ctx, tx); err != nil {
		return nil, fmt.Errorf("update transaction: %w", err)
	}

	if _, err := m.TransitionTo(ctx, id, domain.StatusPending, ActorRetrySystem,
		fmt.Sprintf("retry attempt %d", tx.RetryCount)); err != nil {
		return nil, err
	}

	return m.Process(ctx, id)
}

func (m *Manager) Cancel(ctx context.Context, id, reason string) (*domain.Transaction, error) {
	tx, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	switch tx.Status {
	case domain.StatusCompleted:
		return nil, domain.NewPipelineError(domain.CodeInvalidTransition,
			"completed transactions cannot be cancelled, use refund")
	case domain.StatusCancelled:
		return nil, domain.NewPipelineError(domain.CodeInvalidTransition,
			"transaction is already cancelled")
	}

	tx, err = m.TransitionTo(ctx, id, domain.StatusCancelled, ActorUser, reason)
	if err != nil {
		return nil, err
	}
	m.fireEvent(ctx, domain.EventTransactionCancelled, tx)

	return tx, nil
}

func (m *Manager) Refund(ctx context.Context, id, reason string) (*domain.Transaction, error) {
	tx, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if tx.Status != domain.StatusCompleted {
		return nil, domain.NewPipelineError(domain.CodeInvalidTransition,
			"only completed transactions can be refunded, current status is %s", tx.Status)
	}

	tx, err = m.TransitionTo(ctx, id, domain.StatusRefunded, ActorUser, reason)
	if err != nil {
		return nil, err
	}
	m.fireEvent(ctx, domain.EventTransactionRefunded, tx)

	return tx, nil
}

// Pending returns all PENDING transactions in creation order.
func (m *Manager) Pending(ctx context.Context) ([]*domain.Transaction, error) {
	return m.store.GetByStatus(ctx, domain.StatusPending)
}

// GetHistory returns the ordered transition records for a transaction. A
// known transaction with no recorded transitions yields an empty slice.
func (m *Manager) GetHistory(ctx context.Context, id string) ([]*domain.StatusTransition, error) {
	if _, err := m.Get(ctx, id); err != nil {
		return nil, err
	}
	return m.store.GetTransitions(ctx, id)
}
