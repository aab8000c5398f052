package batch

import (
	"context"
	"testing"
	"time"

	"payment_pipeline/internal/domain"
	"payment_pipeline/internal/lifecycle"
	"payment_pipeline/internal/repository/memory"
	"payment_pipeline/internal/rules"
)

func newTestOrchestrator() (*Orchestrator, *lifecycle.Manager) {
	store := memory.NewTransactionStore()
	engine := rules.NewEngine(rules.DefaultConfig(), nil, nil)
	manager := lifecycle.NewManager(store, engine, nil, nil).
		WithLatency(func(domain.TransactionPriority) time.Duration { return 0 }).
		WithOutcomeSource(func() float64 { return 0 })
	return NewOrchestrator(manager, nil, nil), manager
}

func createRequest(amount float64) lifecycle.CreateRequest {
	return lifecycle.CreateRequest{
		Type:          domain.TypePayment,
		Amount:        amount,
		Currency:      "USD",
		SourceAccount: "acc-src",
	}
}

func TestOrchestrator_BatchCreateIsolatesFailures(t *testing.T) {
	o, _ := newTestOrchestrator()

	requests := []lifecycle.CreateRequest{
		createRequest(100),
		createRequest(-5), // invalid amount
		createRequest(200),
		{Type: domain.TypePayment, Amount: 50, Currency: "", SourceAccount: "acc"}, // missing currency
		createRequest(300),
	}

	result, err := o.BatchCreate(context.Background(), requests)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(result.Transactions) != 3 {
		t.Errorf("expected 3 successes, got %d", len(result.Transactions))
	}
	if len(result.Failures) != 2 {
		t.Errorf("expected 2 failures, got %d", len(result.Failures))
	}
	if result.Summary.Total != 5 || result.Summary.Succeeded != 3 || result.Summary.Failed != 2 {
		t.Errorf("unexpected summary: %+v", result.Summary)
	}
	if result.Summary.SuccessRate != "60.0%" {
		t.Errorf("expected success rate 60.0%%, got %q", result.Summary.SuccessRate)
	}
	for _, failure := range result.Failures {
		if failure.Request == nil || failure.Error == "" {
			t.Errorf("expected failure to echo request and error, got %+v", failure)
		}
	}
}

func TestOrchestrator_BatchCreateSuccessRateRounding(t *testing.T) {
	o, _ := newTestOrchestrator()

	requests := []lifecycle.CreateRequest{
		createRequest(100),
		createRequest(200),
		createRequest(-1),
	}

	result, err := o.BatchCreate(context.Background(), requests)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Summary.SuccessRate != "66.7%" {
		t.Errorf("expected 66.7%%, got %q", result.Summary.SuccessRate)
	}
}

func TestOrchestrator_BatchProcessIsolatesFailures(t *testing.T) {
	o, manager := newTestOrchestrator()

	tx1, _ := manager.Create(context.Background(), createRequest(100))
	tx2, _ := manager.Create(context.Background(), createRequest(150000)) // denied by rules
	tx3, _ := manager.Create(context.Background(), createRequest(200))

	result, err := o.BatchProcess(context.Background(), []string{tx1.ID, tx2.ID, "missing", tx3.ID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(result.Transactions) != 2 {
		t.Errorf("expected 2 successes, got %d", len(result.Transactions))
	}
	if len(result.Failures) != 2 {
		t.Errorf("expected 2 failures, got %d", len(result.Failures))
	}

	got1, _ := manager.Get(context.Background(), tx1.ID)
	got3, _ := manager.Get(context.Background(), tx3.ID)
	if got1.Status != domain.StatusCompleted || got3.Status != domain.StatusCompleted {
		t.Errorf("expected surrounding items to complete despite failures, got %s and %s", got1.Status, got3.Status)
	}
	got2, _ := manager.Get(context.Background(), tx2.ID)
	if got2.Status != domain.StatusFailed {
		t.Errorf("expected denied transaction to be failed, got %s", got2.Status)
	}
}

func TestOrchestrator_BatchCancel(t *testing.T) {
	o, manager := newTestOrchestrator()

	tx1, _ := manager.Create(context.Background(), createRequest(100))
	tx2, _ := manager.Create(context.Background(), createRequest(200))
	if _, err := manager.Process(context.Background(), tx2.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, err := o.BatchCancel(context.Background(), []string{tx1.ID, tx2.ID}, "sweep")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Completed transactions cannot be cancelled.
	if len(result.Transactions) != 1 || len(result.Failures) != 1 {
		t.Errorf("expected 1 success and 1 failure, got %d and %d", len(result.Transactions), len(result.Failures))
	}
	if result.Summary.SuccessRate != "50.0%" {
		t.Errorf("expected 50.0%%, got %q", result.Summary.SuccessRate)
	}
}

func TestOrchestrator_BatchRetry(t *testing.T) {
	o, manager := newTestOrchestrator()

	fail := true
	manager.WithOutcomeSource(func() float64 {
		if fail {
			return 0.99
		}
		return 0
	})

	tx, _ := manager.Create(context.Background(), createRequest(100))
	if _, err := manager.Process(context.Background(), tx.ID); err == nil {
		t.Fatal("expected processing to fail")
	}

	fail = false
	result, err := o.BatchRetry(context.Background(), []string{tx.ID, "missing"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Transactions) != 1 || len(result.Failures) != 1 {
		t.Errorf("expected 1 success and 1 failure, got %d and %d", len(result.Transactions), len(result.Failures))
	}
	if result.Transactions[0].Status != domain.StatusCompleted {
		t.Errorf("expected retried transaction completed, got %s", result.Transactions[0].Status)
	}
}

func TestOrchestrator_ProcessPendingHonorsLimitAndOrder(t *testing.T) {
	o, manager := newTestOrchestrator()

	var ids []string
	for i := 0; i < 5; i++ {
		tx, _ := manager.Create(context.Background(), createRequest(float64(100+i)))
		ids = append(ids, tx.ID)
	}

	result, err := o.ProcessPending(context.Background(), 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Transactions) != 3 {
		t.Fatalf("expected 3 processed, got %d", len(result.Transactions))
	}
	for i := 0; i < 3; i++ {
		if result.Transactions[i].ID != ids[i] {
			t.Errorf("expected creation order to be preserved at index %d", i)
		}
	}

	remaining, _ := manager.Pending(context.Background())
	if len(remaining) != 2 {
		t.Errorf("expected 2 still pending, got %d", len(remaining))
	}
}

func TestOrchestrator_ProcessPendingEmpty(t *testing.T) {
	o, _ := newTestOrchestrator()

	result, err := o.ProcessPending(context.Background(), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Summary.Total != 0 {
		t.Errorf("expected empty summary, got %+v", result.Summary)
	}
}

func TestOrchestrator_MaxBatchSizeBounds(t *testing.T) {
	o, _ := newTestOrchestrator()

	if o.MaxBatchSize() != DefaultMaxBatchSize {
		t.Errorf("expected default %d, got %d", DefaultMaxBatchSize, o.MaxBatchSize())
	}

	if err := o.SetMaxBatchSize(0); err == nil {
		t.Error("expected error for size 0")
	}
	if err := o.SetMaxBatchSize(1001); err == nil {
		t.Error("expected error for size above 1000")
	}
	if err := o.SetMaxBatchSize(1); err != nil {
		t.Errorf("unexpected error for size 1: %v", err)
	}
	if err := o.SetMaxBatchSize(1000); err != nil {
		t.Errorf("unexpected error for size 1000: %v", err)
	}

	if err := o.SetMaxBatchSize(2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	requests := []lifecycle.CreateRequest{createRequest(1), createRequest(2), createRequest(3)}
	if _, err := o.BatchCreate(context.Background(), requests); err == nil {
		t.Error("expected oversized batch to be rejected")
	}
}

func TestOrchestrator_EmptyBatchRejected(t *testing.T) {
	o, _ := newTestOrchestrator()

	if _, err := o.BatchProcess(context.Background(), nil); err == nil {
		t.Error("expected empty batch to be rejected")
	}
}
