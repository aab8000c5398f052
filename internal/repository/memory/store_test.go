package memory

import (
	"context"
	"errors"
	"testing"

	"payment_pipeline/internal/domain"
	"payment_pipeline/internal/repository"
)

func TestTransactionStore_SaveAndGetByID(t *testing.T) {
	store := NewTransactionStore()
	tx := domain.NewTransaction(domain.TypePayment, 100, "USD")

	if err := store.Save(context.Background(), tx); err != nil {
		t.Fatalf("unexpected error on Save: %v", err)
	}

	got, err := store.GetByID(context.Background(), tx.ID)
	if err != nil {
		t.Fatalf("unexpected error on GetByID: %v", err)
	}
	if got.Amount != 100 || got.Status != domain.StatusPending {
		t.Errorf("expected transaction %+v, got %+v", tx, got)
	}
}

func TestTransactionStore_SaveDuplicate(t *testing.T) {
	store := NewTransactionStore()
	tx := domain.NewTransaction(domain.TypePayment, 100, "USD")
	_ = store.Save(context.Background(), tx)

	err := store.Save(context.Background(), tx)
	if !errors.Is(err, repository.ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}
}

func TestTransactionStore_GetByIDNotFound(t *testing.T) {
	store := NewTransactionStore()

	_, err := store.GetByID(context.Background(), "missing")
	if !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestTransactionStore_GetByStatusPreservesCreationOrder(t *testing.T) {
	store := NewTransactionStore()

	var ids []string
	for i := 0; i < 3; i++ {
		tx := domain.NewTransaction(domain.TypePayment, float64(i+1), "USD")
		_ = store.Save(context.Background(), tx)
		ids = append(ids, tx.ID)
	}

	completed := domain.NewTransaction(domain.TypePayment, 50, "USD")
	completed.Status = domain.StatusCompleted
	_ = store.Save(context.Background(), completed)

	pending, err := store.GetByStatus(context.Background(), domain.StatusPending)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("expected 3 pending, got %d", len(pending))
	}
	for i, tx := range pending {
		if tx.ID != ids[i] {
			t.Errorf("expected creation order preserved at %d", i)
		}
	}
}

func TestTransactionStore_TransitionsAppendOnlyOrdered(t *testing.T) {
	store := NewTransactionStore()
	tx := domain.NewTransaction(domain.TypePayment, 100, "USD")
	_ = store.Save(context.Background(), tx)

	statuses := []domain.TransactionStatus{domain.StatusValidating, domain.StatusProcessing, domain.StatusCompleted}
	for _, status := range statuses {
		_ = store.AppendTransition(context.Background(), &domain.StatusTransition{
			TransactionID: tx.ID,
			ToStatus:      status,
			TriggeredBy:   "system",
		})
	}

	history, err := store.GetTransitions(context.Background(), tx.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 transitions, got %d", len(history))
	}
	for i, status := range statuses {
		if history[i].ToStatus != status {
			t.Errorf("transition %d: expected %s, got %s", i, status, history[i].ToStatus)
		}
	}
}

func TestWebhookStore_GetActiveByEvent(t *testing.T) {
	store := NewWebhookStore()

	active := &domain.Webhook{ID: "w1", URL: "http://a", Active: true, Events: []string{domain.EventTransactionCompleted}}
	inactive := &domain.Webhook{ID: "w2", URL: "http://b", Active: false, Events: []string{domain.EventTransactionCompleted}}
	other := &domain.Webhook{ID: "w3", URL: "http://c", Active: true, Events: []string{domain.EventTransactionFailed}}
	_ = store.Save(context.Background(), active)
	_ = store.Save(context.Background(), inactive)
	_ = store.Save(context.Background(), other)

	got, err := store.GetActiveByEvent(context.Background(), domain.EventTransactionCompleted)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].ID != "w1" {
		t.Errorf("expected only w1, got %+v", got)
	}
}

func TestWebhookStore_Delete(t *testing.T) {
	store := NewWebhookStore()
	wh := &domain.Webhook{ID: "w1", URL: "http://a", Active: true, Events: []string{"x"}}
	_ = store.Save(context.Background(), wh)

	if err := store.Delete(context.Background(), "w1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := store.GetByID(context.Background(), "w1"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := store.Delete(context.Background(), "w1"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected ErrNotFound for double delete, got %v", err)
	}
}

func TestWebhookLogStore_MostRecentFirstWithLimit(t *testing.T) {
	store := NewWebhookLogStore()

	for i := 1; i <= 5; i++ {
		_ = store.Append(context.Background(), &domain.WebhookLog{
			ID:        domain.GenerateID(),
			WebhookID: "w1",
			Attempt:   i,
		})
	}
	_ = store.Append(context.Background(), &domain.WebhookLog{ID: "other", WebhookID: "w2", Attempt: 1})

	logs, err := store.GetByWebhookID(context.Background(), "w1", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(logs) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(logs))
	}
	if logs[0].Attempt != 5 || logs[2].Attempt != 3 {
		t.Errorf("expected most recent first, got attempts %d..%d", logs[0].Attempt, logs[2].Attempt)
	}
}
