package internal_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"payment_pipeline/internal/api"
	"payment_pipeline/internal/batch"
	"payment_pipeline/internal/domain"
	"payment_pipeline/internal/errlog"
	"payment_pipeline/internal/lifecycle"
	"payment_pipeline/internal/repository/memory"
	"payment_pipeline/internal/rules"
	"payment_pipeline/internal/webhook"
	"payment_pipeline/pkg/crypto"
)

type testEnv struct {
	store      *memory.TransactionStore
	manager    *lifecycle.Manager
	engine     *rules.Engine
	dispatcher *webhook.Dispatcher
	server     *httptest.Server
}

func setup(t *testing.T) *testEnv {
	t.Helper()

	store := memory.NewTransactionStore()
	webhooks := memory.NewWebhookStore()
	logs := memory.NewWebhookLogStore()
	errors := errlog.NewLogger(slog.Default())

	engine := rules.NewEngine(rules.DefaultConfig(), errors, nil)
	dispatcher := webhook.NewDispatcher(webhooks, logs, errors, nil).
		WithBackoffBase(time.Millisecond)
	manager := lifecycle.NewManager(store, engine, errors, nil).
		WithLatency(func(domain.TransactionPriority) time.Duration { return 0 }).
		WithOutcomeSource(func() float64 { return 0 }).
		WithEvents(dispatcher)
	orchestrator := batch.NewOrchestrator(manager, dispatcher, nil)

	handler := api.NewHandler(manager, orchestrator, engine, dispatcher, nil)
	server := httptest.NewServer(handler.Routes())
	t.Cleanup(server.Close)

	return &testEnv{
		store:      store,
		manager:    manager,
		engine:     engine,
		dispatcher: dispatcher,
		server:     server,
	}
}

func (env *testEnv) post(t *testing.T, path string, body interface{}) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request failed: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	resp, err := http.Post(env.server.URL+path, "application/json", reader)
	if err != nil {
		t.Fatalf("POST %s failed: %v", path, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	return resp, raw
}

func (env *testEnv) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(env.server.URL + path)
	if err != nil {
		t.Fatalf("GET %s failed: %v", path, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	return resp, raw
}

func (env *testEnv) createTransaction(t *testing.T, amount float64) *domain.Transaction {
	t.Helper()
	resp, raw := env.post(t, "/api/v1/transactions", lifecycle.CreateRequest{
		Type:          domain.TypePayment,
		Amount:        amount,
		Currency:      "USD",
		SourceAccount: "acc-1",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.StatusCode, raw)
	}
	var tx domain.Transaction
	if err := json.Unmarshal(raw, &tx); err != nil {
		t.Fatalf("decode transaction failed: %v", err)
	}
	return &tx
}

func TestIntegration_CreateAndProcess(t *testing.T) {
	env := setup(t)

	tx := env.createTransaction(t, 250)
	if tx.Status != domain.StatusPending {
		t.Fatalf("expected pending, got %s", tx.Status)
	}

	resp, raw := env.post(t, "/api/v1/transactions/"+tx.ID+"/process", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, raw)
	}
	var processed domain.Transaction
	if err := json.Unmarshal(raw, &processed); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if processed.Status != domain.StatusCompleted {
		t.Fatalf("expected completed, got %s", processed.Status)
	}
	if processed.CompletedAt == nil {
		t.Error("expected completion timestamp")
	}

	_, raw = env.get(t, "/api/v1/transactions/"+tx.ID+"/history")
	var history []*domain.StatusTransition
	if err := json.Unmarshal(raw, &history); err != nil {
		t.Fatalf("decode history failed: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 transitions, got %d", len(history))
	}
	if history[len(history)-1].ToStatus != domain.StatusCompleted {
		t.Errorf("expected final transition to completed, got %s", history[len(history)-1].ToStatus)
	}
}

func TestIntegration_ValidationRejectsWithoutPersisting(t *testing.T) {
	env := setup(t)

	resp, raw := env.post(t, "/api/v1/transactions", lifecycle.CreateRequest{
		Type:          domain.TypePayment,
		Amount:        -10,
		Currency:      "USD",
		SourceAccount: "acc-1",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", resp.StatusCode, raw)
	}

	all, err := env.store.GetAll(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("expected no persisted transactions, got %d", len(all))
	}
}

func TestIntegration_RuleDenialReturnsFailedTransaction(t *testing.T) {
	env := setup(t)

	tx := env.createTransaction(t, 150000)

	resp, raw := env.post(t, "/api/v1/transactions/"+tx.ID+"/process", nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", resp.StatusCode, raw)
	}
	var failed domain.Transaction
	if err := json.Unmarshal(raw, &failed); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if failed.Status != domain.StatusFailed {
		t.Errorf("expected failed, got %s", failed.Status)
	}
	if failed.ErrorCode != domain.CodeRuleViolation {
		t.Errorf("expected error code %s, got %s", domain.CodeRuleViolation, failed.ErrorCode)
	}
}

func TestIntegration_CancelAndRefundRules(t *testing.T) {
	env := setup(t)

	pending := env.createTransaction(t, 100)
	resp, _ := env.post(t, "/api/v1/transactions/"+pending.ID+"/cancel",
		map[string]string{"reason": "customer request"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 on cancel, got %d", resp.StatusCode)
	}

	resp, _ = env.post(t, "/api/v1/transactions/"+pending.ID+"/cancel", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 for double cancel, got %d", resp.StatusCode)
	}

	completed := env.createTransaction(t, 100)
	if _, raw := env.post(t, "/api/v1/transactions/"+completed.ID+"/process", nil); len(raw) == 0 {
		t.Fatal("expected process response")
	}

	resp, _ = env.post(t, "/api/v1/transactions/"+completed.ID+"/cancel", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 cancelling a completed transaction, got %d", resp.StatusCode)
	}

	resp, raw := env.post(t, "/api/v1/transactions/"+completed.ID+"/refund",
		map[string]string{"reason": "dispute"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 on refund, got %d: %s", resp.StatusCode, raw)
	}
	var refunded domain.Transaction
	_ = json.Unmarshal(raw, &refunded)
	if refunded.Status != domain.StatusRefunded {
		t.Errorf("expected refunded, got %s", refunded.Status)
	}
}

func TestIntegration_UnknownTransactionIs404(t *testing.T) {
	env := setup(t)

	resp, _ := env.get(t, "/api/v1/transactions/missing")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestIntegration_BatchCreateAndProcess(t *testing.T) {
	env := setup(t)

	requests := []lifecycle.CreateRequest{
		{Type: domain.TypePayment, Amount: 100, Currency: "USD", SourceAccount: "acc-1"},
		{Type: domain.TypePayment, Amount: -1, Currency: "USD", SourceAccount: "acc-1"},
		{Type: domain.TypePayment, Amount: 300, Currency: "EUR", SourceAccount: "acc-2"},
	}

	resp, raw := env.post(t, "/api/v1/batch/transactions", requests)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, raw)
	}
	var created batch.Result
	if err := json.Unmarshal(raw, &created); err != nil {
		t.Fatalf("decode batch result failed: %v", err)
	}
	if created.Summary.Succeeded != 2 || created.Summary.Failed != 1 {
		t.Fatalf("unexpected summary: %+v", created.Summary)
	}
	if created.Summary.SuccessRate != "66.7%" {
		t.Errorf("expected 66.7%%, got %q", created.Summary.SuccessRate)
	}

	resp, raw = env.post(t, "/api/v1/batch/process-pending?limit=10", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, raw)
	}
	var processed batch.Result
	_ = json.Unmarshal(raw, &processed)
	if processed.Summary.Succeeded != 2 {
		t.Errorf("expected 2 processed, got %+v", processed.Summary)
	}
}

func TestIntegration_RuleManagement(t *testing.T) {
	env := setup(t)

	rule := domain.Rule{
		Name:      "Block test merchant",
		Condition: domain.Leaf("source_account", domain.OpEq, "acc-blocked"),
		Action:    domain.ActionDeny,
		Severity:  domain.SeverityError,
		Priority:  0,
		Enabled:   true,
	}
	resp, raw := env.post(t, "/api/v1/rules", rule)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.StatusCode, raw)
	}
	var saved domain.Rule
	if err := json.Unmarshal(raw, &saved); err != nil {
		t.Fatalf("decode rule failed: %v", err)
	}
	if saved.ID == "" {
		t.Fatal("expected generated rule id")
	}

	blocked, raw := env.post(t, "/api/v1/transactions", lifecycle.CreateRequest{
		Type:          domain.TypePayment,
		Amount:        50,
		Currency:      "USD",
		SourceAccount: "acc-blocked",
	})
	if blocked.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", blocked.StatusCode)
	}
	var tx domain.Transaction
	_ = json.Unmarshal(raw, &tx)

	resp, _ = env.post(t, "/api/v1/transactions/"+tx.ID+"/process", nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("expected custom rule to deny processing, got %d", resp.StatusCode)
	}

	resp, _ = env.post(t, "/api/v1/rules/"+saved.ID+"/disable", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	_, raw = env.post(t, "/api/v1/transactions", lifecycle.CreateRequest{
		Type:          domain.TypePayment,
		Amount:        50,
		Currency:      "USD",
		SourceAccount: "acc-blocked",
	})
	var second domain.Transaction
	_ = json.Unmarshal(raw, &second)
	resp, _ = env.post(t, "/api/v1/transactions/"+second.ID+"/process", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected processing to pass once rule disabled, got %d", resp.StatusCode)
	}
}

func TestIntegration_WebhookDeliveryOnCompletion(t *testing.T) {
	env := setup(t)

	var mu sync.Mutex
	var received []byte
	var signature string
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		received = body
		signature = r.Header.Get("X-Webhook-Signature")
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer target.Close()

	resp, raw := env.post(t, "/api/v1/webhooks", domain.Webhook{
		Name:   "settlement feed",
		URL:    target.URL,
		Secret: "hook-secret",
		Events: []string{domain.EventTransactionCompleted},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.StatusCode, raw)
	}
	var wh domain.Webhook
	_ = json.Unmarshal(raw, &wh)

	// A single process call, not a batch, must notify subscribers too.
	tx := env.createTransaction(t, 100)
	resp, _ = env.post(t, "/api/v1/transactions/"+tx.ID+"/process", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		done := received != nil
		mu.Unlock()
		if done {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("webhook delivery never arrived")
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()

	var envelope webhook.Envelope
	if err := json.Unmarshal(received, &envelope); err != nil {
		t.Fatalf("decode envelope failed: %v", err)
	}
	if envelope.Event != domain.EventTransactionCompleted {
		t.Errorf("expected completed event, got %q", envelope.Event)
	}
	if want := crypto.NewSigner("hook-secret").Sign(received); signature != want {
		t.Errorf("signature mismatch: got %q want %q", signature, want)
	}

	logsResp, logsRaw := env.get(t, fmt.Sprintf("/api/v1/webhooks/%s/logs", wh.ID))
	if logsResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", logsResp.StatusCode)
	}
	var logs []*domain.WebhookLog
	if err := json.Unmarshal(logsRaw, &logs); err != nil {
		t.Fatalf("decode logs failed: %v", err)
	}
	if len(logs) != 1 || !logs[0].Success {
		t.Errorf("expected one successful delivery log, got %+v", logs)
	}
}

func TestIntegration_ConcurrentCreates(t *testing.T) {
	env := setup(t)

	n := 20
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			env.createTransaction(t, float64(10+i))
		}(i)
	}
	wg.Wait()

	all, err := env.store.GetAll(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != n {
		t.Errorf("expected %d transactions, got %d", n, len(all))
	}
	seen := map[string]bool{}
	for _, tx := range all {
		if seen[tx.ID] {
			t.Errorf("duplicate id %s", tx.ID)
		}
		seen[tx.ID] = true
	}
}

func TestIntegration_Health(t *testing.T) {
	env := setup(t)

	resp, raw := env.get(t, "/api/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("expected healthy status, got %v", body["status"])
	}
}
