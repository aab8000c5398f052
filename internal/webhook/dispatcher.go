package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"payment_pipeline/internal/domain"
	"payment_pipeline/internal/errlog"
	"payment_pipeline/internal/repository"
	"payment_pipeline/pkg/crypto"
	"payment_pipeline/pkg/metrics"
)

const (
	deliveryTimeout   = 10 * time.Second
	defaultMaxRetries = 3

	headerSignature = "X-Webhook-Signature"
	headerEvent     = "X-Webhook-Event"
	headerTimestamp = "X-Webhook-Timestamp"
)

// Envelope is the JSON body POSTed to subscribers. The HMAC signature is
// computed over these exact serialized bytes.
type Envelope struct {
	Event     string      `json:"event"`
	Timestamp int64       `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// Dispatcher delivers lifecycle events to subscribed webhooks. Deliveries run
// concurrently per webhook; failed attempts are retried with exponential
// backoff until the webhook's retry budget is spent. Delivery is
// at-least-once, never guaranteed exactly-once.
type Dispatcher struct {
	webhooks repository.WebhookStore
	logs     repository.WebhookLogStore
	client   *http.Client
	errors   *errlog.Logger
	metrics  *metrics.Collector
	logger   *slog.Logger

	// backoffBase scales the retry delay: delay = backoffBase * 2^attempt.
	// Production keeps the 1s base; tests shrink it.
	backoffBase time.Duration

	wg         sync.WaitGroup
	shutdownCh chan struct{}
	once       sync.Once
}

func NewDispatcher(webhooks repository.WebhookStore, logs repository.WebhookLogStore, errors *errlog.Logger, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}

	return &Dispatcher{
		webhooks:    webhooks,
		logs:        logs,
		client:      &http.Client{Timeout: deliveryTimeout},
		errors:      errors,
		logger:      logger,
		backoffBase: time.Second,
		shutdownCh:  make(chan struct{}),
	}
}

func (d *Dispatcher) WithHTTPClient(client *http.Client) *Dispatcher {
	d.client = client
	return d
}

func (d *Dispatcher) WithBackoffBase(base time.Duration) *Dispatcher {
	d.backoffBase = base
	return d
}

func (d *Dispatcher) WithMetrics(collector *metrics.Collector) *Dispatcher {
	d.metrics = collector
	return d
}

// TriggerEvent fans the event out to every active webhook subscribed to it.
// Each delivery runs in its own goroutine; one subscriber's failure never
// affects another. Scheduled retries are fire-and-forget: TriggerEvent
// returning does not mean all retries have finished.
func (d *Dispatcher) TriggerEvent(ctx context.Context, event string, payload interface{}) error {
	subscribers, err := d.webhooks.GetActiveByEvent(ctx, event)
	if err != nil {
		return fmt.Errorf("select webhooks for %s: %w", event, err)
	}
	if len(subscribers) == 0 {
		return nil
	}

	envelope := Envelope{
		Event:     event,
		Timestamp: time.Now().Unix(),
		Payload:   payload,
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("encode envelope for %s: %w", event, err)
	}

	for _, wh := range subscribers {
		wh := wh
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.deliver(wh, event, body, 1)
		}()
	}

	return nil
}

// deliver performs one attempt and schedules the next one on failure.
func (d *Dispatcher) deliver(wh *domain.Webhook, event string, body []byte, attempt int) {
	logEntry := d.attempt(wh, event, body, attempt)

	if err := d.logs.Append(context.Background(), logEntry); err != nil {
		d.logger.Error("Failed to record webhook log",
			slog.String("webhook_id", wh.ID),
			slog.String("error", err.Error()))
	}
	if d.metrics != nil {
		d.metrics.RecordWebhookDelivery(logEntry.Success)
	}

	if logEntry.Success {
		d.logger.Info("Webhook delivered",
			slog.String("webhook_id", wh.ID),
			slog.String("event", event),
			slog.Int("attempt", attempt),
			slog.Int("status", logEntry.StatusCode))
		return
	}

	maxRetries := wh.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	if attempt >= maxRetries {
		d.logger.Error("Webhook delivery failed permanently",
			slog.String("webhook_id", wh.ID),
			slog.String("event", event),
			slog.Int("attempts", attempt))
		if d.errors != nil {
			d.errors.Log(context.Background(), errlog.SeverityHigh, errlog.CategoryWebhook,
				domain.CodeInternal,
				fmt.Sprintf("webhook %s exhausted %d delivery attempts for %s", wh.ID, attempt, event),
				"", map[string]string{"webhook_id": wh.ID, "event": event})
		}
		return
	}

	delay := d.backoffBase * (1 << attempt)
	d.logger.Warn("Webhook delivery failed, scheduling retry",
		slog.String("webhook_id", wh.ID),
		slog.String("event", event),
		slog.Int("attempt", attempt),
		slog.Duration("retry_in", delay))

	// Add happens inside the still-tracked parent delivery, so the counter
	// never touches zero while a retry chain is pending.
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		select {
		case <-time.After(delay):
			d.deliver(wh, event, body, attempt+1)
		case <-d.shutdownCh:
			// Queued retries are dropped on shutdown; loss is accepted.
		}
	}()
}

// attempt runs a single HTTP POST and returns its delivery record.
func (d *Dispatcher) attempt(wh *domain.Webhook, event string, body []byte, attempt int) *domain.WebhookLog {
	logEntry := &domain.WebhookLog{
		ID:        domain.GenerateID(),
		WebhookID: wh.ID,
		Event:     event,
		Payload:   string(body),
		Attempt:   attempt,
		Timestamp: time.Now(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wh.URL, bytes.NewReader(body))
	if err != nil {
		logEntry.Error = err.Error()
		return logEntry
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerEvent, event)
	req.Header.Set(headerTimestamp, strconv.FormatInt(time.Now().Unix(), 10))
	if wh.Secret != "" {
		req.Header.Set(headerSignature, crypto.NewSigner(wh.Secret).Sign(body))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		logEntry.Error = err.Error()
		return logEntry
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	logEntry.StatusCode = resp.StatusCode
	logEntry.Response = string(respBody)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		logEntry.Success = true
	} else {
		logEntry.Error = fmt.Sprintf("unexpected status %d", resp.StatusCode)
	}

	return logEntry
}

// TestWebhook sends a single synchronous test.ping through the delivery path,
// without retries, and returns the attempt record.
func (d *Dispatcher) TestWebhook(ctx context.Context, id string) (*domain.WebhookLog, error) {
	wh, err := d.webhooks.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	envelope := Envelope{
		Event:     domain.EventTestPing,
		Timestamp: time.Now().Unix(),
		Payload:   map[string]string{"message": "connectivity check"},
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}

	logEntry := d.attempt(wh, domain.EventTestPing, body, 1)
	if err := d.logs.Append(ctx, logEntry); err != nil {
		return nil, fmt.Errorf("record webhook log: %w", err)
	}
	return logEntry, nil
}

func (d *Dispatcher) Register(ctx context.Context, wh *domain.Webhook) (*domain.Webhook, error) {
	if wh.URL == "" {
		return nil, errors.New("webhook url is required")
	}
	if len(wh.Events) == 0 {
		return nil, errors.New("webhook must subscribe to at least one event")
	}

	if wh.ID == "" {
		wh.ID = domain.GenerateID()
	}
	if wh.MaxRetries <= 0 {
		wh.MaxRetries = defaultMaxRetries
	}
	wh.CreatedAt = time.Now()

	if err := d.webhooks.Save(ctx, wh); err != nil {
		return nil, fmt.Errorf("save webhook: %w", err)
	}

	d.logger.InfoContext(ctx, "Webhook registered",
		slog.String("webhook_id", wh.ID),
		slog.String("url", wh.URL))

	return wh, nil
}

func (d *Dispatcher) Update(ctx context.Context, wh *domain.Webhook) error {
	return d.webhooks.Update(ctx, wh)
}

func (d *Dispatcher) Delete(ctx context.Context, id string) error {
	return d.webhooks.Delete(ctx, id)
}

func (d *Dispatcher) Get(ctx context.Context, id string) (*domain.Webhook, error) {
	return d.webhooks.GetByID(ctx, id)
}

func (d *Dispatcher) List(ctx context.Context) ([]*domain.Webhook, error) {
	return d.webhooks.GetAll(ctx)
}

func (d *Dispatcher) Logs(ctx context.Context, webhookID string, limit int) ([]*domain.WebhookLog, error) {
	return d.logs.GetByWebhookID(ctx, webhookID, limit)
}

// Shutdown waits for in-flight deliveries to finish. Backoff retries that
// have not fired yet are dropped.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.once.Do(func() { close(d.shutdownCh) })

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("Webhook dispatcher shutdown complete")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
