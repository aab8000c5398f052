package domain

import "time"

// Event names recognized by the webhook dispatcher.
const (
	EventTransactionCreated    = "transaction.created"
	EventTransactionProcessing = "transaction.processing"
	EventTransactionCompleted  = "transaction.completed"
	EventTransactionFailed     = "transaction.failed"
	EventTransactionCancelled  = "transaction.cancelled"
	EventTransactionRefunded   = "transaction.refunded"
	EventRuleTriggered         = "rule.triggered"
	EventErrorCritical         = "error.critical"
	EventTestPing              = "test.ping"
)

type Webhook struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	URL        string    `json:"url"`
	Secret     string    `json:"secret,omitempty"`
	Events     []string  `json:"events"`
	Active     bool      `json:"active"`
	MaxRetries int       `json:"max_retries"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (w *Webhook) SubscribedTo(event string) bool {
	for _, e := range w.Events {
		if e == event {
			return true
		}
	}
	return false
}

// WebhookLog records the outcome of a single delivery attempt. Retries write
// additional records, one per attempt.
type WebhookLog struct {
	ID         string    `json:"id"`
	WebhookID  string    `json:"webhook_id"`
	Event      string    `json:"event"`
	Payload    string    `json:"payload"`
	Success    bool      `json:"success"`
	StatusCode int       `json:"status_code,omitempty"`
	Response   string    `json:"response,omitempty"`
	Error      string    `json:"error,omitempty"`
	Attempt    int       `json:"attempt"`
	Timestamp  time.Time `json:"timestamp"`
}
