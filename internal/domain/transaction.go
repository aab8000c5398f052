package domain

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

type TransactionType string
type TransactionStatus string
type TransactionPriority string

const (
	TypePayment    TransactionType = "payment"
	TypeTransfer   TransactionType = "transfer"
	TypeWithdrawal TransactionType = "withdrawal"
	TypeDeposit    TransactionType = "deposit"
	TypeRefund     TransactionType = "refund"

	StatusPending    TransactionStatus = "pending"
	StatusValidating TransactionStatus = "validating"
	StatusProcessing TransactionStatus = "processing"
	StatusCompleted  TransactionStatus = "completed"
	StatusFailed     TransactionStatus = "failed"
	StatusCancelled  TransactionStatus = "cancelled"
	StatusRefunded   TransactionStatus = "refunded"

	PriorityLow    TransactionPriority = "low"
	PriorityNormal TransactionPriority = "normal"
	PriorityHigh   TransactionPriority = "high"
	PriorityUrgent TransactionPriority = "urgent"
)

const DefaultMaxRetries = 3

type Transaction struct {
	ID                 string              `json:"id"`
	Type               TransactionType     `json:"type"`
	Status             TransactionStatus   `json:"status"`
	Priority           TransactionPriority `json:"priority"`
	Amount             float64             `json:"amount"`
	Currency           string              `json:"currency"`
	SourceAccount      string              `json:"source_account"`
	DestinationAccount string              `json:"destination_account,omitempty"`
	Description        string              `json:"description,omitempty"`
	Metadata           map[string]string   `json:"metadata,omitempty"`
	RetryCount         int                 `json:"retry_count"`
	MaxRetries         int                 `json:"max_retries"`
	ErrorCode          string              `json:"error_code,omitempty"`
	ErrorMessage       string              `json:"error_message,omitempty"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
	CompletedAt        *time.Time          `json:"completed_at,omitempty"`
}

// StatusTransition is an append-only audit record. Once written it is never
// mutated or reordered.
type StatusTransition struct {
	TransactionID string            `json:"transaction_id"`
	FromStatus    TransactionStatus `json:"from_status"`
	ToStatus      TransactionStatus `json:"to_status"`
	TriggeredBy   string            `json:"triggered_by"`
	Reason        string            `json:"reason,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
}

func NewTransaction(t TransactionType, amount float64, currency string) *Transaction {
	now := time.Now()
	return &Transaction{
		ID:         GenerateID(),
		Type:       t,
		Status:     StatusPending,
		Priority:   PriorityNormal,
		Amount:     amount,
		Currency:   currency,
		RetryCount: 0,
		MaxRetries: DefaultMaxRetries,
		Metadata:   make(map[string]string),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func (tx *Transaction) WithAccounts(source, destination string) *Transaction {
	tx.SourceAccount = source
	tx.DestinationAccount = destination
	return tx
}

func (tx *Transaction) WithDescription(desc string) *Transaction {
	tx.Description = desc
	return tx
}

func (tx *Transaction) WithPriority(p TransactionPriority) *Transaction {
	tx.Priority = p
	return tx
}

func (tx *Transaction) AddMetadata(key, value string) {
	if tx.Metadata == nil {
		tx.Metadata = make(map[string]string)
	}
	tx.Metadata[key] = value
}

func (tx *Transaction) IsTerminal() bool {
	return tx.Status == StatusCancelled || tx.Status == StatusRefunded
}

func GenerateID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
