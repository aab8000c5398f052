package repository

import (
	"context"
	"errors"

	"payment_pipeline/internal/domain"
)

type TransactionStore interface {
	Save(ctx context.Context, tx *domain.Transaction) error
	GetByID(ctx context.Context, id string) (*domain.Transaction, error)
	GetAll(ctx context.Context) ([]*domain.Transaction, error)
	GetByStatus(ctx context.Context, status domain.TransactionStatus) ([]*domain.Transaction, error)
	Update(ctx context.Context, tx *domain.Transaction) error
	AppendTransition(ctx context.Context, tr *domain.StatusTransition) error
	GetTransitions(ctx context.Context, transactionID string) ([]*domain.StatusTransition, error)
}

type WebhookStore interface {
	Save(ctx context.Context, wh *domain.Webhook) error
	GetByID(ctx context.Context, id string) (*domain.Webhook, error)
	GetAll(ctx context.Context) ([]*domain.Webhook, error)
	GetActiveByEvent(ctx context.Context, event string) ([]*domain.Webhook, error)
	Update(ctx context.Context, wh *domain.Webhook) error
	Delete(ctx context.Context, id string) error
}

type WebhookLogStore interface {
	Append(ctx context.Context, log *domain.WebhookLog) error
	GetByWebhookID(ctx context.Context, webhookID string, limit int) ([]*domain.WebhookLog, error)
}

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate entry")
)
