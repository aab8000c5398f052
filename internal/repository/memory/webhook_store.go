package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"payment_pipeline/internal/domain"
	"payment_pipeline/internal/repository"
)

type WebhookStore struct {
	mu       sync.RWMutex
	webhooks map[string]*domain.Webhook
	order    []string
}

func NewWebhookStore() *WebhookStore {
	return &WebhookStore{
		webhooks: make(map[string]*domain.Webhook),
	}
}

func (s *WebhookStore) Save(ctx context.Context, wh *domain.Webhook) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.webhooks[wh.ID]; exists {
		return fmt.Errorf("%w: webhook %s", repository.ErrDuplicate, wh.ID)
	}

	wh.UpdatedAt = time.Now()
	s.webhooks[wh.ID] = wh
	s.order = append(s.order, wh.ID)

	return nil
}

func (s *WebhookStore) GetByID(ctx context.Context, id string) (*domain.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wh, exists := s.webhooks[id]
	if !exists {
		return nil, fmt.Errorf("%w: webhook %s", repository.ErrNotFound, id)
	}
	return wh, nil
}

func (s *WebhookStore) GetAll(ctx context.Context) ([]*domain.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Webhook
	for _, id := range s.order {
		if wh, exists := s.webhooks[id]; exists {
			result = append(result, wh)
		}
	}
	return result, nil
}

func (s *WebhookStore) GetActiveByEvent(ctx context.Context, event string) ([]*domain.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Webhook
	for _, id := range s.order {
		wh, exists := s.webhooks[id]
		if exists && wh.Active && wh.SubscribedTo(event) {
			result = append(result, wh)
		}
	}
	return result, nil
}

func (s *WebhookStore) Update(ctx context.Context, wh *domain.Webhook) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.webhooks[wh.ID]; !exists {
		return fmt.Errorf("%w: webhook %s", repository.ErrNotFound, wh.ID)
	}

	wh.UpdatedAt = time.Now()
	s.webhooks[wh.ID] = wh

	return nil
}

func (s *WebhookStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.webhooks[id]; !exists {
		return fmt.Errorf("%w: webhook %s", repository.ErrNotFound, id)
	}

	delete(s.webhooks, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}

	return nil
}

type WebhookLogStore struct {
	mu   sync.RWMutex
	logs []*domain.WebhookLog
}

func NewWebhookLogStore() *WebhookLogStore {
	return &WebhookLogStore{}
}

func (s *WebhookLogStore) Append(ctx context.Context, log *domain.WebhookLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logs = append(s.logs, log)
	return nil
}

// GetByWebhookID returns the most recent entries first. limit <= 0 returns all.
func (s *WebhookLogStore) GetByWebhookID(ctx context.Context, webhookID string, limit int) ([]*domain.WebhookLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.WebhookLog
	for i := len(s.logs) - 1; i >= 0; i-- {
		if s.logs[i].WebhookID == webhookID {
			result = append(result, s.logs[i])
			if limit > 0 && len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}
