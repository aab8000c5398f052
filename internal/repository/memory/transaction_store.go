package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"payment_pipeline/internal/domain"
	"payment_pipeline/internal/repository"
)

type TransactionStore struct {
	mu           sync.RWMutex
	transactions map[string]*domain.Transaction
	order        []string
	transitions  map[string][]*domain.StatusTransition
}

func NewTransactionStore() *TransactionStore {
	return &TransactionStore{
		transactions: make(map[string]*domain.Transaction),
		transitions:  make(map[string][]*domain.StatusTransition),
	}
}

func (s *TransactionStore) Save(ctx context.Context, tx *domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.transactions[tx.ID]; exists {
		return fmt.Errorf("%w: transaction %s", repository.ErrDuplicate, tx.ID)
	}

	tx.UpdatedAt = time.Now()
	s.transactions[tx.ID] = tx
	s.order = append(s.order, tx.ID)

	return nil
}

func (s *TransactionStore) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, exists := s.transactions[id]
	if !exists {
		return nil, fmt.Errorf("%w: transaction %s", repository.ErrNotFound, id)
	}
	return tx, nil
}

func (s *TransactionStore) GetAll(ctx context.Context) ([]*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Transaction, 0, len(s.order))
	for _, id := range s.order {
		result = append(result, s.transactions[id])
	}
	return result, nil
}

// GetByStatus returns matching transactions in creation order.
func (s *TransactionStore) GetByStatus(ctx context.Context, status domain.TransactionStatus) ([]*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Transaction
	for _, id := range s.order {
		if tx := s.transactions[id]; tx.Status == status {
			result = append(result, tx)
		}
	}
	return result, nil
}

func (s *TransactionStore) Update(ctx context.Context, tx *domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.transactions[tx.ID]; !exists {
		return fmt.Errorf("%w: transaction %s", repository.ErrNotFound, tx.ID)
	}

	tx.UpdatedAt = time.Now()
	s.transactions[tx.ID] = tx

	return nil
}

func (s *TransactionStore) AppendTransition(ctx context.Context, tr *domain.StatusTransition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.transitions[tr.TransactionID] = append(s.transitions[tr.TransactionID], tr)
	return nil
}

func (s *TransactionStore) GetTransitions(ctx context.Context, transactionID string) ([]*domain.StatusTransition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.transitions[transactionID]
	result := make([]*domain.StatusTransition, len(history))
	copy(result, history)
	return result, nil
}
