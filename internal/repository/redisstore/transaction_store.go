package redisstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"payment_pipeline/internal/domain"
	"payment_pipeline/internal/repository"
)

const (
	txKeyPrefix         = "tx:"
	txOrderKey          = "tx:order"
	transitionKeyPrefix = "tx:transitions:"
)

// TransactionStore persists transactions in Redis. Values are JSON; a list at
// tx:order preserves creation order so status scans stay stable.
type TransactionStore struct {
	rdb *redis.Client
}

var _ repository.TransactionStore = (*TransactionStore)(nil)

func NewTransactionStore(rdb *redis.Client) *TransactionStore {
	return &TransactionStore{rdb: rdb}
}

func (s *TransactionStore) Save(ctx context.Context, tx *domain.Transaction) error {
	key := txKeyPrefix + tx.ID

	exists, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("redis exists: %w", err)
	}
	if exists > 0 {
		return fmt.Errorf("%w: transaction %s", repository.ErrDuplicate, tx.ID)
	}

	if err := s.set(ctx, key, tx); err != nil {
		return err
	}
	if err := s.rdb.RPush(ctx, txOrderKey, tx.ID).Err(); err != nil {
		return fmt.Errorf("redis rpush: %w", err)
	}
	return nil
}

func (s *TransactionStore) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	raw, err := s.rdb.Get(ctx, txKeyPrefix+id).Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: transaction %s", repository.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var tx domain.Transaction
	if err := json.Unmarshal([]byte(raw), &tx); err != nil {
		return nil, fmt.Errorf("decode transaction %s: %w", id, err)
	}
	return &tx, nil
}

func (s *TransactionStore) GetAll(ctx context.Context) ([]*domain.Transaction, error) {
	ids, err := s.rdb.LRange(ctx, txOrderKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange: %w", err)
	}

	result := make([]*domain.Transaction, 0, len(ids))
	for _, id := range ids {
		tx, err := s.GetByID(ctx, id)
		if err != nil {
			continue
		}
		result = append(result, tx)
	}
	return result, nil
}

func (s *TransactionStore) GetByStatus(ctx context.Context, status domain.TransactionStatus) ([]*domain.Transaction, error) {
	all, err := s.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	var result []*domain.Transaction
	for _, tx := range all {
		if tx.Status == status {
			result = append(result, tx)
		}
	}
	return result, nil
}

func (s *TransactionStore) Update(ctx context.Context, tx *domain.Transaction) error {
	key := txKeyPrefix + tx.ID

	exists, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("redis exists: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: transaction %s", repository.ErrNotFound, tx.ID)
	}

	return s.set(ctx, key, tx)
}

func (s *TransactionStore) AppendTransition(ctx context.Context, tr *domain.StatusTransition) error {
	data, err := json.Marshal(tr)
	if err != nil {
		return fmt.Errorf("encode transition: %w", err)
	}
	if err := s.rdb.RPush(ctx, transitionKeyPrefix+tr.TransactionID, data).Err(); err != nil {
		return fmt.Errorf("redis rpush: %w", err)
	}
	return nil
}

func (s *TransactionStore) GetTransitions(ctx context.Context, transactionID string) ([]*domain.StatusTransition, error) {
	raw, err := s.rdb.LRange(ctx, transitionKeyPrefix+transactionID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange: %w", err)
	}

	result := make([]*domain.StatusTransition, 0, len(raw))
	for _, item := range raw {
		var tr domain.StatusTransition
		if err := json.Unmarshal([]byte(item), &tr); err != nil {
			return nil, fmt.Errorf("decode transition: %w", err)
		}
		result = append(result, &tr)
	}
	return result, nil
}

func (s *TransactionStore) set(ctx context.Context, key string, tx *domain.Transaction) error {
	data, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("encode transaction %s: %w", tx.ID, err)
	}
	if err := s.rdb.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
