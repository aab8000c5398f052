package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v4/stdlib"

	"payment_pipeline/internal/domain"
	"payment_pipeline/internal/repository"
)

// WebhookLogStore keeps the delivery audit trail in Postgres so it survives
// restarts even when transactions live in memory.
type WebhookLogStore struct {
	db *sql.DB
}

var _ repository.WebhookLogStore = (*WebhookLogStore)(nil)

func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

func NewWebhookLogStore(db *sql.DB) (*WebhookLogStore, error) {
	s := &WebhookLogStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *WebhookLogStore) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS webhook_logs (
	id          TEXT PRIMARY KEY,
	webhook_id  TEXT NOT NULL,
	event       TEXT NOT NULL,
	payload     TEXT NOT NULL,
	success     BOOLEAN NOT NULL,
	status_code INTEGER NOT NULL DEFAULT 0,
	response    TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	attempt     INTEGER NOT NULL,
	timestamp   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS webhook_logs_webhook_id_idx ON webhook_logs (webhook_id, timestamp DESC);`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("migrate webhook_logs: %w", err)
	}
	return nil
}

func (s *WebhookLogStore) Append(ctx context.Context, log *domain.WebhookLog) error {
	const q = `
INSERT INTO webhook_logs (id, webhook_id, event, payload, success, status_code, response, error, attempt, timestamp)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.db.ExecContext(ctx, q,
		log.ID, log.WebhookID, log.Event, log.Payload,
		log.Success, log.StatusCode, log.Response, log.Error,
		log.Attempt, log.Timestamp)
	if err != nil {
		return fmt.Errorf("insert webhook log: %w", err)
	}
	return nil
}

func (s *WebhookLogStore) GetByWebhookID(ctx context.Context, webhookID string, limit int) ([]*domain.WebhookLog, error) {
	q := `
SELECT id, webhook_id, event, payload, success, status_code, response, error, attempt, timestamp
FROM webhook_logs WHERE webhook_id = $1 ORDER BY timestamp DESC`
	args := []interface{}{webhookID}
	if limit > 0 {
		q += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query webhook logs: %w", err)
	}
	defer rows.Close()

	var result []*domain.WebhookLog
	for rows.Next() {
		var log domain.WebhookLog
		if err := rows.Scan(&log.ID, &log.WebhookID, &log.Event, &log.Payload,
			&log.Success, &log.StatusCode, &log.Response, &log.Error,
			&log.Attempt, &log.Timestamp); err != nil {
			return nil, fmt.Errorf("scan webhook log: %w", err)
		}
		result = append(result, &log)
	}
	return result, rows.Err()
}
