// Package errlog records pipeline failures with severity, category and code so
// they can be audited and marked resolved later.
package errlog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"payment_pipeline/internal/domain"
)

type Severity string
type Category string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"

	CategoryValidation Category = "validation"
	CategoryProcessing Category = "processing"
	CategoryRules      Category = "rules"
	CategoryWebhook    Category = "webhook"
	CategorySystem     Category = "system"
)

type Entry struct {
	ID            string            `json:"id"`
	Severity      Severity          `json:"severity"`
	Category      Category          `json:"category"`
	Code          string            `json:"code"`
	Message       string            `json:"message"`
	TransactionID string            `json:"transaction_id,omitempty"`
	Details       map[string]string `json:"details,omitempty"`
	Resolved      bool              `json:"resolved"`
	ResolvedBy    string            `json:"resolved_by,omitempty"`
	ResolvedAt    *time.Time        `json:"resolved_at,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
}

type Logger struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	order   []string
	logger  *slog.Logger
}

func NewLogger(logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{
		entries: make(map[string]*Entry),
		logger:  logger,
	}
}

func (l *Logger) Log(ctx context.Context, severity Severity, category Category, code, message, transactionID string, details map[string]string) string {
	entry := &Entry{
		ID:            domain.GenerateID(),
		Severity:      severity,
		Category:      category,
		Code:          code,
		Message:       message,
		TransactionID: transactionID,
		Details:       details,
		Timestamp:     time.Now(),
	}

	l.mu.Lock()
	l.entries[entry.ID] = entry
	l.order = append(l.order, entry.ID)
	l.mu.Unlock()

	attrs := []any{
		slog.String("entry_id", entry.ID),
		slog.String("category", string(category)),
		slog.String("code", code),
	}
	if transactionID != "" {
		attrs = append(attrs, slog.String("transaction_id", transactionID))
	}

	switch severity {
	case SeverityCritical:
		l.logger.ErrorContext(ctx, message, attrs...)
	case SeverityHigh:
		l.logger.ErrorContext(ctx, message, attrs...)
	case SeverityMedium:
		l.logger.WarnContext(ctx, message, attrs...)
	default:
		l.logger.InfoContext(ctx, message, attrs...)
	}

	return entry.ID
}

func (l *Logger) Resolve(id, resolver string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, exists := l.entries[id]
	if !exists {
		return fmt.Errorf("error entry %s not found", id)
	}

	now := time.Now()
	entry.Resolved = true
	entry.ResolvedBy = resolver
	entry.ResolvedAt = &now

	return nil
}

func (l *Logger) GetByID(id string) (*Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entry, exists := l.entries[id]
	return entry, exists
}

func (l *Logger) Unresolved() []*Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var result []*Entry
	for _, id := range l.order {
		if entry := l.entries[id]; !entry.Resolved {
			result = append(result, entry)
		}
	}
	return result
}
