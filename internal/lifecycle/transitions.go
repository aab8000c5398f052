package lifecycle

import (
	"payment_pipeline/internal/domain"
)

// allowedTransitions defines the valid lifecycle moves. The key is the current
// status, the value the set of statuses reachable from it. An empty slice
// marks a terminal status.
var allowedTransitions = map[domain.TransactionStatus][]domain.TransactionStatus{
	domain.StatusPending:    {domain.StatusValidating, domain.StatusCancelled},
	domain.StatusValidating: {domain.StatusProcessing, domain.StatusFailed, domain.StatusCancelled},
	domain.StatusProcessing: {domain.StatusCompleted, domain.StatusFailed},
	domain.StatusCompleted:  {domain.StatusRefunded},
	domain.StatusFailed:     {domain.StatusPending},
	domain.StatusCancelled:  {},
	domain.StatusRefunded:   {},
}

func CanTransition(from, to domain.TransactionStatus) bool {
	allowed, exists := allowedTransitions[from]
	if !exists {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}
