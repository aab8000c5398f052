package rules

import (
	"time"

	"payment_pipeline/internal/domain"
)

// defaultRules is the rule set seeded at engine initialization.
func defaultRules() []*domain.Rule {
	now := time.Now()

	return []*domain.Rule{
		{
			ID:          "rule-block-high-amount",
			Name:        "block-high-amount",
			Description: "Deny transactions above the hard amount ceiling",
			Enabled:     true,
			Priority:    0,
			Condition:   domain.Leaf("amount", domain.OpGt, 100000.0),
			Action:      domain.ActionDeny,
			Severity:    domain.SeverityCritical,
			Message:     "amount exceeds maximum of 100000",
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		{
			ID:          "rule-reject-dust-amount",
			Name:        "reject-dust-amount",
			Description: "Deny transactions below the minimum processable amount",
			Enabled:     true,
			Priority:    0,
			Condition:   domain.Leaf("amount", domain.OpLt, 0.01),
			Action:      domain.ActionDeny,
			Severity:    domain.SeverityError,
			Message:     "amount below minimum of 0.01",
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		{
			ID:          "rule-flag-large-amount",
			Name:        "flag-large-amount",
			Description: "Flag transactions above the review threshold",
			Enabled:     true,
			Priority:    1,
			Condition:   domain.Leaf("amount", domain.OpGt, 10000.0),
			Action:      domain.ActionFlag,
			Severity:    domain.SeverityWarning,
			Message:     "amount above 10000 requires review",
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		{
			ID:          "rule-supported-currencies",
			Name:        "supported-currencies",
			Description: "Allow only supported settlement currencies",
			Enabled:     true,
			Priority:    2,
			Condition:   domain.Leaf("currency", domain.OpIn, []string{"USD", "EUR", "GBP"}),
			Action:      domain.ActionAllow,
			Severity:    domain.SeverityInfo,
			Message:     "currency is not supported",
			CreatedAt:   now,
			UpdatedAt:   now,
		},
	}
}
