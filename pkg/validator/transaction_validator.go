package validator

import (
	"regexp"

	"payment_pipeline/internal/domain"
)

type TransactionValidator struct {
	currencyRegex *regexp.Regexp
}

func NewTransactionValidator() *TransactionValidator {
	return &TransactionValidator{
		currencyRegex: regexp.MustCompile(`^[A-Za-z]{3}$`),
	}
}

// Validate checks a creation request before any record is written. The first
// failing check wins; no partial transaction is ever created.
func (v *TransactionValidator) Validate(txType domain.TransactionType, amount float64, currency, sourceAccount string) error {
	if amount <= 0 {
		return domain.NewPipelineError(domain.CodeInvalidAmount, "amount must be greater than zero, got %v", amount)
	}

	if currency == "" {
		return domain.NewPipelineError(domain.CodeInvalidCurrency, "currency is required")
	}
	if !v.currencyRegex.MatchString(currency) {
		return domain.NewPipelineError(domain.CodeInvalidCurrency, "currency must be a 3-letter code, got %q", currency)
	}

	if sourceAccount == "" {
		return domain.NewPipelineError(domain.CodeInvalidAccount, "source account is required")
	}

	switch txType {
	case domain.TypePayment, domain.TypeTransfer, domain.TypeWithdrawal, domain.TypeDeposit, domain.TypeRefund:
		return nil
	}
	return domain.NewPipelineError(domain.CodeInvalidType, "unknown transaction type %q", txType)
}
