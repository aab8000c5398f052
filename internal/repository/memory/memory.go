package memory

import (
	"payment_pipeline/internal/repository"
)

var (
	_ repository.TransactionStore = (*TransactionStore)(nil)
	_ repository.WebhookStore     = (*WebhookStore)(nil)
	_ repository.WebhookLogStore  = (*WebhookLogStore)(nil)
)
