package config

import (
	"os"
)

// Config is read from the environment, the way the service is deployed.
type Config struct {
	HTTPAddr    string
	MetricsAddr string

	// TransactionBackend selects the transaction store: "memory" or "redis".
	TransactionBackend string
	RedisAddr          string

	// WebhookLogBackend selects the delivery audit store: "memory" or "postgres".
	WebhookLogBackend string
	DatabaseURL       string
}

func Load() Config {
	return Config{
		HTTPAddr:           getenv("HTTP_ADDR", ":8080"),
		MetricsAddr:        getenv("METRICS_ADDR", ":9090"),
		TransactionBackend: getenv("TRANSACTION_BACKEND", "memory"),
		RedisAddr:          getenv("REDIS_ADDR", "localhost:6379"),
		WebhookLogBackend:  getenv("WEBHOOK_LOG_BACKEND", "memory"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
