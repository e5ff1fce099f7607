package config

import (
	"os"
	"strconv"
	"time"
)

// LedgerConfig carries the runtime knobs that are not connection settings.
type LedgerConfig struct {
	PayoutAccountID   string
	AllowanceAmount   int64
	AllowancePeriod   time.Duration
	AccountCacheTTL   time.Duration
	PaymentRequestTTL time.Duration
	ConnectionTTL     time.Duration
}

func LoadLedgerConfig() *LedgerConfig {
	return &LedgerConfig{
		PayoutAccountID:   getEnv("LEDGER_PAYOUT_ACCOUNT", "recurring-payout"),
		AllowanceAmount:   getEnvAsInt64("LEDGER_ALLOWANCE_AMOUNT", 10),
		AllowancePeriod:   getEnvAsDuration("LEDGER_ALLOWANCE_PERIOD", 24*time.Hour),
		AccountCacheTTL:   getEnvAsDuration("LEDGER_ACCOUNT_CACHE_TTL", 30*time.Second),
		PaymentRequestTTL: getEnvAsDuration("LEDGER_PAYMENT_REQUEST_TTL", 5*time.Minute),
		ConnectionTTL:     getEnvAsDuration("LEDGER_CONNECTION_TTL", 12*time.Hour),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.ParseInt(val, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultVal
}
