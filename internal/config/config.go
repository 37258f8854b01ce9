package config

import (
	"fmt"
	"os"
	"time"

	"github.com/rl1809/marketplace/internal/core/domain"
)

const (
	StorageMySQL  = "mysql"
	StorageMemory = "memory"
)

type Config struct {
	Storage           string
	MySQLDSN          string
	RedisAddr         string
	HTTPPort          string
	GRPCPort          string
	Env               string
	FulfillmentPolicy domain.FulfillmentPolicy
	IdempotencyTTL    time.Duration
}

func Load() (*Config, error) {
	storage := getEnv("STORAGE", StorageMySQL)
	if storage != StorageMySQL && storage != StorageMemory {
		return nil, fmt.Errorf("STORAGE must be %q or %q, got %q", StorageMySQL, StorageMemory, storage)
	}

	policy, err := parsePolicy(getEnv("FULFILLMENT_POLICY", "unit"))
	if err != nil {
		return nil, err
	}

	ttl, err := time.ParseDuration(getEnv("IDEMPOTENCY_TTL", "24h"))
	if err != nil {
		return nil, fmt.Errorf("IDEMPOTENCY_TTL: %w", err)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("IDEMPOTENCY_TTL must be positive, got %s", ttl)
	}

	return &Config{
		Storage:           storage,
		MySQLDSN:          getEnv("MYSQL_DSN", "root:root@tcp(localhost:3306)/marketplace?parseTime=true"),
		RedisAddr:         getEnv("REDIS_ADDR", "localhost:6379"),
		HTTPPort:          getEnv("HTTP_PORT", "8080"),
		GRPCPort:          getEnv("GRPC_PORT", "50051"),
		Env:               getEnv("ENVIRONMENT", "production"),
		FulfillmentPolicy: policy,
		IdempotencyTTL:    ttl,
	}, nil
}

func (c *Config) Development() bool {
	return c.Env == "development"
}

func parsePolicy(s string) (domain.FulfillmentPolicy, error) {
	switch s {
	case "unit":
		return domain.FulfillOneUnit, nil
	case "quantity":
		return domain.FulfillPurchasedQuantity, nil
	}
	return 0, fmt.Errorf("FULFILLMENT_POLICY must be \"unit\" or \"quantity\", got %q", s)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
