// Package config handles environment-based configuration loading.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Store and bus backend selectors.
const (
	StoreBackendMemory = "memory"
	StoreBackendRedis  = "redis"
	StoreBackendSQLite = "sqlite"

	BusBackendMemory = "memory"
	BusBackendNATS   = "nats"
)

// EnvConfig holds all environment-variable-driven settings.
type EnvConfig struct {
	// Network
	ListenAddress   string
	Port            int
	APIMaxBodyBytes int

	// Store
	StoreBackend  string
	RedisURL      string
	RedisPoolSize int
	SQLitePath    string

	// Bus
	BusBackend          string
	NATSURL             string
	ConsumerDurable     string
	ConsumerAckWait     time.Duration
	ConsumerMaxDeliver  int
	ConsumerConcurrency int

	// Domain
	MaxTile  int
	MaxBatch int

	// Fan-out
	SessionBuffer int
	HubShards     int

	// Queries
	LeaderboardTTL  time.Duration
	RequestTimeout  time.Duration
	RecountSchedule string
}

// LoadEnvConfig reads environment variables and returns a validated EnvConfig.
// Returns an error if any value is invalid.
func LoadEnvConfig() (*EnvConfig, error) {
	cfg := &EnvConfig{}
	var errs []string

	// --- Network ---
	cfg.ListenAddress = strings.TrimSpace(envStr("CLICKPLANET_LISTEN_ADDRESS", "0.0.0.0"))
	cfg.Port = envInt("CLICKPLANET_PORT", 8080, &errs)
	cfg.APIMaxBodyBytes = envInt("CLICKPLANET_API_MAX_BODY_BYTES", 1<<20, &errs)

	// --- Store ---
	cfg.StoreBackend = envStr("CLICKPLANET_STORE_BACKEND", StoreBackendMemory)
	cfg.RedisURL = envStr("CLICKPLANET_REDIS_URL", "redis://localhost:6379")
	cfg.RedisPoolSize = envInt("CLICKPLANET_REDIS_POOL_SIZE", 64, &errs)
	cfg.SQLitePath = envStr("CLICKPLANET_SQLITE_PATH", "/var/lib/clickplanet/ownerships.db")

	// --- Bus ---
	cfg.BusBackend = envStr("CLICKPLANET_BUS_BACKEND", BusBackendMemory)
	cfg.NATSURL = envStr("CLICKPLANET_NATS_URL", "nats://localhost:4222")
	cfg.ConsumerDurable = envStr("CLICKPLANET_CONSUMER_DURABLE", "tile-state-processor")
	cfg.ConsumerAckWait = envDuration("CLICKPLANET_CONSUMER_ACK_WAIT", 10*time.Second, &errs)
	cfg.ConsumerMaxDeliver = envInt("CLICKPLANET_CONSUMER_MAX_DELIVER", 3, &errs)
	cfg.ConsumerConcurrency = envInt("CLICKPLANET_CONSUMER_CONCURRENCY", 8, &errs)

	// --- Domain ---
	cfg.MaxTile = envInt("CLICKPLANET_MAX_TILE", 100_000, &errs)
	cfg.MaxBatch = envInt("CLICKPLANET_MAX_BATCH", 10_000, &errs)

	// --- Fan-out ---
	cfg.SessionBuffer = envInt("CLICKPLANET_SESSION_BUFFER", 256, &errs)
	cfg.HubShards = envInt("CLICKPLANET_HUB_SHARDS", 16, &errs)

	// --- Queries ---
	cfg.LeaderboardTTL = envDuration("CLICKPLANET_LEADERBOARD_TTL", 5*time.Second, &errs)
	cfg.RequestTimeout = envDuration("CLICKPLANET_REQUEST_TIMEOUT", 10*time.Second, &errs)
	cfg.RecountSchedule = envStr("CLICKPLANET_RECOUNT_SCHEDULE", "*/5 * * * *")

	// --- Validation ---
	if cfg.ListenAddress == "" {
		errs = append(errs, "CLICKPLANET_LISTEN_ADDRESS must not be empty")
	}
	validatePort("CLICKPLANET_PORT", cfg.Port, &errs)
	validatePositive("CLICKPLANET_API_MAX_BODY_BYTES", cfg.APIMaxBodyBytes, &errs)

	switch cfg.StoreBackend {
	case StoreBackendMemory, StoreBackendRedis, StoreBackendSQLite:
	default:
		errs = append(errs, fmt.Sprintf(
			"CLICKPLANET_STORE_BACKEND: invalid value %q (allowed: %s, %s, %s)",
			cfg.StoreBackend, StoreBackendMemory, StoreBackendRedis, StoreBackendSQLite,
		))
	}
	validatePositive("CLICKPLANET_REDIS_POOL_SIZE", cfg.RedisPoolSize, &errs)

	switch cfg.BusBackend {
	case BusBackendMemory, BusBackendNATS:
	default:
		errs = append(errs, fmt.Sprintf(
			"CLICKPLANET_BUS_BACKEND: invalid value %q (allowed: %s, %s)",
			cfg.BusBackend, BusBackendMemory, BusBackendNATS,
		))
	}
	if cfg.ConsumerDurable == "" {
		errs = append(errs, "CLICKPLANET_CONSUMER_DURABLE must not be empty")
	}
	if cfg.ConsumerAckWait <= 0 {
		errs = append(errs, "CLICKPLANET_CONSUMER_ACK_WAIT must be positive")
	}
	validatePositive("CLICKPLANET_CONSUMER_MAX_DELIVER", cfg.ConsumerMaxDeliver, &errs)
	validatePositive("CLICKPLANET_CONSUMER_CONCURRENCY", cfg.ConsumerConcurrency, &errs)

	validatePositive("CLICKPLANET_MAX_TILE", cfg.MaxTile, &errs)
	validatePositive("CLICKPLANET_MAX_BATCH", cfg.MaxBatch, &errs)
	if cfg.MaxBatch > cfg.MaxTile {
		errs = append(errs, "CLICKPLANET_MAX_BATCH must be less than or equal to CLICKPLANET_MAX_TILE")
	}

	validatePositive("CLICKPLANET_SESSION_BUFFER", cfg.SessionBuffer, &errs)
	validatePositive("CLICKPLANET_HUB_SHARDS", cfg.HubShards, &errs)

	if cfg.LeaderboardTTL <= 0 {
		errs = append(errs, "CLICKPLANET_LEADERBOARD_TTL must be positive")
	}
	if cfg.RequestTimeout <= 0 {
		errs = append(errs, "CLICKPLANET_REQUEST_TIMEOUT must be positive")
	}
	if _, err := cron.ParseStandard(cfg.RecountSchedule); err != nil {
		errs = append(errs, fmt.Sprintf("CLICKPLANET_RECOUNT_SCHEDULE: invalid cron expression %q: %v", cfg.RecountSchedule, err))
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}

	return cfg, nil
}

// --- helpers ---

func envStr(key, defaultVal string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int, errs *[]string) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid integer %q", key, v))
		return defaultVal
	}
	return n
}

func envDuration(key string, defaultVal time.Duration, errs *[]string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid duration %q", key, v))
		return defaultVal
	}
	return d
}

func validatePort(name string, value int, errs *[]string) {
	if value < 1 || value > 65535 {
		*errs = append(*errs, fmt.Sprintf("%s: port must be 1-65535, got %d", name, value))
	}
}

func validatePositive(name string, value int, errs *[]string) {
	if value <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s: must be positive, got %d", name, value))
	}
}
