package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadEnvConfigDefaults(t *testing.T) {
	cfg, err := LoadEnvConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("Port: got %d, want 8080", cfg.Port)
	}
	if cfg.StoreBackend != StoreBackendMemory {
		t.Fatalf("StoreBackend: got %s, want memory", cfg.StoreBackend)
	}
	if cfg.MaxTile != 100_000 || cfg.MaxBatch != 10_000 {
		t.Fatalf("domain bounds: got %d/%d", cfg.MaxTile, cfg.MaxBatch)
	}
	if cfg.SessionBuffer != 256 {
		t.Fatalf("SessionBuffer: got %d, want 256", cfg.SessionBuffer)
	}
	if cfg.ConsumerDurable != "tile-state-processor" {
		t.Fatalf("ConsumerDurable: got %q", cfg.ConsumerDurable)
	}
	if cfg.LeaderboardTTL != 5*time.Second {
		t.Fatalf("LeaderboardTTL: got %s", cfg.LeaderboardTTL)
	}
}

func TestLoadEnvConfigOverrides(t *testing.T) {
	t.Setenv("CLICKPLANET_PORT", "9000")
	t.Setenv("CLICKPLANET_STORE_BACKEND", "redis")
	t.Setenv("CLICKPLANET_BUS_BACKEND", "nats")
	t.Setenv("CLICKPLANET_MAX_TILE", "1000000")
	t.Setenv("CLICKPLANET_REQUEST_TIMEOUT", "3s")

	cfg, err := LoadEnvConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 9000 {
		t.Fatalf("Port: got %d", cfg.Port)
	}
	if cfg.StoreBackend != StoreBackendRedis || cfg.BusBackend != BusBackendNATS {
		t.Fatalf("backends: got %s/%s", cfg.StoreBackend, cfg.BusBackend)
	}
	if cfg.MaxTile != 1_000_000 {
		t.Fatalf("MaxTile: got %d", cfg.MaxTile)
	}
	if cfg.RequestTimeout != 3*time.Second {
		t.Fatalf("RequestTimeout: got %s", cfg.RequestTimeout)
	}
}

func TestLoadEnvConfigCollectsErrors(t *testing.T) {
	t.Setenv("CLICKPLANET_PORT", "70000")
	t.Setenv("CLICKPLANET_STORE_BACKEND", "cassandra")
	t.Setenv("CLICKPLANET_MAX_BATCH", "not-a-number")
	t.Setenv("CLICKPLANET_RECOUNT_SCHEDULE", "every now and then")

	_, err := LoadEnvConfig()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{
		"CLICKPLANET_PORT",
		"CLICKPLANET_STORE_BACKEND",
		"CLICKPLANET_MAX_BATCH",
		"CLICKPLANET_RECOUNT_SCHEDULE",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error does not mention %s: %v", want, err)
		}
	}
}

func TestLoadEnvConfigBatchBound(t *testing.T) {
	t.Setenv("CLICKPLANET_MAX_TILE", "100")
	t.Setenv("CLICKPLANET_MAX_BATCH", "200")

	_, err := LoadEnvConfig()
	if err == nil || !strings.Contains(err.Error(), "CLICKPLANET_MAX_BATCH") {
		t.Fatalf("expected batch bound error, got %v", err)
	}
}
