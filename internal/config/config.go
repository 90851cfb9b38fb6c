package config

import (
	"os"
	"path/filepath"
	"strconv"
)

// Config holds all configuration for the LoopCRM automation engine.
type Config struct {
	Port      int
	Version   string
	Store     StoreConfig
	Scoring   ScoringConfig
	Telemetry TelemetryConfig
}

type StoreConfig struct {
	// Backend selects the store implementation: "memory" or "sqlite".
	Backend string
	// DataDir is where the sqlite database (or the memory store's JSON
	// snapshot) lives. Empty disables persistence for the memory backend.
	DataDir string
}

type ScoringConfig struct {
	// BatchLimit caps how many contacts a compute-all pass touches.
	BatchLimit int
	// Workers bounds parallel per-contact computations in batch mode.
	Workers int
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:    envInt("LOOP_PORT", 8080),
		Version: envStr("LOOP_VERSION", "0.2.0"),
		Store: StoreConfig{
			Backend: envStr("LOOP_STORE", "memory"),
			DataDir: envStr("LOOP_DATA_DIR", defaultDataDir()),
		},
		Scoring: ScoringConfig{
			BatchLimit: envInt("LOOP_BATCH_LIMIT", 1000),
			Workers:    envInt("LOOP_SCORE_WORKERS", 8),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "loopcrm-engine"),
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".loopcrm")
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
