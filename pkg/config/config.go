// Package config loads server configuration from environment variables.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds kernel configuration.
type Config struct {
	Port        string
	LogLevel    string
	DatabaseURL string // empty selects the SQLite store
	SQLitePath  string
	RedisAddr   string // empty selects the in-memory replay cache

	ConfirmationSecret string
	AttestationSecret  string
	TelemetrySalt      string

	ConfirmationWindow   time.Duration
	AttestationFreshness time.Duration
	TelemetryPerSecond   float64

	RuntimeModel string
	OTLPEndpoint string
	OTelEnabled  bool
}

// Load reads configuration from environment variables with local defaults.
func Load() *Config {
	cfg := &Config{
		Port:                 getenv("PORT", "8080"),
		LogLevel:             getenv("LOG_LEVEL", "INFO"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		SQLitePath:           getenv("SQLITE_PATH", "kura.db"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		ConfirmationSecret:   getenv("CONFIRMATION_SECRET", "dev-confirmation-secret"),
		AttestationSecret:    getenv("ATTESTATION_SECRET", "dev-attestation-secret"),
		TelemetrySalt:        getenv("TELEMETRY_SALT", "dev-telemetry-salt"),
		ConfirmationWindow:   getenvDuration("CONFIRMATION_WINDOW", 5*time.Minute),
		AttestationFreshness: getenvDuration("ATTESTATION_FRESHNESS", 2*time.Minute),
		TelemetryPerSecond:   getenvFloat("TELEMETRY_PER_SECOND", 50),
		RuntimeModel:         os.Getenv("RUNTIME_MODEL"),
		OTLPEndpoint:         getenv("OTLP_ENDPOINT", "localhost:4317"),
		OTelEnabled:          os.Getenv("OTEL_ENABLED") == "true",
	}
	return cfg
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
