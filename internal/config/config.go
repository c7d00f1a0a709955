// Package config provides environment-variable configuration loading for
// the billing-validation core.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// EnvConfig loads typed values from process environment variables under an
// optional prefix.
type EnvConfig struct {
	prefix string
}

// NewEnvConfig creates a loader scoped to prefix (e.g. "FACNET_").
func NewEnvConfig(prefix string) *EnvConfig {
	return &EnvConfig{prefix: prefix}
}

func (ec *EnvConfig) buildKey(key string) string {
	return ec.prefix + key
}

// GetString returns the value for key or defaultValue if unset/empty.
func (ec *EnvConfig) GetString(key, defaultValue string) string {
	if v := os.Getenv(ec.buildKey(key)); v != "" {
		return v
	}
	return defaultValue
}

// MustGetString returns the required value for key or panics.
func (ec *EnvConfig) MustGetString(key string) string {
	v := os.Getenv(ec.buildKey(key))
	if v == "" {
		panic(fmt.Sprintf("required environment variable %s not set", ec.buildKey(key)))
	}
	return v
}

// GetInt returns the integer value for key or defaultValue.
func (ec *EnvConfig) GetInt(key string, defaultValue int) int {
	if v := os.Getenv(ec.buildKey(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

// GetDuration returns a duration parsed from seconds for key, or defaultValue.
func (ec *EnvConfig) GetDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(ec.buildKey(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return defaultValue
}

func (ec *EnvConfig) GetFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(ec.buildKey(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// Config is the fully-resolved configuration consumed by cmd/worker.
type Config struct {
	DatabaseURL          string
	CacheURL             string // shared Redis DSN for the reference cache and the job queue
	PHIHashSalt          string
	TelemetrySampleRate  float64
	LogSinkEndpoint      string
	WorkerConcurrency    int
	JobMaxRetries        int
	JobBackoffBase       time.Duration
	JobBackoffMax        time.Duration
	ShutdownDrainTimeout time.Duration
	FileStoreBucket      string
	FileStoreEndpoint    string
	FileStoreRegion      string
	FileStoreAccessKey   string
	FileStoreSecretKey   string
	LogLevel             string
	LogFormat            string
}

// Load reads Config from the environment, applying the default given for
// each variable below when it is unset.
func Load() Config {
	ec := NewEnvConfig("")
	return Config{
		DatabaseURL:          ec.GetString("DATABASE_URL", "postgres://localhost:5432/facnet_validator?sslmode=disable"),
		CacheURL:             ec.GetString("CACHE_URL", "redis://localhost:6379/0"),
		PHIHashSalt:          ec.GetString("PHI_HASH_SALT", ""),
		TelemetrySampleRate:  ec.GetFloat("TELEMETRY_SAMPLE_RATE", 1.0),
		LogSinkEndpoint:      ec.GetString("LOG_SINK_ENDPOINT", ""),
		WorkerConcurrency:    ec.GetInt("WORKER_CONCURRENCY", 2),
		JobMaxRetries:        ec.GetInt("JOB_MAX_RETRIES", 3),
		JobBackoffBase:       ec.GetDuration("JOB_BACKOFF_BASE_SECONDS", 1*time.Second),
		JobBackoffMax:        ec.GetDuration("JOB_BACKOFF_MAX_SECONDS", 4*time.Second),
		ShutdownDrainTimeout: ec.GetDuration("SHUTDOWN_DRAIN_SECONDS", 30*time.Second),
		FileStoreBucket:      ec.GetString("FILE_STORE_BUCKET", "facnet-uploads"),
		FileStoreEndpoint:    ec.GetString("FILE_STORE_ENDPOINT", ""),
		FileStoreRegion:      ec.GetString("FILE_STORE_REGION", "us-east-1"),
		FileStoreAccessKey:   ec.GetString("FILE_STORE_ACCESS_KEY", ""),
		FileStoreSecretKey:   ec.GetString("FILE_STORE_SECRET_KEY", ""),
		LogLevel:             ec.GetString("LOG_LEVEL", "info"),
		LogFormat:            ec.GetString("LOG_FORMAT", "json"),
	}
}
