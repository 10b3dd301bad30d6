// Package config handles application configuration.
package config

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/hkdf"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port    int
	BaseURL string

	// Database
	DatabaseURL string

	// Authentication for the API surface. When JWTSecret is empty the API
	// runs unauthenticated (local / development use).
	JWTSecret     string
	EncryptionKey []byte // 32-byte key for AES-256-GCM token persistence

	// Upstream appraisal API
	UpstreamBaseURL string
	UpstreamYear    int
	PageSizes       []int
	RequestTimeout  time.Duration

	// Token acquisition
	TokenAuthURL         string
	TokenUsername        string
	TokenPassword        string
	TokenRefreshInterval time.Duration
	TokenJitterPct       float64
	TokenAcquireTimeout  time.Duration

	// Worker / queue
	Workers     int
	MaxAttempts int
	BackoffBase time.Duration
	JobTimeout  time.Duration
	MinSpacing  time.Duration

	// Scheduler
	SchedulerInterval time.Duration

	// LLM translator
	LLMProvider string
	LLMAPIKey   string
	LLMModel    string
	LLMBaseURL  string
	LLMTimeout  time.Duration

	// CORS
	CORSOrigins []string

	// Object storage for result exports (S3-compatible)
	StorageEnabled   bool
	StorageEndpoint  string
	StorageAccessKey string
	StorageSecretKey string
	StorageBucket    string
	StorageRegion    string

	// Cleanup
	CleanupEnabled  bool
	CleanupMaxAge   time.Duration
	CleanupInterval time.Duration

	// Shutdown
	ShutdownGracePeriod time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnvInt("PORT", 8080),
		BaseURL:     getEnv("BASE_URL", "http://localhost:8080"),
		DatabaseURL: getEnv("DATABASE_URL", "file:appraisal.db?_journal=WAL&_timeout=5000"),
		JWTSecret:   getEnv("JWT_SECRET", ""),

		UpstreamBaseURL: getEnv("UPSTREAM_BASE_URL", ""),
		UpstreamYear:    getEnvInt("UPSTREAM_YEAR", time.Now().Year()),
		RequestTimeout:  getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),

		TokenAuthURL:         getEnv("TOKEN_AUTH_URL", ""),
		TokenUsername:        getEnv("TOKEN_USERNAME", ""),
		TokenPassword:        getEnv("TOKEN_PASSWORD", ""),
		TokenRefreshInterval: getEnvDuration("TOKEN_REFRESH_INTERVAL", 270*time.Second),
		TokenJitterPct:       getEnvFloat("TOKEN_JITTER_PCT", 0.1),
		TokenAcquireTimeout:  getEnvDuration("TOKEN_ACQUIRE_TIMEOUT", 60*time.Second),

		Workers:     getEnvInt("WORKER_CONCURRENCY", 2),
		MaxAttempts: getEnvInt("MAX_ATTEMPTS", 3),
		BackoffBase: getEnvDuration("BACKOFF_BASE", 2*time.Second),
		JobTimeout:  getEnvDuration("JOB_TIMEOUT", 30*time.Minute),
		MinSpacing:  getEnvDuration("MIN_SPACING", 5*time.Second),

		SchedulerInterval: getEnvDuration("SCHEDULER_INTERVAL", time.Minute),

		LLMProvider: getEnv("LLM_PROVIDER", "openai"),
		LLMAPIKey:   getEnv("LLM_API_KEY", ""),
		LLMModel:    getEnv("LLM_MODEL", "gpt-4o-mini"),
		LLMBaseURL:  getEnv("LLM_BASE_URL", ""),
		LLMTimeout:  getEnvDuration("LLM_TIMEOUT", 20*time.Second),

		CORSOrigins: getEnvSlice("CORS_ORIGINS", []string{"http://localhost:3000"}),

		StorageEndpoint:  getEnv("AWS_ENDPOINT_URL_S3", ""),
		StorageAccessKey: getEnv("AWS_ACCESS_KEY_ID", ""),
		StorageSecretKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
		StorageBucket:    getEnv("STORAGE_BUCKET", ""),
		StorageRegion:    getEnv("AWS_REGION", "auto"),

		CleanupEnabled:  getEnvBool("CLEANUP_ENABLED", true),
		CleanupMaxAge:   getEnvDuration("CLEANUP_MAX_AGE", 30*24*time.Hour),
		CleanupInterval: getEnvDuration("CLEANUP_INTERVAL", 24*time.Hour),

		ShutdownGracePeriod: getEnvDuration("SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	sizes, err := parsePageSizes(getEnv("PAGE_SIZES", "1000,500,100,50"))
	if err != nil {
		return nil, err
	}
	cfg.PageSizes = sizes

	cfg.StorageEnabled = cfg.StorageBucket != "" && cfg.StorageEndpoint != ""

	if cfg.TokenJitterPct < 0 || cfg.TokenJitterPct >= 1 {
		return nil, fmt.Errorf("TOKEN_JITTER_PCT must be in [0,1), got %v", cfg.TokenJitterPct)
	}

	// Derive the AES key used to persist the token cache. An explicit
	// ENCRYPTION_KEY takes precedence; otherwise derive from JWT_SECRET.
	encKeyStr := getEnv("ENCRYPTION_KEY", "")
	if encKeyStr != "" {
		decoded, err := base64.StdEncoding.DecodeString(encKeyStr)
		if err != nil || len(decoded) != 32 {
			return nil, fmt.Errorf("ENCRYPTION_KEY must be a base64-encoded 32-byte key")
		}
		cfg.EncryptionKey = decoded
	} else if cfg.JWTSecret != "" {
		cfg.EncryptionKey = deriveEncryptionKey(cfg.JWTSecret)
	}

	return cfg, nil
}

// parsePageSizes parses a comma-separated descending page-size ladder.
func parsePageSizes(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	sizes := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("PAGE_SIZES contains invalid entry %q", p)
		}
		sizes = append(sizes, n)
	}
	if len(sizes) == 0 {
		return nil, fmt.Errorf("PAGE_SIZES must contain at least one size")
	}
	for i := 1; i < len(sizes); i++ {
		if sizes[i] >= sizes[i-1] {
			return nil, fmt.Errorf("PAGE_SIZES must be strictly descending")
		}
	}
	return sizes, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "true" || lower == "1" || lower == "yes"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

// deriveEncryptionKey creates a 32-byte AES-256 key from a secret string
// using HKDF with SHA-256.
func deriveEncryptionKey(secret string) []byte {
	salt := []byte("appraisal-api-encryption-key-v1")
	info := []byte("aes-256-gcm-token-cache")

	hkdfReader := hkdf.New(sha256.New, []byte(secret), salt, info)

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdfReader, key); err != nil {
		panic("hkdf: failed to derive key: " + err.Error())
	}
	return key
}
