package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config holds all configuration for the application
type Config struct {
	Store          string
	DatabaseURL    string
	JWTSecret      string
	Port           string
	PrometheusPort string
	LogLevel       string
	LogFormat      string
	// TracingEndpoint is an OTLP/HTTP collector URL. Empty disables export.
	TracingEndpoint string

	GuestTokenTTL        time.Duration
	AccessTokenTTL       time.Duration
	LockTimeout          time.Duration
	LockRetries          uint
	LinkPreviewCacheTTL  time.Duration
	LinkPreviewRPS       float64
	SessionSweepInterval time.Duration
}

// Load loads configuration from a .env file, if present, and environment
// variables
func Load() (*Config, error) {
	// A missing .env file is fine; the environment may be set directly.
	_ = godotenv.Load()

	cfg := &Config{
		Store:          getEnvOrDefault("STORE", StorePostgres),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		Port:           getEnvOrDefault("PORT", "8080"),
		PrometheusPort: getEnvOrDefault("PROMETHEUS_PORT", "9090"),
		LogLevel:       getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:      getEnvOrDefault("LOG_FORMAT", "text"),

		TracingEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	guestDays, err := getEnvInt("GUEST_TOKEN_TTL_DAYS", 365)
	if err != nil {
		return nil, err
	}
	accessMinutes, err := getEnvInt("ACCESS_TOKEN_TTL_MINUTES", 15)
	if err != nil {
		return nil, err
	}
	retries, err := getEnvInt("LOCK_RETRIES", 3)
	if err != nil {
		return nil, err
	}
	cacheHours, err := getEnvInt("LINK_PREVIEW_CACHE_HOURS", 24)
	if err != nil {
		return nil, err
	}
	if cfg.LockTimeout, err = getEnvDuration("LOCK_TIMEOUT", 3*time.Second); err != nil {
		return nil, err
	}
	if cfg.SessionSweepInterval, err = getEnvDuration("SESSION_SWEEP_INTERVAL", 10*time.Minute); err != nil {
		return nil, err
	}
	rps := getEnvOrDefault("LINK_PREVIEW_RPS", "2")
	if cfg.LinkPreviewRPS, err = strconv.ParseFloat(rps, 64); err != nil || cfg.LinkPreviewRPS <= 0 {
		return nil, fmt.Errorf("LINK_PREVIEW_RPS must be a positive number, got %q", rps)
	}

	if guestDays <= 0 || accessMinutes <= 0 || cacheHours <= 0 {
		return nil, fmt.Errorf("token TTLs and LINK_PREVIEW_CACHE_HOURS must be positive")
	}
	if retries < 0 {
		return nil, fmt.Errorf("LOCK_RETRIES must not be negative")
	}
	cfg.GuestTokenTTL = time.Duration(guestDays) * 24 * time.Hour
	cfg.AccessTokenTTL = time.Duration(accessMinutes) * time.Minute
	cfg.LinkPreviewCacheTTL = time.Duration(cacheHours) * time.Hour
	cfg.LockRetries = uint(retries)

	// Required environment variables
	switch cfg.Store {
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL environment variable is required")
		}
	case StoreMemory:
	default:
		return nil, fmt.Errorf("STORE must be %q or %q, got %q", StorePostgres, StoreMemory, cfg.Store)
	}

	if len(cfg.JWTSecret) < 16 {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required (at least 16 characters)")
	}

	return cfg, nil
}

// getEnvOrDefault returns environment variable value or default if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, raw)
	}
	return v, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration, got %q", key, raw)
	}
	return d, nil
}
