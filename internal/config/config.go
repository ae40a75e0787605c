package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config carries every runtime setting the session service consumes.
// It is loaded once at startup and passed down explicitly; nothing in
// this repository reads the environment after Load returns.
type Config struct {
	Environment string
	HTTPAddr    string

	ReadHeaderTimeout            time.Duration
	ShutdownTimeout              time.Duration
	ShutdownHTTPDrainTimeout     time.Duration
	ShutdownObservabilityTimeout time.Duration

	// DatabaseURL selects the session store backend: a postgres DSN in
	// production (the Supabase database), a sqlite path prefixed with
	// "sqlite://" for local runs, or empty for the in-memory store
	// (refused when Environment is production).
	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	SessionEncryptionSecret string
	AdminAPIToken           string
	AdminSigningSecret      string

	SupabaseURL        string
	SupabaseServiceKey string
	ProviderTimeout    time.Duration

	SessionRetentionDays int
	CleanupSchedule      string

	SessionRateLimitRPM int
	AdminRateLimitRPM   int

	OTELMetricsEnabled        bool
	OTELTracesEnabled         bool
	OTELLogsEnabled           bool
	OTELExporterOTLPEndpoint  string
	OTELExporterOTLPInsecure  bool
	OTELServiceName           string
	OTELEnvironment           string
	OTELMetricsExportInterval time.Duration

	LogLevel string
}

var (
	ErrMissingEncryptionSecret = errors.New("SESSION_ENCRYPTION_SECRET is required; refusing to store refresh tokens in plaintext")
	ErrMissingProviderConfig   = errors.New("SUPABASE_URL and SUPABASE_SERVICE_KEY are required")
	ErrMissingDatabaseURL      = errors.New("DATABASE_URL is required in production; the in-memory store is development-only")
)

// Load reads configuration from the environment (optionally a .env
// file) and validates it. A validation failure here must abort startup:
// no session operation is allowed to run without encryption configured.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getString("APP_ENV", "development"),
		HTTPAddr:    getString("HTTP_ADDR", ":8080"),

		ReadHeaderTimeout:            getDuration("HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ShutdownTimeout:              getDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
		ShutdownHTTPDrainTimeout:     getDuration("SHUTDOWN_HTTP_DRAIN_TIMEOUT", 5*time.Second),
		ShutdownObservabilityTimeout: getDuration("SHUTDOWN_OBSERVABILITY_TIMEOUT", 5*time.Second),

		DatabaseURL: os.Getenv("DATABASE_URL"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getInt("REDIS_DB", 0),

		SessionEncryptionSecret: os.Getenv("SESSION_ENCRYPTION_SECRET"),
		AdminAPIToken:           os.Getenv("ADMIN_API_TOKEN"),
		AdminSigningSecret:      os.Getenv("ADMIN_SIGNING_SECRET"),

		SupabaseURL:        strings.TrimRight(os.Getenv("SUPABASE_URL"), "/"),
		SupabaseServiceKey: os.Getenv("SUPABASE_SERVICE_KEY"),
		ProviderTimeout:    getDuration("PROVIDER_TIMEOUT", 10*time.Second),

		SessionRetentionDays: getInt("SESSION_RETENTION_DAYS", 30),
		CleanupSchedule:      getString("CLEANUP_SCHEDULE", "0 3 * * *"),

		SessionRateLimitRPM: getInt("SESSION_RATE_LIMIT_RPM", 60),
		AdminRateLimitRPM:   getInt("ADMIN_RATE_LIMIT_RPM", 30),

		OTELMetricsEnabled:        getBool("OTEL_METRICS_ENABLED", false),
		OTELTracesEnabled:         getBool("OTEL_TRACES_ENABLED", false),
		OTELLogsEnabled:           getBool("OTEL_LOGS_ENABLED", false),
		OTELExporterOTLPEndpoint:  getString("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTELExporterOTLPInsecure:  getBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		OTELServiceName:           getString("OTEL_SERVICE_NAME", "fitpulse-session-service"),
		OTELEnvironment:           getString("OTEL_ENVIRONMENT", getString("APP_ENV", "development")),
		OTELMetricsExportInterval: getDuration("OTEL_METRICS_EXPORT_INTERVAL", time.Minute),

		LogLevel: getString("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		recordConfigValidationEvent(context.Background(), cfg.Environment, "failure", classifyConfigLoadError(err))
		return nil, fmt.Errorf("validate config: %w", err)
	}
	recordConfigValidationEvent(context.Background(), cfg.Environment, "success", "none")
	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.SessionEncryptionSecret) == "" {
		return ErrMissingEncryptionSecret
	}
	if c.SupabaseURL == "" || c.SupabaseServiceKey == "" {
		return ErrMissingProviderConfig
	}
	if c.IsProduction() && c.DatabaseURL == "" {
		return ErrMissingDatabaseURL
	}
	if c.SessionRetentionDays <= 0 {
		c.SessionRetentionDays = 30
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func getString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
