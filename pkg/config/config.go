package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/veridata/fieldgate/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage configuration
	Storage StorageConfig

	// Audit configuration
	Audit AuditConfig

	// Decision cache configuration
	Cache CacheConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// StorageConfig holds record store configuration
type StorageConfig struct {
	// Type selects the record store: memory or postgres
	Type string

	PostgresURL      string
	PostgresMaxConns int
}

// AuditConfig holds audit trail configuration
type AuditConfig struct {
	// PolicyPath optionally points at a YAML policy table; empty uses the
	// built-in table.
	PolicyPath string

	// File sink
	FileEnabled bool
	FilePath    string

	// Retention
	RetentionDays     int
	RetentionSchedule string
	ArchiveEnabled    bool

	// S3 archive target
	S3Bucket       string
	S3Region       string
	S3Prefix       string
	S3Endpoint     string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool
}

// CacheConfig holds decision cache configuration
type CacheConfig struct {
	Enabled bool
	Size    int
	TTL     time.Duration

	RedisURL      string
	RedisPassword string
	RedisDB       int
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Audit:         loadAuditConfig(),
		Cache:         loadCacheConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("FIELDGATE_HOST", "0.0.0.0"),
		Port:            getEnv("FIELDGATE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("FIELDGATE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("FIELDGATE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("FIELDGATE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("FIELDGATE_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("FIELDGATE_HEALTH_PORT", "9090"),
	}
}

// loadStorageConfig loads record store configuration from environment
func loadStorageConfig() StorageConfig {
	return StorageConfig{
		Type:             getEnv("FIELDGATE_STORAGE_TYPE", "memory"),
		PostgresURL:      getEnv("FIELDGATE_POSTGRES_URL", ""),
		PostgresMaxConns: getEnvInt("FIELDGATE_POSTGRES_MAX_CONNS", 25),
	}
}

// loadAuditConfig loads audit trail configuration from environment
func loadAuditConfig() AuditConfig {
	return AuditConfig{
		PolicyPath:        getEnv("FIELDGATE_POLICY_PATH", ""),
		FileEnabled:       getEnvBool("FIELDGATE_AUDIT_FILE_ENABLED", false),
		FilePath:          getEnv("FIELDGATE_AUDIT_FILE_PATH", "/var/log/fieldgate/audit"),
		RetentionDays:     getEnvInt("FIELDGATE_AUDIT_RETENTION_DAYS", 2555),
		RetentionSchedule: getEnv("FIELDGATE_AUDIT_RETENTION_SCHEDULE", "30 2 * * *"),
		ArchiveEnabled:    getEnvBool("FIELDGATE_AUDIT_ARCHIVE_ENABLED", false),
		S3Bucket:          getEnv("FIELDGATE_AUDIT_S3_BUCKET", ""),
		S3Region:          getEnv("FIELDGATE_AUDIT_S3_REGION", "us-east-1"),
		S3Prefix:          getEnv("FIELDGATE_AUDIT_S3_PREFIX", "audit"),
		S3Endpoint:        getEnv("FIELDGATE_AUDIT_S3_ENDPOINT", ""),
		S3AccessKey:       getEnv("FIELDGATE_AUDIT_S3_ACCESS_KEY", ""),
		S3SecretKey:       getEnv("FIELDGATE_AUDIT_S3_SECRET_KEY", ""),
		S3UsePathStyle:    getEnvBool("FIELDGATE_AUDIT_S3_USE_PATH_STYLE", false),
	}
}

// loadCacheConfig loads decision cache configuration from environment
func loadCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:       getEnvBool("FIELDGATE_CACHE_ENABLED", true),
		Size:          getEnvInt("FIELDGATE_CACHE_SIZE", 1024),
		TTL:           getEnvDuration("FIELDGATE_CACHE_TTL", 5*time.Minute),
		RedisURL:      getEnv("FIELDGATE_REDIS_URL", ""),
		RedisPassword: getEnv("FIELDGATE_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("FIELDGATE_REDIS_DB", 0),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:       parseLogLevel(getEnv("FIELDGATE_LOG_LEVEL", "info")),
		MetricsEnabled: getEnvBool("FIELDGATE_METRICS_ENABLED", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	switch c.Storage.Type {
	case "memory":
	case "postgres":
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for postgres storage")
		}
	default:
		return fmt.Errorf("invalid storage type: %s (must be memory or postgres)", c.Storage.Type)
	}

	if c.Audit.RetentionDays < 0 {
		return fmt.Errorf("audit retention days must not be negative")
	}
	if c.Audit.ArchiveEnabled && c.Audit.S3Bucket == "" {
		return fmt.Errorf("S3 bucket is required when audit archiving is enabled")
	}

	if c.Cache.Enabled && c.Cache.Size <= 0 {
		return fmt.Errorf("cache size must be positive when the cache is enabled")
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
