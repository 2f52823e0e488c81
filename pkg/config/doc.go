// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings.
//
// # Configuration Structure
//
// Server settings:
//
//	FIELDGATE_HOST="0.0.0.0"
//	FIELDGATE_PORT="8080"
//	FIELDGATE_HEALTH_PORT="9090"
//	FIELDGATE_READ_TIMEOUT="15s"
//	FIELDGATE_WRITE_TIMEOUT="15s"
//
// Storage settings:
//
//	FIELDGATE_STORAGE_TYPE="postgres"  # memory, postgres
//	FIELDGATE_POSTGRES_URL="postgres://localhost/fieldgate"
//	FIELDGATE_POSTGRES_MAX_CONNS="25"
//
// Audit settings:
//
//	FIELDGATE_POLICY_PATH="/etc/fieldgate/policy.yaml"
//	FIELDGATE_AUDIT_FILE_ENABLED="false"
//	FIELDGATE_AUDIT_RETENTION_DAYS="2555"
//	FIELDGATE_AUDIT_RETENTION_SCHEDULE="30 2 * * *"
//	FIELDGATE_AUDIT_ARCHIVE_ENABLED="false"
//	FIELDGATE_AUDIT_S3_BUCKET="fieldgate-audit"
//
// Cache settings:
//
//	FIELDGATE_CACHE_ENABLED="true"
//	FIELDGATE_CACHE_SIZE="1024"
//	FIELDGATE_CACHE_TTL="5m"
//	FIELDGATE_REDIS_URL="localhost:6379"
//
// Observability settings:
//
//	FIELDGATE_LOG_LEVEL="info"  # debug, info, warn, error
//	FIELDGATE_METRICS_ENABLED="true"
//
// # Usage Example
//
// Load configuration:
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	fmt.Printf("Server: %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//	fmt.Printf("Storage: %s\n", cfg.Storage.Type)
//
// # Related Packages
//
//   - pkg/storage: Uses storage configuration
//   - pkg/observability: Uses observability configuration
package config
