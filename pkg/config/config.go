package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fieldline/gatehouse/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Mapping store configuration
	Store StoreConfig

	// Permission catalog configuration
	Catalog CatalogConfig

	// Directory (memberships) configuration
	Directory DirectoryConfig

	// Integrity sweeper configuration
	Sweeper SweeperConfig

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

// StoreConfig selects and configures the permission mapping backend.
type StoreConfig struct {
	// Type is one of "postgres", "redis" or "memory".
	Type string

	// PostgreSQL settings
	PostgresURL      string
	PostgresMaxConns int
	PostgresMinConns int
	PostgresTimeout  time.Duration

	// Redis settings
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int
}

// CatalogConfig selects the permission definition source.
type CatalogConfig struct {
	// Source is empty for the builtin catalog, a filesystem path for a
	// JSON/YAML file, or an s3://bucket/key URL.
	Source string

	// WatchFile enables the fsnotify watcher on a file source. Changes
	// are logged only; the running catalog never mutates.
	WatchFile bool

	// S3 settings, used when Source is an s3:// URL.
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
}

// DirectoryConfig configures the membership directory.
type DirectoryConfig struct {
	// Backend is "postgres" (shares the store database) or "memory".
	Backend string
}

// SweeperConfig configures the periodic mapping integrity sweep.
type SweeperConfig struct {
	Enabled  bool
	Schedule string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Store:         loadStoreConfig(),
		Catalog:       loadCatalogConfig(),
		Directory:     loadDirectoryConfig(),
		Sweeper:       loadSweeperConfig(),
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
		Host:            getEnv("GATEHOUSE_HOST", "0.0.0.0"),
		Port:            getEnv("GATEHOUSE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("GATEHOUSE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("GATEHOUSE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("GATEHOUSE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("GATEHOUSE_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("GATEHOUSE_HEALTH_PORT", "9090"),
	}
}

// loadStoreConfig loads mapping store configuration from environment
func loadStoreConfig() StoreConfig {
	return StoreConfig{
		Type:             getEnv("GATEHOUSE_STORE_TYPE", "postgres"),
		PostgresURL:      getEnv("GATEHOUSE_POSTGRES_URL", ""),
		PostgresMaxConns: getEnvInt("GATEHOUSE_POSTGRES_MAX_CONNS", 25),
		PostgresMinConns: getEnvInt("GATEHOUSE_POSTGRES_MIN_CONNS", 5),
		PostgresTimeout:  getEnvDuration("GATEHOUSE_POSTGRES_TIMEOUT", 5*time.Second),
		RedisURL:         getEnv("GATEHOUSE_REDIS_URL", ""),
		RedisPassword:    getEnv("GATEHOUSE_REDIS_PASSWORD", ""),
		RedisDB:          getEnvInt("GATEHOUSE_REDIS_DB", 0),
		RedisMaxRetries:  getEnvInt("GATEHOUSE_REDIS_MAX_RETRIES", 3),
		RedisPoolSize:    getEnvInt("GATEHOUSE_REDIS_POOL_SIZE", 10),
	}
}

// loadCatalogConfig loads catalog source configuration from environment
func loadCatalogConfig() CatalogConfig {
	return CatalogConfig{
		Source:      getEnv("GATEHOUSE_CATALOG_SOURCE", ""),
		WatchFile:   getEnvBool("GATEHOUSE_CATALOG_WATCH", false),
		S3Region:    getEnv("GATEHOUSE_CATALOG_S3_REGION", "us-east-1"),
		S3Endpoint:  getEnv("GATEHOUSE_CATALOG_S3_ENDPOINT", ""),
		S3AccessKey: getEnv("GATEHOUSE_CATALOG_S3_ACCESS_KEY", ""),
		S3SecretKey: getEnv("GATEHOUSE_CATALOG_S3_SECRET_KEY", ""),
	}
}

// loadDirectoryConfig loads directory configuration from environment
func loadDirectoryConfig() DirectoryConfig {
	return DirectoryConfig{
		Backend: getEnv("GATEHOUSE_DIRECTORY_BACKEND", "postgres"),
	}
}

// loadSweeperConfig loads integrity sweeper configuration from environment
func loadSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Enabled:  getEnvBool("GATEHOUSE_SWEEPER_ENABLED", true),
		Schedule: getEnv("GATEHOUSE_SWEEPER_SCHEDULE", "@every 15m"),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("GATEHOUSE_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("GATEHOUSE_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("GATEHOUSE_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("GATEHOUSE_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("GATEHOUSE_OTEL_SERVICE_NAME", "gatehouse"),
		OTelServiceVersion: getEnv("GATEHOUSE_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("GATEHOUSE_OTEL_INSECURE", true),
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

	switch c.Store.Type {
	case "postgres":
		if c.Store.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for postgres store")
		}
	case "redis":
		if c.Store.RedisURL == "" {
			return fmt.Errorf("redis URL is required for redis store")
		}
	case "memory":
		// Fixture-backed, nothing to configure.
	default:
		return fmt.Errorf("invalid store type: %s (must be postgres, redis, or memory)", c.Store.Type)
	}

	switch c.Directory.Backend {
	case "postgres":
		if c.Store.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for postgres directory backend")
		}
	case "memory":
	default:
		return fmt.Errorf("invalid directory backend: %s (must be postgres or memory)", c.Directory.Backend)
	}

	if c.Sweeper.Enabled && c.Sweeper.Schedule == "" {
		return fmt.Errorf("sweeper schedule is required when the sweeper is enabled")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
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
