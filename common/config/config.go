package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all service configuration
type Config struct {
	Service    ServiceConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Chain      ChainConfig
	Settlement SettlementConfig
	Governance GovernanceConfig
	Cache      CacheConfig
	Telemetry  TelemetryConfig
}

// ServiceConfig holds service-specific settings
type ServiceConfig struct {
	Name        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string
}

// DatabaseConfig holds Postgres connection settings
type DatabaseConfig struct {
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// ChainConfig holds settings for the external transaction submitter
type ChainConfig struct {
	NodeURL        string
	RequestTimeout time.Duration
}

// SettlementConfig governs the claim settlement retry policy
type SettlementConfig struct {
	MaxPollAttempts int
	PollBaseDelay   time.Duration
	ReconcileEvery  time.Duration
	StaleAfter      time.Duration
}

// GovernanceConfig holds governance defaults
type GovernanceConfig struct {
	DefaultQuorum       int64
	DefaultVotingPeriod time.Duration
}

// CacheConfig holds cache settings
type CacheConfig struct {
	Enabled    bool
	DefaultTTL time.Duration
}

// TelemetryConfig holds observability settings
type TelemetryConfig struct {
	EnablePprof bool
	PprofPort   int
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Port:        getEnvInt("PORT", 8080),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "text"), // Default to text for development
		},
		Database: DatabaseConfig{
			Host:        getEnv("POSTGRES_HOST", "localhost"),
			Port:        getEnvInt("POSTGRES_PORT", 5432),
			Database:    getEnv("POSTGRES_DB", "vaultd"),
			User:        getEnv("POSTGRES_USER", "vaultd"),
			Password:    getEnv("POSTGRES_PASSWORD", "vaultd"),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 50),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 10),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", 1*time.Hour),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Chain: ChainConfig{
			NodeURL:        getEnv("CHAIN_NODE_URL", "http://localhost:9000"),
			RequestTimeout: getEnvDuration("CHAIN_REQUEST_TIMEOUT", 10*time.Second),
		},
		Settlement: SettlementConfig{
			MaxPollAttempts: getEnvInt("SETTLEMENT_MAX_POLL_ATTEMPTS", 5),
			PollBaseDelay:   getEnvDuration("SETTLEMENT_POLL_BASE_DELAY", 2*time.Second),
			ReconcileEvery:  getEnvDuration("SETTLEMENT_RECONCILE_INTERVAL", 30*time.Second),
			StaleAfter:      getEnvDuration("SETTLEMENT_STALE_AFTER", 2*time.Minute),
		},
		Governance: GovernanceConfig{
			DefaultQuorum:       getEnvInt64("GOVERNANCE_DEFAULT_QUORUM", 1000),
			DefaultVotingPeriod: getEnvDuration("GOVERNANCE_VOTING_PERIOD", 7*24*time.Hour),
		},
		Cache: CacheConfig{
			Enabled:    getEnvBool("CACHE_ENABLED", true),
			DefaultTTL: getEnvDuration("CACHE_DEFAULT_TTL", 30*time.Second),
		},
		Telemetry: TelemetryConfig{
			EnablePprof: getEnvBool("ENABLE_PPROF", true),
			PprofPort:   getEnvInt("PPROF_PORT", 6060),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns must be >= min_conns")
	}

	if c.Settlement.MaxPollAttempts < 1 {
		return fmt.Errorf("settlement max poll attempts must be >= 1")
	}

	if c.Governance.DefaultQuorum < 0 {
		return fmt.Errorf("governance quorum must be non-negative")
	}

	return nil
}

// DatabaseURL returns the PostgreSQL connection string
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
	)
}

// RedisAddr returns the Redis host:port address
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
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
