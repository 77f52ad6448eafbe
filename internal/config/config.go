package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Haaaz3/MeasureAccelerator-sub006/internal/database"
	"github.com/Haaaz3/MeasureAccelerator-sub006/internal/domain"
)

// Manager implements the ConfigManager interface using Viper
type Manager struct {
	v      *viper.Viper
	paths  []string
	config *domain.Config
}

// NewManager creates a new configuration manager
func NewManager() (*Manager, error) {
	return NewManagerWithPaths(".", "./config", "/etc/measure-accelerator/")
}

// NewManagerWithPaths creates a manager that searches the given directories
// for config.yaml.
func NewManagerWithPaths(paths ...string) (*Manager, error) {
	m := &Manager{paths: paths}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from various sources
func (m *Manager) loadConfig() error {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range m.paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix("MEASURE_ACCEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// The file is optional; defaults and environment variables still apply.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &domain.Config{}
	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.v = v
	m.config = config
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "measure_accelerator")
	v.SetDefault("database.username", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("database.migrations_path", "")

	// Cache defaults. No Redis URL keeps the compile cache in process.
	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.default_ttl", "24h")
	v.SetDefault("cache.max_items", 1000)
	v.SetDefault("cache.max_retries", 3)
	v.SetDefault("cache.pool_size", 10)
	v.SetDefault("cache.pool_timeout", "4s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// Compiler defaults; fact tables fall back to the compiler's own map.
	v.SetDefault("compiler.measurement_period_start", "2025-01-01")
	v.SetDefault("compiler.measurement_period_end", "2025-12-31")
	v.SetDefault("compiler.patient_table", "patient")
	v.SetDefault("compiler.patient_id_column", "patient_id")
	v.SetDefault("compiler.birth_date_column", "birth_date")
	v.SetDefault("compiler.gender_column", "gender")
	v.SetDefault("compiler.value_set_table", "value_set_code")
	v.SetDefault("compiler.inline_codes", true)

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "measure-accelerator")

	v.SetDefault("rate_limit.requests_per_second", 20)
	v.SetDefault("rate_limit.burst", 40)

	v.SetDefault("terminology.base_url", "")
	v.SetDefault("terminology.timeout", "30s")
	v.SetDefault("terminology.rate_limit", 5)
	v.SetDefault("terminology.value_set_dir", "")

	v.SetDefault("mcp.server_name", "measure-accelerator")
	v.SetDefault("mcp.server_version", "1.0.0")
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// GetDatabaseConfig returns database configuration
func (m *Manager) GetDatabaseConfig() *domain.DatabaseConfig {
	return &m.config.Database
}

// GetServerConfig returns server configuration
func (m *Manager) GetServerConfig() *domain.ServerConfig {
	return &m.config.Server
}

// GetCompilerConfig returns the SQL target schema
func (m *Manager) GetCompilerConfig() *domain.CompilerConfig {
	return &m.config.Compiler
}

// Reload reloads the configuration
func (m *Manager) Reload() error {
	return m.loadConfig()
}

// Validate validates the configuration
func (m *Manager) Validate() error {
	config := m.config

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if config.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}
	if config.Database.Username == "" {
		return fmt.Errorf("database username is required")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}

	start, err := time.Parse(time.DateOnly, config.Compiler.MeasurementPeriodStart)
	if err != nil {
		return fmt.Errorf("invalid measurement period start: %w", err)
	}
	end, err := time.Parse(time.DateOnly, config.Compiler.MeasurementPeriodEnd)
	if err != nil {
		return fmt.Errorf("invalid measurement period end: %w", err)
	}
	if end.Before(start) {
		return fmt.Errorf("measurement period ends %s before it starts %s",
			config.Compiler.MeasurementPeriodEnd, config.Compiler.MeasurementPeriodStart)
	}

	if config.Auth.Enabled && config.Auth.JWTSecret == "" {
		return fmt.Errorf("auth is enabled but no JWT secret is configured")
	}
	if config.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("invalid rate limit: %v", config.RateLimit.RequestsPerSecond)
	}

	return nil
}

// GetDatabaseConnectionString returns a formatted database connection string
func (m *Manager) GetDatabaseConnectionString() string {
	db := m.config.Database
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		db.Host, db.Port, db.Username, db.Password, db.Database, db.SSLMode)
}

// GetDatabaseURL returns the database as a postgres:// URL
func (m *Manager) GetDatabaseURL() string {
	return database.ConfigFrom(m.config.Database).URL()
}

// GetRedisConnectionString returns the Redis connection string
func (m *Manager) GetRedisConnectionString() string {
	return m.config.Cache.RedisURL
}

// IsProduction returns true if running in production mode
func (m *Manager) IsProduction() bool {
	return strings.ToLower(m.config.Environment) == "production"
}

// IsDevelopment returns true if running in development mode
func (m *Manager) IsDevelopment() bool {
	env := strings.ToLower(m.config.Environment)
	return env == "development" || env == "dev" || env == ""
}

var _ domain.ConfigManager = (*Manager)(nil)
