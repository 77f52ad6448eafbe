package domain

import (
	"time"
)

// Config represents the main application configuration
type Config struct {
	Environment string            `mapstructure:"environment"`
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Compiler    CompilerConfig    `mapstructure:"compiler"`
	Auth        AuthConfig        `mapstructure:"auth"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	Terminology TerminologyConfig `mapstructure:"terminology"`
	MCP         MCPConfig         `mapstructure:"mcp"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig represents database connection configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// CacheConfig configures the compiled-SQL cache. An empty RedisURL keeps the
// cache in memory only.
type CacheConfig struct {
	RedisURL    string        `mapstructure:"redis_url"`
	DefaultTTL  time.Duration `mapstructure:"default_ttl"`
	MaxItems    int           `mapstructure:"max_items"`
	MaxRetries  int           `mapstructure:"max_retries"`
	PoolSize    int           `mapstructure:"pool_size"`
	PoolTimeout time.Duration `mapstructure:"pool_timeout"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// CompilerConfig is the SQL target schema the set-algebra compiler emits against.
type CompilerConfig struct {
	MeasurementPeriodStart string                      `mapstructure:"measurement_period_start"`
	MeasurementPeriodEnd   string                      `mapstructure:"measurement_period_end"`
	PatientTable           string                      `mapstructure:"patient_table"`
	PatientIDColumn        string                      `mapstructure:"patient_id_column"`
	BirthDateColumn        string                      `mapstructure:"birth_date_column"`
	GenderColumn           string                      `mapstructure:"gender_column"`
	ValueSetTable          string                      `mapstructure:"value_set_table"`
	InlineCodes            bool                        `mapstructure:"inline_codes"`
	FactTables             map[string]FactTableConfig  `mapstructure:"fact_tables"`
	IndexEvents            map[string]IndexEventConfig `mapstructure:"index_events"`
}

// FactTableConfig maps an element type onto a table of clinical events.
type FactTableConfig struct {
	Table         string `mapstructure:"table"`
	PatientColumn string `mapstructure:"patient_column"`
	CodeColumn    string `mapstructure:"code_column"`
	SystemColumn  string `mapstructure:"system_column"`
	DateColumn    string `mapstructure:"date_column"`
	ValueColumn   string `mapstructure:"value_column"`
}

// IndexEventConfig defines the qualifying event an index-relative timing
// constraint is measured from, e.g. the first qualifying medication fill.
type IndexEventConfig struct {
	ElementType string `mapstructure:"element_type"`
	ValueSetID  string `mapstructure:"value_set_id"`
	Select      string `mapstructure:"select"` // "first" or "last"
}

// AuthConfig configures bearer-token verification for mutating API routes.
type AuthConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

// RateLimitConfig throttles API clients.
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// TerminologyConfig configures the remote value-set expansion service.
type TerminologyConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Timeout     time.Duration `mapstructure:"timeout"`
	RateLimit   int           `mapstructure:"rate_limit"`
	ValueSetDir string        `mapstructure:"value_set_dir"`
}

// MCPConfig represents MCP server configuration
type MCPConfig struct {
	ServerName    string `mapstructure:"server_name"`
	ServerVersion string `mapstructure:"server_version"`
}
