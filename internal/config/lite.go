// Package config provides configuration management for the measure
// accelerator. This file contains the env-only configuration used by the
// standalone MCP server and the operator CLI.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/Haaaz3/MeasureAccelerator-sub006/internal/domain"
)

// LiteConfig is a simplified configuration for standalone operation.
// It requires no external services and keeps the workspace in SQLite.
type LiteConfig struct {
	// Data storage
	DataDir string

	// Compile cache
	CacheMaxItems int
	CacheTTL      time.Duration

	// Terminology: a local directory of FHIR ValueSet JSON and an optional
	// remote $expand server.
	ValueSetDir        string
	TerminologyURL     string
	TerminologyAPIKey  string
	TerminologyTimeout time.Duration

	// Measurement period the compiler targets.
	PeriodStart string
	PeriodEnd   string

	LogLevel  string // debug, info, warn, error
	LogFormat string // json, text
}

// DefaultLiteConfig returns a configuration with sensible defaults.
func DefaultLiteConfig() *LiteConfig {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".measure-accelerator")

	return &LiteConfig{
		DataDir:            dataDir,
		CacheMaxItems:      1000,
		CacheTTL:           24 * time.Hour,
		TerminologyTimeout: 30 * time.Second,
		PeriodStart:        "2025-01-01",
		PeriodEnd:          "2025-12-31",
		LogLevel:           "info",
		LogFormat:          "json",
	}
}

// LoadLiteConfig loads configuration from environment variables.
// Falls back to defaults if not set.
func LoadLiteConfig() *LiteConfig {
	cfg := DefaultLiteConfig()

	if v := os.Getenv("MEASURE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	if v := os.Getenv("MEASURE_CACHE_MAX_ITEMS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.CacheMaxItems = n
		}
	}
	if v := os.Getenv("MEASURE_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CacheTTL = d
		}
	}

	cfg.ValueSetDir = os.Getenv("MEASURE_VALUE_SET_DIR")
	cfg.TerminologyURL = os.Getenv("MEASURE_TERMINOLOGY_URL")
	cfg.TerminologyAPIKey = os.Getenv("MEASURE_TERMINOLOGY_API_KEY")

	if v := os.Getenv("MEASURE_PERIOD_START"); v != "" {
		cfg.PeriodStart = v
	}
	if v := os.Getenv("MEASURE_PERIOD_END"); v != "" {
		cfg.PeriodEnd = v
	}

	if v := os.Getenv("MEASURE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("MEASURE_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	return cfg
}

// WorkspaceDBPath returns the path to the workspace SQLite database.
func (c *LiteConfig) WorkspaceDBPath() string {
	return filepath.Join(c.DataDir, "workspace.db")
}

// ExportDir returns the directory for JSON exports.
func (c *LiteConfig) ExportDir() string {
	return filepath.Join(c.DataDir, "exports")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *LiteConfig) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return err
	}
	return os.MkdirAll(c.ExportDir(), 0755)
}

// Terminology returns the resolver settings.
func (c *LiteConfig) Terminology() domain.TerminologyConfig {
	return domain.TerminologyConfig{
		BaseURL:     c.TerminologyURL,
		APIKey:      c.TerminologyAPIKey,
		Timeout:     c.TerminologyTimeout,
		ValueSetDir: c.ValueSetDir,
	}
}

// Cache returns the in-process compile cache settings.
func (c *LiteConfig) Cache() domain.CacheConfig {
	return domain.CacheConfig{
		DefaultTTL: c.CacheTTL,
		MaxItems:   c.CacheMaxItems,
	}
}

// Compiler returns the compiler settings: the default target schema over
// the configured measurement period.
func (c *LiteConfig) Compiler() domain.CompilerConfig {
	return domain.CompilerConfig{
		MeasurementPeriodStart: c.PeriodStart,
		MeasurementPeriodEnd:   c.PeriodEnd,
		ValueSetTable:          "value_set_code",
		InlineCodes:            true,
	}
}
