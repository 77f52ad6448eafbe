package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Haaaz3/MeasureAccelerator-sub006/internal/domain"
)

func TestDefaultLiteConfig(t *testing.T) {
	cfg := DefaultLiteConfig()

	assert.NotEmpty(t, cfg.DataDir)
	assert.Equal(t, 1000, cfg.CacheMaxItems)
	assert.Equal(t, 24*time.Hour, cfg.CacheTTL)
	assert.Equal(t, "2025-01-01", cfg.PeriodStart)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Empty(t, cfg.TerminologyURL)
}

func TestLoadLiteConfig_Defaults(t *testing.T) {
	clearEnvVars(t)

	cfg := LoadLiteConfig()

	assert.NotEmpty(t, cfg.DataDir)
	assert.Equal(t, 1000, cfg.CacheMaxItems)
	assert.Equal(t, "2025-12-31", cfg.PeriodEnd)
}

func TestLoadLiteConfig_EnvironmentOverrides(t *testing.T) {
	clearEnvVars(t)

	t.Setenv("MEASURE_DATA_DIR", "/tmp/test-measures")
	t.Setenv("MEASURE_CACHE_MAX_ITEMS", "500")
	t.Setenv("MEASURE_CACHE_TTL", "12h")
	t.Setenv("MEASURE_TERMINOLOGY_URL", "https://cts.nlm.nih.gov/fhir")
	t.Setenv("MEASURE_TERMINOLOGY_API_KEY", "test-key")
	t.Setenv("MEASURE_VALUE_SET_DIR", "/srv/valuesets")
	t.Setenv("MEASURE_PERIOD_START", "2026-01-01")
	t.Setenv("MEASURE_PERIOD_END", "2026-12-31")
	t.Setenv("MEASURE_LOG_LEVEL", "debug")

	cfg := LoadLiteConfig()

	assert.Equal(t, "/tmp/test-measures", cfg.DataDir)
	assert.Equal(t, 500, cfg.CacheMaxItems)
	assert.Equal(t, 12*time.Hour, cfg.CacheTTL)
	assert.Equal(t, "debug", cfg.LogLevel)

	term := cfg.Terminology()
	assert.Equal(t, "https://cts.nlm.nih.gov/fhir", term.BaseURL)
	assert.Equal(t, "test-key", term.APIKey)
	assert.Equal(t, "/srv/valuesets", term.ValueSetDir)

	comp := cfg.Compiler()
	assert.Equal(t, "2026-01-01", comp.MeasurementPeriodStart)
	assert.Equal(t, "2026-12-31", comp.MeasurementPeriodEnd)
	assert.True(t, comp.InlineCodes)

	assert.Equal(t, 500, cfg.Cache().MaxItems)
}

func TestLoadLiteConfig_IgnoresInvalidNumbers(t *testing.T) {
	clearEnvVars(t)
	t.Setenv("MEASURE_CACHE_MAX_ITEMS", "-3")
	t.Setenv("MEASURE_CACHE_TTL", "soon")

	cfg := LoadLiteConfig()

	assert.Equal(t, 1000, cfg.CacheMaxItems)
	assert.Equal(t, 24*time.Hour, cfg.CacheTTL)
}

func TestLiteConfig_Paths(t *testing.T) {
	cfg := &LiteConfig{DataDir: "/home/user/.measure-accelerator"}

	assert.Equal(t, "/home/user/.measure-accelerator/workspace.db", cfg.WorkspaceDBPath())
	assert.Equal(t, "/home/user/.measure-accelerator/exports", cfg.ExportDir())
}

func TestLiteConfig_EnsureDataDir(t *testing.T) {
	cfg := &LiteConfig{DataDir: filepath.Join(t.TempDir(), "measures")}

	require.NoError(t, cfg.EnsureDataDir())

	_, err := os.Stat(cfg.DataDir)
	assert.NoError(t, err)
	_, err = os.Stat(cfg.ExportDir())
	assert.NoError(t, err)
}

func clearEnvVars(t *testing.T) {
	t.Helper()
	for _, v := range []string{
		"MEASURE_DATA_DIR",
		"MEASURE_CACHE_MAX_ITEMS",
		"MEASURE_CACHE_TTL",
		"MEASURE_VALUE_SET_DIR",
		"MEASURE_TERMINOLOGY_URL",
		"MEASURE_TERMINOLOGY_API_KEY",
		"MEASURE_PERIOD_START",
		"MEASURE_PERIOD_END",
		"MEASURE_LOG_LEVEL",
		"MEASURE_LOG_FORMAT",
	} {
		// t.Setenv restores the previous value when the test ends.
		t.Setenv(v, "")
		os.Unsetenv(v)
	}
}

func TestNewLogger(t *testing.T) {
	logger := NewLogger(domain.LoggingConfig{Level: "debug", Format: "text", Output: "stderr"})
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, logger.Formatter)
	assert.Equal(t, os.Stderr, logger.Out)

	logger = NewLogger(domain.LoggingConfig{Level: "loud"})
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)
	assert.Equal(t, os.Stdout, logger.Out)
}
