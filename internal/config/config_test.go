package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_Defaults(t *testing.T) {
	m, err := NewManagerWithPaths(t.TempDir())
	require.NoError(t, err)

	cfg := m.GetConfig()
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "measure_accelerator", cfg.Database.Database)
	assert.Equal(t, "2025-01-01", m.GetCompilerConfig().MeasurementPeriodStart)
	assert.True(t, cfg.Compiler.InlineCodes)
	assert.Equal(t, 1000, cfg.Cache.MaxItems)
	assert.Empty(t, m.GetRedisConnectionString())
	assert.True(t, m.IsDevelopment())
	assert.False(t, m.IsProduction())
	assert.NoError(t, m.Validate())
	assert.Equal(t, "postgres://postgres:@localhost:5432/measure_accelerator?sslmode=disable", m.GetDatabaseURL())
}

func TestManager_FileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(`
environment: production
server:
  port: 9000
database:
  host: db.internal
compiler:
  measurement_period_start: "2026-01-01"
  measurement_period_end: "2026-12-31"
  fact_tables:
    diagnosis:
      table: dx_events
      date_column: onset_date
`), 0o644))
	t.Setenv("MEASURE_ACCEL_DATABASE_USERNAME", "reader")

	m, err := NewManagerWithPaths(dir)
	require.NoError(t, err)

	cfg := m.GetConfig()
	assert.Equal(t, 9000, m.GetServerConfig().Port)
	assert.Equal(t, "db.internal", m.GetDatabaseConfig().Host)
	assert.Equal(t, "reader", cfg.Database.Username)
	assert.Equal(t, "dx_events", cfg.Compiler.FactTables["diagnosis"].Table)
	assert.Equal(t, "onset_date", cfg.Compiler.FactTables["diagnosis"].DateColumn)
	assert.True(t, m.IsProduction())
	assert.Contains(t, m.GetDatabaseConnectionString(), "host=db.internal")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("server:\n  port: 9100\n"), 0o644))
	require.NoError(t, m.Reload())
	assert.Equal(t, 9100, m.GetServerConfig().Port)
}

func TestManager_InvalidFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("server: [unclosed"), 0o644))

	_, err := NewManagerWithPaths(dir)
	assert.Error(t, err)
}

func TestManager_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(m *Manager)
		wantErr string
	}{
		{"bad port", func(m *Manager) { m.config.Server.Port = 70000 }, "invalid server port"},
		{"no host", func(m *Manager) { m.config.Database.Host = "" }, "database host"},
		{"no username", func(m *Manager) { m.config.Database.Username = "" }, "database username"},
		{"bad log level", func(m *Manager) { m.config.Logging.Level = "loud" }, "invalid log level"},
		{"bad period", func(m *Manager) { m.config.Compiler.MeasurementPeriodStart = "01/01/2025" }, "measurement period start"},
		{"reversed period", func(m *Manager) {
			m.config.Compiler.MeasurementPeriodStart = "2025-12-31"
			m.config.Compiler.MeasurementPeriodEnd = "2025-01-01"
		}, "before it starts"},
		{"auth without secret", func(m *Manager) { m.config.Auth.Enabled = true }, "JWT secret"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewManagerWithPaths(t.TempDir())
			require.NoError(t, err)
			tt.mutate(m)
			assert.ErrorContains(t, m.Validate(), tt.wantErr)
		})
	}
}
