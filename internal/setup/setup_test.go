package setup

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister_PreservesOtherKeys(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "client", "config.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(configPath), 0o755))
	require.NoError(t, os.WriteFile(configPath, []byte(`{
  "theme": "dark",
  "mcpServers": {"other": {"command": "/bin/other"}}
}`), 0o644))

	binary := filepath.Join(dir, "mcp-server-lite")
	require.NoError(t, os.WriteFile(binary, []byte("#!/bin/sh\n"), 0o755))

	entry, err := Register(Options{ConfigPath: configPath, BinaryPath: binary, DataDir: "/data"})
	require.NoError(t, err)
	assert.Equal(t, binary, entry.Command)
	assert.Equal(t, map[string]string{"MEASURE_DATA_DIR": "/data"}, entry.Env)

	data, err := os.ReadFile(configPath)
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "dark", raw["theme"])

	cfg, err := LoadClientConfig(configPath)
	require.NoError(t, err)
	assert.Contains(t, cfg.MCPServers, "other")
	assert.Contains(t, cfg.MCPServers, DefaultServerName)

	status, err := Check(configPath, "")
	require.NoError(t, err)
	assert.True(t, status.Registered)
	assert.Empty(t, status.Issues)
}

func TestRegister_NewFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "config.json")
	_, err := Register(Options{ConfigPath: configPath, ServerName: "ma", BinaryPath: "/opt/ma/mcp-server-lite"})
	require.NoError(t, err)

	status, err := Check(configPath, "ma")
	require.NoError(t, err)
	assert.True(t, status.Registered)
	require.Len(t, status.Issues, 1)
	assert.Contains(t, status.Issues[0], "not found")
}

func TestRegister_RequiresConfigPath(t *testing.T) {
	_, err := Register(Options{BinaryPath: "/bin/true"})
	assert.Error(t, err)
}

func TestCheck_NotRegistered(t *testing.T) {
	status, err := Check(filepath.Join(t.TempDir(), "missing.json"), "")
	require.NoError(t, err)
	assert.False(t, status.Registered)
	assert.Len(t, status.Issues, 1)
}

func TestLoadClientConfig_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))
	_, err := LoadClientConfig(path)
	assert.Error(t, err)
}
