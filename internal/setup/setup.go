// Package setup registers the standalone MCP server with MCP client
// configuration files.
package setup

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// DefaultServerName is the key the server is registered under.
const DefaultServerName = "measure-accelerator"

// DefaultBinaryName is the standalone server binary.
const DefaultBinaryName = "mcp-server-lite"

// ClientConfig is the shape shared by MCP client config files. Keys other
// than mcpServers are preserved untouched.
type ClientConfig struct {
	MCPServers map[string]ServerEntry `json:"mcpServers"`
	extra      map[string]json.RawMessage
}

// ServerEntry launches one MCP server.
type ServerEntry struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// Options controls Register.
type Options struct {
	ConfigPath string
	ServerName string
	BinaryPath string
	DataDir    string
	ValueSets  string
}

// LoadClientConfig reads a client config. A missing file is an empty config.
func LoadClientConfig(path string) (*ClientConfig, error) {
	cfg := &ClientConfig{MCPServers: make(map[string]ServerEntry), extra: make(map[string]json.RawMessage)}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := json.Unmarshal(data, &cfg.extra); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if raw, ok := cfg.extra["mcpServers"]; ok {
		if err := json.Unmarshal(raw, &cfg.MCPServers); err != nil {
			return nil, fmt.Errorf("failed to parse mcpServers: %w", err)
		}
		delete(cfg.extra, "mcpServers")
	}
	if cfg.MCPServers == nil {
		cfg.MCPServers = make(map[string]ServerEntry)
	}
	return cfg, nil
}

// Save writes the config, creating its directory.
func (c *ClientConfig) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	out := make(map[string]any, len(c.extra)+1)
	for k, v := range c.extra {
		out[k] = v
	}
	out["mcpServers"] = c.MCPServers

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Register adds or replaces the server entry and returns what was written.
func Register(opts Options) (ServerEntry, error) {
	if opts.ConfigPath == "" {
		return ServerEntry{}, fmt.Errorf("config path is required")
	}
	name := opts.ServerName
	if name == "" {
		name = DefaultServerName
	}

	binary := opts.BinaryPath
	if binary == "" {
		var err error
		if binary, err = FindBinary(DefaultBinaryName); err != nil {
			return ServerEntry{}, err
		}
	}

	cfg, err := LoadClientConfig(opts.ConfigPath)
	if err != nil {
		return ServerEntry{}, err
	}

	entry := ServerEntry{Command: binary, Env: map[string]string{}}
	if opts.DataDir != "" {
		entry.Env["MEASURE_DATA_DIR"] = opts.DataDir
	}
	if opts.ValueSets != "" {
		entry.Env["MEASURE_VALUE_SET_DIR"] = opts.ValueSets
	}
	if len(entry.Env) == 0 {
		entry.Env = nil
	}
	cfg.MCPServers[name] = entry

	if err := cfg.Save(opts.ConfigPath); err != nil {
		return ServerEntry{}, err
	}
	return entry, nil
}

// Status describes a registration.
type Status struct {
	Registered bool
	Entry      ServerEntry
	Issues     []string
}

// Check reports whether the server is registered and its binary exists.
func Check(configPath, serverName string) (*Status, error) {
	if serverName == "" {
		serverName = DefaultServerName
	}
	cfg, err := LoadClientConfig(configPath)
	if err != nil {
		return nil, err
	}

	status := &Status{}
	entry, ok := cfg.MCPServers[serverName]
	if !ok {
		status.Issues = append(status.Issues, fmt.Sprintf("%s is not registered in %s", serverName, configPath))
		return status, nil
	}
	status.Registered = true
	status.Entry = entry

	info, err := os.Stat(entry.Command)
	switch {
	case err != nil:
		status.Issues = append(status.Issues, fmt.Sprintf("server binary not found: %s", entry.Command))
	case info.Mode()&0o111 == 0:
		status.Issues = append(status.Issues, fmt.Sprintf("server binary is not executable: %s", entry.Command))
	}
	return status, nil
}

// FindBinary looks on PATH, then in the usual build and install locations.
func FindBinary(name string) (string, error) {
	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}

	home, _ := os.UserHomeDir()
	locations := []string{
		"./" + name,
		"./build/" + name,
		filepath.Join(home, ".local", "bin", name),
		"/usr/local/bin/" + name,
	}
	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			if abs, err := filepath.Abs(loc); err == nil {
				return abs, nil
			}
			return loc, nil
		}
	}
	return "", fmt.Errorf("binary %q not found in common locations", name)
}
