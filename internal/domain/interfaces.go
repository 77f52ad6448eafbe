package domain

import (
	"context"
)

// ValueSetResolver expands a value-set identifier into its codes.
type ValueSetResolver interface {
	Resolve(ctx context.Context, id string) (*ValueSetRef, error)
}

// WorkspaceStore persists components and measures keyed by their string ids.
// The in-memory workspace is authoritative; stores only mirror it.
type WorkspaceStore interface {
	SaveComponents(ctx context.Context, components []*LibraryComponent) error
	SaveMeasures(ctx context.Context, measures []*Measure) error
	DeleteMeasures(ctx context.Context, ids []string) error
	// SaveWorkspace applies one committed delta atomically.
	SaveWorkspace(ctx context.Context, components []*LibraryComponent, measures []*Measure, deletedIDs []string) error
	LoadComponents(ctx context.Context) ([]*LibraryComponent, error)
	LoadMeasures(ctx context.Context) ([]*Measure, error)
}

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetConfig() *Config
	GetDatabaseConfig() *DatabaseConfig
	GetServerConfig() *ServerConfig
	GetCompilerConfig() *CompilerConfig
	Reload() error
	Validate() error
	GetDatabaseConnectionString() string
	GetDatabaseURL() string
	GetRedisConnectionString() string
	IsProduction() bool
	IsDevelopment() bool
}
