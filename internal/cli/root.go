// Package cli implements measurectl, the operator command line for the
// measure workspace.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Haaaz3/MeasureAccelerator-sub006/internal/cache"
	"github.com/Haaaz3/MeasureAccelerator-sub006/internal/config"
	"github.com/Haaaz3/MeasureAccelerator-sub006/internal/domain"
	"github.com/Haaaz3/MeasureAccelerator-sub006/internal/service"
	"github.com/Haaaz3/MeasureAccelerator-sub006/internal/store"
	"github.com/Haaaz3/MeasureAccelerator-sub006/pkg/terminology"
)

// Actor is recorded as the author of changes made from the command line
// unless --actor overrides it.
const Actor = "measurectl"

type rootOptions struct {
	dataDir     string
	databaseURL string
	valueSetDir string
	configDir   string
	logLevel    string
	actor       string
	periodStart string
	periodEnd   string
}

// NewRootCommand builds the measurectl command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "measurectl",
		Short:         "Manage the measure component library and compile measures to SQL",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.dataDir, "data-dir", "", "standalone workspace directory (default $MEASURE_DATA_DIR or ~/.measure-accelerator)")
	flags.StringVar(&opts.databaseURL, "database-url", "", "use a PostgreSQL workspace instead of the standalone one")
	flags.StringVar(&opts.valueSetDir, "value-set-dir", "", "directory of FHIR ValueSet JSON files")
	flags.StringVar(&opts.configDir, "config-dir", "", "directory holding config.yaml for migrate and token")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	flags.StringVar(&opts.actor, "actor", Actor, "name recorded on approvals, merges and archives")

	rootCmd.AddCommand(
		importCmd(opts),
		linkCmd(opts),
		compileCmd(opts),
		validateCmd(),
		deleteCmd(opts),
		rebuildCmd(opts),
		componentsCmd(opts),
		approveCmd(opts),
		archiveCmd(opts),
		mergeCmd(opts),
		exportCmd(opts),
		restoreCmd(opts),
		migrateCmd(opts),
		tokenCmd(opts),
		setupCmd(opts),
	)
	return rootCmd
}

// workspace is an opened store with the engine loaded from it.
type workspace struct {
	store    store.Store
	engine   *service.Engine
	compiler *service.CompilerService
	logger   *logrus.Logger
}

func (o *rootOptions) logger() *logrus.Logger {
	return config.NewLogger(domain.LoggingConfig{Level: o.logLevel, Format: "text", Output: "stderr"})
}

func (o *rootOptions) liteConfig() *config.LiteConfig {
	cfg := config.LoadLiteConfig()
	if o.dataDir != "" {
		cfg.DataDir = o.dataDir
	}
	if o.valueSetDir != "" {
		cfg.ValueSetDir = o.valueSetDir
	}
	if o.periodStart != "" {
		cfg.PeriodStart = o.periodStart
	}
	if o.periodEnd != "" {
		cfg.PeriodEnd = o.periodEnd
	}
	return cfg
}

func (o *rootOptions) manager() (*config.Manager, error) {
	if o.configDir != "" {
		return config.NewManagerWithPaths(o.configDir)
	}
	return config.NewManager()
}

// openWorkspace opens the PostgreSQL workspace when --database-url is set and
// the standalone SQLite workspace otherwise, then loads it.
func (o *rootOptions) openWorkspace(ctx context.Context) (*workspace, error) {
	logger := o.logger()
	cfg := o.liteConfig()

	var (
		s   store.Store
		err error
	)
	if o.databaseURL != "" {
		s, err = store.NewPostgresStoreFromURL(o.databaseURL)
	} else {
		if err = cfg.EnsureDataDir(); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		s, err = store.NewSQLiteStore(cfg.WorkspaceDBPath())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open workspace store: %w", err)
	}

	resolver, err := terminology.NewResolver(cfg.Terminology(), logger)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create terminology resolver: %w", err)
	}

	engine := service.NewEngine(
		service.WithWorkspaceStore(s),
		service.WithValueSetResolver(resolver),
		service.WithEngineLogger(logger),
	)
	if err := engine.Load(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to load workspace: %w", err)
	}

	return &workspace{
		store:    s,
		engine:   engine,
		compiler: service.NewCompilerService(service.NewCompiler(cfg.Compiler()), cache.NewMemoryCache(cfg.CacheMaxItems, cfg.CacheTTL), cfg.CacheTTL, logger),
		logger:   logger,
	}, nil
}

// withWorkspace runs fn against an opened workspace and closes it after.
func (o *rootOptions) withWorkspace(cmd *cobra.Command, fn func(ctx context.Context, ws *workspace) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ws, err := o.openWorkspace(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := ws.store.Close(); err != nil {
			ws.logger.WithError(err).Warn("Failed to close workspace store")
		}
	}()
	return fn(ctx, ws)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
