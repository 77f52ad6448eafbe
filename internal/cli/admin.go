package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"

	"github.com/Haaaz3/MeasureAccelerator-sub006/internal/database"
	"github.com/Haaaz3/MeasureAccelerator-sub006/internal/middleware"
	"github.com/Haaaz3/MeasureAccelerator-sub006/internal/setup"
)

func exportCmd(opts *rootOptions) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write every component and measure as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withWorkspace(cmd, func(ctx context.Context, ws *workspace) error {
				if out == "" || out == "-" {
					return ws.store.ExportJSON(ctx, cmd.OutOrStdout())
				}
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				if err := ws.store.ExportJSON(ctx, f); err != nil {
					f.Close()
					return err
				}
				if err := f.Close(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Workspace exported to %s\n", out)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "file to write (default stdout)")
	return cmd
}

func restoreCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <export-file>",
		Short: "Load an export into the workspace, skipping ids already stored",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			return opts.withWorkspace(cmd, func(ctx context.Context, ws *workspace) error {
				imported, skipped, err := ws.store.ImportJSON(ctx, f)
				if err != nil {
					return err
				}
				// Usage in the export may disagree with the merged workspace.
				if err := ws.engine.Load(ctx); err != nil {
					return err
				}
				report, err := ws.engine.RebuildUsage(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Imported %d entities, skipped %d\n", imported, skipped)
				return printJSON(cmd.OutOrStdout(), report)
			})
		},
	}
}

func migrateCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL workspace schema",
	}

	run := func(fn func(ctx context.Context, mr *database.MigrationRunner) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			databaseURL := opts.databaseURL
			migrationsPath := ""
			if databaseURL == "" {
				manager, err := opts.manager()
				if err != nil {
					return fmt.Errorf("failed to load configuration: %w", err)
				}
				databaseURL = manager.GetDatabaseURL()
				migrationsPath = manager.GetDatabaseConfig().MigrationsPath
			}
			mr, err := database.NewMigrationRunner(databaseURL, migrationsPath, opts.logger())
			if err != nil {
				return err
			}
			defer mr.Close()
			return fn(cmd.Context(), mr)
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: run(func(ctx context.Context, mr *database.MigrationRunner) error {
				return mr.Up(ctx)
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			Args:  cobra.NoArgs,
			RunE: run(func(ctx context.Context, mr *database.MigrationRunner) error {
				return mr.Down(ctx)
			}),
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the applied schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return run(func(ctx context.Context, mr *database.MigrationRunner) error {
					version, dirty, err := mr.Version()
					if errors.Is(err, migrate.ErrNilVersion) {
						fmt.Fprintln(cmd.OutOrStdout(), "no migrations applied")
						return nil
					}
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "version %d dirty=%t\n", version, dirty)
					return nil
				})(cmd, args)
			},
		},
	)
	return cmd
}

func tokenCmd(opts *rootOptions) *cobra.Command {
	var (
		reviewer string
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a reviewer token for the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if reviewer == "" {
				return fmt.Errorf("--reviewer is required")
			}
			manager, err := opts.manager()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			auth := manager.GetConfig().Auth
			if auth.JWTSecret == "" {
				return fmt.Errorf("auth.jwt_secret is not configured")
			}
			token, err := middleware.IssueToken(auth, reviewer, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&reviewer, "reviewer", "", "reviewer name carried in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func setupCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Register the standalone MCP server with an MCP client",
	}

	var reg setup.Options
	register := &cobra.Command{
		Use:   "register",
		Short: "Add or replace the server entry in a client config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if reg.ConfigPath == "" {
				reg.ConfigPath = defaultClientConfig()
			}
			if reg.DataDir == "" {
				reg.DataDir = opts.dataDir
			}
			if reg.ValueSets == "" {
				reg.ValueSets = opts.valueSetDir
			}
			entry, err := setup.Register(reg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered %s in %s\n", entry.Command, reg.ConfigPath)
			return nil
		},
	}
	register.Flags().StringVar(&reg.ConfigPath, "client-config", "", "MCP client config file")
	register.Flags().StringVar(&reg.ServerName, "name", setup.DefaultServerName, "server entry name")
	register.Flags().StringVar(&reg.BinaryPath, "binary", "", "path to "+setup.DefaultBinaryName+" (default: search PATH)")

	var (
		checkPath string
		checkName string
	)
	check := &cobra.Command{
		Use:   "check",
		Short: "Verify the server registration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if checkPath == "" {
				checkPath = defaultClientConfig()
			}
			status, err := setup.Check(checkPath, checkName)
			if err != nil {
				return err
			}
			for _, issue := range status.Issues {
				fmt.Fprintln(cmd.OutOrStdout(), "issue: "+issue)
			}
			if !status.Registered || len(status.Issues) > 0 {
				return fmt.Errorf("registration has %d issues", len(status.Issues))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is registered: %s\n", checkName, status.Entry.Command)
			return nil
		},
	}
	check.Flags().StringVar(&checkPath, "client-config", "", "MCP client config file")
	check.Flags().StringVar(&checkName, "name", setup.DefaultServerName, "server entry name")

	cmd.AddCommand(register, check)
	return cmd
}

// defaultClientConfig is the desktop client's config under the user config
// directory.
func defaultClientConfig() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "Claude", "claude_desktop_config.json")
}
