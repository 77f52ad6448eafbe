package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Haaaz3/MeasureAccelerator-sub006/internal/domain"
	"github.com/Haaaz3/MeasureAccelerator-sub006/internal/measurefile"
	"github.com/Haaaz3/MeasureAccelerator-sub006/internal/service"
)

func importCmd(opts *rootOptions) *cobra.Command {
	var link bool
	cmd := &cobra.Command{
		Use:   "import <file>...",
		Short: "Save measures from JSON or YAML files into the workspace",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			measures, err := measurefile.ReadAll(args...)
			if err != nil {
				return err
			}
			return opts.withWorkspace(cmd, func(ctx context.Context, ws *workspace) error {
				result, err := ws.engine.SaveMeasures(ctx, measures, link)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Saved %d measures\n", len(measures))
				return printJSON(cmd.OutOrStdout(), result)
			})
		},
	}
	cmd.Flags().BoolVar(&link, "link", false, "link the measures to the component library after saving")
	return cmd
}

func linkCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "link <measure-id>...",
		Short: "Link measure criteria to library components, creating components as needed",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withWorkspace(cmd, func(ctx context.Context, ws *workspace) error {
				results := make([]service.LinkResult, 0, len(args))
				for _, id := range args {
					result, err := ws.engine.LinkMeasure(ctx, id)
					if err != nil {
						return fmt.Errorf("link %s: %w", id, err)
					}
					results = append(results, result)
				}
				return printJSON(cmd.OutOrStdout(), results)
			})
		},
	}
}

func compileCmd(opts *rootOptions) *cobra.Command {
	var (
		file    string
		asJSON  bool
		popOnly string
	)
	cmd := &cobra.Command{
		Use:   "compile [measure-id]",
		Short: "Compile a measure's population criteria to SQL",
		Long: "Compile a stored measure, or every measure in --file without touching the\n" +
			"workspace. The SQL is written to stdout; diagnostics go to stderr.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (file == "") == (len(args) == 0) {
				return fmt.Errorf("give either a measure id or --file")
			}
			return opts.withWorkspace(cmd, func(ctx context.Context, ws *workspace) error {
				var measures []*domain.Measure
				if file != "" {
					ms, err := measurefile.Read(file)
					if err != nil {
						return err
					}
					measures = ms
				} else {
					m, err := ws.engine.Measure(args[0])
					if err != nil {
						return fmt.Errorf("measure %s: %w", args[0], err)
					}
					measures = []*domain.Measure{m}
				}

				failed := 0
				for _, m := range measures {
					result := ws.compiler.CompileMeasure(ctx, m)
					for _, w := range result.Warnings {
						fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s: %s\n", m.ID, issueText(w))
					}
					for _, e := range result.Errors {
						fmt.Fprintf(cmd.ErrOrStderr(), "error: %s: %s\n", m.ID, issueText(e))
					}
					if !result.OK() {
						failed++
					}

					switch {
					case asJSON:
						if err := printJSON(cmd.OutOrStdout(), result); err != nil {
							return err
						}
					case popOnly != "":
						sql, ok := result.PopulationSQL[domain.PopulationType(popOnly)]
						if !ok {
							return fmt.Errorf("measure %s has no %s population", m.ID, popOnly)
						}
						fmt.Fprintln(cmd.OutOrStdout(), sql)
					default:
						fmt.Fprintln(cmd.OutOrStdout(), result.SQL)
					}
				}
				if failed > 0 {
					return fmt.Errorf("%d of %d measures failed to compile", failed, len(measures))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "compile measures from a JSON or YAML file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full compile result as JSON")
	cmd.Flags().StringVar(&popOnly, "population", "", "print only one population's query, e.g. numerator")
	cmd.Flags().StringVar(&opts.periodStart, "period-start", "", "measurement period start (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.periodEnd, "period-end", "", "measurement period end (YYYY-MM-DD)")
	return cmd
}

func issueText(i service.CompileIssue) string {
	var where []string
	if i.Population != "" {
		where = append(where, string(i.Population))
	}
	if i.NodeID != "" {
		where = append(where, i.NodeID)
	}
	if len(where) == 0 {
		return i.Message
	}
	return fmt.Sprintf("[%s] %s", strings.Join(where, " "), i.Message)
}

func deleteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <measure-id>...",
		Short: "Delete measures and release their component usage",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withWorkspace(cmd, func(ctx context.Context, ws *workspace) error {
				report, err := ws.engine.DeleteMeasures(ctx, args)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), report)
			})
		},
	}
}

func rebuildCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Recalculate component usage from every stored measure",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withWorkspace(cmd, func(ctx context.Context, ws *workspace) error {
				report, err := ws.engine.RebuildUsage(ctx)
				if err != nil {
					return err
				}
				if report.Empty() {
					fmt.Fprintln(cmd.ErrOrStderr(), "Usage already consistent")
				}
				return printJSON(cmd.OutOrStdout(), report)
			})
		},
	}
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>...",
		Short: "Check measure files for structural problems without saving them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			measures, err := measurefile.ReadAll(args...)
			if err != nil {
				return err
			}
			problems := 0
			for _, m := range measures {
				errs := measureProblems(m)
				for _, e := range errs {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %v\n", m.ID, e)
				}
				problems += len(errs)
			}
			if problems > 0 {
				return fmt.Errorf("%d problems in %d measures", problems, len(measures))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d measures OK\n", len(measures))
			return nil
		},
	}
}

func measureProblems(m *domain.Measure) []error {
	var errs []error
	if err := m.Validate(); err != nil {
		errs = append(errs, err)
	}
	for _, p := range m.Populations {
		for _, err := range domain.ValidateTree(p.Criteria) {
			errs = append(errs, fmt.Errorf("%s: %w", p.Type, err))
		}
	}
	return errs
}
