package cli

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Haaaz3/MeasureAccelerator-sub006/internal/domain"
	"github.com/Haaaz3/MeasureAccelerator-sub006/internal/service"
)

func componentsCmd(opts *rootOptions) *cobra.Command {
	var (
		filter service.SearchFilter
		status string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:     "components",
		Aliases: []string{"ls"},
		Short:   "List library components",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter.Status = domain.ApprovalStatus(status)
			if filter.Status != "" && !filter.Status.IsValid() {
				return fmt.Errorf("unknown status %q", status)
			}
			return opts.withWorkspace(cmd, func(ctx context.Context, ws *workspace) error {
				components := ws.engine.Search(filter)
				if asJSON {
					if components == nil {
						components = []*domain.LibraryComponent{}
					}
					return printJSON(cmd.OutOrStdout(), components)
				}

				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tTYPE\tSTATUS\tVERSION\tUSAGE\tNAME")
				for _, c := range components {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
						c.ID, c.Type, c.Version.Status, c.Version.VersionID, c.Usage.UsageCount, c.Name)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status (draft, pending_review, approved, archived)")
	cmd.Flags().StringVar(&filter.Category, "category", "", "filter by category")
	cmd.Flags().StringVarP(&filter.Text, "query", "q", "", "match names and descriptions")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print components as JSON")
	return cmd
}

func approveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "approve <component-id>...",
		Short: "Approve components; a batch is all or nothing",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withWorkspace(cmd, func(ctx context.Context, ws *workspace) error {
				approved, err := ws.engine.BatchApprove(ctx, args, opts.actor)
				if err != nil {
					return err
				}
				for _, c := range approved {
					fmt.Fprintf(cmd.OutOrStdout(), "%s approved (version %s)\n", c.ID, c.Version.VersionID)
				}
				return nil
			})
		},
	}
}

func archiveCmd(opts *rootOptions) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "archive <component-id>",
		Short: "Archive a component",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withWorkspace(cmd, func(ctx context.Context, ws *workspace) error {
				c, err := ws.engine.Archive(ctx, args[0], opts.actor, reason)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s archived\n", c.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded in the status history")
	return cmd
}

func mergeCmd(opts *rootOptions) *cobra.Command {
	var (
		req     service.MergeRequest
		repoint bool
	)
	cmd := &cobra.Command{
		Use:   "merge <component-id> <component-id>...",
		Short: "Merge duplicate atomic components into one new component",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(req.Name) == "" {
				return fmt.Errorf("--name is required")
			}
			req.ComponentIDs = args
			req.MergedBy = opts.actor
			return opts.withWorkspace(cmd, func(ctx context.Context, ws *workspace) error {
				result, err := ws.engine.Merge(ctx, req, repoint)
				if err != nil {
					return err
				}
				for _, s := range result.Skipped {
					fmt.Fprintf(cmd.ErrOrStderr(), "skipped %s: %s\n", s.ID, s.Reason)
				}
				if !result.Success {
					return fmt.Errorf("merge rejected: %s", result.Error)
				}
				return printJSON(cmd.OutOrStdout(), result)
			})
		},
	}
	cmd.Flags().StringVar(&req.Name, "name", "", "name of the merged component")
	cmd.Flags().StringVar(&req.Description, "description", "", "description of the merged component")
	cmd.Flags().BoolVar(&repoint, "repoint", true, "point referencing measures at the merged component")
	return cmd
}
