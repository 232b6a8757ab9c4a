package cli

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newMonitorCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Run the filter monitor",
	}
	cmd.AddCommand(newMonitorRunCommand(a))
	return cmd
}

func newMonitorRunCommand(a *app) *cobra.Command {
	var filterID string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Check every active filter once, or a single filter with --filter-id",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			orch, err := a.orchestrator(ctx)
			if err != nil {
				return err
			}

			if filterID != "" {
				id, err := uuid.Parse(filterID)
				if err != nil {
					return fmt.Errorf("invalid --filter-id: %w", err)
				}
				res, err := orch.RunFilter(ctx, id)
				if err != nil {
					return err
				}
				if res.Err != nil {
					fmt.Fprintf(out, "Filter %s failed: %v\n", id, res.Err)
					return nil
				}
				fmt.Fprintf(out, "Filter %s: %d found, %d new, %d price changes, %d removed\n",
					id, res.Found, res.Created, res.PriceChanged, res.Removed)
				return nil
			}

			stats, err := orch.RunAll(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, renderRunStats(stats))
			return nil
		},
	}

	cmd.Flags().StringVar(&filterID, "filter-id", "", "run only this filter")
	return cmd
}
