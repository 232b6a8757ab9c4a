package cli

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"olx_monitor/services"
)

func newStatsCommand(a *app) *cobra.Command {
	var listingID string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show dashboard statistics, or the price history of one listing",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			repo, err := a.repository(ctx)
			if err != nil {
				return err
			}

			if listingID == "" {
				stats, err := services.NewStatsService(repo, repo).Dashboard(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, renderDashboard(stats))
				return nil
			}

			// accepts our id or the OLX one
			id, err := uuid.Parse(listingID)
			if err != nil {
				l, err := repo.FindListingByExternalID(ctx, listingID)
				if err != nil {
					return err
				}
				if l == nil {
					return fmt.Errorf("unknown listing: %s", listingID)
				}
				id = l.ID
			}

			history := services.NewHistoryService(repo)
			rows, err := history.History(ctx, id)
			if err != nil {
				return err
			}
			stats, err := history.Statistics(ctx, id)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, renderPriceHistory(rows, stats))
			return nil
		},
	}

	cmd.Flags().StringVar(&listingID, "listing-id", "", "listing id or OLX external id")
	return cmd
}

func newLogsCommand(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent monitor log entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			ops, err := a.opsStore()
			if err != nil {
				return err
			}
			entries, err := ops.RecentLogs(limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No log entries")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderLogs(entries))
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "number of entries")
	return cmd
}
