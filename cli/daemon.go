package cli

import (
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"olx_monitor/metrics"
	"olx_monitor/models"
	"olx_monitor/scheduler"
)

func newDaemonCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the monitor on a schedule and serve metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if a.metrics == nil {
				a.metrics = metrics.New()
			}
			orch, err := a.orchestrator(ctx)
			if err != nil {
				return err
			}
			ops, err := a.opsStore()
			if err != nil {
				return err
			}

			go func() {
				if err := a.metrics.Serve(ctx, a.cfg.MetricsAddr); err != nil {
					log.Printf("Metrics: server error: %v", err)
				}
			}()

			sched := scheduler.New(a.cfg.Scheduler, orch, ops)
			if err := sched.Start(ctx); err != nil {
				return fmt.Errorf("failed to start scheduler: %w", err)
			}

			log.Println("Daemon running. Press Ctrl+C to stop.")
			<-ctx.Done()

			log.Println("Shutting down...")
			sched.Stop()
			log.Println("Goodbye!")
			return nil
		},
	}

	cmd.AddCommand(newDaemonTriggerCommand(a))
	cmd.AddCommand(newDaemonQueueCommand(a, "pause", "Pause scheduled runs", models.CmdPause))
	cmd.AddCommand(newDaemonQueueCommand(a, "resume", "Resume scheduled runs", models.CmdResume))
	return cmd
}

func newDaemonTriggerCommand(a *app) *cobra.Command {
	var filterID string

	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Ask the running daemon to check all filters, or one with --filter-id",
		RunE: func(cmd *cobra.Command, args []string) error {
			command := models.CmdRunNow
			var params *models.CommandParams
			if filterID != "" {
				if _, err := uuid.Parse(filterID); err != nil {
					return fmt.Errorf("invalid --filter-id: %w", err)
				}
				command = models.CmdRunFilter
				params = &models.CommandParams{FilterID: filterID}
			}
			return enqueue(cmd, a, command, params)
		},
	}

	cmd.Flags().StringVar(&filterID, "filter-id", "", "check only this filter")
	return cmd
}

func newDaemonQueueCommand(a *app, use, short string, command models.CommandType) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return enqueue(cmd, a, command, nil)
		},
	}
}

func enqueue(cmd *cobra.Command, a *app, command models.CommandType, params *models.CommandParams) error {
	ops, err := a.opsStore()
	if err != nil {
		return err
	}
	id, err := ops.EnqueueCommand(command, params)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Queued %s (command %d)\n", command, id)
	return nil
}
