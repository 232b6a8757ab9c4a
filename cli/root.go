package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Execute runs the command line and returns the process exit code.
func Execute(version string) int {
	a := &app{}
	defer a.Close()

	root := newRootCommand(a, version)
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}

func newRootCommand(a *app, version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "olx-monitor",
		Short:         "Watch OLX searches and report new and changed listings",
		Long:          "olx-monitor runs saved OLX searches, tracks listings and their prices, and notifies Telegram subscribers about new, repriced and removed offers.",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,

		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}

	cmd.AddCommand(newMonitorCommand(a))
	cmd.AddCommand(newFilterCommand(a))
	cmd.AddCommand(newStatsCommand(a))
	cmd.AddCommand(newLogsCommand(a))
	cmd.AddCommand(newDaemonCommand(a))

	return cmd
}
