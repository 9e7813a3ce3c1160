package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/resourcewatch/cmd/rw/commands"
	"github.com/teranos/resourcewatch/logger"
)

var rootCmd = &cobra.Command{
	Use:   "rw",
	Short: "resourcewatch - poll tenant resources and act on changes",
	Long: `resourcewatch polls the resources of each configured tenant, detects new
and changed ones against persisted state, and hands them to the tenant's
action. Failing resources are retried and eventually banned for a while.

Available commands:
  run    - Run one check per tenant and exit
  pulse  - Run the scheduler daemon
  state  - Inspect and reset resource state
  runs   - Show run history
  am     - Manage configuration ("I am")

Examples:
  rw am init          # Write a default config
  rw run -v           # Check every tenant with progress logging
  rw pulse start      # Keep checking on each tenant's interval
  rw state ls acme    # See what acme has processed`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLogs, _ := cmd.Flags().GetBool("log-json")
		if err := logger.Initialize(jsonLogs, logger.VerbosityToLevel(verbosity)); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Emit logs as JSON")

	rootCmd.AddCommand(commands.RunCmd)
	rootCmd.AddCommand(commands.PulseCmd)
	rootCmd.AddCommand(commands.StateCmd)
	rootCmd.AddCommand(commands.RunsCmd)
	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
