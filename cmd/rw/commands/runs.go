package commands

import (
	"github.com/spf13/cobra"

	"github.com/teranos/resourcewatch/am"
	"github.com/teranos/resourcewatch/db"
	"github.com/teranos/resourcewatch/errors"
	"github.com/teranos/resourcewatch/logger"
	"github.com/teranos/resourcewatch/telemetry"
)

// RunsCmd shows recorded run history.
var RunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show run history",
}

var runsLsCmd = &cobra.Command{
	Use:   "ls [tenant]",
	Short: "List recent runs, newest first",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRunsLs,
}

func init() {
	runsLsCmd.Flags().IntP("limit", "n", 20, "Number of runs to show")
	addOutputFlag(runsLsCmd)
	RunsCmd.AddCommand(runsLsCmd)
}

func runRunsLs(cmd *cobra.Command, args []string) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}
	limit, _ := cmd.Flags().GetInt("limit")
	tenant := ""
	if len(args) == 1 {
		tenant = args[0]
	}

	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	database, err := db.OpenWithMigrations(cfg.GetDatabasePath(), logger.ComponentLogger("db"))
	if err != nil {
		return errors.Wrapf(err, "failed to open database at %s", cfg.GetDatabasePath())
	}
	defer database.Close()

	records, err := telemetry.NewHistoryStore(database).List(cmd.Context(), tenant, limit)
	if err != nil {
		return err
	}

	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, []string{
			formatTime(&r.StartedAt),
			r.Tenant,
			string(r.RunType),
			string(r.Phase),
			itoa(r.Found),
			itoa(r.Normal),
			itoa(r.NoNewData),
			itoa(r.NoAction),
			itoa(r.Errors),
			itoa(r.Skipped),
			formatDuration(r.Duration),
			r.ErrorMessage,
		})
	}
	header := []string{"Started", "Tenant", "Type", "Phase", "Found", "Normal", "NoNewData", "NoAction", "Error", "Skipped", "Duration", "Failure"}
	return render(format, header, rows, records)
}
