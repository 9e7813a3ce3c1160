package commands

import (
	"encoding/json"
	"os"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/resourcewatch/errors"
)

// Output formats of listing commands.
const (
	outputTable = "table"
	outputJSON  = "json"
)

func addOutputFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("output", "o", outputTable, "Output format: table, json")
}

func outputFormat(cmd *cobra.Command) (string, error) {
	format, _ := cmd.Flags().GetString("output")
	switch format {
	case outputTable, outputJSON:
		return format, nil
	default:
		return "", errors.NewInvalidRequestError("unsupported output format: %s (supported: table, json)", format)
	}
}

// render prints rows as a pterm table, or v as indented JSON.
func render(format string, header []string, rows [][]string, v any) error {
	if format == outputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	if len(rows) == 0 {
		pterm.Info.Println("Nothing to show")
		return nil
	}
	data := append(pterm.TableData{header}, rows...)
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}

func formatDuration(d time.Duration) string {
	return d.Round(time.Millisecond).String()
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
