package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/resourcewatch/am"
	"github.com/teranos/resourcewatch/errors"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: "Manage resourcewatch configuration",
	Long: `Display and manage resourcewatch configuration ("I am").

Configuration sources (later overrides earlier):
  1. Built-in defaults
  2. /etc/rw/am.toml
  3. ~/.rw/am.toml
  4. ./am.toml (searches up directories)
  5. RW_* environment variables (RW_WATCH_PARALLELISM=8)

Examples:
  rw am show                 # Show current configuration
  rw am show --format json   # Show configuration as JSON
  rw am validate             # Validate current configuration
  rw am where                # Show which files were loaded
  rw am init                 # Write defaults to ~/.rw/am.toml`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runAmShow,
}

var amValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate current configuration",
	RunE:  runAmValidate,
}

var amWhereCmd = &cobra.Command{
	Use:   "where",
	Short: "Show where configuration is loaded from",
	RunE:  runAmWhere,
}

var amInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a default configuration file",
	Long:  "Write the default configuration to path (default ~/.rw/am.toml). An existing file is rotated to .back1.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAmInit,
}

func init() {
	amShowCmd.Flags().String("format", am.FormatTOML, "Output format: toml, json, yaml")

	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amValidateCmd)
	AmCmd.AddCommand(amWhereCmd)
	AmCmd.AddCommand(amInitCmd)
}

func runAmShow(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	format, _ := cmd.Flags().GetString("format")
	data, err := am.Marshal(cfg, format)
	if err != nil {
		return err
	}
	if format == am.FormatTOML || format == am.FormatYAML {
		fmt.Println("# resourcewatch configuration")
	}
	fmt.Print(string(data))
	return nil
}

func runAmValidate(cmd *cobra.Command, args []string) error {
	// Load validates before caching.
	if _, err := am.Load(); err != nil {
		return errors.Wrap(err, "configuration validation failed")
	}
	pterm.Success.Println("Configuration is valid")
	return nil
}

func runAmWhere(cmd *cobra.Command, args []string) error {
	if _, err := am.Load(); err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	loaded := make(map[string]bool)
	for _, f := range am.LoadedFiles() {
		loaded[f] = true
	}

	home, _ := os.UserHomeDir()
	candidates := []string{"/etc/rw/am.toml", filepath.Join(home, ".rw", "am.toml")}
	for _, f := range am.LoadedFiles() {
		if f != candidates[0] && f != candidates[1] {
			candidates = append(candidates, f)
		}
	}

	rows := [][]string{{"Source", "Status"}, {"defaults", "built-in"}}
	for _, c := range candidates {
		status := "missing"
		if loaded[c] {
			status = "loaded"
		}
		rows = append(rows, []string{c, status})
	}
	rows = append(rows, []string{"RW_* environment", "applied last"})
	return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}

func runAmInit(cmd *cobra.Command, args []string) error {
	path := ""
	if len(args) == 1 {
		path = args[0]
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return errors.Wrap(err, "could not determine home directory")
		}
		path = filepath.Join(home, ".rw", "am.toml")
	}

	if err := am.Save(am.Defaults(), path); err != nil {
		return err
	}
	pterm.Success.Printfln("Wrote default configuration to %s", path)
	return nil
}
