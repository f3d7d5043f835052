package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ringsync",
		Short: "Sync biometric samples from EZ Ring wearables",
		Long: `Bluetooth Low Energy sync tool for EZ Ring wearables:

- Scan for nearby rings and pick one automatically by name
- Connect, read one biometric sample and store it locally
- Browse stored samples (latest, list, range) and purge them
- Optionally publish every synced sample to an MQTT broker

Settings are read from ~/.config/ringsync/config.yaml when present.`,
		Version: fmt.Sprintf("%s (commit %s, built %s)", formatVersion(version), commit, date),
	}

	// Silence Cobra's "Error:" prefix - main() prints clean errors
	cmd.SilenceErrors = true

	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newScanCmd())
	cmd.AddCommand(newLatestCmd())
	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newRangeCmd())
	cmd.AddCommand(newPurgeCmd())

	// Global flags
	flags := cmd.PersistentFlags()
	flags.String("config", "", "Config file (default ~/.config/ringsync/config.yaml)")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.Bool("verbose", false, "Enable debug logging")
	flags.String("store", "", "Sample store driver (sqlite, memory)")
	flags.String("db", "", "SQLite database path")

	// Add -v as a short flag for --version
	cmd.Flags().BoolP("version", "v", false, "Show version information")
	return cmd
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}
