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
var rootCmd = &cobra.Command{
	Use:   "pawsd",
	Short: "BLE display peripheral",
	Long: `Turns the local machine into a BLE GATT peripheral that drives displays:

- Receives chunked frames on a stream characteristic and shows the latest one
- Splits each frame across the configured interfaces (framebuffer, terminal, OPC or serial LED strips)
- Answers control commands addressed to scenes and notifies the results

The chunk and envelope commands produce the same bytes a central writes, for testing.`,
	Version: fmt.Sprintf("%s (commit %s, built %s)", formatVersion(version), commit, date),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	// main() prints errors itself
	rootCmd.SilenceErrors = true

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(chunkCmd)
	rootCmd.AddCommand(envelopeCmd)
	rootCmd.AddCommand(interfacesCmd)

	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("verbose", false, "Shorthand for --log-level=debug")

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}
