// Command tuhid is the Tuhi daemon: it owns the BLE transport, the device
// registry, and the session supervisor, and exposes them on the D-Bus
// session bus for the lifetime of one process (spec.md §1, §5).
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var configPath string

// rootCmd mirrors the teacher's single-binary-multiple-subcommands shape
// (cmd/blim/main.go), trimmed to the one daemon entry point plus one
// inspection helper (list).
var rootCmd = &cobra.Command{
	Use:     "tuhid",
	Short:   "Session-scoped daemon for Wacom SmartPad ink capture",
	Version: version,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config.yaml (default: $XDG_CONFIG_HOME/tuhi/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level override (debug, info, warn, error)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(listCmd)
}
