// Command parkd serves the parking location service and offers a few
// maintenance commands against the configured store.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/parkspot/tracker/internal/config"
)

// module defs - set at build time via ldflags
var (
	Version   string = "0.0.1"
	BuildDate string = "unknown"

	ServiceName string = "parkd"
)

// SessionStartTime names the log file of this run.
var SessionStartTime time.Time = time.Now()

var rootCmd = &cobra.Command{
	Use:               "parkd",
	DisableAutoGenTag: true,
	Short:             "Offline-first parking location and reminder service",
	Long: `parkd keeps track of where you parked, reminds you before a parking
timer runs out and fills in street addresses once the network is back.

Without a subcommand parkd starts the server.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
	RunE:              runServe,
}

func newRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().String("config-dir", ".", "Directory holding "+config.ConfigFileName+" and .env")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	if err := viper.BindPFlag("logLevel", rootCmd.PersistentFlags().Lookup("log-level")); err != nil {
		slog.Error("Error binding log-level flag", "error", err)
	}

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(versionCmd)
	return rootCmd
}

// loadConfig reads .env and the JSON config. A missing config file leaves
// the defaults in place.
func loadConfig(cmd *cobra.Command, _ []string) error {
	dir, err := cmd.Flags().GetString("config-dir")
	if err != nil {
		return err
	}
	if err := config.LoadEnv(dir); err != nil {
		return err
	}
	if err := config.Load(dir); err != nil {
		slog.Warn("Failed to load config, using defaults!", "error", err)
	}
	return nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s (built %s)\n", ServiceName, Version, BuildDate)
	},
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
