// Package commands implements the calcache command line.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/calcache/cmd/calcache/commands/config"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "calcache",
	Short: "calcache - predictive calendar month cache",
	Long: `calcache keeps a bounded window of computed calendar months around the
month a user is looking at, computes missing months on a worker pool and
prefetches ahead of the scroll direction.

Use "calcache [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. It is called by main.main().
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/calcache/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(invalidateCmd)
	rootCmd.AddCommand(config.Cmd)
	rootCmd.AddCommand(completionCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// GetConfigFile returns the config file path from the global flag.
func GetConfigFile() string {
	return cfgFile
}
