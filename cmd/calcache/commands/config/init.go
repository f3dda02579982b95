package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/calcache/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a configuration file",
	Long: `Write a configuration file holding every default value.

By default, the file is created at $XDG_CONFIG_HOME/calcache/config.yaml.
Use --config to specify a custom path.

Examples:
  # Initialize with default location
  calcache config init

  # Initialize with custom path
  calcache config init --config /etc/calcache/config.yaml

  # Force overwrite existing config
  calcache config init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	path := configPath(cmd)

	var err error
	if path != "" {
		err = config.InitConfigToPath(path, initForce)
	} else {
		path, err = config.InitConfig(initForce)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file created at: %s\n", path)
	_, _ = fmt.Fprintln(out, "\nNext steps:")
	_, _ = fmt.Fprintln(out, "  1. Point schedule.path at your roster file, or keep the built-in one")
	_, _ = fmt.Fprintln(out, "  2. Start the server with: calcache start")
	_, _ = fmt.Fprintf(out, "  3. Or specify custom config: calcache start --config %s\n", path)
	return nil
}
