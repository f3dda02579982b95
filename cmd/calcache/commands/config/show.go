package config

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/calcache/internal/cli/output"
	"github.com/marmos91/calcache/pkg/config"
)

var showOutput string

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the effective configuration",
	Long: `Display the configuration calcache would run with: the file, if any,
merged with CALCACHE_* environment variables and defaults.

Examples:
  # Show as YAML
  calcache config show

  # Show as JSON
  calcache config show --output json`,
	RunE: runConfigShow,
}

func init() {
	showCmd.Flags().StringVarP(&showOutput, "output", "o", "yaml", "Output format (yaml|json)")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(showOutput)
	if err != nil {
		return err
	}

	cfg, err := config.Load(configPath(cmd))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if format == output.FormatJSON {
		return output.PrintJSON(out, cfg)
	}

	data, err := config.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = out.Write(data)
	return err
}
