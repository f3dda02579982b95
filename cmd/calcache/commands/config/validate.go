package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/calcache/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the calcache configuration file.

Checks for syntax errors, invalid values and inconsistent engine settings.

Examples:
  # Validate default config
  calcache config validate

  # Validate specific config file
  calcache config validate --config /etc/calcache/config.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	path := configPath(cmd)

	cfg, err := config.MustLoad(path)
	if err != nil {
		return err
	}

	if path == "" {
		path = config.GetDefaultConfigPath()
	}

	var warnings []string
	if cfg.Schedule.Watch && cfg.Schedule.Path == "" {
		warnings = append(warnings, "schedule.watch is set but schedule.path is empty; nothing will be watched")
	}
	if !cfg.Server.IsEnabled() && !cfg.Metrics.Enabled {
		warnings = append(warnings, "HTTP API and metrics are both disabled; the server has no external surface")
	}
	if window := 1 + max(cfg.Engine.Prefetch.MaxPrefetch, 2*cfg.Engine.Prefetch.IdleRadius); cfg.Engine.Cache.MaxSize < window {
		warnings = append(warnings, fmt.Sprintf("cache.max_size %d cannot hold a full prefetch window of %d months",
			cfg.Engine.Cache.MaxSize, window))
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file: %s\n", path)
	_, _ = fmt.Fprintln(out, "Validation: OK")

	if len(warnings) > 0 {
		_, _ = fmt.Fprintln(out, "\nWarnings:")
		for _, w := range warnings {
			_, _ = fmt.Fprintf(out, "  - %s\n", w)
		}
	}

	_, _ = fmt.Fprintf(out, "\nConfiguration summary:\n")
	_, _ = fmt.Fprintf(out, "  Cache size:      %d months\n", cfg.Engine.Cache.MaxSize)
	_, _ = fmt.Fprintf(out, "  Workers:         %d\n", cfg.Engine.Dispatcher.Workers)
	_, _ = fmt.Fprintf(out, "  API port:        %d\n", cfg.Server.Port)
	_, _ = fmt.Fprintf(out, "  Log level:       %s\n", cfg.Logging.Level)

	return nil
}
