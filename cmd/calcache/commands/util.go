package commands

import (
	"fmt"

	"github.com/marmos91/calcache/internal/logger"
	"github.com/marmos91/calcache/pkg/config"
)

// InitLogger initializes the structured logger from configuration.
func InitLogger(cfg *config.Config) error {
	loggerCfg := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}
	if err := logger.Init(loggerCfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// getConfigSource returns a description of where the config was loaded from.
func getConfigSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}

// loadConfig reads the config file when one was given or exists at the
// default location, and falls back to defaults plus environment otherwise.
func loadConfig() (*config.Config, error) {
	if cfgFile != "" {
		return config.MustLoad(cfgFile)
	}
	return config.Load("")
}
