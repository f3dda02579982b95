package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/marmos91/calcache/internal/telemetry"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks the configuration.
//
// Struct tags are checked first (ranges, enums, required fields), then the
// cross-field rules no tag can express:
//   - the engine configuration can guarantee the cache bound
//   - enabled exporters have an endpoint
//   - the API and metrics servers do not share a port
//   - the month wait cap stays below the API write timeout
func Validate(cfg *Config) error {
	if err := structValidator().Struct(cfg); err != nil {
		var invalid *validator.InvalidValidationError
		if errors.As(err, &invalid) {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		return err
	}

	if err := cfg.Engine.Validate(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	if cfg.Telemetry.Enabled && cfg.Telemetry.Endpoint == "" {
		return errors.New("telemetry: endpoint is required when telemetry is enabled")
	}
	if cfg.Telemetry.Profiling.Enabled {
		if cfg.Telemetry.Profiling.Endpoint == "" {
			return errors.New("telemetry.profiling: endpoint is required when profiling is enabled")
		}
		if err := telemetry.ValidateProfileTypes(cfg.Telemetry.Profiling.ProfileTypes); err != nil {
			return fmt.Errorf("telemetry.profiling: %w", err)
		}
	}

	if cfg.Server.IsEnabled() && cfg.Metrics.Enabled && cfg.Server.Port == cfg.Metrics.Port {
		return fmt.Errorf("server and metrics cannot share port %d", cfg.Server.Port)
	}

	if cfg.Server.WriteTimeout > 0 && cfg.Server.MaxWait >= cfg.Server.WriteTimeout {
		return fmt.Errorf("server: max_wait (%s) must be below write_timeout (%s)",
			cfg.Server.MaxWait, cfg.Server.WriteTimeout)
	}

	return nil
}
