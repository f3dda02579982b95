package config

import (
	"strings"
	"time"

	"github.com/marmos91/calcache/pkg/api"
	"github.com/marmos91/calcache/pkg/cache"
	"github.com/marmos91/calcache/pkg/compute"
	"github.com/marmos91/calcache/pkg/events"
	"github.com/marmos91/calcache/pkg/manager"
	"github.com/marmos91/calcache/pkg/metrics"
	"github.com/marmos91/calcache/pkg/prefetch"
	"github.com/marmos91/calcache/pkg/schedule"
)

// DefaultShutdownTimeout bounds graceful shutdown when none is configured.
const DefaultShutdownTimeout = 30 * time.Second

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values that are never valid (0 workers, empty log level) are replaced
//   - Zero values that are meaningful (no timeout, no rate limit) are preserved
//   - Explicit values are preserved
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyShutdownTimeoutDefaults(cfg)
	applyMetricsDefaults(&cfg.Metrics)
	applyServerDefaults(&cfg.Server)
	applyEngineDefaults(&cfg.Engine)
	applyScheduleDefaults(&cfg.Schedule)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyTelemetryDefaults sets OpenTelemetry defaults.
func applyTelemetryDefaults(cfg *TelemetryConfig) {
	// Default endpoint is localhost:4317 (standard OTLP gRPC port)
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}

	// Default sample rate is 1.0 (sample all traces)
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}

	applyProfilingDefaults(&cfg.Profiling)
}

// applyProfilingDefaults sets Pyroscope profiling defaults.
func applyProfilingDefaults(cfg *ProfilingConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:4040"
	}

	if len(cfg.ProfileTypes) == 0 {
		cfg.ProfileTypes = []string{
			"cpu",
			"alloc_objects",
			"inuse_space",
			"goroutines",
		}
	}
}

// applyShutdownTimeoutDefaults sets shutdown timeout defaults.
func applyShutdownTimeoutDefaults(cfg *Config) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
}

// applyMetricsDefaults sets metrics defaults.
func applyMetricsDefaults(cfg *metrics.Config) {
	// Enabled defaults to false (opt-in for metrics)
	// Port defaults to 9090 if metrics are enabled
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = metrics.DefaultPort
	}
}

// applyServerDefaults sets HTTP API server defaults.
func applyServerDefaults(cfg *api.APIConfig) {
	cfg.ApplyDefaults()
}

// applyEngineDefaults fills in the engine knobs that have no valid zero value.
func applyEngineDefaults(cfg *manager.Config) {
	if cfg.Cache.MaxSize == 0 {
		cfg.Cache.MaxSize = cache.DefaultMaxSize
	}
	if cfg.Cache.DistanceWeight == 0 {
		cfg.Cache.DistanceWeight = cache.DefaultDistanceWeight
	}

	if cfg.Dispatcher.Workers == 0 {
		cfg.Dispatcher.Workers = compute.DefaultWorkers
	}
	if cfg.Dispatcher.QueueSize == 0 {
		cfg.Dispatcher.QueueSize = compute.DefaultQueueSize
	}

	if cfg.Prefetch.VelocityUnit == 0 {
		cfg.Prefetch.VelocityUnit = prefetch.DefaultVelocityUnit
	}

	if cfg.EventBuffer == 0 {
		cfg.EventBuffer = events.DefaultBufferSize
	}
}

// applyScheduleDefaults sets schedule source defaults.
func applyScheduleDefaults(cfg *schedule.Config) {
	if cfg.Debounce == 0 {
		cfg.Debounce = schedule.DefaultDebounce
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Registering viper defaults
//   - Testing
func GetDefaultConfig() *Config {
	cfg := &Config{
		Engine: manager.DefaultConfig(),
		Metrics: metrics.Config{
			Port: metrics.DefaultPort,
		},
		Telemetry: TelemetryConfig{
			Insecure: true,
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
