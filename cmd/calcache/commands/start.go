package commands

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/marmos91/calcache/internal/logger"
	"github.com/marmos91/calcache/internal/telemetry"
	"github.com/marmos91/calcache/pkg/api"
	"github.com/marmos91/calcache/pkg/manager"
	"github.com/marmos91/calcache/pkg/metrics"
	"github.com/marmos91/calcache/pkg/schedule"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the calcache server",
	Long: `Start the calendar engine and its diagnostics HTTP API in the foreground.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/calcache/config.yaml when present.

Examples:
  # Start with defaults
  calcache start

  # Start with custom config file
  calcache start --config /etc/calcache/config.yaml

  # Start with environment variable overrides
  CALCACHE_LOGGING_LEVEL=DEBUG CALCACHE_ENGINE_CACHE_MAX_SIZE=48 calcache start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "calcache",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(context.Background()); err != nil {
			logger.Error("telemetry shutdown error", logger.KeyError, err)
		}
	}()

	profilingShutdown, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "calcache",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", logger.KeyError, err)
		}
	}()

	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", getConfigSource(cfgFile))
	if telemetry.IsEnabled() {
		logger.Info("Telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	}
	if cfg.Telemetry.Profiling.Enabled {
		logger.Info("Profiling enabled", "endpoint", cfg.Telemetry.Profiling.Endpoint)
	}

	source, err := schedule.NewSource(cfg.Schedule)
	if err != nil {
		return fmt.Errorf("failed to load schedule: %w", err)
	}

	var (
		opts     []manager.Option
		m        *metrics.Metrics
		registry *prometheus.Registry
	)
	if cfg.Metrics.Enabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		m = metrics.NewMetrics(registry)
		opts = append(opts, manager.WithMetrics(m))
	} else {
		logger.Info("Metrics collection disabled")
	}

	engine, err := manager.New(source.Compute, cfg.Engine, opts...)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}
	if registry != nil {
		registry.MustRegister(metrics.NewStatsCollector(engine))
	}

	// Workers outlive the signal context; Shutdown stops them.
	engine.Start(context.Background())
	defer func() {
		if err := engine.Shutdown(cfg.ShutdownTimeout); err != nil {
			logger.Error("Engine shutdown error", logger.KeyError, err)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Server.IsEnabled() {
		server := api.NewServer(cfg.Server, engine, m)
		g.Go(func() error { return server.Start(gctx) })
	} else {
		logger.Info("API server disabled")
	}

	if registry != nil {
		metricsServer := metrics.NewServer(cfg.Metrics, registry)
		g.Go(func() error { return metricsServer.Start(gctx) })
	}

	if cfg.Schedule.Watch {
		g.Go(func() error {
			err := source.Watch(gctx, func() { refreshAfterReload(gctx, engine) })
			if errors.Is(err, schedule.ErrNoPath) {
				logger.Warn("Schedule watch requested without a schedule file")
				return nil
			}
			return err
		})
	}

	logger.Info("Server is running. Press Ctrl+C to stop.")

	if err := g.Wait(); err != nil {
		logger.Error("Server error", logger.KeyError, err)
		return err
	}
	logger.Info("Server stopped gracefully")
	return nil
}

// refreshAfterReload marks every cached month out of date and recomputes the
// current window from the new schedule.
func refreshAfterReload(ctx context.Context, engine *manager.Manager) {
	changes := engine.InvalidateAll(ctx)
	_, refreshed := engine.Refresh(ctx)
	logger.Info("Schedule changed, cache invalidated",
		"months", len(changes),
		"refreshed", refreshed)
}
