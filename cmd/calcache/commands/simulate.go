package commands

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/calcache/internal/cli/output"
	"github.com/marmos91/calcache/pkg/apiclient"
	"github.com/marmos91/calcache/pkg/calendar"
	"github.com/marmos91/calcache/pkg/manager"
	"github.com/marmos91/calcache/pkg/schedule"
)

var (
	simStart     string
	simDirection string
	simVelocity  int
	simSteps     int
	simInterval  time.Duration
	simLatency   time.Duration
	simOutput    string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a scripted scroll session against an in-process engine",
	Long: `Scroll through the calendar with a fixed direction and velocity and report,
for every step, whether the month was already prefetched and how long the
view waited for it. Engine and schedule settings come from the configuration.

Examples:
  # Scroll forward one month at a time for a year
  calcache simulate --steps 12

  # Fling backward three months per step with slow computations
  calcache simulate --direction backward --velocity 3 --latency 200ms

  # Machine readable report
  calcache simulate -o json`,
	RunE: runSimulate,
}

func init() {
	simulateCmd.Flags().StringVar(&simStart, "start", "", "First month shown, YYYY-MM (default: current month)")
	simulateCmd.Flags().StringVar(&simDirection, "direction", "forward", "Scroll direction (forward|backward|none)")
	simulateCmd.Flags().IntVar(&simVelocity, "velocity", 1, "Months moved per step")
	simulateCmd.Flags().IntVar(&simSteps, "steps", 12, "Number of scroll steps")
	simulateCmd.Flags().DurationVar(&simInterval, "interval", 100*time.Millisecond, "Pause between steps")
	simulateCmd.Flags().DurationVar(&simLatency, "latency", 0, "Simulated computation latency per month (overrides schedule.latency)")
	simulateCmd.Flags().StringVarP(&simOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

// scenario describes a scripted scroll session.
type scenario struct {
	Start     calendar.MonthKey
	Direction calendar.Direction
	Velocity  int
	Steps     int
	Interval  time.Duration
}

// simulationStep is the outcome of one scroll step.
type simulationStep struct {
	Step       int                `json:"step" yaml:"step"`
	Month      string             `json:"month" yaml:"month"`
	Prefetched bool               `json:"prefetched" yaml:"prefetched"`
	Wait       time.Duration      `json:"wait_ns" yaml:"wait"`
	Targets    int                `json:"targets" yaml:"targets"`
	State      calendar.DataState `json:"state" yaml:"state"`
	Error      string             `json:"error,omitempty" yaml:"error,omitempty"`
}

// simulationReport is printed as JSON or YAML.
type simulationReport struct {
	Steps []simulationStep `json:"steps" yaml:"steps"`
	Stats apiclient.Stats  `json:"stats" yaml:"stats"`
}

func runSimulate(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(simOutput)
	if err != nil {
		return err
	}

	sc, err := parseScenario(time.Now())
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// Keep stdout for the report.
	if strings.EqualFold(cfg.Logging.Output, "stdout") {
		cfg.Logging.Output = "stderr"
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}

	if cmd.Flags().Changed("latency") {
		cfg.Schedule.Latency = simLatency
	}
	source, err := schedule.NewSource(cfg.Schedule)
	if err != nil {
		return fmt.Errorf("failed to load schedule: %w", err)
	}

	engine, err := manager.New(source.Compute, cfg.Engine)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}
	engine.Start(context.Background())
	defer func() { _ = engine.Shutdown(cfg.ShutdownTimeout) }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	steps, err := runScenario(ctx, engine, sc)
	if err != nil {
		return err
	}

	report := simulationReport{Steps: steps, Stats: engineStats(engine)}

	p := output.NewPrinter(cmd.OutOrStdout(), format, false)
	if format != output.FormatTable {
		return p.Print(report)
	}
	if err := p.Print(stepsTable(steps)); err != nil {
		return err
	}
	p.Printf("\n")
	return p.Print(statsTable{stats: report.Stats})
}

func parseScenario(now time.Time) (scenario, error) {
	sc := scenario{
		Start:    calendar.MonthKeyOf(now),
		Velocity: simVelocity,
		Steps:    simSteps,
		Interval: simInterval,
	}
	if simStart != "" {
		key, err := calendar.ParseMonthKey(simStart)
		if err != nil {
			return sc, err
		}
		sc.Start = key
	}
	dir, err := calendar.ParseDirection(simDirection)
	if err != nil {
		return sc, err
	}
	sc.Direction = dir
	if sc.Steps < 1 {
		return sc, errors.New("steps must be at least 1")
	}
	if sc.Velocity < 0 {
		return sc, errors.New("velocity must not be negative")
	}
	return sc, nil
}

// runScenario reports each step's viewport to the engine and waits for the
// center month the way a UI would before painting it.
func runScenario(ctx context.Context, engine *manager.Manager, sc scenario) ([]simulationStep, error) {
	steps := make([]simulationStep, 0, sc.Steps)
	center := sc.Start

	for i := 0; i < sc.Steps; i++ {
		if i > 0 {
			center = center.Add(sc.Direction.Step() * sc.Velocity)
			if err := sleepCtx(ctx, sc.Interval); err != nil {
				return steps, err
			}
		}

		cached, ok := engine.Peek(center)
		prefetched := ok && cached.State == calendar.StateLoaded

		plan := engine.OnViewportChanged(ctx, calendar.ViewportState{
			Center:    center,
			Direction: sc.Direction,
			Velocity:  sc.Velocity,
		})

		began := time.Now()
		block, err := engine.GetMonth(ctx, center)
		step := simulationStep{
			Step:       i + 1,
			Month:      center.String(),
			Prefetched: prefetched,
			Wait:       time.Since(began),
			Targets:    len(plan.Prefetch),
			State:      block.State,
		}
		if err != nil {
			if ctx.Err() != nil {
				return steps, ctx.Err()
			}
			step.State = calendar.StateError
			step.Error = err.Error()
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func engineStats(engine *manager.Manager) apiclient.Stats {
	cacheStats := engine.StatisticsSnapshot()
	stats := apiclient.Stats{
		Cache:         cacheStats,
		HitRate:       cacheStats.HitRate(),
		Dispatcher:    engine.DispatcherStats(),
		EventsDropped: engine.EventsDropped(),
	}
	if vp, ok := engine.Viewport(); ok {
		stats.Viewport = &vp
	}
	return stats
}

func stepsTable(steps []simulationStep) *output.TableData {
	table := output.NewTableData("Step", "Month", "Prefetched", "Wait", "Targets", "State")
	for _, s := range steps {
		state := s.State.String()
		if s.Error != "" {
			state += ": " + s.Error
		}
		table.AddRow(
			strconv.Itoa(s.Step),
			s.Month,
			strconv.FormatBool(s.Prefetched),
			s.Wait.Round(time.Microsecond).String(),
			strconv.Itoa(s.Targets),
			state,
		)
	}
	return table
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
