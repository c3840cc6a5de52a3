package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/sensoria/internal/config"
	"github.com/Sumatoshi-tech/sensoria/internal/observability"
	"github.com/Sumatoshi-tech/sensoria/internal/simulator"
	"github.com/Sumatoshi-tech/sensoria/pkg/store"
)

const (
	flagScenario      = "scenario"
	flagScenarioUsage = "scenario YAML file (default: built-in wearable fleet)"
	flagSensors       = "sensors"
	flagSensorsUsage  = "fleet size for the built-in scenario"
	flagDuration      = "duration"
	flagDurationUsage = "how long to drive the fleet"
	flagSeed          = "seed"
	flagSeedUsage     = "override the scenario random seed (0 keeps it)"
	flagSnapshot      = "snapshot"
	flagSnapshotShort = "o"
	flagSnapshotUsage = "write the recorded store snapshot to this file after the run"

	defaultSimSensors  = 3
	defaultSimDuration = 30 * time.Second

	snapshotFilePerm = 0o600
)

type simulateOptions struct {
	configPath   string
	scenarioPath string
	sensors      int
	duration     time.Duration
	seed         int64
	snapshotPath string
}

// NewSimulateCommand creates the simulate subcommand.
func NewSimulateCommand() *cobra.Command {
	var opts simulateOptions

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Drive fabricated sensors through an in-process engine",
		Long: `Start a full in-process engine, drive a fleet of fabricated sensors
through it for a fixed duration, and print what reached the bus.

The built-in scenario simulates wearables: sinusoidal heart rate, a
geolocation walk, battery drain, and button presses. A scenario file
replaces it. With --snapshot, the recorded measurements are written out
for "sensoria render".`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cobraCmd *cobra.Command, _ []string) error {
			return runSimulate(cobraCmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, flagConfig, flagConfigShort, "", flagConfigUsage)
	cmd.Flags().StringVar(&opts.scenarioPath, flagScenario, "", flagScenarioUsage)
	cmd.Flags().IntVar(&opts.sensors, flagSensors, defaultSimSensors, flagSensorsUsage)
	cmd.Flags().DurationVar(&opts.duration, flagDuration, defaultSimDuration, flagDurationUsage)
	cmd.Flags().Int64Var(&opts.seed, flagSeed, 0, flagSeedUsage)
	cmd.Flags().StringVarP(&opts.snapshotPath, flagSnapshot, flagSnapshotShort, "", flagSnapshotUsage)

	return cmd
}

func runSimulate(ctx context.Context, opts simulateOptions) error {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return err
	}

	providers, err := observability.Init(observabilityConfig(cfg.Observability, observability.ModeSimulate))
	if err != nil {
		return err
	}
	defer shutdownProviders(providers)

	logger := providers.Logger

	simMetrics, metricsErr := observability.NewSimulationMetrics(providers.Meter)
	if metricsErr != nil {
		logger.Warn("simulation metrics disabled", "error", metricsErr)
	}

	scn, err := loadScenario(opts)
	if err != nil {
		return err
	}

	eng, err := startEngine(ctx, logger, cfg)
	if err != nil {
		return err
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), engineShutdownTimeout)
		defer cancel()

		closeErr := eng.Close(shutdownCtx)
		if closeErr != nil {
			logger.Warn("engine shutdown incomplete", "error", closeErr)
		}
	}()

	runner := simulator.NewRunner(simulator.RunnerOptions{
		Logger:    logger,
		Bus:       eng.Bus,
		Directory: eng.Directory,
		Attention: eng.Tracker,
		OnTick: func(s simulator.Stats) {
			printTick(os.Stderr, s)
		},
	})

	stats, err := runner.Run(ctx, scn, opts.duration)
	if err != nil {
		return err
	}

	fmt.Fprintln(os.Stderr)

	simMetrics.RecordRun(ctx, observability.SimulationStats{
		Elapsed:            stats.Elapsed,
		MeasurementsByType: stats.MeasurementsByType,
		SensorsByType:      stats.SensorsByType,
	})

	printSummary(os.Stdout, scn.Name, stats)

	if opts.snapshotPath != "" {
		snapErr := writeStoreSnapshot(eng.Store, opts.snapshotPath)
		if snapErr != nil {
			return snapErr
		}
	}

	return nil
}

// loadScenario resolves the scenario to drive: the file when given, the
// built-in wearable fleet otherwise. A nonzero seed flag overrides either.
func loadScenario(opts simulateOptions) (*simulator.Scenario, error) {
	scn := simulator.DefaultScenario(opts.sensors)

	if opts.scenarioPath != "" {
		loaded, err := simulator.LoadScenario(opts.scenarioPath)
		if err != nil {
			return nil, err
		}

		scn = loaded
	}

	if opts.seed != 0 {
		scn.Seed = opts.seed
	}

	return scn, nil
}

// printTick rewrites the in-flight status line once per second.
func printTick(w io.Writer, s simulator.Stats) {
	fmt.Fprintf(w, "\r%s %s elapsed, %s measurements, %.1f/s",
		color.CyanString("simulating:"),
		s.Elapsed.Round(time.Second),
		humanize.Comma(s.Measurements),
		s.Rate())
}

// printSummary renders the per-type run totals as a table.
func printSummary(w io.Writer, scenario string, stats simulator.Stats) {
	types := make([]string, 0, len(stats.SensorsByType))
	for sensorType := range stats.SensorsByType {
		types = append(types, sensorType)
	}

	sort.Strings(types)

	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.SetStyle(table.StyleLight)
	tbl.Style().Options.SeparateRows = false
	tbl.Style().Options.SeparateColumns = false
	tbl.Style().Options.DrawBorder = false

	tbl.AppendHeader(table.Row{"SENSOR TYPE", "SENSORS", "MEASUREMENTS"})

	for _, sensorType := range types {
		tbl.AppendRow(table.Row{
			sensorType,
			stats.SensorsByType[sensorType],
			humanize.Comma(stats.MeasurementsByType[sensorType]),
		})
	}

	tbl.AppendFooter(table.Row{"TOTAL", stats.Sensors, humanize.Comma(stats.Measurements)})

	fmt.Fprintf(w, "scenario %q finished in %s (%.1f measurements/s)\n",
		scenario, stats.Elapsed.Round(time.Millisecond), stats.Rate())
	tbl.Render()

	if stats.Dropped > 0 {
		color.New(color.FgYellow).Fprintf(w, "%s measurements dropped under backpressure\n",
			humanize.Comma(stats.Dropped))
	}
}

// writeStoreSnapshot persists the recorded measurements for later rendering.
func writeStoreSnapshot(st *store.TieredStore, path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, snapshotFilePerm) //nolint:gosec // operator-supplied output path
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}

	writeErr := st.WriteSnapshot(f)
	closeErr := f.Close()

	if writeErr != nil {
		return fmt.Errorf("write snapshot: %w", writeErr)
	}

	if closeErr != nil {
		return fmt.Errorf("close snapshot: %w", closeErr)
	}

	info, statErr := os.Stat(path)
	if statErr == nil {
		color.New(color.FgGreen).Fprintf(os.Stdout, "snapshot written to %s (%s)\n",
			path, humanize.IBytes(uint64(info.Size()))) //nolint:gosec // file sizes are non-negative
	}

	return nil
}
