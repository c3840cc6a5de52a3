package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/Sumatoshi-tech/sensoria/internal/config"
	"github.com/Sumatoshi-tech/sensoria/internal/observability"
	"github.com/Sumatoshi-tech/sensoria/pkg/sysload"
)

const (
	// engineShutdownTimeout bounds the directory teardown at exit.
	engineShutdownTimeout = 10 * time.Second

	// staleSampleFactor times the sample interval is how old the last load
	// sample may be before /readyz reports the engine not ready.
	staleSampleFactor = 5

	runtimeMeterName = "sensoria/runtime"
)

// errLoadSamplerStalled gates /readyz when the load monitor stops sampling.
var errLoadSamplerStalled = errors.New("load sampler stalled")

// NewServeCommand creates the serve subcommand.
func NewServeCommand() *cobra.Command {
	var (
		configPath    string
		simulateCount int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sensoria engine",
		Long: `Run the full engine: pubsub bus, load monitor, attention tracker, tiered
store, replicator pool, sensor directory, and the diagnostics HTTP
endpoints (/healthz, /readyz, /metrics).

Without an OTLP endpoint configured, metrics are served on /metrics in
Prometheus format. With --simulate N, the engine drives N fabricated
wearables so the fan-out path carries traffic out of the box.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cobraCmd *cobra.Command, _ []string) error {
			return runServe(cobraCmd.Context(), configPath, simulateCount)
		},
	}

	cmd.Flags().StringVarP(&configPath, flagConfig, flagConfigShort, "", flagConfigUsage)
	cmd.Flags().IntVar(&simulateCount, flagSimulate, 0, flagSimulateUsage)

	return cmd
}

func runServe(ctx context.Context, configPath string, simulateCount int) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	obsCfg := observabilityConfig(cfg.Observability, observability.ModeServe)

	providers, err := observability.Init(obsCfg)
	if err != nil {
		return err
	}
	defer shutdownProviders(providers)

	logger := providers.Logger

	// Without a collector to push to, expose every instrument on /metrics
	// through a Prometheus-backed global meter provider instead.
	var metricsHandler http.Handler

	if obsCfg.OTLPEndpoint == "" {
		handler, mp, promErr := observability.PrometheusProvider()
		if promErr != nil {
			return promErr
		}

		otel.SetMeterProvider(mp)

		metricsHandler = handler

		defer func() {
			mpErr := mp.Shutdown(context.Background())
			if mpErr != nil {
				logger.Warn("prometheus provider shutdown failed", "error", mpErr)
			}
		}()
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

	diag, err := observability.NewDiagnosticsServer(cfg.Serve.Listen, observability.DiagnosticsOptions{
		Meter:   otel.Meter(runtimeMeterName),
		Tracer:  providers.Tracer,
		Logger:  logger,
		Metrics: metricsHandler,
		Ready:   []observability.ReadyCheck{readyCheck(eng.Monitor, cfg.Load.SampleInterval())},
	})
	if err != nil {
		return err
	}

	defer func() {
		closeErr := diag.Close()
		if closeErr != nil {
			logger.Warn("diagnostics close failed", "error", closeErr)
		}
	}()

	if simulateCount > 0 {
		fleetErr := startSimulatedFleet(eng.Directory, logger, simulateCount)
		if fleetErr != nil {
			return fleetErr
		}
	}

	watchConfig(configPath, logger)

	logger.Info("engine up", "listen", diag.Addr(), "simulated_sensors", simulateCount)
	color.New(color.FgGreen).Fprintf(os.Stdout, "sensoria up, diagnostics on %s\n", diag.Addr())

	<-ctx.Done()

	logger.Info("shutdown signal received")

	return nil
}

// watchConfig follows the config file so operators get told when an edit
// lands. Engine knobs bind at startup; a reload just reports that a restart
// is needed.
func watchConfig(configPath string, logger *slog.Logger) {
	err := config.Watch(configPath, logger, func(next *config.Config) {
		logger.Info("config file changed, restart to apply",
			"serve_listen", next.Serve.Listen,
			"store_hot_limit", next.Store.HotLimit,
			"replicator_pool_size", next.Replicator.PoolSize)
	})
	if err != nil {
		if errors.Is(err, config.ErrNoConfigFile) {
			logger.Debug("no config file to watch")

			return
		}

		logger.Warn("config watch disabled", "error", err)
	}
}

// readyCheck reports readiness from the load monitor heartbeat. A monitor
// that stopped sampling means the adaptive machinery is dead and the
// instance should be pulled from rotation.
func readyCheck(monitor *sysload.Monitor, interval time.Duration) observability.ReadyCheck {
	return func(context.Context) error {
		snap := monitor.Current()

		age := time.Since(snap.SampledAt)
		if age > staleSampleFactor*interval {
			return fmt.Errorf("%w: last sample %s ago", errLoadSamplerStalled, age.Round(time.Millisecond))
		}

		return nil
	}
}
