// Package commands implements the sensoria CLI subcommands.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/Sumatoshi-tech/sensoria/internal/config"
	"github.com/Sumatoshi-tech/sensoria/internal/observability"
	"github.com/Sumatoshi-tech/sensoria/internal/simulator"
	"github.com/Sumatoshi-tech/sensoria/pkg/attention"
	"github.com/Sumatoshi-tech/sensoria/pkg/pubsub"
	"github.com/Sumatoshi-tech/sensoria/pkg/replicator"
	"github.com/Sumatoshi-tech/sensoria/pkg/sensor"
	"github.com/Sumatoshi-tech/sensoria/pkg/store"
	"github.com/Sumatoshi-tech/sensoria/pkg/sysload"
	"github.com/Sumatoshi-tech/sensoria/pkg/version"
)

// Flags shared across subcommands.
const (
	flagConfig        = "config"
	flagConfigShort   = "c"
	flagConfigUsage   = "config file path (default .sensoria.yaml in CWD or $HOME)"
	flagSimulate      = "simulate"
	flagSimulateUsage = "drive this many fabricated wearables in-process"
)

// Standard OTel exporter environment variables, honored when the config file
// leaves the endpoint empty.
const (
	envOTLPEndpoint = "OTEL_EXPORTER_OTLP_ENDPOINT"
	envOTLPHeaders  = "OTEL_EXPORTER_OTLP_HEADERS"
	envOTLPInsecure = "OTEL_EXPORTER_OTLP_INSECURE"
)

// engine bundles the running core components a command wires together:
// bus, load monitor, attention tracker, tiered store, replicator pool, and
// the sensor directory.
type engine struct {
	Bus       *pubsub.Bus
	Monitor   *sysload.Monitor
	Tracker   *attention.Tracker
	Store     *store.TieredStore
	Pool      *replicator.Pool
	Directory *sensor.Directory
}

// startEngine constructs and starts the core components in dependency order.
// Components run until ctx cancels or Close is called.
func startEngine(ctx context.Context, logger *slog.Logger, cfg *config.Config) (*engine, error) {
	bus := pubsub.New(pubsub.Options{
		Logger:     logger,
		BufferSize: cfg.PubSub.BufferSize,
	})

	monitor := sysload.NewMonitor(sysload.MonitorOptions{
		Logger:         logger,
		Bus:            bus,
		SampleInterval: cfg.Load.SampleInterval(),
	})
	monitor.Start(ctx)

	capLow, capCritical := cfg.Attention.BatteryCaps()

	tracker := attention.New(attention.Options{
		Logger:             logger,
		Bus:                bus,
		Load:               monitor,
		BatteryCapLow:      capLow,
		BatteryCapCritical: capCritical,
	})
	tracker.Start(ctx)

	st := store.New(store.Options{
		Logger:        logger,
		BaseHotLimit:  cfg.Store.HotLimit,
		BaseWarmLimit: cfg.Store.WarmLimit,
	})

	watchErr := st.Watch(ctx, bus)
	if watchErr != nil {
		tracker.Stop()
		monitor.Stop()
		bus.Close()

		return nil, fmt.Errorf("store load watch: %w", watchErr)
	}

	pool := replicator.New(replicator.Options{
		Logger:       logger,
		Bus:          bus,
		PoolSize:     cfg.Replicator.PoolSize,
		BatchSize:    cfg.Replicator.BatchSize,
		BatchTimeout: cfg.Replicator.BatchTimeout(),
	})
	pool.Start(ctx)

	dir, dirErr := sensor.NewDirectory(sensor.DirectoryOptions{
		Logger:             logger,
		Bus:                bus,
		Store:              st,
		Attention:          tracker,
		Replicator:         pool,
		HibernateAfter:     cfg.Sensor.HibernateAfter(),
		IdleCheckInterval:  cfg.Sensor.IdleCheckInterval(),
		PriorityAttributes: cfg.Sensor.PriorityAttributes,
		StateConcurrency:   cfg.Directory.StateConcurrency,
		StateTimeout:       cfg.Directory.StateTimeout(),
	})
	if dirErr != nil {
		pool.Stop()
		tracker.Stop()
		monitor.Stop()
		bus.Close()

		return nil, fmt.Errorf("start directory: %w", dirErr)
	}

	return &engine{
		Bus:       bus,
		Monitor:   monitor,
		Tracker:   tracker,
		Store:     st,
		Pool:      pool,
		Directory: dir,
	}, nil
}

// Close tears the engine down in reverse dependency order: intake first so
// final batches still flush, the bus last. ctx bounds the directory shutdown.
func (e *engine) Close(ctx context.Context) error {
	err := e.Directory.Shutdown(ctx)

	e.Pool.Stop()
	e.Tracker.Stop()
	e.Monitor.Stop()
	e.Bus.Close()

	return err
}

// startSimulatedFleet adds count fabricated wearables to the directory. They
// run until the directory shuts down.
func startSimulatedFleet(dir *sensor.Directory, logger *slog.Logger, count int) error {
	scn := simulator.DefaultScenario(count)

	configs, err := scn.Configs()
	if err != nil {
		return fmt.Errorf("simulated fleet: %w", err)
	}

	for _, c := range configs {
		_, addErr := dir.AddSensor(c)
		if addErr != nil {
			return fmt.Errorf("add simulated sensor %s: %w", c.SensorID, addErr)
		}
	}

	logger.Info("simulated fleet started", "sensors", len(configs))

	return nil
}

// observabilityConfig maps the file config onto the observability init
// config for one run mode, falling back to the standard OTel env vars when
// the file leaves the endpoint empty.
func observabilityConfig(obs config.ObservabilityConfig, mode observability.AppMode) observability.Config {
	cfg := observability.DefaultConfig()
	cfg.ServiceVersion = version.Version
	cfg.Mode = mode
	cfg.LogLevel = observability.ParseLogLevel(obs.LogLevel)
	cfg.LogJSON = obs.LogJSON

	cfg.OTLPEndpoint = obs.OTLPEndpoint
	if cfg.OTLPEndpoint == "" {
		cfg.OTLPEndpoint = os.Getenv(envOTLPEndpoint)
	}

	cfg.OTLPHeaders = observability.ParseOTLPHeaders(os.Getenv(envOTLPHeaders))
	cfg.OTLPInsecure = os.Getenv(envOTLPInsecure) == "true"

	return cfg
}

// shutdownProviders flushes pending telemetry at command exit.
func shutdownProviders(providers observability.Providers) {
	err := providers.Shutdown(context.Background())
	if err != nil {
		providers.Logger.Warn("observability shutdown failed", "error", err)
	}
}
