package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/sensoria/internal/config"
	"github.com/Sumatoshi-tech/sensoria/internal/mcp"
	"github.com/Sumatoshi-tech/sensoria/internal/observability"
)

const (
	flagDebug      = "debug"
	flagDebugUsage = "enable debug logging and span dumps"
)

// NewMCPCommand creates the mcp subcommand.
func NewMCPCommand() *cobra.Command {
	var (
		configPath string
		debug      bool
		simulated  int
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Run the engine behind an MCP server on stdio",
		Long: `Start the telemetry engine and expose it to MCP clients over stdio.
Tools cover sensor listing, state snapshots and backpressure suggestions.
Logs go to stderr as JSON so stdout stays a clean protocol stream.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMCP(cmd.Context(), configPath, debug, simulated)
		},
	}

	cmd.Flags().StringVarP(&configPath, flagConfig, flagConfigShort, "", flagConfigUsage)
	cmd.Flags().BoolVar(&debug, flagDebug, false, flagDebugUsage)
	cmd.Flags().IntVar(&simulated, flagSimulate, 0, flagSimulateUsage)

	return cmd
}

func runMCP(ctx context.Context, configPath string, debug bool, simulated int) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	obsCfg := observabilityConfig(cfg.Observability, observability.ModeMCP)
	// stdout carries the MCP protocol, so logs must be structured and on stderr.
	obsCfg.LogJSON = true

	if debug {
		obsCfg.LogLevel = slog.LevelDebug
		obsCfg.DebugTrace = true
	}

	providers, err := observability.Init(obsCfg)
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}
	defer shutdownProviders(providers)

	logger := providers.Logger

	red, err := observability.NewREDMetrics(providers.Meter)
	if err != nil {
		logger.Warn("red metrics disabled", "error", err)
	}

	eng, err := startEngine(ctx, logger, cfg)
	if err != nil {
		return err
	}

	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), engineShutdownTimeout)
		defer cancel()

		closeErr := eng.Close(closeCtx)
		if closeErr != nil {
			logger.Warn("engine shutdown", "error", closeErr)
		}
	}()

	if simulated > 0 {
		fleetErr := startSimulatedFleet(eng.Directory, logger, simulated)
		if fleetErr != nil {
			return fleetErr
		}
	}

	srv := mcp.NewServer(mcp.ServerDeps{
		Logger:    logger,
		Metrics:   red,
		Tracer:    providers.Tracer,
		States:    eng.Directory,
		Attention: eng.Tracker,
	})

	logger.Info("mcp server listening on stdio",
		"sensors", len(eng.Directory.ListSensors()),
		"shutdown_timeout", engineShutdownTimeout.Round(time.Second))

	return srv.Run(ctx)
}
