// Package main provides the entry point for the sensoria CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/sensoria/cmd/sensoria/commands"
	"github.com/Sumatoshi-tech/sensoria/pkg/version"
)

func main() {
	version.InitBinaryVersion()

	rootCmd := &cobra.Command{
		Use:   "sensoria",
		Short: "Sensoria - adaptive telemetry fan-in/fan-out engine",
		Long: `Sensoria ingests sensor telemetry, throttles every stream by live viewer
attention and system load, and fans measurements out to subscribers, a
tiered store, and a replicator pool.

Commands:
  serve     Run the engine with diagnostics endpoints
  simulate  Drive fabricated sensors through an in-process engine
  render    Turn a recorded snapshot into HTML timeline pages
  mcp       Expose sensor state to AI agents over MCP stdio`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(commands.NewServeCommand())
	rootCmd.AddCommand(commands.NewSimulateCommand())
	rootCmd.AddCommand(commands.NewRenderCommand())
	rootCmd.AddCommand(commands.NewMCPCommand())
	rootCmd.AddCommand(versionCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(os.Stdout, "sensoria %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}
