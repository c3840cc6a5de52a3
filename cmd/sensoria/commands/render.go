package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/sensoria/internal/render"
	"github.com/Sumatoshi-tech/sensoria/pkg/store"
)

const (
	renderCmdUse      = "render <snapshot-file>"
	renderCmdShort    = "Turn a recorded snapshot into HTML timeline pages"
	renderArgCount    = 1
	flagOutput        = "output"
	flagOutputShort   = "o"
	flagOutputUsage   = "output directory for HTML files"
	flagTitle         = "title"
	flagTitleUsage    = "page title"
	flagLimit         = "limit"
	flagLimitUsage    = "measurements charted per attribute"
	defaultPageTitle  = "Sensoria Telemetry"
	defaultPointLimit = render.DefaultLimit
)

// ErrNoOutputDir is returned when the --output flag is not set.
var ErrNoOutputDir = errors.New("output directory is required (use --output)")

// NewRenderCommand creates the render subcommand.
func NewRenderCommand() *cobra.Command {
	var (
		outputDir string
		title     string
		limit     int
	)

	cmd := &cobra.Command{
		Use:   renderCmdUse,
		Short: renderCmdShort,
		Long: `Read a store snapshot recorded by "sensoria simulate --snapshot" and
write one HTML timeline page per sensor plus an index overview.`,
		Args:          cobra.ExactArgs(renderArgCount),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, args []string) error {
			if outputDir == "" {
				return ErrNoOutputDir
			}

			return runRender(args[0], outputDir, title, limit)
		},
	}

	cmd.Flags().StringVarP(&outputDir, flagOutput, flagOutputShort, "", flagOutputUsage)
	cmd.Flags().StringVar(&title, flagTitle, defaultPageTitle, flagTitleUsage)
	cmd.Flags().IntVar(&limit, flagLimit, defaultPointLimit, flagLimitUsage)

	return cmd
}

func runRender(snapshotPath, outputDir, title string, limit int) error {
	f, err := os.Open(snapshotPath) //nolint:gosec // operator-supplied snapshot path
	if err != nil {
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	st := store.New(store.Options{})

	loadErr := st.LoadSnapshot(f)
	if loadErr != nil {
		return loadErr
	}

	renderer := render.New(render.Options{
		Logger:    slog.Default(),
		OutputDir: outputDir,
		Title:     title,
		Limit:     limit,
	})

	pages, err := renderer.RenderStore(st)
	if err != nil {
		return err
	}

	printPages(pages)

	color.New(color.FgGreen).Fprintf(os.Stdout, "rendered %d sensor pages to %s\n", len(pages), outputDir)

	return nil
}

func printPages(pages []render.Page) {
	tbl := table.NewWriter()
	tbl.SetOutputMirror(os.Stdout)
	tbl.SetStyle(table.StyleLight)
	tbl.Style().Options.SeparateRows = false
	tbl.Style().Options.SeparateColumns = false
	tbl.Style().Options.DrawBorder = false

	tbl.AppendHeader(table.Row{"SENSOR", "CHARTS", "MEASUREMENTS", "FILE"})

	for _, p := range pages {
		tbl.AppendRow(table.Row{p.SensorID, p.Charts, p.Measurements, p.Path})
	}

	tbl.Render()
}
