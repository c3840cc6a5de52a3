// Package render turns recorded measurement snapshots into standalone HTML
// timeline pages: one page per sensor with a line chart per charted
// attribute, plus an index overview of the fleet.
package render

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/Sumatoshi-tech/sensoria/pkg/store"
	"github.com/Sumatoshi-tech/sensoria/pkg/telemetry"
)

const (
	chartWidth  = "100%"
	chartHeight = "400px"

	timeLabelFormat = "15:04:05"

	// DefaultLimit bounds the measurements charted per attribute when
	// Options leaves it zero.
	DefaultLimit = 500

	indexFileName = "index.html"
	defaultTitle  = "Sensoria Telemetry"

	outputDirPerm = 0o750
)

// Sentinel errors for render input validation.
var (
	// ErrNoOutputDir indicates Options carried no output directory.
	ErrNoOutputDir = errors.New("render: output directory is required")
	// ErrEmptyStore indicates the store holds no sensors to render.
	ErrEmptyStore = errors.New("render: store holds no sensors")
)

// Options configures a Renderer.
type Options struct {
	Logger    *slog.Logger
	OutputDir string
	// Title heads every page. Empty selects a default.
	Title string
	// Limit bounds the measurements charted per attribute. Zero selects
	// DefaultLimit.
	Limit int
}

// Page records one written sensor page for the caller's summary output.
type Page struct {
	SensorID     string
	Path         string
	Charts       int
	Measurements int
}

// Renderer writes timeline pages from a measurement store.
type Renderer struct {
	logger    *slog.Logger
	outputDir string
	title     string
	limit     int
}

// New constructs a Renderer.
func New(opts Options) *Renderer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	title := opts.Title
	if title == "" {
		title = defaultTitle
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	return &Renderer{
		logger:    logger,
		outputDir: opts.OutputDir,
		title:     title,
		limit:     limit,
	}
}

// RenderStore writes one timeline page per sensor plus an index overview,
// returning the pages written. Sensors whose attributes cannot be charted
// are skipped with a log line.
func (r *Renderer) RenderStore(st *store.TieredStore) ([]Page, error) {
	if r.outputDir == "" {
		return nil, ErrNoOutputDir
	}

	sensors := st.Sensors()
	if len(sensors) == 0 {
		return nil, ErrEmptyStore
	}

	err := os.MkdirAll(r.outputDir, outputDirPerm)
	if err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	pages := make([]Page, 0, len(sensors))

	for _, sensorID := range sensors {
		page, rendered, renderErr := r.renderSensorPage(sensorID, st)
		if renderErr != nil {
			return nil, renderErr
		}

		if !rendered {
			r.logger.Info("no chartable attributes, page skipped", "sensor_id", sensorID)

			continue
		}

		pages = append(pages, page)
	}

	if len(pages) == 0 {
		return nil, ErrEmptyStore
	}

	indexErr := r.renderIndex(pages)
	if indexErr != nil {
		return nil, indexErr
	}

	return pages, nil
}

// renderSensorPage writes <outputDir>/<sensor>.html with one chart per
// chartable attribute. A sensor with no chartable attribute writes nothing.
func (r *Renderer) renderSensorPage(sensorID string, st *store.TieredStore) (Page, bool, error) {
	attrs := st.GetAttributes(sensorID, r.limit)

	attrIDs := make([]string, 0, len(attrs))
	for attributeID := range attrs {
		attrIDs = append(attrIDs, attributeID)
	}

	sort.Strings(attrIDs)

	page := components.NewPage()
	page.PageTitle = fmt.Sprintf("%s - %s", r.title, sensorID)
	page.SetLayout(components.PageCenterLayout)

	charted := 0
	total := 0

	for _, attributeID := range attrIDs {
		// GetAttributes hands back newest first; charts read left to
		// right in time.
		ms := reversed(attrs[attributeID])
		total += len(ms)

		line := buildAttributeChart(attributeID, ms)
		if line == nil {
			continue
		}

		page.AddCharts(line)

		charted++
	}

	if charted == 0 {
		return Page{}, false, nil
	}

	path := filepath.Join(r.outputDir, sanitizeFileName(sensorID)+".html")

	f, err := os.Create(path) //nolint:gosec // path is outputDir plus a sanitized stem
	if err != nil {
		return Page{}, false, fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	err = page.Render(f)
	if err != nil {
		return Page{}, false, fmt.Errorf("render %s: %w", sensorID, err)
	}

	return Page{
		SensorID:     sensorID,
		Path:         path,
		Charts:       charted,
		Measurements: total,
	}, true, nil
}

// renderIndex writes the fleet overview bar chart to index.html.
func (r *Renderer) renderIndex(pages []Page) error {
	labels := make([]string, 0, len(pages))
	data := make([]opts.BarData, 0, len(pages))

	for _, p := range pages {
		labels = append(labels, p.SensorID)
		data = append(data, opts.BarData{Value: p.Measurements})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: chartWidth, Height: chartHeight}),
		charts.WithTitleOpts(opts.Title{
			Title:    r.title,
			Subtitle: fmt.Sprintf("Recorded measurements across %d sensors", len(pages)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "sensor"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "measurements"}),
	)
	bar.SetXAxis(labels)
	bar.AddSeries("measurements", data)

	page := components.NewPage()
	page.PageTitle = r.title
	page.SetLayout(components.PageCenterLayout)
	page.AddCharts(bar)

	path := filepath.Join(r.outputDir, indexFileName)

	f, err := os.Create(path) //nolint:gosec // path is outputDir plus a fixed name
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	err = page.Render(f)
	if err != nil {
		return fmt.Errorf("render index: %w", err)
	}

	return nil
}

// chartMode classifies how an attribute's payloads chart.
type chartMode int

const (
	modeNone chartMode = iota
	// modeNumeric charts the payload itself.
	modeNumeric
	// modeGeo charts latitude and longitude as two series.
	modeGeo
	// modeLevel charts the "level" field of map payloads (batteries).
	modeLevel
)

// buildAttributeChart builds the timeline for one attribute, or nil when the
// payloads cannot be charted.
func buildAttributeChart(attributeID string, ms []telemetry.Measurement) *charts.Line {
	mode := detectMode(ms)
	if mode == modeNone {
		return nil
	}

	labels := make([]string, 0, len(ms))
	series := make(map[string][]opts.LineData)

	for _, m := range ms {
		labels = append(labels, m.Time().Format(timeLabelFormat))

		switch mode {
		case modeNumeric:
			appendPoint(series, attributeID, numericPoint(m.Payload))
		case modeGeo:
			lat, lon := geoPoint(m.Payload)
			appendPoint(series, "latitude", lat)
			appendPoint(series, "longitude", lon)
		case modeLevel:
			appendPoint(series, "level", levelPoint(m.Payload))
		case modeNone:
		}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: chartWidth, Height: chartHeight}),
		charts.WithTitleOpts(opts.Title{
			Title:    attributeID,
			Subtitle: fmt.Sprintf("%d measurements", len(ms)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "time"}),
		charts.WithYAxisOpts(opts.YAxis{Name: attributeID}),
	)
	line.SetXAxis(labels)

	names := make([]string, 0, len(series))
	for name := range series {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		line.AddSeries(name, series[name],
			charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true)}),
		)
	}

	return line
}

// detectMode picks the chart mode from the first parseable payload.
func detectMode(ms []telemetry.Measurement) chartMode {
	for _, m := range ms {
		if _, ok := telemetry.NumericValue(m.Payload); ok {
			return modeNumeric
		}

		p, ok := m.Payload.(map[string]any)
		if !ok {
			continue
		}

		_, latOK := telemetry.NumericValue(p["latitude"])
		_, lonOK := telemetry.NumericValue(p["longitude"])

		if latOK && lonOK {
			return modeGeo
		}

		if _, levelOK := telemetry.NumericValue(p["level"]); levelOK {
			return modeLevel
		}
	}

	return modeNone
}

// appendPoint adds a point to the named series, using the echarts gap marker
// for values that did not parse.
func appendPoint(series map[string][]opts.LineData, name string, v any) {
	series[name] = append(series[name], opts.LineData{Value: v})
}

// numericPoint extracts a numeric payload, or the gap marker.
func numericPoint(payload any) any {
	v, ok := telemetry.NumericValue(payload)
	if !ok {
		return "-"
	}

	return v
}

// geoPoint extracts latitude and longitude, or gap markers.
func geoPoint(payload any) (lat, lon any) {
	p, ok := payload.(map[string]any)
	if !ok {
		return "-", "-"
	}

	latV, latOK := telemetry.NumericValue(p["latitude"])
	lonV, lonOK := telemetry.NumericValue(p["longitude"])

	if !latOK || !lonOK {
		return "-", "-"
	}

	return latV, lonV
}

// levelPoint extracts the "level" field of a map payload, or the gap marker.
func levelPoint(payload any) any {
	p, ok := payload.(map[string]any)
	if !ok {
		return "-"
	}

	v, ok := telemetry.NumericValue(p["level"])
	if !ok {
		return "-"
	}

	return v
}

// sanitizeFileName keeps sensor-derived file names shell and URL safe.
func sanitizeFileName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '_' || r == '-':
			return r
		default:
			return '_'
		}
	}, name)
}

// reversed returns a copy of ms in opposite order.
func reversed(ms []telemetry.Measurement) []telemetry.Measurement {
	out := make([]telemetry.Measurement, len(ms))
	for i, m := range ms {
		out[len(ms)-1-i] = m
	}

	return out
}
