package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// PrometheusHandler creates a Prometheus metrics exporter backed by an OTel
// MeterProvider and returns an [http.Handler] that serves the /metrics scrape
// endpoint. Each call creates an independent Prometheus registry to avoid
// collector conflicts when called multiple times.
func PrometheusHandler() (http.Handler, error) {
	handler, _, err := PrometheusProvider()

	return handler, err
}

// PrometheusProvider builds a registry-backed MeterProvider together with the
// [http.Handler] that serves its scrape endpoint. Deployments that scrape
// instead of pushing OTLP install the returned provider as the global one so
// every instrument in the process lands on /metrics.
func PrometheusProvider() (http.Handler, *sdkmetric.MeterProvider, error) {
	registry := prometheus.NewRegistry()

	exporter, err := promexporter.New(
		promexporter.WithRegisterer(registry),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))

	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), mp, nil
}
