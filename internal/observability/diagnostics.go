package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// DiagnosticsOptions configures the diagnostics HTTP server.
type DiagnosticsOptions struct {
	// Meter registers Go runtime scheduler metrics. Nil skips registration.
	Meter metric.Meter

	// Tracer wraps the mux in HTTPMiddleware so probe and scrape requests
	// carry spans. Nil serves the mux bare.
	Tracer trace.Tracer

	// Logger receives the middleware access log. Nil falls back to slog.Default.
	Logger *slog.Logger

	// Metrics serves /metrics. Nil builds an independent Prometheus bridge.
	Metrics http.Handler

	// Ready checks gate /readyz.
	Ready []ReadyCheck
}

// DiagnosticsServer exposes health, readiness, and Prometheus metrics
// endpoints over HTTP for operational monitoring.
type DiagnosticsServer struct {
	server   *http.Server
	listener net.Listener
}

// NewDiagnosticsServer starts an HTTP server at addr with /healthz, /readyz,
// and /metrics endpoints.
func NewDiagnosticsServer(addr string, opts DiagnosticsOptions) (*DiagnosticsServer, error) {
	mux := http.NewServeMux()

	mux.Handle("/healthz", HealthHandler())
	mux.Handle("/readyz", ReadyHandler(opts.Ready...))

	metricsHandler := opts.Metrics
	if metricsHandler == nil {
		var err error

		metricsHandler, err = PrometheusHandler()
		if err != nil {
			return nil, fmt.Errorf("create prometheus handler: %w", err)
		}
	}

	mux.Handle("/metrics", metricsHandler)

	if opts.Meter != nil {
		_, err := NewSchedulerMetrics(opts.Meter)
		if err != nil {
			return nil, fmt.Errorf("register scheduler metrics: %w", err)
		}
	}

	var handler http.Handler = mux

	if opts.Tracer != nil {
		logger := opts.Logger
		if logger == nil {
			logger = slog.Default()
		}

		handler = HTTPMiddleware(opts.Tracer, logger, mux)
	}

	var lc net.ListenConfig

	listener, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	srv := &http.Server{Handler: handler}

	go func() {
		serveErr := srv.Serve(listener)
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			slog.Warn("diagnostics server stopped", "error", serveErr)
		}
	}()

	return &DiagnosticsServer{server: srv, listener: listener}, nil
}

// Addr returns the address the server is listening on.
func (d *DiagnosticsServer) Addr() string {
	return d.listener.Addr().String()
}

// Close gracefully shuts down the diagnostics server.
func (d *DiagnosticsServer) Close() error {
	err := d.server.Shutdown(context.Background())
	if err != nil {
		return fmt.Errorf("shutdown diagnostics server: %w", err)
	}

	return nil
}
