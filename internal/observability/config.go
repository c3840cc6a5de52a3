// Package observability provides OpenTelemetry-based tracing, metrics, and
// structured logging for all sensoria run modes (serve, simulate, render, MCP).
package observability

import "log/slog"

// AppMode identifies the application execution mode.
type AppMode string

const (
	// ModeServe is the long-running engine server mode.
	ModeServe AppMode = "serve"
	// ModeSimulate is the fabricated-sensor driver mode.
	ModeSimulate AppMode = "simulate"
	// ModeRender is the snapshot-to-HTML rendering mode.
	ModeRender AppMode = "render"
	// ModeMCP is the MCP stdio server mode.
	ModeMCP AppMode = "mcp"
)

const (
	// defaultServiceName is the default OTel service name.
	defaultServiceName = "sensoria"

	// defaultShutdownTimeoutSec is the default shutdown timeout in seconds.
	defaultShutdownTimeoutSec = 5
)

// Config holds all observability configuration.
type Config struct {
	// ServiceName is the OTel resource service name.
	ServiceName string

	// ServiceVersion is the semantic version of the running binary.
	ServiceVersion string

	// Environment is the deployment environment (e.g. "production", "staging", "dev").
	Environment string

	// Mode identifies how the binary was launched.
	Mode AppMode

	// OTLPEndpoint is the OTLP gRPC collector address (e.g. "localhost:4317").
	// Empty disables export; providers become no-op.
	OTLPEndpoint string

	// OTLPHeaders are additional gRPC metadata headers for the OTLP exporter.
	OTLPHeaders map[string]string

	// OTLPInsecure disables TLS for the OTLP gRPC connection.
	OTLPInsecure bool

	// DebugTrace forces 100% trace sampling when true.
	DebugTrace bool

	// SampleRatio is the trace sampling ratio (0.0 to 1.0) when DebugTrace is false.
	// Zero uses the OTel SDK default (parent-based with always-on root).
	SampleRatio float64

	// LogLevel controls the minimum slog severity.
	LogLevel slog.Level

	// TraceVerbose keeps diagnostic scrape spans (/healthz, /readyz, /metrics).
	// When false (default), those spans are suppressed to keep trace volume low.
	TraceVerbose bool

	// LogJSON enables JSON-formatted log output.
	LogJSON bool

	// ShutdownTimeoutSec is the maximum seconds to wait for flush on shutdown.
	ShutdownTimeoutSec int
}

// DefaultConfig returns a Config with sensible defaults for zero-config startup.
func DefaultConfig() Config {
	return Config{
		ServiceName:        defaultServiceName,
		Mode:               ModeServe,
		LogLevel:           slog.LevelInfo,
		ShutdownTimeoutSec: defaultShutdownTimeoutSec,
	}
}

// ParseLogLevel maps a config-file level name to an slog severity.
// Unknown names fall back to info; config validation rejects them upstream.
func ParseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
