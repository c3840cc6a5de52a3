package observability_test

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Sumatoshi-tech/sensoria/internal/observability"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := observability.DefaultConfig()

	assert.Equal(t, "sensoria", cfg.ServiceName)
	assert.Equal(t, observability.ModeServe, cfg.Mode)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, 5, cfg.ShutdownTimeoutSec)
	assert.Empty(t, cfg.OTLPEndpoint)
	assert.False(t, cfg.DebugTrace)
	assert.False(t, cfg.TraceVerbose)
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  slog.Level
	}{
		{name: "debug", input: "debug", want: slog.LevelDebug},
		{name: "info", input: "info", want: slog.LevelInfo},
		{name: "warn", input: "warn", want: slog.LevelWarn},
		{name: "error", input: "error", want: slog.LevelError},
		{name: "unknown defaults to info", input: "verbose", want: slog.LevelInfo},
		{name: "empty defaults to info", input: "", want: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, observability.ParseLogLevel(tt.input))
		})
	}
}
