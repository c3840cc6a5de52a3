package commands

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/sensoria/internal/config"
)

func TestServeCommand_FlagDefaults(t *testing.T) {
	t.Parallel()

	cmd := NewServeCommand()

	configFlag := cmd.Flags().Lookup(flagConfig)
	require.NotNil(t, configFlag)
	assert.Empty(t, configFlag.DefValue)

	simulateFlag := cmd.Flags().Lookup(flagSimulate)
	require.NotNil(t, simulateFlag)
	assert.Equal(t, "0", simulateFlag.DefValue)
}

func TestServeCommand_InvalidConfig(t *testing.T) {
	t.Parallel()

	cfgPath := filepath.Join(t.TempDir(), "sensoria.yaml")
	writeErr := os.WriteFile(cfgPath, []byte("store:\n  hot_limit: 0\n"), 0o600)
	require.NoError(t, writeErr)

	cmd := NewServeCommand()
	cmd.SetArgs([]string{"--config", cfgPath})

	err := cmd.Execute()
	require.ErrorIs(t, err, config.ErrInvalidHotLimit)
}

func TestServeCommand_RunsUntilCanceled(t *testing.T) {
	cfgYAML := `serve:
  listen: "127.0.0.1:0"
`

	cfgPath := filepath.Join(t.TempDir(), "sensoria.yaml")
	writeErr := os.WriteFile(cfgPath, []byte(cfgYAML), 0o600)
	require.NoError(t, writeErr)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	cmd := NewServeCommand()
	cmd.SetArgs([]string{"--config", cfgPath, "--simulate", "1"})

	err := cmd.ExecuteContext(ctx)
	require.NoError(t, err)
}
