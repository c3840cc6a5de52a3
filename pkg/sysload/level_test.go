package sysload_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Sumatoshi-tech/sensoria/pkg/sysload"
)

func TestLevelStringAndParse(t *testing.T) {
	t.Parallel()

	levels := []sysload.Level{
		sysload.LevelNormal, sysload.LevelElevated, sysload.LevelHigh, sysload.LevelCritical,
	}
	names := []string{"normal", "elevated", "high", "critical"}

	for i, lvl := range levels {
		assert.Equal(t, names[i], lvl.String())

		parsed, ok := sysload.ParseLevel(names[i])
		assert.True(t, ok)
		assert.Equal(t, lvl, parsed)
	}

	_, ok := sysload.ParseLevel("extreme")
	assert.False(t, ok)
}

func TestMultiplierTable(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 1.0, sysload.LevelNormal.Multiplier(), 1e-9)
	assert.InDelta(t, 1.5, sysload.LevelElevated.Multiplier(), 1e-9)
	assert.InDelta(t, 3.0, sysload.LevelHigh.Multiplier(), 1e-9)
	assert.InDelta(t, 5.0, sysload.LevelCritical.Multiplier(), 1e-9)
}

func TestNextLevelRisesImmediately(t *testing.T) {
	t.Parallel()

	assert.Equal(t, sysload.LevelCritical, sysload.NextLevel(sysload.LevelNormal, 0.99))
	assert.Equal(t, sysload.LevelHigh, sysload.NextLevel(sysload.LevelNormal, 0.90))
	assert.Equal(t, sysload.LevelElevated, sysload.NextLevel(sysload.LevelNormal, 0.70))
	assert.Equal(t, sysload.LevelNormal, sysload.NextLevel(sysload.LevelNormal, 0.69))
}

func TestNextLevelStepsDownThroughHysteresis(t *testing.T) {
	t.Parallel()

	// Inside the hysteresis band the level holds.
	assert.Equal(t, sysload.LevelCritical, sysload.NextLevel(sysload.LevelCritical, 0.90))
	assert.Equal(t, sysload.LevelHigh, sysload.NextLevel(sysload.LevelHigh, 0.80))
	assert.Equal(t, sysload.LevelElevated, sysload.NextLevel(sysload.LevelElevated, 0.65))

	// Below the exit threshold the level releases one step per sample.
	lvl := sysload.LevelCritical
	lvl = sysload.NextLevel(lvl, 0.10)
	assert.Equal(t, sysload.LevelHigh, lvl)
	lvl = sysload.NextLevel(lvl, 0.10)
	assert.Equal(t, sysload.LevelElevated, lvl)
	lvl = sysload.NextLevel(lvl, 0.10)
	assert.Equal(t, sysload.LevelNormal, lvl)
	lvl = sysload.NextLevel(lvl, 0.10)
	assert.Equal(t, sysload.LevelNormal, lvl)
}

func TestReadingUtilizationTakesWorstPressure(t *testing.T) {
	t.Parallel()

	r := sysload.Reading{CPU: 0.30, Memory: 0.75, Goroutines: 0}
	assert.InDelta(t, 0.75, r.Utilization(), 1e-9)

	r = sysload.Reading{CPU: 0.90, Memory: 0.10}
	assert.InDelta(t, 0.90, r.Utilization(), 1e-9)

	// Goroutine pressure saturates at 1.
	r = sysload.Reading{Goroutines: 1 << 30}
	assert.InDelta(t, 1.0, r.Utilization(), 1e-9)
}
