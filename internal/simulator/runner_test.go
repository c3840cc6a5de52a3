package simulator_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/sensoria/internal/simulator"
	"github.com/Sumatoshi-tech/sensoria/pkg/attention"
	"github.com/Sumatoshi-tech/sensoria/pkg/pubsub"
	"github.com/Sumatoshi-tech/sensoria/pkg/sensor"
	"github.com/Sumatoshi-tech/sensoria/pkg/store"
)

func runnerScenario() *simulator.Scenario {
	return &simulator.Scenario{
		Name: "runner-test",
		Seed: 9,
		Sensors: []simulator.SensorSpec{{
			SensorID:   "walker",
			SensorType: "tracker",
			BatchSize:  1,
			Attributes: map[string]simulator.AttributeSpec{
				"button":   {Kind: simulator.KindButton, PressChance: 1.0},
				"location": {Kind: simulator.KindGeolocation, IntervalMS: 50},
			},
		}},
	}
}

func TestRunner_CountsFleetOutput(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	bus := pubsub.New(pubsub.Options{BufferSize: 256})
	defer bus.Close()

	tracker := attention.New(attention.Options{Bus: bus})
	tracker.Start(ctx)
	defer tracker.Stop()

	st := store.New(store.Options{})

	dir, err := sensor.NewDirectory(sensor.DirectoryOptions{
		Bus:       bus,
		Store:     st,
		Attention: tracker,
	})
	require.NoError(t, err)
	defer func() { _ = dir.Shutdown(ctx) }()

	var ticks int

	runner := simulator.NewRunner(simulator.RunnerOptions{
		Bus:       bus,
		Directory: dir,
		Attention: tracker,
		OnTick: func(s simulator.Stats) {
			ticks++
			assert.Equal(t, 1, s.Sensors)
		},
	})

	stats, err := runner.Run(ctx, runnerScenario(), 2500*time.Millisecond)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Sensors)
	assert.Equal(t, int64(1), stats.SensorsByType["tracker"])
	assert.Positive(t, stats.Measurements, "a pinned fleet must emit within the run window")
	assert.Positive(t, stats.BySensor["walker"])
	assert.Equal(t, stats.Measurements, stats.MeasurementsByType["tracker"])
	assert.GreaterOrEqual(t, ticks, 1)

	assert.Empty(t, dir.ListSensors(), "runner must remove its sensors")
}

func TestRunner_InvalidScenario(t *testing.T) {
	t.Parallel()

	bus := pubsub.New(pubsub.Options{})
	defer bus.Close()

	dir, err := sensor.NewDirectory(sensor.DirectoryOptions{Bus: bus})
	require.NoError(t, err)
	defer func() { _ = dir.Shutdown(context.Background()) }()

	runner := simulator.NewRunner(simulator.RunnerOptions{Bus: bus, Directory: dir})

	_, err = runner.Run(context.Background(), &simulator.Scenario{}, time.Second)
	require.ErrorIs(t, err, simulator.ErrNoSensors)
}

func TestRunner_CancelledContextStopsEarly(t *testing.T) {
	t.Parallel()

	bus := pubsub.New(pubsub.Options{})
	defer bus.Close()

	st := store.New(store.Options{})

	dir, err := sensor.NewDirectory(sensor.DirectoryOptions{Bus: bus, Store: st})
	require.NoError(t, err)
	defer func() { _ = dir.Shutdown(context.Background()) }()

	runner := simulator.NewRunner(simulator.RunnerOptions{Bus: bus, Directory: dir})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()

	stats, err := runner.Run(ctx, runnerScenario(), time.Minute)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Equal(t, 1, stats.Sensors)
}
