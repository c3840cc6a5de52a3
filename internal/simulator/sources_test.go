package simulator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/sensoria/pkg/telemetry"
)

// fakeClock hands out manually advanced times.
type fakeClock struct {
	at time.Time
}

func (c *fakeClock) now() time.Time { return c.at }

func (c *fakeClock) advance(d time.Duration) { c.at = c.at.Add(d) }

func TestHeartRateSource_StaysInBand(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{at: time.Unix(1000, 0)}

	src := NewHeartRateSource(HeartRateOptions{Seed: 1})
	src.now = clock.now
	src.start = clock.at

	emitted := 0
	last := 0.0

	for range 200 {
		clock.advance(time.Second)

		samples, err := src.Pull(context.Background(), 1)
		require.NoError(t, err)

		if len(samples) == 0 {
			continue
		}

		require.Len(t, samples, 1)

		bpm, ok := samples[0].Payload.(float64)
		require.True(t, ok)
		assert.GreaterOrEqual(t, bpm, 30.0)
		assert.LessOrEqual(t, bpm, 220.0)
		assert.Equal(t, bpm, float64(int64(bpm)), "bpm should be a whole number")

		assert.GreaterOrEqual(t, samples[0].Delay, 900*time.Millisecond)
		assert.LessOrEqual(t, samples[0].Delay, 2100*time.Millisecond)

		if emitted > 0 {
			assert.Greater(t, abs(bpm-last), 1.0, "emissions must clear the change gate")
		}

		last = bpm
		emitted++
	}

	assert.Positive(t, emitted)
}

func TestHeartRateSource_FirstPullEmits(t *testing.T) {
	t.Parallel()

	src := NewHeartRateSource(HeartRateOptions{Seed: 7})

	samples, err := src.Pull(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, samples, 1)
}

func TestGeolocationSource_WalksSmallSteps(t *testing.T) {
	t.Parallel()

	src := NewGeolocationSource(GeolocationOptions{
		Latitude:  52.52,
		Longitude: 13.405,
		Seed:      3,
	})

	prevLat, prevLon := 52.52, 13.405

	for range 100 {
		samples, err := src.Pull(context.Background(), 1)
		require.NoError(t, err)
		require.Len(t, samples, 1)

		payload, ok := samples[0].Payload.(map[string]any)
		require.True(t, ok)

		lat, ok := payload["latitude"].(float64)
		require.True(t, ok)
		lon, ok := payload["longitude"].(float64)
		require.True(t, ok)

		assert.GreaterOrEqual(t, lat, -90.0)
		assert.LessOrEqual(t, lat, 90.0)

		// One stride is at most 10 m, well under a thousandth of a degree.
		assert.Less(t, abs(lat-prevLat), 0.001)
		assert.Less(t, abs(lon-prevLon), 0.001)

		assert.Equal(t, telemetry.TypeGeolocation, telemetry.InferType("position", payload))

		prevLat, prevLon = lat, lon
	}
}

func TestBatterySource_DrainsThenCharges(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{at: time.Unix(1000, 0)}

	src := NewBatterySource(BatteryOptions{DrainPerMinute: 0.1, Seed: 5})
	src.now = clock.now
	src.lastAt = clock.at

	var sawCharging bool

	prev := 1.0

	for range 30 {
		clock.advance(time.Minute)

		samples, err := src.Pull(context.Background(), 1)
		require.NoError(t, err)
		require.Len(t, samples, 1)

		payload, ok := samples[0].Payload.(map[string]any)
		require.True(t, ok)

		level, ok := payload["level"].(float64)
		require.True(t, ok)
		charging, ok := payload["charging"].(bool)
		require.True(t, ok)

		assert.GreaterOrEqual(t, level, 0.05)
		assert.LessOrEqual(t, level, 1.0)

		if charging {
			sawCharging = true
		} else if !sawCharging {
			assert.LessOrEqual(t, level, prev, "drain phase must not climb")
		}

		prev = level
	}

	assert.True(t, sawCharging, "a ten-percent-per-minute drain must hit the floor within 30 minutes")
}

func TestButtonSource_AlwaysPressesAtFullChance(t *testing.T) {
	t.Parallel()

	src := NewButtonSource(ButtonOptions{PressChance: 1.0, Seed: 2})

	for i := 1; i <= 5; i++ {
		samples, err := src.Pull(context.Background(), 1)
		require.NoError(t, err)
		require.Len(t, samples, 1)

		payload, ok := samples[0].Payload.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, true, payload["pressed"])
		assert.Equal(t, int64(i), payload["count"])
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}

	return v
}
