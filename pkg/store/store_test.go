package store_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/sensoria/pkg/pubsub"
	"github.com/Sumatoshi-tech/sensoria/pkg/store"
	"github.com/Sumatoshi-tech/sensoria/pkg/sysload"
	"github.com/Sumatoshi-tech/sensoria/pkg/telemetry"
)

func put(s *store.TieredStore, sensor, attr string, ts int64, v float64) {
	s.Put(telemetry.Measurement{SensorID: sensor, AttributeID: attr, Timestamp: ts, Payload: v})
}

// fill writes n measurements with timestamps 1..n.
func fill(s *store.TieredStore, sensor, attr string, n int) {
	for i := 1; i <= n; i++ {
		put(s, sensor, attr, int64(i), float64(i))
	}
}

func timestamps(ms []telemetry.Measurement) []int64 {
	out := make([]int64, len(ms))
	for i, m := range ms {
		out[i] = m.Timestamp
	}

	return out
}

func TestPutRoundTrip(t *testing.T) {
	t.Parallel()

	s := store.New(store.Options{})
	fill(s, "s1", "hr", 5)

	got := s.GetAttribute("s1", "hr", 0, 0, 0)
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, timestamps(got))

	hot := s.GetAttributes("s1", 3)
	require.Contains(t, hot, "hr")
	assert.Equal(t, []int64{5, 4, 3}, timestamps(hot["hr"]))
	assert.Equal(t, []string{"s1"}, s.Sensors())
}

func TestMergedReadSpansTiers(t *testing.T) {
	t.Parallel()

	s := store.New(store.Options{BaseHotLimit: 10, BaseWarmLimit: 100})
	fill(s, "s1", "hr", 35)

	hotLen, warmLen := s.TierLens("s1", "hr")
	assert.LessOrEqual(t, hotLen, 20)
	assert.LessOrEqual(t, warmLen, 100)
	assert.Equal(t, 35, hotLen+warmLen)

	got := s.GetAttributeExtended("s1", "hr", 0)
	require.Len(t, got, 35)

	for i, m := range got {
		assert.Equal(t, int64(i+1), m.Timestamp)
	}

	// Newest entry lives in the hot tier.
	hot := s.GetAttributes("s1", 1)
	assert.Equal(t, int64(35), hot["hr"][0].Timestamp)
}

func TestLoadLevelShrinksRetention(t *testing.T) {
	t.Parallel()

	s := store.New(store.Options{})
	s.SetLoadLevel(sysload.LevelHigh)

	lim := s.CurrentLimits(telemetry.TypeNumeric)
	require.Equal(t, store.Limits{Hot: 400, Warm: 12000}, lim)

	fill(s, "s1", "hr", 2001)

	hotLen, warmLen := s.TierLens("s1", "hr")
	assert.LessOrEqual(t, hotLen, 2*lim.Hot)
	assert.LessOrEqual(t, warmLen, lim.Warm)
	assert.Equal(t, 2001, hotLen+warmLen)

	newest := s.GetAttributes("s1", lim.Hot)["hr"]
	require.Len(t, newest, lim.Hot)
	assert.Equal(t, int64(2001), newest[0].Timestamp)
	assert.Equal(t, int64(2001-lim.Hot+1), newest[len(newest)-1].Timestamp)

	all := s.GetAttributeExtended("s1", "hr", 0)
	require.Len(t, all, 2001)
	assert.Equal(t, int64(1), all[0].Timestamp)
	assert.Equal(t, int64(2001), all[len(all)-1].Timestamp)
}

func TestWarmTruncatesOldest(t *testing.T) {
	t.Parallel()

	s := store.New(store.Options{BaseHotLimit: 10, BaseWarmLimit: 100})
	fill(s, "s1", "hr", 121)

	_, warmLen := s.TierLens("s1", "hr")
	assert.Equal(t, 100, warmLen)

	all := s.GetAttributeExtended("s1", "hr", 0)
	require.Len(t, all, 111)
	// The ten oldest measurements fell off the warm tier.
	assert.Equal(t, int64(11), all[0].Timestamp)
	assert.Equal(t, int64(121), all[len(all)-1].Timestamp)
}

func TestRealtimeOnlyKeepsLatest(t *testing.T) {
	t.Parallel()

	s := store.New(store.Options{})

	require.Equal(t, store.Limits{Hot: 1, Warm: 0}, s.CurrentLimits(telemetry.TypeSkeleton))

	for i := 1; i <= 5; i++ {
		s.Put(telemetry.Measurement{
			SensorID:    "cam1",
			AttributeID: "skeleton",
			Timestamp:   int64(i),
			Payload:     map[string]any{"joints": float64(i)},
		})
	}

	hotLen, warmLen := s.TierLens("cam1", "skeleton")
	assert.Equal(t, 1, hotLen)
	assert.Zero(t, warmLen)

	got := s.GetAttributeExtended("cam1", "skeleton", 0)
	require.Len(t, got, 1)
	assert.Equal(t, int64(5), got[0].Timestamp)
}

func TestTimeFilteredRead(t *testing.T) {
	t.Parallel()

	s := store.New(store.Options{})
	for ts := int64(100); ts <= 1000; ts += 100 {
		put(s, "s1", "hr", ts, float64(ts))
	}

	assert.Equal(t, []int64{300, 400, 500, 600, 700},
		timestamps(s.GetAttribute("s1", "hr", 300, 700, 0)))
	assert.Equal(t, []int64{800, 900, 1000},
		timestamps(s.GetAttribute("s1", "hr", 800, 0, 0)))
	assert.Equal(t, []int64{100, 200},
		timestamps(s.GetAttribute("s1", "hr", 0, 200, 0)))
	// limit keeps the newest matches.
	assert.Equal(t, []int64{600, 700},
		timestamps(s.GetAttribute("s1", "hr", 300, 700, 2)))
	assert.Equal(t, []int64{900, 1000},
		timestamps(s.GetAttribute("s1", "hr", 0, 0, 2)))
}

func TestRemoveAndCleanup(t *testing.T) {
	t.Parallel()

	s := store.New(store.Options{})
	fill(s, "s1", "hr", 3)
	fill(s, "s1", "spo2", 3)
	fill(s, "s2", "hr", 3)

	s.Remove("s1", "hr")

	assert.Empty(t, s.GetAttributeExtended("s1", "hr", 0))
	assert.Len(t, s.GetAttributeExtended("s1", "spo2", 0), 3)
	assert.NotContains(t, s.GetAttributes("s1", 0), "hr")

	s.Cleanup("s2")

	assert.Empty(t, s.GetAttributeExtended("s2", "hr", 0))
	assert.Equal(t, []string{"s1"}, s.Sensors())

	s.ClearAll()

	assert.Empty(t, s.Sensors())
	assert.Empty(t, s.GetAttributeExtended("s1", "spo2", 0))
}

func TestMissingKeysReturnEmpty(t *testing.T) {
	t.Parallel()

	s := store.New(store.Options{})

	assert.Empty(t, s.GetAttribute("nope", "hr", 0, 0, 0))
	assert.Empty(t, s.GetAttributes("nope", 10))
	assert.Empty(t, s.Sensors())

	hotLen, warmLen := s.TierLens("nope", "hr")
	assert.Zero(t, hotLen)
	assert.Zero(t, warmLen)

	// Removing unknown keys is a no-op, not an error.
	s.Remove("nope", "hr")
	s.Cleanup("nope")
}

func TestZeroValueStoreIsInert(t *testing.T) {
	t.Parallel()

	var s store.TieredStore

	put(&s, "s1", "hr", 1, 61)
	assert.Empty(t, s.GetAttributeExtended("s1", "hr", 0))
	assert.Empty(t, s.Sensors())

	s.EnsureTables()
	put(&s, "s1", "hr", 2, 62)

	got := s.GetAttributeExtended("s1", "hr", 0)
	require.Len(t, got, 1)
	assert.Equal(t, int64(2), got[0].Timestamp)
}

func TestCurrentLimitsTable(t *testing.T) {
	t.Parallel()

	s := store.New(store.Options{})

	cases := []struct {
		level sysload.Level
		want  store.Limits
	}{
		{sysload.LevelNormal, store.Limits{Hot: 1000, Warm: 60000}},
		{sysload.LevelElevated, store.Limits{Hot: 800, Warm: 30000}},
		{sysload.LevelHigh, store.Limits{Hot: 400, Warm: 12000}},
		{sysload.LevelCritical, store.Limits{Hot: 200, Warm: 3000}},
	}

	for _, tc := range cases {
		s.SetLoadLevel(tc.level)
		assert.Equal(t, tc.want, s.CurrentLimits(telemetry.TypeNumeric), tc.level.String())
		// Realtime-only types ignore load scaling.
		assert.Equal(t, store.Limits{Hot: 1, Warm: 0}, s.CurrentLimits(telemetry.TypePose), tc.level.String())
	}
}

func TestLimitsFloors(t *testing.T) {
	t.Parallel()

	s := store.New(store.Options{BaseHotLimit: 20, BaseWarmLimit: 300})
	s.SetLoadLevel(sysload.LevelCritical)

	assert.Equal(t, store.Limits{Hot: 10, Warm: 100}, s.CurrentLimits(telemetry.TypeNumeric))
}

func TestWatchRescalesOnLoadTransitions(t *testing.T) {
	t.Parallel()

	bus := pubsub.New(pubsub.Options{})
	defer bus.Close()

	s := store.New(store.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, s.Watch(ctx, bus))

	bus.Publish(ctx, pubsub.TopicSystemLoad, pubsub.SystemLoadChangedMsg{Level: "high", Multiplier: 3.0})

	require.Eventually(t, func() bool {
		return s.LoadLevel() == sysload.LevelHigh
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, store.Limits{Hot: 400, Warm: 12000}, s.CurrentLimits(telemetry.TypeNumeric))

	// Unknown levels are ignored, known ones keep applying.
	bus.Publish(ctx, pubsub.TopicSystemLoad, pubsub.SystemLoadChangedMsg{Level: "weird"})
	bus.Publish(ctx, pubsub.TopicSystemLoad, pubsub.SystemLoadChangedMsg{Level: "normal", Multiplier: 1.0})

	require.Eventually(t, func() bool {
		return s.LoadLevel() == sysload.LevelNormal
	}, 2*time.Second, 5*time.Millisecond)

	cancel()

	require.Eventually(t, func() bool {
		return bus.SubscriberCount(pubsub.TopicSystemLoad) == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestConcurrentWritersAndReaders(t *testing.T) {
	t.Parallel()

	s := store.New(store.Options{BaseHotLimit: 50, BaseWarmLimit: 500})

	const (
		sensors = 4
		writes  = 200
	)

	var writers sync.WaitGroup

	for w := range sensors {
		writers.Add(1)

		go func() {
			defer writers.Done()

			sensor := fmt.Sprintf("s%d", w)
			for i := 1; i <= writes; i++ {
				put(s, sensor, "hr", int64(i), float64(i))
			}
		}()
	}

	quit := make(chan struct{})

	var readers sync.WaitGroup

	readers.Add(1)

	go func() {
		defer readers.Done()

		for {
			select {
			case <-quit:
				return
			default:
				s.GetAttributes("s0", 10)
				s.GetAttributeExtended("s1", "hr", 0)
			}
		}
	}()

	writers.Wait()
	close(quit)
	readers.Wait()

	for w := range sensors {
		sensor := fmt.Sprintf("s%d", w)
		got := s.GetAttributeExtended(sensor, "hr", 0)
		require.Len(t, got, writes)

		for i, m := range got {
			require.Equal(t, int64(i+1), m.Timestamp)
		}
	}
}
