package simulator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/Sumatoshi-tech/sensoria/pkg/attention"
	"github.com/Sumatoshi-tech/sensoria/pkg/pubsub"
	"github.com/Sumatoshi-tech/sensoria/pkg/sensor"
)

// tickInterval paces OnTick progress snapshots.
const tickInterval = time.Second

// watcherID is the synthetic user the runner registers as: the operator
// reading the live table counts as someone watching.
const watcherID = "simulator"

// RunnerOptions wires a Runner.
type RunnerOptions struct {
	Logger    *slog.Logger
	Bus       *pubsub.Bus
	Directory *sensor.Directory

	// Attention, when set, gets every simulated sensor pinned for the
	// run so the fleet streams at full attention instead of idling
	// unwatched.
	Attention *attention.Tracker

	// OnTick, when set, receives a stats snapshot once per second while
	// the run is in flight.
	OnTick func(Stats)
}

// Stats summarizes one simulation run.
type Stats struct {
	Elapsed      time.Duration
	Sensors      int
	Measurements int64
	Dropped      int64

	// MeasurementsByType and SensorsByType are keyed by sensor type.
	MeasurementsByType map[string]int64
	SensorsByType      map[string]int64

	// BySensor counts emitted measurements per sensor id.
	BySensor map[string]int64
}

// Rate returns emitted measurements per second over the elapsed window.
func (s Stats) Rate() float64 {
	secs := s.Elapsed.Seconds()
	if secs <= 0 {
		return 0
	}

	return float64(s.Measurements) / secs
}

// Runner drives a scenario's fleet through a directory and tallies what
// reaches the bus.
type Runner struct {
	logger    *slog.Logger
	bus       *pubsub.Bus
	dir       *sensor.Directory
	attention *attention.Tracker
	onTick    func(Stats)
}

// NewRunner builds a Runner.
func NewRunner(opts RunnerOptions) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{
		logger:    logger,
		bus:       opts.Bus,
		dir:       opts.Directory,
		attention: opts.Attention,
		onTick:    opts.OnTick,
	}
}

// Run starts the scenario's sensors, counts what they publish for the given
// duration (or until ctx cancels), then removes them again.
func (r *Runner) Run(ctx context.Context, sc *Scenario, duration time.Duration) (Stats, error) {
	configs, err := sc.Configs()
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{
		Sensors:            len(configs),
		MeasurementsByType: make(map[string]int64),
		SensorsByType:      make(map[string]int64),
		BySensor:           make(map[string]int64),
	}

	typeBySensor := make(map[string]string, len(configs))
	subs := make([]*pubsub.Subscription, 0, len(configs))

	defer func() {
		for _, sub := range subs {
			r.bus.Unsubscribe(sub)
		}
	}()

	// Subscribe before any worker starts so the first batches count too.
	for _, cfg := range configs {
		sub, subErr := r.bus.Subscribe(pubsub.DataTopic(cfg.SensorID))
		if subErr != nil {
			return Stats{}, fmt.Errorf("subscribe %s: %w", cfg.SensorID, subErr)
		}

		subs = append(subs, sub)
		typeBySensor[cfg.SensorID] = cfg.SensorType
		stats.SensorsByType[cfg.SensorType]++
	}

	var (
		mu sync.Mutex
		wg conc.WaitGroup
	)

	done := make(chan struct{})

	count := func(msg pubsub.Message) {
		n, sensorID := measurementCount(msg)
		if n == 0 {
			return
		}

		mu.Lock()
		stats.Measurements += int64(n)
		stats.BySensor[sensorID] += int64(n)
		stats.MeasurementsByType[typeBySensor[sensorID]] += int64(n)
		mu.Unlock()
	}

	for _, sub := range subs {
		wg.Go(func() {
			for {
				select {
				case <-done:
					drain(sub, count)

					return
				case msg, ok := <-sub.Messages():
					if !ok {
						return
					}

					count(msg)
				}
			}
		})
	}

	// Pin before the workers start so they come up already at full
	// attention instead of idling at the unwatched pace first.
	ids := make([]string, 0, len(configs))
	for _, cfg := range configs {
		ids = append(ids, cfg.SensorID)
	}

	r.watchFleet(ctx, ids)

	started := make([]string, 0, len(configs))

	for _, cfg := range configs {
		_, addErr := r.dir.AddSensor(cfg)
		if addErr != nil {
			r.unwatchFleet(ctx, ids)
			r.stopFleet(started)
			close(done)
			wg.Wait()

			return Stats{}, fmt.Errorf("add sensor %s: %w", cfg.SensorID, addErr)
		}

		started = append(started, cfg.SensorID)
	}

	r.logger.Info("simulation started",
		"scenario", sc.Name,
		"sensors", len(configs),
		"duration", duration)

	start := time.Now()

	timer := time.NewTimer(duration)
	defer timer.Stop()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

wait:
	for {
		select {
		case <-ctx.Done():
			break wait
		case <-timer.C:
			break wait
		case <-ticker.C:
			if r.onTick != nil {
				r.onTick(snapshot(&mu, &stats, time.Since(start)))
			}
		}
	}

	r.unwatchFleet(ctx, ids)

	// Stop the fleet first so final batches still land, then let the
	// counters drain what is buffered.
	r.stopFleet(started)

	close(done)
	wg.Wait()

	stats.Elapsed = time.Since(start)

	for _, sub := range subs {
		stats.Dropped += sub.Dropped()
	}

	r.logger.Info("simulation finished",
		"sensors", stats.Sensors,
		"measurements", stats.Measurements,
		"dropped", stats.Dropped,
		"elapsed", stats.Elapsed)

	return stats, nil
}

func (r *Runner) stopFleet(ids []string) {
	for _, id := range ids {
		err := r.dir.RemoveSensor(id)
		if err != nil {
			r.logger.Warn("remove simulated sensor", "sensor_id", id, "error", err)
		}
	}
}

// watchFleet pins every started sensor so attention is high for the run.
// Sync makes the pins visible before the first batches flow.
func (r *Runner) watchFleet(ctx context.Context, ids []string) {
	if r.attention == nil {
		return
	}

	for _, id := range ids {
		r.attention.PinSensor(id, watcherID)
	}

	err := r.attention.Sync(ctx)
	if err != nil {
		r.logger.Warn("attention sync", "error", err)
	}
}

func (r *Runner) unwatchFleet(ctx context.Context, ids []string) {
	if r.attention == nil {
		return
	}

	for _, id := range ids {
		r.attention.UnpinSensor(id, watcherID)
	}

	err := r.attention.Sync(ctx)
	if err != nil {
		r.logger.Warn("attention sync", "error", err)
	}
}

// drain consumes whatever is still buffered on the subscription without
// blocking.
func drain(sub *pubsub.Subscription, count func(pubsub.Message)) {
	for {
		select {
		case msg, ok := <-sub.Messages():
			if !ok {
				return
			}

			count(msg)
		default:
			return
		}
	}
}

// measurementCount extracts the measurement count and sensor id from a data
// topic message.
func measurementCount(msg pubsub.Message) (int, string) {
	switch m := msg.(type) {
	case pubsub.MeasurementBatchMsg:
		return len(m.Measurements), m.SensorID
	case pubsub.MeasurementMsg:
		return 1, m.Measurement.SensorID
	default:
		return 0, ""
	}
}

// snapshot copies the running tallies under the lock for OnTick consumers.
func snapshot(mu *sync.Mutex, stats *Stats, elapsed time.Duration) Stats {
	mu.Lock()
	defer mu.Unlock()

	out := Stats{
		Elapsed:            elapsed,
		Sensors:            stats.Sensors,
		Measurements:       stats.Measurements,
		MeasurementsByType: make(map[string]int64, len(stats.MeasurementsByType)),
		SensorsByType:      make(map[string]int64, len(stats.SensorsByType)),
		BySensor:           make(map[string]int64, len(stats.BySensor)),
	}

	for k, v := range stats.MeasurementsByType {
		out.MeasurementsByType[k] = v
	}

	for k, v := range stats.SensorsByType {
		out.SensorsByType[k] = v
	}

	for k, v := range stats.BySensor {
		out.BySensor[k] = v
	}

	return out
}
