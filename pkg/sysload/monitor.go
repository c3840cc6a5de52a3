// Package sysload samples host utilization and grades it into the load
// levels that drive adaptive backpressure across the engine.
//
// The monitor owns a single sampling goroutine. Consumers either read the
// latest snapshot lock-free through Current or subscribe to the system:load
// topic for level transitions.
package sysload

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/Sumatoshi-tech/sensoria/pkg/pubsub"
)

// DefaultSampleInterval is the sampling cadence when MonitorOptions does not
// set one.
const DefaultSampleInterval = time.Second

const meterName = "sensoria/sysload"

// Snapshot is the monitor's most recently derived state.
type Snapshot struct {
	Level       Level
	Multiplier  float64
	Utilization float64
	CPU         float64
	Memory      float64
	Goroutines  int
	SampledAt   time.Time
}

// MonitorOptions configures a Monitor.
type MonitorOptions struct {
	// Logger receives transition and sampler failure events.
	// Defaults to slog.Default().
	Logger *slog.Logger
	// Bus receives SystemLoadChangedMsg on level transitions. Optional.
	Bus *pubsub.Bus
	// Sampler provides raw readings. Defaults to SystemSampler.
	Sampler Sampler
	// SampleInterval is the sampling cadence. Defaults to
	// DefaultSampleInterval.
	SampleInterval time.Duration
}

// Monitor periodically samples utilization, applies the hysteresis level
// machine, and publishes level transitions on system:load.
type Monitor struct {
	logger   *slog.Logger
	bus      *pubsub.Bus
	sampler  Sampler
	interval time.Duration

	current atomic.Pointer[Snapshot]

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	// samplerFailing is touched only by the run goroutine.
	samplerFailing bool
}

// NewMonitor constructs a stopped Monitor. Current is usable immediately and
// reports LevelNormal until the first sample lands.
func NewMonitor(opts MonitorOptions) *Monitor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	sampler := opts.Sampler
	if sampler == nil {
		sampler = SystemSampler{}
	}

	interval := opts.SampleInterval
	if interval <= 0 {
		interval = DefaultSampleInterval
	}

	m := &Monitor{
		logger:   logger,
		bus:      opts.Bus,
		sampler:  sampler,
		interval: interval,
	}

	m.current.Store(&Snapshot{
		Level:      LevelNormal,
		Multiplier: LevelNormal.Multiplier(),
		SampledAt:  time.Now(),
	})

	m.registerGauges()

	return m
}

// Start begins sampling. It is a no-op if the monitor is already running.
// Sampling stops when ctx is canceled or Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go m.run(runCtx, m.done)
}

// Stop halts sampling and waits for the loop to exit. Stopping a monitor
// that never started is a no-op.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel = nil
	m.done = nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	<-done
}

// Current returns the latest snapshot without locking.
func (m *Monitor) Current() Snapshot {
	return *m.current.Load()
}

// CurrentLevel returns the latest load level.
func (m *Monitor) CurrentLevel() Level {
	return m.current.Load().Level
}

// LoadMultiplier returns the backpressure multiplier of the current level.
func (m *Monitor) LoadMultiplier() float64 {
	return m.current.Load().Multiplier
}

func (m *Monitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	reading, err := m.sampler.Sample(ctx)
	if err != nil {
		if !m.samplerFailing {
			m.samplerFailing = true

			m.logger.Warn("load sampling failed, keeping previous level", "error", err)
		}

		return
	}

	if m.samplerFailing {
		m.samplerFailing = false

		m.logger.Info("load sampling recovered")
	}

	prev := m.current.Load()
	utilization := reading.Utilization()
	level := NextLevel(prev.Level, utilization)

	snap := &Snapshot{
		Level:       level,
		Multiplier:  level.Multiplier(),
		Utilization: utilization,
		CPU:         reading.CPU,
		Memory:      reading.Memory,
		Goroutines:  reading.Goroutines,
		SampledAt:   time.Now(),
	}
	m.current.Store(snap)

	if level == prev.Level {
		return
	}

	m.logger.Info("system load level changed",
		"from", prev.Level.String(),
		"to", level.String(),
		"utilization", utilization,
		"multiplier", snap.Multiplier)

	if m.bus != nil {
		m.bus.Publish(ctx, pubsub.TopicSystemLoad, pubsub.SystemLoadChangedMsg{
			Level:                level.String(),
			Multiplier:           snap.Multiplier,
			SchedulerUtilization: utilization,
		})
	}
}

// registerGauges exposes the current level and utilization as observable
// gauges. Failures disable the gauges, never the monitor.
func (m *Monitor) registerGauges() {
	meter := otel.Meter(meterName)

	levelGauge, err := meter.Int64ObservableGauge("sensoria.load.level",
		metric.WithDescription("Current load level, 0=normal 3=critical"))
	if err != nil {
		m.logger.Warn("sysload metrics disabled", "error", err)

		return
	}

	utilizationGauge, err := meter.Float64ObservableGauge("sensoria.load.utilization",
		metric.WithDescription("Composite utilization, 0..1"))
	if err != nil {
		m.logger.Warn("sysload metrics disabled", "error", err)

		return
	}

	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		snap := m.Current()
		o.ObserveInt64(levelGauge, int64(snap.Level))
		o.ObserveFloat64(utilizationGauge, snap.Utilization)

		return nil
	}, levelGauge, utilizationGauge)
	if err != nil {
		m.logger.Warn("sysload metrics disabled", "error", err)
	}
}
