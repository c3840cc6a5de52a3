package sensor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Sumatoshi-tech/sensoria/pkg/attention"
	"github.com/Sumatoshi-tech/sensoria/pkg/pubsub"
	"github.com/Sumatoshi-tech/sensoria/pkg/telemetry"
)

// AttributeWorkerOptions configures an AttributeWorker. Source and Owner are
// required; everything else has a usable zero value.
type AttributeWorkerOptions struct {
	Logger      *slog.Logger
	Bus         *pubsub.Bus
	SensorID    string
	AttributeID string
	Source      SampleSource
	Owner       BatchTarget
	Attention   AttentionSource
	// BatchSize fixes the emission batch size. Zero lets the attention
	// level pick it.
	BatchSize int
	// BaseWindow is the batch window before attention and load scaling.
	// Zero selects the default.
	BaseWindow time.Duration
	// SampleDelay paces the pump until the source reports its own delays.
	// Zero selects the default.
	SampleDelay time.Duration
}

// AttributeWorker pulls raw samples for one (sensor, attribute) pair,
// throttles the pull rate by attention level and system load, stamps each
// sample, and emits batches to the owning sensor worker either when the
// batch is full or when the adaptive batch window fires.
//
// All state past the configuration is owned by the worker goroutine.
type AttributeWorker struct {
	logger      *slog.Logger
	bus         *pubsub.Bus
	sensorID    string
	attributeID string
	source      SampleSource
	owner       BatchTarget
	attention   AttentionSource
	fixedBatch  int
	baseWindow  time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	// Owned by the worker goroutine.
	queue      []Sample
	batch      []telemetry.Measurement
	level      attention.Level
	loadMult   float64
	paused     bool
	windowDur  time.Duration
	baseDelay  time.Duration
	lastStamp  int64
	pullFailed bool
}

// NewAttributeWorker constructs an AttributeWorker. It does nothing until
// Start.
func NewAttributeWorker(opts AttributeWorkerOptions) *AttributeWorker {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	baseWindow := opts.BaseWindow
	if baseWindow <= 0 {
		baseWindow = DefaultBaseWindow
	}

	baseDelay := opts.SampleDelay
	if baseDelay <= 0 {
		baseDelay = DefaultSampleDelay
	}

	return &AttributeWorker{
		logger:      logger.With("sensor_id", opts.SensorID, "attribute_id", opts.AttributeID),
		bus:         opts.Bus,
		sensorID:    opts.SensorID,
		attributeID: opts.AttributeID,
		source:      opts.Source,
		owner:       opts.Owner,
		attention:   opts.Attention,
		fixedBatch:  opts.BatchSize,
		baseWindow:  baseWindow,
		loadMult:    1.0,
		baseDelay:   baseDelay,
	}
}

// Start launches the worker goroutine. It is a no-op when already running.
func (w *AttributeWorker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})

	go w.run(runCtx, w.done)
}

// Stop halts the worker goroutine and waits for it to exit. Stopping a
// worker that never started is a no-op.
func (w *AttributeWorker) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel = nil
	w.done = nil
	w.mu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	<-done
}

func (w *AttributeWorker) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	var sensorCh, attrCh, loadCh <-chan pubsub.Message

	if w.bus != nil {
		if sub, err := w.bus.Subscribe(pubsub.AttentionTopic(w.sensorID)); err == nil {
			defer w.bus.Unsubscribe(sub)
			sensorCh = sub.Messages()
		}

		if sub, err := w.bus.Subscribe(pubsub.AttributeAttentionTopic(w.sensorID, w.attributeID)); err == nil {
			defer w.bus.Unsubscribe(sub)
			attrCh = sub.Messages()
		}

		if sub, err := w.bus.Subscribe(pubsub.TopicSystemLoad); err == nil {
			defer w.bus.Unsubscribe(sub)
			loadCh = sub.Messages()
		}
	}

	w.refreshBackpressure()

	pump := time.NewTimer(w.popDelay())
	defer pump.Stop()

	window := time.NewTimer(w.windowDur)
	defer window.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.owner.Done():
			w.logger.Info("attribute worker stopping, owner gone")

			return
		case <-pump.C:
			w.pump(ctx)

			if len(w.batch) >= w.batchSize() && !w.emit() {
				return
			}

			pump.Reset(w.popDelay())
		case <-window.C:
			if !w.emit() {
				return
			}

			window.Reset(w.windowDur)
		case msg, ok := <-sensorCh:
			if !ok {
				sensorCh = nil

				continue
			}

			w.onAttention(msg)
			// Reschedule so the new pace applies now, not after the
			// previously armed interval.
			pump.Reset(w.popDelay())
			window.Reset(w.windowDur)
		case msg, ok := <-attrCh:
			if !ok {
				attrCh = nil

				continue
			}

			w.onAttention(msg)
			pump.Reset(w.popDelay())
			window.Reset(w.windowDur)
		case msg, ok := <-loadCh:
			if !ok {
				loadCh = nil

				continue
			}

			w.onLoad(msg)
			pump.Reset(w.popDelay())
			window.Reset(w.windowDur)
		}
	}
}

// pump pulls from the source when the local queue ran dry, then consumes one
// sample: stamp it and move it into the pending batch. Paused workers hold.
func (w *AttributeWorker) pump(ctx context.Context) {
	if w.paused {
		return
	}

	if len(w.queue) == 0 {
		w.pull(ctx)

		if len(w.queue) == 0 {
			return
		}
	}

	s := w.queue[0]
	w.queue = w.queue[1:]
	w.baseDelay = s.Delay

	w.batch = append(w.batch, telemetry.Measurement{
		SensorID:    w.sensorID,
		AttributeID: w.attributeID,
		Timestamp:   w.stamp(),
		Payload:     s.Payload,
	})
}

func (w *AttributeWorker) pull(ctx context.Context) {
	if w.source == nil {
		return
	}

	samples, err := w.source.Pull(ctx, w.batchSize())
	if err != nil {
		if !w.pullFailed {
			w.pullFailed = true
			w.logger.Warn("sample source failing", "error", err)
		}

		return
	}

	if w.pullFailed {
		w.pullFailed = false
		w.logger.Info("sample source recovered")
	}

	w.queue = append(w.queue, samples...)
}

// emit hands the pending batch to the owner. An empty batch is a no-op, a
// paused worker holds the batch. Returns false when the owner is gone and
// the worker must stop.
func (w *AttributeWorker) emit() bool {
	if len(w.batch) == 0 || w.paused {
		return true
	}

	select {
	case <-w.owner.Done():
		w.logger.Info("attribute worker stopping, owner gone")

		return false
	default:
	}

	if err := w.owner.PutBatchAttributes(w.batch); err != nil {
		w.logger.Warn("batch emission rejected", "error", err)
	}

	w.batch = nil

	return true
}

func (w *AttributeWorker) onAttention(msg pubsub.Message) {
	m, ok := msg.(pubsub.AttentionChangedMsg)
	if !ok {
		return
	}

	if w.attention != nil {
		w.refreshBackpressure()

		return
	}

	lvl, ok := attention.ParseLevel(m.Level)
	if !ok {
		return
	}

	w.level = lvl
	w.recomputeLocal()
}

func (w *AttributeWorker) onLoad(msg pubsub.Message) {
	m, ok := msg.(pubsub.SystemLoadChangedMsg)
	if !ok {
		return
	}

	if w.attention != nil {
		w.refreshBackpressure()

		return
	}

	if m.Multiplier > 0 {
		w.loadMult = m.Multiplier
	}

	w.paused = m.Level == "critical" && w.level <= attention.LevelLow
	w.recomputeLocal()
}

// refreshBackpressure re-reads level, pause state, load multiplier, and
// batch window from the tracker. Without a tracker the stream is treated as
// unwatched: level none and a window of base times ten.
func (w *AttributeWorker) refreshBackpressure() {
	if w.attention == nil {
		w.level = attention.LevelNone
		w.loadMult = 1.0
		w.paused = false
		w.windowDur = w.baseWindow * 10

		return
	}

	cfg := w.attention.SuggestConfig(w.sensorID, w.attributeID)
	w.level = cfg.AttentionLevel
	w.paused = cfg.Paused

	if cfg.LoadMultiplier > 0 {
		w.loadMult = cfg.LoadMultiplier
	}

	w.windowDur = w.attention.CalculateBatchWindow(w.baseWindow, w.sensorID, w.attributeID)
}

// recomputeLocal rebuilds the batch window from the level config alone, for
// workers running without a tracker.
func (w *AttributeWorker) recomputeLocal() {
	cfg := attention.LevelConfig(w.level)
	w.windowDur = cfg.Clamp(time.Duration(float64(w.baseWindow) * cfg.Multiplier * w.loadMult))
}

// popDelay is the throttled pause between sample pops: the source-reported
// delay floored at 50ms, scaled by attention and load.
func (w *AttributeWorker) popDelay() time.Duration {
	base := w.baseDelay
	if base < minPopDelay {
		base = minPopDelay
	}

	return time.Duration(float64(base) * w.level.ThrottleMultiplier() * w.loadMult)
}

func (w *AttributeWorker) batchSize() int {
	if w.fixedBatch > 0 {
		return w.fixedBatch
	}

	return w.level.RecommendedBatchSize()
}

// stamp returns a millisecond timestamp that never regresses even when the
// wall clock does.
func (w *AttributeWorker) stamp() int64 {
	now := time.Now().UnixMilli()
	if now < w.lastStamp {
		now = w.lastStamp
	}

	w.lastStamp = now

	return now
}
