// Package replicator fans measurements out to a downstream sink through a
// fixed pool of batching consumers.
//
// Each sensor is assigned to one pool worker by hashing its id, so all of a
// sensor's measurements flow through a single worker and batches never
// interleave. Workers follow the sensor data topics of the sensors routed to
// them, buffer per sensor, and flush either when a batch fills or when the
// batch timer fires. The sink is the system of record elsewhere; there is no
// retry queue, and data dropped under backpressure is acceptable.
package replicator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/Sumatoshi-tech/sensoria/pkg/pubsub"
	"github.com/Sumatoshi-tech/sensoria/pkg/telemetry"
)

const meterName = "sensoria/replicator"

// Pool defaults.
const (
	DefaultPoolSize     = 8
	DefaultBatchSize    = 100
	DefaultBatchTimeout = 1000 * time.Millisecond

	queueSize = 256
)

// Sink receives flushed batches. Flush errors are logged and the batch is
// dropped; the pool keeps going.
type Sink interface {
	Flush(ctx context.Context, sensorID string, batch []telemetry.Measurement) error
}

// LogSink is a Sink that logs batch sizes and drops the data. Serve mode uses
// it when no real downstream is wired.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Flush(_ context.Context, sensorID string, batch []telemetry.Measurement) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	logger.Debug("replicated batch", "sensor_id", sensorID, "measurements", len(batch))

	return nil
}

// Options configures a Pool.
type Options struct {
	// Logger receives worker lifecycle and sink transition events. Defaults
	// to slog.Default().
	Logger *slog.Logger
	// Bus carries the sensor data topics the workers follow.
	Bus *pubsub.Bus
	// Sink receives flushed batches. Defaults to a LogSink.
	Sink Sink
	// PoolSize fixes the worker count. Zero selects the default.
	PoolSize int
	// BatchSize flushes a sensor's buffer when it reaches this many
	// measurements. Zero selects the default.
	BatchSize int
	// BatchTimeout flushes a sensor's buffer this long after its first
	// buffered measurement. Zero selects the default.
	BatchTimeout time.Duration
}

// Pool routes sensors to a fixed set of batching workers. It satisfies
// sensor.ReplicatorNotifier.
type Pool struct {
	logger  *slog.Logger
	workers []*worker
}

// New constructs a Pool. It does nothing until Start.
func New(opts Options) *Pool {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	size := opts.PoolSize
	if size <= 0 {
		size = DefaultPoolSize
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	batchTimeout := opts.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = DefaultBatchTimeout
	}

	sink := opts.Sink
	if sink == nil {
		sink = LogSink{Logger: logger}
	}

	var metrics *poolMetrics

	m, err := newPoolMetrics(otel.Meter(meterName))
	if err != nil {
		logger.Warn("replicator metrics disabled", "error", err)
	} else {
		metrics = m
	}

	p := &Pool{logger: logger, workers: make([]*worker, size)}

	for i := range p.workers {
		p.workers[i] = &worker{
			logger:       logger.With("replicator_worker", i),
			bus:          opts.Bus,
			sink:         sink,
			batchSize:    batchSize,
			batchTimeout: batchTimeout,
			cmds:         make(chan func(), queueSize),
			intake:       make(chan pubsub.Message, queueSize),
			metrics:      metrics,
		}
	}

	return p
}

// Start launches the pool workers.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		w.start(ctx)
	}
}

// Stop halts every worker, flushing buffered batches first.
func (p *Pool) Stop() {
	for _, w := range p.workers {
		w.stop()
	}
}

// WorkerIndex reports which pool worker a sensor is routed to. The mapping is
// stable for the life of the pool.
func (p *Pool) WorkerIndex(sensorID string) int {
	return int(xxhash.Sum64String(sensorID) % uint64(len(p.workers)))
}

// SensorUp routes the sensor to its worker, which starts following the
// sensor's data topic.
func (p *Pool) SensorUp(sensorID string) {
	w := p.workers[p.WorkerIndex(sensorID)]
	w.enqueue(func() { w.sensorUp(sensorID) })
}

// SensorDown stops following the sensor's data topic and flushes anything
// buffered for it.
func (p *Pool) SensorDown(sensorID string) {
	w := p.workers[p.WorkerIndex(sensorID)]
	w.enqueue(func() { w.sensorDown(sensorID) })
}

// pending is one sensor's unflushed buffer. gen invalidates stale timer
// callbacks: a flush bumps it, so a timer armed for an earlier batch no-ops.
type pending struct {
	batch []telemetry.Measurement
	timer *time.Timer
	gen   uint64
}

type worker struct {
	logger       *slog.Logger
	bus          *pubsub.Bus
	sink         Sink
	batchSize    int
	batchTimeout time.Duration

	cmds       chan func()
	intake     chan pubsub.Message
	dropLogged atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	// Owned by the worker goroutine.
	runCtx     context.Context
	subs       map[string]*pubsub.Subscription
	pending    map[string]*pending
	sinkFailed bool

	metrics *poolMetrics
}

func (w *worker) start(ctx context.Context) {
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

func (w *worker) stop() {
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

// enqueue hands a command to the worker goroutine without blocking the
// caller. Overflow drops the command.
func (w *worker) enqueue(fn func()) {
	select {
	case w.cmds <- fn:
		if w.dropLogged.CompareAndSwap(true, false) {
			w.logger.Info("replicator queue accepting commands again")
		}
	default:
		if w.dropLogged.CompareAndSwap(false, true) {
			w.logger.Warn("replicator queue full, dropping commands")
		}
	}
}

func (w *worker) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	w.runCtx = ctx
	w.subs = make(map[string]*pubsub.Subscription)
	w.pending = make(map[string]*pending)

	defer w.teardown()

	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-w.cmds:
			fn()
		case msg := <-w.intake:
			w.onMessage(ctx, msg)
		}
	}
}

// teardown unhooks every subscription and flushes what is buffered. The run
// context is already canceled here, so flushes use a fresh one.
func (w *worker) teardown() {
	for _, sub := range w.subs {
		w.bus.Unsubscribe(sub)
	}

	ctx := context.Background()

	for sensorID, p := range w.pending {
		w.flush(ctx, sensorID, p)
	}
}

func (w *worker) sensorUp(sensorID string) {
	if w.bus == nil {
		return
	}

	if _, ok := w.subs[sensorID]; ok {
		return
	}

	sub, err := w.bus.Subscribe(pubsub.DataTopic(sensorID))
	if err != nil {
		w.logger.Warn("cannot follow sensor", "sensor_id", sensorID, "error", err)

		return
	}

	w.subs[sensorID] = sub

	// Forward until the bus closes the subscription.
	go func() {
		for msg := range sub.Messages() {
			select {
			case w.intake <- msg:
			case <-w.runCtx.Done():
				return
			}
		}
	}()

	w.logger.Debug("following sensor", "sensor_id", sensorID)
}

func (w *worker) sensorDown(sensorID string) {
	sub, ok := w.subs[sensorID]
	if !ok {
		return
	}

	w.bus.Unsubscribe(sub)
	delete(w.subs, sensorID)

	if p, ok := w.pending[sensorID]; ok {
		w.flush(w.runCtx, sensorID, p)
		delete(w.pending, sensorID)
	}

	w.logger.Debug("unfollowing sensor", "sensor_id", sensorID)
}

func (w *worker) onMessage(ctx context.Context, msg pubsub.Message) {
	switch m := msg.(type) {
	case pubsub.MeasurementMsg:
		w.buffer(ctx, m.Measurement.SensorID, []telemetry.Measurement{m.Measurement})
	case pubsub.MeasurementBatchMsg:
		w.buffer(ctx, m.SensorID, m.Measurements)
	}
}

func (w *worker) buffer(ctx context.Context, sensorID string, measurements []telemetry.Measurement) {
	if sensorID == "" || len(measurements) == 0 {
		return
	}

	p := w.pending[sensorID]
	if p == nil {
		p = &pending{}
		w.pending[sensorID] = p
	}

	p.batch = append(p.batch, measurements...)

	if len(p.batch) >= w.batchSize {
		w.flush(ctx, sensorID, p)

		return
	}

	if p.timer == nil {
		gen := p.gen
		p.timer = time.AfterFunc(w.batchTimeout, func() {
			w.enqueue(func() { w.flushExpired(sensorID, gen) })
		})
	}
}

// flushExpired is the batch timer callback. gen guards against flushing a
// batch that started filling after the timer was armed.
func (w *worker) flushExpired(sensorID string, gen uint64) {
	p, ok := w.pending[sensorID]
	if !ok || p.gen != gen {
		return
	}

	w.flush(w.runCtx, sensorID, p)
}

func (w *worker) flush(ctx context.Context, sensorID string, p *pending) {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}

	p.gen++

	if len(p.batch) == 0 {
		return
	}

	batch := p.batch
	p.batch = nil

	if err := w.sink.Flush(ctx, sensorID, batch); err != nil {
		if w.metrics != nil {
			w.metrics.sinkFailures.Add(ctx, 1)
		}

		if !w.sinkFailed {
			w.sinkFailed = true
			w.logger.Warn("replicator sink failing", "sensor_id", sensorID, "error", err)
		}

		return
	}

	if w.sinkFailed {
		w.sinkFailed = false
		w.logger.Info("replicator sink recovered", "sensor_id", sensorID)
	}

	if w.metrics != nil {
		w.metrics.batches.Add(ctx, 1)
		w.metrics.measurements.Add(ctx, int64(len(batch)))
	}
}

type poolMetrics struct {
	batches      metric.Int64Counter
	measurements metric.Int64Counter
	sinkFailures metric.Int64Counter
}

func newPoolMetrics(mt metric.Meter) (*poolMetrics, error) {
	batches, err := mt.Int64Counter("sensoria.replicator.batches",
		metric.WithDescription("Batches flushed to the downstream sink"),
		metric.WithUnit("{batch}"))
	if err != nil {
		return nil, fmt.Errorf("create sensoria.replicator.batches: %w", err)
	}

	measurements, err := mt.Int64Counter("sensoria.replicator.measurements",
		metric.WithDescription("Measurements flushed to the downstream sink"),
		metric.WithUnit("{measurement}"))
	if err != nil {
		return nil, fmt.Errorf("create sensoria.replicator.measurements: %w", err)
	}

	sinkFailures, err := mt.Int64Counter("sensoria.replicator.sink_failures",
		metric.WithDescription("Failed sink flushes"),
		metric.WithUnit("{failure}"))
	if err != nil {
		return nil, fmt.Errorf("create sensoria.replicator.sink_failures: %w", err)
	}

	return &poolMetrics{batches: batches, measurements: measurements, sinkFailures: sinkFailures}, nil
}
