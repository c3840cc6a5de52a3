package sensor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/Sumatoshi-tech/sensoria/pkg/attention"
	"github.com/Sumatoshi-tech/sensoria/pkg/pubsub"
	"github.com/Sumatoshi-tech/sensoria/pkg/telemetry"
)

const meterName = "sensoria/sensor"

// WorkerOptions carries the dependencies shared by every sensor worker.
type WorkerOptions struct {
	// Logger receives worker lifecycle and drop events. Defaults to
	// slog.Default().
	Logger *slog.Logger
	// Bus receives data, signal, and discovery broadcasts. Optional.
	Bus *pubsub.Bus
	// Store persists measurements. Optional; without it writes are
	// dropped and state snapshots carry no measurements.
	Store MeasurementStore
	// Attention answers level queries. Nil means nobody is watching.
	Attention AttentionSource
	// Replicator is told when the sensor comes up and goes down. Optional.
	Replicator ReplicatorNotifier
	// QueueSize bounds the command mailbox. Zero selects the default.
	QueueSize int
	// HibernateAfter is how long a sensor must sit idle and unwatched
	// before it hibernates; IdleCheckInterval is how often that is
	// checked. Zero selects the defaults.
	HibernateAfter    time.Duration
	IdleCheckInterval time.Duration
	// PriorityAttributes are broadcast at high attention even when nobody
	// is watching. Nil selects DefaultPriorityAttributes; an empty slice
	// disables the override.
	PriorityAttributes []string
}

// Worker owns one sensor: its attribute registry, its attribute workers, and
// every store write and bus broadcast made on the sensor's behalf.
//
// All mutations funnel through a single goroutine fed by a bounded command
// queue, so per-sensor state needs no locks and broadcasts for one sensor
// are totally ordered. The worker never refuses a write; when the queue is
// full it drops the command and logs once per transition.
type Worker struct {
	cfg        Config
	logger     *slog.Logger
	bus        *pubsub.Bus
	store      MeasurementStore
	attention  AttentionSource
	replicator ReplicatorNotifier
	priority   map[string]struct{}

	hibernateAfter time.Duration
	idleEvery      time.Duration

	cmds       chan func()
	dropLogged atomic.Bool

	mu      sync.Mutex
	cancel  context.CancelFunc
	started bool
	// stopped is closed when the run goroutine exits, after teardown.
	stopped chan struct{}

	// Owned by the worker goroutine.
	registry      map[string]AttributeMeta
	connectorName string
	level         attention.Level
	lastActivity  time.Time
	hib           *hibernatedState
	attrWorkers   map[string]*AttributeWorker
	attnSub       *pubsub.Subscription

	metrics *workerMetrics
}

// NewWorker constructs a sensor worker. It does nothing until Start.
func NewWorker(cfg Config, opts WorkerOptions) *Worker {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	hibernateAfter := opts.HibernateAfter
	if hibernateAfter <= 0 {
		hibernateAfter = DefaultHibernateAfter
	}

	idleEvery := opts.IdleCheckInterval
	if idleEvery <= 0 {
		idleEvery = DefaultIdleCheckInterval
	}

	if cfg.BaseWindow <= 0 {
		cfg.BaseWindow = DefaultBaseWindow
	}

	priorityIDs := opts.PriorityAttributes
	if priorityIDs == nil {
		priorityIDs = DefaultPriorityAttributes
	}

	priority := make(map[string]struct{}, len(priorityIDs))
	for _, id := range priorityIDs {
		priority[id] = struct{}{}
	}

	registry := make(map[string]AttributeMeta, len(cfg.Attributes))
	now := time.Now().UnixMilli()

	for id, meta := range cfg.Attributes {
		if telemetry.ValidateAttributeID(id) != nil {
			continue
		}

		if meta.Type == "" {
			meta.Type = telemetry.InferType(id, nil)
		}

		if meta.RegisteredMS == 0 {
			meta.RegisteredMS = now
		}

		registry[id] = meta
	}

	w := &Worker{
		cfg:            cfg,
		logger:         logger.With("sensor_id", cfg.SensorID),
		bus:            opts.Bus,
		store:          opts.Store,
		attention:      opts.Attention,
		replicator:     opts.Replicator,
		priority:       priority,
		hibernateAfter: hibernateAfter,
		idleEvery:      idleEvery,
		cmds:           make(chan func(), queueSize),
		stopped:        make(chan struct{}),
		registry:       registry,
		connectorName:  cfg.ConnectorName,
		lastActivity:   time.Now(),
		attrWorkers:    make(map[string]*AttributeWorker),
	}

	metrics, err := newWorkerMetrics(otel.Meter(meterName))
	if err != nil {
		logger.Warn("sensor metrics disabled", "error", err)
	} else {
		w.metrics = metrics
	}

	return w
}

// Start launches the worker goroutine. Registration side effects (discovery
// broadcast, replicator notification, attribute workers) run inside that
// goroutine, never in the caller. Workers are single-shot: a stopped worker
// cannot be restarted.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return
	}

	w.started = true

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	go w.run(runCtx)
}

// Stop halts the worker, waits for teardown (unregister broadcast,
// replicator notification, store cleanup) to finish, and returns. Stopping
// a worker that never started is a no-op.
func (w *Worker) Stop() {
	w.mu.Lock()

	if !w.started {
		w.mu.Unlock()

		return
	}

	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	<-w.stopped
}

// Done reports worker death to attribute workers and the directory. The
// channel closes after teardown completes.
func (w *Worker) Done() <-chan struct{} { return w.stopped }

// PutAttribute ingests one measurement. The attribute is auto-registered on
// first sight. Invalid attribute ids are rejected synchronously; accepted
// measurements are applied asynchronously.
func (w *Worker) PutAttribute(m telemetry.Measurement) error {
	if err := telemetry.ValidateAttributeID(m.AttributeID); err != nil {
		return err
	}

	m.SensorID = w.cfg.SensorID

	w.enqueue(func() { w.handlePut([]telemetry.Measurement{m}, false) })

	return nil
}

// PutBatchAttributes ingests a batch in producer order. The whole batch is
// rejected when any measurement carries an invalid attribute id. The worker
// takes ownership of the slice.
func (w *Worker) PutBatchAttributes(measurements []telemetry.Measurement) error {
	for i := range measurements {
		if err := telemetry.ValidateAttributeID(measurements[i].AttributeID); err != nil {
			return err
		}

		measurements[i].SensorID = w.cfg.SensorID
	}

	if len(measurements) == 0 {
		return nil
	}

	w.enqueue(func() { w.handlePut(measurements, true) })

	return nil
}

// ClearAttribute drops the attribute's stored history. The registry entry
// stays.
func (w *Worker) ClearAttribute(attributeID string) {
	w.enqueue(func() {
		w.wake()

		if w.store != nil {
			w.store.Remove(w.cfg.SensorID, attributeID)
		}
	})
}

// UpdateAttributeRegistry registers or unregisters an attribute and
// broadcasts the change on the sensor's signal topic.
func (w *Worker) UpdateAttributeRegistry(action RegistryAction, attributeID string, meta AttributeMeta) error {
	if err := telemetry.ValidateAttributeID(attributeID); err != nil {
		return err
	}

	switch action {
	case RegistryRegister, RegistryUnregister:
	default:
		return fmt.Errorf("sensor: unknown registry action %q", action)
	}

	w.enqueue(func() { w.handleRegistry(action, attributeID, meta) })

	return nil
}

// UpdateConnectorName renames the sensor's connector and broadcasts the
// change on the sensor's signal topic.
func (w *Worker) UpdateConnectorName(name string) {
	w.enqueue(func() { w.handleConnectorName(name) })
}

// GetState snapshots the sensor without waking it from hibernation. n bounds
// the measurements returned per attribute; n <= 0 means no bound.
func (w *Worker) GetState(ctx context.Context, mode StateMode, n int) (SensorState, error) {
	reply := make(chan SensorState, 1)

	select {
	case w.cmds <- func() { reply <- w.snapshotState(mode, n) }:
	case <-w.stopped:
		return SensorState{}, ErrWorkerStopped
	case <-ctx.Done():
		return SensorState{}, ctx.Err()
	}

	select {
	case st := <-reply:
		return st, nil
	case <-w.stopped:
		return SensorState{}, ErrWorkerStopped
	case <-ctx.Done():
		return SensorState{}, ctx.Err()
	}
}

// enqueue hands a command to the worker goroutine without blocking the
// caller. Overflow drops the command.
func (w *Worker) enqueue(fn func()) {
	select {
	case w.cmds <- fn:
		if w.dropLogged.CompareAndSwap(true, false) {
			w.logger.Info("sensor queue accepting commands again")
		}
	default:
		if w.metrics != nil {
			w.metrics.dropped.Add(context.Background(), 1)
		}

		if w.dropLogged.CompareAndSwap(false, true) {
			w.logger.Warn("sensor queue full, dropping commands")
		}
	}
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.stopped)
	defer w.teardown()

	w.postInit(ctx)

	var attnCh <-chan pubsub.Message
	if w.attnSub != nil {
		attnCh = w.attnSub.Messages()
	}

	idle := time.NewTicker(w.idleEvery)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-w.cmds:
			fn()
		case msg, ok := <-attnCh:
			if !ok {
				attnCh = nil

				continue
			}

			w.handleAttention(msg)
		case <-idle.C:
			w.maybeHibernate()
		}
	}
}

// postInit runs the registration side effects that must not block Start:
// attention subscription, discovery broadcast, replicator notification, and
// attribute worker startup.
func (w *Worker) postInit(ctx context.Context) {
	if w.bus != nil {
		if sub, err := w.bus.Subscribe(pubsub.AttentionTopic(w.cfg.SensorID)); err == nil {
			w.attnSub = sub
		}
	}

	if w.attention != nil {
		w.level = w.attention.GetSensorAttentionLevel(w.cfg.SensorID)
	}

	if w.bus != nil {
		w.bus.Publish(ctx, pubsub.TopicDiscovery, pubsub.SensorRegisteredMsg{
			SensorID:   w.cfg.SensorID,
			SensorName: w.cfg.SensorName,
			SensorType: w.cfg.SensorType,
		})
	}

	if w.replicator != nil {
		w.replicator.SensorUp(w.cfg.SensorID)
	}

	for attributeID, source := range w.cfg.Sources {
		if err := telemetry.ValidateAttributeID(attributeID); err != nil {
			w.logger.Warn("skipping sample source", "attribute_id", attributeID, "error", err)

			continue
		}

		aw := NewAttributeWorker(AttributeWorkerOptions{
			Logger:      w.logger,
			Bus:         w.bus,
			SensorID:    w.cfg.SensorID,
			AttributeID: attributeID,
			Source:      source,
			Owner:       w,
			Attention:   w.attention,
			BatchSize:   w.cfg.BatchSize,
			BaseWindow:  w.cfg.BaseWindow,
		})
		aw.Start(ctx)
		w.attrWorkers[attributeID] = aw
	}

	w.lastActivity = time.Now()
}

func (w *Worker) teardown() {
	for _, aw := range w.attrWorkers {
		aw.Stop()
	}

	if w.attnSub != nil {
		w.bus.Unsubscribe(w.attnSub)
		w.attnSub = nil
	}

	if w.bus != nil {
		w.bus.Publish(context.Background(), pubsub.TopicDiscovery, pubsub.SensorUnregisteredMsg{
			SensorID: w.cfg.SensorID,
		})
	}

	if w.replicator != nil {
		w.replicator.SensorDown(w.cfg.SensorID)
	}

	if w.store != nil {
		w.store.Cleanup(w.cfg.SensorID)
	}

	w.logger.Info("sensor stopped")
}

func (w *Worker) handlePut(measurements []telemetry.Measurement, asBatch bool) {
	w.wake()

	now := time.Now()
	nowMS := now.UnixMilli()

	for i := range measurements {
		m := &measurements[i]

		if m.Timestamp == 0 {
			m.Timestamp = nowMS
		}

		if _, ok := w.registry[m.AttributeID]; !ok {
			w.registry[m.AttributeID] = AttributeMeta{
				Type:         telemetry.InferType(m.AttributeID, m.Payload),
				RegisteredMS: nowMS,
			}
		}

		if w.store != nil {
			w.store.Put(*m)
		}
	}

	w.lastActivity = now

	if w.metrics != nil {
		w.metrics.measurements.Add(context.Background(), int64(len(measurements)))
	}

	w.broadcast(measurements, asBatch)
}

// broadcast applies the attention-sharded fan-out policy: the sensor's own
// data topic always fires; the per-level topic fires when someone is
// watching; priority attributes force the high topic when nobody is.
func (w *Worker) broadcast(measurements []telemetry.Measurement, asBatch bool) {
	if w.bus == nil || len(measurements) == 0 {
		return
	}

	var msg pubsub.Message
	if asBatch {
		msg = pubsub.MeasurementBatchMsg{SensorID: w.cfg.SensorID, Measurements: measurements}
	} else {
		msg = pubsub.MeasurementMsg{Measurement: measurements[0]}
	}

	ctx := context.Background()
	w.bus.Publish(ctx, pubsub.DataTopic(w.cfg.SensorID), msg)

	switch {
	case w.level != attention.LevelNone:
		w.bus.Publish(ctx, pubsub.AttentionDataTopic(w.level.String()), msg)
	case w.hasPriority(measurements):
		w.bus.Publish(ctx, pubsub.AttentionDataTopic(attention.LevelHigh.String()), msg)
	}
}

func (w *Worker) hasPriority(measurements []telemetry.Measurement) bool {
	for i := range measurements {
		if _, ok := w.priority[measurements[i].AttributeID]; ok {
			return true
		}
	}

	return false
}

func (w *Worker) handleRegistry(action RegistryAction, attributeID string, meta AttributeMeta) {
	w.wake()

	event := "attribute_registered"

	if action == RegistryUnregister {
		delete(w.registry, attributeID)

		event = "attribute_unregistered"
	} else {
		if meta.Type == "" {
			meta.Type = telemetry.InferType(attributeID, nil)
		}

		if meta.RegisteredMS == 0 {
			meta.RegisteredMS = time.Now().UnixMilli()
		}

		w.registry[attributeID] = meta
	}

	if w.bus != nil {
		w.bus.Publish(context.Background(), pubsub.SignalTopic(w.cfg.SensorID), pubsub.SensorSignalMsg{
			SensorID: w.cfg.SensorID,
			Event:    event,
			Detail:   map[string]any{"attribute_id": attributeID},
		})
	}
}

func (w *Worker) handleConnectorName(name string) {
	w.wake()

	w.connectorName = name

	if w.bus != nil {
		w.bus.Publish(context.Background(), pubsub.SignalTopic(w.cfg.SensorID), pubsub.SensorSignalMsg{
			SensorID: w.cfg.SensorID,
			Event:    "connector_renamed",
			Detail:   map[string]any{"connector_name": name},
		})
	}
}

func (w *Worker) handleAttention(msg pubsub.Message) {
	m, ok := msg.(pubsub.AttentionChangedMsg)
	if !ok || m.AttributeID != "" {
		return
	}

	if lvl, ok := attention.ParseLevel(m.Level); ok {
		w.level = lvl
	}
}

// snapshotState builds a state snapshot. Hibernating workers are peeked, not
// woken, so monitoring does not defeat hibernation.
func (w *Worker) snapshotState(mode StateMode, n int) SensorState {
	registry, connectorName := w.peekRegistry()

	status := StatusOK
	if w.hib != nil {
		status = StatusHibernating
	}

	st := SensorState{
		SensorID:       w.cfg.SensorID,
		SensorName:     w.cfg.SensorName,
		SensorType:     w.cfg.SensorType,
		ConnectorID:    w.cfg.ConnectorID,
		ConnectorName:  connectorName,
		Status:         status,
		AttentionLevel: w.level.String(),
		LastActivityMS: w.lastActivity.UnixMilli(),
		Attributes:     make(map[string]AttributeState, len(registry)),
	}

	var stored map[string][]telemetry.Measurement
	if w.store != nil {
		stored = w.store.GetAttributes(w.cfg.SensorID, n)
	}

	for id, meta := range registry {
		as := AttributeState{Type: meta.Type, Detail: meta.Detail}

		if ms := stored[id]; len(ms) > 0 {
			as.UpdatedMS = ms[0].Timestamp

			if mode == StateView {
				as.LastValue = ms[0].Payload
			} else {
				as.Measurements = ms
			}
		}

		st.Attributes[id] = as

		delete(stored, id)
	}

	// Stored history without a registry entry still shows up, typed by
	// inference.
	for id, ms := range stored {
		if len(ms) == 0 {
			continue
		}

		as := AttributeState{
			Type:      telemetry.InferType(id, ms[0].Payload),
			UpdatedMS: ms[0].Timestamp,
		}

		if mode == StateView {
			as.LastValue = ms[0].Payload
		} else {
			as.Measurements = ms
		}

		st.Attributes[id] = as
	}

	return st
}

// peekRegistry returns the registry and connector name, decoding the
// hibernated snapshot without mutating worker state.
func (w *Worker) peekRegistry() (map[string]AttributeMeta, string) {
	if w.hib == nil {
		return w.registry, w.connectorName
	}

	snap, err := expandState(w.hib)
	if err != nil {
		w.logger.Error("hibernated snapshot unreadable", "error", err)

		return map[string]AttributeMeta{}, w.connectorName
	}

	return snap.Attributes, snap.ConnectorName
}

// maybeHibernate compacts the worker when it is unwatched and has not seen a
// measurement for the configured idle window.
func (w *Worker) maybeHibernate() {
	if w.hib != nil || w.level > attention.LevelLow {
		return
	}

	if time.Since(w.lastActivity) < w.hibernateAfter {
		return
	}

	hib, err := compactState(workerSnapshot{
		ConnectorName: w.connectorName,
		Attributes:    w.registry,
	})
	if err != nil {
		w.logger.Error("hibernation failed", "error", err)

		return
	}

	w.hib = hib
	w.registry = nil

	if w.metrics != nil {
		w.metrics.hibernations.Add(context.Background(), 1)
	}

	w.logger.Info("sensor hibernating", "idle", time.Since(w.lastActivity).Round(time.Second))
}

// wake restores the live registry from the hibernated snapshot. No-op for a
// worker that is awake.
func (w *Worker) wake() {
	if w.hib == nil {
		return
	}

	snap, err := expandState(w.hib)
	if err != nil {
		w.logger.Error("hibernated snapshot unreadable, starting empty", "error", err)

		snap = workerSnapshot{Attributes: make(map[string]AttributeMeta)}
	}

	w.registry = snap.Attributes

	if snap.ConnectorName != "" {
		w.connectorName = snap.ConnectorName
	}

	w.hib = nil

	w.logger.Debug("sensor woke")
}

type workerMetrics struct {
	measurements metric.Int64Counter
	dropped      metric.Int64Counter
	hibernations metric.Int64Counter
}

func newWorkerMetrics(mt metric.Meter) (*workerMetrics, error) {
	measurements, err := mt.Int64Counter("sensoria.sensor.measurements",
		metric.WithDescription("Measurements ingested by sensor workers"),
		metric.WithUnit("{measurement}"))
	if err != nil {
		return nil, fmt.Errorf("create sensoria.sensor.measurements: %w", err)
	}

	dropped, err := mt.Int64Counter("sensoria.sensor.dropped",
		metric.WithDescription("Commands dropped on full sensor mailboxes"),
		metric.WithUnit("{command}"))
	if err != nil {
		return nil, fmt.Errorf("create sensoria.sensor.dropped: %w", err)
	}

	hibernations, err := mt.Int64Counter("sensoria.sensor.hibernations",
		metric.WithDescription("Sensor workers entering hibernation"),
		metric.WithUnit("{hibernation}"))
	if err != nil {
		return nil, fmt.Errorf("create sensoria.sensor.hibernations: %w", err)
	}

	return &workerMetrics{measurements: measurements, dropped: dropped, hibernations: hibernations}, nil
}
