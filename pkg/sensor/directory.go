package sensor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/Sumatoshi-tech/sensoria/pkg/pubsub"
)

// DirectoryOptions configures a Directory and the workers it starts.
type DirectoryOptions struct {
	Logger     *slog.Logger
	Bus        *pubsub.Bus
	Store      MeasurementStore
	Attention  AttentionSource
	Replicator ReplicatorNotifier

	// Worker knobs, passed through to every sensor worker.
	QueueSize          int
	HibernateAfter     time.Duration
	IdleCheckInterval  time.Duration
	PriorityAttributes []string

	// StateConcurrency bounds the parallel fan-out of GetAllSensorsState;
	// StateTimeout bounds each sensor's answer there. ReadTimeout bounds
	// single-sensor reads. ShutdownTimeout is how long a worker gets to
	// stop before it is abandoned. Zero selects the defaults.
	StateConcurrency int
	StateTimeout     time.Duration
	ReadTimeout      time.Duration
	ShutdownTimeout  time.Duration

	// ConfigSchema, when non-empty, is a JSON schema every sensor config
	// must satisfy before its worker starts.
	ConfigSchema string
}

// Directory supervises the sensor worker fleet: it starts and stops workers,
// answers state queries with placeholders for sensors that cannot answer in
// time, and tears the fleet down on shutdown.
type Directory struct {
	logger     *slog.Logger
	bus        *pubsub.Bus
	attention  AttentionSource
	workerOpts WorkerOptions
	schema     *gojsonschema.Schema

	stateConcurrency int
	stateTimeout     time.Duration
	readTimeout      time.Duration
	shutdownTimeout  time.Duration

	// runCtx outlives any caller context so workers are not bound to the
	// request that registered them. Canceled on Shutdown.
	runCtx    context.Context
	runCancel context.CancelFunc

	mu      sync.RWMutex
	workers map[string]*Worker
	closed  bool

	workerCount atomic.Int64
	metrics     *directoryMetrics
}

// NewDirectory constructs a Directory. It fails only when ConfigSchema is
// set and does not compile.
func NewDirectory(opts DirectoryOptions) (*Directory, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	stateConcurrency := opts.StateConcurrency
	if stateConcurrency <= 0 {
		stateConcurrency = DefaultStateConcurrency
	}

	stateTimeout := opts.StateTimeout
	if stateTimeout <= 0 {
		stateTimeout = DefaultStateTimeout
	}

	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}

	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = DefaultShutdownTimeout
	}

	runCtx, runCancel := context.WithCancel(context.Background())

	d := &Directory{
		logger:    logger,
		bus:       opts.Bus,
		attention: opts.Attention,
		workerOpts: WorkerOptions{
			Logger:             logger,
			Bus:                opts.Bus,
			Store:              opts.Store,
			Attention:          opts.Attention,
			Replicator:         opts.Replicator,
			QueueSize:          opts.QueueSize,
			HibernateAfter:     opts.HibernateAfter,
			IdleCheckInterval:  opts.IdleCheckInterval,
			PriorityAttributes: opts.PriorityAttributes,
		},
		stateConcurrency: stateConcurrency,
		stateTimeout:     stateTimeout,
		readTimeout:      readTimeout,
		shutdownTimeout:  shutdownTimeout,
		runCtx:           runCtx,
		runCancel:        runCancel,
		workers:          make(map[string]*Worker),
	}

	if opts.ConfigSchema != "" {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(opts.ConfigSchema))
		if err != nil {
			runCancel()

			return nil, fmt.Errorf("compile sensor config schema: %w", err)
		}

		d.schema = schema
	}

	metrics, err := newDirectoryMetrics(otel.Meter(meterName), &d.workerCount)
	if err != nil {
		logger.Warn("directory metrics disabled", "error", err)
	} else {
		d.metrics = metrics
	}

	return d, nil
}

// AddSensor starts a worker for the sensor. Adding a sensor that is already
// running reports started=false without an error.
func (d *Directory) AddSensor(cfg Config) (bool, error) {
	if cfg.SensorID == "" {
		return false, fmt.Errorf("%w: empty sensor id", ErrConfigRejected)
	}

	if err := d.validate(cfg); err != nil {
		return false, err
	}

	d.mu.Lock()

	if d.closed {
		d.mu.Unlock()

		return false, ErrDirectoryClosed
	}

	if _, ok := d.workers[cfg.SensorID]; ok {
		d.mu.Unlock()

		return false, nil
	}

	w := NewWorker(cfg, d.workerOpts)
	d.workers[cfg.SensorID] = w
	d.mu.Unlock()

	w.Start(d.runCtx)
	d.workerCount.Add(1)
	d.logger.Info("sensor started", "sensor_id", cfg.SensorID)

	return true, nil
}

// RemoveSensor stops the sensor's worker, waits for its teardown, and clears
// the sensor's attention records.
func (d *Directory) RemoveSensor(sensorID string) error {
	d.mu.Lock()

	if d.closed {
		d.mu.Unlock()

		return ErrDirectoryClosed
	}

	w, ok := d.workers[sensorID]
	if !ok {
		d.mu.Unlock()

		return fmt.Errorf("%w: %s", ErrSensorNotFound, sensorID)
	}

	delete(d.workers, sensorID)
	d.mu.Unlock()

	d.stopWorker(sensorID, w)

	if d.attention != nil {
		d.attention.CleanupSensor(sensorID)
	}

	d.workerCount.Add(-1)
	d.logger.Info("sensor removed", "sensor_id", sensorID)

	return nil
}

// Worker returns the running worker for a sensor id.
func (d *Directory) Worker(sensorID string) (*Worker, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	w, ok := d.workers[sensorID]

	return w, ok
}

// ListSensors returns the ids of all running sensors, sorted.
func (d *Directory) ListSensors() []string {
	d.mu.RLock()

	ids := make([]string, 0, len(d.workers))
	for id := range d.workers {
		ids = append(ids, id)
	}

	d.mu.RUnlock()

	sort.Strings(ids)

	return ids
}

// GetSensorState reads one sensor's state. A sensor that cannot answer
// within the read timeout is reported as unavailable, not as an error.
func (d *Directory) GetSensorState(ctx context.Context, sensorID string, mode StateMode, n int) (SensorState, error) {
	d.mu.RLock()
	w, ok := d.workers[sensorID]
	closed := d.closed
	d.mu.RUnlock()

	if closed {
		return SensorState{}, ErrDirectoryClosed
	}

	if !ok {
		return SensorState{}, fmt.Errorf("%w: %s", ErrSensorNotFound, sensorID)
	}

	readCtx, cancel := context.WithTimeout(ctx, d.readTimeout)
	defer cancel()

	st, err := w.GetState(readCtx, mode, n)
	if err != nil {
		d.logger.Warn("sensor state read failed", "sensor_id", sensorID, "error", err)

		return placeholderState(sensorID), nil
	}

	return st, nil
}

// GetAllSensorsState snapshots every sensor in parallel with bounded
// concurrency. Sensors that time out or error are represented by an
// unavailable placeholder so the result shape is stable. Results are ordered
// by sensor id.
func (d *Directory) GetAllSensorsState(ctx context.Context, mode StateMode, n int) []SensorState {
	d.mu.RLock()

	ids := make([]string, 0, len(d.workers))
	for id := range d.workers {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	workers := make([]*Worker, len(ids))
	for i, id := range ids {
		workers[i] = d.workers[id]
	}

	d.mu.RUnlock()

	states := make([]SensorState, len(ids))
	p := pool.New().WithMaxGoroutines(d.stateConcurrency)

	for i, w := range workers {
		p.Go(func() {
			readCtx, cancel := context.WithTimeout(ctx, d.stateTimeout)
			defer cancel()

			st, err := w.GetState(readCtx, mode, n)
			if err != nil {
				states[i] = placeholderState(ids[i])

				return
			}

			states[i] = st
		})
	}

	p.Wait()

	return states
}

// Shutdown stops every worker. Workers that do not stop within the shutdown
// timeout are abandoned and counted in the returned error. The directory
// rejects all operations afterwards.
func (d *Directory) Shutdown(ctx context.Context) error {
	d.mu.Lock()

	if d.closed {
		d.mu.Unlock()

		return nil
	}

	d.closed = true
	workers := d.workers
	d.workers = make(map[string]*Worker)
	d.mu.Unlock()

	d.runCancel()

	var stalled atomic.Int64

	p := pool.New()

	for id, w := range workers {
		p.Go(func() {
			select {
			case <-ctx.Done():
				stalled.Add(1)
			default:
				if !d.stopWorker(id, w) {
					stalled.Add(1)
				}
			}

			d.workerCount.Add(-1)
		})
	}

	p.Wait()

	if n := stalled.Load(); n > 0 {
		return fmt.Errorf("sensor: %d workers did not stop cleanly", n)
	}

	return nil
}

// stopWorker waits for the worker to finish teardown, at most the shutdown
// timeout. An abandoned worker still gets its unregister broadcast so
// discovery consumers converge.
func (d *Directory) stopWorker(sensorID string, w *Worker) bool {
	done := make(chan struct{})

	go func() {
		w.Stop()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(d.shutdownTimeout):
		d.logger.Warn("sensor worker stalled on stop, abandoning", "sensor_id", sensorID)

		if d.bus != nil {
			d.bus.Publish(context.Background(), pubsub.TopicDiscovery, pubsub.SensorUnregisteredMsg{
				SensorID: sensorID,
			})
		}

		return false
	}
}

func (d *Directory) validate(cfg Config) error {
	if d.schema == nil {
		return nil
	}

	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfigRejected, err)
	}

	result, err := d.schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfigRejected, err)
	}

	if !result.Valid() {
		descs := make([]string, 0, len(result.Errors()))
		for _, re := range result.Errors() {
			descs = append(descs, re.String())
		}

		return fmt.Errorf("%w: %s", ErrConfigRejected, strings.Join(descs, "; "))
	}

	return nil
}

type directoryMetrics struct{}

func newDirectoryMetrics(mt metric.Meter, workerCount *atomic.Int64) (*directoryMetrics, error) {
	workers, err := mt.Int64ObservableGauge("sensoria.sensor.workers",
		metric.WithDescription("Live sensor workers"),
		metric.WithUnit("{worker}"))
	if err != nil {
		return nil, fmt.Errorf("create sensoria.sensor.workers: %w", err)
	}

	_, err = mt.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(workers, workerCount.Load())

		return nil
	}, workers)
	if err != nil {
		return nil, fmt.Errorf("register sensoria.sensor.workers: %w", err)
	}

	return &directoryMetrics{}, nil
}
