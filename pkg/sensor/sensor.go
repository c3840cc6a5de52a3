// Package sensor hosts the per-sensor ingestion workers and the directory
// that supervises them.
//
// Each live sensor is one Worker goroutine with a mailbox; every configured
// local sample source gets an AttributeWorker goroutine that pulls, throttles
// by attention and load, and emits batches back to its owning Worker. The
// Directory starts and stops workers, fans out state reads with bounded
// concurrency, and substitutes placeholders for sensors that cannot answer
// in time so consumers never see partial flicker.
package sensor

import (
	"context"
	"errors"
	"time"

	"github.com/Sumatoshi-tech/sensoria/pkg/attention"
	"github.com/Sumatoshi-tech/sensoria/pkg/telemetry"
)

// Tunable defaults.
const (
	DefaultQueueSize         = 256
	DefaultHibernateAfter    = 5 * time.Minute
	DefaultIdleCheckInterval = time.Minute
	DefaultBaseWindow        = time.Second
	DefaultSampleDelay       = time.Second
	DefaultStateConcurrency  = 10
	DefaultStateTimeout      = 10 * time.Second
	DefaultReadTimeout       = 3 * time.Second
	DefaultShutdownTimeout   = 4 * time.Second
)

// minPopDelay floors the ingestion delay so a source reporting zero pacing
// cannot spin the worker into a zero-delay burst.
const minPopDelay = 50 * time.Millisecond

// DefaultPriorityAttributes are the attribute ids that must never be
// silently dropped when nobody is watching. Used when WorkerOptions leaves
// PriorityAttributes nil.
var DefaultPriorityAttributes = []string{"button", "buttons"}

// Sentinel errors for the directory and worker surfaces.
var (
	ErrSensorNotFound  = errors.New("sensor: not found")
	ErrDirectoryClosed = errors.New("sensor: directory closed")
	ErrConfigRejected  = errors.New("sensor: config rejected")
	ErrWorkerStopped   = errors.New("sensor: worker stopped")
)

// Sample is one raw reading pulled from a local source, before it is stamped
// and turned into a Measurement.
type Sample struct {
	Payload any
	// Delay is the source-suggested pause before the next sample is
	// consumed. Zero means as fast as the floor allows.
	Delay time.Duration
}

// SampleSource feeds an attribute worker. Pull returns up to max ready
// samples; an empty result means nothing is buffered right now.
type SampleSource interface {
	Pull(ctx context.Context, max int) ([]Sample, error)
}

// AttentionSource answers attention queries for workers and the directory.
// *attention.Tracker satisfies it. A nil source means nobody is watching:
// level none, batch window base times ten.
type AttentionSource interface {
	GetAttentionLevel(sensorID, attributeID string) attention.Level
	GetSensorAttentionLevel(sensorID string) attention.Level
	CalculateBatchWindow(base time.Duration, sensorID, attributeID string) time.Duration
	SuggestConfig(sensorID, attributeID string) attention.BackpressureConfig
	CleanupSensor(sensorID string)
}

// MeasurementStore is the slice of the tiered store workers write to and
// read state from. *store.TieredStore satisfies it.
type MeasurementStore interface {
	Put(m telemetry.Measurement)
	GetAttributes(sensorID string, limit int) map[string][]telemetry.Measurement
	Remove(sensorID, attributeID string)
	Cleanup(sensorID string)
}

// ReplicatorNotifier learns about sensors joining and leaving so it can
// follow their data topics. *replicator.Pool satisfies it.
type ReplicatorNotifier interface {
	SensorUp(sensorID string)
	SensorDown(sensorID string)
}

// BatchTarget receives emitted measurement batches. *Worker satisfies it.
// Done is closed when the target is gone; emitters must stop then.
type BatchTarget interface {
	PutBatchAttributes(measurements []telemetry.Measurement) error
	Done() <-chan struct{}
}

// AttributeMeta describes one registered attribute.
type AttributeMeta struct {
	Type         telemetry.AttributeType `json:"type"`
	Detail       map[string]any          `json:"detail,omitempty"`
	RegisteredMS int64                   `json:"registered_ms,omitempty"`
}

// Config describes one sensor to start. Sources maps attribute ids to local
// sample sources; each entry gets its own attribute worker.
type Config struct {
	SensorID      string                   `json:"sensor_id"`
	SensorName    string                   `json:"sensor_name,omitempty"`
	SensorType    string                   `json:"sensor_type,omitempty"`
	ConnectorID   string                   `json:"connector_id,omitempty"`
	ConnectorName string                   `json:"connector_name,omitempty"`
	Attributes    map[string]AttributeMeta `json:"attributes,omitempty"`
	Sources       map[string]SampleSource  `json:"-"`
	// BatchSize fixes the emission batch size. Zero lets the attention
	// level pick the recommended size.
	BatchSize int `json:"batch_size,omitempty"`
	// BaseWindow is the batch window before attention and load scaling.
	// Zero selects the default.
	BaseWindow time.Duration `json:"-"`
}

// RegistryAction selects what UpdateAttributeRegistry does.
type RegistryAction string

// Registry actions.
const (
	RegistryRegister   RegistryAction = "register"
	RegistryUnregister RegistryAction = "unregister"
)

// StateMode selects the shape of state snapshots.
type StateMode int

// State modes. StateDefault carries recent measurements per attribute,
// StateView carries only the last value in a UI-friendly shape.
const (
	StateDefault StateMode = iota
	StateView
)

// ParseStateMode maps a wire name to a StateMode. Unknown names select
// StateDefault.
func ParseStateMode(s string) StateMode {
	if s == "view" {
		return StateView
	}

	return StateDefault
}

// Status reports a sensor's liveness in state snapshots.
type Status string

// Sensor statuses.
const (
	StatusOK          Status = "ok"
	StatusHibernating Status = "hibernating"
	StatusUnavailable Status = "unavailable"
)

// AttributeState is one attribute's slice of a state snapshot. Measurements
// are newest first and only populated in StateDefault mode; LastValue only
// in StateView mode.
type AttributeState struct {
	Type         telemetry.AttributeType `json:"type"`
	Detail       map[string]any          `json:"detail,omitempty"`
	LastValue    any                     `json:"last_value,omitempty"`
	UpdatedMS    int64                   `json:"updated_ms,omitempty"`
	Measurements []telemetry.Measurement `json:"measurements,omitempty"`
}

// SensorState is a point-in-time snapshot of one sensor.
type SensorState struct {
	SensorID       string                    `json:"sensor_id"`
	SensorName     string                    `json:"sensor_name,omitempty"`
	SensorType     string                    `json:"sensor_type,omitempty"`
	ConnectorID    string                    `json:"connector_id,omitempty"`
	ConnectorName  string                    `json:"connector_name,omitempty"`
	Status         Status                    `json:"status"`
	AttentionLevel string                    `json:"attention_level,omitempty"`
	LastActivityMS int64                     `json:"last_activity_ms,omitempty"`
	Attributes     map[string]AttributeState `json:"attributes,omitempty"`
}

// placeholderState stands in for a sensor that timed out or errored so list
// consumers keep a stable shape.
func placeholderState(sensorID string) SensorState {
	return SensorState{SensorID: sensorID, Status: StatusUnavailable}
}
