package pubsub

import "github.com/Sumatoshi-tech/sensoria/pkg/telemetry"

// Message is a value delivered to topic subscribers. Kind returns a stable
// discriminator so subscribers can switch without reflection.
type Message interface {
	Kind() string
}

// Message kind discriminators.
const (
	KindMeasurement        = "measurement"
	KindMeasurementBatch   = "measurements_batch"
	KindAttentionChanged   = "attention_changed"
	KindSensorRegistered   = "sensor_registered"
	KindSensorUnregistered = "sensor_unregistered"
	KindSensorSignal       = "sensor_signal"
	KindSystemLoadChanged  = "system_load_changed"
)

// MeasurementMsg delivers a single reading on data topics.
type MeasurementMsg struct {
	Measurement telemetry.Measurement
}

// Kind implements Message.
func (MeasurementMsg) Kind() string { return KindMeasurement }

// MeasurementBatchMsg delivers a batch of readings from one sensor on data
// topics. Measurements keep producer order.
type MeasurementBatchMsg struct {
	SensorID     string
	Measurements []telemetry.Measurement
}

// Kind implements Message.
func (MeasurementBatchMsg) Kind() string { return KindMeasurementBatch }

// AttentionChangedMsg announces a new attention level. AttributeID is empty
// for sensor-level rollups. Level is the string form of the attention level.
type AttentionChangedMsg struct {
	SensorID    string
	AttributeID string
	Level       string
}

// Kind implements Message.
func (AttentionChangedMsg) Kind() string { return KindAttentionChanged }

// SensorRegisteredMsg announces a sensor joining the directory.
type SensorRegisteredMsg struct {
	SensorID   string
	SensorName string
	SensorType string
}

// Kind implements Message.
func (SensorRegisteredMsg) Kind() string { return KindSensorRegistered }

// SensorUnregisteredMsg announces a sensor leaving the directory.
type SensorUnregisteredMsg struct {
	SensorID string
}

// Kind implements Message.
func (SensorUnregisteredMsg) Kind() string { return KindSensorUnregistered }

// SensorSignalMsg announces sensor metadata changes on signal topics.
// Event is one of "attribute_registered", "attribute_unregistered",
// "connector_renamed".
type SensorSignalMsg struct {
	SensorID string
	Event    string
	Detail   map[string]any
}

// Kind implements Message.
func (SensorSignalMsg) Kind() string { return KindSensorSignal }

// SystemLoadChangedMsg announces a load level transition. Multiplier is the
// backpressure multiplier for the new level.
type SystemLoadChangedMsg struct {
	Level                string
	Multiplier           float64
	SchedulerUtilization float64
}

// Kind implements Message.
func (SystemLoadChangedMsg) Kind() string { return KindSystemLoadChanged }
