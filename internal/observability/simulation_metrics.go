package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricSimSensorsTotal      = "sensoria.simulation.sensors.total"
	metricSimMeasurementsTotal = "sensoria.simulation.measurements.total"
	metricSimRunDuration       = "sensoria.simulation.run.duration.seconds"

	attrSensorType = "sensor.type"
)

// SimulationMetrics holds OTel instruments for simulation run metrics.
type SimulationMetrics struct {
	sensorsTotal      metric.Int64Counter
	measurementsTotal metric.Int64Counter
	runDuration       metric.Float64Histogram
}

// SimulationStats holds the statistics for a single completed simulation run,
// decoupled from simulator types.
type SimulationStats struct {
	Elapsed time.Duration

	// MeasurementsByType counts emitted measurements per sensor type.
	MeasurementsByType map[string]int64

	// SensorsByType counts driven sensors per sensor type.
	SensorsByType map[string]int64
}

// NewSimulationMetrics creates simulation metric instruments from the given meter.
func NewSimulationMetrics(mt metric.Meter) (*SimulationMetrics, error) {
	b := newMetricBuilder(mt)

	sm := &SimulationMetrics{
		sensorsTotal:      b.counter(metricSimSensorsTotal, "Total sensors driven by simulation runs", "{sensor}"),
		measurementsTotal: b.counter(metricSimMeasurementsTotal, "Total measurements emitted by simulation runs", "{measurement}"),
		runDuration:       b.histogram(metricSimRunDuration, "Simulation run duration in seconds", "s"),
	}

	if b.err != nil {
		return nil, b.err
	}

	return sm, nil
}

// RecordRun records statistics for a completed simulation run.
// Safe to call on a nil receiver (no-op).
func (sm *SimulationMetrics) RecordRun(ctx context.Context, stats SimulationStats) {
	if sm == nil {
		return
	}

	sm.runDuration.Record(ctx, stats.Elapsed.Seconds())

	for sensorType, count := range stats.SensorsByType {
		sm.sensorsTotal.Add(ctx, count, metric.WithAttributes(
			attribute.String(attrSensorType, sensorType),
		))
	}

	for sensorType, count := range stats.MeasurementsByType {
		sm.measurementsTotal.Add(ctx, count, metric.WithAttributes(
			attribute.String(attrSensorType, sensorType),
		))
	}
}
