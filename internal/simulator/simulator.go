// Package simulator fabricates sensor fleets for load and demo runs: sine
// heart rates with a tidal trend, geolocation walks, battery drains, and
// sparse button presses, described by a YAML scenario and driven through a
// sensor directory.
package simulator

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cespare/xxhash/v2"
	"gopkg.in/yaml.v3"

	"github.com/Sumatoshi-tech/sensoria/pkg/sensor"
	"github.com/Sumatoshi-tech/sensoria/pkg/telemetry"
)

// Source kinds a scenario can name.
const (
	KindHeartRate   = "heart_rate"
	KindGeolocation = "geolocation"
	KindBattery     = "battery"
	KindButton      = "button"
)

// Sentinel errors for scenario validation.
var (
	ErrNoSensors       = errors.New("simulator: scenario has no sensors")
	ErrEmptySensorID   = errors.New("simulator: empty sensor_id")
	ErrDuplicateSensor = errors.New("simulator: duplicate sensor id")
	ErrNoAttributes    = errors.New("simulator: sensor has no attributes")
	ErrUnknownKind     = errors.New("simulator: unknown source kind")
)

// Scenario describes a simulated sensor fleet.
type Scenario struct {
	Name string `yaml:"name,omitempty"`
	// Seed fixes every source's noise stream for reproducible runs. Zero
	// seeds from the clock.
	Seed    int64        `yaml:"seed,omitempty"`
	Sensors []SensorSpec `yaml:"sensors"`
}

// SensorSpec describes one simulated sensor. Count above one replicates the
// sensor with a numeric id suffix.
type SensorSpec struct {
	SensorID   string                   `yaml:"sensor_id"`
	SensorName string                   `yaml:"sensor_name,omitempty"`
	SensorType string                   `yaml:"sensor_type,omitempty"`
	Count      int                      `yaml:"count,omitempty"`
	Attributes map[string]AttributeSpec `yaml:"attributes"`

	// BatchSize fixes the emission batch size; zero lets the attention
	// level pick it. BaseWindowMS overrides the batch window before
	// attention and load scaling.
	BatchSize    int `yaml:"batch_size,omitempty"`
	BaseWindowMS int `yaml:"base_window_ms,omitempty"`
}

// AttributeSpec selects and tunes one waveform source.
type AttributeSpec struct {
	Kind string `yaml:"kind"`

	// Heart rate.
	Average        float64 `yaml:"avg,omitempty"`
	Variability    float64 `yaml:"variability,omitempty"`
	TidalAmplitude float64 `yaml:"tidal_amplitude,omitempty"`

	// Geolocation.
	Latitude   float64 `yaml:"latitude,omitempty"`
	Longitude  float64 `yaml:"longitude,omitempty"`
	StepMeters float64 `yaml:"step_meters,omitempty"`

	// Battery.
	StartCharge    float64 `yaml:"start_charge,omitempty"`
	DrainPerMinute float64 `yaml:"drain_per_minute,omitempty"`

	// Button.
	PressChance float64 `yaml:"press_chance,omitempty"`

	// IntervalMS paces interval-driven sources (geolocation, battery).
	IntervalMS int `yaml:"interval_ms,omitempty"`
}

// LoadScenario reads and parses a YAML scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied scenario path
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}

	return ParseScenario(data)
}

// ParseScenario parses and validates a YAML scenario.
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario

	err := yaml.Unmarshal(data, &sc)
	if err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}

	err = sc.validate()
	if err != nil {
		return nil, err
	}

	return &sc, nil
}

func (sc *Scenario) validate() error {
	if len(sc.Sensors) == 0 {
		return ErrNoSensors
	}

	seen := make(map[string]struct{}, len(sc.Sensors))

	for _, spec := range sc.Sensors {
		if spec.SensorID == "" {
			return ErrEmptySensorID
		}

		if _, dup := seen[spec.SensorID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateSensor, spec.SensorID)
		}

		seen[spec.SensorID] = struct{}{}

		if len(spec.Attributes) == 0 {
			return fmt.Errorf("%w: %s", ErrNoAttributes, spec.SensorID)
		}

		for attrID, attr := range spec.Attributes {
			err := telemetry.ValidateAttributeID(attrID)
			if err != nil {
				return fmt.Errorf("sensor %s: %w", spec.SensorID, err)
			}

			switch attr.Kind {
			case KindHeartRate, KindGeolocation, KindBattery, KindButton:
			default:
				return fmt.Errorf("%w: %q on %s/%s", ErrUnknownKind, attr.Kind, spec.SensorID, attrID)
			}
		}
	}

	return nil
}

// DefaultScenario builds the built-in wearable fleet: count sensors, each
// with a heart rate, a location walk, a battery, and a button.
func DefaultScenario(count int) *Scenario {
	if count <= 0 {
		count = 1
	}

	return &Scenario{
		Name: "wearables",
		Sensors: []SensorSpec{{
			SensorID:   "sim",
			SensorName: "Simulated Wearable",
			SensorType: "wearable",
			Count:      count,
			Attributes: map[string]AttributeSpec{
				"heart_rate": {Kind: KindHeartRate},
				"location":   {Kind: KindGeolocation},
				"battery":    {Kind: KindBattery, IntervalMS: 5000},
				"button":     {Kind: KindButton},
			},
		}},
	}
}

// Configs expands the scenario into sensor configs with live sources wired
// in, ready for a directory.
func (sc *Scenario) Configs() ([]sensor.Config, error) {
	err := sc.validate()
	if err != nil {
		return nil, err
	}

	var configs []sensor.Config

	for _, spec := range sc.Sensors {
		count := spec.Count
		if count <= 0 {
			count = 1
		}

		for i := 1; i <= count; i++ {
			sensorID := spec.SensorID
			if count > 1 {
				sensorID = fmt.Sprintf("%s-%03d", spec.SensorID, i)
			}

			cfg, err := buildConfig(sc.Seed, sensorID, spec)
			if err != nil {
				return nil, err
			}

			configs = append(configs, cfg)
		}
	}

	return configs, nil
}

func buildConfig(seed int64, sensorID string, spec SensorSpec) (sensor.Config, error) {
	cfg := sensor.Config{
		SensorID:   sensorID,
		SensorName: spec.SensorName,
		SensorType: spec.SensorType,
		Attributes: make(map[string]sensor.AttributeMeta, len(spec.Attributes)),
		Sources:    make(map[string]sensor.SampleSource, len(spec.Attributes)),
		BatchSize:  spec.BatchSize,
		BaseWindow: time.Duration(spec.BaseWindowMS) * time.Millisecond,
	}

	for attrID, attr := range spec.Attributes {
		src, typ, err := buildSource(sourceSeed(seed, sensorID, attrID), attr)
		if err != nil {
			return sensor.Config{}, fmt.Errorf("sensor %s/%s: %w", sensorID, attrID, err)
		}

		cfg.Sources[attrID] = src
		cfg.Attributes[attrID] = sensor.AttributeMeta{Type: typ}
	}

	return cfg, nil
}

func buildSource(seed int64, attr AttributeSpec) (sensor.SampleSource, telemetry.AttributeType, error) {
	interval := time.Duration(attr.IntervalMS) * time.Millisecond

	switch attr.Kind {
	case KindHeartRate:
		return NewHeartRateSource(HeartRateOptions{
			Average:        attr.Average,
			Variability:    attr.Variability,
			TidalAmplitude: attr.TidalAmplitude,
			Seed:           seed,
		}), telemetry.TypeNumeric, nil
	case KindGeolocation:
		return NewGeolocationSource(GeolocationOptions{
			Latitude:   attr.Latitude,
			Longitude:  attr.Longitude,
			StepMeters: attr.StepMeters,
			Interval:   interval,
			Seed:       seed,
		}), telemetry.TypeGeolocation, nil
	case KindBattery:
		return NewBatterySource(BatteryOptions{
			StartCharge:    attr.StartCharge,
			DrainPerMinute: attr.DrainPerMinute,
			Interval:       interval,
			Seed:           seed,
		}), telemetry.TypeBattery, nil
	case KindButton:
		return NewButtonSource(ButtonOptions{
			PressChance: attr.PressChance,
			Seed:        seed,
		}), telemetry.TypeButton, nil
	default:
		return nil, "", fmt.Errorf("%w: %q", ErrUnknownKind, attr.Kind)
	}
}

// sourceSeed derives a per-source seed so replicas do not share noise while
// runs with the same scenario seed stay reproducible.
func sourceSeed(base int64, sensorID, attributeID string) int64 {
	if base == 0 {
		return 0
	}

	return base ^ int64(xxhash.Sum64String(sensorID+"\x00"+attributeID)) //nolint:gosec // seed mixing; wraparound is fine
}
