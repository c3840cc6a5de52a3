package simulator

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/Sumatoshi-tech/sensoria/pkg/sensor"
)

// Heart-rate waveform profile: a slow tidal swell over the resting average,
// a faster sinusoid, and gaussian jitter, clipped to a plausible bpm band.
const (
	hrTidalFreqHz    = 0.01
	hrSinusoidFreqHz = 0.1
	hrMinBPM         = 30.0
	hrMaxBPM         = 220.0

	// hrChangeThreshold gates emission: readings within one bpm of the
	// last emitted value are suppressed, like a wearable that only
	// reports movement.
	hrChangeThreshold = 1.0

	// Jittered pacing between emitted readings.
	hrDelayMinMS = 900
	hrDelayMaxMS = 2100

	defaultAvgBPM         = 70.0
	defaultHRVariability  = 3.0
	defaultTidalAmplitude = 50.0
)

// HeartRateOptions tunes a HeartRateSource. Zero values select the default
// profile: 70 bpm average, variability 3, tidal amplitude 50.
type HeartRateOptions struct {
	Average        float64
	Variability    float64
	TidalAmplitude float64
	// Seed fixes the noise stream. Zero seeds from the clock.
	Seed int64
}

// HeartRateSource synthesizes beats-per-minute readings. Pull evaluates the
// waveform at the current elapsed time and emits one sample when the value
// moved more than one bpm since the last emission, paced at a jittered
// one-to-two-second cadence.
type HeartRateSource struct {
	mu    sync.Mutex
	rng   *rand.Rand
	now   func() time.Time
	start time.Time

	avg         float64
	variability float64
	tidal       float64

	last    float64
	emitted bool
}

// NewHeartRateSource builds a heart-rate source.
func NewHeartRateSource(opts HeartRateOptions) *HeartRateSource {
	avg := opts.Average
	if avg <= 0 {
		avg = defaultAvgBPM
	}

	variability := opts.Variability
	if variability <= 0 {
		variability = defaultHRVariability
	}

	tidal := opts.TidalAmplitude
	if tidal <= 0 {
		tidal = defaultTidalAmplitude
	}

	now := time.Now

	return &HeartRateSource{
		rng:         newRand(opts.Seed),
		now:         now,
		start:       now(),
		avg:         avg,
		variability: variability,
		tidal:       tidal,
	}
}

// Pull implements sensor.SampleSource.
func (s *HeartRateSource) Pull(_ context.Context, _ int) ([]sensor.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elapsed := s.now().Sub(s.start).Seconds()

	tidal := math.Sin(2*math.Pi*hrTidalFreqHz*elapsed) * s.tidal
	wave := math.Sin(2*math.Pi*hrSinusoidFreqHz*elapsed) * s.variability
	noise := s.rng.NormFloat64() * (s.variability / 3)

	bpm := math.Round(s.avg + tidal + wave + noise)
	bpm = math.Min(math.Max(bpm, hrMinBPM), hrMaxBPM)

	if s.emitted && math.Abs(bpm-s.last) <= hrChangeThreshold {
		return nil, nil
	}

	s.last = bpm
	s.emitted = true

	spread := float64(hrDelayMaxMS - hrDelayMinMS)
	delay := time.Duration(hrDelayMinMS+s.rng.Float64()*spread) * time.Millisecond

	return []sensor.Sample{{Payload: bpm, Delay: delay}}, nil
}

// Geolocation walk defaults.
const (
	defaultStepMeters  = 5.0
	defaultGeoInterval = time.Second

	metersPerDegreeLat = 111320.0
	maxLatitude        = 90.0
)

// GeolocationOptions tunes a GeolocationSource. Zero coordinates start the
// walk at the origin; zero StepMeters selects a five-meter stride.
type GeolocationOptions struct {
	Latitude   float64
	Longitude  float64
	StepMeters float64
	Interval   time.Duration
	Seed       int64
}

// GeolocationSource walks a jittered path from its starting coordinates,
// one step in a random direction per pull.
type GeolocationSource struct {
	mu  sync.Mutex
	rng *rand.Rand

	lat      float64
	lon      float64
	step     float64
	interval time.Duration
}

// NewGeolocationSource builds a geolocation walk source.
func NewGeolocationSource(opts GeolocationOptions) *GeolocationSource {
	step := opts.StepMeters
	if step <= 0 {
		step = defaultStepMeters
	}

	interval := opts.Interval
	if interval <= 0 {
		interval = defaultGeoInterval
	}

	return &GeolocationSource{
		rng:      newRand(opts.Seed),
		lat:      opts.Latitude,
		lon:      opts.Longitude,
		step:     step,
		interval: interval,
	}
}

// Pull implements sensor.SampleSource.
func (s *GeolocationSource) Pull(_ context.Context, _ int) ([]sensor.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bearing := s.rng.Float64() * 2 * math.Pi
	meters := s.step * (0.5 + s.rng.Float64())

	s.lat += meters * math.Cos(bearing) / metersPerDegreeLat
	s.lat = math.Min(math.Max(s.lat, -maxLatitude), maxLatitude)

	lonScale := metersPerDegreeLat * math.Cos(s.lat*math.Pi/180)
	if lonScale > 1 {
		s.lon += meters * math.Sin(bearing) / lonScale
	}

	payload := map[string]any{
		"latitude":  s.lat,
		"longitude": s.lon,
	}

	return []sensor.Sample{{Payload: payload, Delay: s.interval}}, nil
}

// Battery drain defaults.
const (
	defaultDrainPerMinute  = 0.005
	defaultChargePerMinute = 0.02
	defaultBatteryInterval = 30 * time.Second

	batteryFloor = 0.05
	batteryFull  = 1.0
)

// BatteryOptions tunes a BatterySource. Zero StartCharge begins full; zero
// DrainPerMinute selects half a percent per minute.
type BatteryOptions struct {
	StartCharge    float64
	DrainPerMinute float64
	Interval       time.Duration
	Seed           int64
}

// BatterySource reports a charge fraction that drains toward the floor and
// then charges back to full, flipping direction at the rails.
type BatterySource struct {
	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time

	charge   float64
	drain    float64
	interval time.Duration
	charging bool
	lastAt   time.Time
}

// NewBatterySource builds a battery drain source.
func NewBatterySource(opts BatteryOptions) *BatterySource {
	charge := opts.StartCharge
	if charge <= 0 || charge > batteryFull {
		charge = batteryFull
	}

	drain := opts.DrainPerMinute
	if drain <= 0 {
		drain = defaultDrainPerMinute
	}

	interval := opts.Interval
	if interval <= 0 {
		interval = defaultBatteryInterval
	}

	now := time.Now

	return &BatterySource{
		rng:      newRand(opts.Seed),
		now:      now,
		charge:   charge,
		drain:    drain,
		interval: interval,
		lastAt:   now(),
	}
}

// Pull implements sensor.SampleSource.
func (s *BatterySource) Pull(_ context.Context, _ int) ([]sensor.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	at := s.now()
	elapsed := at.Sub(s.lastAt).Minutes()
	s.lastAt = at

	if s.charging {
		s.charge += defaultChargePerMinute * elapsed
		if s.charge >= batteryFull {
			s.charge = batteryFull
			s.charging = false
		}
	} else {
		s.charge -= s.drain * elapsed
		if s.charge <= batteryFloor {
			s.charge = batteryFloor
			s.charging = true
		}
	}

	payload := map[string]any{
		"level":    math.Round(s.charge*1000) / 1000,
		"charging": s.charging,
	}

	return []sensor.Sample{{Payload: payload, Delay: s.interval}}, nil
}

// defaultPressChance is the per-pull probability of a button press.
const defaultPressChance = 0.05

// ButtonOptions tunes a ButtonSource. Zero PressChance selects five percent
// per pull.
type ButtonOptions struct {
	PressChance float64
	Seed        int64
}

// ButtonSource emits sparse press events. Most pulls return nothing; a
// press carries the running press count.
type ButtonSource struct {
	mu      sync.Mutex
	rng     *rand.Rand
	chance  float64
	presses int64
}

// NewButtonSource builds a button press source.
func NewButtonSource(opts ButtonOptions) *ButtonSource {
	chance := opts.PressChance
	if chance <= 0 || chance > 1 {
		chance = defaultPressChance
	}

	return &ButtonSource{
		rng:    newRand(opts.Seed),
		chance: chance,
	}
}

// Pull implements sensor.SampleSource.
func (s *ButtonSource) Pull(_ context.Context, _ int) ([]sensor.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rng.Float64() >= s.chance {
		return nil, nil
	}

	s.presses++

	payload := map[string]any{
		"pressed": true,
		"count":   s.presses,
	}

	return []sensor.Sample{{Payload: payload}}, nil
}

// newRand builds a seeded generator; seed zero falls back to the clock so
// unseeded fleets do not march in lockstep.
func newRand(seed int64) *rand.Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return rand.New(rand.NewSource(seed)) //nolint:gosec // simulation noise, not crypto
}
