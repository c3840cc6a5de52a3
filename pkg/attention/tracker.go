// Package attention tracks live viewer interest per (sensor, attribute) and
// derives the batch-window configuration that paces every attribute stream.
//
// All writes funnel through a single tracker goroutine fed by a bounded
// command queue, so record state needs no locks and level broadcasts for one
// attribute are totally ordered. Reads never touch that goroutine: they hit
// RWMutex caches the tracker updates strictly after each authoritative
// change. The tracker never refuses a write; when the queue is full it drops
// the command and logs once per transition.
package attention

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/Sumatoshi-tech/sensoria/pkg/pubsub"
	"github.com/Sumatoshi-tech/sensoria/pkg/sysload"
)

// Tunable defaults.
const (
	DefaultFocusBoost    = 5 * time.Second
	DefaultHoverBoost    = 2 * time.Second
	DefaultStaleAfter    = 60 * time.Second
	DefaultSweepInterval = 30 * time.Second
	DefaultQueueSize     = 1024
)

const meterName = "sensoria/attention"

// LoadSource reports the current system load. *sysload.Monitor satisfies it.
type LoadSource interface {
	CurrentLevel() sysload.Level
	LoadMultiplier() float64
}

// FactorProvider supplies the biomimetic batch-window factors. Factors are
// multiplicative; implementations signal "unavailable" by returning anything
// that is not a positive finite number, which the tracker treats as 1.0.
type FactorProvider interface {
	NoveltyFactor(sensorID, attributeID string) float64
	PredictiveFactor(sensorID string) float64
	CompetitiveFactor(sensorID string) float64
	CircadianFactor() float64
}

// Options configures a Tracker.
type Options struct {
	// Logger receives drop and sweep events. Defaults to slog.Default().
	Logger *slog.Logger
	// Bus receives AttentionChangedMsg broadcasts. Optional.
	Bus *pubsub.Bus
	// Load supplies the load multiplier for batch windows. Nil means
	// normal load.
	Load LoadSource
	// Factors supplies the biomimetic window factors. Nil means all 1.0.
	Factors FactorProvider
	// BatteryCapLow and BatteryCapCritical clip a user's contribution when
	// their battery is low or critical. LevelNone selects the defaults,
	// medium and low respectively.
	BatteryCapLow      Level
	BatteryCapCritical Level
	// FocusBoost and HoverBoost hold the level up after a focus or hover
	// ends. Zero selects the defaults.
	FocusBoost time.Duration
	HoverBoost time.Duration
	// StaleAfter removes records idle longer than this, SweepInterval is
	// how often the sweep runs. Zero selects the defaults.
	StaleAfter    time.Duration
	SweepInterval time.Duration
	// QueueSize bounds the command queue. Zero selects the default.
	QueueSize int
}

type timerKey struct {
	key  attrKey
	kind boostKind
}

// Tracker owns all attention state. Construct with New, call Start before
// use, Stop to tear down.
type Tracker struct {
	logger  *slog.Logger
	bus     *pubsub.Bus
	load    LoadSource
	factors FactorProvider

	capLow        Level
	capCritical   Level
	focusBoostDur time.Duration
	hoverBoostDur time.Duration
	staleAfter    time.Duration
	sweepEvery    time.Duration

	cmds       chan func()
	dropLogged atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	// Owned by the tracker goroutine.
	records     map[attrKey]*record
	sensorAttrs map[string]map[string]struct{}
	pins        map[string]map[string]struct{}
	batteries   map[string]batteryRecord
	timers      map[timerKey]*time.Timer

	// Read caches, written only by the tracker goroutine.
	levels       *readCache[attrKey, Level]
	sensorLevels *readCache[string, Level]
	pinned       *readCache[string, bool]

	recordCount atomic.Int64
	metrics     *trackerMetrics
}

// New constructs a Tracker. It does not process commands until Start.
func New(opts Options) *Tracker {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	capLow := opts.BatteryCapLow
	if capLow == LevelNone {
		capLow = LevelMedium
	}

	capCritical := opts.BatteryCapCritical
	if capCritical == LevelNone {
		capCritical = LevelLow
	}

	focusBoost := opts.FocusBoost
	if focusBoost <= 0 {
		focusBoost = DefaultFocusBoost
	}

	hoverBoost := opts.HoverBoost
	if hoverBoost <= 0 {
		hoverBoost = DefaultHoverBoost
	}

	staleAfter := opts.StaleAfter
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}

	sweepEvery := opts.SweepInterval
	if sweepEvery <= 0 {
		sweepEvery = DefaultSweepInterval
	}

	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	t := &Tracker{
		logger:        logger,
		bus:           opts.Bus,
		load:          opts.Load,
		factors:       opts.Factors,
		capLow:        capLow,
		capCritical:   capCritical,
		focusBoostDur: focusBoost,
		hoverBoostDur: hoverBoost,
		staleAfter:    staleAfter,
		sweepEvery:    sweepEvery,
		cmds:          make(chan func(), queueSize),
		records:       make(map[attrKey]*record),
		sensorAttrs:   make(map[string]map[string]struct{}),
		pins:          make(map[string]map[string]struct{}),
		batteries:     make(map[string]batteryRecord),
		timers:        make(map[timerKey]*time.Timer),
		levels:        newReadCache[attrKey, Level](),
		sensorLevels:  newReadCache[string, Level](),
		pinned:        newReadCache[string, bool](),
	}

	metrics, err := newTrackerMetrics(otel.Meter(meterName), &t.recordCount)
	if err != nil {
		logger.Warn("attention metrics disabled", "error", err)
	} else {
		t.metrics = metrics
	}

	return t
}

// Start launches the tracker goroutine. It is a no-op when already running.
func (t *Tracker) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})

	go t.run(runCtx, t.done)
}

// Stop halts the tracker goroutine, waits for it to exit, and releases all
// boost timers. Stopping a tracker that never started is a no-op.
func (t *Tracker) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel = nil
	t.done = nil
	t.mu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	<-done

	for key, tm := range t.timers {
		tm.Stop()
		delete(t.timers, key)
	}
}

// Sync blocks until every command enqueued before it has been applied.
// Unlike the register/unregister operations it does not drop on a full
// queue, so it also serves as a write barrier in tests.
func (t *Tracker) Sync(ctx context.Context) error {
	applied := make(chan struct{})

	select {
	case t.cmds <- func() { close(applied) }:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-applied:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Tracker) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	sweep := time.NewTicker(t.sweepEvery)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-t.cmds:
			fn()

			if t.metrics != nil {
				t.metrics.commands.Add(ctx, 1)
			}
		case <-sweep.C:
			t.sweepStale(time.Now())
		}
	}
}

// enqueue hands a command to the tracker goroutine without blocking the
// caller. Overflow drops the command.
func (t *Tracker) enqueue(fn func()) {
	select {
	case t.cmds <- fn:
		if t.dropLogged.CompareAndSwap(true, false) {
			t.logger.Info("attention queue accepting commands again")
		}
	default:
		if t.metrics != nil {
			t.metrics.dropped.Add(context.Background(), 1)
		}

		if t.dropLogged.CompareAndSwap(false, true) {
			t.logger.Warn("attention queue full, dropping commands")
		}
	}
}

// RegisterView records that user is viewing the attribute.
func (t *Tracker) RegisterView(sensorID, attributeID, userID string) {
	t.enqueue(func() { t.handleRegister(setViewers, sensorID, attributeID, userID) })
}

// UnregisterView removes a view registration.
func (t *Tracker) UnregisterView(sensorID, attributeID, userID string) {
	t.enqueue(func() { t.handleUnregister(setViewers, sensorID, attributeID, userID) })
}

// RegisterHover records that user is hovering over the attribute.
func (t *Tracker) RegisterHover(sensorID, attributeID, userID string) {
	t.enqueue(func() { t.handleRegister(setHovered, sensorID, attributeID, userID) })
}

// UnregisterHover removes a hover registration and arms the hover boost.
func (t *Tracker) UnregisterHover(sensorID, attributeID, userID string) {
	t.enqueue(func() { t.handleUnregister(setHovered, sensorID, attributeID, userID) })
}

// RegisterFocus records that user is focused on the attribute.
func (t *Tracker) RegisterFocus(sensorID, attributeID, userID string) {
	t.enqueue(func() { t.handleRegister(setFocused, sensorID, attributeID, userID) })
}

// UnregisterFocus removes a focus registration and arms the focus boost.
func (t *Tracker) UnregisterFocus(sensorID, attributeID, userID string) {
	t.enqueue(func() { t.handleUnregister(setFocused, sensorID, attributeID, userID) })
}

// PinSensor forces the sensor to high attention until all pins are removed.
func (t *Tracker) PinSensor(sensorID, userID string) {
	t.enqueue(func() { t.handlePin(sensorID, userID) })
}

// UnpinSensor removes one user's pin.
func (t *Tracker) UnpinSensor(sensorID, userID string) {
	t.enqueue(func() { t.handleUnpin(sensorID, userID) })
}

// UnregisterAll removes the user from every interaction set and pin of the
// sensor. Called on disconnect.
func (t *Tracker) UnregisterAll(sensorID, userID string) {
	t.enqueue(func() { t.handleUnregisterAll(sensorID, userID) })
}

// ReportBatteryState records a user's battery condition. Unrecognized
// metadata keys are dropped.
func (t *Tracker) ReportBatteryState(userID string, state BatteryState, metadata map[string]any) {
	t.enqueue(func() { t.handleBattery(userID, state, metadata) })
}

// CleanupSensor removes every attention record and pin for the sensor.
// Called by the directory when a sensor is removed.
func (t *Tracker) CleanupSensor(sensorID string) {
	t.enqueue(func() { t.handleCleanupSensor(sensorID) })
}

// GetAttentionLevel returns the attribute's effective level. Missing records
// yield LevelNone unless the sensor is pinned. Never blocks.
func (t *Tracker) GetAttentionLevel(sensorID, attributeID string) Level {
	if _, ok := t.pinned.Get(sensorID); ok {
		return LevelHigh
	}

	if lvl, ok := t.levels.Get(attrKey{sensor: sensorID, attribute: attributeID}); ok {
		return lvl
	}

	return LevelNone
}

// GetSensorAttentionLevel returns the sensor rollup: the max attribute level,
// high while pinned. Never blocks.
func (t *Tracker) GetSensorAttentionLevel(sensorID string) Level {
	if _, ok := t.pinned.Get(sensorID); ok {
		return LevelHigh
	}

	if lvl, ok := t.sensorLevels.Get(sensorID); ok {
		return lvl
	}

	return LevelNone
}

// GetAttentionConfig returns the batch-window config for the attribute,
// falling back to the sensor-level attention when the attribute level is
// none.
func (t *Tracker) GetAttentionConfig(sensorID, attributeID string) Config {
	return LevelConfig(t.effectiveLevel(sensorID, attributeID))
}

// CalculateBatchWindow scales base by the attention config multiplier, the
// load multiplier, and the biomimetic factors, clamped to the config's
// window bounds.
func (t *Tracker) CalculateBatchWindow(base time.Duration, sensorID, attributeID string) time.Duration {
	cfg := t.GetAttentionConfig(sensorID, attributeID)

	adj := float64(base) * cfg.Multiplier * t.loadMultiplier()

	if t.factors != nil {
		adj *= sanitizeFactor(t.factors.NoveltyFactor(sensorID, attributeID))
		adj *= sanitizeFactor(t.factors.PredictiveFactor(sensorID))
		adj *= sanitizeFactor(t.factors.CompetitiveFactor(sensorID))
		adj *= sanitizeFactor(t.factors.CircadianFactor())
	}

	return cfg.Clamp(time.Duration(adj))
}

// SuggestConfig assembles the client-facing backpressure config for an
// attribute. Paused is set under critical load when nobody is watching
// closely.
func (t *Tracker) SuggestConfig(sensorID, attributeID string) BackpressureConfig {
	lvl := t.effectiveLevel(sensorID, attributeID)
	loadLevel, multiplier := t.loadState()

	return BackpressureConfig{
		AttentionLevel:         lvl,
		SystemLoad:             loadLevel,
		Paused:                 loadLevel == sysload.LevelCritical && lvl <= LevelLow,
		RecommendedBatchWindow: lvl.RecommendedBatchWindow(),
		RecommendedBatchSize:   lvl.RecommendedBatchSize(),
		LoadMultiplier:         multiplier,
	}
}

func (t *Tracker) effectiveLevel(sensorID, attributeID string) Level {
	lvl := t.GetAttentionLevel(sensorID, attributeID)
	if lvl == LevelNone {
		lvl = t.GetSensorAttentionLevel(sensorID)
	}

	return lvl
}

func (t *Tracker) loadState() (sysload.Level, float64) {
	if t.load == nil {
		return sysload.LevelNormal, 1.0
	}

	return t.load.CurrentLevel(), t.load.LoadMultiplier()
}

func (t *Tracker) loadMultiplier() float64 {
	if t.load == nil {
		return 1.0
	}

	return t.load.LoadMultiplier()
}

func sanitizeFactor(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return 1.0
	}

	return f
}

// capFor returns the highest level the user's battery allows.
func (t *Tracker) capFor(user string) Level {
	switch t.batteries[user].State {
	case BatteryLow:
		return t.capLow
	case BatteryCritical:
		return t.capCritical
	default:
		return LevelHigh
	}
}

func (t *Tracker) isPinned(sensorID string) bool {
	return len(t.pins[sensorID]) > 0
}

func (t *Tracker) handleRegister(kind setKind, sensorID, attributeID, userID string) {
	key := attrKey{sensor: sensorID, attribute: attributeID}
	now := time.Now()

	r := t.records[key]
	if r == nil {
		r = newRecord(now)
		t.records[key] = r

		attrs := t.sensorAttrs[sensorID]
		if attrs == nil {
			attrs = make(map[string]struct{})
			t.sensorAttrs[sensorID] = attrs
		}

		attrs[attributeID] = struct{}{}
		t.recordCount.Store(int64(len(t.records)))
	}

	r.set(kind)[userID] = struct{}{}
	// Registration doubles as the keep-alive against the stale sweep.
	r.lastUpdated = now

	t.refresh(key, now)
}

func (t *Tracker) handleUnregister(kind setKind, sensorID, attributeID, userID string) {
	key := attrKey{sensor: sensorID, attribute: attributeID}

	r := t.records[key]
	if r == nil {
		return
	}

	set := r.set(kind)
	if _, ok := set[userID]; !ok {
		return
	}

	now := time.Now()

	delete(set, userID)
	r.lastUpdated = now

	switch kind {
	case setFocused:
		r.focusBoost = boost{until: now.Add(t.focusBoostDur), ceiling: t.cappedContribution(userID)}
		t.armBoostTimer(key, boostFocus, t.focusBoostDur)
	case setHovered:
		r.hoverBoost = boost{until: now.Add(t.hoverBoostDur), ceiling: t.cappedContribution(userID)}
		t.armBoostTimer(key, boostHover, t.hoverBoostDur)
	case setViewers:
	}

	t.refresh(key, now)
}

// cappedContribution is the boost ceiling for a departing focus or hover:
// high, clipped by the user's battery cap.
func (t *Tracker) cappedContribution(userID string) Level {
	if capLvl := t.capFor(userID); capLvl < LevelHigh {
		return capLvl
	}

	return LevelHigh
}

func (t *Tracker) armBoostTimer(key attrKey, kind boostKind, d time.Duration) {
	tk := timerKey{key: key, kind: kind}

	if tm, ok := t.timers[tk]; ok {
		tm.Stop()
		tm.Reset(d)

		return
	}

	t.timers[tk] = time.AfterFunc(d, func() {
		t.enqueue(func() { t.handleBoostFired(key, kind) })
	})
}

func (t *Tracker) handleBoostFired(key attrKey, kind boostKind) {
	tk := timerKey{key: key, kind: kind}

	r := t.records[key]
	if r == nil {
		if tm, ok := t.timers[tk]; ok {
			tm.Stop()
			delete(t.timers, tk)
		}

		return
	}

	now := time.Now()

	b := r.boost(kind)
	if b.until.After(now) {
		// Re-armed since this fire was scheduled.
		return
	}

	*b = boost{}

	t.refresh(key, now)
}

func (t *Tracker) handlePin(sensorID, userID string) {
	set := t.pins[sensorID]
	if set == nil {
		set = make(map[string]struct{})
		t.pins[sensorID] = set
	}

	if _, ok := set[userID]; ok {
		return
	}

	wasPinned := len(set) > 0
	set[userID] = struct{}{}

	if wasPinned {
		return
	}

	t.pinned.Set(sensorID, true)

	now := time.Now()
	for attributeID := range t.sensorAttrs[sensorID] {
		t.refresh(attrKey{sensor: sensorID, attribute: attributeID}, now)
	}

	t.refreshSensor(sensorID)
}

func (t *Tracker) handleUnpin(sensorID, userID string) {
	set := t.pins[sensorID]
	if set == nil {
		return
	}

	if _, ok := set[userID]; !ok {
		return
	}

	delete(set, userID)

	if len(set) > 0 {
		return
	}

	delete(t.pins, sensorID)
	t.pinned.Delete(sensorID)

	now := time.Now()
	for attributeID := range t.sensorAttrs[sensorID] {
		t.refresh(attrKey{sensor: sensorID, attribute: attributeID}, now)
	}

	t.refreshSensor(sensorID)
}

func (t *Tracker) handleUnregisterAll(sensorID, userID string) {
	now := time.Now()

	for attributeID := range t.sensorAttrs[sensorID] {
		key := attrKey{sensor: sensorID, attribute: attributeID}

		r := t.records[key]
		if r == nil {
			continue
		}

		changed := false

		for _, kind := range []setKind{setViewers, setHovered, setFocused} {
			set := r.set(kind)
			if _, ok := set[userID]; ok {
				delete(set, userID)

				changed = true
			}
		}

		if changed {
			r.lastUpdated = now
			t.refresh(key, now)
		}
	}

	t.handleUnpin(sensorID, userID)
}

func (t *Tracker) handleBattery(userID string, state BatteryState, metadata map[string]any) {
	now := time.Now()

	t.batteries[userID] = batteryRecord{
		State:      state,
		Metadata:   filterBatteryMetadata(metadata),
		ReportedAt: now,
	}

	for key, r := range t.records {
		if r.contains(userID) {
			t.refresh(key, now)
		}
	}
}

func (t *Tracker) handleCleanupSensor(sensorID string) {
	now := time.Now()

	delete(t.pins, sensorID)
	t.pinned.Delete(sensorID)

	attrs := make([]string, 0, len(t.sensorAttrs[sensorID]))
	for attributeID := range t.sensorAttrs[sensorID] {
		attrs = append(attrs, attributeID)
	}

	for _, attributeID := range attrs {
		t.removeRecord(attrKey{sensor: sensorID, attribute: attributeID}, now)
	}

	t.refreshSensor(sensorID)
}

func (t *Tracker) removeRecord(key attrKey, now time.Time) {
	if _, ok := t.records[key]; !ok {
		return
	}

	delete(t.records, key)

	for _, kind := range []boostKind{boostFocus, boostHover} {
		tk := timerKey{key: key, kind: kind}
		if tm, ok := t.timers[tk]; ok {
			tm.Stop()
			delete(t.timers, tk)
		}
	}

	if attrs := t.sensorAttrs[key.sensor]; attrs != nil {
		delete(attrs, key.attribute)

		if len(attrs) == 0 {
			delete(t.sensorAttrs, key.sensor)
		}
	}

	t.recordCount.Store(int64(len(t.records)))
	t.refresh(key, now)
}

func (t *Tracker) sweepStale(now time.Time) {
	cutoff := now.Add(-t.staleAfter)

	var stale []attrKey

	for key, r := range t.records {
		if r.lastUpdated.Before(cutoff) {
			stale = append(stale, key)
		}
	}

	for _, key := range stale {
		t.removeRecord(key, now)
	}

	if len(stale) > 0 {
		t.logger.Debug("swept stale attention records", "count", len(stale))
	}
}

// refresh recomputes one attribute's effective level, updates the cache, and
// broadcasts when the level changed. Always recomputes the sensor rollup.
func (t *Tracker) refresh(key attrKey, now time.Time) {
	r, exists := t.records[key]

	if !exists {
		if prev, had := t.levels.Get(key); had {
			t.levels.Delete(key)

			// While pinned the effective level stays high, suppress.
			if prev != LevelNone && !t.isPinned(key.sensor) {
				t.publishAttr(key, LevelNone)
			}
		}

		t.refreshSensor(key.sensor)

		return
	}

	lvl := computeLevel(r, t.capFor, now)
	if t.isPinned(key.sensor) {
		lvl = LevelHigh
	}

	prev, had := t.levels.Get(key)
	if !had || prev != lvl {
		t.levels.Set(key, lvl)
		t.publishAttr(key, lvl)
	}

	t.refreshSensor(key.sensor)
}

func (t *Tracker) refreshSensor(sensorID string) {
	attrs := t.sensorAttrs[sensorID]

	lvl := LevelNone

	if t.isPinned(sensorID) {
		lvl = LevelHigh
	} else {
		for attributeID := range attrs {
			if v, ok := t.levels.Get(attrKey{sensor: sensorID, attribute: attributeID}); ok && v > lvl {
				lvl = v
			}
		}
	}

	if lvl == LevelNone && len(attrs) == 0 {
		if prev, had := t.sensorLevels.Get(sensorID); had {
			t.sensorLevels.Delete(sensorID)

			if prev != LevelNone {
				t.publishSensor(sensorID, LevelNone)
			}
		}

		return
	}

	prev, had := t.sensorLevels.Get(sensorID)
	if !had || prev != lvl {
		t.sensorLevels.Set(sensorID, lvl)
		t.publishSensor(sensorID, lvl)
	}
}

func (t *Tracker) publishAttr(key attrKey, lvl Level) {
	if t.bus == nil {
		return
	}

	t.bus.Publish(context.Background(), pubsub.AttributeAttentionTopic(key.sensor, key.attribute), pubsub.AttentionChangedMsg{
		SensorID:    key.sensor,
		AttributeID: key.attribute,
		Level:       lvl.String(),
	})
}

func (t *Tracker) publishSensor(sensorID string, lvl Level) {
	if t.bus == nil {
		return
	}

	t.bus.Publish(context.Background(), pubsub.AttentionTopic(sensorID), pubsub.AttentionChangedMsg{
		SensorID: sensorID,
		Level:    lvl.String(),
	})
}

type trackerMetrics struct {
	commands metric.Int64Counter
	dropped  metric.Int64Counter
}

func newTrackerMetrics(mt metric.Meter, recordCount *atomic.Int64) (*trackerMetrics, error) {
	commands, err := mt.Int64Counter("sensoria.attention.commands",
		metric.WithDescription("Commands applied by the tracker"),
		metric.WithUnit("{command}"))
	if err != nil {
		return nil, fmt.Errorf("create sensoria.attention.commands: %w", err)
	}

	dropped, err := mt.Int64Counter("sensoria.attention.dropped",
		metric.WithDescription("Commands dropped on a full queue"),
		metric.WithUnit("{command}"))
	if err != nil {
		return nil, fmt.Errorf("create sensoria.attention.dropped: %w", err)
	}

	records, err := mt.Int64ObservableGauge("sensoria.attention.records",
		metric.WithDescription("Live attention records"),
		metric.WithUnit("{record}"))
	if err != nil {
		return nil, fmt.Errorf("create sensoria.attention.records: %w", err)
	}

	_, err = mt.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(records, recordCount.Load())

		return nil
	}, records)
	if err != nil {
		return nil, fmt.Errorf("register sensoria.attention.records: %w", err)
	}

	return &trackerMetrics{commands: commands, dropped: dropped}, nil
}
