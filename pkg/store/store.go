// Package store implements the tiered hot/warm measurement store keyed by
// (sensor, attribute).
//
// Each key keeps a hot tier of the newest measurements and a warm tier of
// older spill-over. Writes are amortized O(1): the hot tier grows to twice
// its effective limit, then a single split keeps the newest measurements hot
// and moves the surplus to warm. Effective limits scale down with system
// load, so raising the load level shrinks retention on subsequent writes.
//
// The store is an in-memory cache, not a source of truth: reads of unknown
// keys return empty results and never fail. Callers stop writing a sensor
// before calling Cleanup for it; the store does not arbitrate concurrent
// writes and cleanup on the same key.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/Sumatoshi-tech/sensoria/pkg/pubsub"
	"github.com/Sumatoshi-tech/sensoria/pkg/sysload"
	"github.com/Sumatoshi-tech/sensoria/pkg/telemetry"
)

// shardCount spreads keys over independent locks. Power of two so the key
// hash can be masked.
const shardCount = 32

const meterName = "sensoria/store"

// Options configures a TieredStore.
type Options struct {
	// Logger receives load-watch and metric setup events. Defaults to
	// slog.Default().
	Logger *slog.Logger
	// BaseHotLimit and BaseWarmLimit are the normal-load tier capacities.
	// Zero selects the defaults.
	BaseHotLimit  int
	BaseWarmLimit int
}

type key struct {
	sensor    string
	attribute string
}

// hotRecord keeps measurements oldest-first so appends stay O(1). Readers
// reverse into newest-first order on the way out.
type hotRecord struct {
	measurements []telemetry.Measurement
	attrType     telemetry.AttributeType
	count        int
	updatedMS    int64
}

type shard struct {
	mu   sync.RWMutex
	hot  map[key]*hotRecord
	warm map[key][]telemetry.Measurement
}

// TieredStore is the in-memory measurement cache. Construct with New. A
// zero-value store serves empty reads and ignores writes until EnsureTables
// runs.
type TieredStore struct {
	logger   *slog.Logger
	baseHot  int
	baseWarm int

	level atomic.Int32

	shards [shardCount]shard

	sensorsMu sync.RWMutex
	sensors   map[string]map[string]struct{}

	metrics *storeMetrics
}

// New constructs a TieredStore. Instrument creation failures are logged and
// metrics are disabled, the store itself always works.
func New(opts Options) *TieredStore {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	baseHot := opts.BaseHotLimit
	if baseHot <= 0 {
		baseHot = DefaultBaseHotLimit
	}

	baseWarm := opts.BaseWarmLimit
	if baseWarm <= 0 {
		baseWarm = DefaultBaseWarmLimit
	}

	s := &TieredStore{
		logger:   logger,
		baseHot:  baseHot,
		baseWarm: baseWarm,
	}

	s.EnsureTables()

	metrics, err := newStoreMetrics(otel.Meter(meterName), s)
	if err != nil {
		logger.Warn("store metrics disabled", "error", err)
	} else {
		s.metrics = metrics
	}

	return s
}

// EnsureTables allocates any missing tables. New calls it, so it only
// matters for zero-value stores.
func (s *TieredStore) EnsureTables() {
	for i := range s.shards {
		sh := &s.shards[i]

		sh.mu.Lock()

		if sh.hot == nil {
			sh.hot = make(map[key]*hotRecord)
		}

		if sh.warm == nil {
			sh.warm = make(map[key][]telemetry.Measurement)
		}

		sh.mu.Unlock()
	}

	s.sensorsMu.Lock()

	if s.sensors == nil {
		s.sensors = make(map[string]map[string]struct{})
	}

	s.sensorsMu.Unlock()
}

// SetLoadLevel switches the effective limits applied by subsequent writes.
// Existing tiers are not re-trimmed; the next write to a key enforces the new
// limits for it.
func (s *TieredStore) SetLoadLevel(level sysload.Level) {
	s.level.Store(int32(level))
}

// LoadLevel returns the load level the store is currently sized for.
func (s *TieredStore) LoadLevel() sysload.Level {
	return sysload.Level(s.level.Load())
}

// CurrentLimits returns the effective limits for an attribute type at the
// current load level.
func (s *TieredStore) CurrentLimits(attrType telemetry.AttributeType) Limits {
	return limitsFor(attrType, s.LoadLevel(), s.baseHot, s.baseWarm)
}

// Watch subscribes the store to load transitions on bus and rescales its
// limits until ctx is done. It returns once the watcher is installed.
func (s *TieredStore) Watch(ctx context.Context, bus *pubsub.Bus) error {
	sub, err := bus.Subscribe(pubsub.TopicSystemLoad)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", pubsub.TopicSystemLoad, err)
	}

	go func() {
		defer bus.Unsubscribe(sub)

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.Messages():
				if !ok {
					return
				}

				load, ok := msg.(pubsub.SystemLoadChangedMsg)
				if !ok {
					continue
				}

				level, ok := sysload.ParseLevel(load.Level)
				if !ok {
					s.logger.Warn("unknown load level, keeping current limits", "level", load.Level)

					continue
				}

				s.SetLoadLevel(level)

				lim := s.CurrentLimits(telemetry.TypeNumeric)
				s.logger.Info("store retention rescaled",
					"level", load.Level,
					"hot_limit", lim.Hot,
					"warm_limit", lim.Warm)
			}
		}
	}()

	return nil
}

// Put records one measurement. Writes with a missing sensor or attribute id
// are ignored, as are writes before tables exist.
func (s *TieredStore) Put(m telemetry.Measurement) {
	if m.SensorID == "" || m.AttributeID == "" {
		return
	}

	s.trackAttribute(m.SensorID, m.AttributeID)

	k := key{sensor: m.SensorID, attribute: m.AttributeID}
	sh := s.shardFor(k)

	var spilled int

	sh.mu.Lock()

	if sh.hot == nil || sh.warm == nil {
		sh.mu.Unlock()

		return
	}

	rec, ok := sh.hot[k]
	if !ok {
		rec = &hotRecord{attrType: telemetry.InferType(m.AttributeID, m.Payload)}
		sh.hot[k] = rec
	}

	rec.measurements = append(rec.measurements, m)
	rec.count++
	rec.updatedMS = time.Now().UnixMilli()

	lim := s.CurrentLimits(rec.attrType)
	if rec.count > 2*lim.Hot {
		spilled = split(sh, k, rec, lim)
	}

	sh.mu.Unlock()

	if s.metrics != nil {
		s.metrics.writes.Add(context.Background(), 1)

		if spilled > 0 {
			s.metrics.spills.Add(context.Background(), int64(spilled))
		}
	}
}

// split keeps the newest lim.Hot measurements hot and moves the surplus to
// warm, trimmed to lim.Warm. Returns how many measurements spilled. Caller
// holds the shard write lock.
func split(sh *shard, k key, rec *hotRecord, lim Limits) int {
	cut := len(rec.measurements) - lim.Hot
	overflow := rec.measurements[:cut]

	kept := make([]telemetry.Measurement, lim.Hot)
	copy(kept, rec.measurements[cut:])
	rec.measurements = kept
	rec.count = lim.Hot

	if lim.Warm <= 0 {
		return 0
	}

	warm := append(sh.warm[k], overflow...)
	if len(warm) > lim.Warm {
		trimmed := make([]telemetry.Measurement, lim.Warm)
		copy(trimmed, warm[len(warm)-lim.Warm:])
		warm = trimmed
	}

	sh.warm[k] = warm

	return cut
}

// GetAttributes returns the newest hot measurements per attribute of a
// sensor, newest first. limit <= 0 returns the full hot tier per attribute.
// Unknown sensors yield an empty map.
func (s *TieredStore) GetAttributes(sensorID string, limit int) map[string][]telemetry.Measurement {
	s.sensorsMu.RLock()

	attrs := make([]string, 0, len(s.sensors[sensorID]))
	for attr := range s.sensors[sensorID] {
		attrs = append(attrs, attr)
	}

	s.sensorsMu.RUnlock()

	out := make(map[string][]telemetry.Measurement, len(attrs))

	for _, attr := range attrs {
		k := key{sensor: sensorID, attribute: attr}
		sh := s.shardFor(k)

		sh.mu.RLock()

		if rec := sh.hot[k]; rec != nil && len(rec.measurements) > 0 {
			out[attr] = newestFirst(rec.measurements, limit)
		}

		sh.mu.RUnlock()
	}

	return out
}

// GetAttribute returns measurements for one attribute merged across both
// tiers, ascending by timestamp; equal timestamps keep producer order. fromMS
// and toMS bound the range inclusively when positive. limit keeps only the
// newest matches, limit <= 0 keeps all. Unknown keys yield an empty slice.
func (s *TieredStore) GetAttribute(sensorID, attributeID string, fromMS, toMS int64, limit int) []telemetry.Measurement {
	merged := s.merged(sensorID, attributeID)

	if fromMS > 0 || toMS > 0 {
		filtered := merged[:0]

		for _, m := range merged {
			if fromMS > 0 && m.Timestamp < fromMS {
				continue
			}

			if toMS > 0 && m.Timestamp > toMS {
				continue
			}

			filtered = append(filtered, m)
		}

		merged = filtered
	}

	if limit > 0 && len(merged) > limit {
		merged = merged[len(merged)-limit:]
	}

	return merged
}

// GetAttributeExtended is GetAttribute without the time filter.
func (s *TieredStore) GetAttributeExtended(sensorID, attributeID string, limit int) []telemetry.Measurement {
	return s.GetAttribute(sensorID, attributeID, 0, 0, limit)
}

// merged copies warm then hot for one key and sorts ascending by timestamp.
// Both tiers are stored oldest-first, so the stable sort is nearly a no-op
// and preserves producer order between equal timestamps.
func (s *TieredStore) merged(sensorID, attributeID string) []telemetry.Measurement {
	k := key{sensor: sensorID, attribute: attributeID}
	sh := s.shardFor(k)

	sh.mu.RLock()

	rec := sh.hot[k]
	warm := sh.warm[k]

	hotLen := 0
	if rec != nil {
		hotLen = len(rec.measurements)
	}

	out := make([]telemetry.Measurement, 0, len(warm)+hotLen)
	out = append(out, warm...)

	if rec != nil {
		out = append(out, rec.measurements...)
	}

	sh.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp < out[j].Timestamp
	})

	return out
}

// Remove deletes both tiers for one attribute.
func (s *TieredStore) Remove(sensorID, attributeID string) {
	k := key{sensor: sensorID, attribute: attributeID}
	sh := s.shardFor(k)

	sh.mu.Lock()
	delete(sh.hot, k)
	delete(sh.warm, k)
	sh.mu.Unlock()

	s.sensorsMu.Lock()

	if attrs, ok := s.sensors[sensorID]; ok {
		delete(attrs, attributeID)

		if len(attrs) == 0 {
			delete(s.sensors, sensorID)
		}
	}

	s.sensorsMu.Unlock()
}

// Cleanup removes every entry belonging to a sensor across both tiers and
// drops it from the bookkeeping table.
func (s *TieredStore) Cleanup(sensorID string) {
	s.sensorsMu.Lock()
	attrs := s.sensors[sensorID]
	delete(s.sensors, sensorID)
	s.sensorsMu.Unlock()

	for attr := range attrs {
		k := key{sensor: sensorID, attribute: attr}
		sh := s.shardFor(k)

		sh.mu.Lock()
		delete(sh.hot, k)
		delete(sh.warm, k)
		sh.mu.Unlock()
	}
}

// ClearAll wipes every table.
func (s *TieredStore) ClearAll() {
	for i := range s.shards {
		sh := &s.shards[i]

		sh.mu.Lock()
		sh.hot = make(map[key]*hotRecord)
		sh.warm = make(map[key][]telemetry.Measurement)
		sh.mu.Unlock()
	}

	s.sensorsMu.Lock()
	s.sensors = make(map[string]map[string]struct{})
	s.sensorsMu.Unlock()
}

// Sensors lists the sensors with stored measurements, sorted.
func (s *TieredStore) Sensors() []string {
	s.sensorsMu.RLock()

	out := make([]string, 0, len(s.sensors))
	for id := range s.sensors {
		out = append(out, id)
	}

	s.sensorsMu.RUnlock()

	sort.Strings(out)

	return out
}

// TierLens reports the physical tier sizes for one key. The hot length may
// run up to twice the hot limit between splits.
func (s *TieredStore) TierLens(sensorID, attributeID string) (hotLen, warmLen int) {
	k := key{sensor: sensorID, attribute: attributeID}
	sh := s.shardFor(k)

	sh.mu.RLock()
	defer sh.mu.RUnlock()

	if rec := sh.hot[k]; rec != nil {
		hotLen = len(rec.measurements)
	}

	return hotLen, len(sh.warm[k])
}

func (s *TieredStore) shardFor(k key) *shard {
	idx := xxhash.Sum64String(k.sensor+"\x00"+k.attribute) & (shardCount - 1)

	return &s.shards[idx]
}

// trackAttribute registers a (sensor, attribute) pair in the bookkeeping
// table. Fast path is a shared-lock existence check.
func (s *TieredStore) trackAttribute(sensorID, attributeID string) {
	s.sensorsMu.RLock()
	_, ok := s.sensors[sensorID][attributeID]
	s.sensorsMu.RUnlock()

	if ok {
		return
	}

	s.sensorsMu.Lock()
	defer s.sensorsMu.Unlock()

	if s.sensors == nil {
		return
	}

	attrs, ok := s.sensors[sensorID]
	if !ok {
		attrs = make(map[string]struct{})
		s.sensors[sensorID] = attrs
	}

	attrs[attributeID] = struct{}{}
}

// tierTotals sums the physical tier sizes across all shards.
func (s *TieredStore) tierTotals() (hot, warm int64) {
	for i := range s.shards {
		sh := &s.shards[i]

		sh.mu.RLock()

		for _, rec := range sh.hot {
			hot += int64(len(rec.measurements))
		}

		for _, ms := range sh.warm {
			warm += int64(len(ms))
		}

		sh.mu.RUnlock()
	}

	return hot, warm
}

type storeMetrics struct {
	writes metric.Int64Counter
	spills metric.Int64Counter
}

func newStoreMetrics(mt metric.Meter, s *TieredStore) (*storeMetrics, error) {
	writes, err := mt.Int64Counter("sensoria.store.writes",
		metric.WithDescription("Measurements written"),
		metric.WithUnit("{measurement}"))
	if err != nil {
		return nil, fmt.Errorf("create sensoria.store.writes: %w", err)
	}

	spills, err := mt.Int64Counter("sensoria.store.spills",
		metric.WithDescription("Measurements spilled from hot to warm"),
		metric.WithUnit("{measurement}"))
	if err != nil {
		return nil, fmt.Errorf("create sensoria.store.spills: %w", err)
	}

	hotEntries, err := mt.Int64ObservableGauge("sensoria.store.hot_entries",
		metric.WithDescription("Measurements resident in the hot tier"),
		metric.WithUnit("{measurement}"))
	if err != nil {
		return nil, fmt.Errorf("create sensoria.store.hot_entries: %w", err)
	}

	warmEntries, err := mt.Int64ObservableGauge("sensoria.store.warm_entries",
		metric.WithDescription("Measurements resident in the warm tier"),
		metric.WithUnit("{measurement}"))
	if err != nil {
		return nil, fmt.Errorf("create sensoria.store.warm_entries: %w", err)
	}

	_, err = mt.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		hot, warm := s.tierTotals()
		o.ObserveInt64(hotEntries, hot)
		o.ObserveInt64(warmEntries, warm)

		return nil
	}, hotEntries, warmEntries)
	if err != nil {
		return nil, fmt.Errorf("register store gauges: %w", err)
	}

	return &storeMetrics{writes: writes, spills: spills}, nil
}

// newestFirst copies the newest limit measurements of an oldest-first slice
// into newest-first order. limit <= 0 copies everything.
func newestFirst(ms []telemetry.Measurement, limit int) []telemetry.Measurement {
	n := len(ms)
	if limit > 0 && limit < n {
		n = limit
	}

	out := make([]telemetry.Measurement, n)
	for i := range n {
		out[i] = ms[len(ms)-1-i]
	}

	return out
}
