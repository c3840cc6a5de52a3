package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/Sumatoshi-tech/sensoria/pkg/telemetry"
)

// snapshotVersion is the current snapshot layout.
const snapshotVersion = 1

// ErrSnapshotVersion reports a snapshot newer than this build understands.
var ErrSnapshotVersion = errors.New("store: unsupported snapshot version")

// snapshotPoint is one measurement without the key it hangs off.
type snapshotPoint struct {
	Timestamp int64 `json:"timestamp"`
	Payload   any   `json:"payload,omitempty"`
}

// snapshotRecord holds both tiers of one key, measurements oldest-first.
// Legacy writers emitted only the key and the hot measurements; type and
// count are reconstructed on load.
type snapshotRecord struct {
	SensorID    string          `json:"sensor_id"`
	AttributeID string          `json:"attribute_id"`
	Type        string          `json:"type,omitempty"`
	Count       int             `json:"count,omitempty"`
	UpdatedMS   int64           `json:"updated_ms,omitempty"`
	Hot         []snapshotPoint `json:"hot"`
	Warm        []snapshotPoint `json:"warm,omitempty"`
}

type snapshotFile struct {
	Version int              `json:"version"`
	Records []snapshotRecord `json:"records"`
}

// WriteSnapshot serializes every key to w as JSON, keys sorted for stable
// output. Payload types normalize to JSON's on reload, so numbers come back
// as float64.
func (s *TieredStore) WriteSnapshot(w io.Writer) error {
	snap := snapshotFile{Version: snapshotVersion}

	for i := range s.shards {
		sh := &s.shards[i]

		sh.mu.RLock()

		for k, rec := range sh.hot {
			snap.Records = append(snap.Records, snapshotRecord{
				SensorID:    k.sensor,
				AttributeID: k.attribute,
				Type:        string(rec.attrType),
				Count:       rec.count,
				UpdatedMS:   rec.updatedMS,
				Hot:         toPoints(rec.measurements),
				Warm:        toPoints(sh.warm[k]),
			})
		}

		sh.mu.RUnlock()
	}

	sort.Slice(snap.Records, func(i, j int) bool {
		a, b := snap.Records[i], snap.Records[j]
		if a.SensorID != b.SensorID {
			return a.SensorID < b.SensorID
		}

		return a.AttributeID < b.AttributeID
	})

	if err := json.NewEncoder(w).Encode(snap); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	return nil
}

// LoadSnapshot merges a snapshot into the store, replacing existing data for
// the keys it carries. Legacy records missing the type or count are migrated
// on read: the count is recomputed and the type re-inferred from the newest
// payload.
func (s *TieredStore) LoadSnapshot(r io.Reader) error {
	var snap snapshotFile
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	if snap.Version > snapshotVersion {
		return fmt.Errorf("%w: %d", ErrSnapshotVersion, snap.Version)
	}

	for _, srec := range snap.Records {
		if srec.SensorID == "" || srec.AttributeID == "" {
			continue
		}

		rec := &hotRecord{
			measurements: fromPoints(srec.SensorID, srec.AttributeID, srec.Hot),
			attrType:     telemetry.AttributeType(srec.Type),
			count:        srec.Count,
			updatedMS:    srec.UpdatedMS,
		}

		if rec.count == 0 {
			rec.count = len(rec.measurements)
		}

		if rec.attrType == "" {
			var newest any
			if n := len(rec.measurements); n > 0 {
				newest = rec.measurements[n-1].Payload
			}

			rec.attrType = telemetry.InferType(srec.AttributeID, newest)
		}

		warm := fromPoints(srec.SensorID, srec.AttributeID, srec.Warm)

		s.trackAttribute(srec.SensorID, srec.AttributeID)

		k := key{sensor: srec.SensorID, attribute: srec.AttributeID}
		sh := s.shardFor(k)

		sh.mu.Lock()

		if sh.hot == nil || sh.warm == nil {
			sh.mu.Unlock()

			continue
		}

		sh.hot[k] = rec

		if len(warm) > 0 {
			sh.warm[k] = warm
		} else {
			delete(sh.warm, k)
		}

		sh.mu.Unlock()
	}

	return nil
}

func toPoints(ms []telemetry.Measurement) []snapshotPoint {
	if len(ms) == 0 {
		return nil
	}

	out := make([]snapshotPoint, len(ms))
	for i, m := range ms {
		out[i] = snapshotPoint{Timestamp: m.Timestamp, Payload: m.Payload}
	}

	return out
}

func fromPoints(sensorID, attributeID string, pts []snapshotPoint) []telemetry.Measurement {
	if len(pts) == 0 {
		return nil
	}

	out := make([]telemetry.Measurement, len(pts))
	for i, p := range pts {
		out[i] = telemetry.Measurement{
			SensorID:    sensorID,
			AttributeID: attributeID,
			Timestamp:   p.Timestamp,
			Payload:     p.Payload,
		}
	}

	return out
}
