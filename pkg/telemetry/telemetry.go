// Package telemetry defines the measurement data model shared by the ingest,
// storage, and replication layers.
package telemetry

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// ErrInvalidAttributeID reports an attribute identifier that does not match
// the accepted pattern.
var ErrInvalidAttributeID = errors.New("invalid attribute id")

// attributeIDRe accepts a letter followed by up to 63 letters, digits,
// underscores, or hyphens.
var attributeIDRe = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]{0,63}$`)

// ValidateAttributeID checks an attribute identifier against the accepted
// pattern. Identifiers that fail validation must be rejected at ingest, not
// silently renamed.
func ValidateAttributeID(id string) error {
	if !attributeIDRe.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidAttributeID, id)
	}

	return nil
}

// Measurement is one timestamped attribute reading from a sensor.
//
// Timestamp is milliseconds since the Unix epoch. Payload is a
// self-describing value: float64, string, bool, or map[string]any. Ordering
// within one (sensor, attribute) pair is producer-assigned and preserved end
// to end.
type Measurement struct {
	SensorID    string
	AttributeID string
	Timestamp   int64
	Payload     any
}

// Time converts the measurement timestamp to a time.Time.
func (m Measurement) Time() time.Time {
	return time.UnixMilli(m.Timestamp)
}

// AttributeType classifies an attribute stream for storage sizing and
// rendering.
type AttributeType string

// Known attribute types. TypeGeneric covers everything the inference rules
// cannot place.
const (
	TypeNumeric     AttributeType = "numeric"
	TypeBattery     AttributeType = "battery"
	TypeGeolocation AttributeType = "geolocation"
	TypeButton      AttributeType = "button"
	TypeSkeleton    AttributeType = "skeleton"
	TypePose        AttributeType = "pose"
	TypeVideoFrame  AttributeType = "video_frame"
	TypeDepthMap    AttributeType = "depth_map"
	TypeGeneric     AttributeType = "generic"
)

// RealtimeOnly reports whether streams of this type only ever need their
// latest value. Realtime-only streams keep a single hot entry and no warm
// history regardless of configured limits.
func (t AttributeType) RealtimeOnly() bool {
	switch t {
	case TypeSkeleton, TypePose, TypeVideoFrame, TypeDepthMap:
		return true
	default:
		return false
	}
}

// InferType derives an attribute type from the attribute id and a sample
// payload. Identifier matches win over payload shape.
func InferType(attributeID string, payload any) AttributeType {
	switch attributeID {
	case "battery", "battery_level", "charge":
		return TypeBattery
	case "geolocation", "gps", "location":
		return TypeGeolocation
	case "button", "buttons":
		return TypeButton
	case "skeleton":
		return TypeSkeleton
	case "pose":
		return TypePose
	case "video_frame":
		return TypeVideoFrame
	case "depth_map":
		return TypeDepthMap
	}

	switch p := payload.(type) {
	case float64, float32, int, int32, int64, uint, uint32, uint64:
		return TypeNumeric
	case map[string]any:
		if hasGeoKeys(p) {
			return TypeGeolocation
		}

		return TypeGeneric
	default:
		return TypeGeneric
	}
}

func hasGeoKeys(p map[string]any) bool {
	_, lat := p["lat"]
	_, lon := p["lon"]

	if !lat {
		_, lat = p["latitude"]
	}

	if !lon {
		_, lon = p["longitude"]
	}

	return lat && lon
}

// NumericValue extracts a float64 from a measurement payload when the payload
// is a plain number or a map carrying a numeric "value" key. The second
// return is false for non-numeric payloads.
func NumericValue(payload any) (float64, bool) {
	switch v := payload.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case map[string]any:
		if inner, ok := v["value"]; ok {
			return NumericValue(inner)
		}

		return 0, false
	default:
		return 0, false
	}
}
