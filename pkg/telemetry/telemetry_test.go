package telemetry_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/sensoria/pkg/telemetry"
)

func TestValidateAttributeID(t *testing.T) {
	t.Parallel()

	valid := []string{"a", "heart_rate", "Button-2", "x9", "a" + strings.Repeat("b", 63)}
	for _, id := range valid {
		assert.NoError(t, telemetry.ValidateAttributeID(id), id)
	}

	invalid := []string{"", "9lives", "_hidden", "-dash", "has space", "a" + strings.Repeat("b", 64), "emoji💧"}
	for _, id := range invalid {
		err := telemetry.ValidateAttributeID(id)
		require.Error(t, err, id)
		assert.ErrorIs(t, err, telemetry.ErrInvalidAttributeID)
	}
}

func TestInferType(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name        string
		attributeID string
		payload     any
		want        telemetry.AttributeType
	}{
		{"battery id", "battery", 0.97, telemetry.TypeBattery},
		{"charge alias", "charge", 0.5, telemetry.TypeBattery},
		{"gps alias", "gps", map[string]any{"lat": 1.0, "lon": 2.0}, telemetry.TypeGeolocation},
		{"button id", "button", "press", telemetry.TypeButton},
		{"buttons id", "buttons", map[string]any{"b1": true}, telemetry.TypeButton},
		{"skeleton id", "skeleton", map[string]any{}, telemetry.TypeSkeleton},
		{"pose id", "pose", map[string]any{}, telemetry.TypePose},
		{"video frame id", "video_frame", []byte{0x1}, telemetry.TypeVideoFrame},
		{"depth map id", "depth_map", []byte{0x1}, telemetry.TypeDepthMap},
		{"numeric payload", "heart_rate", 72.5, telemetry.TypeNumeric},
		{"int payload", "steps", 1200, telemetry.TypeNumeric},
		{"geo payload shape", "position", map[string]any{"latitude": 1.0, "longitude": 2.0}, telemetry.TypeGeolocation},
		{"map payload", "config", map[string]any{"mode": "on"}, telemetry.TypeGeneric},
		{"string payload", "label", "idle", telemetry.TypeGeneric},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tc.want, telemetry.InferType(tc.attributeID, tc.payload))
		})
	}
}

func TestRealtimeOnly(t *testing.T) {
	t.Parallel()

	for _, typ := range []telemetry.AttributeType{
		telemetry.TypeSkeleton, telemetry.TypePose, telemetry.TypeVideoFrame, telemetry.TypeDepthMap,
	} {
		assert.True(t, typ.RealtimeOnly(), string(typ))
	}

	for _, typ := range []telemetry.AttributeType{
		telemetry.TypeNumeric, telemetry.TypeBattery, telemetry.TypeGeolocation,
		telemetry.TypeButton, telemetry.TypeGeneric,
	} {
		assert.False(t, typ.RealtimeOnly(), string(typ))
	}
}

func TestNumericValue(t *testing.T) {
	t.Parallel()

	v, ok := telemetry.NumericValue(72.5)
	require.True(t, ok)
	assert.InDelta(t, 72.5, v, 1e-9)

	v, ok = telemetry.NumericValue(12)
	require.True(t, ok)
	assert.InDelta(t, 12.0, v, 1e-9)

	v, ok = telemetry.NumericValue(map[string]any{"value": 3.25, "unit": "V"})
	require.True(t, ok)
	assert.InDelta(t, 3.25, v, 1e-9)

	_, ok = telemetry.NumericValue("press")
	assert.False(t, ok)

	_, ok = telemetry.NumericValue(map[string]any{"lat": 1.0})
	assert.False(t, ok)
}

func TestMeasurementTime(t *testing.T) {
	t.Parallel()

	m := telemetry.Measurement{SensorID: "s1", AttributeID: "hr", Timestamp: 1_700_000_000_123}
	assert.Equal(t, int64(1_700_000_000_123), m.Time().UnixMilli())
}
