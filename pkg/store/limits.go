package store

import (
	"github.com/Sumatoshi-tech/sensoria/pkg/sysload"
	"github.com/Sumatoshi-tech/sensoria/pkg/telemetry"
)

// Base tier capacities at normal load.
const (
	DefaultBaseHotLimit  = 1000
	DefaultBaseWarmLimit = 60000
)

// Load-scaled limits never drop below these floors. Realtime-only types are
// exempt, they always keep a single hot entry.
const (
	minHotLimit  = 10
	minWarmLimit = 100
)

// Limits is the effective per-key retention at one load level.
type Limits struct {
	Hot  int
	Warm int
}

// loadFactors returns the hot and warm scale factors for a load level.
func loadFactors(level sysload.Level) (hot, warm float64) {
	switch level {
	case sysload.LevelElevated:
		return 0.8, 0.5
	case sysload.LevelHigh:
		return 0.4, 0.2
	case sysload.LevelCritical:
		return 0.2, 0.05
	default:
		return 1.0, 1.0
	}
}

// limitsFor computes the effective limits for an attribute type at a load
// level.
func limitsFor(attrType telemetry.AttributeType, level sysload.Level, baseHot, baseWarm int) Limits {
	if attrType.RealtimeOnly() {
		return Limits{Hot: 1, Warm: 0}
	}

	hotMult, warmMult := loadFactors(level)

	hot := int(float64(baseHot) * hotMult)
	if hot < minHotLimit {
		hot = minHotLimit
	}

	warm := int(float64(baseWarm) * warmMult)
	if warm < minWarmLimit {
		warm = minWarmLimit
	}

	return Limits{Hot: hot, Warm: warm}
}
