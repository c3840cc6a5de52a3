package attention

import "time"

// Level grades live viewer interest in an attribute. Levels are ordered,
// higher wins across users and across attributes.
type Level int

// Attention levels from ignored to actively focused.
const (
	LevelNone Level = iota
	LevelLow
	LevelMedium
	LevelHigh
)

// String returns the wire name of the level.
func (l Level) String() string {
	switch l {
	case LevelLow:
		return "low"
	case LevelMedium:
		return "medium"
	case LevelHigh:
		return "high"
	default:
		return "none"
	}
}

// ParseLevel maps a wire name back to a Level.
func ParseLevel(s string) (Level, bool) {
	switch s {
	case "none":
		return LevelNone, true
	case "low":
		return LevelLow, true
	case "medium":
		return LevelMedium, true
	case "high":
		return LevelHigh, true
	default:
		return LevelNone, false
	}
}

// ThrottleMultiplier scales an attribute worker's ingestion delay. Watched
// streams pull at full speed, ignored streams back off an order of magnitude.
func (l Level) ThrottleMultiplier() float64 {
	switch l {
	case LevelHigh, LevelMedium:
		return 1.0
	case LevelLow:
		return 4.0
	default:
		return 10.0
	}
}

// RecommendedBatchSize is the client-facing batch size suggestion per level.
func (l Level) RecommendedBatchSize() int {
	switch l {
	case LevelHigh:
		return 1
	case LevelMedium:
		return 5
	case LevelLow:
		return 10
	default:
		return 20
	}
}

// RecommendedBatchWindow is the client-facing batch window suggestion per
// level, before load scaling.
func (l Level) RecommendedBatchWindow() time.Duration {
	switch l {
	case LevelHigh:
		return 100 * time.Millisecond
	case LevelMedium:
		return 500 * time.Millisecond
	case LevelLow:
		return 2 * time.Second
	default:
		return 5 * time.Second
	}
}

// Config carries the batch pacing parameters governing one attention level.
type Config struct {
	Multiplier float64
	MinWindow  time.Duration
	MaxWindow  time.Duration
}

// LevelConfig returns the batch-window config for a level. Unknown levels get
// the none config, the slowest one.
func LevelConfig(l Level) Config {
	switch l {
	case LevelHigh:
		return Config{Multiplier: 0.2, MinWindow: 100 * time.Millisecond, MaxWindow: 500 * time.Millisecond}
	case LevelMedium:
		return Config{Multiplier: 0.4, MinWindow: 150 * time.Millisecond, MaxWindow: 500 * time.Millisecond}
	case LevelLow:
		return Config{Multiplier: 4.0, MinWindow: 2 * time.Second, MaxWindow: 10 * time.Second}
	default:
		return Config{Multiplier: 10.0, MinWindow: 5 * time.Second, MaxWindow: 30 * time.Second}
	}
}

// Clamp bounds a computed window to the config's window range.
func (c Config) Clamp(w time.Duration) time.Duration {
	if w < c.MinWindow {
		return c.MinWindow
	}

	if w > c.MaxWindow {
		return c.MaxWindow
	}

	return w
}

// BatteryState is a user's reported device battery condition. It caps that
// user's contribution to attention levels so dying devices stop demanding
// full-rate streams.
type BatteryState int

// Battery states.
const (
	BatteryNormal BatteryState = iota
	BatteryLow
	BatteryCritical
)

// String returns the wire name of the battery state.
func (b BatteryState) String() string {
	switch b {
	case BatteryLow:
		return "low"
	case BatteryCritical:
		return "critical"
	default:
		return "normal"
	}
}

// ParseBatteryState maps a wire name back to a BatteryState.
func ParseBatteryState(s string) (BatteryState, bool) {
	switch s {
	case "normal":
		return BatteryNormal, true
	case "low":
		return BatteryLow, true
	case "critical":
		return BatteryCritical, true
	default:
		return BatteryNormal, false
	}
}
