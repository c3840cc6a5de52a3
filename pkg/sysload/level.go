package sysload

// Level grades system pressure. Levels are ordered, higher means more loaded.
type Level int

// Load levels from idle to saturated.
const (
	LevelNormal Level = iota
	LevelElevated
	LevelHigh
	LevelCritical
)

// Enter thresholds: utilization at or above these moves the level up
// immediately. Exit thresholds sit below the enter thresholds so the level
// only steps down once utilization has clearly receded.
const (
	enterElevated = 0.70
	enterHigh     = 0.85
	enterCritical = 0.95

	exitElevated = 0.60
	exitHigh     = 0.75
	exitCritical = 0.85
)

// String returns the wire name of the level.
func (l Level) String() string {
	switch l {
	case LevelElevated:
		return "elevated"
	case LevelHigh:
		return "high"
	case LevelCritical:
		return "critical"
	default:
		return "normal"
	}
}

// ParseLevel maps a wire name back to a Level.
func ParseLevel(s string) (Level, bool) {
	switch s {
	case "normal":
		return LevelNormal, true
	case "elevated":
		return LevelElevated, true
	case "high":
		return LevelHigh, true
	case "critical":
		return LevelCritical, true
	default:
		return LevelNormal, false
	}
}

// Multiplier returns the backpressure multiplier applied to batch windows and
// throttle delays at this level.
func (l Level) Multiplier() float64 {
	switch l {
	case LevelElevated:
		return 1.5
	case LevelHigh:
		return 3.0
	case LevelCritical:
		return 5.0
	default:
		return 1.0
	}
}

// classify maps raw utilization to the level its enter thresholds select.
func classify(utilization float64) Level {
	switch {
	case utilization >= enterCritical:
		return LevelCritical
	case utilization >= enterHigh:
		return LevelHigh
	case utilization >= enterElevated:
		return LevelElevated
	default:
		return LevelNormal
	}
}

// exitThreshold returns the utilization below which cur releases one step.
func exitThreshold(cur Level) float64 {
	switch cur {
	case LevelCritical:
		return exitCritical
	case LevelHigh:
		return exitHigh
	case LevelElevated:
		return exitElevated
	default:
		return 0
	}
}

// NextLevel applies one utilization sample to the current level. Rising
// pressure is followed immediately, falling pressure steps down one level per
// sample and only once utilization drops below the exit threshold, so the
// level never flaps around a boundary.
func NextLevel(cur Level, utilization float64) Level {
	target := classify(utilization)
	if target >= cur {
		return target
	}

	if utilization < exitThreshold(cur) {
		return cur - 1
	}

	return cur
}
