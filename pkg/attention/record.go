package attention

import "time"

// attrKey addresses one attribute's attention record.
type attrKey struct {
	sensor    string
	attribute string
}

// setKind selects one of the three interaction sets on a record.
type setKind int

const (
	setViewers setKind = iota
	setHovered
	setFocused
)

func (k setKind) String() string {
	switch k {
	case setHovered:
		return "hover"
	case setFocused:
		return "focus"
	default:
		return "view"
	}
}

// boostKind selects a decay boost. Boosts arm when a focus or hover ends and
// hold the level up briefly so short interruptions do not flap the stream
// rate.
type boostKind int

const (
	boostFocus boostKind = iota
	boostHover
)

// boost is a record-level decay uplift. The ceiling is the capped
// contribution of the user whose unregister armed it, so a battery-capped
// user cannot raise the level higher by leaving than by staying.
type boost struct {
	until   time.Time
	ceiling Level
}

func (b boost) active(now time.Time) bool {
	return b.until.After(now)
}

// record is the tracker-owned attention state for one (sensor, attribute).
// All fields are mutated only by the tracker goroutine.
type record struct {
	viewers map[string]struct{}
	hovered map[string]struct{}
	focused map[string]struct{}

	focusBoost boost
	hoverBoost boost

	lastUpdated time.Time
}

func newRecord(now time.Time) *record {
	return &record{
		viewers:     make(map[string]struct{}),
		hovered:     make(map[string]struct{}),
		focused:     make(map[string]struct{}),
		lastUpdated: now,
	}
}

func (r *record) set(kind setKind) map[string]struct{} {
	switch kind {
	case setHovered:
		return r.hovered
	case setFocused:
		return r.focused
	default:
		return r.viewers
	}
}

func (r *record) boost(kind boostKind) *boost {
	if kind == boostHover {
		return &r.hoverBoost
	}

	return &r.focusBoost
}

// contains reports whether the user appears in any interaction set.
func (r *record) contains(user string) bool {
	if _, ok := r.viewers[user]; ok {
		return true
	}

	if _, ok := r.hovered[user]; ok {
		return true
	}

	_, ok := r.focused[user]

	return ok
}

// contribution is the uncapped level a single user demands: focusing and
// hovering both demand high, plain viewing demands medium.
func (r *record) contribution(user string) Level {
	if _, ok := r.focused[user]; ok {
		return LevelHigh
	}

	if _, ok := r.hovered[user]; ok {
		return LevelHigh
	}

	if _, ok := r.viewers[user]; ok {
		return LevelMedium
	}

	return LevelNone
}

// computeLevel folds a record into its attention level: the max of per-user
// battery-capped contributions, active boost ceilings, and the low floor
// every existing record carries. Pins are applied by the caller.
func computeLevel(r *record, capFor func(user string) Level, now time.Time) Level {
	lvl := LevelLow

	bump := func(user string) {
		c := r.contribution(user)
		if capLvl := capFor(user); c > capLvl {
			c = capLvl
		}

		if c > lvl {
			lvl = c
		}
	}

	for u := range r.focused {
		bump(u)
	}

	for u := range r.hovered {
		bump(u)
	}

	for u := range r.viewers {
		bump(u)
	}

	if r.focusBoost.active(now) && r.focusBoost.ceiling > lvl {
		lvl = r.focusBoost.ceiling
	}

	if r.hoverBoost.active(now) && r.hoverBoost.ceiling > lvl {
		lvl = r.hoverBoost.ceiling
	}

	return lvl
}

// batteryRecord is a user's last reported battery condition.
type batteryRecord struct {
	State      BatteryState
	Metadata   map[string]any
	ReportedAt time.Time
}

// recognizedBatteryKeys are the metadata keys report_battery_state keeps.
// Everything else is dropped on ingest.
var recognizedBatteryKeys = map[string]struct{}{
	"source":       {},
	"level":        {},
	"charging":     {},
	"power_source": {},
	"reason":       {},
	"reported_at":  {},
}

func filterBatteryMetadata(meta map[string]any) map[string]any {
	if len(meta) == 0 {
		return nil
	}

	out := make(map[string]any, len(meta))

	for k, v := range meta {
		if _, ok := recognizedBatteryKeys[k]; ok {
			out[k] = v
		}
	}

	if len(out) == 0 {
		return nil
	}

	return out
}
