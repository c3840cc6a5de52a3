package attention

import (
	"time"

	"github.com/Sumatoshi-tech/sensoria/pkg/sysload"
)

// BackpressureConfig is the client-facing pacing suggestion for one attribute
// stream. Producers apply it locally: batch roughly RecommendedBatchSize
// samples or flush every EffectiveBatchWindow, and stop sending entirely
// while Paused.
type BackpressureConfig struct {
	AttentionLevel         Level
	SystemLoad             sysload.Level
	Paused                 bool
	RecommendedBatchWindow time.Duration
	RecommendedBatchSize   int
	LoadMultiplier         float64
}

// EffectiveBatchWindow scales the recommended window by the load multiplier.
func (c BackpressureConfig) EffectiveBatchWindow() time.Duration {
	return time.Duration(float64(c.RecommendedBatchWindow) * c.LoadMultiplier)
}
