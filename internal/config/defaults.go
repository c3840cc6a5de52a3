package config

// Store defaults.
const (
	DefaultStoreHotLimit  = 1000
	DefaultStoreWarmLimit = 60000
)

// Attention defaults. Battery caps are attention level names.
const (
	DefaultAttentionBatteryCapLow      = "medium"
	DefaultAttentionBatteryCapCritical = "low"
)

// Replicator defaults.
const (
	DefaultReplicatorPoolSize       = 8
	DefaultReplicatorBatchSize      = 100
	DefaultReplicatorBatchTimeoutMS = 1000
)

// Sensor worker defaults.
const (
	DefaultSensorHibernateAfterMS    = 300000
	DefaultSensorIdleCheckIntervalMS = 60000
)

// DefaultSensorPriorityAttributes are broadcast at high attention even when
// nobody is watching.
var DefaultSensorPriorityAttributes = []string{"button", "buttons"}

// Load monitor defaults.
const (
	DefaultLoadSampleIntervalMS = 1000
)

// PubSub defaults.
const (
	DefaultPubSubBufferSize = 64
)

// Directory defaults.
const (
	DefaultDirectoryStateConcurrency = 10
	DefaultDirectoryStateTimeoutMS   = 10000
)

// Observability defaults.
const (
	DefaultObservabilityOTLPEndpoint = ""
	DefaultObservabilityLogLevel     = "info"
	DefaultObservabilityLogJSON      = false
)

// Serve defaults.
const (
	DefaultServeListen = ":8085"
)
