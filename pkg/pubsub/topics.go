package pubsub

// Topic names a bus channel. Topics are plain strings assembled from the
// helpers below so every producer and consumer spells them identically.
type Topic string

// Fixed topics.
const (
	// TopicDiscovery carries sensor registration and removal announcements.
	TopicDiscovery Topic = "discovery:sensors"
	// TopicSystemLoad carries load level transitions from the system monitor.
	TopicSystemLoad Topic = "system:load"
)

// DataTopic is the per-sensor measurement stream.
func DataTopic(sensorID string) Topic {
	return Topic("data:" + sensorID)
}

// AttentionDataTopic is the cross-sensor measurement stream sharded by
// attention level, so consumers can follow only the traffic tier they can
// afford.
func AttentionDataTopic(level string) Topic {
	return Topic("data:attention:" + level)
}

// AttentionTopic carries sensor-level attention changes.
func AttentionTopic(sensorID string) Topic {
	return Topic("attention:" + sensorID)
}

// AttributeAttentionTopic carries attention changes for one attribute.
func AttributeAttentionTopic(sensorID, attributeID string) Topic {
	return Topic("attention:" + sensorID + ":" + attributeID)
}

// SignalTopic carries sensor metadata signals: attribute registry edits and
// connector renames.
func SignalTopic(sensorID string) Topic {
	return Topic("signal:" + sensorID)
}
