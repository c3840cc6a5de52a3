package pubsub_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/sensoria/pkg/pubsub"
	"github.com/Sumatoshi-tech/sensoria/pkg/telemetry"
)

func TestTopicHelpers(t *testing.T) {
	t.Parallel()

	assert.Equal(t, pubsub.Topic("data:s1"), pubsub.DataTopic("s1"))
	assert.Equal(t, pubsub.Topic("data:attention:high"), pubsub.AttentionDataTopic("high"))
	assert.Equal(t, pubsub.Topic("attention:s1"), pubsub.AttentionTopic("s1"))
	assert.Equal(t, pubsub.Topic("attention:s1:hr"), pubsub.AttributeAttentionTopic("s1", "hr"))
	assert.Equal(t, pubsub.Topic("signal:s1"), pubsub.SignalTopic("s1"))
	assert.Equal(t, pubsub.Topic("discovery:sensors"), pubsub.TopicDiscovery)
	assert.Equal(t, pubsub.Topic("system:load"), pubsub.TopicSystemLoad)
}

func TestPublishDeliversToSubscribers(t *testing.T) {
	t.Parallel()

	bus := pubsub.New(pubsub.Options{})
	defer bus.Close()

	sub, err := bus.Subscribe(pubsub.DataTopic("s1"))
	require.NoError(t, err)

	other, err := bus.Subscribe(pubsub.DataTopic("s2"))
	require.NoError(t, err)

	m := telemetry.Measurement{SensorID: "s1", AttributeID: "hr", Timestamp: 1, Payload: 72.0}
	bus.Publish(context.Background(), pubsub.DataTopic("s1"), pubsub.MeasurementMsg{Measurement: m})

	got := <-sub.Messages()
	msg, ok := got.(pubsub.MeasurementMsg)
	require.True(t, ok)
	assert.Equal(t, m, msg.Measurement)
	assert.Equal(t, pubsub.KindMeasurement, got.Kind())

	select {
	case unexpected := <-other.Messages():
		t.Fatalf("subscriber on another topic received %v", unexpected)
	default:
	}
}

func TestPublishOrderPerSubscriber(t *testing.T) {
	t.Parallel()

	bus := pubsub.New(pubsub.Options{BufferSize: 128})
	defer bus.Close()

	sub, err := bus.Subscribe(pubsub.DataTopic("s1"))
	require.NoError(t, err)

	const n = 100
	for i := range n {
		m := telemetry.Measurement{SensorID: "s1", AttributeID: "hr", Timestamp: int64(i)}
		bus.Publish(context.Background(), pubsub.DataTopic("s1"), pubsub.MeasurementMsg{Measurement: m})
	}

	for i := range n {
		got := <-sub.Messages()
		msg, ok := got.(pubsub.MeasurementMsg)
		require.True(t, ok)
		assert.Equal(t, int64(i), msg.Measurement.Timestamp)
	}
}

func TestSlowSubscriberDropsOnlyItsOwnMessages(t *testing.T) {
	t.Parallel()

	bus := pubsub.New(pubsub.Options{BufferSize: 1})
	defer bus.Close()

	slow, err := bus.Subscribe(pubsub.TopicSystemLoad)
	require.NoError(t, err)

	fast, err := bus.Subscribe(pubsub.TopicSystemLoad)
	require.NoError(t, err)

	ctx := context.Background()
	drainFast := func(want int) {
		for range want {
			<-fast.Messages()
		}
	}

	bus.Publish(ctx, pubsub.TopicSystemLoad, pubsub.SystemLoadChangedMsg{Level: "normal", Multiplier: 1.0})
	drainFast(1)
	bus.Publish(ctx, pubsub.TopicSystemLoad, pubsub.SystemLoadChangedMsg{Level: "elevated", Multiplier: 1.5})
	drainFast(1)
	bus.Publish(ctx, pubsub.TopicSystemLoad, pubsub.SystemLoadChangedMsg{Level: "high", Multiplier: 3.0})
	drainFast(1)

	// Slow buffer held only the first message, two were dropped for it.
	assert.Equal(t, int64(2), slow.Dropped())
	assert.Equal(t, int64(0), fast.Dropped())

	first := <-slow.Messages()
	load, ok := first.(pubsub.SystemLoadChangedMsg)
	require.True(t, ok)
	assert.Equal(t, "normal", load.Level)

	// After draining, the slow subscriber receives new traffic again.
	bus.Publish(ctx, pubsub.TopicSystemLoad, pubsub.SystemLoadChangedMsg{Level: "critical", Multiplier: 5.0})

	next := <-slow.Messages()
	load, ok = next.(pubsub.SystemLoadChangedMsg)
	require.True(t, ok)
	assert.Equal(t, "critical", load.Level)
}

func TestUnsubscribeClosesChannelAndIsIdempotent(t *testing.T) {
	t.Parallel()

	bus := pubsub.New(pubsub.Options{})
	defer bus.Close()

	sub, err := bus.Subscribe(pubsub.SignalTopic("s1"))
	require.NoError(t, err)
	assert.Equal(t, 1, bus.SubscriberCount(pubsub.SignalTopic("s1")))

	bus.Unsubscribe(sub)
	bus.Unsubscribe(sub)
	bus.Unsubscribe(nil)

	_, open := <-sub.Messages()
	assert.False(t, open)
	assert.Equal(t, 0, bus.SubscriberCount(pubsub.SignalTopic("s1")))

	// Publishing to a topic with no subscribers is a no-op.
	bus.Publish(context.Background(), pubsub.SignalTopic("s1"), pubsub.SensorSignalMsg{SensorID: "s1"})
}

func TestCloseTearsDownEverything(t *testing.T) {
	t.Parallel()

	bus := pubsub.New(pubsub.Options{})

	sub, err := bus.Subscribe(pubsub.TopicDiscovery)
	require.NoError(t, err)

	bus.Close()
	bus.Close()

	_, open := <-sub.Messages()
	assert.False(t, open)

	_, err = bus.Subscribe(pubsub.TopicDiscovery)
	assert.ErrorIs(t, err, pubsub.ErrBusClosed)

	// Publish after close must not panic.
	bus.Publish(context.Background(), pubsub.TopicDiscovery, pubsub.SensorRegisteredMsg{SensorID: "s1"})
}
