package sensor_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/sensoria/pkg/pubsub"
	"github.com/Sumatoshi-tech/sensoria/pkg/sensor"
	"github.com/Sumatoshi-tech/sensoria/pkg/store"
	"github.com/Sumatoshi-tech/sensoria/pkg/telemetry"
)

// blockingStore wedges every writer until unblock is called. Reads are empty
// and deletes are no-ops.
type blockingStore struct {
	once    sync.Once
	release chan struct{}
}

func newBlockingStore(t *testing.T) *blockingStore {
	t.Helper()

	s := &blockingStore{release: make(chan struct{})}
	t.Cleanup(s.unblock)

	return s
}

func (s *blockingStore) unblock() { s.once.Do(func() { close(s.release) }) }

func (s *blockingStore) Put(telemetry.Measurement) { <-s.release }

func (s *blockingStore) GetAttributes(string, int) map[string][]telemetry.Measurement {
	return nil
}

func (s *blockingStore) Remove(string, string) {}

func (s *blockingStore) Cleanup(string) {}

func newDirectory(t *testing.T, opts sensor.DirectoryOptions) *sensor.Directory {
	t.Helper()

	d, err := sensor.NewDirectory(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Shutdown(context.Background()) })

	return d
}

func TestDirectoryAddRemoveLifecycle(t *testing.T) {
	t.Parallel()

	bus := newBus(t)
	rep := &fakeReplicator{}
	attn := &fakeAttention{}

	d := newDirectory(t, sensor.DirectoryOptions{
		Bus:        bus,
		Store:      store.New(store.Options{}),
		Attention:  attn,
		Replicator: rep,
	})

	created, err := d.AddSensor(sensor.Config{SensorID: "s1", SensorName: "Bed 7"})
	require.NoError(t, err)
	assert.True(t, created)

	// Re-adding a running sensor is not an error.
	created, err = d.AddSensor(sensor.Config{SensorID: "s1"})
	require.NoError(t, err)
	assert.False(t, created)

	assert.Equal(t, []string{"s1"}, d.ListSensors())

	_, ok := d.Worker("s1")
	assert.True(t, ok)

	require.Eventually(t, func() bool {
		ups, _ := rep.seen()

		return len(ups) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, d.RemoveSensor("s1"))

	assert.Empty(t, d.ListSensors())
	assert.Equal(t, []string{"s1"}, attn.cleanedSensors())

	_, downs := rep.seen()
	assert.Equal(t, []string{"s1"}, downs)

	err = d.RemoveSensor("s1")
	require.ErrorIs(t, err, sensor.ErrSensorNotFound)
}

func TestDirectoryAddSensorRejectsEmptyID(t *testing.T) {
	t.Parallel()

	d := newDirectory(t, sensor.DirectoryOptions{})

	_, err := d.AddSensor(sensor.Config{})
	require.ErrorIs(t, err, sensor.ErrConfigRejected)
}

func TestDirectoryStateFanOut(t *testing.T) {
	t.Parallel()

	st := newBlockingStore(t)

	d := newDirectory(t, sensor.DirectoryOptions{
		Store:        st,
		ReadTimeout:  100 * time.Millisecond,
		StateTimeout: 100 * time.Millisecond,
	})

	// Unblock the wedged worker before the directory shuts down.
	t.Cleanup(st.unblock)

	for _, id := range []string{"s1", "s2", "s3"} {
		_, err := d.AddSensor(sensor.Config{SensorID: id})
		require.NoError(t, err)
	}

	// Wedge s2's goroutine inside a store write. Its mailbox backs up, so
	// state reads time out instead of answering.
	w, ok := d.Worker("s2")
	require.True(t, ok)
	require.NoError(t, w.PutAttribute(telemetry.Measurement{AttributeID: "hr", Payload: 1.0}))

	state, err := d.GetSensorState(context.Background(), "s2", sensor.StateDefault, 1)
	require.NoError(t, err)
	assert.Equal(t, "s2", state.SensorID)
	assert.Equal(t, sensor.StatusUnavailable, state.Status)

	state, err = d.GetSensorState(context.Background(), "s1", sensor.StateDefault, 1)
	require.NoError(t, err)
	assert.Equal(t, sensor.StatusOK, state.Status)

	// The fan-out keeps its shape: one slot per sensor in id order, the
	// wedged one as a placeholder.
	states := d.GetAllSensorsState(context.Background(), sensor.StateDefault, 1)
	require.Len(t, states, 3)
	assert.Equal(t, "s1", states[0].SensorID)
	assert.Equal(t, sensor.StatusOK, states[0].Status)
	assert.Equal(t, "s2", states[1].SensorID)
	assert.Equal(t, sensor.StatusUnavailable, states[1].Status)
	assert.Equal(t, "s3", states[2].SensorID)
	assert.Equal(t, sensor.StatusOK, states[2].Status)
}

func TestDirectoryShutdownAbandonsStalledWorkers(t *testing.T) {
	t.Parallel()

	bus := newBus(t)
	st := newBlockingStore(t)
	discovery := subscribe(t, bus, pubsub.TopicDiscovery)

	d := newDirectory(t, sensor.DirectoryOptions{
		Bus:             bus,
		Store:           st,
		ShutdownTimeout: 50 * time.Millisecond,
	})

	_, err := d.AddSensor(sensor.Config{SensorID: "s1"})
	require.NoError(t, err)

	msg := receive(t, discovery.Messages())
	_, ok := msg.(pubsub.SensorRegisteredMsg)
	require.True(t, ok)

	w, ok := d.Worker("s1")
	require.True(t, ok)
	require.NoError(t, w.PutAttribute(telemetry.Measurement{AttributeID: "hr", Payload: 1.0}))

	err = d.Shutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not stop cleanly")

	// Abandoned workers still get their unregister broadcast.
	msg = receive(t, discovery.Messages())
	unreg, ok := msg.(pubsub.SensorUnregisteredMsg)
	require.True(t, ok)
	assert.Equal(t, "s1", unreg.SensorID)
}

func TestDirectorySchemaValidation(t *testing.T) {
	t.Parallel()

	const schema = `{
		"type": "object",
		"required": ["sensor_id", "sensor_type"],
		"properties": {
			"sensor_id": {"type": "string", "minLength": 1},
			"sensor_type": {"enum": ["wearable", "camera"]}
		}
	}`

	d := newDirectory(t, sensor.DirectoryOptions{ConfigSchema: schema})

	created, err := d.AddSensor(sensor.Config{SensorID: "s1", SensorType: "wearable"})
	require.NoError(t, err)
	assert.True(t, created)

	_, err = d.AddSensor(sensor.Config{SensorID: "s2", SensorType: "toaster"})
	require.ErrorIs(t, err, sensor.ErrConfigRejected)

	_, err = d.AddSensor(sensor.Config{SensorID: "s3"})
	require.ErrorIs(t, err, sensor.ErrConfigRejected)

	assert.Equal(t, []string{"s1"}, d.ListSensors())
}

func TestNewDirectoryRejectsBadSchema(t *testing.T) {
	t.Parallel()

	_, err := sensor.NewDirectory(sensor.DirectoryOptions{ConfigSchema: "{"})
	require.Error(t, err)
}

func TestDirectoryClosedOperations(t *testing.T) {
	t.Parallel()

	d := newDirectory(t, sensor.DirectoryOptions{})

	_, err := d.AddSensor(sensor.Config{SensorID: "s1"})
	require.NoError(t, err)

	require.NoError(t, d.Shutdown(context.Background()))

	_, err = d.AddSensor(sensor.Config{SensorID: "s2"})
	require.ErrorIs(t, err, sensor.ErrDirectoryClosed)

	err = d.RemoveSensor("s1")
	require.ErrorIs(t, err, sensor.ErrDirectoryClosed)

	_, err = d.GetSensorState(context.Background(), "s1", sensor.StateDefault, 1)
	require.ErrorIs(t, err, sensor.ErrDirectoryClosed)

	assert.Empty(t, d.ListSensors())

	_, ok := d.Worker("s1")
	assert.False(t, ok)

	// Shutdown is idempotent.
	require.NoError(t, d.Shutdown(context.Background()))
}

func TestDirectoryGetSensorStateMissing(t *testing.T) {
	t.Parallel()

	d := newDirectory(t, sensor.DirectoryOptions{})

	_, err := d.GetSensorState(context.Background(), "ghost", sensor.StateDefault, 1)
	require.ErrorIs(t, err, sensor.ErrSensorNotFound)
}

func TestDirectoryViewModeFanOut(t *testing.T) {
	t.Parallel()

	d := newDirectory(t, sensor.DirectoryOptions{Store: store.New(store.Options{})})

	for _, id := range []string{"s2", "s1"} {
		_, err := d.AddSensor(sensor.Config{SensorID: id})
		require.NoError(t, err)

		w, ok := d.Worker(id)
		require.True(t, ok)
		require.NoError(t, w.PutAttribute(telemetry.Measurement{
			AttributeID: "hr",
			Timestamp:   9,
			Payload:     64.0,
		}))
	}

	require.Eventually(t, func() bool {
		states := d.GetAllSensorsState(context.Background(), sensor.StateView, 1)
		if len(states) != 2 {
			return false
		}

		for _, st := range states {
			if len(st.Attributes) != 1 {
				return false
			}
		}

		return true
	}, 3*time.Second, 25*time.Millisecond)

	states := d.GetAllSensorsState(context.Background(), sensor.StateView, 1)
	require.Len(t, states, 2)
	assert.Equal(t, "s1", states[0].SensorID)
	assert.Equal(t, "s2", states[1].SensorID)

	for _, st := range states {
		require.Contains(t, st.Attributes, "hr")
		assert.Equal(t, 64.0, st.Attributes["hr"].LastValue)
		assert.Empty(t, st.Attributes["hr"].Measurements)
		assert.Equal(t, int64(9), st.Attributes["hr"].UpdatedMS)
	}
}
