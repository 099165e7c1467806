package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freightdoom/engine/internal/events"
	"github.com/freightdoom/engine/internal/metrics"
	"github.com/freightdoom/engine/internal/models"
)

type fakeBroker struct {
	mu        sync.Mutex
	published [][]byte
	appended  [][]byte
	scores    []float64

	pingErr    error
	publishErr func(payload []byte) error
}

func (f *fakeBroker) Publish(_ context.Context, _ string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		if err := f.publishErr(payload); err != nil {
			return err
		}
	}
	f.published = append(f.published, payload)
	return nil
}

func (f *fakeBroker) AppendLog(_ context.Context, _ string, score float64, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appended = append(f.appended, payload)
	f.scores = append(f.scores, score)
	return nil
}

func (f *fakeBroker) Ping(context.Context) error { return f.pingErr }

func (f *fakeBroker) Close() error { return nil }

func (f *fakeBroker) publishedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func newTestPublisher(broker Broker, bus *events.Bus, tap *events.Tap) (*Publisher, *metrics.Collector) {
	collector := metrics.NewCollector(nil)
	return New(broker, bus, tap, collector, "freight_doom_events", "freight_doom_log"), collector
}

func TestRunPublishesAndPersistsUntilBusCloses(t *testing.T) {
	broker := &fakeBroker{}
	bus := events.NewBus(16)
	pub, _ := newTestPublisher(broker, bus, nil)

	first := models.NewEvent("Yellow Corp", models.SourcePacer, 0.9)
	second := models.NewEvent("Convoy Inc", models.SourceFmcsa, 0.85)
	require.NoError(t, bus.TrySend(first))
	require.NoError(t, bus.TrySend(second))
	bus.Close()

	require.NoError(t, pub.Run(context.Background()))

	require.Len(t, broker.published, 2)
	require.Len(t, broker.appended, 2)
	assert.Equal(t, float64(first.DetectedAt.Unix()), broker.scores[0])

	var decoded models.Event
	require.NoError(t, json.Unmarshal(broker.published[0], &decoded))
	assert.Equal(t, "Yellow Corp", decoded.CompanyName)

	snap := pub.Snapshot()
	assert.Equal(t, uint64(2), snap.EventsPublished)
	assert.Equal(t, uint64(2), snap.EventsPersisted)
	assert.Equal(t, uint64(0), snap.PublishErrors)
}

func TestFailedEventIsCountedNotRetried(t *testing.T) {
	var calls int
	broker := &fakeBroker{
		publishErr: func([]byte) error {
			calls++
			if calls == 1 {
				return errors.New("connection reset")
			}
			return nil
		},
	}
	bus := events.NewBus(16)
	pub, collector := newTestPublisher(broker, bus, nil)

	require.NoError(t, bus.TrySend(models.NewEvent("Lost Freight LLC", models.SourceEdgar, 0.8)))
	require.NoError(t, bus.TrySend(models.NewEvent("Surviving Carrier", models.SourceEdgar, 0.8)))
	bus.Close()

	require.NoError(t, pub.Run(context.Background()))

	// Exactly one attempt per event; the failed one is dropped, not retried.
	assert.Equal(t, 2, calls)
	require.Len(t, broker.published, 1)

	var decoded models.Event
	require.NoError(t, json.Unmarshal(broker.published[0], &decoded))
	assert.Equal(t, "Surviving Carrier", decoded.CompanyName)

	snap := pub.Snapshot()
	assert.Equal(t, uint64(1), snap.EventsPublished)
	assert.Equal(t, uint64(1), snap.PublishErrors)
	assert.Equal(t, uint64(1), collector.Snapshot().RedisPublishFailures)
}

func TestShutdownDrainsQueuedEvents(t *testing.T) {
	broker := &fakeBroker{}
	bus := events.NewBus(16)
	pub, _ := newTestPublisher(broker, bus, nil)

	for i := 0; i < 3; i++ {
		require.NoError(t, bus.TrySend(models.NewEvent("Queued Carrier", models.SourcePacer, 0.8)))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, pub.Run(ctx))

	assert.Equal(t, 3, broker.publishedCount())
	assert.Equal(t, uint64(3), pub.Snapshot().EventsPublished)
}

func TestConnectAbortsOnShutdown(t *testing.T) {
	broker := &fakeBroker{pingErr: errors.New("refused")}
	bus := events.NewBus(1)
	pub, _ := newTestPublisher(broker, bus, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() { done <- pub.Run(ctx) }()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("publisher did not exit after shutdown during connect")
	}
}

func TestPublishedEventsReachTapSubscribers(t *testing.T) {
	broker := &fakeBroker{}
	bus := events.NewBus(16)
	tap := events.NewTap()
	pub, _ := newTestPublisher(broker, bus, tap)

	sub, cancelSub := tap.Subscribe()
	defer cancelSub()

	event := models.NewEvent("Streamed Carrier", models.SourceCourtListener, 0.9)
	require.NoError(t, bus.TrySend(event))
	bus.Close()

	require.NoError(t, pub.Run(context.Background()))

	select {
	case got := <-sub:
		assert.Equal(t, event.ID, got.ID)
	default:
		t.Fatal("tap subscriber did not receive the published event")
	}
}
