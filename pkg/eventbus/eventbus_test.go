package eventbus_test

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ciroautuori/automato/pkg/channels/gochannel"
	"github.com/ciroautuori/automato/pkg/eventbus"
	"github.com/ciroautuori/automato/pkg/events"
)

func newTestBus(t *testing.T) eventbus.EventBus {
	t.Helper()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)
	t.Cleanup(func() {
		_ = bus.Close()
	})

	return bus
}

func TestWatermillEventBus_PublishAndHandle(t *testing.T) {
	bus := newTestBus(t)

	received := make(chan *events.ExecutionStarted, 1)

	err := bus.Handle(events.ExecutionStartedEvent, func(ctx context.Context, event any) error {
		started, ok := event.(*events.ExecutionStarted)
		require.True(t, ok)

		received <- started

		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx))

	published := events.ExecutionStarted{
		BaseEvent: events.BaseEvent{
			ID:           bus.GenerateID(),
			Type:         events.ExecutionStartedEvent,
			Timestamp:    time.Now().UTC(),
			DefinitionID: "def-1",
		},
		ExecutionID: "exec-1",
		TriggerType: "manual",
	}

	require.NoError(t, bus.Publish(ctx, "def-1", published))

	select {
	case got := <-received:
		assert.Equal(t, "exec-1", got.ExecutionID)
		assert.Equal(t, "def-1", got.DefinitionID)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestWatermillEventBus_UnhandledEventTypesAreAcked(t *testing.T) {
	bus := newTestBus(t)

	received := make(chan *events.ExecutionCompleted, 1)

	err := bus.Handle(events.ExecutionCompletedEvent, func(ctx context.Context, event any) error {
		completed, ok := event.(*events.ExecutionCompleted)
		require.True(t, ok)

		received <- completed

		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx))

	// No handler registered for this type; the subscriber must ack and move on.
	require.NoError(t, bus.Publish(ctx, "def-1", events.ExecutionStarted{
		BaseEvent:   events.BaseEvent{ID: bus.GenerateID(), Type: events.ExecutionStartedEvent},
		ExecutionID: "exec-1",
	}))

	require.NoError(t, bus.Publish(ctx, "def-1", events.ExecutionCompleted{
		BaseEvent:   events.BaseEvent{ID: bus.GenerateID(), Type: events.ExecutionCompletedEvent},
		ExecutionID: "exec-2",
	}))

	select {
	case got := <-received:
		assert.Equal(t, "exec-2", got.ExecutionID)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestWatermillEventBus_GenerateID(t *testing.T) {
	bus := newTestBus(t)

	first := bus.GenerateID()
	second := bus.GenerateID()

	assert.NotEmpty(t, first)
	assert.NotEqual(t, first, second)
}
