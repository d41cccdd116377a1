package eventbus_test

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mercato/mercato/pkg/channels/gochannel"
	"github.com/mercato/mercato/pkg/eventbus"
	"github.com/mercato/mercato/pkg/events"
)

func setupBus(t *testing.T) eventbus.EventBus {
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
	t.Parallel()

	bus := setupBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan *events.ExecutionCompleted, 1)

	err := bus.Handle(events.ExecutionCompletedEvent, func(ctx context.Context, event any) error {
		completed, ok := event.(*events.ExecutionCompleted)
		if ok {
			received <- completed
		}

		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Subscribe(ctx))

	published := events.ExecutionCompleted{
		BaseEvent: events.BaseEvent{
			ID:            bus.GenerateID(),
			Type:          events.ExecutionCompletedEvent,
			Timestamp:     time.Now().UTC(),
			WorkflowID:    "my-workflow",
			TransactionID: "trx_1",
		},
		ExecutionID: "exec-1",
		Duration:    42 * time.Millisecond,
	}

	err = bus.Publish(ctx, string(events.ExecutionCompletedEvent), published)
	require.NoError(t, err)

	select {
	case event := <-received:
		assert.Equal(t, "my-workflow", event.WorkflowID)
		assert.Equal(t, "trx_1", event.TransactionID)
		assert.Equal(t, "exec-1", event.ExecutionID)
	case <-time.After(2 * time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestWatermillEventBus_UnhandledEventIsAcked(t *testing.T) {
	t.Parallel()

	bus := setupBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan struct{}, 1)

	err := bus.Handle(events.StepCompletedEvent, func(ctx context.Context, event any) error {
		received <- struct{}{}

		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Subscribe(ctx))

	// No handler for started events; they are acked and dropped.
	err = bus.Publish(ctx, string(events.ExecutionStartedEvent), events.ExecutionStarted{
		BaseEvent: events.BaseEvent{ID: bus.GenerateID(), Type: events.ExecutionStartedEvent},
	})
	require.NoError(t, err)

	err = bus.Publish(ctx, string(events.StepCompletedEvent), events.StepCompleted{
		BaseEvent: events.BaseEvent{ID: bus.GenerateID(), Type: events.StepCompletedEvent},
		StepID:    "my-step",
	})
	require.NoError(t, err)

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("handled event was not delivered")
	}
}

func TestWatermillEventBus_GenerateID(t *testing.T) {
	t.Parallel()

	bus := setupBus(t)

	first := bus.GenerateID()
	second := bus.GenerateID()

	assert.NotEmpty(t, first)
	assert.NotEqual(t, first, second)
}
