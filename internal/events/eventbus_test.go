package events

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToTypedAndWildcardHandlers(t *testing.T) {
	bus := NewEventBus("pantry-test", nil)

	var mu sync.Mutex
	var typed, all []Event

	bus.Subscribe(OperationSucceeded, func(ctx context.Context, e Event) error {
		mu.Lock()
		defer mu.Unlock()
		typed = append(typed, e)
		return nil
	})
	bus.SubscribeAll(func(ctx context.Context, e Event) error {
		mu.Lock()
		defer mu.Unlock()
		all = append(all, e)
		return nil
	})

	bus.Publish(context.Background(), Event{Type: OperationSucceeded, Op: "increment", Item: "eggs"})
	bus.Publish(context.Background(), Event{Type: OperationFailed, Op: "reload"})
	bus.Wait()

	require.Len(t, typed, 1)
	assert.Equal(t, "eggs", typed[0].Item)
	assert.Equal(t, "pantry-test", typed[0].Source)
	assert.NotEmpty(t, typed[0].ID)
	assert.False(t, typed[0].Timestamp.IsZero())
	assert.Len(t, all, 2)
}

func TestPublishWithoutSubscribers(t *testing.T) {
	bus := NewEventBus("pantry-test", nil)
	bus.Publish(context.Background(), Event{Type: InventoryReloaded})
	bus.Wait()
}

func TestHandlerErrorIsLogged(t *testing.T) {
	logger, hook := test.NewNullLogger()
	bus := NewEventBus("pantry-test", logger)

	bus.Subscribe(OperationFailed, func(ctx context.Context, e Event) error {
		return errors.New("boom")
	})
	bus.Publish(context.Background(), Event{Type: OperationFailed})
	bus.Wait()

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, "event handler failed", entry.Message)
}
