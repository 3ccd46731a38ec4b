package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/DaDevFox/task-systems/pantry-core/internal/domain"
)

// EventType names a notification published by the inventory client.
type EventType string

const (
	OperationSucceeded EventType = "operation_succeeded"
	OperationFailed    EventType = "operation_failed"
	InventoryReloaded  EventType = "inventory_reloaded"
)

// Event is a completion, failure or reload notification.
type Event struct {
	ID        string
	Type      EventType
	Source    string
	Timestamp time.Time

	// Op is the client operation (increment, decrement, set_quantity, reload).
	Op   string
	Item string
	Err  error

	// Inventory and Sequence are set on InventoryReloaded.
	Inventory domain.Inventory
	Sequence  uint64
}

// EventHandler defines the interface for handling events
type EventHandler func(ctx context.Context, event Event) error

// EventBus provides in-memory pub/sub functionality
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]EventHandler
	all         []EventHandler
	serviceName string
	logger      *logrus.Logger
	inflight    sync.WaitGroup
}

// NewEventBus creates a new event bus for a service
func NewEventBus(serviceName string, logger *logrus.Logger) *EventBus {
	if logger == nil {
		logger = logrus.New()
	}
	return &EventBus{
		subscribers: make(map[EventType][]EventHandler),
		serviceName: serviceName,
		logger:      logger,
	}
}

// Subscribe registers a handler for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], handler)
}

// SubscribeAll registers a handler for every event type.
func (eb *EventBus) SubscribeAll(handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.all = append(eb.all, handler)
}

// Publish stamps the event and hands it to every matching handler on its own goroutine.
func (eb *EventBus) Publish(ctx context.Context, event Event) {
	eb.mu.RLock()
	handlers := make([]EventHandler, 0, len(eb.subscribers[event.Type])+len(eb.all))
	handlers = append(handlers, eb.subscribers[event.Type]...)
	handlers = append(handlers, eb.all...)
	eb.mu.RUnlock()

	if len(handlers) == 0 {
		return
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	event.Source = eb.serviceName

	for _, handler := range handlers {
		eb.inflight.Add(1)
		go func(h EventHandler) {
			defer eb.inflight.Done()
			if err := h(ctx, event); err != nil {
				eb.logger.WithError(err).WithFields(logrus.Fields{
					"event_id":   event.ID,
					"event_type": event.Type,
				}).Warn("event handler failed")
			}
		}(handler)
	}
}

// Wait blocks until every handler started so far has returned.
func (eb *EventBus) Wait() {
	eb.inflight.Wait()
}
