package inventory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/DaDevFox/task-systems/pantry-core/internal/docstore"
	"github.com/DaDevFox/task-systems/pantry-core/internal/domain"
	"github.com/DaDevFox/task-systems/pantry-core/internal/events"
)

const (
	OpReload      = "reload"
	OpIncrement   = "increment"
	OpDecrement   = "decrement"
	OpSetQuantity = "set_quantity"

	resultOK    = "ok"
	resultError = "error"

	maxSwapAttempts = 5
)

// ErrAdjustConflict is returned when a compare-and-set adjust keeps losing to concurrent writers.
var ErrAdjustConflict = errors.New("quantity changed concurrently")

// Recorder receives per-operation timings and the size of each applied inventory.
type Recorder interface {
	ObserveOperation(op, result string, elapsed time.Duration)
	SetItems(count int)
}

type nopRecorder struct{}

func (nopRecorder) ObserveOperation(string, string, time.Duration) {}
func (nopRecorder) SetItems(int) {}

// Client owns the in-memory inventory and every read and write against the document store.
type Client struct {
	store    docstore.Store
	swapper  docstore.Swapper
	logger   *logrus.Logger
	bus      *events.EventBus
	recorder Recorder

	mu        sync.RWMutex
	inventory domain.Inventory
	applied   uint64

	sequence atomic.Uint64
}

// Option configures a Client.
type Option func(*Client)

func WithLogger(logger *logrus.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithEventBus publishes completion, failure and reload notifications on bus.
func WithEventBus(bus *events.EventBus) Option {
	return func(c *Client) { c.bus = bus }
}

func WithRecorder(recorder Recorder) Option {
	return func(c *Client) {
		if recorder != nil {
			c.recorder = recorder
		}
	}
}

// WithAtomicAdjust makes Increment and Decrement use compare-and-set with retry
// when the store supports it. Without it they read then write in two calls.
func WithAtomicAdjust() Option {
	return func(c *Client) { c.swapper = swapperOf(c.store) }
}

func swapperOf(store docstore.Store) docstore.Swapper {
	swapper, _ := store.(docstore.Swapper)
	return swapper
}

// NewClient creates a client with an empty inventory. Call Reload to populate it.
func NewClient(store docstore.Store, opts ...Option) *Client {
	c := &Client{
		store:     store,
		logger:    logrus.New(),
		recorder:  nopRecorder{},
		inventory: domain.Inventory{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Snapshot returns a copy of the inventory as of the last applied reload.
func (c *Client) Snapshot() domain.Inventory {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.inventory.Clone()
}

// Current returns the applied inventory together with the sequence of the reload that produced it.
func (c *Client) Current() (domain.Inventory, uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.inventory.Clone(), c.applied
}

// AtomicAdjust reports whether increments and decrements use compare-and-set.
func (c *Client) AtomicAdjust() bool {
	return c.swapper != nil
}

// Reload fetches the whole collection and replaces the inventory in one step.
// A result is applied only if no newer reload has been applied in the meantime.
// On failure the previous inventory is kept and returned alongside the error.
func (c *Client) Reload(ctx context.Context) (domain.Inventory, error) {
	seq := c.sequence.Add(1)
	start := time.Now()

	entries, err := c.store.List(ctx)
	if err != nil {
		err = domain.NewStoreUnavailable(OpReload, "", err)
		c.fail(ctx, OpReload, "", start, err)
		return c.Snapshot(), err
	}

	next := make(domain.Inventory, 0, len(entries))
	for _, entry := range entries {
		next = append(next, domain.Item{Name: entry.Key, Quantity: entry.Document.Quantity})
	}

	c.mu.Lock()
	if seq <= c.applied {
		current := c.inventory.Clone()
		applied := c.applied
		c.mu.Unlock()

		c.logger.WithFields(logrus.Fields{
			"sequence": seq,
			"applied":  applied,
		}).Debug("dropping stale reload result")
		c.recorder.ObserveOperation(OpReload, resultOK, time.Since(start))
		return current, nil
	}
	c.inventory = next
	c.applied = seq
	c.mu.Unlock()

	c.recorder.ObserveOperation(OpReload, resultOK, time.Since(start))
	c.recorder.SetItems(len(next))
	c.logger.WithFields(logrus.Fields{
		"sequence": seq,
		"items":    len(next),
	}).Debug("inventory reloaded")

	c.publish(ctx, events.Event{
		Type:      events.InventoryReloaded,
		Op:        OpReload,
		Inventory: next.Clone(),
		Sequence:  seq,
	})
	return next.Clone(), nil
}

// Increment creates the item with quantity 1 or raises its quantity by one, then reloads.
func (c *Client) Increment(ctx context.Context, name string) error {
	return c.mutate(ctx, OpIncrement, name, func() error {
		return c.adjust(ctx, name, 1)
	})
}

// Decrement lowers the quantity by one and deletes the item instead of reaching zero.
// An absent item is left alone. Always followed by a reload.
func (c *Client) Decrement(ctx context.Context, name string) error {
	return c.mutate(ctx, OpDecrement, name, func() error {
		return c.adjust(ctx, name, -1)
	})
}

// SetQuantity overwrites the quantity. A non-positive quantity deletes the item.
func (c *Client) SetQuantity(ctx context.Context, name string, quantity int) error {
	return c.mutate(ctx, OpSetQuantity, name, func() error {
		if quantity <= 0 {
			return c.store.Delete(ctx, name)
		}
		return c.store.Set(ctx, name, docstore.Document{Quantity: quantity})
	})
}

func (c *Client) mutate(ctx context.Context, op, name string, write func() error) error {
	if err := domain.ValidateName(name); err != nil {
		c.logger.WithField("op", op).Warn("rejected item name")
		return err
	}

	start := time.Now()
	if err := write(); err != nil {
		if !errors.Is(err, ErrAdjustConflict) && !errors.Is(err, domain.ErrInvalidQuantity) {
			err = domain.NewStoreUnavailable(op, name, err)
		}
		c.fail(ctx, op, name, start, err)
		return err
	}

	c.recorder.ObserveOperation(op, resultOK, time.Since(start))
	c.logger.WithFields(logrus.Fields{
		"op":   op,
		"item": name,
	}).Info("inventory updated")
	c.publish(ctx, events.Event{Type: events.OperationSucceeded, Op: op, Item: name})

	_, err := c.Reload(ctx)
	return err
}

func (c *Client) adjust(ctx context.Context, name string, delta int) error {
	if c.swapper != nil {
		return c.swapAdjust(ctx, name, delta)
	}

	current, err := c.currentQuantity(ctx, name)
	if err != nil {
		return err
	}
	if current == 0 && delta < 0 {
		return nil
	}
	if err := checkHeadroom(name, current, delta); err != nil {
		return err
	}

	next := current + delta
	if next <= 0 {
		return c.store.Delete(ctx, name)
	}
	return c.store.Set(ctx, name, docstore.Document{Quantity: next})
}

func (c *Client) swapAdjust(ctx context.Context, name string, delta int) error {
	for attempt := 1; attempt <= maxSwapAttempts; attempt++ {
		current, err := c.currentQuantity(ctx, name)
		if err != nil {
			return err
		}
		if current == 0 && delta < 0 {
			return nil
		}
		if err := checkHeadroom(name, current, delta); err != nil {
			return err
		}

		next := current + delta
		if next < 0 {
			next = 0
		}
		swapped, err := c.swapper.CompareAndSwap(ctx, name, current, next)
		if err != nil {
			return err
		}
		if swapped {
			return nil
		}

		c.logger.WithFields(logrus.Fields{
			"item":    name,
			"attempt": attempt,
		}).Debug("compare-and-set lost, retrying")
	}
	return fmt.Errorf("%w: %s after %d attempts", ErrAdjustConflict, name, maxSwapAttempts)
}

// checkHeadroom refuses an increment that would wrap past math.MaxInt.
func checkHeadroom(name string, current, delta int) error {
	if delta > 0 && current > math.MaxInt-delta {
		return fmt.Errorf("%w: %s is already at %d", domain.ErrInvalidQuantity, name, current)
	}
	return nil
}

// currentQuantity treats a missing document as quantity 0.
func (c *Client) currentQuantity(ctx context.Context, name string) (int, error) {
	doc, err := c.store.Get(ctx, name)
	if errors.Is(err, docstore.ErrDocumentMissing) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return doc.Quantity, nil
}

func (c *Client) fail(ctx context.Context, op, name string, start time.Time, err error) {
	c.recorder.ObserveOperation(op, resultError, time.Since(start))
	c.logger.WithError(err).WithFields(logrus.Fields{
		"op":   op,
		"item": name,
	}).Error("inventory operation failed")
	c.publish(ctx, events.Event{Type: events.OperationFailed, Op: op, Item: name, Err: err})
}

func (c *Client) publish(ctx context.Context, event events.Event) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(context.WithoutCancel(ctx), event)
}
