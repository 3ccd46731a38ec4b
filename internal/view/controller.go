package view

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/DaDevFox/task-systems/pantry-core/internal/domain"
	"github.com/DaDevFox/task-systems/pantry-core/internal/events"
)

// InventoryClient is what the controller needs from the inventory store client.
type InventoryClient interface {
	Reload(ctx context.Context) (domain.Inventory, error)
	Increment(ctx context.Context, name string) error
	Decrement(ctx context.Context, name string) error
	SetQuantity(ctx context.Context, name string, quantity int) error
	Current() (domain.Inventory, uint64)
}

// EditSession is the state of an open update modal.
type EditSession struct {
	Item    domain.Item
	Pending int
}

// State is a consistent copy of everything the controller exposes.
type State struct {
	Search    string
	Inventory domain.Inventory
	Filtered  domain.Inventory
	AddOpen   bool
	AddName   string
	Editing   *EditSession
}

// Controller owns search text and modal state and keeps the filtered view in step
// with the inventory. Writes requested through it are fire-and-forget.
type Controller struct {
	client InventoryClient
	logger *logrus.Logger

	mu        sync.RWMutex
	inventory domain.Inventory
	applied   uint64
	search    string
	filtered  domain.Inventory
	addOpen   bool
	addName   string
	session   *EditSession

	pending sync.WaitGroup
}

// NewController seeds the view from the client's current inventory and, when bus is
// non-nil, follows every reload published on it.
func NewController(client InventoryClient, bus *events.EventBus, logger *logrus.Logger) *Controller {
	if logger == nil {
		logger = logrus.New()
	}
	c := &Controller{
		client: client,
		logger: logger,
	}
	c.Sync()

	if bus != nil {
		bus.Subscribe(events.InventoryReloaded, func(ctx context.Context, event events.Event) error {
			c.apply(event.Inventory, event.Sequence)
			return nil
		})
	}
	return c
}

// Sync pulls the client's applied inventory into the view.
func (c *Controller) Sync() {
	inv, seq := c.client.Current()
	c.apply(inv, seq)
}

// Refresh reloads from the store and recomputes the view. On failure the view keeps
// the previous inventory.
func (c *Controller) Refresh(ctx context.Context) error {
	_, err := c.client.Reload(ctx)
	c.Sync()
	return err
}

func (c *Controller) apply(inv domain.Inventory, seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if seq < c.applied || (seq == c.applied && c.inventory != nil) {
		return
	}
	c.inventory = inv.Clone()
	c.applied = seq
	c.filtered = Filter(c.inventory, c.search)
}

// SetSearch replaces the search text and refilters the current inventory without a fetch.
func (c *Controller) SetSearch(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.search = text
	c.filtered = Filter(c.inventory, c.search)
}

func (c *Controller) Search() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.search
}

func (c *Controller) Inventory() domain.Inventory {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.inventory.Clone()
}

func (c *Controller) Filtered() domain.Inventory {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.filtered.Clone()
}

// State returns search, inventory, filtered view and modal state taken under one lock.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()

	state := State{
		Search:    c.search,
		Inventory: c.inventory.Clone(),
		Filtered:  c.filtered.Clone(),
		AddOpen:   c.addOpen,
		AddName:   c.addName,
	}
	if c.session != nil {
		session := *c.session
		state.Editing = &session
	}
	return state
}

// OpenAdd shows the add modal.
func (c *Controller) OpenAdd() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addOpen = true
}

// CloseAdd hides the add modal and keeps whatever name was typed.
func (c *Controller) CloseAdd() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addOpen = false
}

func (c *Controller) SetAddName(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addName = name
}

// SubmitAdd increments the typed name in the background, then closes the add modal
// and clears the name without waiting for the write. An invalid name leaves the modal open.
func (c *Controller) SubmitAdd(ctx context.Context) error {
	c.mu.Lock()
	name := c.addName
	if err := domain.ValidateName(name); err != nil {
		c.mu.Unlock()
		return err
	}
	c.addOpen = false
	c.addName = ""
	c.mu.Unlock()

	c.dispatch(ctx, "add", name, func(ctx context.Context) error {
		return c.client.Increment(ctx, name)
	})
	return nil
}

// RequestAdd increments name in the background.
func (c *Controller) RequestAdd(ctx context.Context, name string) {
	c.dispatch(ctx, "add", name, func(ctx context.Context) error {
		return c.client.Increment(ctx, name)
	})
}

// RequestRemove decrements name in the background.
func (c *Controller) RequestRemove(ctx context.Context, name string) {
	c.dispatch(ctx, "remove", name, func(ctx context.Context) error {
		return c.client.Decrement(ctx, name)
	})
}

// BeginEdit opens an edit session seeded with the item's quantity at selection time.
func (c *Controller) BeginEdit(item domain.Item) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = &EditSession{Item: item, Pending: item.Quantity}
}

// SetPendingQuantity records the quantity typed into the open edit session.
func (c *Controller) SetPendingQuantity(quantity int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return false
	}
	c.session.Pending = quantity
	return true
}

// EditSession returns a copy of the open session.
func (c *Controller) EditSession() (EditSession, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return EditSession{}, false
	}
	return *c.session, true
}

// CommitEdit writes the pending quantity for the session's item in the background and
// closes the session immediately. The snapshot is not compared with the live quantity.
// It reports false when no session was open.
func (c *Controller) CommitEdit(ctx context.Context) bool {
	c.mu.Lock()
	session := c.session
	c.session = nil
	c.mu.Unlock()

	if session == nil {
		return false
	}

	name, quantity := session.Item.Name, session.Pending
	c.dispatch(ctx, "update", name, func(ctx context.Context) error {
		return c.client.SetQuantity(ctx, name, quantity)
	})
	return true
}

// CancelEdit discards the session without writing.
func (c *Controller) CancelEdit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = nil
}

// Wait blocks until every write requested so far has completed.
func (c *Controller) Wait() {
	c.pending.Wait()
}

func (c *Controller) dispatch(ctx context.Context, action, name string, write func(context.Context) error) {
	ctx = context.WithoutCancel(ctx)

	c.pending.Add(1)
	go func() {
		defer c.pending.Done()

		if err := write(ctx); err != nil {
			c.logger.WithError(err).WithFields(logrus.Fields{
				"action": action,
				"item":   name,
			}).Warn("requested change did not complete")
		}
		c.Sync()
	}()
}
