package inventory

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DaDevFox/task-systems/pantry-core/internal/docstore"
	"github.com/DaDevFox/task-systems/pantry-core/internal/domain"
	"github.com/DaDevFox/task-systems/pantry-core/internal/events"
)

func newTestClient(t *testing.T, store docstore.Store, opts ...Option) *Client {
	t.Helper()
	logger, _ := test.NewNullLogger()
	return NewClient(store, append([]Option{WithLogger(logger)}, opts...)...)
}

func quantityOf(t *testing.T, c *Client, name string) (int, bool) {
	t.Helper()
	item, ok := c.Snapshot().Find(name)
	return item.Quantity, ok
}

func TestIncrementDecrementLifecycle(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t, docstore.NewMemoryStore())

	require.NoError(t, client.Increment(ctx, "eggs"))
	assert.Equal(t, domain.Inventory{{Name: "eggs", Quantity: 1}}, client.Snapshot())

	require.NoError(t, client.Increment(ctx, "eggs"))
	q, _ := quantityOf(t, client, "eggs")
	assert.Equal(t, 2, q)

	require.NoError(t, client.Decrement(ctx, "eggs"))
	q, _ = quantityOf(t, client, "eggs")
	assert.Equal(t, 1, q)

	require.NoError(t, client.Decrement(ctx, "eggs"))
	assert.Empty(t, client.Snapshot())
}

func TestNetCountFlooredAtDeletion(t *testing.T) {
	tests := []struct {
		name     string
		steps    []int
		expected int
	}{
		{"only increments", []int{1, 1, 1}, 3},
		{"balanced", []int{1, 1, -1, -1}, 0},
		{"decrement first is ignored", []int{-1, 1, 1}, 2},
		{"floored then regrown", []int{1, -1, -1, 1}, 1},
		{"mixed", []int{1, 1, 1, -1, 1, -1}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := docstore.NewMemoryStore()
			client := newTestClient(t, store)

			for _, step := range tt.steps {
				if step > 0 {
					require.NoError(t, client.Increment(ctx, "oats"))
				} else {
					require.NoError(t, client.Decrement(ctx, "oats"))
				}
			}

			q, ok := quantityOf(t, client, "oats")
			if tt.expected == 0 {
				assert.False(t, ok)
				_, err := store.Get(ctx, "oats")
				assert.ErrorIs(t, err, docstore.ErrDocumentMissing)
				return
			}
			assert.True(t, ok)
			assert.Equal(t, tt.expected, q)
		})
	}
}

func TestDecrementAbsentIsNoop(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemoryStore()
	client := newTestClient(t, store)

	require.NoError(t, client.Decrement(ctx, "ghost"))

	entries, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Empty(t, client.Snapshot())
}

func TestSetQuantity(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t, docstore.NewMemoryStore())

	require.NoError(t, client.SetQuantity(ctx, "flour", 5))
	assert.Equal(t, domain.Inventory{{Name: "flour", Quantity: 5}}, client.Snapshot())

	require.NoError(t, client.SetQuantity(ctx, "flour", 3))
	q, _ := quantityOf(t, client, "flour")
	assert.Equal(t, 3, q, "set overwrites instead of adding")

	for _, q := range []int{0, -4} {
		require.NoError(t, client.SetQuantity(ctx, "flour", 7))
		require.NoError(t, client.SetQuantity(ctx, "flour", q))
		_, ok := quantityOf(t, client, "flour")
		assert.False(t, ok, "quantity %d deletes", q)
	}

	require.NoError(t, client.SetQuantity(ctx, "never-there", 0), "delete is tolerant of absent items")
}

func TestNamesAreKeptVerbatim(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t, docstore.NewMemoryStore())

	require.NoError(t, client.Increment(ctx, "Milk"))
	require.NoError(t, client.Increment(ctx, "milk"))

	assert.Equal(t, []string{"Milk", "milk"}, client.Snapshot().Names())
}

func TestInvalidNameIsRejected(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemoryStore()
	client := newTestClient(t, store)

	assert.ErrorIs(t, client.Increment(ctx, ""), domain.ErrInvalidName)
	assert.ErrorIs(t, client.Decrement(ctx, "   "), domain.ErrInvalidName)
	assert.ErrorIs(t, client.SetQuantity(ctx, "\t", 2), domain.ErrInvalidName)

	entries, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// failingStore fails every call once broken is set, and only deletes once
// deleteBroken is set.
type failingStore struct {
	*docstore.MemoryStore
	broken       atomic.Bool
	deleteBroken atomic.Bool
}

var errConnectionRefused = errors.New("dial tcp: connection refused")

func (f *failingStore) List(ctx context.Context) ([]docstore.Entry, error) {
	if f.broken.Load() {
		return nil, errConnectionRefused
	}
	return f.MemoryStore.List(ctx)
}

func (f *failingStore) Get(ctx context.Context, key string) (docstore.Document, error) {
	if f.broken.Load() {
		return docstore.Document{}, errConnectionRefused
	}
	return f.MemoryStore.Get(ctx, key)
}

func (f *failingStore) Set(ctx context.Context, key string, doc docstore.Document) error {
	if f.broken.Load() {
		return errConnectionRefused
	}
	return f.MemoryStore.Set(ctx, key, doc)
}

func (f *failingStore) Delete(ctx context.Context, key string) error {
	if f.broken.Load() || f.deleteBroken.Load() {
		return errConnectionRefused
	}
	return f.MemoryStore.Delete(ctx, key)
}

func TestReloadFailureKeepsPreviousInventory(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{MemoryStore: docstore.NewMemoryStore()}
	logger, hook := test.NewNullLogger()
	client := NewClient(store, WithLogger(logger))

	require.NoError(t, client.SetQuantity(ctx, "rice", 2))
	store.broken.Store(true)

	inv, err := client.Reload(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.ErrorIs(t, err, errConnectionRefused)
	assert.Equal(t, domain.Inventory{{Name: "rice", Quantity: 2}}, inv)
	assert.Equal(t, domain.Inventory{{Name: "rice", Quantity: 2}}, client.Snapshot())

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Equal(t, OpReload, entry.Data["op"])
}

func TestFailedMutationDoesNotReload(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{MemoryStore: docstore.NewMemoryStore()}
	client := newTestClient(t, store)

	require.NoError(t, client.Increment(ctx, "tea"))
	store.broken.Store(true)

	err := client.Increment(ctx, "tea")
	var unavailable *domain.StoreUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, OpIncrement, unavailable.Op)
	assert.Equal(t, "tea", unavailable.Key)

	q, _ := quantityOf(t, client, "tea")
	assert.Equal(t, 1, q)
}

func TestFailedDeleteIsReportedWithoutReload(t *testing.T) {
	tests := []struct {
		name  string
		op    string
		write func(ctx context.Context, c *Client) error
	}{
		{name: "decrement at one", op: OpDecrement, write: func(ctx context.Context, c *Client) error {
			return c.Decrement(ctx, "tea")
		}},
		{name: "set to zero", op: OpSetQuantity, write: func(ctx context.Context, c *Client) error {
			return c.SetQuantity(ctx, "tea", 0)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := &failingStore{MemoryStore: docstore.NewMemoryStore()}
			logger, _ := test.NewNullLogger()
			bus := events.NewEventBus("pantry-test", logger)
			client := NewClient(store, WithLogger(logger), WithEventBus(bus))

			var mu sync.Mutex
			var failed []events.Event
			bus.Subscribe(events.OperationFailed, func(ctx context.Context, e events.Event) error {
				mu.Lock()
				defer mu.Unlock()
				failed = append(failed, e)
				return nil
			})

			require.NoError(t, client.Increment(ctx, "tea"))
			require.NoError(t, store.MemoryStore.Set(ctx, "jam", docstore.Document{Quantity: 3}))
			store.deleteBroken.Store(true)

			err := tt.write(ctx, client)
			var unavailable *domain.StoreUnavailableError
			require.ErrorAs(t, err, &unavailable)
			assert.Equal(t, tt.op, unavailable.Op)
			assert.Equal(t, "tea", unavailable.Key)
			assert.ErrorIs(t, err, errConnectionRefused)

			bus.Wait()
			mu.Lock()
			require.Len(t, failed, 1)
			assert.Equal(t, tt.op, failed[0].Op)
			assert.Equal(t, "tea", failed[0].Item)
			mu.Unlock()

			assert.Equal(t, domain.Inventory{{Name: "tea", Quantity: 1}}, client.Snapshot())
		})
	}
}

func TestIncrementAtMaxQuantityKeepsItem(t *testing.T) {
	for _, atomicAdjust := range []bool{false, true} {
		t.Run(map[bool]string{false: "racy", true: "atomic"}[atomicAdjust], func(t *testing.T) {
			ctx := context.Background()
			store := docstore.NewMemoryStore()
			var opts []Option
			if atomicAdjust {
				opts = append(opts, WithAtomicAdjust())
			}
			client := newTestClient(t, store, opts...)

			require.NoError(t, client.SetQuantity(ctx, "salt", math.MaxInt))

			err := client.Increment(ctx, "salt")
			assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
			assert.NotErrorIs(t, err, domain.ErrStoreUnavailable)

			doc, err := store.Get(ctx, "salt")
			require.NoError(t, err)
			assert.Equal(t, math.MaxInt, doc.Quantity)

			q, ok := quantityOf(t, client, "salt")
			require.True(t, ok)
			assert.Equal(t, math.MaxInt, q)

			require.NoError(t, client.Decrement(ctx, "salt"))
			q, _ = quantityOf(t, client, "salt")
			assert.Equal(t, math.MaxInt-1, q)
		})
	}
}

// gatedStore holds the first two Get calls until both have arrived, so two
// adjusts read the same quantity before either writes.
type gatedStore struct {
	*docstore.MemoryStore
	arrivals sync.WaitGroup
	calls    atomic.Int32
}

func newGatedStore() *gatedStore {
	g := &gatedStore{MemoryStore: docstore.NewMemoryStore()}
	g.arrivals.Add(2)
	return g
}

func (g *gatedStore) Get(ctx context.Context, key string) (docstore.Document, error) {
	if g.calls.Add(1) <= 2 {
		g.arrivals.Done()
		g.arrivals.Wait()
	}
	return g.MemoryStore.Get(ctx, key)
}

func runConcurrentIncrements(t *testing.T, client *Client, name string) {
	t.Helper()
	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- client.Increment(context.Background(), name)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
}

func TestConcurrentIncrementsLoseAnUpdate(t *testing.T) {
	store := newGatedStore()
	require.NoError(t, store.MemoryStore.Set(context.Background(), "x", docstore.Document{Quantity: 1}))
	client := newTestClient(t, store)
	assert.False(t, client.AtomicAdjust())

	runConcurrentIncrements(t, client, "x")

	doc, err := store.MemoryStore.Get(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, 2, doc.Quantity, "both increments read 1 and wrote 2")
}

func TestAtomicAdjustKeepsBothIncrements(t *testing.T) {
	store := newGatedStore()
	require.NoError(t, store.MemoryStore.Set(context.Background(), "x", docstore.Document{Quantity: 1}))
	client := newTestClient(t, store, WithAtomicAdjust())
	assert.True(t, client.AtomicAdjust())

	runConcurrentIncrements(t, client, "x")

	doc, err := store.MemoryStore.Get(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, 3, doc.Quantity)
}

func TestAtomicDecrementDeletesAtOne(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemoryStore()
	client := newTestClient(t, store, WithAtomicAdjust())

	require.NoError(t, client.Increment(ctx, "salt"))
	require.NoError(t, client.Decrement(ctx, "salt"))
	require.NoError(t, client.Decrement(ctx, "salt"))

	_, err := store.Get(ctx, "salt")
	assert.ErrorIs(t, err, docstore.ErrDocumentMissing)
	assert.Empty(t, client.Snapshot())
}

// contendedStore never lets a compare-and-set win.
type contendedStore struct {
	*docstore.MemoryStore
	attempts atomic.Int32
}

func (c *contendedStore) CompareAndSwap(ctx context.Context, key string, expected, next int) (bool, error) {
	c.attempts.Add(1)
	return false, nil
}

func TestAtomicAdjustGivesUpAfterBoundedAttempts(t *testing.T) {
	store := &contendedStore{MemoryStore: docstore.NewMemoryStore()}
	client := newTestClient(t, store, WithAtomicAdjust())

	err := client.Increment(context.Background(), "sugar")
	assert.ErrorIs(t, err, ErrAdjustConflict)
	assert.NotErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.Equal(t, int32(maxSwapAttempts), store.attempts.Load())
}

// pausingStore blocks the first List call after reading, so its result arrives late.
type pausingStore struct {
	*docstore.MemoryStore
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func (p *pausingStore) List(ctx context.Context) ([]docstore.Entry, error) {
	entries, err := p.MemoryStore.List(ctx)
	if p.calls.Add(1) == 1 {
		close(p.entered)
		<-p.release
	}
	return entries, err
}

func TestStaleReloadDoesNotOverwriteNewer(t *testing.T) {
	ctx := context.Background()
	store := &pausingStore{
		MemoryStore: docstore.NewMemoryStore(),
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	require.NoError(t, store.MemoryStore.Set(ctx, "beans", docstore.Document{Quantity: 1}))
	client := newTestClient(t, store)

	slow := make(chan domain.Inventory, 1)
	go func() {
		inv, err := client.Reload(ctx)
		assert.NoError(t, err)
		slow <- inv
	}()
	<-store.entered

	require.NoError(t, store.MemoryStore.Set(ctx, "beans", docstore.Document{Quantity: 4}))
	fresh, err := client.Reload(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.Inventory{{Name: "beans", Quantity: 4}}, fresh)

	close(store.release)
	select {
	case inv := <-slow:
		assert.Equal(t, domain.Inventory{{Name: "beans", Quantity: 4}}, inv)
	case <-time.After(5 * time.Second):
		t.Fatal("slow reload never returned")
	}
	assert.Equal(t, domain.Inventory{{Name: "beans", Quantity: 4}}, client.Snapshot())
}

func TestSnapshotIsACopy(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t, docstore.NewMemoryStore())
	require.NoError(t, client.Increment(ctx, "honey"))

	snap := client.Snapshot()
	snap[0].Quantity = 99

	q, _ := quantityOf(t, client, "honey")
	assert.Equal(t, 1, q)
	assert.NotNil(t, NewClient(docstore.NewMemoryStore()).Snapshot())
}

type countingRecorder struct {
	mu    sync.Mutex
	ops   map[string]int
	items int
}

func (r *countingRecorder) ObserveOperation(op, result string, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops[op+"/"+result]++
}

func (r *countingRecorder) SetItems(count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = count
}

func TestNotificationsAndRecorder(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{MemoryStore: docstore.NewMemoryStore()}
	logger, _ := test.NewNullLogger()
	bus := events.NewEventBus("pantry-test", logger)
	recorder := &countingRecorder{ops: map[string]int{}}
	client := NewClient(store, WithLogger(logger), WithEventBus(bus), WithRecorder(recorder))

	var mu sync.Mutex
	var received []events.Event
	bus.SubscribeAll(func(ctx context.Context, e events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, e)
		return nil
	})

	require.NoError(t, client.Increment(ctx, "jam"))
	store.broken.Store(true)
	require.Error(t, client.Decrement(ctx, "jam"))
	bus.Wait()

	counts := map[events.EventType]int{}
	for _, e := range received {
		counts[e.Type]++
		if e.Type == events.OperationFailed {
			assert.Equal(t, OpDecrement, e.Op)
			assert.ErrorIs(t, e.Err, domain.ErrStoreUnavailable)
		}
		if e.Type == events.InventoryReloaded {
			assert.Equal(t, domain.Inventory{{Name: "jam", Quantity: 1}}, e.Inventory)
			assert.Equal(t, uint64(1), e.Sequence)
		}
	}
	assert.Equal(t, 1, counts[events.OperationSucceeded])
	assert.Equal(t, 1, counts[events.OperationFailed])
	assert.Equal(t, 1, counts[events.InventoryReloaded])

	assert.Equal(t, 1, recorder.ops[OpIncrement+"/"+resultOK])
	assert.Equal(t, 1, recorder.ops[OpReload+"/"+resultOK])
	assert.Equal(t, 1, recorder.ops[OpDecrement+"/"+resultError])
	assert.Equal(t, 1, recorder.items)
}
