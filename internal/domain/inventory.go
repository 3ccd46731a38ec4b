package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrStoreUnavailable is matched by every transport failure surfaced from the document store.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrInvalidName is returned when an item name is empty or whitespace only.
	ErrInvalidName = errors.New("invalid item name")

	// ErrInvalidQuantity is returned when a quantity cannot be interpreted as an integer
	// or an increment would overflow it.
	ErrInvalidQuantity = errors.New("invalid quantity")
)

// Item is a named pantry entry. Name is the document key and is kept verbatim.
type Item struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

// Inventory is the ordered snapshot of every item as of the last successful reload.
type Inventory []Item

// Names returns the item names in inventory order.
func (inv Inventory) Names() []string {
	names := make([]string, len(inv))
	for i, item := range inv {
		names[i] = item.Name
	}
	return names
}

// Find returns the item with the given name.
func (inv Inventory) Find(name string) (Item, bool) {
	for _, item := range inv {
		if item.Name == name {
			return item, true
		}
	}
	return Item{}, false
}

// Clone returns a copy that does not share the backing array.
func (inv Inventory) Clone() Inventory {
	if inv == nil {
		return Inventory{}
	}
	out := make(Inventory, len(inv))
	copy(out, inv)
	return out
}

// TotalQuantity sums the quantity of every item.
func (inv Inventory) TotalQuantity() int {
	total := 0
	for _, item := range inv {
		total += item.Quantity
	}
	return total
}

// ValidateName rejects names that cannot be used as a document key.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrInvalidName
	}
	return nil
}

// ParseQuantity reads a whole number typed by a user. Any integer is accepted;
// non-positive values delete the item when written.
func ParseQuantity(s string) (int, error) {
	q, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidQuantity, s)
	}
	return q, nil
}

// StoreUnavailableError records which remote call failed.
type StoreUnavailableError struct {
	Op  string
	Key string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("store unavailable during %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store unavailable during %s of '%s': %v", e.Op, e.Key, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrStoreUnavailable) match any StoreUnavailableError.
func (e *StoreUnavailableError) Is(target error) bool {
	return target == ErrStoreUnavailable
}

// NewStoreUnavailable wraps a transport error for the given operation.
func NewStoreUnavailable(op, key string, err error) error {
	return &StoreUnavailableError{Op: op, Key: key, Err: err}
}
