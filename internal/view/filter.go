package view

import (
	"strings"

	"github.com/DaDevFox/task-systems/pantry-core/internal/domain"
)

// Filter keeps the items whose name contains query, ignoring case. Order is preserved
// and an empty query returns every item.
func Filter(inv domain.Inventory, query string) domain.Inventory {
	if query == "" {
		return inv.Clone()
	}

	needle := strings.ToLower(query)
	out := domain.Inventory{}
	for _, item := range inv {
		if strings.Contains(strings.ToLower(item.Name), needle) {
			out = append(out, item)
		}
	}
	return out
}
