package catalog

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested catalog item does not exist.
var ErrNotFound = errors.New("catalog item not found")

// Item is an inventory record that can be added to a cart and ordered.
type Item struct {
	ID     string
	Name   string
	Price  decimal.Decimal
	Stock  int
	Active bool
}

// Repository defines read operations for the catalog. Stock mutations only
// happen inside order transactions.
type Repository interface {
	List(ctx context.Context) ([]Item, error)
	GetByID(ctx context.Context, id string) (*Item, error)
	GetByIDs(ctx context.Context, ids []string) ([]Item, error)
}

// Index maps items by ID.
func Index(items []Item) map[string]Item {
	m := make(map[string]Item, len(items))
	for _, it := range items {
		m[it.ID] = it
	}
	return m
}
