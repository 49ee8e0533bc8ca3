package cart

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// MaxQuantity is the largest quantity a single cart line may hold.
const MaxQuantity = 1000

// ErrInvalidQuantity is returned when a cart line would get a quantity below 1
// or above MaxQuantity.
var ErrInvalidQuantity = errors.Errorf("quantity must be between 1 and %d", MaxQuantity)

// ItemNotFoundError indicates the item does not resolve to an active catalog item.
type ItemNotFoundError struct {
	ItemID string
}

func (e *ItemNotFoundError) Error() string {
	return fmt.Sprintf("item %s not found", e.ItemID)
}

// Item is a persisted cart row. Quantity is always >= 1.
type Item struct {
	ItemID   string
	Quantity int
}

// Line is a cart row joined with the current catalog display data.
type Line struct {
	ItemID    string
	Name      string
	UnitPrice decimal.Decimal
	Quantity  int
	// Available is false when the catalog item was removed or deactivated
	// after it was added. Such lines fail checkout.
	Available bool
}

// Subtotal returns UnitPrice * Quantity.
func (l Line) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Cart is the read model returned to the owner.
type Cart struct {
	UserID string
	Lines  []Line
}

// Total sums the subtotals of available lines at current catalog prices.
func (c *Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range c.Lines {
		if l.Available {
			total = total.Add(l.Subtotal())
		}
	}
	return total
}

// Repository persists per-user cart rows.
type Repository interface {
	// Items returns the user's rows in the order they were first added.
	Items(ctx context.Context, userID string) ([]Item, error)
	// Add inserts the row or adds quantity to an existing row for the same
	// item. It returns ErrInvalidQuantity and changes nothing when the merged
	// quantity would exceed MaxQuantity.
	Add(ctx context.Context, userID, itemID string, quantity int) error
	// Set inserts the row or overwrites its quantity.
	Set(ctx context.Context, userID, itemID string, quantity int) error
	Remove(ctx context.Context, userID, itemID string) error
	Clear(ctx context.Context, userID string) error
}
