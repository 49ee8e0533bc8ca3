package order

import (
	"context"
	"time"

	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/catalog"
)

// Tx is the set of operations available inside one atomic unit of work.
// Every stock change goes through DecrementStock or IncrementStock, both of
// which are evaluated by the data store itself.
type Tx interface {
	// CartItems returns the user's cart rows and locks them until the unit
	// ends. A concurrent checkout of the same cart waits and then sees only
	// the rows left behind.
	CartItems(ctx context.Context, userID string) ([]cart.Item, error)
	CatalogItems(ctx context.Context, ids []string) ([]catalog.Item, error)
	// DecrementStock subtracts quantity only if the current stock covers it.
	// It reports false, without error, when stock is insufficient.
	DecrementStock(ctx context.Context, itemID string, quantity int) (bool, error)
	IncrementStock(ctx context.Context, itemID string, quantity int) error
	// RemoveCartItems deletes the ordered lines. Lines added after CartItems
	// stay in the cart.
	RemoveCartItems(ctx context.Context, userID string, itemIDs []string) error
	InsertOrder(ctx context.Context, o *Order) error
	// LockOrder loads the order with its lines and holds it until the unit
	// ends. Returns ErrOrderNotFound when missing.
	LockOrder(ctx context.Context, orderID string) (*Order, error)
	// UpdateStatus moves the order from -> to. It returns ErrTransactionConflict
	// when the stored status is no longer from.
	UpdateStatus(ctx context.Context, orderID string, from, to Status, paymentRef string, at time.Time) error
	AppendEvent(ctx context.Context, e Event) error
}

// Store persists orders. InTx runs fn as a single atomic unit: any error
// returned by fn rolls back every change made through tx.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Get(ctx context.Context, orderID string) (*Order, error)
	ListByUser(ctx context.Context, userID string) ([]Order, error)
	ListPending(ctx context.Context, createdBefore time.Time, limit int) ([]Order, error)
}

// PaymentLinker builds the provider redirect for a freshly created order.
// Implementations must be pure: no I/O, no side effects.
type PaymentLinker interface {
	RedirectURL(o *Order) (string, error)
}
