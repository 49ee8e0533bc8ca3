package order

import (
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of an order.
type Status string

const (
	// StatusPending is the only initial state: stock is decremented and the
	// payment provider has not answered yet.
	StatusPending   Status = "PENDING"
	StatusPaid      Status = "PAID"
	StatusCancelled Status = "CANCELLED"
	StatusFailed    Status = "FAILED"
	StatusRefunded  Status = "REFUNDED"
)

var transitions = map[Status][]Status{
	StatusPending: {StatusPaid, StatusCancelled, StatusFailed},
	StatusPaid:    {StatusRefunded},
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s Status) CanTransitionTo(next Status) bool {
	for _, st := range transitions[s] {
		if st == next {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusCancelled, StatusFailed, StatusRefunded:
		return true
	default:
		return false
	}
}

func (s Status) String() string { return string(s) }

// releasesStock reports whether entering s gives the ordered quantities back
// to the catalog.
func (s Status) releasesStock() bool {
	return s == StatusCancelled || s == StatusFailed
}

// Verdict is the payment provider outcome for an order.
type Verdict string

const (
	VerdictSuccess Verdict = "success"
	VerdictFailure Verdict = "failure"
	VerdictCancel  Verdict = "cancel"
	VerdictRefund  Verdict = "refund"
)

// Target returns the status a verdict moves a pending (or, for refunds, paid)
// order to.
func (v Verdict) Target() Status {
	switch v {
	case VerdictSuccess:
		return StatusPaid
	case VerdictFailure:
		return StatusFailed
	case VerdictCancel:
		return StatusCancelled
	case VerdictRefund:
		return StatusRefunded
	default:
		return ""
	}
}

// Sentinel errors of the checkout flow.
var (
	ErrEmptyCart            = errors.New("cart is empty")
	ErrPaymentMethodMissing = errors.New("payment method required")
	ErrOrderNotFound        = errors.New("order not found")
	ErrConflictingVerdict   = errors.New("verdict conflicts with order state")
	ErrAmountMismatch       = errors.New("paid amount does not match order total")
	ErrUnknownVerdict       = errors.New("unknown verdict")
	// ErrTransactionConflict signals a concurrent update collision. It is the
	// only error class retried automatically.
	ErrTransactionConflict = errors.New("transaction conflict")
)

// InsufficientStockError names the item whose stock cannot cover the order.
type InsufficientStockError struct {
	ItemID    string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for item %s: requested %d, available %d",
		e.ItemID, e.Requested, e.Available)
}

// ItemUnavailableError indicates a cart line whose catalog item was removed or
// deactivated before checkout.
type ItemUnavailableError struct {
	ItemID string
}

func (e *ItemUnavailableError) Error() string {
	return fmt.Sprintf("item %s is no longer available", e.ItemID)
}

// Order is an immutable purchase commitment. Only Status, PaymentRef and
// UpdatedAt change after creation.
type Order struct {
	ID            string
	UserID        string
	Status        Status
	Total         decimal.Decimal
	PaymentMethod string
	PaymentRef    string
	Lines         []Line
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Line is one purchased item with its price frozen at checkout.
type Line struct {
	ItemID    string
	Name      string
	Quantity  int
	UnitPrice decimal.Decimal
}

// Subtotal returns UnitPrice * Quantity.
func (l Line) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// sumLines returns the order total for the given lines.
func sumLines(lines []Line) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Subtotal())
	}
	return total.Round(2)
}

// EventType names an order lifecycle event published through the outbox.
type EventType string

const (
	EventCreated   EventType = "order.created"
	EventPaid      EventType = "order.paid"
	EventCancelled EventType = "order.cancelled"
	EventFailed    EventType = "order.failed"
	EventRefunded  EventType = "order.refunded"
)

func eventFor(s Status) EventType {
	switch s {
	case StatusPaid:
		return EventPaid
	case StatusCancelled:
		return EventCancelled
	case StatusFailed:
		return EventFailed
	case StatusRefunded:
		return EventRefunded
	default:
		return EventCreated
	}
}

// Event is appended to the outbox in the same transaction as the change it
// describes.
type Event struct {
	ID         string
	Type       EventType
	OrderID    string
	UserID     string
	Status     Status
	Total      decimal.Decimal
	PaymentRef string
	At         time.Time
}
