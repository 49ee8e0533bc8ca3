package order

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/catalog"
)

// memStore is a serialized in-memory Store. Every InTx call holds the lock
// for its whole duration and restores a snapshot when fn fails.
type memStore struct {
	mu sync.Mutex

	items  map[string]catalog.Item
	carts  map[string][]cart.Item
	orders map[string]*Order
	events []Event

	// conflicts makes the next N InTx calls fail with ErrTransactionConflict
	// before fn runs.
	conflicts int
	txCalls   int

	// afterCartRead runs inside CartItems, with the lock held, to model
	// writes that land while a checkout is in flight.
	afterCartRead func(s *memStore)
	// afterCatalogRead is the same for catalog reads.
	afterCatalogRead func(s *memStore)
}

func newMemStore(items ...catalog.Item) *memStore {
	s := &memStore{
		items:  make(map[string]catalog.Item, len(items)),
		carts:  make(map[string][]cart.Item),
		orders: make(map[string]*Order),
	}
	for _, it := range items {
		s.items[it.ID] = it
	}
	return s
}

func (s *memStore) putCart(userID string, rows ...cart.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.carts[userID] = append([]cart.Item(nil), rows...)
}

func (s *memStore) stock(itemID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items[itemID].Stock
}

func (s *memStore) cartOf(userID string) []cart.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]cart.Item(nil), s.carts[userID]...)
}

func (s *memStore) orderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

func (s *memStore) eventTypes() []EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EventType, len(s.events))
	for i, e := range s.events {
		out[i] = e.Type
	}
	return out
}

type memSnapshot struct {
	items  map[string]catalog.Item
	carts  map[string][]cart.Item
	orders map[string]*Order
	events int
}

func (s *memStore) snapshot() memSnapshot {
	snap := memSnapshot{
		items:  make(map[string]catalog.Item, len(s.items)),
		carts:  make(map[string][]cart.Item, len(s.carts)),
		orders: make(map[string]*Order, len(s.orders)),
		events: len(s.events),
	}
	for k, v := range s.items {
		snap.items[k] = v
	}
	for k, v := range s.carts {
		snap.carts[k] = append([]cart.Item(nil), v...)
	}
	for k, v := range s.orders {
		snap.orders[k] = cloneOrder(v)
	}
	return snap
}

func (s *memStore) restore(snap memSnapshot) {
	s.items = snap.items
	s.carts = snap.carts
	s.orders = snap.orders
	s.events = s.events[:snap.events]
}

func cloneOrder(o *Order) *Order {
	c := *o
	c.Lines = append([]Line(nil), o.Lines...)
	return &c
}

func (s *memStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.txCalls++
	if s.conflicts > 0 {
		s.conflicts--
		return ErrTransactionConflict
	}

	snap := s.snapshot()
	if err := fn(ctx, memTx{s: s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func (s *memStore) Get(_ context.Context, orderID string) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (s *memStore) ListByUser(_ context.Context, userID string) ([]Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Order
	for _, o := range s.orders {
		if o.UserID == userID {
			out = append(out, *cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *memStore) ListPending(_ context.Context, createdBefore time.Time, limit int) ([]Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Order
	for _, o := range s.orders {
		if o.Status == StatusPending && o.CreatedAt.Before(createdBefore) {
			out = append(out, *cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// memTx operates on the store while its lock is held by InTx.
type memTx struct {
	s *memStore
}

func (t memTx) CartItems(_ context.Context, userID string) ([]cart.Item, error) {
	rows := append([]cart.Item(nil), t.s.carts[userID]...)
	if t.s.afterCartRead != nil {
		t.s.afterCartRead(t.s)
	}
	return rows, nil
}

func (t memTx) CatalogItems(_ context.Context, ids []string) ([]catalog.Item, error) {
	var out []catalog.Item
	for _, id := range ids {
		if it, ok := t.s.items[id]; ok {
			out = append(out, it)
		}
	}
	if t.s.afterCatalogRead != nil {
		t.s.afterCatalogRead(t.s)
	}
	return out, nil
}

func (t memTx) DecrementStock(_ context.Context, itemID string, quantity int) (bool, error) {
	it, ok := t.s.items[itemID]
	if !ok || it.Stock < quantity {
		return false, nil
	}
	it.Stock -= quantity
	t.s.items[itemID] = it
	return true, nil
}

func (t memTx) IncrementStock(_ context.Context, itemID string, quantity int) error {
	it := t.s.items[itemID]
	it.Stock += quantity
	t.s.items[itemID] = it
	return nil
}

func (t memTx) RemoveCartItems(_ context.Context, userID string, itemIDs []string) error {
	var kept []cart.Item
	for _, r := range t.s.carts[userID] {
		if !slices.Contains(itemIDs, r.ItemID) {
			kept = append(kept, r)
		}
	}
	if len(kept) == 0 {
		delete(t.s.carts, userID)
		return nil
	}
	t.s.carts[userID] = kept
	return nil
}

func (t memTx) InsertOrder(_ context.Context, o *Order) error {
	t.s.orders[o.ID] = cloneOrder(o)
	return nil
}

func (t memTx) LockOrder(_ context.Context, orderID string) (*Order, error) {
	o, ok := t.s.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (t memTx) UpdateStatus(_ context.Context, orderID string, from, to Status, paymentRef string, at time.Time) error {
	o, ok := t.s.orders[orderID]
	if !ok || o.Status != from {
		return ErrTransactionConflict
	}
	o.Status = to
	o.PaymentRef = paymentRef
	o.UpdatedAt = at
	return nil
}

func (t memTx) AppendEvent(_ context.Context, e Event) error {
	t.s.events = append(t.s.events, e)
	return nil
}

type stubLinker struct {
	err error
}

func (l stubLinker) RedirectURL(o *Order) (string, error) {
	if l.err != nil {
		return "", l.err
	}
	return "https://pay.test/checkout?order_id=" + o.ID + "&amount=" + o.Total.StringFixed(2), nil
}

func item(id string, price string, stock int) catalog.Item {
	return catalog.Item{
		ID:     id,
		Name:   "Item " + id,
		Price:  decimal.RequireFromString(price),
		Stock:  stock,
		Active: true,
	}
}
