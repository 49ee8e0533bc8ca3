package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/order"
)

const (
	orderColumns = `id, user_id, status, total_amount, payment_method, payment_ref, created_at, updated_at`

	insertOrderSQL = `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	insertOrderLineSQL = `INSERT INTO order_lines (order_id, line_no, item_id, item_name, quantity, unit_price)
		VALUES ($1, $2, $3, $4, $5, $6)`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	lockOrderSQL = getOrderSQL + ` FOR UPDATE`

	listOrdersByUserSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE user_id = $1 ORDER BY created_at DESC, id`

	listPendingOrdersSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE status = 'PENDING' AND created_at < $1 ORDER BY created_at LIMIT $2`

	listOrderLinesSQL = `SELECT order_id, item_id, item_name, quantity, unit_price
		FROM order_lines WHERE order_id = ANY($1) ORDER BY order_id, line_no`

	updateOrderStatusSQL = `UPDATE orders SET status = $3, payment_ref = $4, updated_at = $5
		WHERE id = $1 AND status = $2`
)

var _ order.Store = (*OrderStore)(nil)

// OrderStore implements order.Store backed by PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore returns an OrderStore that uses the given pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// InTx runs fn in a READ COMMITTED transaction. Stock is only ever changed by
// single conditional UPDATE statements, which PostgreSQL re-evaluates against
// the latest committed row, so stronger isolation is not needed. Deadlocks
// and serialization failures surface as order.ErrTransactionConflict.
func (s *OrderStore) InTx(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, &pgTx{tx: tx})
	})
	return mapConflict(err)
}

// Get returns the order with its lines.
func (s *OrderStore) Get(ctx context.Context, orderID string) (*order.Order, error) {
	return loadOrder(ctx, s.pool, getOrderSQL, orderID)
}

// ListByUser returns the user's orders with lines, newest first.
func (s *OrderStore) ListByUser(ctx context.Context, userID string) ([]order.Order, error) {
	rows, err := s.pool.Query(ctx, listOrdersByUserSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	if err := attachLines(ctx, s.pool, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// ListPending returns PENDING orders created before createdBefore, oldest
// first. Lines are not loaded.
func (s *OrderStore) ListPending(ctx context.Context, createdBefore time.Time, limit int) ([]order.Order, error) {
	rows, err := s.pool.Query(ctx, listPendingOrdersSQL, createdBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("listing pending orders: %w", err)
	}
	return pgx.CollectRows(rows, scanOrder)
}

// pgTx implements order.Tx on an open transaction.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) CartItems(ctx context.Context, userID string) ([]cart.Item, error) {
	return cartItems(ctx, t.tx, lockCartItemsSQL, userID)
}

func (t *pgTx) CatalogItems(ctx context.Context, ids []string) ([]catalog.Item, error) {
	return catalogItems(ctx, t.tx, ids)
}

func (t *pgTx) DecrementStock(ctx context.Context, itemID string, quantity int) (bool, error) {
	tag, err := t.tx.Exec(ctx, decrementStockSQL, itemID, quantity)
	if err != nil {
		return false, fmt.Errorf("decrementing stock of %q: %w", itemID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) IncrementStock(ctx context.Context, itemID string, quantity int) error {
	if _, err := t.tx.Exec(ctx, incrementStockSQL, itemID, quantity); err != nil {
		return fmt.Errorf("incrementing stock of %q: %w", itemID, err)
	}
	return nil
}

func (t *pgTx) RemoveCartItems(ctx context.Context, userID string, itemIDs []string) error {
	if _, err := t.tx.Exec(ctx, removeCartItemsSQL, userID, itemIDs); err != nil {
		return fmt.Errorf("removing ordered cart items: %w", err)
	}
	return nil
}

func (t *pgTx) InsertOrder(ctx context.Context, o *order.Order) error {
	batch := &pgx.Batch{}
	batch.Queue(insertOrderSQL,
		o.ID, o.UserID, string(o.Status), o.Total, o.PaymentMethod, o.PaymentRef, o.CreatedAt, o.UpdatedAt,
	)
	for i, l := range o.Lines {
		batch.Queue(insertOrderLineSQL, o.ID, i+1, l.ItemID, l.Name, l.Quantity, l.UnitPrice)
	}
	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("inserting order %q: %w", o.ID, err)
	}
	return nil
}

func (t *pgTx) LockOrder(ctx context.Context, orderID string) (*order.Order, error) {
	return loadOrder(ctx, t.tx, lockOrderSQL, orderID)
}

func (t *pgTx) UpdateStatus(ctx context.Context, orderID string, from, to order.Status, paymentRef string, at time.Time) error {
	tag, err := t.tx.Exec(ctx, updateOrderStatusSQL, orderID, string(from), string(to), paymentRef, at)
	if err != nil {
		return fmt.Errorf("updating order %q: %w", orderID, err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("order %q is no longer %s: %w", orderID, from, order.ErrTransactionConflict)
	}
	return nil
}

func (t *pgTx) AppendEvent(ctx context.Context, e order.Event) error {
	return appendEvent(ctx, t.tx, e)
}

func loadOrder(ctx context.Context, q querier, sql, orderID string) (*order.Order, error) {
	rows, err := q.Query(ctx, sql, orderID)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", orderID, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrOrderNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", orderID, err)
	}

	orders := []order.Order{o}
	if err := attachLines(ctx, q, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

// attachLines loads the lines of all orders in one query.
func attachLines(ctx context.Context, q querier, orders []order.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, len(orders))
	idx := make(map[string]int, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		idx[o.ID] = i
	}

	rows, err := q.Query(ctx, listOrderLinesSQL, ids)
	if err != nil {
		return fmt.Errorf("listing order lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID string
			l       order.Line
		)
		if err := rows.Scan(&orderID, &l.ItemID, &l.Name, &l.Quantity, &l.UnitPrice); err != nil {
			return fmt.Errorf("scanning order line: %w", err)
		}
		i := idx[orderID]
		orders[i].Lines = append(orders[i].Lines, l)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("listing order lines: %w", err)
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o      order.Order
		status string
	)
	err := row.Scan(&o.ID, &o.UserID, &status, &o.Total, &o.PaymentMethod, &o.PaymentRef, &o.CreatedAt, &o.UpdatedAt)
	o.Status = order.Status(status)
	return o, err
}
