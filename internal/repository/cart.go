package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-checkout/internal/domain/cart"
)

const (
	listCartItemsSQL = `SELECT item_id, quantity FROM cart_items
		WHERE user_id = $1 ORDER BY added_at, item_id`

	lockCartItemsSQL = `SELECT item_id, quantity FROM cart_items
		WHERE user_id = $1 ORDER BY added_at, item_id FOR UPDATE`

	addCartItemSQL = `INSERT INTO cart_items (user_id, item_id, quantity) VALUES ($1, $2, $3)
		ON CONFLICT (user_id, item_id) DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity
		WHERE cart_items.quantity + EXCLUDED.quantity <= $4`

	setCartItemSQL = `INSERT INTO cart_items (user_id, item_id, quantity) VALUES ($1, $2, $3)
		ON CONFLICT (user_id, item_id) DO UPDATE SET quantity = EXCLUDED.quantity`

	removeCartItemSQL = `DELETE FROM cart_items WHERE user_id = $1 AND item_id = $2`

	removeCartItemsSQL = `DELETE FROM cart_items WHERE user_id = $1 AND item_id = ANY($2)`

	clearCartSQL = `DELETE FROM cart_items WHERE user_id = $1`
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

func (r *CartRepository) Items(ctx context.Context, userID string) ([]cart.Item, error) {
	return cartItems(ctx, r.pool, listCartItemsSQL, userID)
}

func (r *CartRepository) Add(ctx context.Context, userID, itemID string, quantity int) error {
	tag, err := r.pool.Exec(ctx, addCartItemSQL, userID, itemID, quantity, cart.MaxQuantity)
	if err != nil {
		return fmt.Errorf("adding %q to cart: %w", itemID, err)
	}
	if tag.RowsAffected() == 0 {
		return cart.ErrInvalidQuantity
	}
	return nil
}

func (r *CartRepository) Set(ctx context.Context, userID, itemID string, quantity int) error {
	if _, err := r.pool.Exec(ctx, setCartItemSQL, userID, itemID, quantity); err != nil {
		return fmt.Errorf("setting %q in cart: %w", itemID, err)
	}
	return nil
}

func (r *CartRepository) Remove(ctx context.Context, userID, itemID string) error {
	if _, err := r.pool.Exec(ctx, removeCartItemSQL, userID, itemID); err != nil {
		return fmt.Errorf("removing %q from cart: %w", itemID, err)
	}
	return nil
}

func (r *CartRepository) Clear(ctx context.Context, userID string) error {
	return clearCart(ctx, r.pool, userID)
}

func cartItems(ctx context.Context, q querier, sql, userID string) ([]cart.Item, error) {
	rows, err := q.Query(ctx, sql, userID)
	if err != nil {
		return nil, fmt.Errorf("listing cart items: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (cart.Item, error) {
		var it cart.Item
		err := row.Scan(&it.ItemID, &it.Quantity)
		return it, err
	})
}

func clearCart(ctx context.Context, q querier, userID string) error {
	if _, err := q.Exec(ctx, clearCartSQL, userID); err != nil {
		return fmt.Errorf("clearing cart: %w", err)
	}
	return nil
}
