package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-checkout/internal/domain/catalog"
)

const (
	listCatalogItemsSQL = `SELECT id, name, price, stock, active
		FROM catalog_items WHERE active ORDER BY id`

	getCatalogItemSQL = `SELECT id, name, price, stock, active
		FROM catalog_items WHERE id = $1`

	getCatalogItemsSQL = `SELECT id, name, price, stock, active
		FROM catalog_items WHERE id = ANY($1)`

	upsertCatalogItemSQL = `INSERT INTO catalog_items (id, name, price, stock, active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, price = EXCLUDED.price, stock = EXCLUDED.stock,
			active = EXCLUDED.active, updated_at = now()`

	decrementStockSQL = `UPDATE catalog_items SET stock = stock - $2, updated_at = now()
		WHERE id = $1 AND stock >= $2`

	incrementStockSQL = `UPDATE catalog_items SET stock = stock + $2, updated_at = now()
		WHERE id = $1`
)

var _ catalog.Repository = (*CatalogRepository)(nil)

// CatalogRepository implements catalog.Repository backed by PostgreSQL.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository returns a CatalogRepository that uses the given pool.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// List returns the active catalog ordered by ID.
func (r *CatalogRepository) List(ctx context.Context) ([]catalog.Item, error) {
	rows, err := r.pool.Query(ctx, listCatalogItemsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing catalog items: %w", err)
	}
	return pgx.CollectRows(rows, scanCatalogItem)
}

// GetByID returns a single item, active or not.
func (r *CatalogRepository) GetByID(ctx context.Context, id string) (*catalog.Item, error) {
	rows, err := r.pool.Query(ctx, getCatalogItemSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting catalog item %q: %w", id, err)
	}

	it, err := pgx.CollectExactlyOneRow(rows, scanCatalogItem)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrNotFound
		}
		return nil, fmt.Errorf("getting catalog item %q: %w", id, err)
	}
	return &it, nil
}

// GetByIDs returns the items matching any of ids. Unknown ids are skipped.
func (r *CatalogRepository) GetByIDs(ctx context.Context, ids []string) ([]catalog.Item, error) {
	return catalogItems(ctx, r.pool, ids)
}

// Upsert creates or replaces an item. Used by seeding.
func (r *CatalogRepository) Upsert(ctx context.Context, it catalog.Item) error {
	_, err := r.pool.Exec(ctx, upsertCatalogItemSQL, it.ID, it.Name, it.Price, it.Stock, it.Active)
	if err != nil {
		return fmt.Errorf("upserting catalog item %q: %w", it.ID, err)
	}
	return nil
}

func catalogItems(ctx context.Context, q querier, ids []string) ([]catalog.Item, error) {
	rows, err := q.Query(ctx, getCatalogItemsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting catalog items by ids: %w", err)
	}
	return pgx.CollectRows(rows, scanCatalogItem)
}

func scanCatalogItem(row pgx.CollectableRow) (catalog.Item, error) {
	var it catalog.Item
	err := row.Scan(&it.ID, &it.Name, &it.Price, &it.Stock, &it.Active)
	return it, err
}
