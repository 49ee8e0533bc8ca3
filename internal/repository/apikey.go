package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-checkout/internal/domain/auth"
)

const (
	getAPIKeyByHashSQL = `SELECT id, key_hash, name, user_id
		FROM api_keys WHERE key_hash = $1 AND active = TRUE`

	upsertAPIKeySQL = `INSERT INTO api_keys (id, key_hash, name, user_id) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET key_hash = EXCLUDED.key_hash, name = EXCLUDED.name, user_id = EXCLUDED.user_id, active = TRUE`
)

// ErrAPIKeyNotFound is returned when no active key has the given hash.
var ErrAPIKeyNotFound = errors.New("api key not found")

var _ auth.Repository = (*APIKeyRepository)(nil)

// APIKeyRepository provides API key lookups backed by PostgreSQL.
type APIKeyRepository struct {
	pool *pgxpool.Pool
}

// NewAPIKeyRepository returns an APIKeyRepository that uses the given pool.
func NewAPIKeyRepository(pool *pgxpool.Pool) *APIKeyRepository {
	return &APIKeyRepository{pool: pool}
}

// FindByHash looks up an active API key by its HMAC-SHA256 hash.
func (r *APIKeyRepository) FindByHash(ctx context.Context, hash string) (*auth.KeyRecord, error) {
	var rec auth.KeyRecord
	err := r.pool.QueryRow(ctx, getAPIKeyByHashSQL, hash).Scan(
		&rec.ID, &rec.KeyHash, &rec.Name, &rec.UserID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAPIKeyNotFound
		}
		return nil, fmt.Errorf("finding api key by hash: %w", err)
	}
	return &rec, nil
}

// Upsert stores rec and re-activates it. Used by seeding.
func (r *APIKeyRepository) Upsert(ctx context.Context, rec auth.KeyRecord) error {
	if _, err := r.pool.Exec(ctx, upsertAPIKeySQL, rec.ID, rec.KeyHash, rec.Name, rec.UserID); err != nil {
		return fmt.Errorf("upserting api key %q: %w", rec.ID, err)
	}
	return nil
}
