// Package replay remembers payment callbacks that were already applied so a
// re-delivered callback can be acknowledged without touching the database.
//
// The guard is an optimization only. Idempotency of verdicts is enforced by the
// order reconciler; losing the guard state never changes an outcome.
package replay

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

// Guard records applied callbacks.
type Guard interface {
	// Seen reports whether key was remembered and has not expired.
	Seen(ctx context.Context, key string) (bool, error)
	// Remember stores key. It reports false when key was already present.
	Remember(ctx context.Context, key string) (bool, error)
}

// Key builds the guard key of a provider callback.
func Key(orderID, txnID, verdict string) string {
	return strings.Join([]string{orderID, txnID, verdict}, ":")
}

const defaultPrefix = "kart:callback:"

// RedisGuard keeps markers in Redis with a TTL.
type RedisGuard struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

var _ Guard = (*RedisGuard)(nil)

// NewRedisGuard creates a RedisGuard. A non-positive ttl defaults to 24h.
func NewRedisGuard(client redis.UniversalClient, ttl time.Duration) *RedisGuard {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisGuard{client: client, prefix: defaultPrefix, ttl: ttl}
}

func (g *RedisGuard) Seen(ctx context.Context, key string) (bool, error) {
	n, err := g.client.Exists(ctx, g.prefix+key).Result()
	if err != nil {
		return false, errors.Wrap(err, "exists")
	}
	return n > 0, nil
}

func (g *RedisGuard) Remember(ctx context.Context, key string) (bool, error) {
	ok, err := g.client.SetNX(ctx, g.prefix+key, 1, g.ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, "setnx")
	}
	return ok, nil
}

// NopGuard never remembers anything. It is used when Redis is not configured.
type NopGuard struct{}

var _ Guard = NopGuard{}

func (NopGuard) Seen(context.Context, string) (bool, error)     { return false, nil }
func (NopGuard) Remember(context.Context, string) (bool, error) { return true, nil }
