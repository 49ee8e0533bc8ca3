package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/jx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/relay"
)

// OrderEventsTopic receives every order lifecycle event.
const OrderEventsTopic = "kart.order-events"

const (
	insertOutboxSQL = `INSERT INTO outbox (event_id, topic, key, payload) VALUES ($1, $2, $3, $4)`

	fetchOutboxSQL = `SELECT id, event_id::text, topic, key, payload::text, created_at
		FROM outbox WHERE sent_at IS NULL ORDER BY id LIMIT $1`

	markOutboxSentSQL = `UPDATE outbox SET sent_at = now() WHERE id = ANY($1)`
)

var _ relay.Source = (*OutboxRepository)(nil)

// OutboxRepository reads and acknowledges outbox records for the relay.
type OutboxRepository struct {
	pool *pgxpool.Pool
}

// NewOutboxRepository returns an OutboxRepository that uses the given pool.
func NewOutboxRepository(pool *pgxpool.Pool) *OutboxRepository {
	return &OutboxRepository{pool: pool}
}

// FetchPending returns up to limit unsent records, oldest first.
func (r *OutboxRepository) FetchPending(ctx context.Context, limit int) ([]relay.Record, error) {
	rows, err := r.pool.Query(ctx, fetchOutboxSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("fetching outbox: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (relay.Record, error) {
		var (
			rec     relay.Record
			payload string
		)
		err := row.Scan(&rec.ID, &rec.EventID, &rec.Topic, &rec.Key, &payload, &rec.CreatedAt)
		rec.Payload = []byte(payload)
		return rec, err
	})
}

// MarkSent stamps the given records as delivered.
func (r *OutboxRepository) MarkSent(ctx context.Context, ids []int64) error {
	if _, err := r.pool.Exec(ctx, markOutboxSentSQL, ids); err != nil {
		return fmt.Errorf("marking outbox sent: %w", err)
	}
	return nil
}

func appendEvent(ctx context.Context, q querier, e order.Event) error {
	_, err := q.Exec(ctx, insertOutboxSQL, e.ID, OrderEventsTopic, e.OrderID, encodeEvent(e))
	if err != nil {
		return fmt.Errorf("appending %s event: %w", e.Type, err)
	}
	return nil
}

// encodeEvent renders the JSON payload published for e.
func encodeEvent(e order.Event) string {
	var enc jx.Encoder
	enc.Obj(func(enc *jx.Encoder) {
		enc.Field("eventId", func(enc *jx.Encoder) { enc.Str(e.ID) })
		enc.Field("type", func(enc *jx.Encoder) { enc.Str(string(e.Type)) })
		enc.Field("orderId", func(enc *jx.Encoder) { enc.Str(e.OrderID) })
		enc.Field("userId", func(enc *jx.Encoder) { enc.Str(e.UserID) })
		enc.Field("status", func(enc *jx.Encoder) { enc.Str(e.Status.String()) })
		enc.Field("totalAmount", func(enc *jx.Encoder) { enc.Str(e.Total.StringFixed(2)) })
		if e.PaymentRef != "" {
			enc.Field("paymentRef", func(enc *jx.Encoder) { enc.Str(e.PaymentRef) })
		}
		enc.Field("at", func(enc *jx.Encoder) { enc.Str(e.At.UTC().Format(time.RFC3339Nano)) })
	})
	return string(enc.Bytes())
}
