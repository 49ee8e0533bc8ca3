// Package relay moves order events from the transactional outbox to Kafka.
// Delivery is at least once: a record is marked sent only after the broker
// acknowledged it.
package relay

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Record is one outbox row.
type Record struct {
	ID        int64
	EventID   string
	Topic     string
	Key       string
	Payload   []byte
	CreatedAt time.Time
}

// Source reads unsent records and acknowledges them.
type Source interface {
	FetchPending(ctx context.Context, limit int) ([]Record, error)
	MarkSent(ctx context.Context, ids []int64) error
}

// Publisher delivers records to the broker. It returns only after every
// record is acknowledged or fails as a whole.
type Publisher interface {
	Publish(ctx context.Context, records []Record) error
}

// Config controls batching and polling.
type Config struct {
	BatchSize    int
	PollInterval time.Duration
}

// Relay polls a Source and forwards to a Publisher.
type Relay struct {
	src   Source
	pub   Publisher
	batch int
	poll  time.Duration
}

// New creates a Relay.
func New(src Source, pub Publisher, cfg Config) *Relay {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Relay{src: src, pub: pub, batch: cfg.BatchSize, poll: cfg.PollInterval}
}

// Flush publishes pending records until the outbox is drained and returns
// the number of records sent.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	sent := 0
	for {
		records, err := r.src.FetchPending(ctx, r.batch)
		if err != nil {
			return sent, errors.Wrap(err, "fetch pending")
		}
		if len(records) == 0 {
			return sent, nil
		}
		if err := r.pub.Publish(ctx, records); err != nil {
			return sent, errors.Wrap(err, "publish")
		}

		ids := make([]int64, len(records))
		for i, rec := range records {
			ids[i] = rec.ID
		}
		if err := r.src.MarkSent(ctx, ids); err != nil {
			return sent, errors.Wrap(err, "mark sent")
		}
		sent += len(records)

		if len(records) < r.batch {
			return sent, nil
		}
	}
}

// Run flushes every poll interval until ctx is done. Failed flushes are
// logged and retried on the next tick.
func (r *Relay) Run(ctx context.Context) error {
	lg := zctx.From(ctx)
	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()

	for {
		n, err := r.Flush(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			lg.Error("Outbox flush failed", zap.Int("sent", n), zap.Error(err))
		case n > 0:
			lg.Info("Outbox flushed", zap.Int("sent", n))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
