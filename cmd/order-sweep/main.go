// Command order-sweep fails PENDING orders older than a cutoff and returns
// their stock. It is run by an operator; nothing schedules it.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/repository"
)

const minAge = time.Hour

func main() {
	var (
		databaseURL string
		olderThan   time.Duration
		limit       int
		dryRun      bool
	)
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.DurationVar(&olderThan, "older-than", 24*time.Hour, "fail PENDING orders created before now minus this duration")
	flag.IntVar(&limit, "limit", 500, "maximum orders to expire in one run")
	flag.BoolVar(&dryRun, "dry-run", false, "list candidate orders without changing them")
	flag.Parse()

	app.Run(func(ctx context.Context, lg *zap.Logger, m *app.Telemetry) error {
		if databaseURL == "" {
			databaseURL = os.Getenv("DATABASE_URL")
		}
		if databaseURL == "" {
			return errors.New("database URL is required: set --database-url or DATABASE_URL")
		}
		if olderThan < minAge {
			return errors.Errorf("--older-than must be at least %s, got %s", minAge, olderThan)
		}
		if limit < 1 {
			return errors.Errorf("--limit must be positive, got %d", limit)
		}

		pool, err := repository.NewPool(ctx, databaseURL)
		if err != nil {
			return errors.Wrap(err, "create db pool")
		}
		defer pool.Close()

		store := repository.NewOrderStore(pool)
		cutoff := time.Now().Add(-olderThan)
		lg = lg.With(zap.Time("cutoff", cutoff), zap.Int("limit", limit))

		if dryRun {
			pending, err := store.ListPending(ctx, cutoff, limit)
			if err != nil {
				return errors.Wrap(err, "list pending")
			}
			for _, o := range pending {
				lg.Info("Would expire order",
					zap.String("order_id", o.ID),
					zap.String("user_id", o.UserID),
					zap.Time("created_at", o.CreatedAt),
				)
			}
			lg.Info("Dry run complete", zap.Int("candidates", len(pending)))
			return nil
		}

		reconciler, err := order.NewReconciler(store,
			order.WithTracerProvider(m.TracerProvider()),
			order.WithMeterProvider(m.MeterProvider()),
		)
		if err != nil {
			return errors.Wrap(err, "create reconciler")
		}
		n, err := reconciler.ExpirePending(ctx, cutoff, limit)
		if err != nil {
			return errors.Wrap(err, "expire pending orders")
		}
		lg.Info("Sweep complete", zap.Int("expired", n))
		return nil
	})
}
