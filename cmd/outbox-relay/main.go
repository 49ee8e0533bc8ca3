// Command outbox-relay publishes order events from the outbox table to Kafka.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/relay"
	"github.com/xenking/kart-checkout/internal/repository"
)

type config struct {
	DatabaseURL  string        `usage:"PostgreSQL connection URL (KART_DATABASE_URL or DATABASE_URL)"`
	KafkaBrokers string        `default:"localhost:9092" usage:"Comma separated Kafka brokers"`
	BatchSize    int           `default:"100" usage:"Records per fetch"`
	PollInterval time.Duration `default:"1s" usage:"Delay between outbox polls"`
}

func loadConfig() (*config, error) {
	var cfg config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "KART",
		SkipFlags: true,
		SkipFiles: true,
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set KART_DATABASE_URL or DATABASE_URL")
	}
	return &cfg, nil
}

func main() {
	once := flag.Bool("once", false, "drain the outbox once and exit")
	flag.Parse()

	app.Run(func(ctx context.Context, lg *zap.Logger, _ *app.Telemetry) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return errors.Wrap(err, "create db pool")
		}
		defer pool.Close()

		w, err := relay.NewKafkaWriter(cfg.KafkaBrokers)
		if err != nil {
			return err
		}
		defer func() {
			if err := w.Close(); err != nil {
				lg.Warn("Kafka writer close", zap.Error(err))
			}
		}()

		r := relay.New(repository.NewOutboxRepository(pool), relay.NewKafkaPublisher(w), relay.Config{
			BatchSize:    cfg.BatchSize,
			PollInterval: cfg.PollInterval,
		})
		if *once {
			n, err := r.Flush(ctx)
			if err != nil {
				return errors.Wrap(err, "flush outbox")
			}
			lg.Info("Outbox drained", zap.Int("sent", n))
			return nil
		}

		lg.Info("Relaying order events",
			zap.String("brokers", cfg.KafkaBrokers),
			zap.String("topic", repository.OrderEventsTopic),
		)
		return r.Run(ctx)
	})
}
