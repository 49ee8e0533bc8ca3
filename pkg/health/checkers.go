package health

import (
	"context"
	"runtime"

	"github.com/go-faster/errors"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck reports the Ping result of a database pool.
func PingCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		if err := p.Ping(ctx); err != nil {
			return errors.Wrap(err, "ping")
		}
		return nil
	}
}

// StatusCmd is the subset of a go-redis command result the checks need.
type StatusCmd interface {
	Err() error
}

// RedisCheck adapts a go-redis Ping call, e.g.
//
//	health.RedisCheck(func(ctx context.Context) health.StatusCmd { return client.Ping(ctx) })
func RedisCheck(ping func(ctx context.Context) StatusCmd) CheckFunc {
	return func(ctx context.Context) error {
		if err := ping(ctx).Err(); err != nil {
			return errors.Wrap(err, "redis ping")
		}
		return nil
	}
}

// GoroutineCountCheck fails when more than threshold goroutines are running.
func GoroutineCountCheck(threshold int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > threshold {
			return errors.Errorf("goroutine count %d exceeds threshold %d", n, threshold)
		}
		return nil
	}
}
