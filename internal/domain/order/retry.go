package order

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// RetryPolicy bounds the automatic retry of ErrTransactionConflict.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy retries a conflicting transaction up to three times.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:     4,
	InitialInterval: 20 * time.Millisecond,
	MaxInterval:     200 * time.Millisecond,
}

// Do runs op until it succeeds, fails with an error other than
// ErrTransactionConflict, or the attempts are exhausted.
func (p RetryPolicy) Do(ctx context.Context, op func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	eb := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		eb.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		eb.MaxInterval = p.MaxInterval
	}
	eb.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(attempts-1)), ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrTransactionConflict) {
			return backoff.Permanent(err)
		}
		zctx.From(ctx).Warn("Transaction conflict",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Error(err),
		)
		return err
	}, b)
}
